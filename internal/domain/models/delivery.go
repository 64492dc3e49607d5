package models

import "time"

// Destination identifies an external channel. The set is open; the ones
// shipped with the hub are listed below.
type Destination string

const (
	DestinationTelegram Destination = "telegram" // chat bot
	DestinationDiscord  Destination = "discord"  // messaging bot
	DestinationMT45     Destination = "mt45"     // polling store for MT4/MT5 terminals
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySent || s == DeliveryFailed
}

func (s DeliveryStatus) Valid() bool {
	return s == DeliveryPending || s.Terminal()
}

// DeliveryRecord is one attempt to push one signal to one destination.
type DeliveryRecord struct {
	ID                 int64          `json:"id"`
	SignalID           int64          `json:"signalId"`
	Destination        Destination    `json:"destination"`
	DestinationAddress string         `json:"destinationId,omitempty"`
	Attempt            int            `json:"attempt"`
	Status             DeliveryStatus `json:"status"`
	Response           *string        `json:"response,omitempty"`
	Error              *string        `json:"error,omitempty"`
	SentAt             time.Time      `json:"sentAt"`
}

func (r DeliveryRecord) Clone() DeliveryRecord {
	if r.Response != nil {
		v := *r.Response
		r.Response = &v
	}
	if r.Error != nil {
		v := *r.Error
		r.Error = &v
	}
	return r
}

// DeliveryFilter selects ledger records. Zero values match everything.
type DeliveryFilter struct {
	SignalID    int64
	Destination Destination
	Status      DeliveryStatus
	Limit       int
}

func (f DeliveryFilter) Match(r DeliveryRecord) bool {
	if f.SignalID != 0 && r.SignalID != f.SignalID {
		return false
	}
	if f.Destination != "" && r.Destination != f.Destination {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Newer orders records by SentAt descending, ties broken by ID descending.
func Newer(a, b DeliveryRecord) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.After(b.SentAt)
	}
	return a.ID > b.ID
}

// DestinationHealth summarises the latest attempts against a destination.
type DestinationHealth struct {
	Destination Destination    `json:"destination"`
	Address     string         `json:"address,omitempty"`
	LastStatus  DeliveryStatus `json:"lastStatus,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	LastAt      time.Time      `json:"lastAt,omitempty"`
	Sent        uint64         `json:"sent"`
	Failed      uint64         `json:"failed"`
}
