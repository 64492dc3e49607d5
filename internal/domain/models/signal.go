package models

import (
	"errors"
	"fmt"
	"time"
)

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Actionable reports whether a terminal can open a position from the direction.
func (d Direction) Actionable() bool {
	return d == DirectionBuy || d == DirectionSell
}

type SignalStatus string

const (
	SignalPending   SignalStatus = "pending"
	SignalExecuted  SignalStatus = "executed"
	SignalCancelled SignalStatus = "cancelled"
)

// Signal is a trading recommendation produced upstream. The hub never
// changes its status.
type Signal struct {
	ID          int64        `json:"id"`
	Symbol      string       `json:"symbol"`
	Direction   Direction    `json:"signal"`
	Confidence  float64      `json:"confidence"`
	EntryPrice  float64      `json:"entryPrice"`
	TargetPrice *float64     `json:"targetPrice,omitempty"`
	StopLoss    *float64     `json:"stopLoss,omitempty"`
	Status      SignalStatus `json:"status"`
	AIReasoning string       `json:"aiReasoning,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Clone returns a copy that shares no pointers with s.
func (s Signal) Clone() Signal {
	out := s
	if s.TargetPrice != nil {
		v := *s.TargetPrice
		out.TargetPrice = &v
	}
	if s.StopLoss != nil {
		v := *s.StopLoss
		out.StopLoss = &v
	}
	return out
}

func (s Signal) Validate() error {
	if s.ID <= 0 {
		return errors.New("signal: id must be positive")
	}
	if s.Symbol == "" {
		return fmt.Errorf("signal %d: symbol empty", s.ID)
	}
	switch s.Direction {
	case DirectionBuy, DirectionSell, DirectionHold:
	default:
		return fmt.Errorf("signal %d: unknown direction %q", s.ID, s.Direction)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %d: confidence %v outside [0,1]", s.ID, s.Confidence)
	}
	switch s.Status {
	case SignalPending, SignalExecuted, SignalCancelled:
	default:
		return fmt.Errorf("signal %d: unknown status %q", s.ID, s.Status)
	}
	return nil
}

// SignalFilter narrows store listings.
type SignalFilter struct {
	Symbol string
	Status SignalStatus
	Page   int
	Limit  int
}
