package models

import (
	"fmt"
	"time"
)

type BotState string

const (
	BotActive   BotState = "active"
	BotInactive BotState = "inactive"
	BotError    BotState = "error"
	BotLimited  BotState = "limited"
)

// BotStatus is the payload of a heartbeat. Only the latest per BotName is kept.
type BotStatus struct {
	BotName       string         `json:"botName"`
	Status        BotState       `json:"status"`
	LastHeartbeat time.Time      `json:"lastHeartbeat"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (b BotStatus) Clone() BotStatus {
	if b.Metadata == nil {
		return b
	}
	md := make(map[string]any, len(b.Metadata))
	for k, v := range b.Metadata {
		md[k] = v
	}
	b.Metadata = md
	return b
}

func (b BotStatus) Validate() error {
	if b.BotName == "" {
		return fmt.Errorf("bot status: name empty")
	}
	switch b.Status {
	case BotActive, BotInactive, BotError, BotLimited:
		return nil
	}
	return fmt.Errorf("bot %s: unknown status %q", b.BotName, b.Status)
}
