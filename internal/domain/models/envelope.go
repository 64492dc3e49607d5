package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind tags the payload carried by an Envelope.
type Kind uint8

const (
	KindMarketTick Kind = iota + 1
	KindSignal
	KindLogLine
	KindBotHeartbeat
	KindTransmission
)

// Wire message types exchanged with dashboard clients.
const (
	WireMarketData      = "market_data"
	WireNewSignal       = "new_signal"
	WireNewLog          = "new_log"
	WireBotStatus       = "bot_status"
	WireNewTransmission = "new_transmission"
	WireInitialData     = "initial_data"
	WireError           = "error"
	WireEcho            = "echo"
)

var ErrUnknownKind = errors.New("unknown envelope type")

func (k Kind) String() string {
	switch k {
	case KindMarketTick:
		return "market_tick"
	case KindSignal:
		return "signal"
	case KindLogLine:
		return "log_line"
	case KindBotHeartbeat:
		return "bot_heartbeat"
	case KindTransmission:
		return "transmission"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) WireType() string {
	switch k {
	case KindMarketTick:
		return WireMarketData
	case KindSignal:
		return WireNewSignal
	case KindLogLine:
		return WireNewLog
	case KindBotHeartbeat:
		return WireBotStatus
	case KindTransmission:
		return WireNewTransmission
	}
	return ""
}

// Envelope is an immutable tagged union. Payloads are copied in and out so a
// published envelope can be shared by every subscriber queue.
type Envelope struct {
	kind       Kind
	producedAt time.Time

	tick   *MarketTick
	signal *Signal
	log    *LogLine
	bot    *BotStatus
	record *DeliveryRecord
}

func NewTickEnvelope(t MarketTick) Envelope {
	return Envelope{kind: KindMarketTick, producedAt: time.Now(), tick: &t}
}

func NewSignalEnvelope(s Signal) Envelope {
	c := s.Clone()
	return Envelope{kind: KindSignal, producedAt: time.Now(), signal: &c}
}

func NewLogEnvelope(l LogLine) Envelope {
	c := l.Clone()
	return Envelope{kind: KindLogLine, producedAt: time.Now(), log: &c}
}

func NewHeartbeatEnvelope(b BotStatus) Envelope {
	c := b.Clone()
	return Envelope{kind: KindBotHeartbeat, producedAt: time.Now(), bot: &c}
}

func NewTransmissionEnvelope(r DeliveryRecord) Envelope {
	c := r.Clone()
	return Envelope{kind: KindTransmission, producedAt: time.Now(), record: &c}
}

func (e Envelope) Kind() Kind            { return e.kind }
func (e Envelope) ProducedAt() time.Time { return e.producedAt }

func (e Envelope) Tick() (MarketTick, bool) {
	if e.kind != KindMarketTick {
		return MarketTick{}, false
	}
	return *e.tick, true
}

func (e Envelope) Signal() (Signal, bool) {
	if e.kind != KindSignal {
		return Signal{}, false
	}
	return e.signal.Clone(), true
}

func (e Envelope) Log() (LogLine, bool) {
	if e.kind != KindLogLine {
		return LogLine{}, false
	}
	return e.log.Clone(), true
}

func (e Envelope) Heartbeat() (BotStatus, bool) {
	if e.kind != KindBotHeartbeat {
		return BotStatus{}, false
	}
	return e.bot.Clone(), true
}

func (e Envelope) Transmission() (DeliveryRecord, bool) {
	if e.kind != KindTransmission {
		return DeliveryRecord{}, false
	}
	return e.record.Clone(), true
}

// Payload returns a copy of the carried entity, or nil for a zero Envelope.
func (e Envelope) Payload() any {
	switch e.kind {
	case KindMarketTick:
		return *e.tick
	case KindSignal:
		return e.signal.Clone()
	case KindLogLine:
		return e.log.Clone()
	case KindBotHeartbeat:
		return e.bot.Clone()
	case KindTransmission:
		return e.record.Clone()
	}
	return nil
}

func (e Envelope) Validate() error {
	switch e.kind {
	case KindMarketTick:
		return e.tick.Validate()
	case KindSignal:
		return e.signal.Validate()
	case KindLogLine:
		return e.log.Validate()
	case KindBotHeartbeat:
		return e.bot.Validate()
	case KindTransmission:
		if !e.record.Status.Terminal() {
			return fmt.Errorf("transmission %d: status %q not terminal", e.record.ID, e.record.Status)
		}
		return nil
	}
	return ErrUnknownKind
}

// WireMessage is the JSON frame sent to dashboard clients.
type WireMessage struct {
	Type      string     `json:"type"`
	Data      any        `json:"data,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// InitialData is the snapshot sent once when a client connects.
type InitialData struct {
	MarketData []MarketTick `json:"marketData"`
	Signals    []Signal     `json:"signals"`
	Logs       []LogLine    `json:"logs"`
	BotStatus  []BotStatus  `json:"botStatus"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.kind == 0 {
		return nil, ErrUnknownKind
	}
	return json.Marshal(WireMessage{Type: e.kind.WireType(), Data: e.Payload()})
}

// DecodeEnvelope parses a {type, data} frame into an Envelope.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var raw struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(raw.Data) == 0 {
		return Envelope{}, fmt.Errorf("decode envelope %q: data missing", raw.Type)
	}

	switch raw.Type {
	case WireMarketData:
		var t MarketTick
		if err := json.Unmarshal(raw.Data, &t); err != nil {
			return Envelope{}, fmt.Errorf("decode %s: %w", raw.Type, err)
		}
		return NewTickEnvelope(t), nil
	case WireNewSignal:
		var s Signal
		if err := json.Unmarshal(raw.Data, &s); err != nil {
			return Envelope{}, fmt.Errorf("decode %s: %w", raw.Type, err)
		}
		return NewSignalEnvelope(s), nil
	case WireNewLog:
		var l LogLine
		if err := json.Unmarshal(raw.Data, &l); err != nil {
			return Envelope{}, fmt.Errorf("decode %s: %w", raw.Type, err)
		}
		return NewLogEnvelope(l), nil
	case WireBotStatus:
		var b BotStatus
		if err := json.Unmarshal(raw.Data, &b); err != nil {
			return Envelope{}, fmt.Errorf("decode %s: %w", raw.Type, err)
		}
		return NewHeartbeatEnvelope(b), nil
	case WireNewTransmission:
		var r DeliveryRecord
		if err := json.Unmarshal(raw.Data, &r); err != nil {
			return Envelope{}, fmt.Errorf("decode %s: %w", raw.Type, err)
		}
		return NewTransmissionEnvelope(r), nil
	}
	return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, raw.Type)
}
