package models

import (
	"errors"
	"fmt"
	"time"
)

// MarketTick is the latest price observation for one symbol.
type MarketTick struct {
	Symbol           string    `json:"symbol"`
	Price            float64   `json:"price"`
	Volume           float64   `json:"volume"`
	Change24h        float64   `json:"change24h"`
	ChangePercent24h float64   `json:"changePercent24h"`
	High24h          float64   `json:"high24h"`
	Low24h           float64   `json:"low24h"`
	Timestamp        time.Time `json:"timestamp"`
}

func (t MarketTick) Validate() error {
	if t.Symbol == "" {
		return errors.New("tick: symbol empty")
	}
	if t.Price < 0 || t.Volume < 0 {
		return fmt.Errorf("tick %s: negative price/volume", t.Symbol)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("tick %s: timestamp missing", t.Symbol)
	}
	return nil
}
