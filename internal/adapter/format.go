package adapter

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"SignalHub/internal/domain/models"
)

func directionIcon(d models.Direction) string {
	switch d {
	case models.DirectionBuy:
		return "🟢"
	case models.DirectionSell:
		return "🔴"
	default:
		return "⚪"
	}
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatConfidence(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

// SignalHTML renders a signal as a Telegram HTML message.
func SignalHTML(sig models.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s %s</b>\n", directionIcon(sig.Direction), sig.Direction, html.EscapeString(sig.Symbol))
	fmt.Fprintf(&b, "Entry: <code>%s</code>\n", formatPrice(sig.EntryPrice))
	if sig.TargetPrice != nil {
		fmt.Fprintf(&b, "Target: <code>%s</code>\n", formatPrice(*sig.TargetPrice))
	}
	if sig.StopLoss != nil {
		fmt.Fprintf(&b, "Stop loss: <code>%s</code>\n", formatPrice(*sig.StopLoss))
	}
	fmt.Fprintf(&b, "Confidence: %s\n", formatConfidence(sig.Confidence))
	if sig.AIReasoning != "" {
		fmt.Fprintf(&b, "\n<i>%s</i>\n", html.EscapeString(sig.AIReasoning))
	}
	fmt.Fprintf(&b, "\n#signal%d", sig.ID)
	return b.String()
}

// TerminalOrder is the payload queued for MT4/MT5 expert advisors.
type TerminalOrder struct {
	SignalID    int64    `json:"signal_id"`
	Instrument  string   `json:"instrument"`
	Action      string   `json:"action"`
	EntryPrice  float64  `json:"entry_price"`
	StopLoss    *float64 `json:"stop_loss,omitempty"`
	TakeProfit  *float64 `json:"take_profit,omitempty"`
	Confidence  float64  `json:"confidence"`
	MagicNumber int64    `json:"magic_number"`
	Comment     string   `json:"comment"`
	Timestamp   string   `json:"timestamp"`
}

// NewTerminalOrder maps a signal to the expert advisor payload. Broker
// symbols carry no separators, so "XAU/USD" becomes "XAUUSD".
func NewTerminalOrder(sig models.Signal, magic int64, now time.Time) TerminalOrder {
	instrument := strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "").Replace(sig.Symbol))
	return TerminalOrder{
		SignalID:    sig.ID,
		Instrument:  instrument,
		Action:      string(sig.Direction),
		EntryPrice:  sig.EntryPrice,
		StopLoss:    sig.StopLoss,
		TakeProfit:  sig.TargetPrice,
		Confidence:  sig.Confidence,
		MagicNumber: magic,
		Comment:     fmt.Sprintf("SignalHub #%d", sig.ID),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}
