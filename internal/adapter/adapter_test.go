package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/pkg/mailbox"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func f64(v float64) *float64 { return &v }

func testSignal() models.Signal {
	return models.Signal{
		ID:          42,
		Symbol:      "XAU/USD",
		Direction:   models.DirectionBuy,
		Confidence:  0.82,
		EntryPrice:  2034.5,
		TargetPrice: f64(2050),
		StopLoss:    f64(2020.25),
		Status:      models.SignalPending,
		AIReasoning: "breakout <above> range",
		CreatedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type fakeTelegram struct {
	to   tele.Recipient
	text string
	opts []interface{}
	err  error
}

func (f *fakeTelegram) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.to = to
	f.text, _ = what.(string)
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &tele.Message{ID: 77}, nil
}

func TestTelegramSendsHTML(t *testing.T) {
	fake := &fakeTelegram{}
	a := NewTelegramWithSender(fake, TelegramConfig{ChatID: -100123}, nil)

	resp, err := a.Send(context.Background(), testSignal())
	require.NoError(t, err)
	assert.Equal(t, "message_id=77", resp)
	assert.Equal(t, "-100123", a.Address())
	assert.Equal(t, models.DestinationTelegram, a.Destination())

	assert.Equal(t, "-100123", fake.to.Recipient())
	assert.Contains(t, fake.text, "<b>BUY XAU/USD</b>")
	assert.Contains(t, fake.text, "Entry: <code>2034.5</code>")
	assert.Contains(t, fake.text, "Stop loss: <code>2020.25</code>")
	assert.Contains(t, fake.text, "Confidence: 82%")
	assert.Contains(t, fake.text, "breakout &lt;above&gt; range")
	require.Len(t, fake.opts, 1)
	assert.Equal(t, tele.ModeHTML, fake.opts[0].(*tele.SendOptions).ParseMode)
}

func TestTelegramErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limited", &tele.Error{Code: 429, Description: "Too Many Requests"}, true},
		{"server error", &tele.Error{Code: 502, Description: "Bad Gateway"}, true},
		{"chat not found", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, false},
		{"forbidden", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked"}, false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewTelegramWithSender(&fakeTelegram{err: tt.err}, TelegramConfig{ChatID: 1}, nil)
			_, err := a.Send(context.Background(), testSignal())
			require.Error(t, err)

			var de *domrepo.DeliveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.retryable, de.Retryable)
			assert.Equal(t, tt.retryable, domrepo.IsRetryable(err))
		})
	}
}

func TestTelegramRateLimitHonoursContext(t *testing.T) {
	a := NewTelegramWithSender(&fakeTelegram{}, TelegramConfig{ChatID: 1, Rate: 0.001, Burst: 1}, nil)
	_, err := a.Send(context.Background(), testSignal())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.Send(ctx, testSignal())
	require.Error(t, err)
	assert.True(t, domrepo.IsRetryable(err))
}

type fakeDiscord struct {
	channel string
	data    *discordgo.MessageSend
	err     error
}

func (f *fakeDiscord) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.data = data
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Message{ID: "998877"}, nil
}

func TestDiscordSendsEmbed(t *testing.T) {
	fake := &fakeDiscord{}
	a := NewDiscordWithSender(fake, DiscordConfig{ChannelID: "chan-1"}, nil)

	resp, err := a.Send(context.Background(), testSignal())
	require.NoError(t, err)
	assert.Equal(t, "message_id=998877", resp)
	assert.Equal(t, "chan-1", fake.channel)

	require.Len(t, fake.data.Embeds, 1)
	embed := fake.data.Embeds[0]
	assert.Contains(t, embed.Title, "BUY XAU/USD")
	assert.Equal(t, 0x2ecc71, embed.Color)
	assert.Equal(t, "Signal #42", embed.Footer.Text)
	assert.Len(t, embed.Fields, 4)
	assert.Equal(t, "2025-03-01T12:00:00Z", embed.Timestamp)
}

func TestDiscordErrorClassification(t *testing.T) {
	rest := func(code int) error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: code, Status: http.StatusText(code)}}
	}
	rateLimited := &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{
		TooManyRequests: &discordgo.TooManyRequests{Bucket: "channels", RetryAfter: 2 * time.Second},
		URL:             "https://discord.com/api/v9/channels/c/messages",
	}}
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"too many requests", rest(429), true},
		{"unavailable", rest(503), true},
		{"unknown channel", rest(404), false},
		{"missing access", rest(403), false},
		{"transport", errors.New("dial tcp: timeout"), true},
		{"cancelled", context.Canceled, false},
		{"rate limited", rateLimited, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewDiscordWithSender(&fakeDiscord{err: tt.err}, DiscordConfig{ChannelID: "c"}, nil)
			_, err := a.Send(context.Background(), testSignal())
			require.Error(t, err)
			assert.Equal(t, tt.retryable, domrepo.IsRetryable(err))
		})
	}
}

func TestDiscordRateLimitReportsTooManyRequests(t *testing.T) {
	rl := &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{
		TooManyRequests: &discordgo.TooManyRequests{RetryAfter: time.Second},
		URL:             "https://discord.com/api/v9/channels/c/messages",
	}}
	a := NewDiscordWithSender(&fakeDiscord{err: rl}, DiscordConfig{ChannelID: "c"}, nil)

	_, err := a.Send(context.Background(), testSignal())
	require.Error(t, err)
	assert.True(t, domrepo.IsRetryable(err))
	assert.Contains(t, err.Error(), "429")
	var target *discordgo.RateLimitError
	assert.ErrorAs(t, err, &target)
}

func TestPollingQueuesOrderForEveryTerminal(t *testing.T) {
	box := mailbox.NewMemory()
	a, err := NewPolling(box, PollingConfig{Terminals: []string{"ea-1", "ea-2"}, MagicNumber: 20240101}, nil)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 5, 0, time.UTC) }

	resp, err := a.Send(context.Background(), testSignal())
	require.NoError(t, err)
	assert.Equal(t, "queued ea-1:1,ea-2:1", resp)
	assert.Equal(t, "ea-1,ea-2", a.Address())

	got, err := box.Pop(context.Background(), "ea-2", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	var order TerminalOrder
	require.NoError(t, json.Unmarshal(got[0], &order))
	assert.Equal(t, int64(42), order.SignalID)
	assert.Equal(t, "XAUUSD", order.Instrument)
	assert.Equal(t, "BUY", order.Action)
	assert.Equal(t, 2050.0, *order.TakeProfit)
	assert.Equal(t, 2020.25, *order.StopLoss)
	assert.Equal(t, int64(20240101), order.MagicNumber)
	assert.Equal(t, "SignalHub #42", order.Comment)
	assert.Equal(t, "2025-03-01T12:00:05Z", order.Timestamp)
}

func TestPollingRejectsHoldAsTerminal(t *testing.T) {
	box := mailbox.NewMemory()
	a, err := NewPolling(box, PollingConfig{Terminals: []string{"ea-1"}}, nil)
	require.NoError(t, err)

	sig := testSignal()
	sig.Direction = models.DirectionHold
	_, err = a.Send(context.Background(), sig)
	require.Error(t, err)
	assert.False(t, domrepo.IsRetryable(err))
	assert.True(t, strings.Contains(err.Error(), "not actionable"))

	d, _ := box.Depth(context.Background(), "ea-1")
	assert.Zero(t, d)
}

func TestPollingClosedMailboxIsTerminal(t *testing.T) {
	box := mailbox.NewMemory()
	require.NoError(t, box.Close())
	a, err := NewPolling(box, PollingConfig{Terminals: []string{"ea-1"}}, nil)
	require.NoError(t, err)

	_, err = a.Send(context.Background(), testSignal())
	require.Error(t, err)
	assert.False(t, domrepo.IsRetryable(err))
}

func TestNewPollingRequiresTerminals(t *testing.T) {
	_, err := NewPolling(mailbox.NewMemory(), PollingConfig{}, nil)
	assert.Error(t, err)
}
