package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/pkg/logger"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// DiscordSender is the part of *discordgo.Session the adapter uses.
type DiscordSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordConfig struct {
	Token     string
	ChannelID string
	Rate      float64
	Burst     int
}

// Discord posts signals as embeds to one channel.
type Discord struct {
	sender    DiscordSender
	channelID string
	limiter   *rate.Limiter
	logger    *logger.Logger
}

func NewDiscord(cfg DiscordConfig, lgr *logger.Logger) (*Discord, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	// the dispatcher owns retries
	session.ShouldRetryOnRateLimit = false
	return NewDiscordWithSender(session, cfg, lgr), nil
}

func NewDiscordWithSender(sender DiscordSender, cfg DiscordConfig, lgr *logger.Logger) *Discord {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &Discord{
		sender:    sender,
		channelID: cfg.ChannelID,
		limiter:   newLimiter(cfg.Rate, cfg.Burst),
		logger:    lgr,
	}
}

func (d *Discord) Destination() models.Destination { return models.DestinationDiscord }

func (d *Discord) Address() string { return d.channelID }

func (d *Discord) Send(ctx context.Context, sig models.Signal) (string, error) {
	if err := waitLimiter(ctx, d.Destination(), d.limiter); err != nil {
		return "", err
	}

	msg, err := d.sender.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{SignalEmbed(sig)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", d.classify(err)
	}

	id := ""
	if msg != nil {
		id = msg.ID
	}
	d.logger.Debug("discord message sent",
		logger.Int64("signal_id", sig.ID),
		logger.String("message_id", id))
	return "message_id=" + id, nil
}

func (d *Discord) classify(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return classifyStatus(d.Destination(), restErr.Response.StatusCode, err)
	}
	// returned instead of a RESTError when the session does not retry 429s
	var rlErr *discordgo.RateLimitError
	if errors.As(err, &rlErr) {
		return classifyStatus(d.Destination(), http.StatusTooManyRequests, err)
	}
	return classifyUnknown(d.Destination(), err)
}

// SignalEmbed renders a signal as a Discord embed.
func SignalEmbed(sig models.Signal) *discordgo.MessageEmbed {
	color := 0x95a5a6
	switch sig.Direction {
	case models.DirectionBuy:
		color = 0x2ecc71
	case models.DirectionSell:
		color = 0xe74c3c
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Entry", Value: formatPrice(sig.EntryPrice), Inline: true},
		{Name: "Confidence", Value: formatConfidence(sig.Confidence), Inline: true},
	}
	if sig.TargetPrice != nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Target", Value: formatPrice(*sig.TargetPrice), Inline: true})
	}
	if sig.StopLoss != nil {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Stop loss", Value: formatPrice(*sig.StopLoss), Inline: true})
	}

	ts := sig.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s %s %s", directionIcon(sig.Direction), sig.Direction, sig.Symbol),
		Description: sig.AIReasoning,
		Color:       color,
		Fields:      fields,
		Timestamp:   ts.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Signal #%d", sig.ID)},
	}
}

var _ domrepo.DestinationAdapter = (*Discord)(nil)
