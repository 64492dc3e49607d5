package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/pkg/logger"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// TelegramSender is the part of *tele.Bot the adapter uses.
type TelegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type TelegramConfig struct {
	Token   string
	ChatID  int64
	Rate    float64
	Burst   int
	Timeout time.Duration
}

// Telegram posts signals as HTML messages to one chat.
type Telegram struct {
	sender  TelegramSender
	chat    *tele.Chat
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewTelegram connects to the Bot API, which validates the token.
func NewTelegram(cfg TelegramConfig, lgr *logger.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, cfg, lgr), nil
}

func NewTelegramWithSender(sender TelegramSender, cfg TelegramConfig, lgr *logger.Logger) *Telegram {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &Telegram{
		sender:  sender,
		chat:    &tele.Chat{ID: cfg.ChatID},
		limiter: newLimiter(cfg.Rate, cfg.Burst),
		logger:  lgr,
	}
}

func (t *Telegram) Destination() models.Destination { return models.DestinationTelegram }

func (t *Telegram) Address() string { return strconv.FormatInt(t.chat.ID, 10) }

func (t *Telegram) Send(ctx context.Context, sig models.Signal) (string, error) {
	if err := waitLimiter(ctx, t.Destination(), t.limiter); err != nil {
		return "", err
	}

	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := t.sender.Send(t.chat, SignalHTML(sig), &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		done <- result{msg, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", t.classify(r.err)
		}
		id := 0
		if r.msg != nil {
			id = r.msg.ID
		}
		t.logger.Debug("telegram message sent",
			logger.Int64("signal_id", sig.ID),
			logger.Int("message_id", id))
		return fmt.Sprintf("message_id=%d", id), nil
	case <-ctx.Done():
		return "", classifyUnknown(t.Destination(), ctx.Err())
	}
}

func (t *Telegram) classify(err error) error {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return classifyStatus(t.Destination(), apiErr.Code, err)
	}
	return classifyUnknown(t.Destination(), err)
}

var _ domrepo.DestinationAdapter = (*Telegram)(nil)
