package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"
	"SignalHub/pkg/logger"
	"SignalHub/pkg/mailbox"

	"golang.org/x/time/rate"
)

var errNotActionable = errors.New("signal direction is not actionable")

type PollingConfig struct {
	Terminals   []string
	MagicNumber int64
	Rate        float64
	Burst       int
}

// Polling queues orders in the mailbox of every configured trading terminal.
// Terminals collect them through the poll endpoint.
type Polling struct {
	box       mailbox.Mailbox
	terminals []string
	magic     int64
	limiter   *rate.Limiter
	logger    *logger.Logger
	now       func() time.Time
}

func NewPolling(box mailbox.Mailbox, cfg PollingConfig, lgr *logger.Logger) (*Polling, error) {
	if box == nil {
		return nil, errors.New("polling adapter: mailbox is nil")
	}
	if len(cfg.Terminals) == 0 {
		return nil, errors.New("polling adapter: no terminals configured")
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &Polling{
		box:       box,
		terminals: append([]string(nil), cfg.Terminals...),
		magic:     cfg.MagicNumber,
		limiter:   newLimiter(cfg.Rate, cfg.Burst),
		logger:    lgr,
		now:       time.Now,
	}, nil
}

func (p *Polling) Destination() models.Destination { return models.DestinationMT45 }

func (p *Polling) Address() string { return strings.Join(p.terminals, ",") }

func (p *Polling) Send(ctx context.Context, sig models.Signal) (string, error) {
	dest := p.Destination()
	if !sig.Direction.Actionable() {
		return "", domrepo.Terminal(dest, "not_actionable", fmt.Errorf("%w: %s", errNotActionable, sig.Direction))
	}
	payload, err := json.Marshal(NewTerminalOrder(sig, p.magic, p.now()))
	if err != nil {
		return "", domrepo.Terminal(dest, "encode", err)
	}
	if err := waitLimiter(ctx, dest, p.limiter); err != nil {
		return "", err
	}

	depths := make([]string, 0, len(p.terminals))
	for _, term := range p.terminals {
		depth, err := p.box.Push(ctx, term, payload)
		if err != nil {
			if errors.Is(err, mailbox.ErrClosed) {
				return "", domrepo.Terminal(dest, "closed", err)
			}
			return "", classifyUnknown(dest, fmt.Errorf("push %s: %w", term, err))
		}
		depths = append(depths, fmt.Sprintf("%s:%d", term, depth))
	}

	p.logger.Debug("terminal order queued",
		logger.Int64("signal_id", sig.ID),
		logger.Strings("terminals", p.terminals))
	return "queued " + strings.Join(depths, ","), nil
}

var _ domrepo.DestinationAdapter = (*Polling)(nil)
