// Package delivery sends filtered ticket digests to per-tenant chat
// destinations. Sends are paced by a shared rate limiter; there is no
// transport-level retry beyond that pacing.
package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"deskrelay/internal/config"
	"deskrelay/internal/ticket"
	logx "deskrelay/pkg/logx"
)

// Target is one chat destination.
type Target struct {
	ChatID   int64
	ThreadID int
}

// ChatSender is the narrow transport surface; tests inject a fake.
type ChatSender interface {
	SendText(ctx context.Context, to Target, text string) error
}

// Service formats and paces outbound digests.
type Service struct {
	chat    ChatSender
	limiter *rate.Limiter
	chunk   int
	log     logx.Logger
}

func New(cfg config.DeliveryConfig, chat ChatSender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = 10
	}
	return &Service{
		chat:    chat,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		chunk:   chunk,
		log:     log,
	}
}

// Deliver sends the admitted tickets of one tenant, chunked so each
// message stays within chat size limits. The first failed send aborts
// the tenant's delivery; the orchestrator records it as that tenant's
// failure and moves on.
func (s *Service) Deliver(ctx context.Context, tenant config.Tenant, ts []ticket.Ticket) error {
	if len(ts) == 0 {
		return nil
	}
	if s.chat == nil {
		return errors.New("chat transport not configured")
	}

	to := Target{ChatID: tenant.ChatID, ThreadID: tenant.ThreadID}
	start := time.Now()
	sent := 0

	for begin := 0; begin < len(ts); begin += s.chunk {
		end := min(begin+s.chunk, len(ts))

		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		text := Digest(tenant.DisplayName(), ts[begin:end], begin, len(ts))
		if err := s.chat.SendText(ctx, to, text); err != nil {
			s.log.Warn("digest send failed",
				logx.String("tenant", tenant.ID),
				logx.Int64("chat_id", to.ChatID),
				logx.Int("thread_id", to.ThreadID),
				logx.Err(err),
			)
			return err
		}
		sent++
	}

	s.log.Debug("digest delivered",
		logx.String("tenant", tenant.ID),
		logx.Int("tickets", len(ts)),
		logx.Int("messages", sent),
		logx.Duration("dur", time.Since(start)),
	)
	return nil
}

// ---- Telegram transport ----

type telegramSender struct {
	bot *tele.Bot
}

// NewTelegram builds the real transport. The token is an opaque secret
// from the environment.
func NewTelegram(token string) (ChatSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b}, nil
}

func (t *telegramSender) SendText(ctx context.Context, to Target, text string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	chat := &tele.Chat{ID: to.ChatID}
	_, err := t.bot.Send(chat, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              to.ThreadID,
	})
	return err
}
