// Package telegram delivers notifications through a Telegram bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"jobwatch/internal/domain"
	"jobwatch/internal/notify"
)

const textLimit = 4096

type Config struct {
	Token  string
	ChatID int64
	// APIURL overrides the Bot API endpoint.
	APIURL  string
	Timeout time.Duration
}

type Channel struct {
	bot    *tele.Bot
	chat   *tele.Chat
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		bot:    b,
		chat:   &tele.Chat{ID: cfg.ChatID},
		logger: logger.With("component", "telegram"),
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Send delivers msg as one Telegram message. Listings are sent as Markdown;
// a listing longer than the message limit is sent as plain text instead,
// since cutting Markdown can leave an entity open and Telegram rejects the
// whole message.
func (c *Channel) Send(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
	}

	text := msg.Text
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if msg.Kind == notify.KindListing {
		opts.ParseMode = tele.ModeMarkdown
	}
	if utf8.RuneCountInString(text) > textLimit {
		if opts.ParseMode != tele.ModeDefault {
			opts.ParseMode = tele.ModeDefault
			text = unescapeMarkdown(text)
		}
		text = string([]rune(text)[:textLimit])
	}

	sent, err := c.bot.Send(c.chat, text, opts)
	if err != nil {
		return fmt.Errorf("%w: send telegram message: %w", domain.ErrDeliveryFailure, err)
	}
	c.logger.Debug("sent telegram message", "message_id", sent.ID, "kind", msg.Kind)
	return nil
}

// unescapeMarkdown drops the backslashes added in front of Markdown
// control characters.
func unescapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
