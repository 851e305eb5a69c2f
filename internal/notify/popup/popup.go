// Package popup is the local alert channel. It writes each notification to a
// terminal and can ring the bell.
package popup

import (
	"context"
	"fmt"
	"io"
	"sync"

	"jobwatch/internal/domain"
	"jobwatch/internal/notify"
)

type Config struct {
	Bell bool
}

type Channel struct {
	mu   sync.Mutex
	w    io.Writer
	bell bool
}

func New(w io.Writer, cfg Config) *Channel {
	return &Channel{w: w, bell: cfg.Bell}
}

func (c *Channel) Name() string { return "popup" }

func (c *Channel) Send(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := ""
	if c.bell {
		prefix = "\a"
	}
	ts := msg.Time.Format("15:04:05")
	if _, err := fmt.Fprintf(c.w, "%s[%s] %s\n    %s\n", prefix, ts, msg.Title, msg.Text); err != nil {
		return fmt.Errorf("%w: write popup: %w", domain.ErrDeliveryFailure, err)
	}
	return nil
}
