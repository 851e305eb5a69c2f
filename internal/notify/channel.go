// Package notify delivers accepted listings and error notices to the
// configured channels.
package notify

import (
	"context"
	"time"

	"jobwatch/internal/domain"
)

type MessageKind int

const (
	KindListing MessageKind = iota
	KindError
)

func (k MessageKind) String() string {
	if k == KindError {
		return "error"
	}
	return "listing"
}

// Message is one rendered notification. Listing is nil for error notices.
type Message struct {
	Kind    MessageKind
	Title   string
	Text    string
	Feed    string
	Listing *domain.Listing
	Time    time.Time
}

// Channel is an outbound delivery mechanism. Send is only ever called from
// one goroutine per channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Renderer turns domain values into channel-specific messages.
type Renderer interface {
	Listing(l domain.Listing, feed string, now time.Time) Message
	Error(message string, now time.Time) Message
}
