// Package rabbitmq is the broker channel: every notification is published
// as a persistent JSON message so other tooling can consume it.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"jobwatch/internal/domain"
	"jobwatch/internal/notify"
	"jobwatch/internal/source/upwork"
)

const (
	ActionListing = "listing"
	ActionError   = "error"
)

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

type Publisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger = logger.With("component", "rabbitmq")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &Publisher{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

func declare(ch *amqp.Channel, cfg Config) error {
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if cfg.QueueName == "" {
		return nil
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Event is the message body published for each notification.
type Event struct {
	Action    string          `json:"action"` // "listing" or "error"
	Feed      string          `json:"feed,omitempty"`
	Listing   *ListingPayload `json:"listing,omitempty"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
}

type ListingPayload struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	URL              string     `json:"url,omitempty"`
	PublishedAt      *time.Time `json:"publishedAt,omitempty"`
	Compensation     string     `json:"compensation"`
	Amount           float64    `json:"amount,omitempty"`
	HourlyMin        float64    `json:"hourlyMin,omitempty"`
	HourlyMax        float64    `json:"hourlyMax,omitempty"`
	ClientTotalSpend *float64   `json:"clientTotalSpend,omitempty"`
	ClientVerified   *bool      `json:"clientVerified,omitempty"`
	ClientCountry    string     `json:"clientCountry,omitempty"`
	Skills           []string   `json:"skills,omitempty"`
	Description      string     `json:"description,omitempty"`
}

func NewEvent(msg notify.Message) Event {
	ev := Event{
		Action:    ActionListing,
		Feed:      msg.Feed,
		Text:      msg.Text,
		Timestamp: msg.Time.UTC(),
	}
	if msg.Kind == notify.KindError {
		ev.Action = ActionError
	}
	if msg.Listing != nil {
		ev.Listing = payloadFor(*msg.Listing)
	}
	return ev
}

func payloadFor(l domain.Listing) *ListingPayload {
	p := &ListingPayload{
		ID:               l.ID,
		Title:            l.Title,
		PublishedAt:      l.PublishedAt,
		Compensation:     l.Compensation.Kind.String(),
		Amount:           l.Compensation.Amount,
		HourlyMin:        l.Compensation.HourlyMin,
		HourlyMax:        l.Compensation.HourlyMax,
		ClientTotalSpend: l.ClientTotalSpend,
		ClientVerified:   l.ClientVerified,
		ClientCountry:    l.ClientCountry,
		Skills:           l.Skills,
		Description:      l.Description,
	}
	p.URL = upwork.JobURL(l.ExternalRef)
	return p
}

func (p *Publisher) Name() string { return "rabbitmq" }

func (p *Publisher) Send(ctx context.Context, msg notify.Message) error {
	ev := NewEvent(msg)

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal message: %w", domain.ErrDeliveryFailure, err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("%w: publish message: %w", domain.ErrDeliveryFailure, err)
	}

	p.logger.Debug("published notification",
		"action", ev.Action,
		"feed", ev.Feed,
	)

	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
