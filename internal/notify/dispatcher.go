package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jobwatch/internal/domain"
)

const (
	DefaultItemDelay    = time.Second
	DefaultQueueSize    = 256
	DefaultSendTimeout  = 15 * time.Second
	DefaultMaxPerSecond = 20
)

type Config struct {
	// ItemDelay is the pause after each send completes before the next one
	// on the same channel starts.
	ItemDelay time.Duration
	// MaxPerSecond caps sends per channel regardless of ItemDelay, keeping
	// bot APIs under their flood limits when ItemDelay is zero.
	MaxPerSecond float64
	QueueSize    int
	SendTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.ItemDelay < 0 {
		c.ItemDelay = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.MaxPerSecond <= 0 {
		c.MaxPerSecond = DefaultMaxPerSecond
	}
}

type route struct {
	kind    domain.ChannelKind
	ch      Channel
	render  Renderer
	queue   chan Message
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Dispatcher fans notifications out to registered channels. Each channel has
// its own FIFO queue and worker, so a slow channel never delays another and
// items on one channel are delivered in enqueue order, with ItemDelay between
// the end of one send and the start of the next.
//
// Dispatch and NotifyError never block on delivery. Failures are logged and
// otherwise ignored.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	routes map[domain.ChannelKind]*route
	order  []domain.ChannelKind
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	cfg.setDefaults()
	return &Dispatcher{
		cfg:    cfg,
		logger: logger.With("component", "notify"),
		now:    time.Now,
		routes: make(map[domain.ChannelKind]*route),
	}
}

// Register binds a channel kind to a delivery mechanism. It must be called
// before Run; registering a kind twice replaces it.
func (d *Dispatcher) Register(kind domain.ChannelKind, ch Channel, render Renderer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.routes[kind]; !ok {
		d.order = append(d.order, kind)
	}

	d.routes[kind] = &route{
		kind:    kind,
		ch:      ch,
		render:  render,
		queue:   make(chan Message, d.cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(d.cfg.MaxPerSecond), 1),
		logger:  d.logger.With("channel", ch.Name()),
	}
}

// Registered reports whether kind has a channel.
func (d *Dispatcher) Registered(kind domain.ChannelKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[kind]
	return ok
}

// Run starts one worker per registered channel and blocks until ctx is done.
// Channels must be registered before Run.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.RLock()
	routes := make([]*route, 0, len(d.order))
	for _, k := range d.order {
		routes = append(routes, d.routes[k])
	}
	d.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range routes {
		g.Go(func() error {
			d.work(ctx, r)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context, r *route) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.queue:
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			d.deliver(ctx, r, msg)
			if !d.pause(ctx) {
				return
			}
		}
	}
}

// pause waits ItemDelay. It reports false when ctx ended first.
func (d *Dispatcher) pause(ctx context.Context) bool {
	if d.cfg.ItemDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d.cfg.ItemDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *Dispatcher) deliver(ctx context.Context, r *route, msg Message) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	if err := r.ch.Send(sendCtx, msg); err != nil {
		r.logger.Warn("delivery failed",
			"kind", msg.Kind,
			"feed", msg.Feed,
			"error", err,
		)
		return
	}
	r.logger.Debug("delivered", "kind", msg.Kind, "feed", msg.Feed)
}

// Dispatch enqueues one message per listing on every channel enabled in cfg.
// It returns the number of messages enqueued.
func (d *Dispatcher) Dispatch(listings []domain.Listing, feed string, cfg domain.FilterConfig) int {
	if len(listings) == 0 {
		return 0
	}
	now := d.now()
	queued := 0
	for _, r := range d.selected(cfg.NotifyChannels) {
		for _, l := range listings {
			if d.enqueue(r, r.render.Listing(l, feed, now)) {
				queued++
			}
		}
	}
	return queued
}

// NotifyError enqueues message on every channel enabled in cfg, or on every
// registered channel when cfg enables none.
func (d *Dispatcher) NotifyError(message string, cfg domain.FilterConfig) {
	routes := d.selected(cfg.NotifyChannels)
	if len(cfg.NotifyChannels) == 0 {
		routes = d.all()
	}
	now := d.now()
	for _, r := range routes {
		d.enqueue(r, r.render.Error(message, now))
	}
}

func (d *Dispatcher) enqueue(r *route, msg Message) bool {
	select {
	case r.queue <- msg:
		return true
	default:
		r.logger.Warn("queue full, dropping notification", "kind", msg.Kind, "feed", msg.Feed)
		return false
	}
}

func (d *Dispatcher) selected(kinds []domain.ChannelKind) []*route {
	d.mu.RLock()
	defer d.mu.RUnlock()

	routes := make([]*route, 0, len(kinds))
	seen := make(map[domain.ChannelKind]bool, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true
		r, ok := d.routes[k]
		if !ok {
			d.logger.Warn("channel enabled but not configured", "channel", k)
			continue
		}
		routes = append(routes, r)
	}
	return routes
}

func (d *Dispatcher) all() []*route {
	d.mu.RLock()
	defer d.mu.RUnlock()

	routes := make([]*route, 0, len(d.order))
	for _, k := range d.order {
		routes = append(routes, d.routes[k])
	}
	return routes
}
