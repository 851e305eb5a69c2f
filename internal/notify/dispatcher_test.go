package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/internal/domain"
)

type recordingChannel struct {
	name string
	fail bool
	// busy is how long each Send takes.
	busy time.Duration

	mu    sync.Mutex
	msgs  []Message
	times []time.Time
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.times = append(c.times, time.Now())
	c.mu.Unlock()

	time.Sleep(c.busy)
	if c.fail {
		return errors.New("boom")
	}
	return nil
}

func (c *recordingChannel) received() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func (c *recordingChannel) titles() []string {
	msgs := c.received()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Listing != nil {
			out[i] = m.Listing.ID
		} else {
			out[i] = m.Title
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func cfgWith(kinds ...domain.ChannelKind) domain.FilterConfig {
	return domain.FilterConfig{NotifyChannels: kinds}
}

func jobs(ids ...string) []domain.Listing {
	out := make([]domain.Listing, len(ids))
	for i, id := range ids {
		out[i] = domain.Listing{ID: id, Title: "Job " + id}
	}
	return out
}

func TestDispatch_DeliversInOrderPerChannel(t *testing.T) {
	d := NewDispatcher(Config{}, testLogger())
	popup := &recordingChannel{name: "popup"}
	tg := &recordingChannel{name: "telegram"}
	d.Register(domain.ChannelLocalPopup, popup, PopupRenderer{})
	d.Register(domain.ChannelExternalMessaging, tg, MarkdownRenderer{})
	runDispatcher(t, d)

	n := d.Dispatch(jobs("A", "B", "C"), "Best Match", cfgWith(domain.ChannelLocalPopup, domain.ChannelExternalMessaging))
	assert.Equal(t, 6, n)

	require.Eventually(t, func() bool { return len(popup.received()) == 3 && len(tg.received()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C"}, popup.titles())
	assert.Equal(t, []string{"A", "B", "C"}, tg.titles())
	assert.Equal(t, "New Job • Best Match", popup.received()[0].Title)
	assert.Contains(t, tg.received()[0].Text, "🗂 Best Match")
}

func TestDispatch_OnlyEnabledChannels(t *testing.T) {
	d := NewDispatcher(Config{}, testLogger())
	popup := &recordingChannel{name: "popup"}
	tg := &recordingChannel{name: "telegram"}
	d.Register(domain.ChannelLocalPopup, popup, PopupRenderer{})
	d.Register(domain.ChannelExternalMessaging, tg, MarkdownRenderer{})
	runDispatcher(t, d)

	d.Dispatch(jobs("A"), "Best Match", cfgWith(domain.ChannelExternalMessaging, domain.ChannelBroker))

	require.Eventually(t, func() bool { return len(tg.received()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, popup.received())
}

func TestDispatch_NoChannels(t *testing.T) {
	d := NewDispatcher(Config{}, testLogger())
	assert.Zero(t, d.Dispatch(jobs("A"), "x", cfgWith()))
	assert.Zero(t, d.Dispatch(nil, "x", cfgWith(domain.ChannelLocalPopup)))
}

func TestDispatch_FailureDoesNotStopLaterItems(t *testing.T) {
	d := NewDispatcher(Config{}, testLogger())
	broken := &recordingChannel{name: "broken", fail: true}
	d.Register(domain.ChannelBroker, broken, MarkdownRenderer{})
	runDispatcher(t, d)

	d.Dispatch(jobs("A", "B"), "x", cfgWith(domain.ChannelBroker))
	require.Eventually(t, func() bool { return len(broken.received()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestDispatch_SpacesItems(t *testing.T) {
	delay := 40 * time.Millisecond
	d := NewDispatcher(Config{ItemDelay: delay}, testLogger())
	ch := &recordingChannel{name: "popup"}
	d.Register(domain.ChannelLocalPopup, ch, PopupRenderer{})
	runDispatcher(t, d)

	d.Dispatch(jobs("A", "B", "C"), "x", cfgWith(domain.ChannelLocalPopup))
	require.Eventually(t, func() bool { return len(ch.received()) == 3 }, 2*time.Second, 5*time.Millisecond)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i := 1; i < len(ch.times); i++ {
		assert.GreaterOrEqual(t, ch.times[i].Sub(ch.times[i-1]), delay-5*time.Millisecond)
	}
}

func TestDispatch_DelayFollowsSlowSends(t *testing.T) {
	delay := 40 * time.Millisecond
	busy := 60 * time.Millisecond
	d := NewDispatcher(Config{ItemDelay: delay}, testLogger())
	ch := &recordingChannel{name: "telegram", busy: busy}
	d.Register(domain.ChannelExternalMessaging, ch, MarkdownRenderer{})
	runDispatcher(t, d)

	d.Dispatch(jobs("A", "B", "C"), "x", cfgWith(domain.ChannelExternalMessaging))
	require.Eventually(t, func() bool { return len(ch.received()) == 3 }, 2*time.Second, 5*time.Millisecond)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i := 1; i < len(ch.times); i++ {
		assert.GreaterOrEqual(t, ch.times[i].Sub(ch.times[i-1]), busy+delay-5*time.Millisecond)
	}
}

func TestDispatch_MaxPerSecondCapsZeroDelay(t *testing.T) {
	d := NewDispatcher(Config{ItemDelay: 0, MaxPerSecond: 25}, testLogger())
	ch := &recordingChannel{name: "telegram"}
	d.Register(domain.ChannelExternalMessaging, ch, MarkdownRenderer{})
	runDispatcher(t, d)

	d.Dispatch(jobs("A", "B", "C"), "x", cfgWith(domain.ChannelExternalMessaging))
	require.Eventually(t, func() bool { return len(ch.received()) == 3 }, 2*time.Second, 5*time.Millisecond)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	// 25/s means one send every 40ms.
	assert.GreaterOrEqual(t, ch.times[2].Sub(ch.times[0]), 75*time.Millisecond)
}

func TestRegistered(t *testing.T) {
	d := NewDispatcher(Config{}, testLogger())
	d.Register(domain.ChannelLocalPopup, &recordingChannel{name: "popup"}, PopupRenderer{})

	assert.True(t, d.Registered(domain.ChannelLocalPopup))
	assert.False(t, d.Registered(domain.ChannelBroker))
}

func TestDispatch_QueueFullDrops(t *testing.T) {
	d := NewDispatcher(Config{QueueSize: 2}, testLogger())
	ch := &recordingChannel{name: "popup"}
	d.Register(domain.ChannelLocalPopup, ch, PopupRenderer{})

	// Not running, so nothing drains the queue.
	n := d.Dispatch(jobs("A", "B", "C"), "x", cfgWith(domain.ChannelLocalPopup))
	assert.Equal(t, 2, n)
}

func TestNotifyError(t *testing.T) {
	d := NewDispatcher(Config{}, testLogger())
	popup := &recordingChannel{name: "popup"}
	tg := &recordingChannel{name: "telegram"}
	d.Register(domain.ChannelLocalPopup, popup, PopupRenderer{})
	d.Register(domain.ChannelExternalMessaging, tg, MarkdownRenderer{})
	runDispatcher(t, d)

	d.NotifyError("Authentication failed", cfgWith(domain.ChannelExternalMessaging))

	require.Eventually(t, func() bool { return len(tg.received()) == 1 }, time.Second, 5*time.Millisecond)
	msg := tg.received()[0]
	assert.Equal(t, KindError, msg.Kind)
	assert.Nil(t, msg.Listing)
	assert.Equal(t, "Upwork Job Alert - Error\n\nAuthentication failed !!!", msg.Text)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, popup.received())
}

func TestNotifyError_FallsBackToAllChannels(t *testing.T) {
	d := NewDispatcher(Config{}, testLogger())
	popup := &recordingChannel{name: "popup"}
	d.Register(domain.ChannelLocalPopup, popup, PopupRenderer{})
	runDispatcher(t, d)

	d.NotifyError("boom", cfgWith())
	require.Eventually(t, func() bool { return len(popup.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ErrorTitle, popup.received()[0].Title)
	assert.Equal(t, "boom", popup.received()[0].Text)
}
