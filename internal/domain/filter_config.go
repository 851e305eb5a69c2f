package domain

import (
	"fmt"
	"slices"
	"time"
)

// MinPollIntervalSeconds is the upstream rate-limit floor for polling.
const MinPollIntervalSeconds = 20

// ChannelKind identifies an outbound notification mechanism.
type ChannelKind string

const (
	ChannelLocalPopup        ChannelKind = "local-popup"
	ChannelExternalMessaging ChannelKind = "external-messaging"
	ChannelBroker            ChannelKind = "broker"
)

func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelLocalPopup, ChannelExternalMessaging, ChannelBroker:
		return true
	}
	return false
}

// FilterConfig is the user-supplied snapshot an engine run is started with.
// It is treated as immutable for the duration of the run.
type FilterConfig struct {
	MaxAgeMinutes          int            `json:"maxAgeMinutes"`
	MinClientSpend         float64        `json:"minClientSpend"`
	RequireVerifiedPayment bool           `json:"requireVerifiedPayment"`
	ExcludedCountries      []string       `json:"excludedCountries,omitempty"`
	PollIntervalSeconds    int            `json:"pollIntervalSeconds"`
	FeedSelector           FeedSelector   `json:"feedSelector"`
	AlternateFeeds         []FeedSelector `json:"alternateFeeds,omitempty"`
	NotifyChannels         []ChannelKind  `json:"notifyChannels,omitempty"`
}

func (c FilterConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Feeds returns the rotation order: the selected feed first, then each
// alternate once.
func (c FilterConfig) Feeds() []FeedSelector {
	feeds := []FeedSelector{c.FeedSelector}
	for _, f := range c.AlternateFeeds {
		if !slices.Contains(feeds, f) {
			feeds = append(feeds, f)
		}
	}
	return feeds
}

func (c FilterConfig) HasChannel(kind ChannelKind) bool {
	return slices.Contains(c.NotifyChannels, kind)
}

// WithClampedInterval returns a copy whose poll interval is raised to the
// floor. The second result reports whether clamping happened.
func (c FilterConfig) WithClampedInterval() (FilterConfig, bool) {
	if c.PollIntervalSeconds >= MinPollIntervalSeconds {
		return c, false
	}
	c.PollIntervalSeconds = MinPollIntervalSeconds
	return c, true
}

// Validate reports every invalid option at once.
func (c FilterConfig) Validate() error {
	var v ValidationError

	if c.PollIntervalSeconds < MinPollIntervalSeconds {
		v.Add("pollIntervalSeconds", fmt.Sprintf("must be at least %d seconds to respect upstream rate limits, got %d", MinPollIntervalSeconds, c.PollIntervalSeconds))
	}
	if c.MaxAgeMinutes < 0 {
		v.Add("maxAgeMinutes", "cannot be negative")
	}
	if c.MinClientSpend < 0 {
		v.Add("minClientSpend", "cannot be negative")
	}
	if !c.FeedSelector.Valid() {
		v.Add("feedSelector", fmt.Sprintf("unknown feed %q", c.FeedSelector))
	}
	for _, f := range c.AlternateFeeds {
		if !f.Valid() {
			v.Add("alternateFeeds", fmt.Sprintf("unknown feed %q", f))
		}
	}
	for _, k := range c.NotifyChannels {
		if !k.Valid() {
			v.Add("notifyChannels", fmt.Sprintf("unknown channel %q", k))
		}
	}

	if v.Empty() {
		return nil
	}
	return &v
}
