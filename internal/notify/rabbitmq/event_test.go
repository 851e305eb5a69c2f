package rabbitmq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobwatch/internal/domain"
	"jobwatch/internal/notify"
)

func TestNewEvent_Listing(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.FixedZone("x", 3600))
	spend := 1500.0
	l := domain.Listing{
		ID:               "42",
		Title:            "Go dev",
		Compensation:     domain.FixedPrice(300),
		ClientTotalSpend: &spend,
		ExternalRef:      "~01abc",
	}
	msg := notify.MarkdownRenderer{}.Listing(l, "Best Match", now)

	ev := NewEvent(msg)
	assert.Equal(t, ActionListing, ev.Action)
	assert.Equal(t, "Best Match", ev.Feed)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	require.NotNil(t, ev.Listing)
	assert.Equal(t, "https://www.upwork.com/jobs/~01abc", ev.Listing.URL)
	assert.Equal(t, "fixed", ev.Listing.Compensation)

	body, err := json.Marshal(ev)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "listing", decoded["action"])
	assert.Contains(t, decoded, "text")
}

func TestNewEvent_Error(t *testing.T) {
	msg := notify.MarkdownRenderer{}.Error("Authentication failed", time.Now())

	ev := NewEvent(msg)
	assert.Equal(t, ActionError, ev.Action)
	assert.Nil(t, ev.Listing)
	assert.Contains(t, ev.Text, "Authentication failed")
}
