package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"jobwatch/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestTimeAgo(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago   time.Duration
		long  string
		short string
	}{
		{45 * time.Second, "45 seconds ago", "45s ago"},
		{time.Minute, "1 minute ago", "1m ago"},
		{3 * time.Minute, "3 minutes ago", "3m ago"},
		{time.Hour, "1 hour ago", "1h ago"},
		{2 * time.Hour, "2 hours ago", "2h ago"},
		{26 * time.Hour, "1 day ago", "1d ago"},
		{72 * time.Hour, "3 days ago", "3d ago"},
		{-time.Minute, "0 seconds ago", "0s ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.long, TimeAgo(now.Add(-tt.ago), now))
		assert.Equal(t, tt.short, ShortTimeAgo(now.Add(-tt.ago), now))
	}
}

func TestCompactSpend(t *testing.T) {
	assert.Equal(t, "$0", CompactSpend(0))
	assert.Equal(t, "$950", CompactSpend(950))
	assert.Equal(t, "$12.5", CompactSpend(12.5))
	assert.Equal(t, "$1k", CompactSpend(1000))
	assert.Equal(t, "$1.2k", CompactSpend(1234))
	assert.Equal(t, "$3M", CompactSpend(3_000_000))
	assert.Equal(t, "$2.5M", CompactSpend(2_500_000))
}

func TestFormatMarkdown_Full(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := domain.Listing{
		ID:               "1",
		Title:            "Go_dev",
		PublishedAt:      ptr(now.Add(-5 * time.Minute)),
		Compensation:     domain.HourlyRange(15, 30),
		ClientTotalSpend: ptr(1234.0),
		ClientVerified:   ptr(true),
		ClientCountry:    "Germany",
		Skills:           []string{"a", "b", "c", "d", "e", "f", "g"},
		Description:      strings.Repeat("x", 600),
		ExternalRef:      "~01abc",
		Details: domain.Details{
			Duration:       "1 to 3 months",
			ContractorTier: "Expert",
			ProposalsTier:  "5 to 10",
			ConnectPrice:   8,
			ClientHires:    3,
			ClientReviews:  2,
			ClientFeedback: 4.5,
		},
	}

	msg := FormatMarkdown(l, "Best Match", now)

	assert.True(t, strings.HasPrefix(msg, "🗂 Best Match\n\n💼 Go\\_dev\n\n"))
	assert.Contains(t, msg, "🕒 Posted: _5 minutes ago_\n")
	assert.Contains(t, msg, "🪙 Connect Price: _8 connects_\n")
	assert.Contains(t, msg, "💰 Budget: _$15 - $30 / hr_\n")
	assert.Contains(t, msg, "📄 Type: _Hourly_\n")
	assert.Contains(t, msg, "🌍 Country: _Germany_\n")
	assert.Contains(t, msg, "💳 Total Spent: _$1.2k_\n")
	assert.Contains(t, msg, "✅ Payment verified\n")
	assert.Contains(t, msg, "⭐️ Feedback Score: _4.5_\n")
	assert.Contains(t, msg, "🛠 Skills: _a, b, c, d, e, f..._\n")
	assert.Contains(t, msg, "_"+strings.Repeat("x", 500)+"..._\n")
	assert.True(t, strings.HasSuffix(msg, "🔗 Link: https://www.upwork.com/jobs/~01abc"))
}

func TestFormatMarkdown_Minimal(t *testing.T) {
	msg := FormatMarkdown(domain.Listing{ID: "1", Compensation: domain.FixedPrice(0)}, "My Feed", time.Now())

	assert.Equal(t, "🗂 My Feed\n\n💼 No Title\n\n📄 Type: _Fixed price_\n", msg)
	assert.NotContains(t, msg, "Posted")
	assert.NotContains(t, msg, "Budget")
	assert.NotContains(t, msg, "Payment")
}

func TestFormatMarkdown_FixedBudgetAndUnverified(t *testing.T) {
	l := domain.Listing{ID: "1", Title: "t", Compensation: domain.FixedPrice(500), ClientVerified: ptr(false)}
	msg := FormatMarkdown(l, "x", time.Now())
	assert.Contains(t, msg, "💰 Budget: _$500_\n")
	assert.Contains(t, msg, "❌ Payment not verified\n")
}

func TestPopupRenderer(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := PopupRenderer{}

	msg := r.Listing(domain.Listing{ID: "1", Title: "Go dev", PublishedAt: ptr(now.Add(-3 * time.Minute))}, "Best Match", now)
	assert.Equal(t, "New Job • Best Match", msg.Title)
	assert.Equal(t, "3m ago • Go dev", msg.Text)

	msg = r.Listing(domain.Listing{ID: "2", Title: "No date"}, "Best Match", now)
	assert.Equal(t, "No date", msg.Text)
}
