package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"jobwatch/internal/domain"
	"jobwatch/internal/source/upwork"
)

const (
	ErrorTitle = "Upwork Job Alert - Error"

	maxSkills      = 6
	maxDescription = 500
)

// MarkdownRenderer produces Telegram legacy Markdown.
type MarkdownRenderer struct{}

func (MarkdownRenderer) Listing(l domain.Listing, feed string, now time.Time) Message {
	return Message{
		Kind:    KindListing,
		Title:   l.Title,
		Text:    FormatMarkdown(l, feed, now),
		Feed:    feed,
		Listing: &l,
		Time:    now,
	}
}

func (MarkdownRenderer) Error(message string, now time.Time) Message {
	return Message{
		Kind:  KindError,
		Title: ErrorTitle,
		Text:  ErrorTitle + "\n\n" + message + " !!!",
		Time:  now,
	}
}

// PopupRenderer produces the short title/body pair of a desktop alert.
type PopupRenderer struct{}

func (PopupRenderer) Listing(l domain.Listing, feed string, now time.Time) Message {
	body := l.Title
	if l.HasPublishedAt() {
		body = ShortTimeAgo(*l.PublishedAt, now) + " • " + l.Title
	}
	return Message{
		Kind:    KindListing,
		Title:   "New Job • " + feed,
		Text:    body,
		Feed:    feed,
		Listing: &l,
		Time:    now,
	}
}

func (PopupRenderer) Error(message string, now time.Time) Message {
	return Message{Kind: KindError, Title: ErrorTitle, Text: message, Time: now}
}

// FormatMarkdown renders the long listing message. Optional lines are left
// out when the value is unknown.
func FormatMarkdown(l domain.Listing, feed string, now time.Time) string {
	var b strings.Builder

	title := l.Title
	if title == "" {
		title = "No Title"
	}
	fmt.Fprintf(&b, "🗂 %s\n\n", escapeMarkdown(feed))
	fmt.Fprintf(&b, "💼 %s\n\n", escapeMarkdown(title))

	if l.HasPublishedAt() {
		fmt.Fprintf(&b, "🕒 Posted: _%s_\n", TimeAgo(*l.PublishedAt, now))
	}
	if l.Details.ConnectPrice > 0 {
		fmt.Fprintf(&b, "🪙 Connect Price: _%d connects_\n", l.Details.ConnectPrice)
	}

	switch c := l.Compensation; c.Kind {
	case domain.CompensationFixed:
		if c.Amount != 0 {
			fmt.Fprintf(&b, "💰 Budget: _$%s_\n", formatNumber(c.Amount))
		}
	case domain.CompensationHourly:
		if c.HourlyMin != 0 && c.HourlyMax != 0 {
			fmt.Fprintf(&b, "💰 Budget: _$%s - $%s / hr_\n", formatNumber(c.HourlyMin), formatNumber(c.HourlyMax))
		}
	}

	if d := l.Details.ProposalsTier; d != "" {
		fmt.Fprintf(&b, "📬 Proposals: _%s_\n", escapeMarkdown(d))
	}
	if d := l.Details.Duration; d != "" {
		fmt.Fprintf(&b, "⏳ Duration: _%s_\n", escapeMarkdown(d))
	}
	if d := l.Details.ContractorTier; d != "" {
		fmt.Fprintf(&b, "⚙️ Level: _%s_\n", escapeMarkdown(d))
	}
	switch l.Compensation.Kind {
	case domain.CompensationFixed:
		b.WriteString("📄 Type: _Fixed price_\n")
	case domain.CompensationHourly:
		b.WriteString("📄 Type: _Hourly_\n")
	}

	if l.ClientCountry != "" {
		fmt.Fprintf(&b, "\n🌍 Country: _%s_\n", escapeMarkdown(l.ClientCountry))
	}
	if l.ClientTotalSpend != nil {
		fmt.Fprintf(&b, "💳 Total Spent: _%s_\n", CompactSpend(*l.ClientTotalSpend))
	}
	if l.ClientVerified != nil {
		if *l.ClientVerified {
			b.WriteString("✅ Payment verified\n")
		} else {
			b.WriteString("❌ Payment not verified\n")
		}
	}
	if n := l.Details.ClientHires; n > 0 {
		fmt.Fprintf(&b, "👥 Total Hires: _%d_\n", n)
	}
	if n := l.Details.ClientReviews; n > 0 {
		fmt.Fprintf(&b, "📝 Reviews: _%d_\n", n)
	}
	if f := l.Details.ClientFeedback; f > 0 {
		fmt.Fprintf(&b, "⭐️ Feedback Score: _%s_\n", formatNumber(f))
	}

	if len(l.Skills) > 0 {
		skills := l.Skills
		more := ""
		if len(skills) > maxSkills {
			skills = skills[:maxSkills]
			more = "..."
		}
		fmt.Fprintf(&b, "\n🛠 Skills: _%s%s_\n", escapeMarkdown(strings.Join(skills, ", ")), more)
	}

	if desc := strings.TrimSpace(l.Description); desc != "" {
		b.WriteString("\n📝 Description:\n")
		fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(truncate(desc, maxDescription)))
	}

	if url := upwork.JobURL(l.ExternalRef); url != "" {
		fmt.Fprintf(&b, "\n🔗 Link: %s", url)
	}

	return b.String()
}

// TimeAgo is the long relative form: "45 seconds ago", "1 minute ago".
func TimeAgo(t, now time.Time) string {
	secs := int(now.Sub(t) / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%d seconds ago", secs)
	case secs < 3600:
		return plural(secs/60, "minute")
	case secs < 86400:
		return plural(secs/3600, "hour")
	default:
		return plural(secs/86400, "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s ago", n, unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// ShortTimeAgo is the compact relative form: "45s ago", "3m ago".
func ShortTimeAgo(t, now time.Time) string {
	secs := int(now.Sub(t) / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}

// CompactSpend formats a dollar amount as $950, $1.2k or $3M.
func CompactSpend(v float64) string {
	switch {
	case v >= 1_000_000:
		return "$" + oneDecimal(v/1_000_000) + "M"
	case v >= 1_000:
		return "$" + oneDecimal(v/1_000) + "k"
	default:
		return "$" + formatNumber(v)
	}
}

func oneDecimal(v float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
