package domain

import "time"

// Listing is the canonical record of one job feed item. Absent optional
// fields mean "unknown", never "excluded".
type Listing struct {
	ID               string
	Title            string
	PublishedAt      *time.Time
	Compensation     Compensation
	ClientTotalSpend *float64
	ClientVerified   *bool
	ClientCountry    string
	Skills           []string
	Description      string
	ExternalRef      string
	Details          Details
}

type CompensationKind int

const (
	CompensationUnknown CompensationKind = iota
	CompensationFixed
	CompensationHourly
)

func (k CompensationKind) String() string {
	switch k {
	case CompensationFixed:
		return "fixed"
	case CompensationHourly:
		return "hourly"
	default:
		return "unknown"
	}
}

// Compensation is a tagged variant; Amount is set for fixed-price listings,
// HourlyMin/HourlyMax for hourly ones.
type Compensation struct {
	Kind      CompensationKind
	Amount    float64
	HourlyMin float64
	HourlyMax float64
}

func FixedPrice(amount float64) Compensation {
	return Compensation{Kind: CompensationFixed, Amount: amount}
}

func HourlyRange(min, max float64) Compensation {
	return Compensation{Kind: CompensationHourly, HourlyMin: min, HourlyMax: max}
}

// Details holds presentation-only attributes. Nothing in the filter pipeline
// reads them.
type Details struct {
	Duration       string
	ContractorTier string
	ProposalsTier  string
	ConnectPrice   int
	ClientHires    int
	ClientReviews  int
	ClientFeedback float64
}

// HasPublishedAt reports whether the upstream supplied a publish time.
func (l Listing) HasPublishedAt() bool {
	return l.PublishedAt != nil && !l.PublishedAt.IsZero()
}

// FeedSelector names one of the known upstream feeds.
type FeedSelector string

const (
	FeedPrimary    FeedSelector = "primary"
	FeedBestMatch  FeedSelector = "bestMatch"
	FeedMostRecent FeedSelector = "mostRecent"
)

var feedDisplayNames = map[FeedSelector]string{
	FeedPrimary:    "My Feed",
	FeedBestMatch:  "Best Match",
	FeedMostRecent: "Most Recent",
}

// AllFeeds lists every known feed selector.
func AllFeeds() []FeedSelector {
	return []FeedSelector{FeedPrimary, FeedBestMatch, FeedMostRecent}
}

func (f FeedSelector) Valid() bool {
	_, ok := feedDisplayNames[f]
	return ok
}

func (f FeedSelector) DisplayName() string {
	if name, ok := feedDisplayNames[f]; ok {
		return name
	}
	return string(f)
}

// FeedPage is one fetched page, in upstream order.
type FeedPage struct {
	Feed        FeedSelector
	DisplayName string
	Listings    []Listing
}

// Classification is the Deduplication Store's verdict for one page.
type Classification struct {
	NewListings []Listing
	IsFirstRun  bool
}

// IDs returns the identifiers of listings, preserving order.
func IDs(listings []Listing) []string {
	ids := make([]string, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
	}
	return ids
}
