// Package upwork fetches job feeds from the Upwork GraphQL API and maps them
// onto domain.Listing.
package upwork

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jobwatch/internal/domain"
)

const (
	DefaultBaseURL = "https://www.upwork.com/api/graphql/v1"
	JobURLPrefix   = "https://www.upwork.com/jobs/"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Source is a Feed Client for Upwork. It makes exactly one request per Fetch
// and never retries.
type Source struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Source {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: baseURL,
		logger:  logger.With("component", "upwork"),
	}
}

// Fetch retrieves one page of feed. Every failure is a *domain.FetchError.
func (s *Source) Fetch(ctx context.Context, feed domain.FeedSelector, cred domain.Credential) (*domain.FeedPage, error) {
	q, ok := queryFor(feed)
	if !ok {
		return nil, domain.NewMalformed(fmt.Sprintf("unknown feed %q", feed))
	}

	body, err := json.Marshal(graphQLRequest{Query: q.query, Variables: q.variables})
	if err != nil {
		return nil, domain.NewMalformed("encode request: " + err.Error())
	}

	resp, err := s.doRequest(ctx, body, cred.Token)
	if err != nil {
		return nil, err
	}

	results, ok := resp.Data[q.field]
	if !ok || results == nil {
		if len(resp.Errors) > 0 {
			return nil, domain.NewMalformed(resp.Errors[0].Message)
		}
		return nil, domain.NewMalformed("response has no " + q.field)
	}
	if len(resp.Errors) > 0 {
		s.logger.Warn("partial graphql response", "feed", feed, "error", resp.Errors[0].Message)
	}

	listings := s.transform(results.Results)

	s.logger.Debug("fetched feed",
		"feed", feed,
		"listings", len(listings),
	)

	return &domain.FeedPage{
		Feed:        feed,
		DisplayName: feed.DisplayName(),
		Listings:    listings,
	}, nil
}

func (s *Source) doRequest(ctx context.Context, body []byte, token string) (*graphQLResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewNetworkError("create request: " + err.Error())
	}

	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, domain.NewAuthExpired("Authentication failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, domain.NewHTTPError(resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var gql graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewNetworkError(err.Error())
		}
		return nil, domain.NewMalformed("decode response: " + err.Error())
	}

	return &gql, nil
}

func (s *Source) transform(jobs []rawJob) []domain.Listing {
	listings := make([]domain.Listing, 0, len(jobs))

	for _, j := range jobs {
		if j.ID == "" {
			s.logger.Warn("skipping listing without id", "title", j.Title)
			continue
		}

		l := domain.Listing{
			ID:          string(j.ID),
			Title:       j.Title,
			Description: j.Description,
			ExternalRef: j.Ciphertext,
			Skills:      skillNames(j),
			Details: domain.Details{
				Duration:       normalizeDuration(j.Duration),
				ContractorTier: firstNonEmpty(j.TierText, j.ContractorTier),
				ProposalsTier:  j.ProposalsTier,
				ConnectPrice:   int(j.ConnectPrice.Value),
			},
		}

		if j.PublishedOn != "" {
			if t, err := time.Parse(time.RFC3339, j.PublishedOn); err == nil {
				l.PublishedAt = &t
			} else {
				s.logger.Debug("failed to parse publish time",
					"id", j.ID,
					"published_on", j.PublishedOn,
				)
			}
		}

		switch j.Type {
		case jobTypeFixed:
			l.Compensation = domain.FixedPrice(j.Amount.Value)
		case jobTypeHourly:
			if j.HourlyBudget != nil {
				l.Compensation = domain.HourlyRange(j.HourlyBudget.Min.Value, j.HourlyBudget.Max.Value)
			} else {
				l.Compensation = domain.Compensation{Kind: domain.CompensationHourly}
			}
		}

		if c := j.Client; c != nil {
			if c.TotalSpent.Valid {
				spend := c.TotalSpent.Value
				l.ClientTotalSpend = &spend
			}
			if c.PaymentVerificationStatus.Set {
				verified := c.PaymentVerificationStatus.Verified
				l.ClientVerified = &verified
			}
			if c.Location != nil {
				l.ClientCountry = c.Location.Country
			}
			l.Details.ClientHires = int(c.TotalHires.Value)
			l.Details.ClientReviews = int(c.TotalReviews.Value)
			l.Details.ClientFeedback = c.TotalFeedback.Value
		}

		listings = append(listings, l)
	}

	return listings
}

func skillNames(j rawJob) []string {
	attrs := j.Attrs
	if len(attrs) == 0 {
		attrs = j.Skills
	}
	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if name := strings.TrimSpace(a.PrettyName); name != "" {
			names = append(names, name)
		}
	}
	return names
}

var durations = map[string]string{
	"MONTH":         "Less than 1 month",
	"MONTHS_3":      "1 to 3 months",
	"MONTHS_6":      "3 to 6 months",
	"MONTHS_6_PLUS": "More than 6 months",
}

func normalizeDuration(d string) string {
	if label, ok := durations[d]; ok {
		return label
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// JobURL is the public page of a listing.
func JobURL(externalRef string) string {
	if externalRef == "" {
		return ""
	}
	return JobURLPrefix + externalRef
}
