// Package filter implements the per-listing acceptance rules applied to new
// listings before any notification is sent.
//
// Rules are AND-ed and each one is disabled by its zero config value. Fields
// the upstream did not supply never cause a rejection on their own, except
// where a rule explicitly requires a known value (payment verification,
// minimum spend).
package filter

import (
	"time"

	"jobwatch/internal/domain"
)

// Rule is a single acceptance predicate.
type Rule func(l domain.Listing, cfg domain.FilterConfig, now time.Time) bool

// Rules are evaluated in this order.
var Rules = []Rule{
	MaxAge,
	VerifiedPayment,
	MinSpend,
	ExcludedCountry,
}

// Accept reports whether l passes every rule.
func Accept(l domain.Listing, cfg domain.FilterConfig, now time.Time) bool {
	for _, rule := range Rules {
		if !rule(l, cfg, now) {
			return false
		}
	}
	return true
}

// Jobs returns the accepted listings in input order.
func Jobs(listings []domain.Listing, cfg domain.FilterConfig, now time.Time) []domain.Listing {
	accepted := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if Accept(l, cfg, now) {
			accepted = append(accepted, l)
		}
	}
	return accepted
}

func MaxAge(l domain.Listing, cfg domain.FilterConfig, now time.Time) bool {
	if cfg.MaxAgeMinutes <= 0 || !l.HasPublishedAt() {
		return true
	}
	maxAge := time.Duration(cfg.MaxAgeMinutes) * time.Minute
	return now.Sub(*l.PublishedAt) <= maxAge
}

func VerifiedPayment(l domain.Listing, cfg domain.FilterConfig, _ time.Time) bool {
	if !cfg.RequireVerifiedPayment {
		return true
	}
	return l.ClientVerified != nil && *l.ClientVerified
}

func MinSpend(l domain.Listing, cfg domain.FilterConfig, _ time.Time) bool {
	if cfg.MinClientSpend <= 0 {
		return true
	}
	return l.ClientTotalSpend != nil && *l.ClientTotalSpend >= cfg.MinClientSpend
}

func ExcludedCountry(l domain.Listing, cfg domain.FilterConfig, _ time.Time) bool {
	if len(cfg.ExcludedCountries) == 0 || l.ClientCountry == "" {
		return true
	}
	country := NormalizeCountry(l.ClientCountry)
	for _, excluded := range cfg.ExcludedCountries {
		if n := NormalizeCountry(excluded); n != "" && n == country {
			return false
		}
	}
	return true
}
