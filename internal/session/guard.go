// Package session decides whether a credential may be used for a poll.
package session

import (
	"time"

	"jobwatch/internal/domain"
)

// IsUsable reports whether cred can still be presented upstream at now.
// A credential is unusable from its expiry instant onward. A zero expiry
// means none is known; the upstream will reject the token when it lapses.
func IsUsable(cred domain.Credential, now time.Time) bool {
	if cred.Token == "" {
		return false
	}
	if cred.Expiry.IsZero() {
		return true
	}
	return now.Before(cred.Expiry)
}
