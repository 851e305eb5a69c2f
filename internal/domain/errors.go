package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAlreadyRunning    = errors.New("engine already running")
	ErrConfigInvalid     = errors.New("invalid config")
	ErrCredentialExpired = errors.New("credential expired")
	ErrFetchFailure      = errors.New("fetch failure")
	ErrDeliveryFailure   = errors.New("delivery failure")
)

type FetchErrorKind int

const (
	FetchAuthExpired FetchErrorKind = iota + 1
	FetchHTTP
	FetchNetwork
	FetchMalformed
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchAuthExpired:
		return "auth_expired"
	case FetchHTTP:
		return "http"
	case FetchNetwork:
		return "network"
	case FetchMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// FetchError is returned by feed clients. Status is only set for FetchHTTP.
type FetchError struct {
	Kind    FetchErrorKind
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchAuthExpired:
		return "authentication failed: " + e.Message
	case FetchHTTP:
		return fmt.Sprintf("status %d: %s", e.Status, e.Message)
	case FetchNetwork:
		return "network: " + e.Message
	case FetchMalformed:
		return "malformed payload: " + e.Message
	default:
		return e.Message
	}
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailure
}

func (e *FetchError) AuthExpired() bool { return e.Kind == FetchAuthExpired }

func NewAuthExpired(msg string) *FetchError {
	return &FetchError{Kind: FetchAuthExpired, Status: 401, Message: msg}
}

func NewHTTPError(status int, msg string) *FetchError {
	return &FetchError{Kind: FetchHTTP, Status: status, Message: msg}
}

func NewNetworkError(msg string) *FetchError {
	return &FetchError{Kind: FetchNetwork, Message: msg}
}

func NewMalformed(msg string) *FetchError {
	return &FetchError{Kind: FetchMalformed, Message: msg}
}

// IsAuthFailure reports whether err means the credential can no longer be
// used, either because it expired locally or the upstream rejected it.
func IsAuthFailure(err error) bool {
	if errors.Is(err, ErrCredentialExpired) {
		return true
	}
	var fe *FetchError
	return errors.As(err, &fe) && fe.AuthExpired()
}

type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every rejected config field.
type ValidationError struct {
	Fields []FieldError
}

func (v *ValidationError) Add(field, msg string) {
	v.Fields = append(v.Fields, FieldError{Field: field, Message: msg})
}

func (v *ValidationError) Empty() bool { return len(v.Fields) == 0 }

func (v *ValidationError) Error() string {
	parts := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

func (v *ValidationError) Is(target error) bool {
	return target == ErrConfigInvalid
}
