package gmail

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ProviderErrorKind classifies a Gmail failure that aborts a search.
type ProviderErrorKind int

const (
	// AuthRejected means Gmail refused the bearer token.
	AuthRejected ProviderErrorKind = iota + 1
	// Transport means Gmail could not be reached or a call failed.
	Transport
)

func (k ProviderErrorKind) String() string {
	switch k {
	case AuthRejected:
		return "auth_rejected"
	case Transport:
		return "transport"
	default:
		return "unknown"
	}
}

// ProviderError is returned by Search when the search as a whole fails.
type ProviderError struct {
	Kind ProviderErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gmail %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProviderMessage returns the message Gmail sent back, if any.
func (e *ProviderError) ProviderMessage() string {
	var apiErr *googleapi.Error
	if errors.As(e.Err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// IsAuthRejected reports whether err is a ProviderError of kind AuthRejected.
func IsAuthRejected(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == AuthRejected
}

// IsTokenRevoked reports whether Gmail rejected the token itself with a 401.
// Rate limits and server errors are rejections too but leave the token valid.
func IsTokenRevoked(err error) bool {
	if !IsAuthRejected(err) {
		return false
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized
}

// MessageFetchError is a single message that could not be fetched. It is
// logged and the message dropped; it never fails a search.
type MessageFetchError struct {
	ID  string
	Err error
}

func (e *MessageFetchError) Error() string {
	return fmt.Sprintf("fetching message %s: %v", e.ID, e.Err)
}

func (e *MessageFetchError) Unwrap() error {
	return e.Err
}
