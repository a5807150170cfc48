package credential

import (
	"errors"
	"fmt"
)

// Kind classifies why no usable token could be resolved.
type Kind int

const (
	// NoIdentity means the caller is not signed in.
	NoIdentity Kind = iota + 1
	// NoProviderToken means the caller is signed in but Google access must
	// be re-authorized.
	NoProviderToken
)

func (k Kind) String() string {
	switch k {
	case NoIdentity:
		return "no_identity"
	case NoProviderToken:
		return "no_provider_token"
	default:
		return "unknown"
	}
}

var (
	ErrNoIdentity      = errors.New("not signed in")
	ErrNoProviderToken = errors.New("provider access must be re-authorized")
)

// AuthError is returned by Resolve when no token can be produced.
type AuthError struct {
	Kind Kind
	Err  error
}

func (e *AuthError) Error() string {
	msg := e.sentinel().Error()
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches ErrNoIdentity and ErrNoProviderToken by kind.
func (e *AuthError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *AuthError) sentinel() error {
	if e.Kind == NoIdentity {
		return ErrNoIdentity
	}
	return ErrNoProviderToken
}
