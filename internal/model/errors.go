package model

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers branch on kind rather than error identity.
type Kind int

const (
	KindIO Kind = iota
	KindDecode
	KindRedirectPolicy
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindDecode:
		return "decode"
	case KindRedirectPolicy:
		return "redirect-policy"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

var (
	ErrTooManyRedirects        = errors.New("too many redirects")
	ErrRedirectWithoutLocation = errors.New("redirect without location")
	ErrNoBackend               = errors.New("no http backend available")
)

// Error is a classified failure from the fetch pipeline.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err yields nil.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind carried by err. Unclassified errors, cancellations and
// deadlines all report KindIO.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}
