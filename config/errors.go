package config

import (
	"errors"
	"strings"
)

var (
	// ErrConflictingSetting reports that both the singular and plural form
	// of a list setting were supplied.
	ErrConflictingSetting = errors.New("config: conflicting setting")
	// ErrMissingRequired reports that a required setting resolved to nothing.
	ErrMissingRequired = errors.New("config: missing required setting")
)

// Kind classifies a configuration failure.
type Kind int

const (
	KindConflictingSetting Kind = iota + 1
	KindMissingRequired
)

func (k Kind) String() string {
	switch k {
	case KindConflictingSetting:
		return "ConflictingSetting"
	case KindMissingRequired:
		return "MissingRequired"
	default:
		return "Unknown"
	}
}

// Error is returned by Load. It names the offending keys so operators can
// fix their settings without guessing.
type Error struct {
	Kind   Kind
	Keys   []string
	Reason string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config: ")
	b.WriteString(e.Kind.String())
	if len(e.Keys) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Keys, ", "))
		b.WriteString(")")
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrConflictingSetting:
		return e.Kind == KindConflictingSetting
	case ErrMissingRequired:
		return e.Kind == KindMissingRequired
	}
	return false
}
