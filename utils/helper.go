package utils

import (
	"strconv"
	"strings"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func NewString(s string) *string {
	return &s
}

func NewInt(i int) *int {
	return &i
}

func DereferencePtr[T any](ptr *T, defaultValue T) T {
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

// IntOrNone renders an optional id for composite keys.
func IntOrNone(v *int) string {
	if v == nil {
		return "none"
	}
	return strconv.Itoa(*v)
}

// StringOrNone renders an optional label for composite keys; blank counts as absent.
func StringOrNone(v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "none"
	}
	return strings.TrimSpace(*v)
}

// OptionalString returns nil for blank input.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Truncate shortens s to at most max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
