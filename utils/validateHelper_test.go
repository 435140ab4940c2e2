package utils

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"owner@glow.example", true},
		{"  owner@glow.example  ", true},
		{"", false},
		{"   ", false},
		{"owner", false},
		{"owner@", false},
	}
	for _, tt := range tests {
		if got := IsValidEmail(tt.in); got != tt.want {
			t.Fatalf("IsValidEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsValidE164(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"+15015550100", true},
		{"+447911123456", true},
		{"15015550100", false},
		{"+0123456789", false},
		{"+1 501 555 0100", false},
		{"+1", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidE164(tt.in); got != tt.want {
			t.Fatalf("IsValidE164(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestProcessValidationErrors(t *testing.T) {
	type payload struct {
		UserId int `validate:"required"`
	}
	err := validator.New().Struct(payload{})
	got := ProcessValidationErrors(err)
	if got["UserId"] != "required" {
		t.Fatalf("errors = %v", got)
	}

	got = ProcessValidationErrors(errors.New("unexpected EOF"))
	if got["request"] != "unexpected EOF" {
		t.Fatalf("errors = %v", got)
	}
}

func TestKeyHelpers(t *testing.T) {
	if IntOrNone(nil) != "none" || IntOrNone(NewInt(7)) != "7" {
		t.Fatalf("IntOrNone mismatch")
	}
	if StringOrNone(NewString("  ")) != "none" || StringOrNone(NewString(" a->b ")) != "a->b" {
		t.Fatalf("StringOrNone mismatch")
	}
	if OptionalString("  ") != nil {
		t.Fatalf("OptionalString should drop blanks")
	}
	if got := Truncate("abcdefgh", 6); got != "abc..." {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("abc", 6); got != "abc" {
		t.Fatalf("Truncate = %q", got)
	}
}
