package environment_test

import (
	"testing"

	"github.com/evebot/eve/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if got := environment.StringOr("TEST_STRING", "default"); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if got := environment.StringOr("TEST_STRING_MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestStringOr_EmptyCountsAsUnset(t *testing.T) {
	t.Setenv("TEST_STRING_EMPTY", "")
	if got := environment.StringOr("TEST_STRING_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for empty value, got %q", got)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("TEST_REQUIRED", "value")
	v, err := environment.RequiredString("TEST_REQUIRED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Errorf("expected %q, got %q", "value", v)
	}

	if _, err := environment.RequiredString("TEST_REQUIRED_MISSING"); err == nil {
		t.Error("expected error for missing variable, got nil")
	}
}
