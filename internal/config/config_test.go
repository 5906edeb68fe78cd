package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "fast")
	_, err := envFloat("TEST_FLOAT_BAD", 1)
	if err == nil {
		t.Fatal("expected error for invalid float, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="fast" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("KIROKU_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid KIROKU_PORT")
	}
	if got := err.Error(); !strings.Contains(got, "KIROKU_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention KIROKU_PORT and value 'abc', got: %s", got)
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got: %v", err)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("KIROKU_PORT", "abc")
	t.Setenv("KIROKU_WINDOW_GAP", "two minutes")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "KIROKU_PORT") {
		t.Fatalf("error should mention KIROKU_PORT, got: %s", got)
	}
	if !strings.Contains(got, "KIROKU_WINDOW_GAP") {
		t.Fatalf("error should mention KIROKU_WINDOW_GAP, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.WindowGap != 2*time.Minute {
		t.Fatalf("expected default window gap 2m, got %s", cfg.WindowGap)
	}
	if cfg.CompareStrategy != "sessions" {
		t.Fatalf("expected default strategy sessions, got %s", cfg.CompareStrategy)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	t.Setenv("KIROKU_STORE", "mongo")
	t.Setenv("KIROKU_COMPARE_STRATEGY", "latest")
	_, err := Load()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	got := err.Error()
	for _, want := range []string{"KIROKU_STORE", "KIROKU_COMPARE_STRATEGY"} {
		if !strings.Contains(got, want) {
			t.Fatalf("error should mention %s, got: %s", want, got)
		}
	}
}

func TestValidateRequiresOpenRouterKey(t *testing.T) {
	t.Setenv("KIROKU_NARRATIVE_PROVIDER", "openrouter")
	t.Setenv("OPENROUTER_API_KEY", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "OPENROUTER_API_KEY") {
		t.Fatalf("expected OPENROUTER_API_KEY error, got: %v", err)
	}
}

func TestValidateWindowGapMustBePositive(t *testing.T) {
	t.Setenv("KIROKU_WINDOW_GAP", "-1s")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "KIROKU_WINDOW_GAP must be positive") {
		t.Fatalf("expected window gap error, got: %v", err)
	}
}
