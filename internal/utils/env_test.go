package utils

import "testing"

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("TEST_INT_VAR", "42")
	if got := GetEnvAsInt("TEST_INT_VAR", 7, nil); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := GetEnvAsInt("TEST_INT_VAR_MISSING", 7, nil); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
	t.Setenv("TEST_INT_VAR_BAD", "not-a-number")
	if got := GetEnvAsInt("TEST_INT_VAR_BAD", 7, nil); got != 7 {
		t.Fatalf("expected default on parse failure, got %d", got)
	}
}
