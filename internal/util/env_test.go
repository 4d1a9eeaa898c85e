package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("EVENTGATE_TEST_BOOL", "yes")
	if !ParseBoolEnv("EVENTGATE_TEST_BOOL", false) {
		t.Error("expected true for yes")
	}
	t.Setenv("EVENTGATE_TEST_BOOL", "off")
	if ParseBoolEnv("EVENTGATE_TEST_BOOL", true) {
		t.Error("expected false for off")
	}
	t.Setenv("EVENTGATE_TEST_BOOL", "maybe")
	if !ParseBoolEnv("EVENTGATE_TEST_BOOL", true) {
		t.Error("expected default for invalid value")
	}
	if ParseBoolEnv("EVENTGATE_TEST_BOOL_UNSET", false) {
		t.Error("expected default for unset variable")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("EVENTGATE_TEST_INT", "250")
	if got := ParseIntEnv("EVENTGATE_TEST_INT", 500); got != 250 {
		t.Errorf("expected 250, got %d", got)
	}
	t.Setenv("EVENTGATE_TEST_INT", "not a number")
	if got := ParseIntEnv("EVENTGATE_TEST_INT", 500); got != 500 {
		t.Errorf("expected default 500, got %d", got)
	}
	if got := ParseIntEnv("EVENTGATE_TEST_INT_UNSET", 500); got != 500 {
		t.Errorf("expected default 500 for unset, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("EVENTGATE_TEST_DUR", "45m")
	if got := ParseDurationEnv("EVENTGATE_TEST_DUR", time.Hour); got != 45*time.Minute {
		t.Errorf("expected 45m, got %v", got)
	}
	t.Setenv("EVENTGATE_TEST_DUR", "soon")
	if got := ParseDurationEnv("EVENTGATE_TEST_DUR", time.Hour); got != time.Hour {
		t.Errorf("expected default 1h, got %v", got)
	}
	if got := ParseDurationEnv("EVENTGATE_TEST_DUR_UNSET", time.Hour); got != time.Hour {
		t.Errorf("expected default 1h for unset, got %v", got)
	}
}
