package main

import "testing"

func TestGetenvFallsBackToDefault(t *testing.T) {
	if got := getenv("FAKENODE_UNSET_TEST_VAR", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestGetenvHonorsEnv(t *testing.T) {
	t.Setenv("FAKENODE_LISTEN", ":9999")
	if got := getenv("FAKENODE_LISTEN", ":3030"); got != ":9999" {
		t.Errorf("expected :9999, got %s", got)
	}
}
