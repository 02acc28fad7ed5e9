package util

import "testing"

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if lvl := parseLevel("debug"); lvl.String() != "debug" {
		t.Errorf("parseLevel(debug) = %s, want debug", lvl)
	}
	if lvl := parseLevel("not-a-level"); lvl.String() != "info" {
		t.Errorf("parseLevel(garbage) = %s, want info", lvl)
	}
}

func TestNewLoggerBuilds(t *testing.T) {
	log, err := NewLogger("warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer log.Sync()
}
