package logging

import "testing"

func TestNewProductionLogger(t *testing.T) {
	log, err := New(Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("hello")
}

func TestNewDevelopmentLogger(t *testing.T) {
	log, err := New(Options{Development: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.V(1).Info("debug visible in dev mode")
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "not-a-level"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
