package server

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ConnectionLimit != 250 {
		t.Errorf("expected ConnectionLimit 250, got %d", cfg.ConnectionLimit)
	}
	if cfg.AdmissionMargin != 100 {
		t.Errorf("expected AdmissionMargin 100, got %d", cfg.AdmissionMargin)
	}
	if cfg.HysteresisGap != 10 {
		t.Errorf("expected HysteresisGap 10, got %d", cfg.HysteresisGap)
	}
}

func TestAdmissionCeiling(t *testing.T) {
	cfg := Config{ConnectionLimit: 250, AdmissionMargin: 100}
	if got := cfg.admissionCeiling(); got != 350 {
		t.Errorf("expected ceiling 350, got %d", got)
	}
}

func TestResumeThreshold(t *testing.T) {
	cfg := Config{ConnectionLimit: 25, HysteresisGap: 10}
	if got := cfg.resumeThreshold(); got != 15 {
		t.Errorf("expected resume threshold 15, got %d", got)
	}

	small := Config{ConnectionLimit: 5, HysteresisGap: 10}
	if got := small.resumeThreshold(); got != 0 {
		t.Errorf("expected resume threshold clamped to 0, got %d", got)
	}
}
