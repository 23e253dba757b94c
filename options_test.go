package gar

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.VerificationWindow != 48*time.Hour {
		t.Errorf("VerificationWindow = %v, want 48h", cfg.VerificationWindow)
	}
	if cfg.ReferenceAttempts != 5 {
		t.Errorf("ReferenceAttempts = %d, want 5", cfg.ReferenceAttempts)
	}
	if cfg.ConflictRetries != 3 {
		t.Errorf("ConflictRetries = %d, want 3", cfg.ConflictRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestApplyOptions(t *testing.T) {
	cfg := ApplyOptions(
		WithVerificationWindow(time.Hour),
		WithReferenceAttempts(2),
		WithConflictRetries(0),
		WithSweepInterval(time.Second),
		WithSweepBatchSize(10),
		WithSweepLockTTL(time.Minute),
		WithNotifyTimeout(2*time.Second),
		WithNotifyDedupTTL(time.Hour),
		WithCircuitThreshold(2),
		WithCircuitTimeout(5*time.Second),
		WithCircuitHalfOpenReqs(1),
	)

	if cfg.VerificationWindow != time.Hour || cfg.ReferenceAttempts != 2 || cfg.ConflictRetries != 0 {
		t.Errorf("engine options not applied: %+v", cfg)
	}
	if cfg.SweepInterval != time.Second || cfg.SweepBatchSize != 10 || cfg.SweepLockTTL != time.Minute {
		t.Errorf("sweep options not applied: %+v", cfg)
	}
	if cfg.NotifyTimeout != 2*time.Second || cfg.NotifyDedupTTL != time.Hour {
		t.Errorf("notify options not applied: %+v", cfg)
	}

	bc := cfg.ToBreakerConfig()
	if bc.Threshold != 2 || bc.Timeout != 5*time.Second || bc.HalfOpenMaxReqs != 1 {
		t.Errorf("ToBreakerConfig() = %+v", bc)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestWithConfig_Overrides(t *testing.T) {
	base := DefaultConfig()
	base.SweepBatchSize = 7
	cfg := ApplyOptions(WithSweepBatchSize(99), WithConfig(base))
	if cfg.SweepBatchSize != 7 {
		t.Errorf("SweepBatchSize = %d, want 7", cfg.SweepBatchSize)
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero window", WithVerificationWindow(0)},
		{"zero attempts", WithReferenceAttempts(0)},
		{"negative retries", WithConflictRetries(-1)},
		{"zero interval", WithSweepInterval(0)},
		{"zero batch", WithSweepBatchSize(0)},
		{"zero lock ttl", WithSweepLockTTL(0)},
		{"zero notify timeout", WithNotifyTimeout(0)},
		{"zero dedup ttl", WithNotifyDedupTTL(0)},
		{"zero threshold", WithCircuitThreshold(0)},
		{"zero circuit timeout", WithCircuitTimeout(0)},
		{"zero half-open", WithCircuitHalfOpenReqs(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ApplyOptions(tt.opt)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{VerificationWindow: time.Hour, SweepBatchSize: -3}.withDefaults()
	def := DefaultConfig()

	if cfg.VerificationWindow != time.Hour {
		t.Errorf("VerificationWindow = %v, explicit value lost", cfg.VerificationWindow)
	}
	if cfg.SweepBatchSize != def.SweepBatchSize || cfg.ReferenceAttempts != def.ReferenceAttempts || cfg.NotifyTimeout != def.NotifyTimeout {
		t.Errorf("unset fields not defaulted: %+v", cfg)
	}
	if cfg.ConflictRetries != 0 {
		t.Errorf("ConflictRetries = %d, zero must be kept", cfg.ConflictRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaulted config invalid: %v", err)
	}
}
