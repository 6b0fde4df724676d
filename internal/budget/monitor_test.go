package budget

import (
	"errors"
	"testing"
)

func TestMonitorUnlimitedByDefault(t *testing.T) {
	t.Parallel()
	m := NewMonitor(Config{})
	if err := m.Add(123.45, 1_000_000); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.CheckTime(); err != nil {
		t.Fatalf("CheckTime: %v", err)
	}
}

func TestMonitorCostCap(t *testing.T) {
	t.Parallel()
	cap := 0.10
	m := NewMonitor(Config{MaxCostUSD: &cap})

	if err := m.Add(0.05, 10); err != nil {
		t.Fatalf("Add below cap: %v", err)
	}
	err := m.Add(0.06, 10)
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ErrExceeded, got %v", err)
	}
	if exceeded.Kind != "cost" {
		t.Fatalf("Kind = %q", exceeded.Kind)
	}
}

func TestMonitorTokenCap(t *testing.T) {
	t.Parallel()
	cap := int64(100)
	m := NewMonitor(Config{MaxTokens: &cap})

	if err := m.Add(0, 100); err != nil {
		t.Fatalf("Add at cap: %v", err)
	}
	err := m.Add(0, 1)
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ErrExceeded, got %v", err)
	}
	if exceeded.Kind != "tokens" {
		t.Fatalf("Kind = %q", exceeded.Kind)
	}
}

func TestMonitorUsage(t *testing.T) {
	t.Parallel()
	m := NewMonitor(Config{})
	_ = m.Add(0.01, 50)
	_ = m.Add(0.02, 70)

	cost, tokens := m.Usage()
	if cost < 0.0299 || cost > 0.0301 {
		t.Fatalf("cost = %v", cost)
	}
	if tokens != 120 {
		t.Fatalf("tokens = %d", tokens)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	bad := -1.0
	if err := (Config{MaxCostUSD: &bad}).Validate(); err == nil {
		t.Fatal("expected error for negative cost cap")
	}
	if err := (Config{}).Validate(); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}
}

func TestConfigClone(t *testing.T) {
	t.Parallel()
	cost := 1.0
	cfg := Config{MaxCostUSD: &cost}
	clone := cfg.Clone()
	*clone.MaxCostUSD = 2.0
	if *cfg.MaxCostUSD != 1.0 {
		t.Fatal("clone shares pointers with the original")
	}
}
