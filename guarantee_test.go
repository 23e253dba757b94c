package gar

import (
	"testing"
	"time"
)

func TestDefaultGuarantees(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	gs := DefaultGuarantees(now)

	want := map[GuaranteeType]time.Duration{
		GuaranteeMoneyBack:     30 * 24 * time.Hour,
		GuaranteeReplacement:   7 * 24 * time.Hour,
		GuaranteePartialRefund: 7 * 24 * time.Hour,
	}
	if len(gs) != len(want) {
		t.Fatalf("got %d guarantees, want %d", len(gs), len(want))
	}
	for _, g := range gs {
		validity, ok := want[g.Type]
		if !ok {
			t.Errorf("unexpected guarantee type %s", g.Type)
			continue
		}
		if !g.ValidUntil.Equal(now.Add(validity)) {
			t.Errorf("%s valid until %v, want %v", g.Type, g.ValidUntil, now.Add(validity))
		}
		if g.Description == "" || g.Conditions == "" {
			t.Errorf("%s is missing its description or conditions", g.Type)
		}
	}
}

func TestDefaultGuarantees_FreshSlice(t *testing.T) {
	now := time.Now()
	a := DefaultGuarantees(now)
	a[0].Description = "changed"
	if DefaultGuarantees(now)[0].Description == "changed" {
		t.Error("DefaultGuarantees shares state between calls")
	}
}
