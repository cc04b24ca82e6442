package usage

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-clinical/bedside/internal/cache"
	"github.com/opensource-clinical/bedside/internal/domain"
)

func testInstrument() *domain.Instrument {
	return &domain.Instrument{
		ID: "ford",
		Tiers: []domain.RiskTier{
			{UpperBound: 3, Label: "Low"},
			{UpperBound: 6, Label: "Moderate"},
			{UpperBound: 10, Label: "High"},
		},
	}
}

func evalIn(tier string) *domain.Evaluation {
	return &domain.Evaluation{
		InstrumentID: "ford",
		Tier:         domain.RiskTier{Label: tier},
	}
}

func TestUsageService(t *testing.T) {
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(lru, time.Hour)
	ctx := context.Background()
	inst := testInstrument()

	t.Run("Empty", func(t *testing.T) {
		u, err := svc.Counts(ctx, inst)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.Total != 0 {
			t.Errorf("expected total 0, got %d", u.Total)
		}
		if len(u.Tiers) != 3 {
			t.Fatalf("expected 3 tiers, got %d", len(u.Tiers))
		}
		for _, tc := range u.Tiers {
			if tc.Count != 0 {
				t.Errorf("expected zero count for %s, got %d", tc.Tier, tc.Count)
			}
		}
	})

	t.Run("Record", func(t *testing.T) {
		for _, tier := range []string{"Low", "Low", "High"} {
			if err := svc.Record(ctx, evalIn(tier)); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		u, err := svc.Counts(ctx, inst)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if u.Total != 3 {
			t.Errorf("expected total 3, got %d", u.Total)
		}
		want := map[string]int64{"Low": 2, "Moderate": 0, "High": 1}
		for _, tc := range u.Tiers {
			if tc.Count != want[tc.Tier] {
				t.Errorf("tier %s: expected %d, got %d", tc.Tier, want[tc.Tier], tc.Count)
			}
		}
		if u.Tiers[0].Tier != "Low" || u.Tiers[2].Tier != "High" {
			t.Errorf("expected tiers in declaration order, got %+v", u.Tiers)
		}
		if u.Window != "1h0m0s" {
			t.Errorf("expected window 1h0m0s, got %s", u.Window)
		}
	})

	t.Run("RequiresInstrument", func(t *testing.T) {
		if err := svc.Record(ctx, &domain.Evaluation{}); err == nil {
			t.Error("expected error for evaluation without instrument id")
		}
		if err := svc.Record(ctx, nil); err == nil {
			t.Error("expected error for nil evaluation")
		}
	})
}

func TestUsageWindowExpiry(t *testing.T) {
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(lru, 50*time.Millisecond)
	ctx := context.Background()

	if err := svc.Record(ctx, evalIn("Moderate")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	u, err := svc.Counts(ctx, testInstrument())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Total != 0 {
		t.Errorf("expected counters to reset after the window, got %d", u.Total)
	}
}

func TestDefaultWindow(t *testing.T) {
	svc := NewService(cache.NewLRUCache(10), 0)
	if svc.Window() != DefaultWindow {
		t.Errorf("expected default window %v, got %v", DefaultWindow, svc.Window())
	}
}
