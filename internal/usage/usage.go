// Package usage counts evaluations per instrument and risk tier.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-clinical/bedside/internal/domain"
)

// DefaultWindow is used when the service is created with a zero window.
const DefaultWindow = 24 * time.Hour

// Service records evaluation counts in fixed windows on the cache.
// Counters carry instrument ids and tier labels only.
type Service struct {
	cache  domain.Cache
	window time.Duration
}

// TierCount is the number of evaluations that landed in one tier.
type TierCount struct {
	Tier  string `json:"tier"`
	Count int64  `json:"count"`
}

// Usage is the counter snapshot for one instrument.
type Usage struct {
	InstrumentID string      `json:"instrumentId"`
	Window       string      `json:"window"`
	Total        int64       `json:"total"`
	Tiers        []TierCount `json:"tiers"`
}

// NewService creates a new usage service.
func NewService(cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		cache:  cache,
		window: window,
	}
}

// Window returns the counting window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Record increments the instrument total and the counter of the evaluation's tier.
func (s *Service) Record(ctx context.Context, eval *domain.Evaluation) error {
	if eval == nil || eval.InstrumentID == "" {
		return fmt.Errorf("evaluation with instrument id is required")
	}

	if _, err := s.cache.IncrementCounter(ctx, totalKey(eval.InstrumentID), s.window); err != nil {
		return fmt.Errorf("failed to increment usage counter: %w", err)
	}
	if _, err := s.cache.IncrementCounter(ctx, tierKey(eval.InstrumentID, eval.Tier.Label), s.window); err != nil {
		return fmt.Errorf("failed to increment tier counter: %w", err)
	}
	return nil
}

// Counts returns the current window's counters for every tier of the instrument,
// in tier order. Tiers without evaluations report zero.
func (s *Service) Counts(ctx context.Context, inst *domain.Instrument) (*Usage, error) {
	total, err := s.cache.GetCounter(ctx, totalKey(inst.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to read usage counter: %w", err)
	}

	u := &Usage{
		InstrumentID: inst.ID,
		Window:       s.window.String(),
		Total:        total,
		Tiers:        make([]TierCount, 0, len(inst.Tiers)),
	}
	for _, tier := range inst.Tiers {
		n, err := s.cache.GetCounter(ctx, tierKey(inst.ID, tier.Label))
		if err != nil {
			return nil, fmt.Errorf("failed to read tier counter: %w", err)
		}
		u.Tiers = append(u.Tiers, TierCount{Tier: tier.Label, Count: n})
	}
	return u, nil
}

func totalKey(instrumentID string) string {
	return "usage:" + instrumentID
}

func tierKey(instrumentID, tier string) string {
	return "usage:" + instrumentID + ":tier:" + tier
}
