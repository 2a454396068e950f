package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/goldenpath/internal/store"
)

// Policies picks recovery actions from learned (category, action) outcome
// counters and folds new outcomes back in.
type Policies struct {
	store  *store.Store
	logger *slog.Logger
}

// NewPolicies builds a Policies over the given store.
func NewPolicies(st *store.Store, logger *slog.Logger) *Policies {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policies{store: st, logger: logger}
}

// Suggest returns the best-ranked action for a crash category, or the
// category default when no learned policy has ever succeeded. Ranking is
// success ratio first, then attempt count, then action name so equal
// records resolve the same way every run.
func (p *Policies) Suggest(ctx context.Context, category string) (string, error) {
	policies, err := p.store.ListRecoveryPolicies(ctx, category)
	if err != nil {
		return "", fmt.Errorf("suggest recovery: %w", err)
	}

	candidates := policies[:0]
	for _, policy := range policies {
		if policy.Successes > 0 {
			candidates = append(candidates, policy)
		}
	}

	if len(candidates) == 0 {
		action := defaultAction(category)
		p.logger.Debug("no learned policy", "category", category, "default_action", action)
		return action, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.SuccessPerMille() != b.SuccessPerMille() {
			return a.SuccessPerMille() > b.SuccessPerMille()
		}
		if a.Attempts != b.Attempts {
			return a.Attempts > b.Attempts
		}
		return a.Action < b.Action
	})

	best := candidates[0]
	p.logger.Debug("learned policy selected",
		"category", category,
		"action", best.Action,
		"attempts", best.Attempts,
		"successes", best.Successes,
	)

	return best.Action, nil
}

// Record folds one recovery outcome into the learned counters. Dry runs are
// skipped: a simulated action proves nothing about whether it works.
func (p *Policies) Record(ctx context.Context, category, action string, outcome Outcome, now time.Time) error {
	if outcome.DryRun {
		return nil
	}

	if err := p.store.BumpRecoveryPolicy(ctx, category, action, outcome.Succeeded, now); err != nil {
		return fmt.Errorf("record recovery outcome: %w", err)
	}

	return nil
}
