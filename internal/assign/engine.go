// Package assign runs the batch pass that hands pending events to
// cross-area evaluators, balancing outstanding workload.
package assign

import (
	"context"
	"fmt"

	"github.com/djtdigital/jornada/internal/models"
	"go.uber.org/zap"
)

// Store is the slice of the repository the engine works against.
// PendingEvents returns submitted, unassigned events oldest first;
// EvaluatorPool returns eligible evaluators in a stable order with
// live workloads; AssignEvaluator persists one assignment and is
// guarded so an already-assigned event is never re-assigned.
type Store interface {
	TryBatchLock(ctx context.Context) (release func(), acquired bool, err error)
	PendingEvents(ctx context.Context) ([]models.Event, error)
	EvaluatorPool(ctx context.Context) ([]models.Evaluator, error)
	AssignEvaluator(ctx context.Context, eventID, evaluatorID string) error
}

type Engine struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// AssignPending runs one batch pass. Runs are serialized behind an
// advisory lock; a losing invocation returns an empty result. The pass
// is idempotent: already-assigned events are excluded by the pending
// query, so re-running with no new events assigns nothing.
func (e *Engine) AssignPending(ctx context.Context) (models.AssignmentResult, error) {
	var result models.AssignmentResult

	release, acquired, err := e.store.TryBatchLock(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to acquire batch lock: %w", err)
	}
	if !acquired {
		e.logger.Info("assignment batch already running, skipping")
		return result, nil
	}
	defer release()

	events, err := e.store.PendingEvents(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load pending events: %w", err)
	}
	pool, err := e.store.EvaluatorPool(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load evaluator pool: %w", err)
	}

	result.Considered = len(events)
	e.logger.Info("assignment batch started",
		zap.Int("pending_events", len(events)),
		zap.Int("pool_size", len(pool)))

	for _, event := range events {
		idx := e.pick(pool, event)
		if idx < 0 {
			// No cross-area evaluator available: leave the event
			// unassigned for a later run or operator intervention.
			result.Skipped++
			e.logger.Warn("no eligible evaluator for event",
				zap.String("event_id", event.ID),
				zap.String("coord_id", event.CoordID),
				zap.String("division_id", event.DivisionID))
			continue
		}

		evaluator := pool[idx].UserID
		if err := e.store.AssignEvaluator(ctx, event.ID, evaluator); err != nil {
			// Per-event isolation: one failed persist never aborts
			// the rest of the batch.
			result.Failed++
			e.logger.Error("failed to persist assignment",
				zap.String("event_id", event.ID),
				zap.String("evaluator_id", evaluator),
				zap.Error(err))
			continue
		}

		// Bump the in-memory counter immediately so load balances
		// within this batch, not just across runs.
		pool[idx].Workload++
		result.Assigned++
		result.Pairs = append(result.Pairs, models.AssignmentPair{
			EventID:     event.ID,
			EvaluatorID: evaluator,
		})
	}

	e.logger.Info("assignment batch finished",
		zap.Int("considered", result.Considered),
		zap.Int("assigned", result.Assigned),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result, nil
}

// pick returns the index of the least-loaded eligible evaluator, or -1.
// Eligibility requires a different coordination AND a different
// division from the event's origin, and never the submitter. Ties keep
// the first candidate in pool order.
func (e *Engine) pick(pool []models.Evaluator, event models.Event) int {
	best := -1
	for i := range pool {
		cand := &pool[i]
		if cand.UserID == event.SubmitterID {
			continue
		}
		if cand.CoordID == event.CoordID || cand.DivisionID == event.DivisionID {
			continue
		}
		if best < 0 || cand.Workload < pool[best].Workload {
			best = i
		}
	}
	return best
}
