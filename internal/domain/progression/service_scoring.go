package progression

import (
	"context"
	"fmt"
)

// recompute rebuilds one stage score from the ledger and refreshes the
// customer rollup. Running it twice without ledger changes writes the same row.
func (s *Service) recompute(ctx context.Context, tx TxStore, customer Customer, stage Stage, repID string) (StageScore, error) {
	tasks, err := tx.ListTasks(ctx, repID, stage.ID)
	if err != nil {
		return StageScore{}, err
	}
	assigned := s.resolver.Filter(customer, stage.ID, tasks)
	approved, err := tx.ApprovedTaskIDs(ctx, customer.ID, stage.ID)
	if err != nil {
		return StageScore{}, err
	}
	score := ComputeStageScore(customer.ID, stage, repID, assigned, approved, s.clock.Now())

	prev, found, err := tx.GetStageScore(ctx, customer.ID, stage.ID, repID)
	if err != nil {
		return StageScore{}, err
	}
	if found {
		if score.Status == ScoreStatusCompleted && prev.Status == ScoreStatusCompleted && prev.CompletedAt != nil {
			score.CompletedAt = prev.CompletedAt
		}
		if score.Status != ScoreStatusCompleted && prev.Status == ScoreStatusSkipped {
			score.Status = ScoreStatusSkipped
		}
	}
	if err := tx.UpsertStageScore(ctx, score); err != nil {
		return StageScore{}, err
	}

	scores, err := tx.ListStageScores(ctx, customer.ID)
	if err != nil {
		return StageScore{}, err
	}
	if err := tx.UpdateCustomerPoints(ctx, customer.ID, ComputeRollup(scores)); err != nil {
		return StageScore{}, err
	}
	return score, nil
}

// RecomputeScore rebuilds the score of (customer, stage, rep). An empty repID
// means the customer's owning rep.
func (s *Service) RecomputeScore(ctx context.Context, customerID, stageID int64, repID string) (StageScore, error) {
	if customerID <= 0 || stageID <= 0 {
		return StageScore{}, fmt.Errorf("%w: customerId and stageId are required", ErrValidation)
	}
	var score StageScore
	err := s.store.InTx(ctx, func(tx TxStore) error {
		customer, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		stage, err := tx.GetStage(ctx, stageID)
		if err != nil {
			return err
		}
		rep := repID
		if rep == "" {
			rep = customer.OwnerID
		}
		score, err = s.recompute(ctx, tx, customer, stage, rep)
		return err
	})
	if err != nil {
		return StageScore{}, err
	}
	s.inc("score_recomputes")
	return score, nil
}

// SweepScores recomputes the current-stage score of every customer still in
// progress. Each customer gets its own transaction; failures are counted and
// logged so one bad row does not stop the sweep.
func (s *Service) SweepScores(ctx context.Context) (SweepResult, error) {
	customers, err := s.store.ListCustomersInProgress(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Customers: len(customers)}
	for _, c := range customers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if c.CurrentStageID == nil {
			continue
		}
		if _, err := s.RecomputeScore(ctx, c.ID, *c.CurrentStageID, c.OwnerID); err != nil {
			res.Failed++
			s.logger.Warn("score sweep failed", "customerId", c.ID, "err", err)
			continue
		}
		res.Updated++
	}
	s.logger.Info("score sweep finished", "customers", res.Customers, "updated", res.Updated, "failed", res.Failed)
	return res, nil
}

// RepPoints is the total earned by a rep across every customer and stage.
func (s *Service) RepPoints(ctx context.Context, repID string) (float64, error) {
	scores, err := s.store.ListRepStageScores(ctx, repID)
	if err != nil {
		return 0, err
	}
	return RepTotalPoints(scores, repID), nil
}
