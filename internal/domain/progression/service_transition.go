package progression

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

func (s *Service) stageCompletion(ctx context.Context, q TxStore, customer Customer, stageID int64) (Completion, []Task, map[int64]bool, error) {
	assigned, err := s.resolver.AssignedTasks(ctx, q, customer, stageID)
	if err != nil {
		return Completion{}, nil, nil, err
	}
	approved, err := q.ApprovedTaskIDs(ctx, customer.ID, stageID)
	if err != nil {
		return Completion{}, nil, nil, err
	}
	return EvaluateCompletion(assigned, approved, len(approved), s.cfg.LegacyZeroAssignedComplete), assigned, approved, nil
}

// advance moves the customer past current, or marks it Completed when current
// is the last cycle stage.
func (s *Service) advance(ctx context.Context, tx TxStore, customer Customer, current Stage) (Customer, error) {
	stages, err := tx.ListStages(ctx)
	if err != nil {
		return Customer{}, err
	}
	plan := PlanAdvance(stages, current)
	return s.moveTo(ctx, tx, customer, plan.StageID, plan.Status)
}

func (s *Service) moveTo(ctx context.Context, tx TxStore, customer Customer, stageID int64, status string) (Customer, error) {
	now := s.clock.Now()
	if err := tx.UpdateCustomerStage(ctx, customer.ID, &stageID, status, now); err != nil {
		return Customer{}, err
	}
	var from int64
	if customer.CurrentStageID != nil {
		from = *customer.CurrentStageID
	}
	customer.CurrentStageID = &stageID
	customer.Status = status
	customer.StatusChangedAt = &now
	customer.SummaryRequired = false
	s.logger.Info("stage transition", "customerId", customer.ID, "fromStageId", from, "toStageId", stageID, "status", status)
	return customer, nil
}

// AdvanceStage moves a customer forward on request. auto needs a complete
// stage, skip ignores completion, summary-confirm stores the summary first.
func (s *Service) AdvanceStage(ctx context.Context, actor Actor, customerID int64, req AdvanceRequest) (Customer, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeAuto
	}
	summary := strings.TrimSpace(req.Summary)
	switch mode {
	case ModeAuto, ModeSkip:
	case ModeSummaryConfirm:
		if len([]rune(summary)) < MinSummaryLength {
			return Customer{}, fmt.Errorf("%w: summary must be at least %d characters", ErrValidation, MinSummaryLength)
		}
	default:
		return Customer{}, fmt.Errorf("%w: unknown mode %q", ErrValidation, mode)
	}

	var before, after Customer
	err := s.store.InTx(ctx, func(tx TxStore) error {
		customer, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		before = customer
		if !canActFor(actor, customer) {
			return fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
		}
		if customer.Status == StatusInactive {
			return fmt.Errorf("%w: customer is inactive", ErrInvalidState)
		}
		if customer.CurrentStageID == nil {
			return fmt.Errorf("%w: customer has no current stage", ErrNotFound)
		}
		current, err := tx.GetStage(ctx, *customer.CurrentStageID)
		if err != nil {
			return err
		}

		switch mode {
		case ModeSkip:
			stages, err := tx.ListStages(ctx)
			if err != nil {
				return err
			}
			next, ok := NextStage(stages, current)
			if !ok {
				return fmt.Errorf("%w: customer is already at the last stage", ErrNotFound)
			}
			score, err := s.recompute(ctx, tx, customer, current, customer.OwnerID)
			if err != nil {
				return err
			}
			if score.Status != ScoreStatusCompleted {
				score.Status = ScoreStatusSkipped
				if err := tx.UpsertStageScore(ctx, score); err != nil {
					return err
				}
			}
			after, err = s.moveTo(ctx, tx, customer, next.ID, StatusForStage(next.Code))
			return err
		case ModeAuto:
			if s.cfg.Policy == AdvanceSummary {
				return fmt.Errorf("%w: confirm the stage with a summary", ErrSummaryRequired)
			}
		}

		completion, _, _, err := s.stageCompletion(ctx, tx, customer, current.ID)
		if err != nil {
			return err
		}
		if !completion.IsComplete {
			return fmt.Errorf("%w: %d of %d tasks approved", ErrStageIncomplete, completion.ApprovedCount, completion.AssignedCount)
		}
		if mode == ModeSummaryConfirm {
			stageID := current.ID
			if err := tx.UpsertSummary(ctx, Summary{
				CustomerID: customer.ID,
				RepID:      actor.UserID,
				StageID:    &stageID,
				Body:       summary,
				UpdatedAt:  s.clock.Now(),
			}); err != nil {
				return err
			}
		}
		after, err = s.advance(ctx, tx, customer, current)
		return err
	})
	if err != nil {
		return Customer{}, err
	}
	s.inc("stage_advances")
	s.record(ctx, actor, "stage.advance."+string(mode), "customer", strconv.FormatInt(customerID, 10), before, after)
	return after, nil
}

// ConvertToProspect starts a customer on the first cycle stage.
func (s *Service) ConvertToProspect(ctx context.Context, actor Actor, customerID int64) (Customer, error) {
	var before, after Customer
	err := s.store.InTx(ctx, func(tx TxStore) error {
		customer, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		before = customer
		if !canActFor(actor, customer) {
			return fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
		}
		// A customer without a stage (fresh lead or reset) always re-enters at
		// the first stage.
		if customer.CurrentStageID != nil && IsActiveProspect(customer.Status) {
			return fmt.Errorf("%w: customer is already an active prospect", ErrInvalidState)
		}
		stages, err := tx.ListStages(ctx)
		if err != nil {
			return err
		}
		first, ok := FirstStage(stages)
		if !ok {
			return fmt.Errorf("%w: no cycle stages defined", ErrNotFound)
		}
		after, err = s.moveTo(ctx, tx, customer, first.ID, StatusNew)
		return err
	})
	if err != nil {
		return Customer{}, err
	}
	s.record(ctx, actor, "customer.convert_to_prospect", "customer", strconv.FormatInt(customerID, 10), before, after)
	return after, nil
}

// SetInactive parks a customer without touching its stage or scores.
func (s *Service) SetInactive(ctx context.Context, actor Actor, customerID int64) (Customer, error) {
	var before, after Customer
	err := s.store.InTx(ctx, func(tx TxStore) error {
		customer, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		before = customer
		if !canActFor(actor, customer) {
			return fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
		}
		if customer.Status == StatusInactive {
			return fmt.Errorf("%w: customer is already inactive", ErrInvalidState)
		}
		now := s.clock.Now()
		if err := tx.UpdateCustomerStatus(ctx, customer.ID, StatusInactive, now); err != nil {
			return err
		}
		customer.Status = StatusInactive
		customer.StatusChangedAt = &now
		after = customer
		return nil
	})
	if err != nil {
		return Customer{}, err
	}
	s.record(ctx, actor, "customer.inactive", "customer", strconv.FormatInt(customerID, 10), before, after)
	return after, nil
}

// ResetProspect wipes all progress of a customer. Only administrators may do
// this, and only on developer deployments.
func (s *Service) ResetProspect(ctx context.Context, actor Actor, customerID int64) (Customer, error) {
	if !s.cfg.DeveloperMode || !isAdmin(actor) {
		return Customer{}, fmt.Errorf("%w: reset requires an administrator in developer mode", ErrForbidden)
	}
	var before, after Customer
	var orphaned []string
	err := s.store.InTx(ctx, func(tx TxStore) error {
		customer, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		before = customer
		orphaned, err = tx.DeleteCustomerProgress(ctx, customer.ID)
		if err != nil {
			return err
		}
		if err := tx.ResetCustomer(ctx, customer.ID, s.clock.Now()); err != nil {
			return err
		}
		after, err = tx.GetCustomer(ctx, customer.ID)
		return err
	})
	if err != nil {
		return Customer{}, err
	}
	for _, ref := range orphaned {
		s.discardFile(ctx, ref)
	}
	s.logger.Warn("prospect reset", "customerId", customerID, "actor", actor.UserID, "files", len(orphaned))
	s.record(ctx, actor, "customer.reset", "customer", strconv.FormatInt(customerID, 10), before, after)
	return after, nil
}

// SaveSummary stores the stage summary without advancing.
func (s *Service) SaveSummary(ctx context.Context, actor Actor, customerID int64, body string) (Summary, error) {
	body = strings.TrimSpace(body)
	if len([]rune(body)) < MinSummaryLength {
		return Summary{}, fmt.Errorf("%w: summary must be at least %d characters", ErrValidation, MinSummaryLength)
	}
	var saved Summary
	err := s.store.InTx(ctx, func(tx TxStore) error {
		customer, err := tx.LockCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if !canActFor(actor, customer) {
			return fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
		}
		saved = Summary{
			CustomerID: customer.ID,
			RepID:      actor.UserID,
			StageID:    customer.CurrentStageID,
			Body:       body,
			UpdatedAt:  s.clock.Now(),
		}
		return tx.UpsertSummary(ctx, saved)
	})
	if err != nil {
		return Summary{}, err
	}
	return saved, nil
}

func (s *Service) GetSummary(ctx context.Context, actor Actor, customerID int64) (Summary, error) {
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return Summary{}, err
	}
	if !canActFor(actor, customer) {
		return Summary{}, fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
	}
	return s.store.GetSummary(ctx, customerID)
}
