package progression

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SubmitProgress records evidence for a (task, customer) pair. A rejected
// earlier attempt is overwritten in place; an approved one is final.
func (s *Service) SubmitProgress(ctx context.Context, actor Actor, in SubmitInput) (SubmissionResult, error) {
	if in.CustomerID <= 0 || in.TaskID <= 0 {
		return SubmissionResult{}, fmt.Errorf("%w: customerId and taskId are required", ErrValidation)
	}
	task, err := s.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return SubmissionResult{}, err
	}
	customer, err := s.store.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		return SubmissionResult{}, err
	}
	if !canActFor(actor, customer) {
		return SubmissionResult{}, fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
	}
	if task.OwnerID != customer.OwnerID || !s.resolver.Includes(customer, task.StageID, task) {
		return SubmissionResult{}, fmt.Errorf("%w: task is not assigned to this customer", ErrValidation)
	}

	decision := s.validator.Validate(task, in.Evidence)
	ref, err := s.saveEvidence(ctx, task, in.Evidence)
	if err != nil {
		return SubmissionResult{}, err
	}

	var result SubmissionResult
	var replaced *Attachment
	err = s.store.InTx(ctx, func(tx TxStore) error {
		locked, err := tx.LockCustomer(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		sub, err := s.lockOrCreateSubmission(ctx, tx, actor, task, locked)
		if err != nil {
			return err
		}
		if sub.Status == SubmissionApproved {
			return fmt.Errorf("%w: task already approved for this customer", ErrConflict)
		}
		result, replaced, err = s.applyEvidence(ctx, tx, actor, locked, task, sub, in.Evidence, decision, ref)
		return err
	})
	if err != nil {
		s.discardFile(ctx, ref)
		if errors.Is(err, ErrConflict) {
			s.inc("progress_conflicts")
		}
		return SubmissionResult{}, err
	}
	s.afterEvidence(ctx, actor, "progress.submit", result, replaced, ref)
	return result, nil
}

func (s *Service) lockOrCreateSubmission(ctx context.Context, tx TxStore, actor Actor, task Task, customer Customer) (Submission, error) {
	sub, found, err := tx.LockSubmissionForPair(ctx, task.ID, customer.ID)
	if err != nil || found {
		return sub, err
	}
	sub, created, err := tx.InsertSubmission(ctx, Submission{
		TaskID:     task.ID,
		CustomerID: customer.ID,
		RepID:      actor.UserID,
		StageID:    task.StageID,
		Status:     SubmissionPending,
	})
	if err != nil || created {
		return sub, err
	}
	sub, found, err = tx.LockSubmissionForPair(ctx, task.ID, customer.ID)
	if err != nil {
		return Submission{}, err
	}
	if !found {
		return Submission{}, fmt.Errorf("%w: submission vanished after conflict", ErrTransientStore)
	}
	return sub, nil
}

// ResubmitProgress replaces the evidence of an existing submission that has
// not been approved yet.
func (s *Service) ResubmitProgress(ctx context.Context, actor Actor, submissionID int64, ev Evidence) (SubmissionResult, error) {
	current, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return SubmissionResult{}, err
	}
	if current.Status == SubmissionApproved {
		return SubmissionResult{}, fmt.Errorf("%w: submission already approved", ErrForbidden)
	}
	task, err := s.store.GetTask(ctx, current.TaskID)
	if err != nil {
		return SubmissionResult{}, err
	}
	customer, err := s.store.GetCustomer(ctx, current.CustomerID)
	if err != nil {
		return SubmissionResult{}, err
	}
	if !canActFor(actor, customer) {
		return SubmissionResult{}, fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
	}

	decision := s.validator.Validate(task, ev)
	ref, err := s.saveEvidence(ctx, task, ev)
	if err != nil {
		return SubmissionResult{}, err
	}

	var result SubmissionResult
	var replaced *Attachment
	err = s.store.InTx(ctx, func(tx TxStore) error {
		locked, err := tx.LockCustomer(ctx, customer.ID)
		if err != nil {
			return err
		}
		sub, err := tx.LockSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		if sub.Status == SubmissionApproved {
			return fmt.Errorf("%w: submission already approved", ErrForbidden)
		}
		result, replaced, err = s.applyEvidence(ctx, tx, actor, locked, task, sub, ev, decision, ref)
		return err
	})
	if err != nil {
		s.discardFile(ctx, ref)
		return SubmissionResult{}, err
	}
	s.afterEvidence(ctx, actor, "progress.resubmit", result, replaced, ref)
	return result, nil
}

func (s *Service) applyEvidence(ctx context.Context, tx TxStore, actor Actor, customer Customer, task Task, sub Submission, ev Evidence, decision Decision, ref string) (SubmissionResult, *Attachment, error) {
	assigned, err := s.resolver.AssignedTasks(ctx, tx, customer, task.StageID)
	if err != nil {
		return SubmissionResult{}, nil, err
	}
	now := s.clock.Now()
	sub.RepID = actor.UserID
	sub.StageID = task.StageID
	sub.SubmittedAt = &now
	sub.ReviewerNote = decision.Reason
	sub.Status = SubmissionRejected
	sub.ProgressWeight = 0
	if decision.Accepted {
		sub.Status = SubmissionApproved
		sub.ProgressWeight = ProgressWeight(len(assigned))
	}
	if err := tx.UpdateSubmission(ctx, sub); err != nil {
		return SubmissionResult{}, nil, err
	}
	replaced, err := tx.ReplaceAttachment(ctx, sub.ID, buildAttachment(task, ev, ref))
	if err != nil {
		return SubmissionResult{}, nil, err
	}

	approved, err := tx.ApprovedTaskIDs(ctx, customer.ID, task.StageID)
	if err != nil {
		return SubmissionResult{}, nil, err
	}
	completion := EvaluateCompletion(assigned, approved, len(approved), s.cfg.LegacyZeroAssignedComplete)

	result := SubmissionResult{
		SubmissionID:   sub.ID,
		Accepted:       decision.Accepted,
		Status:         sub.Status,
		Reason:         decision.Reason,
		Amount:         decision.Amount,
		ProgressWeight: sub.ProgressWeight,
		Completion:     completion,
	}

	if decision.Accepted {
		stage, err := tx.GetStage(ctx, task.StageID)
		if err != nil {
			return SubmissionResult{}, nil, err
		}
		if _, err := s.recompute(ctx, tx, customer, stage, customer.OwnerID); err != nil {
			return SubmissionResult{}, nil, err
		}
		onCurrent := customer.CurrentStageID != nil && *customer.CurrentStageID == stage.ID
		if completion.IsComplete && onCurrent && customer.Status != StatusInactive {
			switch s.cfg.Policy {
			case AdvanceSummary:
				if err := tx.SetSummaryRequired(ctx, customer.ID, true); err != nil {
					return SubmissionResult{}, nil, err
				}
				result.SummaryRequired = true
			default:
				if _, err := s.advance(ctx, tx, customer, stage); err != nil {
					return SubmissionResult{}, nil, err
				}
				result.Advanced = true
			}
		}
	}

	fresh, err := tx.GetCustomer(ctx, customer.ID)
	if err != nil {
		return SubmissionResult{}, nil, err
	}
	result.Customer = fresh
	result.SummaryRequired = fresh.SummaryRequired
	return result, replaced, nil
}

// RevertProgress withdraws an approval. It corrects the score only; a stage
// advance that already happened stays.
func (s *Service) RevertProgress(ctx context.Context, actor Actor, submissionID int64) (SubmissionResult, error) {
	current, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return SubmissionResult{}, err
	}

	var result SubmissionResult
	err = s.store.InTx(ctx, func(tx TxStore) error {
		customer, err := tx.LockCustomer(ctx, current.CustomerID)
		if err != nil {
			return err
		}
		sub, err := tx.LockSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		if sub.RepID != actor.UserID {
			return fmt.Errorf("%w: only the submitting rep can revert", ErrForbidden)
		}
		if sub.Status != SubmissionApproved {
			return fmt.Errorf("%w: only approved submissions can be reverted", ErrInvalidState)
		}
		sub.Status = SubmissionRejected
		sub.ProgressWeight = 0
		sub.ReviewerNote = RevertNote
		if err := tx.UpdateSubmission(ctx, sub); err != nil {
			return err
		}

		stage, err := tx.GetStage(ctx, sub.StageID)
		if err != nil {
			return err
		}
		if _, err := s.recompute(ctx, tx, customer, stage, customer.OwnerID); err != nil {
			return err
		}
		assigned, err := s.resolver.AssignedTasks(ctx, tx, customer, stage.ID)
		if err != nil {
			return err
		}
		approved, err := tx.ApprovedTaskIDs(ctx, customer.ID, stage.ID)
		if err != nil {
			return err
		}
		completion := EvaluateCompletion(assigned, approved, len(approved), s.cfg.LegacyZeroAssignedComplete)
		onCurrent := customer.CurrentStageID != nil && *customer.CurrentStageID == stage.ID
		if customer.SummaryRequired && onCurrent && !completion.IsComplete {
			if err := tx.SetSummaryRequired(ctx, customer.ID, false); err != nil {
				return err
			}
		}
		fresh, err := tx.GetCustomer(ctx, customer.ID)
		if err != nil {
			return err
		}
		result = SubmissionResult{
			SubmissionID:    sub.ID,
			Status:          sub.Status,
			Reason:          sub.ReviewerNote,
			Completion:      completion,
			SummaryRequired: fresh.SummaryRequired,
			Customer:        fresh,
		}
		return nil
	})
	if err != nil {
		return SubmissionResult{}, err
	}
	s.inc("progress_reverted")
	s.logger.Info("progress reverted", "submissionId", submissionID, "customerId", current.CustomerID, "repId", actor.UserID)
	s.record(ctx, actor, "progress.revert", "submission", strconv.FormatInt(submissionID, 10), current, result)
	return result, nil
}

// OpenAttachment returns the attachment of a submission. For stored files the
// reader streams the content and must be closed by the caller.
func (s *Service) OpenAttachment(ctx context.Context, actor Actor, submissionID int64) (Attachment, io.ReadCloser, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return Attachment{}, nil, err
	}
	customer, err := s.store.GetCustomer(ctx, sub.CustomerID)
	if err != nil {
		return Attachment{}, nil, err
	}
	if !canActFor(actor, customer) {
		return Attachment{}, nil, fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
	}
	att, err := s.store.GetAttachment(ctx, submissionID)
	if err != nil {
		return Attachment{}, nil, err
	}
	if att.FilePath == nil || s.files == nil {
		return att, nil, nil
	}
	rc, err := s.files.Open(ctx, *att.FilePath)
	if err != nil {
		return Attachment{}, nil, fmt.Errorf("%w: open evidence: %v", ErrTransientStore, err)
	}
	return att, rc, nil
}

func buildAttachment(task Task, ev Evidence, ref string) *Attachment {
	if task.InputKind.IsFile() {
		if ev.File == nil || len(ev.File.Data) == 0 {
			return nil
		}
		att := &Attachment{
			Kind:         task.InputKind,
			OriginalName: ev.File.Name,
			MimeType:     DetectMime(ev.File),
			Size:         int64(len(ev.File.Data)),
		}
		if ref != "" {
			att.FilePath = &ref
		}
		return att
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}
	return &Attachment{Kind: task.InputKind, Content: &text, Size: int64(len(text))}
}

func (s *Service) saveEvidence(ctx context.Context, task Task, ev Evidence) (string, error) {
	if s.files == nil || !task.InputKind.IsFile() || ev.File == nil || len(ev.File.Data) == 0 {
		return "", nil
	}
	ref, err := s.files.Save(ctx, ev.File.Name, DetectMime(ev.File), ev.File.Data)
	if err != nil {
		return "", fmt.Errorf("%w: store evidence: %v", ErrTransientStore, err)
	}
	return ref, nil
}

func (s *Service) discardFile(ctx context.Context, ref string) {
	if ref == "" || s.files == nil {
		return
	}
	if err := s.files.Delete(ctx, ref); err != nil {
		s.logger.Warn("evidence cleanup failed", "ref", ref, "err", err)
	}
}

func (s *Service) afterEvidence(ctx context.Context, actor Actor, action string, result SubmissionResult, replaced *Attachment, ref string) {
	if replaced != nil && replaced.FilePath != nil && *replaced.FilePath != ref {
		s.discardFile(ctx, *replaced.FilePath)
	}
	if result.Accepted {
		s.inc("progress_accepted")
	} else {
		s.inc("progress_rejected")
	}
	if result.Advanced {
		s.inc("stage_advances")
	}
	s.logger.Info("progress recorded",
		"action", action,
		"submissionId", result.SubmissionID,
		"customerId", result.Customer.ID,
		"accepted", result.Accepted,
		"percent", result.Completion.Percent,
		"advanced", result.Advanced,
	)
	s.record(ctx, actor, action, "submission", strconv.FormatInt(result.SubmissionID, 10), nil, result)
}
