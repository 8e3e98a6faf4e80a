package progression

import (
	"context"
	"fmt"
	"strings"
)

// GetStageProgress assembles the progress view of a customer: the cycle
// stages reached so far, the checklist of the current stage and its stats.
func (s *Service) GetStageProgress(ctx context.Context, actor Actor, customerID int64) (StageProgress, error) {
	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return StageProgress{}, err
	}
	if !canActFor(actor, customer) {
		return StageProgress{}, fmt.Errorf("%w: customer belongs to another rep", ErrForbidden)
	}
	stages, err := s.store.ListStages(ctx)
	if err != nil {
		return StageProgress{}, err
	}

	view := StageProgress{
		Customer: customer,
		History:  []StageHistory{},
		Tasks:    []TaskProgress{},
		Stats:    ProgressStats{SummaryRequired: customer.SummaryRequired},
	}
	if customer.CurrentStageID == nil {
		return view, nil
	}
	for i := range stages {
		if stages[i].ID == *customer.CurrentStageID {
			current := stages[i]
			view.CurrentStage = &current
			break
		}
	}
	if view.CurrentStage == nil {
		return view, nil
	}
	current := *view.CurrentStage

	for _, st := range CycleStages(stages) {
		if st.Sequence > current.Sequence {
			break
		}
		completion, _, _, err := s.stageCompletion(ctx, s.store, customer, st.ID)
		if err != nil {
			return StageProgress{}, err
		}
		view.History = append(view.History, StageHistory{
			StageID:     st.ID,
			Code:        st.Code,
			Description: st.Description,
			Sequence:    st.Sequence,
			Assigned:    completion.AssignedCount,
			Approved:    completion.ApprovedCount,
			Percent:     completion.Percent,
			IsCurrent:   st.ID == current.ID,
			IsCompleted: completion.IsComplete || st.Sequence < current.Sequence,
		})
	}

	completion, assigned, _, err := s.stageCompletion(ctx, s.store, customer, current.ID)
	if err != nil {
		return StageProgress{}, err
	}
	submissions, err := s.store.ListSubmissions(ctx, customer.ID)
	if err != nil {
		return StageProgress{}, err
	}
	attachments, err := s.store.ListAttachments(ctx, customer.ID)
	if err != nil {
		return StageProgress{}, err
	}
	byTask := make(map[int64]Submission, len(submissions))
	for _, sub := range submissions {
		byTask[sub.TaskID] = sub
	}
	for _, t := range assigned {
		tp := TaskProgress{
			TaskID:           t.ID,
			Description:      t.Description,
			InputKind:        t.InputKind,
			EvidenceRequired: t.EvidenceRequired,
		}
		if sub, ok := byTask[t.ID]; ok {
			id := sub.ID
			tp.SubmissionID = &id
			tp.IsCompleted = sub.Status == SubmissionApproved
			tp.IsRejected = sub.Status == SubmissionRejected
			tp.ReviewerNote = sub.ReviewerNote
			if att, ok := attachments[sub.ID]; ok {
				tp.Attachment = &att
			}
		}
		view.Tasks = append(view.Tasks, tp)
	}
	view.Stats.Assigned = completion.AssignedCount
	view.Stats.Approved = completion.ApprovedCount
	view.Stats.Percent = completion.Percent
	view.Stats.ActualPoints = round2(completion.Percent / 100 * current.Weight)
	return view, nil
}

func (s *Service) ListStages(ctx context.Context) ([]Stage, error) {
	return s.store.ListStages(ctx)
}

// DefineTasks adds checklist items for a rep on one stage. Only supervisors
// maintain checklists.
func (s *Service) DefineTasks(ctx context.Context, actor Actor, ownerID string, stageID int64, inputs []TaskInput) ([]Task, error) {
	if !isSupervisor(actor) {
		return nil, fmt.Errorf("%w: only administrators and sales managers define tasks", ErrForbidden)
	}
	if ownerID == "" || stageID <= 0 || len(inputs) == 0 {
		return nil, fmt.Errorf("%w: repId, stageId and at least one task are required", ErrValidation)
	}
	for i, in := range inputs {
		if strings.TrimSpace(in.Description) == "" {
			return nil, fmt.Errorf("%w: task %d has no description", ErrValidation, i)
		}
		if in.InputKind != "" && !in.InputKind.Valid() {
			return nil, fmt.Errorf("%w: task %d has unknown input kind %q", ErrValidation, i, in.InputKind)
		}
	}

	var created []Task
	err := s.store.InTx(ctx, func(tx TxStore) error {
		if _, err := tx.GetStage(ctx, stageID); err != nil {
			return err
		}
		for _, in := range inputs {
			kind := in.InputKind
			if kind == "" {
				kind = InputNone
			}
			t, err := tx.CreateTask(ctx, Task{
				OwnerID:          ownerID,
				StageID:          stageID,
				Description:      strings.TrimSpace(in.Description),
				InputKind:        kind,
				EvidenceRequired: in.EvidenceRequired,
				CategoryMarker:   in.CategoryMarker,
				SubCategory:      in.SubCategory,
				SortOrder:        in.SortOrder,
			})
			if err != nil {
				return err
			}
			created = append(created, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, "tasks.define", "stage", fmt.Sprint(stageID), nil, created)
	return created, nil
}

// ListTasks returns a rep's checklist for a stage. Reps may only read their
// own.
func (s *Service) ListTasks(ctx context.Context, actor Actor, ownerID string, stageID int64) ([]Task, error) {
	if ownerID == "" {
		ownerID = actor.UserID
	}
	if ownerID != actor.UserID && !isSupervisor(actor) {
		return nil, fmt.Errorf("%w: cannot read another rep's tasks", ErrForbidden)
	}
	if stageID <= 0 {
		return nil, fmt.Errorf("%w: stageId is required", ErrValidation)
	}
	return s.store.ListTasks(ctx, ownerID, stageID)
}
