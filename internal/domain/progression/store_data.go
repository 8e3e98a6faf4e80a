package progression

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const stageColumns = `id, code, description, weight, sequence, kind`

func scanStage(row pgx.Row) (Stage, error) {
	var st Stage
	err := row.Scan(&st.ID, &st.Code, &st.Description, &st.Weight, &st.Sequence, &st.Kind)
	return st, err
}

func (s *Store) ListStages(ctx context.Context) ([]Stage, error) {
	rows, err := s.q.Query(ctx, `
    SELECT `+stageColumns+`
    FROM stages
    ORDER BY sequence, id
  `)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, st)
	}
	return out, storeErr(rows.Err())
}

func (s *Store) GetStage(ctx context.Context, stageID int64) (Stage, error) {
	st, err := scanStage(s.q.QueryRow(ctx, `SELECT `+stageColumns+` FROM stages WHERE id = $1`, stageID))
	if err != nil {
		return Stage{}, storeErr(err)
	}
	return st, nil
}

const taskColumns = `id, owner_id, stage_id, description, input_kind, evidence_required, category_marker, sub_category, sort_order, auto_generated, created_at`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var kind string
	err := row.Scan(&t.ID, &t.OwnerID, &t.StageID, &t.Description, &kind, &t.EvidenceRequired,
		&t.CategoryMarker, &t.SubCategory, &t.SortOrder, &t.AutoGenerated, &t.CreatedAt)
	t.InputKind = InputKind(kind)
	return t, err
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (Task, error) {
	t, err := scanTask(s.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if err != nil {
		return Task{}, storeErr(err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, ownerID string, stageID int64) ([]Task, error) {
	rows, err := s.q.Query(ctx, `
    SELECT `+taskColumns+`
    FROM tasks
    WHERE owner_id = $1 AND stage_id = $2
    ORDER BY sort_order NULLS LAST, id
  `, ownerID, stageID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, t)
	}
	return out, storeErr(rows.Err())
}

func (s *Store) CreateTask(ctx context.Context, task Task) (Task, error) {
	err := s.q.QueryRow(ctx, `
    INSERT INTO tasks (owner_id, stage_id, description, input_kind, evidence_required, category_marker, sub_category, sort_order, auto_generated)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    RETURNING id, created_at
  `, task.OwnerID, task.StageID, task.Description, string(task.InputKind), task.EvidenceRequired,
		task.CategoryMarker, task.SubCategory, task.SortOrder, task.AutoGenerated).Scan(&task.ID, &task.CreatedAt)
	if err != nil {
		return Task{}, storeErr(err)
	}
	return task, nil
}

const customerColumns = `id, owner_id, category, sub_category, pic, institution, current_stage_id, COALESCE(status, ''),
    status_changed_at, earned_points, max_points, score_percentage, summary_required`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.OwnerID, &c.Category, &c.SubCategory, &c.PIC, &c.Institution, &c.CurrentStageID,
		&c.Status, &c.StatusChangedAt, &c.EarnedPoints, &c.MaxPoints, &c.ScorePercentage, &c.SummaryRequired)
	return c, err
}

func (s *Store) GetCustomer(ctx context.Context, customerID int64) (Customer, error) {
	c, err := scanCustomer(s.q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, customerID))
	if err != nil {
		return Customer{}, storeErr(err)
	}
	return c, nil
}

func (s *Store) LockCustomer(ctx context.Context, customerID int64) (Customer, error) {
	c, err := scanCustomer(s.q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, customerID))
	if err != nil {
		return Customer{}, storeErr(err)
	}
	return c, nil
}

func (s *Store) UpdateCustomerStage(ctx context.Context, customerID int64, stageID *int64, status string, changedAt time.Time) error {
	_, err := s.q.Exec(ctx, `
    UPDATE customers
    SET current_stage_id = $2, status = NULLIF($3, ''), status_changed_at = $4, summary_required = false, updated_at = now()
    WHERE id = $1
  `, customerID, stageID, status, changedAt)
	return storeErr(err)
}

func (s *Store) UpdateCustomerStatus(ctx context.Context, customerID int64, status string, changedAt time.Time) error {
	_, err := s.q.Exec(ctx, `
    UPDATE customers
    SET status = NULLIF($2, ''), status_changed_at = $3, updated_at = now()
    WHERE id = $1
  `, customerID, status, changedAt)
	return storeErr(err)
}

func (s *Store) SetSummaryRequired(ctx context.Context, customerID int64, required bool) error {
	_, err := s.q.Exec(ctx, `UPDATE customers SET summary_required = $2, updated_at = now() WHERE id = $1`, customerID, required)
	return storeErr(err)
}

func (s *Store) UpdateCustomerPoints(ctx context.Context, customerID int64, rollup Rollup) error {
	_, err := s.q.Exec(ctx, `
    UPDATE customers
    SET earned_points = $2, max_points = $3, score_percentage = $4, updated_at = now()
    WHERE id = $1
  `, customerID, rollup.EarnedPoints, rollup.MaxPoints, rollup.ScorePercentage)
	return storeErr(err)
}

func (s *Store) ResetCustomer(ctx context.Context, customerID int64, changedAt time.Time) error {
	_, err := s.q.Exec(ctx, `
    UPDATE customers
    SET current_stage_id = NULL, status = $2, status_changed_at = $3,
        earned_points = 0, max_points = 0, score_percentage = 0, summary_required = false, updated_at = now()
    WHERE id = $1
  `, customerID, StatusNew, changedAt)
	return storeErr(err)
}

func (s *Store) ListCustomersInProgress(ctx context.Context) ([]Customer, error) {
	rows, err := s.q.Query(ctx, `
    SELECT `+customerColumns+`
    FROM customers
    WHERE current_stage_id IS NOT NULL
      AND COALESCE(status, '') NOT IN ($1, $2)
    ORDER BY id
  `, StatusCompleted, StatusInactive)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, c)
	}
	return out, storeErr(rows.Err())
}

const submissionColumns = `id, task_id, customer_id, rep_id, stage_id, submitted_at, status, reviewer_note, progress_weight`

func scanSubmission(row pgx.Row) (Submission, error) {
	var sub Submission
	err := row.Scan(&sub.ID, &sub.TaskID, &sub.CustomerID, &sub.RepID, &sub.StageID, &sub.SubmittedAt,
		&sub.Status, &sub.ReviewerNote, &sub.ProgressWeight)
	return sub, err
}

func (s *Store) GetSubmission(ctx context.Context, submissionID int64) (Submission, error) {
	sub, err := scanSubmission(s.q.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, submissionID))
	if err != nil {
		return Submission{}, storeErr(err)
	}
	return sub, nil
}

func (s *Store) LockSubmission(ctx context.Context, submissionID int64) (Submission, error) {
	sub, err := scanSubmission(s.q.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, submissionID))
	if err != nil {
		return Submission{}, storeErr(err)
	}
	return sub, nil
}

func (s *Store) LockSubmissionForPair(ctx context.Context, taskID, customerID int64) (Submission, bool, error) {
	sub, err := scanSubmission(s.q.QueryRow(ctx, `
    SELECT `+submissionColumns+`
    FROM submissions
    WHERE task_id = $1 AND customer_id = $2
    FOR UPDATE
  `, taskID, customerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Submission{}, false, nil
	}
	if err != nil {
		return Submission{}, false, storeErr(err)
	}
	return sub, true, nil
}

// InsertSubmission creates the row for a (task, customer) pair. The boolean is
// false when a concurrent writer created it first.
func (s *Store) InsertSubmission(ctx context.Context, sub Submission) (Submission, bool, error) {
	err := s.q.QueryRow(ctx, `
    INSERT INTO submissions (task_id, customer_id, rep_id, stage_id, submitted_at, status, reviewer_note, progress_weight)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    ON CONFLICT (task_id, customer_id) DO NOTHING
    RETURNING id
  `, sub.TaskID, sub.CustomerID, sub.RepID, sub.StageID, sub.SubmittedAt, sub.Status, sub.ReviewerNote, sub.ProgressWeight).Scan(&sub.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Submission{}, false, nil
	}
	if err != nil {
		return Submission{}, false, storeErr(err)
	}
	return sub, true, nil
}

func (s *Store) UpdateSubmission(ctx context.Context, sub Submission) error {
	tag, err := s.q.Exec(ctx, `
    UPDATE submissions
    SET rep_id = $2, stage_id = $3, submitted_at = $4, status = $5, reviewer_note = $6, progress_weight = $7, updated_at = now()
    WHERE id = $1
  `, sub.ID, sub.RepID, sub.StageID, sub.SubmittedAt, sub.Status, sub.ReviewerNote, sub.ProgressWeight)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListSubmissions(ctx context.Context, customerID int64) ([]Submission, error) {
	rows, err := s.q.Query(ctx, `
    SELECT `+submissionColumns+`
    FROM submissions
    WHERE customer_id = $1
    ORDER BY id
  `, customerID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, sub)
	}
	return out, storeErr(rows.Err())
}

func (s *Store) ApprovedTaskIDs(ctx context.Context, customerID, stageID int64) (map[int64]bool, error) {
	rows, err := s.q.Query(ctx, `
    SELECT DISTINCT task_id
    FROM submissions
    WHERE customer_id = $1 AND stage_id = $2 AND status = $3
  `, customerID, stageID, SubmissionApproved)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr(err)
		}
		out[id] = true
	}
	return out, storeErr(rows.Err())
}

const attachmentColumns = `id, submission_id, kind, content, file_path, COALESCE(original_name, ''), COALESCE(mime_type, ''), size`

func scanAttachment(row pgx.Row) (Attachment, error) {
	var a Attachment
	var kind string
	err := row.Scan(&a.ID, &a.SubmissionID, &kind, &a.Content, &a.FilePath, &a.OriginalName, &a.MimeType, &a.Size)
	a.Kind = InputKind(kind)
	return a, err
}

func (s *Store) GetAttachment(ctx context.Context, submissionID int64) (Attachment, error) {
	a, err := scanAttachment(s.q.QueryRow(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE submission_id = $1`, submissionID))
	if err != nil {
		return Attachment{}, storeErr(err)
	}
	return a, nil
}

func (s *Store) ListAttachments(ctx context.Context, customerID int64) (map[int64]Attachment, error) {
	rows, err := s.q.Query(ctx, `
    SELECT a.id, a.submission_id, a.kind, a.content, a.file_path, COALESCE(a.original_name, ''), COALESCE(a.mime_type, ''), a.size
    FROM attachments a
    JOIN submissions s ON s.id = a.submission_id
    WHERE s.customer_id = $1
  `, customerID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := map[int64]Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out[a.SubmissionID] = a
	}
	return out, storeErr(rows.Err())
}

// ReplaceAttachment swaps the submission's attachment for att (or removes it
// when att is nil) and returns the one it replaced.
func (s *Store) ReplaceAttachment(ctx context.Context, submissionID int64, att *Attachment) (*Attachment, error) {
	var previous *Attachment
	old, err := scanAttachment(s.q.QueryRow(ctx, `
    DELETE FROM attachments WHERE submission_id = $1
    RETURNING `+attachmentColumns, submissionID))
	switch {
	case err == nil:
		previous = &old
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, storeErr(err)
	}
	if att == nil {
		return previous, nil
	}
	_, err = s.q.Exec(ctx, `
    INSERT INTO attachments (submission_id, kind, content, file_path, original_name, mime_type, size)
    VALUES ($1,$2,$3,$4,NULLIF($5, ''),NULLIF($6, ''),$7)
  `, submissionID, string(att.Kind), att.Content, att.FilePath, att.OriginalName, att.MimeType, att.Size)
	if err != nil {
		return nil, storeErr(err)
	}
	return previous, nil
}

// DeleteCustomerProgress removes every submission, attachment, stage score and
// summary of a customer. It returns the stored file references that are now
// orphaned.
func (s *Store) DeleteCustomerProgress(ctx context.Context, customerID int64) ([]string, error) {
	rows, err := s.q.Query(ctx, `
    DELETE FROM attachments a
    USING submissions s
    WHERE s.id = a.submission_id AND s.customer_id = $1
    RETURNING a.file_path
  `, customerID)
	if err != nil {
		return nil, storeErr(err)
	}
	var paths []string
	for rows.Next() {
		var path *string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, storeErr(err)
		}
		if path != nil && *path != "" {
			paths = append(paths, *path)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}

	for _, stmt := range []string{
		`DELETE FROM submissions WHERE customer_id = $1`,
		`DELETE FROM stage_scores WHERE customer_id = $1`,
		`DELETE FROM summaries WHERE customer_id = $1`,
	} {
		if _, err := s.q.Exec(ctx, stmt, customerID); err != nil {
			return nil, storeErr(err)
		}
	}
	return paths, nil
}

const stageScoreColumns = `customer_id, stage_id, rep_id, tasks_completed, tasks_total, completion_rate, stage_weight, earned_points, status, completed_at`

func scanStageScore(row pgx.Row) (StageScore, error) {
	var sc StageScore
	err := row.Scan(&sc.CustomerID, &sc.StageID, &sc.RepID, &sc.TasksCompleted, &sc.TasksTotal,
		&sc.CompletionRate, &sc.StageWeight, &sc.EarnedPoints, &sc.Status, &sc.CompletedAt)
	return sc, err
}

func (s *Store) GetStageScore(ctx context.Context, customerID, stageID int64, repID string) (StageScore, bool, error) {
	sc, err := scanStageScore(s.q.QueryRow(ctx, `
    SELECT `+stageScoreColumns+`
    FROM stage_scores
    WHERE customer_id = $1 AND stage_id = $2 AND rep_id = $3
  `, customerID, stageID, repID))
	if errors.Is(err, pgx.ErrNoRows) {
		return StageScore{}, false, nil
	}
	if err != nil {
		return StageScore{}, false, storeErr(err)
	}
	return sc, true, nil
}

func (s *Store) UpsertStageScore(ctx context.Context, score StageScore) error {
	_, err := s.q.Exec(ctx, `
    INSERT INTO stage_scores (customer_id, stage_id, rep_id, tasks_completed, tasks_total, completion_rate, stage_weight, earned_points, status, completed_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    ON CONFLICT (customer_id, stage_id, rep_id) DO UPDATE SET
      tasks_completed = EXCLUDED.tasks_completed,
      tasks_total = EXCLUDED.tasks_total,
      completion_rate = EXCLUDED.completion_rate,
      stage_weight = EXCLUDED.stage_weight,
      earned_points = EXCLUDED.earned_points,
      status = EXCLUDED.status,
      completed_at = EXCLUDED.completed_at,
      updated_at = now()
  `, score.CustomerID, score.StageID, score.RepID, score.TasksCompleted, score.TasksTotal,
		score.CompletionRate, score.StageWeight, score.EarnedPoints, score.Status, score.CompletedAt)
	return storeErr(err)
}

func (s *Store) listStageScores(ctx context.Context, where string, arg any) ([]StageScore, error) {
	rows, err := s.q.Query(ctx, `
    SELECT `+stageScoreColumns+`
    FROM stage_scores
    WHERE `+where+`
    ORDER BY customer_id, stage_id
  `, arg)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []StageScore
	for rows.Next() {
		sc, err := scanStageScore(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, sc)
	}
	return out, storeErr(rows.Err())
}

func (s *Store) ListStageScores(ctx context.Context, customerID int64) ([]StageScore, error) {
	return s.listStageScores(ctx, "customer_id = $1", customerID)
}

func (s *Store) ListRepStageScores(ctx context.Context, repID string) ([]StageScore, error) {
	return s.listStageScores(ctx, "rep_id = $1", repID)
}

func (s *Store) GetSummary(ctx context.Context, customerID int64) (Summary, error) {
	var sum Summary
	err := s.q.QueryRow(ctx, `
    SELECT customer_id, rep_id, stage_id, body, updated_at
    FROM summaries
    WHERE customer_id = $1
  `, customerID).Scan(&sum.CustomerID, &sum.RepID, &sum.StageID, &sum.Body, &sum.UpdatedAt)
	if err != nil {
		return Summary{}, storeErr(err)
	}
	return sum, nil
}

func (s *Store) UpsertSummary(ctx context.Context, summary Summary) error {
	_, err := s.q.Exec(ctx, `
    INSERT INTO summaries (customer_id, rep_id, stage_id, body, updated_at)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (customer_id) DO UPDATE SET
      rep_id = EXCLUDED.rep_id,
      stage_id = EXCLUDED.stage_id,
      body = EXCLUDED.body,
      updated_at = EXCLUDED.updated_at
  `, summary.CustomerID, summary.RepID, summary.StageID, summary.Body, summary.UpdatedAt)
	return storeErr(err)
}
