package progression

import (
	"context"
	"time"
)

// TxStore is the persistence surface the engine needs. Every method is
// usable both on the pool and inside a transaction.
type TxStore interface {
	ListStages(ctx context.Context) ([]Stage, error)
	GetStage(ctx context.Context, stageID int64) (Stage, error)

	GetTask(ctx context.Context, taskID int64) (Task, error)
	ListTasks(ctx context.Context, ownerID string, stageID int64) ([]Task, error)
	CreateTask(ctx context.Context, task Task) (Task, error)

	GetCustomer(ctx context.Context, customerID int64) (Customer, error)
	LockCustomer(ctx context.Context, customerID int64) (Customer, error)
	UpdateCustomerStage(ctx context.Context, customerID int64, stageID *int64, status string, changedAt time.Time) error
	UpdateCustomerStatus(ctx context.Context, customerID int64, status string, changedAt time.Time) error
	SetSummaryRequired(ctx context.Context, customerID int64, required bool) error
	UpdateCustomerPoints(ctx context.Context, customerID int64, rollup Rollup) error
	ResetCustomer(ctx context.Context, customerID int64, changedAt time.Time) error
	ListCustomersInProgress(ctx context.Context) ([]Customer, error)

	GetSubmission(ctx context.Context, submissionID int64) (Submission, error)
	LockSubmission(ctx context.Context, submissionID int64) (Submission, error)
	LockSubmissionForPair(ctx context.Context, taskID, customerID int64) (Submission, bool, error)
	InsertSubmission(ctx context.Context, sub Submission) (Submission, bool, error)
	UpdateSubmission(ctx context.Context, sub Submission) error
	ListSubmissions(ctx context.Context, customerID int64) ([]Submission, error)
	ApprovedTaskIDs(ctx context.Context, customerID, stageID int64) (map[int64]bool, error)

	GetAttachment(ctx context.Context, submissionID int64) (Attachment, error)
	ListAttachments(ctx context.Context, customerID int64) (map[int64]Attachment, error)
	ReplaceAttachment(ctx context.Context, submissionID int64, att *Attachment) (*Attachment, error)
	DeleteCustomerProgress(ctx context.Context, customerID int64) ([]string, error)

	GetStageScore(ctx context.Context, customerID, stageID int64, repID string) (StageScore, bool, error)
	UpsertStageScore(ctx context.Context, score StageScore) error
	ListStageScores(ctx context.Context, customerID int64) ([]StageScore, error)
	ListRepStageScores(ctx context.Context, repID string) ([]StageScore, error)

	GetSummary(ctx context.Context, customerID int64) (Summary, error)
	UpsertSummary(ctx context.Context, summary Summary) error
}

type StoreAPI interface {
	TxStore
	// InTx runs fn inside one transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx TxStore) error) error
}
