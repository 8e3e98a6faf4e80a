package progression

import "time"

type Stage struct {
	ID          int64   `json:"id"`
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	Sequence    int     `json:"sequence"`
	Kind        string  `json:"kind"`
}

type Task struct {
	ID               int64     `json:"id"`
	OwnerID          string    `json:"ownerId"`
	StageID          int64     `json:"stageId"`
	Description      string    `json:"description"`
	InputKind        InputKind `json:"inputKind"`
	EvidenceRequired bool      `json:"evidenceRequired"`
	CategoryMarker   *int64    `json:"categoryMarker,omitempty"`
	SubCategory      *string   `json:"subCategory,omitempty"`
	SortOrder        *int      `json:"sortOrder,omitempty"`
	AutoGenerated    bool      `json:"autoGenerated"`
	CreatedAt        time.Time `json:"createdAt"`
}

type Customer struct {
	ID              int64      `json:"id"`
	OwnerID         string     `json:"ownerId"`
	Category        string     `json:"category"`
	SubCategory     *string    `json:"subCategory,omitempty"`
	PIC             string     `json:"pic"`
	Institution     string     `json:"institution"`
	CurrentStageID  *int64     `json:"currentStageId,omitempty"`
	Status          string     `json:"status"`
	StatusChangedAt *time.Time `json:"statusChangedAt,omitempty"`
	EarnedPoints    float64    `json:"earnedPoints"`
	MaxPoints       float64    `json:"maxPoints"`
	ScorePercentage float64    `json:"scorePercentage"`
	SummaryRequired bool       `json:"summaryRequired"`
}

type Submission struct {
	ID             int64      `json:"id"`
	TaskID         int64      `json:"taskId"`
	CustomerID     int64      `json:"customerId"`
	RepID          string     `json:"repId"`
	StageID        int64      `json:"stageId"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
	Status         string     `json:"status"`
	ReviewerNote   string     `json:"reviewerNote"`
	ProgressWeight float64    `json:"progressWeight"`
}

type Attachment struct {
	ID           int64     `json:"id"`
	SubmissionID int64     `json:"submissionId"`
	Kind         InputKind `json:"kind"`
	Content      *string   `json:"content,omitempty"`
	FilePath     *string   `json:"filePath,omitempty"`
	OriginalName string    `json:"originalName,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	Size         int64     `json:"size"`
}

type StageScore struct {
	CustomerID     int64      `json:"customerId"`
	StageID        int64      `json:"stageId"`
	RepID          string     `json:"repId"`
	TasksCompleted int        `json:"tasksCompleted"`
	TasksTotal     int        `json:"tasksTotal"`
	CompletionRate float64    `json:"completionRate"`
	StageWeight    float64    `json:"stageWeight"`
	EarnedPoints   float64    `json:"earnedPoints"`
	Status         string     `json:"status"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

type Summary struct {
	CustomerID int64     `json:"customerId"`
	RepID      string    `json:"repId"`
	StageID    *int64    `json:"stageId,omitempty"`
	Body       string    `json:"summary"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Evidence is what a rep hands in for a task: free text, an uploaded file, or both.
type Evidence struct {
	Text string
	File *EvidenceFile
}

type EvidenceFile struct {
	Name     string
	MimeType string
	Data     []byte
}

type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
	Amount   string `json:"amount,omitempty"`
}

type Completion struct {
	AssignedCount int     `json:"assignedCount"`
	ApprovedCount int     `json:"approvedCount"`
	Percent       float64 `json:"percent"`
	IsComplete    bool    `json:"isComplete"`
}

type Rollup struct {
	EarnedPoints    float64 `json:"earnedPoints"`
	MaxPoints       float64 `json:"maxPoints"`
	ScorePercentage float64 `json:"scorePercentage"`
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID string
	Role   string
}

type SubmitInput struct {
	CustomerID int64
	TaskID     int64
	Evidence   Evidence
}

type SubmissionResult struct {
	SubmissionID    int64      `json:"submissionId"`
	Accepted        bool       `json:"accepted"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason"`
	Amount          string     `json:"amount,omitempty"`
	ProgressWeight  float64    `json:"progressWeight"`
	Completion      Completion `json:"completion"`
	SummaryRequired bool       `json:"summaryRequired"`
	Advanced        bool       `json:"advanced"`
	Customer        Customer   `json:"customer"`
}

type AdvanceRequest struct {
	Mode    AdvanceMode
	Summary string
}

type StageProgress struct {
	Customer     Customer       `json:"customer"`
	CurrentStage *Stage         `json:"currentStage,omitempty"`
	History      []StageHistory `json:"history"`
	Tasks        []TaskProgress `json:"tasks"`
	Stats        ProgressStats  `json:"stats"`
}

type StageHistory struct {
	StageID     int64   `json:"stageId"`
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Sequence    int     `json:"sequence"`
	Assigned    int     `json:"assigned"`
	Approved    int     `json:"approved"`
	Percent     float64 `json:"percent"`
	IsCurrent   bool    `json:"isCurrent"`
	IsCompleted bool    `json:"isCompleted"`
}

type TaskProgress struct {
	TaskID           int64       `json:"taskId"`
	Description      string      `json:"description"`
	InputKind        InputKind   `json:"inputKind"`
	EvidenceRequired bool        `json:"evidenceRequired"`
	IsCompleted      bool        `json:"isCompleted"`
	IsRejected       bool        `json:"isRejected"`
	SubmissionID     *int64      `json:"submissionId,omitempty"`
	ReviewerNote     string      `json:"reviewerNote,omitempty"`
	Attachment       *Attachment `json:"attachment,omitempty"`
}

type ProgressStats struct {
	Assigned        int     `json:"assigned"`
	Approved        int     `json:"approved"`
	Percent         float64 `json:"percent"`
	ActualPoints    float64 `json:"actualPoints"`
	SummaryRequired bool    `json:"summaryRequired"`
}

type TaskInput struct {
	Description      string
	InputKind        InputKind
	EvidenceRequired bool
	CategoryMarker   *int64
	SubCategory      *string
	SortOrder        *int
}

type SweepResult struct {
	Customers int `json:"customers"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}
