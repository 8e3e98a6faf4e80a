package progression

import "fmt"

const (
	StageKindCycle       = "cycle"
	StageKindPeriodic    = "periodic"
	StageKindAchievement = "achievement"

	StageCodeVisit1     = "visit1"
	StageCodeVisit2     = "visit2"
	StageCodeVisit3     = "visit3"
	StageCodeDeal       = "deal"
	StageCodeAfterSales = "after_sales"

	StatusNew          = "New"
	StatusWarmProspect = "Warm Prospect"
	StatusHotProspect  = "Hot Prospect"
	StatusDealWon      = "Deal Won"
	StatusAfterSales   = "After Sales"
	StatusCompleted    = "Completed"
	StatusInactive     = "Inactive"

	SubmissionPending  = "pending"
	SubmissionApproved = "approved"
	SubmissionRejected = "rejected"

	ScoreStatusActive    = "active"
	ScoreStatusCompleted = "completed"
	ScoreStatusSkipped   = "skipped"

	RevertNote          = "Reverted by user"
	AutoGeneratedPrefix = "Auto-generated"
	MinSummaryLength    = 5
	MinTextLength       = 5
)

type InputKind string

const (
	InputNone     InputKind = "none"
	InputText     InputKind = "text"
	InputPhone    InputKind = "phone"
	InputDate     InputKind = "date"
	InputNumber   InputKind = "number"
	InputCurrency InputKind = "currency"
	InputFile     InputKind = "file"
	InputImage    InputKind = "image"
	InputVideo    InputKind = "video"
)

var inputKinds = map[InputKind]bool{
	InputNone: true, InputText: true, InputPhone: true, InputDate: true, InputNumber: true,
	InputCurrency: true, InputFile: true, InputImage: true, InputVideo: true,
}

func (k InputKind) Valid() bool {
	return inputKinds[k]
}

// IsFile reports whether evidence of this kind is an uploaded file rather than text.
func (k InputKind) IsFile() bool {
	return k == InputFile || k == InputImage || k == InputVideo
}

type AdvancePolicy string

const (
	AdvanceAuto    AdvancePolicy = "auto"
	AdvanceSummary AdvancePolicy = "summary"
)

func ParseAdvancePolicy(raw string) (AdvancePolicy, error) {
	switch AdvancePolicy(raw) {
	case "", AdvanceAuto:
		return AdvanceAuto, nil
	case AdvanceSummary:
		return AdvanceSummary, nil
	}
	return "", fmt.Errorf("unknown advance policy %q", raw)
}

type AdvanceMode string

const (
	ModeAuto           AdvanceMode = "auto"
	ModeSkip           AdvanceMode = "skip"
	ModeSummaryConfirm AdvanceMode = "summary-confirm"
)

var activeProspectStatuses = map[string]bool{
	StatusNew:          true,
	StatusWarmProspect: true,
	StatusHotProspect:  true,
}

// IsActiveProspect reports whether status belongs to a prospect still being worked.
func IsActiveProspect(status string) bool {
	return activeProspectStatuses[status]
}
