package progression

import "sort"

var stageStatuses = map[string]string{
	StageCodeVisit1:     StatusNew,
	StageCodeVisit2:     StatusWarmProspect,
	StageCodeVisit3:     StatusHotProspect,
	StageCodeDeal:       StatusDealWon,
	StageCodeAfterSales: StatusAfterSales,
}

// StatusForStage returns the customer status label shown while a prospect
// sits in the stage with the given code.
func StatusForStage(code string) string {
	if s, ok := stageStatuses[code]; ok {
		return s
	}
	return StatusCompleted
}

// CycleStages keeps the cycle stages ordered by sequence.
func CycleStages(stages []Stage) []Stage {
	out := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if s.Kind == StageKindCycle {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// NextStage returns the cycle stage with the smallest sequence strictly
// greater than current's.
func NextStage(stages []Stage, current Stage) (Stage, bool) {
	for _, s := range CycleStages(stages) {
		if s.Sequence > current.Sequence {
			return s, true
		}
	}
	return Stage{}, false
}

func FirstStage(stages []Stage) (Stage, bool) {
	cycle := CycleStages(stages)
	if len(cycle) == 0 {
		return Stage{}, false
	}
	return cycle[0], true
}

// Transition is the customer state after an advance.
type Transition struct {
	StageID  int64
	Status   string
	Terminal bool
}

// PlanAdvance decides where a customer sitting in current goes next.
// Reaching past the last cycle stage keeps the stage and marks the customer
// Completed.
func PlanAdvance(stages []Stage, current Stage) Transition {
	next, ok := NextStage(stages, current)
	if !ok {
		return Transition{StageID: current.ID, Status: StatusCompleted, Terminal: true}
	}
	return Transition{StageID: next.ID, Status: StatusForStage(next.Code)}
}
