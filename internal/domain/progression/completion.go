package progression

import "math"

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// EvaluateCompletion compares the assigned tasks of a stage with the set of
// task ids holding an approved submission. legacyApproved is the count of
// approvals recorded for the stage regardless of assignment; it only matters
// when legacyFallback is on and nothing is assigned.
func EvaluateCompletion(assigned []Task, approved map[int64]bool, legacyApproved int, legacyFallback bool) Completion {
	c := Completion{AssignedCount: len(assigned)}
	for _, t := range assigned {
		if approved[t.ID] {
			c.ApprovedCount++
		}
	}
	if c.AssignedCount == 0 {
		if legacyFallback && legacyApproved > 0 {
			c.ApprovedCount = legacyApproved
			c.Percent = 100
		}
		return c
	}
	c.Percent = math.Min(100, round2(float64(c.ApprovedCount)/float64(c.AssignedCount)*100))
	c.IsComplete = c.ApprovedCount >= c.AssignedCount
	return c
}

// ProgressWeight is the share of a stage one accepted task represents.
func ProgressWeight(assignedCount int) float64 {
	if assignedCount <= 0 {
		return 0
	}
	return round2(100 / float64(assignedCount))
}
