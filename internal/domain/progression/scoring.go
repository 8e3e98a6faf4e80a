package progression

import "time"

// ComputeStageScore derives a rep's score for one stage of one customer from
// the assigned tasks and the approved task ids.
func ComputeStageScore(customerID int64, stage Stage, repID string, assigned []Task, approved map[int64]bool, now time.Time) StageScore {
	score := StageScore{
		CustomerID:  customerID,
		StageID:     stage.ID,
		RepID:       repID,
		TasksTotal:  len(assigned),
		StageWeight: stage.Weight,
		Status:      ScoreStatusActive,
	}
	for _, t := range assigned {
		if approved[t.ID] {
			score.TasksCompleted++
		}
	}
	if score.TasksTotal > 0 {
		ratio := float64(score.TasksCompleted) / float64(score.TasksTotal)
		score.CompletionRate = round2(ratio * 100)
		score.EarnedPoints = round2(ratio * score.StageWeight)
	}
	if score.TasksTotal > 0 && score.TasksCompleted >= score.TasksTotal {
		score.Status = ScoreStatusCompleted
		completed := now
		score.CompletedAt = &completed
	}
	return score
}

// ComputeRollup aggregates every stage score of a customer.
func ComputeRollup(scores []StageScore) Rollup {
	var r Rollup
	for _, s := range scores {
		r.EarnedPoints += s.EarnedPoints
		r.MaxPoints += s.StageWeight
	}
	r.EarnedPoints = round2(r.EarnedPoints)
	r.MaxPoints = round2(r.MaxPoints)
	if r.MaxPoints > 0 {
		r.ScorePercentage = round2(r.EarnedPoints / r.MaxPoints * 100)
	}
	return r
}

// RepTotalPoints sums the earned points across a rep's stage scores.
func RepTotalPoints(scores []StageScore, repID string) float64 {
	var total float64
	for _, s := range scores {
		if s.RepID == repID {
			total += s.EarnedPoints
		}
	}
	return round2(total)
}
