package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStageScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stage := Stage{ID: 4, Code: StageCodeVisit1, Weight: 10}
	assigned := []Task{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}

	half := ComputeStageScore(7, stage, "rep", assigned, map[int64]bool{1: true, 3: true}, now)
	assert.Equal(t, 2, half.TasksCompleted)
	assert.Equal(t, 4, half.TasksTotal)
	assert.Equal(t, 50.0, half.CompletionRate)
	assert.Equal(t, 5.0, half.EarnedPoints)
	assert.Equal(t, ScoreStatusActive, half.Status)
	assert.Nil(t, half.CompletedAt)

	full := ComputeStageScore(7, stage, "rep", assigned, map[int64]bool{1: true, 2: true, 3: true, 4: true}, now)
	assert.Equal(t, 100.0, full.CompletionRate)
	assert.Equal(t, 10.0, full.EarnedPoints)
	assert.Equal(t, ScoreStatusCompleted, full.Status)
	require.NotNil(t, full.CompletedAt)
	assert.True(t, full.CompletedAt.Equal(now))

	empty := ComputeStageScore(7, stage, "rep", nil, map[int64]bool{1: true}, now)
	assert.Equal(t, 0.0, empty.CompletionRate)
	assert.Equal(t, 0.0, empty.EarnedPoints)
	assert.Equal(t, ScoreStatusActive, empty.Status)
}

func TestScoreConsistency(t *testing.T) {
	stage := Stage{ID: 1, Weight: 15}
	assigned := []Task{{ID: 1}, {ID: 2}, {ID: 3}}
	for approvedCount := 0; approvedCount <= 3; approvedCount++ {
		approved := map[int64]bool{}
		for i := 1; i <= approvedCount; i++ {
			approved[int64(i)] = true
		}
		sc := ComputeStageScore(1, stage, "rep", assigned, approved, time.Now())
		assert.InDelta(t, sc.CompletionRate/100*sc.StageWeight, sc.EarnedPoints, 0.01)
		assert.Equal(t, sc.Status == ScoreStatusCompleted, sc.TasksCompleted == sc.TasksTotal)
	}
}

func TestComputeStageScoreRoundsOnce(t *testing.T) {
	stage := Stage{ID: 2, Weight: 1000}
	assigned := []Task{{ID: 1}, {ID: 2}, {ID: 3}}

	sc := ComputeStageScore(1, stage, "rep", assigned, map[int64]bool{1: true, 2: true}, time.Now())
	assert.Equal(t, 66.67, sc.CompletionRate)
	assert.Equal(t, 666.67, sc.EarnedPoints)
}

func TestComputeRollup(t *testing.T) {
	r := ComputeRollup([]StageScore{
		{StageWeight: 10, EarnedPoints: 10},
		{StageWeight: 20, EarnedPoints: 5},
	})
	assert.Equal(t, Rollup{EarnedPoints: 15, MaxPoints: 30, ScorePercentage: 50}, r)
	assert.Equal(t, Rollup{}, ComputeRollup(nil))
}

func TestRepTotalPoints(t *testing.T) {
	scores := []StageScore{
		{RepID: "a", EarnedPoints: 2.5},
		{RepID: "b", EarnedPoints: 4},
		{RepID: "a", EarnedPoints: 7.25},
	}
	assert.Equal(t, 9.75, RepTotalPoints(scores, "a"))
	assert.Equal(t, 0.0, RepTotalPoints(scores, "c"))
}
