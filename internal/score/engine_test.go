package score_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/score"
)

func intp(v int) *int { return &v }

func TestGradeAnswer(t *testing.T) {
	engine := score.NewEngine()
	q := domain.Question{Options: []string{"a", "b", "c", "d"}, CorrectOption: 2}

	assert.True(t, engine.GradeAnswer(q, intp(2)).IsCorrect)
	assert.False(t, engine.GradeAnswer(q, intp(0)).IsCorrect)
	assert.Equal(t, 2, engine.GradeAnswer(q, intp(0)).CorrectOption)

	// No answer is always incorrect.
	assert.False(t, engine.GradeAnswer(q, nil).IsCorrect)
}

func TestPointsTimeBonus(t *testing.T) {
	engine := score.NewEngine()
	cfg := domain.ScoringConfig{BasePoints: 100, MaxTimeBonus: 50}

	// 2000ms of 10000ms used: 100 + round(50 * 8000/10000) = 140.
	assert.Equal(t, 140, engine.Points(cfg, true, 2000, 10000))
	// Instant answer gets the full bonus, answering at the limit gets none.
	assert.Equal(t, 150, engine.Points(cfg, true, 0, 10000))
	assert.Equal(t, 100, engine.Points(cfg, true, 10000, 10000))
	// Response time outside the window is clamped.
	assert.Equal(t, 100, engine.Points(cfg, true, 25000, 10000))
	assert.Equal(t, 150, engine.Points(cfg, true, -5, 10000))
}

func TestPointsMonotonicInResponseTime(t *testing.T) {
	engine := score.NewEngine()
	cfg := domain.ScoringConfig{BasePoints: 100, MaxTimeBonus: 50}

	prev := engine.Points(cfg, true, 0, 10000)
	for rt := 100; rt <= 10000; rt += 100 {
		p := engine.Points(cfg, true, rt, 10000)
		require.LessOrEqual(t, p, prev, "points must not increase with response time (rt=%d)", rt)
		prev = p
	}
}

func TestPointsIncorrect(t *testing.T) {
	engine := score.NewEngine()

	cfg := domain.ScoringConfig{BasePoints: 100, MaxTimeBonus: 50}
	assert.Equal(t, 0, engine.Points(cfg, false, 100, 10000))

	// A configured penalty never drives the award below zero.
	cfg.WrongAnswerPenalty = 25
	assert.Equal(t, 0, engine.Points(cfg, false, 100, 10000))
}

func TestRankOrdersByScoreWithDeterministicTies(t *testing.T) {
	engine := score.NewEngine()
	members := []domain.Member{
		{ParticipantID: "p3", DisplayName: "Cara"},
		{ParticipantID: "p1", DisplayName: "Alice"},
		{ParticipantID: "p2", DisplayName: "Bob"},
	}
	totals := map[string]int{"p1": 140, "p2": 0, "p3": 140}

	entries := engine.Rank(members, totals)
	require.Len(t, entries, 3)

	// Score descending; equal scores fall back to participant id ascending.
	assert.Equal(t, "p1", entries[0].ParticipantID)
	assert.Equal(t, "p3", entries[1].ParticipantID)
	assert.Equal(t, "p2", entries[2].ParticipantID)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}
}

func TestRankIncludesMembersWithoutScores(t *testing.T) {
	engine := score.NewEngine()
	members := []domain.Member{{ParticipantID: "p1", DisplayName: "Alice"}}

	entries := engine.Rank(members, map[string]int{})
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].TotalScore)
	assert.Equal(t, 1, entries[0].Rank)
}
