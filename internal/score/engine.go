package score

import (
	"math"
	"sort"

	"quiz-room-service/internal/domain"
)

// Engine grades answers and computes time-weighted points. It is stateless
// and purely functional; the orchestrator receives one by injection.
type Engine struct{}

func NewEngine() Engine {
	return Engine{}
}

// Grade is the outcome of checking a selection against a question.
type Grade struct {
	IsCorrect     bool
	CorrectOption int
}

// GradeAnswer checks a selection against the question's correct option.
// A nil selection (no answer) is always incorrect.
func (Engine) GradeAnswer(q domain.Question, selection *int) Grade {
	g := Grade{CorrectOption: q.CorrectOption}
	if selection == nil {
		return g
	}
	g.IsCorrect = *selection == q.CorrectOption
	return g
}

// Points computes the award for one answer. A correct answer earns the base
// plus a time bonus that scales linearly from maxTimeBonus at 0ms to zero at
// the time limit. An incorrect answer earns zero, or minus the configured
// penalty. The result is always clamped to be non-negative.
func (Engine) Points(cfg domain.ScoringConfig, correct bool, responseTimeMs, timeLimitMs int) int {
	points := 0
	if correct {
		points = cfg.BasePoints
		if cfg.MaxTimeBonus > 0 && timeLimitMs > 0 {
			rt := responseTimeMs
			if rt < 0 {
				rt = 0
			}
			if rt > timeLimitMs {
				rt = timeLimitMs
			}
			left := float64(timeLimitMs - rt)
			points += int(math.Round(float64(cfg.MaxTimeBonus) * left / float64(timeLimitMs)))
		}
	} else {
		points = -cfg.WrongAnswerPenalty
	}
	if points < 0 {
		points = 0
	}
	return points
}

// Rank orders cumulative totals into a leaderboard: total score descending,
// ties broken by participant id ascending so the order is deterministic.
// Members missing from totals are listed with zero.
func (Engine) Rank(members []domain.Member, totals map[string]int) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for _, m := range members {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: m.ParticipantID,
			DisplayName:   m.DisplayName,
			TotalScore:    totals[m.ParticipantID],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		return entries[i].ParticipantID < entries[j].ParticipantID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
