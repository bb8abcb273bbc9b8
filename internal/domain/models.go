package domain

import "time"

// Status is the lifecycle of a room. Transitions are strictly forward-moving;
// nothing ever returns a room to an earlier status or a lower question index.
type Status int

const (
	StatusWaiting Status = iota
	StatusCountdown
	StatusInProgress
	StatusRevealing
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusCountdown:
		return "countdown"
	case StatusInProgress:
		return "in_progress"
	case StatusRevealing:
		return "revealing"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// ScoringConfig controls how points are awarded for a quiz.
type ScoringConfig struct {
	BasePoints   int `json:"basePoints"`
	MaxTimeBonus int `json:"maxTimeBonus"`
	// WrongAnswerPenalty is subtracted for an incorrect answer; the final
	// award is always clamped to zero. Zero disables the penalty.
	WrongAnswerPenalty int `json:"wrongAnswerPenalty"`
}

// Question models an MCQ question. CorrectOption is server-side data and must
// never appear in payloads sent to participants.
type Question struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	MediaURL      string   `json:"mediaUrl,omitempty"`
	CorrectOption int      `json:"correctOption"`
}

// Quiz is the immutable snapshot a room plays against, fetched once at start.
type Quiz struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	TimeLimitMs int           `json:"timeLimitMs"`
	Scoring     ScoringConfig `json:"scoring"`
	Questions   []Question    `json:"questions"`
}

// RoomSettings are host-chosen knobs captured at room creation.
type RoomSettings struct {
	MaxPlayers int `json:"maxPlayers"`
}

// Member is a participant's public identity within a room.
type Member struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	IsHost        bool   `json:"isHost"`
	// Observer marks a participant who joined after the game started; they
	// see everything but never score and never block question resolution.
	Observer bool `json:"observer,omitempty"`
}

// Answer records one participant's submission for one question. Immutable once
// written; a second submission for the same (participant, index) never
// overwrites the first.
type Answer struct {
	ParticipantID  string
	QuestionIndex  int
	Selection      *int
	ResponseTimeMs int
	ReceivedAt     time.Time
}

// RoomSnapshot is a copy-safe view of a room for wire payloads.
type RoomSnapshot struct {
	Code        string   `json:"code"`
	QuizID      string   `json:"quizId"`
	QuizTitle   string   `json:"quizTitle,omitempty"`
	HostID      string   `json:"hostId,omitempty"`
	Status      string   `json:"status"`
	QuestionIdx int      `json:"questionIndex"`
	Members     []Member `json:"members"`
	MaxPlayers  int      `json:"maxPlayers"`
}

// LeaderboardEntry is one ranked row of a room's scoreboard.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	TotalScore    int    `json:"totalScore"`
	Rank          int    `json:"rank"`
}

// ParticipantOutcome is the per-player result for a single question.
type ParticipantOutcome struct {
	ParticipantID string `json:"participantId"`
	Selection     *int   `json:"selection"`
	IsCorrect     bool   `json:"isCorrect"`
	Points        int    `json:"points"`
}
