package game

import "quiz-room-service/internal/domain"

// Event is one message fanned out to every connection in a room.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Broadcaster delivers an event to every connection currently associated
// with a room. The websocket hub implements it; tests use a recorder.
type Broadcaster interface {
	Broadcast(code string, event Event)
}

const (
	EventCountdownStarted = "countdown_started"
	EventGameStarted      = "game_started"
	EventNewQuestion      = "new_question"
	EventQuestionResults  = "question_results"
	EventGameFinished     = "game_finished"
	EventPlayerJoined     = "player_joined"
	EventPlayerLeft       = "player_left"
	EventPlayerAnswered   = "player_answered"
)

type CountdownStartedPayload struct {
	DurationMs int `json:"durationMs"`
}

type GameStartedPayload struct {
	QuizTitle      string `json:"quizTitle"`
	TotalQuestions int    `json:"totalQuestions"`
	TimeLimitMs    int    `json:"timeLimitMs"`
}

// NewQuestionPayload carries everything a client needs to render a question.
// It deliberately has no field for the correct option.
type NewQuestionPayload struct {
	Index       int      `json:"questionIndex"`
	Total       int      `json:"totalQuestions"`
	Text        string   `json:"text"`
	Options     []string `json:"options"`
	MediaURL    string   `json:"mediaUrl,omitempty"`
	TimeLimitMs int      `json:"timeLimitMs"`
}

type QuestionResultsPayload struct {
	Index         int                         `json:"questionIndex"`
	CorrectOption int                         `json:"correctOption"`
	Outcomes      []domain.ParticipantOutcome `json:"outcomes"`
	Leaderboard   []domain.LeaderboardEntry   `json:"leaderboard"`
}

type GameFinishedPayload struct {
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	Winner      *domain.LeaderboardEntry  `json:"winner,omitempty"`
}

type PlayerJoinedPayload struct {
	ParticipantID string          `json:"participantId"`
	DisplayName   string          `json:"displayName"`
	Members       []domain.Member `json:"members"`
}

type PlayerLeftPayload struct {
	ParticipantID string          `json:"participantId"`
	Members       []domain.Member `json:"members"`
}

type PlayerAnsweredPayload struct {
	QuestionIndex int `json:"questionIndex"`
	Answered      int `json:"answered"`
	Expected      int `json:"expected"`
}
