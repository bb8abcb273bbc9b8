package domain

import "errors"

var (
	// ErrInvalidToken is returned when a connection presents a bad, expired,
	// or missing credential.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrNotAuthenticated is returned when a connection acts before authenticating.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRoomNotFound is returned when no room exists for a code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question index is out of range.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrRoomFull is returned when a join would exceed the room's player cap.
	ErrRoomFull = errors.New("room is full")
	// ErrAlreadyStarted is returned for a start on a room that already left waiting.
	ErrAlreadyStarted = errors.New("game already started")
	// ErrNotHost is returned when a non-host performs a host-only action.
	ErrNotHost = errors.New("only the host can perform this action")
	// ErrHostCannotAnswer is returned when the host submits an answer.
	ErrHostCannotAnswer = errors.New("host cannot answer questions")
	// ErrNotEnoughPlayers is returned for a start without the minimum player count.
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	// ErrWrongQuestion is returned for an answer whose index is not the
	// room's current question (stale or early).
	ErrWrongQuestion = errors.New("answer does not match the current question")
	// ErrNotAccepting is returned when the room's status does not allow the action.
	ErrNotAccepting = errors.New("room is not accepting this action")
)

// ErrorKind classifies errors for the wire; clients branch on the kind, not
// the message.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindPermission ErrorKind = "permission"
	KindState      ErrorKind = "state"
	KindInternal   ErrorKind = "internal"
)

// Kind maps a domain error to its wire classification.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrNotAuthenticated):
		return KindAuth
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrQuizNotFound), errors.Is(err, ErrQuestionNotFound):
		return KindNotFound
	case errors.Is(err, ErrRoomFull), errors.Is(err, ErrAlreadyStarted):
		return KindConflict
	case errors.Is(err, ErrNotHost), errors.Is(err, ErrHostCannotAnswer):
		return KindPermission
	case errors.Is(err, ErrNotEnoughPlayers), errors.Is(err, ErrWrongQuestion), errors.Is(err, ErrNotAccepting):
		return KindState
	default:
		return KindInternal
	}
}
