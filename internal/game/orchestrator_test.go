package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	"quiz-room-service/internal/room"
	"quiz-room-service/internal/score"
)

// recorder captures broadcast events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Broadcast(_ string, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// waitFor polls until an event matches pred or the deadline passes.
func (r *recorder) waitFor(t *testing.T, pred func(Event) bool, what string) Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range r.snapshot() {
			if pred(e) {
				return e
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; saw %d events", what, len(r.snapshot()))
	return Event{}
}

func (r *recorder) waitType(t *testing.T, eventType string) Event {
	t.Helper()
	return r.waitFor(t, func(e Event) bool { return e.Type == eventType }, eventType)
}

func intp(v int) *int { return &v }

type fixture struct {
	registry *room.Registry
	orch     *Orchestrator
	cast     *recorder
	code     string
}

// newFixture builds a room with host and players p1, p2 on the given quiz.
func newFixture(t *testing.T, quiz domain.Quiz, cfg Config) *fixture {
	t.Helper()
	catalog := memory.NewCatalog(memory.NewStaticQuizLoader(map[string]domain.Quiz{quiz.ID: quiz}), time.Minute)
	registry := room.NewRegistry(catalog)
	cast := &recorder{}
	orch := NewOrchestrator(registry, catalog, score.NewEngine(), cast, cfg, zerolog.Nop())

	code, err := registry.Create(context.Background(), quiz.ID, "host", domain.RoomSettings{MaxPlayers: 8})
	require.NoError(t, err)
	_, err = registry.Join(code, "host", "Helen")
	require.NoError(t, err)
	_, err = registry.Join(code, "p1", "Alice")
	require.NoError(t, err)
	_, err = registry.Join(code, "p2", "Bob")
	require.NoError(t, err)

	return &fixture{registry: registry, orch: orch, cast: cast, code: code}
}

func fastConfig() Config {
	return Config{MinPlayers: 1, Countdown: 5 * time.Millisecond, RevealDelay: 5 * time.Millisecond}
}

func twoQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:          "quiz-1",
		Title:       "Capitals",
		TimeLimitMs: 10000,
		Scoring:     domain.ScoringConfig{BasePoints: 100, MaxTimeBonus: 50},
		Questions: []domain.Question{
			{Text: "Capital of France?", Options: []string{"Lyon", "Paris", "Nice", "Lille"}, CorrectOption: 1},
			{Text: "Capital of Japan?", Options: []string{"Kyoto", "Osaka", "Tokyo", "Nagoya"}, CorrectOption: 2},
		},
	}
}

func TestFullGameFlow(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), fastConfig())

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventCountdownStarted)
	started := fx.cast.waitType(t, EventGameStarted).Payload.(GameStartedPayload)
	assert.Equal(t, "Capitals", started.QuizTitle)
	assert.Equal(t, 2, started.TotalQuestions)

	q0 := fx.cast.waitType(t, EventNewQuestion).Payload.(NewQuestionPayload)
	assert.Equal(t, 0, q0.Index)
	assert.Equal(t, []string{"Lyon", "Paris", "Nice", "Lille"}, q0.Options)

	// P1 answers correctly at 2000ms, P2 picks a wrong option.
	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p1", 0, intp(1), 2000))
	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p2", 0, intp(0), 4000))

	results := fx.cast.waitType(t, EventQuestionResults).Payload.(QuestionResultsPayload)
	assert.Equal(t, 0, results.Index)
	assert.Equal(t, 1, results.CorrectOption)

	byID := map[string]domain.ParticipantOutcome{}
	for _, o := range results.Outcomes {
		byID[o.ParticipantID] = o
	}
	// 100 base + round(50 * 8000/10000) = 140.
	assert.True(t, byID["p1"].IsCorrect)
	assert.Equal(t, 140, byID["p1"].Points)
	assert.False(t, byID["p2"].IsCorrect)
	assert.Equal(t, 0, byID["p2"].Points)

	require.Len(t, results.Leaderboard, 2)
	assert.Equal(t, "p1", results.Leaderboard[0].ParticipantID)
	assert.Equal(t, 140, results.Leaderboard[0].TotalScore)
	assert.Equal(t, 1, results.Leaderboard[0].Rank)
	assert.Equal(t, "p2", results.Leaderboard[1].ParticipantID)
	assert.Equal(t, 0, results.Leaderboard[1].TotalScore)
	assert.Equal(t, 2, results.Leaderboard[1].Rank)

	q1 := fx.cast.waitFor(t, func(e Event) bool {
		p, ok := e.Payload.(NewQuestionPayload)
		return e.Type == EventNewQuestion && ok && p.Index == 1
	}, "second question").Payload.(NewQuestionPayload)
	assert.Equal(t, 2, q1.Total)

	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p1", 1, intp(2), 1000))
	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p2", 1, intp(2), 1000))

	finished := fx.cast.waitType(t, EventGameFinished).Payload.(GameFinishedPayload)
	require.NotNil(t, finished.Winner)
	assert.Equal(t, "p1", finished.Winner.ParticipantID)
	require.Len(t, finished.Leaderboard, 2)
	// Totals are the sum of every per-question award.
	assert.Equal(t, 140+145, finished.Leaderboard[0].TotalScore)
	assert.Equal(t, 0+145, finished.Leaderboard[1].TotalScore)

	// All state is released once the game finishes.
	_, err := fx.registry.Snapshot(fx.code)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Equal(t, 2, fx.cast.count(EventQuestionResults))
}

func TestTimeoutScoresMissingAnswersAsZero(t *testing.T) {
	quiz := twoQuestionQuiz()
	quiz.TimeLimitMs = 60
	quiz.Questions = quiz.Questions[:1]
	fx := newFixture(t, quiz, fastConfig())

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventNewQuestion)

	// Only P1 answers; the deadline resolves the question.
	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p1", 0, intp(1), 10))

	results := fx.cast.waitType(t, EventQuestionResults).Payload.(QuestionResultsPayload)
	byID := map[string]domain.ParticipantOutcome{}
	for _, o := range results.Outcomes {
		byID[o.ParticipantID] = o
	}
	require.Contains(t, byID, "p2")
	assert.Nil(t, byID["p2"].Selection)
	assert.False(t, byID["p2"].IsCorrect)
	assert.Equal(t, 0, byID["p2"].Points)
	assert.True(t, byID["p1"].IsCorrect)

	fx.cast.waitType(t, EventGameFinished)
}

func TestAllAnsweredResolvesOnceAndCancelsTimeout(t *testing.T) {
	quiz := twoQuestionQuiz()
	quiz.TimeLimitMs = 80
	quiz.Questions = quiz.Questions[:1]
	fx := newFixture(t, quiz, fastConfig())

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventNewQuestion)

	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p1", 0, intp(1), 5))
	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p2", 0, intp(1), 10))

	fx.cast.waitType(t, EventQuestionResults)
	fx.cast.waitType(t, EventGameFinished)

	// Let the original deadline pass; the armed timeout must not produce a
	// second reveal.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, fx.cast.count(EventQuestionResults))
	assert.Equal(t, 1, fx.cast.count(EventGameFinished))
}

func TestResolutionTokenIsExclusive(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), Config{MinPlayers: 1, Countdown: time.Hour, RevealDelay: time.Hour})

	const contenders = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fx.orch.claimResolution(fx.code, 0) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners, "exactly one trigger may resolve a question")
}

func TestStartPolicy(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), Config{MinPlayers: 1, Countdown: time.Hour, RevealDelay: time.Hour})

	err := fx.orch.Start(context.Background(), fx.code, "p1")
	assert.ErrorIs(t, err, domain.ErrNotHost)

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	err = fx.orch.Start(context.Background(), fx.code, "host")
	assert.ErrorIs(t, err, domain.ErrAlreadyStarted)
}

func TestHostCannotAnswer(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), fastConfig())

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventNewQuestion)

	err := fx.orch.SubmitAnswer(fx.code, "host", 0, intp(1), 100)
	assert.ErrorIs(t, err, domain.ErrHostCannotAnswer)
	assert.Equal(t, domain.KindPermission, domain.Kind(err))
}

func TestDuplicateAnswerIsNoOp(t *testing.T) {
	quiz := twoQuestionQuiz()
	quiz.TimeLimitMs = 100
	quiz.Questions = quiz.Questions[:1]
	fx := newFixture(t, quiz, fastConfig())

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventNewQuestion)

	// First submission wins; the second (a wrong answer) changes nothing.
	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p1", 0, intp(1), 10))
	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p1", 0, intp(0), 20))
	require.NoError(t, fx.orch.SubmitAnswer(fx.code, "p2", 0, intp(0), 30))

	results := fx.cast.waitType(t, EventQuestionResults).Payload.(QuestionResultsPayload)
	for _, o := range results.Outcomes {
		if o.ParticipantID == "p1" {
			assert.True(t, o.IsCorrect, "first submission must stand")
		}
	}
}

func TestStaleAnswerRejected(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), fastConfig())

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventNewQuestion)

	err := fx.orch.SubmitAnswer(fx.code, "p1", 1, intp(1), 100)
	assert.ErrorIs(t, err, domain.ErrWrongQuestion)
	assert.Equal(t, domain.KindState, domain.Kind(err))
}

func TestHostDisconnectFinalizesRoom(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), fastConfig())

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventNewQuestion)

	fx.orch.HandleDisconnect(fx.code, "host")

	fx.cast.waitType(t, EventGameFinished)
	_, err := fx.registry.Snapshot(fx.code)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRoomEmptiedMidGameFinalizes(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), fastConfig())

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventNewQuestion)

	fx.orch.HandleDisconnect(fx.code, "p1")
	fx.orch.HandleDisconnect(fx.code, "p2")

	fx.cast.waitType(t, EventGameFinished)
	_, err := fx.registry.Snapshot(fx.code)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), fastConfig())

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventNewQuestion)

	fx.orch.Finalize(fx.code)
	fx.orch.Finalize(fx.code)

	assert.Equal(t, 1, fx.cast.count(EventGameFinished))
}

func TestStartUnknownRoom(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), fastConfig())

	err := fx.orch.Start(context.Background(), "ZZZZZZ", "host")
	assert.True(t, errors.Is(err, domain.ErrRoomNotFound))
}

// fetchFailingCatalog lets room creation succeed but always fails the game
// fetch, like a store that went away between create and start.
type fetchFailingCatalog struct {
	*memory.Catalog
}

func (fetchFailingCatalog) FetchForGame(context.Context, string) (domain.Quiz, error) {
	return domain.Quiz{}, errors.New("quiz store unavailable")
}

func TestStartFetchFailureFinalizesRoom(t *testing.T) {
	quiz := twoQuestionQuiz()
	catalog := memory.NewCatalog(memory.NewStaticQuizLoader(map[string]domain.Quiz{quiz.ID: quiz}), time.Minute)
	registry := room.NewRegistry(catalog)
	cast := &recorder{}
	orch := NewOrchestrator(registry, fetchFailingCatalog{catalog}, score.NewEngine(), cast, fastConfig(), zerolog.Nop())

	code, err := registry.Create(context.Background(), quiz.ID, "host", domain.RoomSettings{})
	require.NoError(t, err)
	_, err = registry.Join(code, "host", "Helen")
	require.NoError(t, err)
	_, err = registry.Join(code, "p1", "Alice")
	require.NoError(t, err)

	require.Error(t, orch.Start(context.Background(), code, "host"))

	// The room must not stay wedged in countdown: it is torn down, so the
	// failed start is recoverable by creating a fresh room.
	_, err = registry.Snapshot(code)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	err = orch.Start(context.Background(), code, "host")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Equal(t, 1, cast.count(EventGameFinished))
}

func TestResolveSkipsRevealWhenRoomFinalizing(t *testing.T) {
	fx := newFixture(t, twoQuestionQuiz(), Config{MinPlayers: 1, Countdown: time.Millisecond, RevealDelay: time.Hour})

	require.NoError(t, fx.orch.Start(context.Background(), fx.code, "host"))
	fx.cast.waitType(t, EventNewQuestion)

	// Finalization claims the room just before resolution would reveal.
	fx.orch.mu.Lock()
	fx.orch.finalized[fx.code] = struct{}{}
	fx.orch.mu.Unlock()

	require.True(t, fx.orch.claimResolution(fx.code, 0))
	fx.orch.resolveQuestion(fx.code, 0)

	assert.Equal(t, 0, fx.cast.count(EventQuestionResults))
	fx.orch.mu.Lock()
	_, armed := fx.orch.timers[revealKey(fx.code, 0)]
	fx.orch.mu.Unlock()
	assert.False(t, armed, "reveal timer must not be armed for a finalizing room")
}
