package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/room"
	"quiz-room-service/internal/score"
)

// QuizCatalog supplies quiz content for a starting game. FetchForGame returns
// the full server-side snapshot; CorrectAnswer resolves a single answer key,
// which the Redis-backed catalog serves from its answer hash.
type QuizCatalog interface {
	FetchForGame(ctx context.Context, quizID string) (domain.Quiz, error)
	CorrectAnswer(ctx context.Context, quizID string, questionIndex int) (int, error)
}

// Config holds the session policy knobs.
type Config struct {
	MinPlayers  int
	Countdown   time.Duration
	RevealDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinPlayers <= 0 {
		c.MinPlayers = 1
	}
	if c.Countdown <= 0 {
		c.Countdown = 3 * time.Second
	}
	if c.RevealDelay <= 0 {
		c.RevealDelay = 5 * time.Second
	}
	return c
}

// Orchestrator drives each room through its question cycles: send a question,
// collect answers until everyone answered or the clock runs out, reveal,
// advance. Two triggers race to resolve every question; a per-(room, index)
// token guarantees the resolution logic runs exactly once.
type Orchestrator struct {
	registry *room.Registry
	catalog  QuizCatalog
	engine   score.Engine
	cast     Broadcaster
	cfg      Config
	log      zerolog.Logger

	mu        sync.Mutex
	timers    map[string]*time.Timer
	resolved  map[string]struct{}
	finalized map[string]struct{}
}

func NewOrchestrator(registry *room.Registry, catalog QuizCatalog, engine score.Engine, cast Broadcaster, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		catalog:   catalog,
		engine:    engine,
		cast:      cast,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "orchestrator").Logger(),
		timers:    make(map[string]*time.Timer),
		resolved:  make(map[string]struct{}),
		finalized: make(map[string]struct{}),
	}
}

// Start begins the session: host-only, waiting-room-only, minimum player
// count enforced. It fetches the quiz snapshot, announces the countdown and
// schedules the first question.
func (o *Orchestrator) Start(ctx context.Context, code, participantID string) error {
	code = room.NormalizeCode(code)
	if err := o.registry.BeginCountdown(code, participantID, o.cfg.MinPlayers); err != nil {
		return err
	}

	// The room already left Waiting; any failure from here on would wedge it
	// in Countdown with no timer armed, so tear it down instead.
	snap, err := o.registry.Snapshot(code)
	if err != nil {
		o.Finalize(code)
		return err
	}
	quiz, err := o.catalog.FetchForGame(ctx, snap.QuizID)
	if err != nil {
		o.log.Warn().Err(err).Str("room", code).Str("quiz", snap.QuizID).Msg("quiz fetch failed, finalizing room")
		o.Finalize(code)
		return err
	}
	if err := o.registry.AttachQuiz(code, quiz); err != nil {
		o.Finalize(code)
		return err
	}

	o.log.Info().Str("room", code).Str("quiz", quiz.ID).Msg("game starting")
	o.cast.Broadcast(code, Event{Type: EventCountdownStarted, Payload: CountdownStartedPayload{
		DurationMs: int(o.cfg.Countdown / time.Millisecond),
	}})
	o.cast.Broadcast(code, Event{Type: EventGameStarted, Payload: GameStartedPayload{
		QuizTitle:      quiz.Title,
		TotalQuestions: len(quiz.Questions),
		TimeLimitMs:    quiz.TimeLimitMs,
	}})

	o.armTimer(code, countdownKey(code), o.cfg.Countdown, func() {
		o.advance(code, 0)
	})
	return nil
}

// SubmitAnswer records an answer and, when the last expected responder is in,
// resolves the question immediately instead of waiting for the deadline.
func (o *Orchestrator) SubmitAnswer(code, participantID string, questionIndex int, selection *int, responseTimeMs int) error {
	code = room.NormalizeCode(code)
	res, err := o.registry.RecordAnswer(code, participantID, questionIndex, selection, responseTimeMs)
	if err != nil {
		return err
	}

	if res.Recorded {
		o.cast.Broadcast(code, Event{Type: EventPlayerAnswered, Payload: PlayerAnsweredPayload{
			QuestionIndex: questionIndex,
			Answered:      o.registry.AnsweredCount(code, questionIndex),
			Expected:      o.registry.ExpectedResponderCount(code),
		}})
	}

	// The all-answered path. The timeout path races against this; whichever
	// claims the resolution token first does the work and the other is a
	// silent no-op.
	if res.Recorded && res.AllAnswered && o.claimResolution(code, questionIndex) {
		o.cancelTimer(questionKey(code, questionIndex))
		o.resolveQuestion(code, questionIndex)
	}
	return nil
}

// HandleDisconnect is the edge-triggered departure path: it removes the
// participant and tears the room down when the host is gone or the room has
// emptied mid-game, so no timers leak.
func (o *Orchestrator) HandleDisconnect(code, participantID string) {
	if code == "" {
		return
	}
	code = room.NormalizeCode(code)
	res, err := o.registry.Leave(code, participantID)
	if err != nil {
		return
	}

	snap, snapErr := o.registry.Snapshot(code)
	if snapErr == nil {
		o.cast.Broadcast(code, Event{Type: EventPlayerLeft, Payload: PlayerLeftPayload{
			ParticipantID: participantID,
			Members:       snap.Members,
		}})
	}

	if res.WasHost || (res.PlayersLeft == 0 && res.Status != domain.StatusWaiting) {
		o.log.Info().Str("room", code).Bool("hostLeft", res.WasHost).Msg("room abandoned, finalizing")
		o.Finalize(code)
	}
}

// advance sends question i or finalizes when the quiz is exhausted. It runs
// on scheduler callbacks, so it shields the process from panics.
func (o *Orchestrator) advance(code string, i int) {
	defer o.recoverTimer(code)

	view, err := o.registry.BeginQuestion(code, i)
	if errors.Is(err, domain.ErrQuestionNotFound) {
		o.Finalize(code)
		return
	}
	if err != nil {
		o.log.Warn().Err(err).Str("room", code).Int("question", i).Msg("cannot send question")
		o.Finalize(code)
		return
	}

	o.cast.Broadcast(code, Event{Type: EventNewQuestion, Payload: NewQuestionPayload{
		Index:       view.Index,
		Total:       view.Total,
		Text:        view.Question.Text,
		Options:     view.Question.Options,
		MediaURL:    view.Question.MediaURL,
		TimeLimitMs: view.TimeLimitMs,
	}})

	// The timeout path: when the clock runs out, unanswered players are
	// scored as incorrect.
	timeLimit := time.Duration(view.TimeLimitMs) * time.Millisecond
	o.armTimer(code, questionKey(code, i), timeLimit, func() {
		if o.claimResolution(code, i) {
			o.resolveQuestion(code, i)
		}
	})
}

// resolveQuestion grades every expected responder (synthesizing a zero-point
// "no answer" where needed), updates cumulative scores, broadcasts the reveal
// and schedules the next question. Callers must hold the resolution token.
func (o *Orchestrator) resolveQuestion(code string, i int) {
	defer o.recoverTimer(code)

	view, err := o.registry.BeginReveal(code, i)
	if err != nil {
		o.log.Warn().Err(err).Str("room", code).Int("question", i).Msg("cannot resolve question")
		o.Finalize(code)
		return
	}

	correct := o.correctOption(code, i, view.Question)

	outcomes := make([]domain.ParticipantOutcome, 0, len(view.Expected))
	awards := make(map[string]int, len(view.Expected))
	for _, member := range view.Expected {
		answer, answered := view.Answers[member.ParticipantID]
		var selection *int
		responseTime := 0
		if answered {
			selection = answer.Selection
			responseTime = answer.ResponseTimeMs
		}
		grade := o.engine.GradeAnswer(view.Question, selection)
		points := o.engine.Points(view.Scoring, grade.IsCorrect, responseTime, view.TimeLimitMs)
		awards[member.ParticipantID] = points
		outcomes = append(outcomes, domain.ParticipantOutcome{
			ParticipantID: member.ParticipantID,
			Selection:     selection,
			IsCorrect:     grade.IsCorrect,
			Points:        points,
		})
	}

	players, totals, err := o.registry.ApplyAwards(code, awards)
	if err != nil {
		o.log.Warn().Err(err).Str("room", code).Msg("cannot apply awards")
		o.Finalize(code)
		return
	}
	leaderboard := o.engine.Rank(players, totals)

	// A concurrent Finalize wins the room; its game_finished must be the last
	// broadcast, so the reveal is dropped entirely.
	if o.isFinalized(code) {
		return
	}

	o.cast.Broadcast(code, Event{Type: EventQuestionResults, Payload: QuestionResultsPayload{
		Index:         i,
		CorrectOption: correct,
		Outcomes:      outcomes,
		Leaderboard:   leaderboard,
	}})

	o.armTimer(code, revealKey(code, i), o.cfg.RevealDelay, func() {
		o.advance(code, i+1)
	})
}

// correctOption prefers the catalog's answer key (served from the Redis hash
// when one is configured) and falls back to the room's own snapshot.
func (o *Orchestrator) correctOption(code string, i int, q domain.Question) int {
	snap, err := o.registry.Snapshot(code)
	if err != nil {
		return q.CorrectOption
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	correct, err := o.catalog.CorrectAnswer(ctx, snap.QuizID, i)
	if err != nil {
		o.log.Debug().Err(err).Str("room", code).Int("question", i).Msg("answer key lookup failed, using snapshot")
		return q.CorrectOption
	}
	return correct
}

// Finalize ends the session: it broadcasts the final leaderboard and winner,
// then releases all room state and cancels outstanding timers. It is safe to
// call from any exit path and runs at most once per room.
func (o *Orchestrator) Finalize(code string) {
	code = room.NormalizeCode(code)
	o.mu.Lock()
	if _, done := o.finalized[code]; done {
		o.mu.Unlock()
		return
	}
	o.finalized[code] = struct{}{}
	o.mu.Unlock()

	if err := o.registry.Finish(code); err == nil {
		players, totals, standErr := o.registry.Standings(code)
		payload := GameFinishedPayload{}
		if standErr == nil {
			payload.Leaderboard = o.engine.Rank(players, totals)
			if len(payload.Leaderboard) > 0 {
				winner := payload.Leaderboard[0]
				payload.Winner = &winner
			}
		}
		o.cast.Broadcast(code, Event{Type: EventGameFinished, Payload: payload})
	}

	o.cancelRoomTimers(code)
	o.registry.Purge(context.Background(), code)
	o.forgetRoom(code)
	o.log.Info().Str("room", code).Msg("room finalized")
}

// claimResolution atomically takes the per-(room, index) token. Exactly one
// caller per pair ever gets true; everyone else must treat the question as
// already resolved.
func (o *Orchestrator) claimResolution(code string, i int) bool {
	key := questionKey(code, i)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, done := o.resolved[key]; done {
		return false
	}
	o.resolved[key] = struct{}{}
	return true
}

// armTimer schedules a callback unless the room has entered finalization, so
// a resolve racing Finalize can never leave a dangling timer behind.
func (o *Orchestrator) isFinalized(code string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, done := o.finalized[code]
	return done
}

func (o *Orchestrator) armTimer(code, key string, d time.Duration, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, done := o.finalized[code]; done {
		return
	}
	if t, ok := o.timers[key]; ok {
		t.Stop()
	}
	o.timers[key] = time.AfterFunc(d, func() {
		o.mu.Lock()
		delete(o.timers, key)
		o.mu.Unlock()
		fn()
	})
}

// cancelTimer stops a pending timer. Stopping one that already fired is a
// safe no-op; the resolution token covers that window.
func (o *Orchestrator) cancelTimer(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.timers[key]; ok {
		t.Stop()
		delete(o.timers, key)
	}
}

func (o *Orchestrator) cancelRoomTimers(code string) {
	prefix := code + "#"
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, t := range o.timers {
		if strings.HasPrefix(key, prefix) {
			t.Stop()
			delete(o.timers, key)
		}
	}
}

func (o *Orchestrator) forgetRoom(code string) {
	prefix := code + "#"
	o.mu.Lock()
	defer o.mu.Unlock()
	for key := range o.resolved {
		if strings.HasPrefix(key, prefix) {
			delete(o.resolved, key)
		}
	}
	delete(o.finalized, code)
}

// recoverTimer keeps a panicking scheduler callback from crashing the
// process; the affected room is finalized rather than left stuck.
func (o *Orchestrator) recoverTimer(code string) {
	if r := recover(); r != nil {
		o.log.Error().Str("room", code).Interface("panic", r).Msg("timer callback panicked, finalizing room")
		o.Finalize(code)
	}
}

func countdownKey(code string) string {
	return code + "#countdown"
}

func questionKey(code string, i int) string {
	return fmt.Sprintf("%s#q%d", code, i)
}

func revealKey(code string, i int) string {
	return fmt.Sprintf("%s#r%d", code, i)
}
