package room

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"quiz-room-service/internal/domain"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
	codeAttempts = 16

	DefaultMaxPlayers = 10
)

// QuizCatalog is the slice of the catalog the registry needs: existence checks
// at room creation.
type QuizCatalog interface {
	Exists(ctx context.Context, quizID string) (bool, error)
}

// CodeReserver marks room codes in a shared store so a code is never handed
// out twice. Reserve reports false when the code is already taken.
type CodeReserver interface {
	Reserve(ctx context.Context, code string) (bool, error)
	Release(ctx context.Context, code string)
}

// Registry owns the in-memory state of every active room. All mutations go
// through its atomic operations; each room carries its own mutex so
// contention never crosses room boundaries.
type Registry struct {
	catalog    QuizCatalog
	reserver   CodeReserver // may be nil
	now        func() time.Time
	defaultMax int

	mu    sync.RWMutex
	rooms map[string]*room
	rnd   *rand.Rand
}

type memberState struct {
	name     string
	isHost   bool
	observer bool
}

type room struct {
	mu       sync.Mutex
	code     string
	quizID   string
	hostID   string
	settings domain.RoomSettings
	quiz     *domain.Quiz
	status   domain.Status
	current  int

	members map[string]*memberState
	// answers is the per-question ledger: index -> participant -> answer.
	// Entries are write-once.
	answers map[int]map[string]domain.Answer
	// expected is the responder set captured when each question was sent.
	expected map[int]map[string]struct{}
	totals   map[string]int

	createdAt time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithCodeReserver backs code uniqueness with a shared store (e.g. Redis).
func WithCodeReserver(r CodeReserver) Option {
	return func(reg *Registry) { reg.reserver = r }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(reg *Registry) { reg.now = now }
}

// WithDefaultMaxPlayers overrides the player cap applied when room settings
// leave it unset.
func WithDefaultMaxPlayers(n int) Option {
	return func(reg *Registry) {
		if n > 0 {
			reg.defaultMax = n
		}
	}
}

func NewRegistry(catalog QuizCatalog, opts ...Option) *Registry {
	reg := &Registry{
		catalog:    catalog,
		now:        time.Now,
		defaultMax: DefaultMaxPlayers,
		rooms:      make(map[string]*room),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Create validates the quiz, generates a unique room code and stores a new
// waiting room with the host recorded and no other members.
func (reg *Registry) Create(ctx context.Context, quizID, hostID string, settings domain.RoomSettings) (string, error) {
	ok, err := reg.catalog.Exists(ctx, quizID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrQuizNotFound
	}
	if settings.MaxPlayers <= 0 {
		settings.MaxPlayers = reg.defaultMax
	}

	code, err := reg.claimCode(ctx)
	if err != nil {
		return "", err
	}

	r := &room{
		code:      code,
		quizID:    quizID,
		hostID:    hostID,
		settings:  settings,
		status:    domain.StatusWaiting,
		members:   map[string]*memberState{hostID: {isHost: true}},
		answers:   make(map[int]map[string]domain.Answer),
		expected:  make(map[int]map[string]struct{}),
		totals:    make(map[string]int),
		createdAt: reg.now(),
	}

	reg.mu.Lock()
	reg.rooms[code] = r
	reg.mu.Unlock()
	return code, nil
}

func (reg *Registry) claimCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := reg.randomCode()

		reg.mu.RLock()
		_, taken := reg.rooms[code]
		reg.mu.RUnlock()
		if taken {
			continue
		}
		if reg.reserver != nil {
			ok, err := reg.reserver.Reserve(ctx, code)
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
		}
		return code, nil
	}
	return "", fmt.Errorf("could not allocate a unique room code after %d attempts", codeAttempts)
}

func (reg *Registry) randomCode() string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[reg.rnd.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// NormalizeCode upper-cases a client-supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (reg *Registry) get(code string) (*room, error) {
	reg.mu.RLock()
	r, ok := reg.rooms[NormalizeCode(code)]
	reg.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return r, nil
}

// Join adds a participant to a room. Re-joining with the same id is
// idempotent and only refreshes the display name. A non-host joining after
// the game started is admitted as a non-scoring observer.
func (reg *Registry) Join(code, participantID, displayName string) (domain.RoomSnapshot, error) {
	r, err := reg.get(code)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.members[participantID]; ok {
		m.name = displayName
		return r.snapshotLocked(), nil
	}
	if r.status == domain.StatusFinished {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	if r.playerCountLocked() >= r.settings.MaxPlayers {
		return domain.RoomSnapshot{}, domain.ErrRoomFull
	}
	r.members[participantID] = &memberState{
		name:     displayName,
		observer: r.status != domain.StatusWaiting,
	}
	return r.snapshotLocked(), nil
}

// LeaveResult tells the orchestrator what a departure means for the room.
type LeaveResult struct {
	WasHost     bool
	PlayersLeft int
	Status      domain.Status
}

// Leave removes a participant. If the host leaves the host slot is cleared;
// there is no automatic promotion.
func (reg *Registry) Leave(code, participantID string) (LeaveResult, error) {
	r, err := reg.get(code)
	if err != nil {
		return LeaveResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[participantID]
	if !ok {
		return LeaveResult{PlayersLeft: r.playerCountLocked(), Status: r.status}, nil
	}
	delete(r.members, participantID)
	if m.isHost {
		r.hostID = ""
	}
	return LeaveResult{
		WasHost:     m.isHost,
		PlayersLeft: r.playerCountLocked(),
		Status:      r.status,
	}, nil
}

// BeginCountdown validates a start request and moves the room to countdown.
func (reg *Registry) BeginCountdown(code, participantID string, minPlayers int) error {
	r, err := reg.get(code)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if participantID != r.hostID {
		return domain.ErrNotHost
	}
	if r.status != domain.StatusWaiting {
		return domain.ErrAlreadyStarted
	}
	if r.playerCountLocked() < minPlayers {
		return domain.ErrNotEnoughPlayers
	}
	r.status = domain.StatusCountdown
	return nil
}

// AttachQuiz stores the immutable quiz snapshot for the room's lifetime.
func (reg *Registry) AttachQuiz(code string, quiz domain.Quiz) error {
	r, err := reg.get(code)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quiz != nil {
		return domain.ErrAlreadyStarted
	}
	r.quiz = &quiz
	return nil
}

// QuestionView is what the orchestrator needs to broadcast one question.
type QuestionView struct {
	Index       int
	Total       int
	Question    domain.Question
	TimeLimitMs int
	Expected    []string
}

// BeginQuestion advances the room to question i, snapshotting the current
// scoring players as the expected responder set. Late joiners after this
// point never block resolution.
func (reg *Registry) BeginQuestion(code string, i int) (QuestionView, error) {
	r, err := reg.get(code)
	if err != nil {
		return QuestionView{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quiz == nil || r.status == domain.StatusWaiting || r.status == domain.StatusFinished {
		return QuestionView{}, domain.ErrNotAccepting
	}
	if i < r.current && r.status != domain.StatusCountdown {
		return QuestionView{}, domain.ErrNotAccepting
	}
	if i >= len(r.quiz.Questions) {
		return QuestionView{}, domain.ErrQuestionNotFound
	}

	expected := make(map[string]struct{})
	for id, m := range r.members {
		if !m.isHost && !m.observer {
			expected[id] = struct{}{}
		}
	}
	r.expected[i] = expected
	r.current = i
	r.status = domain.StatusInProgress

	ids := make([]string, 0, len(expected))
	for id := range expected {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return QuestionView{
		Index:       i,
		Total:       len(r.quiz.Questions),
		Question:    r.quiz.Questions[i],
		TimeLimitMs: r.quiz.TimeLimitMs,
		Expected:    ids,
	}, nil
}

// RecordResult reports what an answer submission did to the ledger.
type RecordResult struct {
	// Recorded is false for an idempotent duplicate, which is accepted but
	// changes nothing.
	Recorded    bool
	AllAnswered bool
}

// RecordAnswer writes one answer into the ledger. The host may never answer;
// an index other than the current question is rejected; a duplicate for an
// already-answered pair is a no-op that never overwrites the original.
func (reg *Registry) RecordAnswer(code, participantID string, questionIndex int, selection *int, responseTimeMs int) (RecordResult, error) {
	r, err := reg.get(code)
	if err != nil {
		return RecordResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if participantID == r.hostID {
		return RecordResult{}, domain.ErrHostCannotAnswer
	}
	if r.status != domain.StatusInProgress {
		return RecordResult{}, domain.ErrNotAccepting
	}
	if questionIndex != r.current {
		return RecordResult{}, domain.ErrWrongQuestion
	}
	expected, ok := r.expected[questionIndex]
	if !ok {
		return RecordResult{}, domain.ErrNotAccepting
	}
	if _, ok := expected[participantID]; !ok {
		// Observers and non-members do not score.
		return RecordResult{}, domain.ErrNotAccepting
	}

	ledger, ok := r.answers[questionIndex]
	if !ok {
		ledger = make(map[string]domain.Answer)
		r.answers[questionIndex] = ledger
	}

	result := RecordResult{}
	if _, dup := ledger[participantID]; !dup {
		ledger[participantID] = domain.Answer{
			ParticipantID:  participantID,
			QuestionIndex:  questionIndex,
			Selection:      selection,
			ResponseTimeMs: responseTimeMs,
			ReceivedAt:     reg.now(),
		}
		result.Recorded = true
	}

	answered := 0
	for id := range expected {
		if _, ok := ledger[id]; ok {
			answered++
		}
	}
	result.AllAnswered = answered >= len(expected) && len(expected) > 0
	return result, nil
}

// ResolutionView is everything needed to grade and reveal one question.
type ResolutionView struct {
	Question    domain.Question
	Scoring     domain.ScoringConfig
	TimeLimitMs int
	Expected    []domain.Member
	Answers     map[string]domain.Answer
}

// BeginReveal moves the room to revealing and returns the material for
// grading question i.
func (reg *Registry) BeginReveal(code string, i int) (ResolutionView, error) {
	r, err := reg.get(code)
	if err != nil {
		return ResolutionView{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quiz == nil || i != r.current || r.status != domain.StatusInProgress {
		return ResolutionView{}, domain.ErrNotAccepting
	}
	if i >= len(r.quiz.Questions) {
		return ResolutionView{}, domain.ErrQuestionNotFound
	}
	r.status = domain.StatusRevealing

	expected := make([]domain.Member, 0, len(r.expected[i]))
	for id := range r.expected[i] {
		m := domain.Member{ParticipantID: id}
		if state, ok := r.members[id]; ok {
			m.DisplayName = state.name
		}
		expected = append(expected, m)
	}
	sort.Slice(expected, func(a, b int) bool {
		return expected[a].ParticipantID < expected[b].ParticipantID
	})

	answers := make(map[string]domain.Answer, len(r.answers[i]))
	for id, a := range r.answers[i] {
		answers[id] = a
	}

	return ResolutionView{
		Question:    r.quiz.Questions[i],
		Scoring:     r.quiz.Scoring,
		TimeLimitMs: r.quiz.TimeLimitMs,
		Expected:    expected,
		Answers:     answers,
	}, nil
}

// ApplyAwards adds per-question points to the cumulative ledger and returns
// the scoring players with their totals for ranking.
func (reg *Registry) ApplyAwards(code string, awards map[string]int) ([]domain.Member, map[string]int, error) {
	r, err := reg.get(code)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, points := range awards {
		r.totals[id] += points
	}
	return r.scoringPlayersLocked(), r.totalsCopyLocked(), nil
}

// Standings returns the current scoring players and cumulative totals.
func (reg *Registry) Standings(code string) ([]domain.Member, map[string]int, error) {
	r, err := reg.get(code)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scoringPlayersLocked(), r.totalsCopyLocked(), nil
}

// Finish marks the room finished. The status is terminal.
func (reg *Registry) Finish(code string) error {
	r, err := reg.get(code)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = domain.StatusFinished
	return nil
}

// Purge releases all state for a room and frees its code for reuse.
func (reg *Registry) Purge(ctx context.Context, code string) {
	code = NormalizeCode(code)
	reg.mu.Lock()
	_, ok := reg.rooms[code]
	delete(reg.rooms, code)
	reg.mu.Unlock()
	if ok && reg.reserver != nil {
		reg.reserver.Release(ctx, code)
	}
}

// Snapshot returns a copy-safe view of the room for wire payloads.
func (reg *Registry) Snapshot(code string) (domain.RoomSnapshot, error) {
	r, err := reg.get(code)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), nil
}

// HostID returns the room's current host id, which may be empty.
func (reg *Registry) HostID(code string) (string, error) {
	r, err := reg.get(code)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID, nil
}

// ExpectedResponderCount reports how many players are counted toward
// "all answered" for the room's current question.
func (reg *Registry) ExpectedResponderCount(code string) int {
	r, err := reg.get(code)
	if err != nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expected[r.current])
}

// AnsweredCount reports how many expected responders have answered question i.
func (reg *Registry) AnsweredCount(code string, i int) int {
	r, err := reg.get(code)
	if err != nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id := range r.expected[i] {
		if _, ok := r.answers[i][id]; ok {
			n++
		}
	}
	return n
}

func (r *room) playerCountLocked() int {
	n := 0
	for _, m := range r.members {
		if !m.isHost && !m.observer {
			n++
		}
	}
	return n
}

func (r *room) scoringPlayersLocked() []domain.Member {
	players := make([]domain.Member, 0, len(r.members))
	for id, m := range r.members {
		if m.isHost || m.observer {
			continue
		}
		players = append(players, domain.Member{ParticipantID: id, DisplayName: m.name})
	}
	sort.Slice(players, func(a, b int) bool {
		return players[a].ParticipantID < players[b].ParticipantID
	})
	return players
}

func (r *room) totalsCopyLocked() map[string]int {
	totals := make(map[string]int, len(r.totals))
	for id, score := range r.totals {
		totals[id] = score
	}
	return totals
}

func (r *room) snapshotLocked() domain.RoomSnapshot {
	members := make([]domain.Member, 0, len(r.members))
	for id, m := range r.members {
		members = append(members, domain.Member{
			ParticipantID: id,
			DisplayName:   m.name,
			IsHost:        m.isHost,
			Observer:      m.observer,
		})
	}
	sort.Slice(members, func(a, b int) bool {
		if members[a].IsHost != members[b].IsHost {
			return members[a].IsHost
		}
		return members[a].ParticipantID < members[b].ParticipantID
	})

	snap := domain.RoomSnapshot{
		Code:        r.code,
		QuizID:      r.quizID,
		HostID:      r.hostID,
		Status:      r.status.String(),
		QuestionIdx: r.current,
		Members:     members,
		MaxPlayers:  r.settings.MaxPlayers,
	}
	if r.quiz != nil {
		snap.QuizTitle = r.quiz.Title
	}
	return snap
}
