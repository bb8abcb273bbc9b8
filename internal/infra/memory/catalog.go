package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-room-service/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (Postgres, fixtures).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Catalog caches quizzes with a TTL so repeated room starts do not hammer the
// backing store. Concurrent misses for the same quiz collapse into one load.
type Catalog struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	// rnd is not goroutine-safe; rndMu serializes jitter draws across
	// concurrent misses on different quiz IDs.
	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewCatalog(loader QuizLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuiz),
	}
}

// Exists reports whether the quiz can be loaded.
func (c *Catalog) Exists(ctx context.Context, quizID string) (bool, error) {
	_, err := c.FetchForGame(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FetchForGame returns the full server-side quiz snapshot.
func (c *Catalog) FetchForGame(ctx context.Context, quizID string) (domain.Quiz, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[quizID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.quiz, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[quizID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.quiz, nil
		}
		c.mu.RUnlock()

		quiz, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		c.mu.Lock()
		c.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// CorrectAnswer returns the answer key for one question. Server-side only.
func (c *Catalog) CorrectAnswer(ctx context.Context, quizID string, questionIndex int) (int, error) {
	quiz, err := c.FetchForGame(ctx, quizID)
	if err != nil {
		return 0, err
	}
	if questionIndex < 0 || questionIndex >= len(quiz.Questions) {
		return 0, domain.ErrQuestionNotFound
	}
	return quiz.Questions[questionIndex].CorrectOption, nil
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticQuizLoader is a loader backed by an in-memory map, for tests and the
// no-database demo mode.
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}
