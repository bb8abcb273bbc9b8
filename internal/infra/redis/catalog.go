package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
)

// Catalog caches quiz content in Redis and falls back to a loader on miss.
// Layout per quiz:
//
//	SET  quiz:{id}:data     {full quiz JSON}
//	HSET quiz:{id}:answers  {questionIndex} {correctOption}
//
// The answers hash serves single answer-key lookups during question
// resolution without unmarshalling the whole document.
type Catalog struct {
	client *redis.Client
	loader memory.QuizLoader
	ttl    time.Duration
	sf     singleflight.Group

	// rnd is not goroutine-safe; rndMu serializes jitter draws across
	// concurrent misses on different quiz IDs.
	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewCatalog(client *redis.Client, loader memory.QuizLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

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

func (c *Catalog) FetchForGame(ctx context.Context, quizID string) (domain.Quiz, error) {
	raw, err := c.client.Get(ctx, c.dataKey(quizID)).Bytes()
	if err == nil {
		var quiz domain.Quiz
		if unmarshalErr := json.Unmarshal(raw, &quiz); unmarshalErr == nil {
			return quiz, nil
		}
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		raw, err := c.client.Get(ctx, c.dataKey(quizID)).Bytes()
		if err == nil {
			var quiz domain.Quiz
			if unmarshalErr := json.Unmarshal(raw, &quiz); unmarshalErr == nil {
				return quiz, nil
			}
		}

		quiz, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		c.fill(ctx, quiz)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// CorrectAnswer reads a single answer key from the answers hash, loading the
// quiz on a cold cache.
func (c *Catalog) CorrectAnswer(ctx context.Context, quizID string, questionIndex int) (int, error) {
	field := strconv.Itoa(questionIndex)
	val, err := c.client.HGet(ctx, c.answersKey(quizID), field).Result()
	if err == nil {
		if option, convErr := strconv.Atoi(val); convErr == nil {
			return option, nil
		}
	}

	quiz, err := c.FetchForGame(ctx, quizID)
	if err != nil {
		return 0, err
	}
	if questionIndex < 0 || questionIndex >= len(quiz.Questions) {
		return 0, domain.ErrQuestionNotFound
	}
	return quiz.Questions[questionIndex].CorrectOption, nil
}

func (c *Catalog) fill(ctx context.Context, quiz domain.Quiz) {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return
	}
	ttl := c.ttlWithJitter()

	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.dataKey(quiz.ID), raw, ttl)
	for i, q := range quiz.Questions {
		pipe.HSet(ctx, c.answersKey(quiz.ID), strconv.Itoa(i), q.CorrectOption)
	}
	if ttl > 0 {
		pipe.Expire(ctx, c.answersKey(quiz.ID), ttl)
	}
	// best-effort cache fill
	_, _ = pipe.Exec(ctx)
}

func (c *Catalog) dataKey(quizID string) string {
	return "quiz:" + quizID + ":data"
}

func (c *Catalog) answersKey(quizID string) string {
	return "quiz:" + quizID + ":answers"
}

func (c *Catalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
