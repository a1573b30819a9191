package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

// QuizRepository caches quiz content in Redis so every coordinator
// instance shares one warm copy, falling back to a loader on miss.
// A quiz is stored as one hash:
//
//	HSET quiz:{quizID} title {title} q:{index} {question JSON}
type QuizRepository struct {
	client *redis.Client
	loader memory.QuizLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader memory.QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check in case another instance filled it.
		if quiz, ok := r.cached(ctx, quizID); ok {
			return quiz, nil
		}
		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		r.store(ctx, quiz)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// Invalidate removes the cached copy of a quiz.
func (r *QuizRepository) Invalidate(ctx context.Context, quizID string) error {
	return r.client.Del(ctx, quizKey(quizID)).Err()
}

func (r *QuizRepository) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	fields, err := r.client.HGetAll(ctx, quizKey(quizID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.Quiz{}, false
	}
	quiz, err := decodeQuiz(quizID, fields)
	if err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

// store writes the quiz best-effort; a failed write only costs a reload.
func (r *QuizRepository) store(ctx context.Context, quiz domain.Quiz) {
	key := quizKey(quiz.ID)
	values := make([]interface{}, 0, 2+2*len(quiz.Questions))
	values = append(values, "title", quiz.Title)
	for i, q := range quiz.Questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return
		}
		values = append(values, questionField(i), string(raw))
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values...)
	if ttl := r.ttlWithJitter(); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func decodeQuiz(quizID string, fields map[string]string) (domain.Quiz, error) {
	type indexed struct {
		index    int
		question domain.Question
	}
	var items []indexed
	for field, raw := range fields {
		if !strings.HasPrefix(field, "q:") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(field, "q:"))
		if err != nil {
			return domain.Quiz{}, err
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return domain.Quiz{}, err
		}
		items = append(items, indexed{index: index, question: q})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })

	quiz := domain.Quiz{ID: quizID, Title: fields["title"], Questions: make([]domain.Question, len(items))}
	for i, item := range items {
		quiz.Questions[i] = item.question
	}
	return quiz, nil
}

func quizKey(quizID string) string {
	return "quiz:" + quizID
}

func questionField(index int) string {
	return "q:" + strconv.Itoa(index)
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
