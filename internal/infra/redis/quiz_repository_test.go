package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(sampleQuiz())}
	repo := NewQuizRepository(client, loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if !mr.Exists("quiz:quiz-1") {
		t.Fatalf("expected quiz hash in redis")
	}

	// A second repository shares the cache, as another instance would.
	other := NewQuizRepository(client, loader, time.Minute)
	quiz, err := other.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz from cache: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}

	want := sampleQuiz()
	if quiz.Title != want.Title || len(quiz.Questions) != 2 {
		t.Fatalf("unexpected cached quiz %+v", quiz)
	}
	if quiz.Questions[0].ID != "q1" || quiz.Questions[1].ID != "q2" {
		t.Fatalf("question order lost: %+v", quiz.Questions)
	}
	if quiz.Questions[1].Prompt != want.Questions[1].Prompt || quiz.Questions[1].TimeLimitSeconds != 15 {
		t.Fatalf("question content lost: %+v", quiz.Questions[1])
	}
	if id, ok := quiz.Questions[0].CorrectOption(); !ok || id != "o2" {
		t.Fatalf("correct option lost: %+v", quiz.Questions[0])
	}
}

func TestQuizRepositoryExpiresAndInvalidates(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(sampleQuiz())}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)

	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	mr.FastForward(2 * time.Minute)
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, calls=%d", loader.calls.Load())
	}

	if err := repo.Invalidate(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("quiz:quiz-1") {
		t.Fatalf("expected key removed")
	}
}

type countingLoader struct {
	memory.QuizLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls.Add(1)
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
			},
			{
				ID:     "q2",
				Prompt: "What is 3 * 3?",
				Options: []domain.Option{
					{ID: "o1", Text: "9", Correct: true},
					{ID: "o2", Text: "6", Correct: false},
				},
				TimeLimitSeconds: 15,
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
