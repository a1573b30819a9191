package cli

import "live-quiz-service/internal/domain"

// sampleQuizzes is served when no database is configured and seeded by
// migrate --seed.
func sampleQuizzes() []domain.Quiz {
	return []domain.Quiz{
		{
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
				},
				{
					ID:     "q2",
					Prompt: "Which planet is closest to the sun?",
					Options: []domain.Option{
						{ID: "o1", Text: "Mercury", Correct: true},
						{ID: "o2", Text: "Venus"},
						{ID: "o3", Text: "Mars"},
					},
					TimeLimitSeconds: 15,
				},
			},
		},
	}
}
