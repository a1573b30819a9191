package app

import (
	"time"

	"live-quiz-service/internal/domain"
)

// ScoringOptions configures defaults applied to quiz content.
type ScoringOptions struct {
	BasePoints       int
	DefaultTimeLimit time.Duration
}

// quizSession is the question-by-question state machine of one room.
// It is not safe for concurrent use; the owning Room serializes access.
type quizSession struct {
	id        string
	roomCode  string
	quiz      domain.Quiz
	order     []int
	position  int
	state     domain.SessionState
	windows   []domain.QuestionWindow
	results   [][]domain.QuestionResult
	responses *collector
	scoring   ScoringOptions
	degraded  bool
	startedAt time.Time
	endedAt   time.Time
}

// newSession validates quiz content and leaves the session in the lobby.
func newSession(id, roomCode string, quiz domain.Quiz, scoring ScoringOptions, now time.Time) (*quizSession, error) {
	s := &quizSession{
		id:        id,
		roomCode:  roomCode,
		quiz:      quiz,
		position:  -1,
		state:     domain.SessionCreated,
		responses: newCollector(),
		scoring:   scoring,
		startedAt: now,
	}
	if len(quiz.Questions) == 0 {
		return nil, domain.ErrEmptyQuiz
	}
	s.order = make([]int, len(quiz.Questions))
	for i := range s.order {
		s.order[i] = i
	}
	s.state = domain.SessionLobby
	return s, nil
}

func (s *quizSession) active() bool {
	return s.state != domain.SessionFinishedState
}

func (s *quizSession) current() (domain.QuestionWindow, bool) {
	if s.position < 0 || s.position >= len(s.windows) {
		return domain.QuestionWindow{}, false
	}
	return s.windows[s.position], true
}

// openNext moves Lobby or QuestionClosed to the next question. done is
// true when no question remains; degraded is true when the next question
// cannot be scored. In both cases nothing is opened and the caller
// finishes the session.
func (s *quizSession) openNext(now time.Time) (opened domain.QuestionOpened, done, degraded bool, err error) {
	if s.state != domain.SessionLobby && s.state != domain.SessionQuestionClosed {
		return domain.QuestionOpened{}, false, false, domain.ErrInvalidState
	}
	next := s.position + 1
	if next >= len(s.order) {
		return domain.QuestionOpened{}, true, false, nil
	}
	question := s.quiz.Questions[s.order[next]]
	if !question.Playable() {
		return domain.QuestionOpened{}, true, true, nil
	}

	correct, _ := question.CorrectOption()
	base := question.Points
	if base <= 0 {
		base = s.scoring.BasePoints
	}
	window := domain.QuestionWindow{
		Index:         next,
		QuestionID:    question.ID,
		CorrectChoice: correct,
		BasePoints:    base,
		OpenedAt:      now,
		Deadline:      now.Add(question.TimeLimit(s.scoring.DefaultTimeLimit)),
	}
	s.windows = append(s.windows, window)
	s.position = next
	s.state = domain.SessionQuestionOpen

	return domain.QuestionOpened{
		Index:         next,
		QuestionCount: len(s.order),
		Question:      question.Public(),
		Deadline:      window.Deadline,
	}, false, false, nil
}

// closeCurrent finalizes the open question. It reports false when there
// is nothing to close, which makes racing close triggers harmless.
func (s *quizSession) closeCurrent(now time.Time, participants []string) (domain.QuestionWindow, []domain.QuestionResult, bool) {
	if s.state != domain.SessionQuestionOpen {
		return domain.QuestionWindow{}, nil, false
	}
	window := &s.windows[s.position]
	window.ClosedAt = now
	results := ScoreQuestion(*window, s.responses.forQuestion(window.Index), participants)
	s.results = append(s.results, results)
	s.state = domain.SessionQuestionClosed
	return *window, results, true
}

// submit records a response for the open question.
func (s *quizSession) submit(resp domain.StudentResponse) error {
	switch s.state {
	case domain.SessionCreated, domain.SessionLobby, domain.SessionFinishedState:
		return domain.ErrWindowClosed
	}
	window, ok := s.current()
	if !ok || resp.QuestionIndex != window.Index || s.state != domain.SessionQuestionOpen {
		return domain.ErrStaleQuestion
	}
	if resp.SubmittedAt.Before(window.OpenedAt) || !resp.SubmittedAt.Before(window.Deadline) {
		return domain.ErrStaleQuestion
	}
	question := s.quiz.Questions[s.order[window.Index]]
	if !question.HasOption(resp.Choice) {
		return domain.ErrInvalidChoice
	}
	return s.responses.accept(resp)
}

func (s *quizSession) answered(identity string) bool {
	window, ok := s.current()
	if !ok {
		return false
	}
	_, found := s.responses.lookup(window.Index, identity)
	return found
}

func (s *quizSession) finish(now time.Time, degraded bool) {
	s.state = domain.SessionFinishedState
	s.endedAt = now
	if degraded {
		s.degraded = true
	}
}

func (s *quizSession) view(now time.Time) *domain.SessionView {
	v := &domain.SessionView{
		ID:            s.id,
		QuizID:        s.quiz.ID,
		State:         s.state,
		QuestionIndex: s.position,
		QuestionCount: len(s.order),
		Degraded:      s.degraded,
	}
	if s.state == domain.SessionQuestionOpen {
		window, _ := s.current()
		question := s.quiz.Questions[s.order[window.Index]].Public()
		deadline := window.Deadline
		v.Question = &question
		v.Deadline = &deadline
		v.RemainingMs = remaining(deadline, now).Milliseconds()
	}
	return v
}
