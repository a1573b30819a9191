package app_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/clock"
	"live-quiz-service/internal/domain"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// codeBytes returns entropy that the generator turns into code.
func codeBytes(code string) []byte {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	out := make([]byte, 0, app.CodeLength*2)
	for _, c := range code {
		out = append(out, byte(bytes.IndexRune([]byte(alphabet), c)))
	}
	for len(out) < app.CodeLength*2 {
		out = append(out, 0)
	}
	return out
}

// cycleReader yields pattern over and over.
type cycleReader struct {
	pattern []byte
	pos     int
}

func (r *cycleReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.pattern[r.pos%len(r.pattern)]
		r.pos++
	}
	return len(p), nil
}

type staticQuizzes map[string]domain.Quiz

func (s staticQuizzes) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	quiz, ok := s[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

type memoryRecorder struct {
	mu        sync.Mutex
	records   map[string]domain.SessionRecord
	responses map[string][]domain.StudentResponse
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{
		records:   make(map[string]domain.SessionRecord),
		responses: make(map[string][]domain.StudentResponse),
	}
}

func (m *memoryRecorder) RecordSession(_ context.Context, rec domain.SessionRecord, responses []domain.StudentResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	m.responses[rec.ID] = responses
	return nil
}

func (m *memoryRecorder) LoadSession(_ context.Context, id string) (domain.SessionRecord, []domain.StudentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.SessionRecord{}, nil, domain.ErrNotFound
	}
	return rec, m.responses[id], nil
}

func (m *memoryRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memoryRecorder) only(t *testing.T) domain.SessionRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) != 1 {
		t.Fatalf("expected one recorded session, got %d", len(m.records))
	}
	for _, rec := range m.records {
		return rec
	}
	return domain.SessionRecord{}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "capitals",
		Title: "Capitals",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "Capital of France?",
				Options: []domain.Option{
					{ID: "a", Text: "Berlin"},
					{ID: "b", Text: "Paris", Correct: true},
				},
				TimeLimitSeconds: 10,
			},
			{
				ID:     "q2",
				Prompt: "Capital of Japan?",
				Options: []domain.Option{
					{ID: "a", Text: "Tokyo", Correct: true},
					{ID: "b", Text: "Osaka"},
				},
				TimeLimitSeconds: 10,
			},
		},
	}
}

type harness struct {
	t        *testing.T
	svc      *app.Service
	clk      *clock.FakeClock
	recorder *memoryRecorder
	code     string
}

func testOptions() app.Options {
	opts := app.DefaultOptions()
	opts.HostGrace = 30 * time.Second
	opts.IdleTimeout = time.Hour
	opts.OutboxSize = 256
	return opts
}

func newHarness(t *testing.T, quizzes ...domain.Quiz) *harness {
	t.Helper()
	catalog := staticQuizzes{}
	catalog["capitals"] = sampleQuiz()
	for _, q := range quizzes {
		catalog[q.ID] = q
	}
	clk := clock.Fake(epoch)
	recorder := newMemoryRecorder()
	svc := app.NewService(app.Deps{
		Quizzes:    catalog,
		Recorder:   recorder,
		Sessions:   recorder,
		Clock:      clk,
		Logger:     discardLogger(),
		CodeSource: bytes.NewReader(codeBytes("K7QXP")),
	}, testOptions())

	summary, err := svc.CreateRoom(context.Background(), "teacher")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return &harness{t: t, svc: svc, clk: clk, recorder: recorder, code: summary.Code}
}

func (h *harness) connect(connID, identity string) <-chan domain.Event {
	h.t.Helper()
	ch, err := h.svc.Connect(context.Background(), connID, h.code, identity, identity)
	if err != nil {
		h.t.Fatalf("connect %s: %v", identity, err)
	}
	return ch
}

func (h *harness) do(connID string, cmd domain.Command) error {
	return h.svc.Handle(context.Background(), connID, cmd)
}

func (h *harness) must(connID string, cmd domain.Command) {
	h.t.Helper()
	if err := h.do(connID, cmd); err != nil {
		h.t.Fatalf("%s from %s: %v", cmd.Type, connID, err)
	}
}

func (h *harness) submit(connID string, index int, choice string) error {
	return h.do(connID, domain.Command{Type: domain.CmdSubmitAnswer, QuestionIndex: index, Choice: choice})
}

// drain returns every event currently buffered on ch.
func drain(ch <-chan domain.Event) []domain.Event {
	var events []domain.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func findEvent(t *testing.T, events []domain.Event, typ domain.EventType) domain.Event {
	t.Helper()
	for _, ev := range events {
		if ev.Type == typ {
			return ev
		}
	}
	t.Fatalf("no %s event among %d events", typ, len(events))
	return domain.Event{}
}

func countEvents(events []domain.Event, typ domain.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func isClosed(ch <-chan domain.Event) bool {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}
