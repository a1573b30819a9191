package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func startQuestion(t *testing.T, h *harness) {
	t.Helper()
	h.must("h1", domain.Command{Type: domain.CmdHostStart, QuizID: "capitals"})
	h.must("h1", domain.Command{Type: domain.CmdHostAdvance})
}

func TestCorrectFastAnswerOutranksSilence(t *testing.T) {
	h := newHarness(t)
	if h.code != "K7QXP" {
		t.Fatalf("expected code K7QXP, got %s", h.code)
	}
	h.connect("h1", "teacher")
	alice := h.connect("a1", "alice")
	h.connect("b1", "bob")
	startQuestion(t, h)

	h.clk.Advance(2 * time.Second)
	if err := h.submit("a1", 0, "b"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.clk.Advance(8 * time.Second)

	closed := findEvent(t, drain(alice), domain.EventQuestionClosed).Payload.(domain.QuestionClosed)
	if closed.CorrectChoice != "b" {
		t.Fatalf("expected correct choice b, got %s", closed.CorrectChoice)
	}
	board, err := h.svc.Leaderboard("k7qxp")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(board.Entries))
	}
	first, second := board.Entries[0], board.Entries[1]
	if first.Identity != "alice" || first.Score != 900 || first.Rank != 1 {
		t.Fatalf("unexpected leader %+v", first)
	}
	if second.Identity != "bob" || second.Score != 0 || second.Rank != 2 {
		t.Fatalf("unexpected runner-up %+v", second)
	}
}

func TestSessionRunsToCompletionAndVerifies(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	h.connect("a1", "alice")
	bob := h.connect("b1", "bob")
	startQuestion(t, h)

	h.clk.Advance(time.Second)
	if err := h.submit("a1", 0, "b"); err != nil {
		t.Fatalf("alice q0: %v", err)
	}
	if err := h.submit("b1", 0, "a"); err != nil {
		t.Fatalf("bob q0: %v", err)
	}
	h.must("h1", domain.Command{Type: domain.CmdHostAdvance})
	h.clk.Advance(3 * time.Second)
	if err := h.submit("b1", 1, "a"); err != nil {
		t.Fatalf("bob q1: %v", err)
	}
	h.clk.Advance(10 * time.Second)
	h.must("h1", domain.Command{Type: domain.CmdHostAdvance})

	events := drain(bob)
	if got := countEvents(events, domain.EventQuestionClosed); got != 2 {
		t.Fatalf("expected 2 questionClosed events, got %d", got)
	}
	finished := findEvent(t, events, domain.EventSessionFinished).Payload.(domain.SessionFinished)
	if finished.Degraded {
		t.Fatalf("session should not be degraded")
	}

	rec := h.recorder.only(t)
	if rec.RoomCode != h.code || rec.QuizID != "capitals" || rec.Host != "teacher" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.Windows) != 2 || rec.Digest == "" {
		t.Fatalf("record should carry windows and digest: %+v", rec)
	}

	report, err := h.svc.SessionResponses(context.Background(), "teacher", rec.ID)
	if err != nil {
		t.Fatalf("session responses: %v", err)
	}
	if len(report.Responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(report.Responses))
	}
	if !report.Verified {
		t.Fatalf("stored session should verify")
	}
	if _, err := h.svc.SessionResponses(context.Background(), "alice", rec.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for participant, got %v", err)
	}
}

func TestForceCloseThenLateSubmissionIsStale(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	alice := h.connect("a1", "alice")
	startQuestion(t, h)

	h.clk.Advance(time.Second)
	h.must("h1", domain.Command{Type: domain.CmdHostForceClose})
	h.clk.Advance(time.Second)

	err := h.submit("a1", 0, "b")
	if !errors.Is(err, domain.ErrStaleQuestion) {
		t.Fatalf("expected stale question, got %v", err)
	}
	notice := findEvent(t, drain(alice), domain.EventError).Payload.(domain.ErrorPayload)
	if notice.Code != "stale_question" {
		t.Fatalf("expected stale_question code, got %s", notice.Code)
	}
	board, _ := h.svc.Leaderboard(h.code)
	if board.Entries[0].Score != 0 {
		t.Fatalf("late submission must not score")
	}
}

func TestSubmissionAtDeadlineIsStale(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	h.connect("a1", "alice")
	startQuestion(t, h)

	h.clk.Advance(10 * time.Second)
	if err := h.submit("a1", 0, "b"); !errors.Is(err, domain.ErrStaleQuestion) {
		t.Fatalf("expected stale question at the deadline, got %v", err)
	}
}

func TestReconnectReceivesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	first := h.connect("a1", "alice")
	h.connect("b1", "bob")
	startQuestion(t, h)

	h.clk.Advance(time.Second)
	if err := h.submit("a1", 0, "b"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.clk.Advance(time.Second)
	h.svc.Disconnect("a1")
	if !isClosed(first) {
		t.Fatalf("outbox of a dropped connection should be closed")
	}

	h.clk.Advance(time.Second)
	second := h.connect("a2", "alice")
	events := drain(second)
	if len(events) == 0 || events[0].Type != domain.EventRoomSnapshot {
		t.Fatalf("first event after reconnect must be a snapshot, got %+v", events)
	}
	snap := events[0].Payload.(domain.RoomSnapshot)
	if snap.Session == nil || snap.Session.State != domain.SessionQuestionOpen {
		t.Fatalf("snapshot should show the open question: %+v", snap.Session)
	}
	if snap.Session.Question == nil || snap.Session.Question.ID != "q1" {
		t.Fatalf("snapshot should carry the question")
	}
	if snap.Session.RemainingMs != 7000 {
		t.Fatalf("expected 7000ms remaining, got %d", snap.Session.RemainingMs)
	}
	if snap.LastAnswer == nil || snap.LastAnswer.Choice != "b" {
		t.Fatalf("snapshot should include the prior answer, got %+v", snap.LastAnswer)
	}

	if err := h.submit("a2", 0, "a"); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("resubmission after reconnect should be a duplicate, got %v", err)
	}
}

func TestConcurrentDuplicateSubmissionsAcceptOne(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	h.connect("a1", "alice")
	h.connect("b1", "bob")
	startQuestion(t, h)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- h.submit("a1", 0, "b")
		}()
	}
	wg.Wait()
	close(results)

	accepted, duplicates := 0, 0
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrDuplicate):
			duplicates++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if accepted != 1 || duplicates != attempts-1 {
		t.Fatalf("expected 1 accepted and %d duplicates, got %d and %d", attempts-1, accepted, duplicates)
	}
}

func TestDeadlineAndForceCloseRaceClosesOnce(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	bob := h.connect("b1", "bob")
	startQuestion(t, h)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.clk.Advance(10 * time.Second)
	}()
	go func() {
		defer wg.Done()
		if err := h.do("h1", domain.Command{Type: domain.CmdHostForceClose}); err != nil {
			t.Errorf("force close: %v", err)
		}
	}()
	wg.Wait()

	if got := countEvents(drain(bob), domain.EventQuestionClosed); got != 1 {
		t.Fatalf("expected exactly one questionClosed, got %d", got)
	}
}

func TestAllConnectedAnsweredClosesEarly(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	alice := h.connect("a1", "alice")
	h.connect("b1", "bob")
	startQuestion(t, h)

	h.clk.Advance(time.Second)
	_ = h.submit("a1", 0, "b")
	if countEvents(drain(alice), domain.EventQuestionClosed) != 0 {
		t.Fatalf("question closed before everyone answered")
	}
	_ = h.submit("b1", 0, "a")
	if countEvents(drain(alice), domain.EventQuestionClosed) != 1 {
		t.Fatalf("question should close once every connected participant answered")
	}
}

func TestHostOnlyTransitions(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	h.connect("a1", "alice")

	for _, typ := range []domain.CommandType{
		domain.CmdHostStart,
		domain.CmdHostAdvance,
		domain.CmdHostForceClose,
		domain.CmdHostEnd,
	} {
		err := h.do("a1", domain.Command{Type: typ, QuizID: "capitals"})
		if !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("%s by participant: expected forbidden, got %v", typ, err)
		}
	}
}

func TestCommandValidation(t *testing.T) {
	h := newHarness(t, domain.Quiz{ID: "empty", Title: "Nothing"})
	h.connect("h1", "teacher")
	h.connect("a1", "alice")

	if err := h.submit("a1", 0, "b"); !errors.Is(err, domain.ErrWindowClosed) || !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected window closed before a session, got %v", err)
	}
	if err := h.submit("h1", 0, "b"); !errors.Is(err, domain.ErrUnknownParticipant) {
		t.Fatalf("host is not a participant, got %v", err)
	}
	if err := h.submit("ghost", 0, "b"); !errors.Is(err, domain.ErrUnknownParticipant) {
		t.Fatalf("unbound connection, got %v", err)
	}
	if err := h.do("h1", domain.Command{Type: domain.CmdHostStart, QuizID: "missing"}); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
	if err := h.do("h1", domain.Command{Type: domain.CmdHostStart, QuizID: "empty"}); !errors.Is(err, domain.ErrEmptyQuiz) {
		t.Fatalf("expected empty quiz, got %v", err)
	}

	startQuestion(t, h)
	if err := h.do("h1", domain.Command{Type: domain.CmdHostStart, QuizID: "capitals"}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second start while active, got %v", err)
	}
	if err := h.do("h1", domain.Command{Type: domain.CmdHostAdvance}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("advance while question open, got %v", err)
	}
	if err := h.submit("a1", 0, "z"); !errors.Is(err, domain.ErrInvalidChoice) {
		t.Fatalf("expected invalid choice, got %v", err)
	}
	if err := h.submit("a1", 1, "a"); !errors.Is(err, domain.ErrStaleQuestion) {
		t.Fatalf("expected stale question for wrong index, got %v", err)
	}
}

func TestUnplayableQuestionFinishesDegraded(t *testing.T) {
	broken := domain.Quiz{
		ID: "broken",
		Questions: []domain.Question{
			{ID: "ok", Options: []domain.Option{{ID: "a", Correct: true}, {ID: "b"}}},
			{ID: "bad", Options: []domain.Option{{ID: "a"}, {ID: "b"}}},
		},
	}
	h := newHarness(t, broken)
	h.connect("h1", "teacher")
	alice := h.connect("a1", "alice")
	h.must("h1", domain.Command{Type: domain.CmdHostStart, QuizID: "broken"})
	h.must("h1", domain.Command{Type: domain.CmdHostAdvance})
	h.must("h1", domain.Command{Type: domain.CmdHostForceClose})
	h.must("h1", domain.Command{Type: domain.CmdHostAdvance})

	finished := findEvent(t, drain(alice), domain.EventSessionFinished).Payload.(domain.SessionFinished)
	if !finished.Degraded {
		t.Fatalf("session should finish degraded")
	}
	if !h.recorder.only(t).Degraded {
		t.Fatalf("recorded session should be degraded")
	}
	if _, err := h.svc.Summary(h.code); err != nil {
		t.Fatalf("room should stay open after a degraded session: %v", err)
	}
}

func TestHostEndClosesRoomAndPersists(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	alice := h.connect("a1", "alice")
	h.connect("b1", "bob")
	startQuestion(t, h)
	h.clk.Advance(time.Second)
	_ = h.submit("a1", 0, "b")

	h.must("h1", domain.Command{Type: domain.CmdHostEnd})

	events := drain(alice)
	notice := findEvent(t, events, domain.EventRoomClosed).Payload.(domain.RoomClosedNotice)
	if notice.Reason != domain.CloseHostEnded {
		t.Fatalf("unexpected close reason %s", notice.Reason)
	}
	if !isClosed(alice) {
		t.Fatalf("outbox should be closed with the room")
	}
	if _, err := h.svc.Summary(h.code); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("closed room should be gone, got %v", err)
	}
	rec := h.recorder.only(t)
	report, err := h.svc.SessionResponses(context.Background(), "teacher", rec.ID)
	if err != nil || !report.Verified {
		t.Fatalf("aborted session should persist and verify: %v %+v", err, report)
	}
	if rec.Leaderboard[0].Identity != "alice" || rec.Leaderboard[0].Score == 0 {
		t.Fatalf("answers before the end should be scored: %+v", rec.Leaderboard)
	}
}

func TestCloseRoomIsHostOnlyAndEvictsConnections(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	alice := h.connect("a1", "alice")
	startQuestion(t, h)

	if err := h.svc.CloseRoom("alice", h.code); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := h.svc.CloseRoom("teacher", "k7qxp"); err != nil {
		t.Fatalf("close room: %v", err)
	}
	if !isClosed(alice) {
		t.Fatalf("connections should be evicted")
	}
	if h.recorder.count() != 1 {
		t.Fatalf("active session should be persisted on close")
	}
	if err := h.svc.CloseRoom("teacher", h.code); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("closed room should be gone, got %v", err)
	}
	if err := h.submit("a1", 0, "b"); !errors.Is(err, domain.ErrUnknownParticipant) {
		t.Fatalf("evicted connection should be unknown, got %v", err)
	}
}

func TestHostGraceClosesRoom(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	alice := h.connect("a1", "alice")

	h.svc.Disconnect("h1")
	h.clk.Advance(29 * time.Second)
	if _, err := h.svc.Summary(h.code); err != nil {
		t.Fatalf("room closed before grace elapsed: %v", err)
	}
	h.clk.Advance(time.Second)

	notice := findEvent(t, drain(alice), domain.EventRoomClosed).Payload.(domain.RoomClosedNotice)
	if notice.Reason != domain.CloseHostLeft {
		t.Fatalf("unexpected close reason %s", notice.Reason)
	}
	if _, err := h.svc.Summary(h.code); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("room should be closed, got %v", err)
	}
}

func TestHostReconnectCancelsGrace(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")

	h.svc.Disconnect("h1")
	h.clk.Advance(10 * time.Second)
	host := h.connect("h2", "teacher")
	h.clk.Advance(time.Minute)

	if _, err := h.svc.Summary(h.code); err != nil {
		t.Fatalf("room should survive host reconnect: %v", err)
	}
	snap := drain(host)[0].Payload.(domain.RoomSnapshot)
	if !snap.IsHost {
		t.Fatalf("reconnected host should be told it is host")
	}
}

func TestIdleRoomsAreReaped(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")

	h.clk.Advance(30 * time.Minute)
	if n := h.svc.Reap(); n != 0 {
		t.Fatalf("active room reaped early")
	}
	h.clk.Advance(31 * time.Minute)
	if n := h.svc.Reap(); n != 1 {
		t.Fatalf("expected one reaped room, got %d", n)
	}
	if h.svc.Rooms() != 0 {
		t.Fatalf("registry should be empty")
	}
}

func TestShutdownPersistsActiveSessions(t *testing.T) {
	h := newHarness(t)
	h.connect("h1", "teacher")
	h.connect("a1", "alice")
	startQuestion(t, h)

	h.svc.Shutdown()
	if h.recorder.count() != 1 {
		t.Fatalf("active session should be persisted on shutdown")
	}
	if h.svc.Rooms() != 0 {
		t.Fatalf("all rooms should be closed")
	}
}

func TestCreateRoomExhaustsCollisions(t *testing.T) {
	svc := app.NewService(app.Deps{
		Quizzes:    staticQuizzes{},
		Logger:     discardLogger(),
		CodeSource: &cycleReader{pattern: codeBytes("AAAAA")},
	}, testOptions())

	if _, err := svc.CreateRoom(context.Background(), "host-1"); err != nil {
		t.Fatalf("first room: %v", err)
	}
	if _, err := svc.CreateRoom(context.Background(), "host-2"); !errors.Is(err, domain.ErrCollisionExhausted) {
		t.Fatalf("expected collision exhaustion, got %v", err)
	}
}

type refusingReserver struct {
	mu       sync.Mutex
	taken    map[string]bool
	released []string
}

func (r *refusingReserver) Reserve(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken[code] {
		return false, nil
	}
	r.taken[code] = true
	return true, nil
}

func (r *refusingReserver) Release(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.taken, code)
	r.released = append(r.released, code)
	return nil
}

func TestCreateRoomSkipsCodesReservedElsewhere(t *testing.T) {
	reserver := &refusingReserver{taken: map[string]bool{"AAAAA": true}}
	entropy := append(codeBytes("AAAAA"), codeBytes("BBBBB")...)
	svc := app.NewService(app.Deps{
		Reserver:   reserver,
		Logger:     discardLogger(),
		CodeSource: &cycleReader{pattern: entropy},
	}, testOptions())

	summary, err := svc.CreateRoom(context.Background(), "host")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if summary.Code != "BBBBB" {
		t.Fatalf("expected BBBBB, got %s", summary.Code)
	}

	svc.Shutdown()
	if len(reserver.released) != 1 || reserver.released[0] != "BBBBB" {
		t.Fatalf("closed room should release its code, got %v", reserver.released)
	}
}

func TestConcurrentCreateRoomYieldsUniqueCodes(t *testing.T) {
	svc := app.NewService(app.Deps{Logger: discardLogger()}, testOptions())

	const rooms = 200
	codes := make(chan string, rooms)
	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, err := svc.CreateRoom(context.Background(), "host")
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			codes <- summary.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool, rooms)
	for code := range codes {
		if seen[code] {
			t.Fatalf("duplicate code %s", code)
		}
		seen[code] = true
	}
	if svc.Rooms() != rooms {
		t.Fatalf("expected %d rooms, got %d", rooms, svc.Rooms())
	}
}
