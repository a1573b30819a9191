package app

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"live-quiz-service/internal/clock"
	"live-quiz-service/internal/domain"
)

// Recorder durably stores finished sessions. Live play never waits on it
// for correctness; failures are logged.
type Recorder interface {
	RecordSession(ctx context.Context, rec domain.SessionRecord, responses []domain.StudentResponse) error
}

// RoomOptions tunes a single room.
type RoomOptions struct {
	HostGrace      time.Duration
	PersistTimeout time.Duration
	Scoring        ScoringOptions
}

type archive struct {
	rec       domain.SessionRecord
	responses []domain.StudentResponse
}

// Room owns one code, one host, its participants and at most one active
// session. Every mutation runs under mu, which is the room's single
// serialization point; deadline and grace timers re-enter through it too.
// Events are published while mu is held so every connection sees them in
// mutation order.
type Room struct {
	code      string
	host      string
	createdAt time.Time

	clock    clock.Clock
	hub      *Hub
	recorder Recorder
	logger   *slog.Logger
	opts     RoomOptions
	newID    func() string
	onClosed func(*Room)

	mu           sync.RWMutex
	state        domain.RoomState
	participants map[string]*domain.Participant
	order        []string
	session      *quizSession
	hostConnID   string
	deadline     *clock.Timer
	hostGrace    *clock.Timer
	lastActivity time.Time
}

func (r *Room) Code() string { return r.code }

func (r *Room) Host() string { return r.host }

// now is truncated to milliseconds so stored timestamps survive a
// database round trip unchanged.
func (r *Room) now() time.Time {
	return r.clock.Now().UTC().Truncate(time.Millisecond)
}

// Connect attaches a connection for identity. The host reclaims the host
// seat; anyone else joins, or resumes their participant record when they
// were seen before. The first event on the returned outbox is a snapshot.
func (r *Room) Connect(connID, identity, displayName string) (<-chan domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomClosed {
		return nil, domain.ErrRoomClosed
	}
	now := r.now()
	r.lastActivity = now

	if identity == r.host {
		if r.hostConnID != "" && r.hostConnID != connID {
			r.hub.Detach(r.code, r.hostConnID)
		}
		r.hostConnID = connID
		r.hostGrace.Stop()
		r.hostGrace = nil
		ch := r.hub.Attach(r.code, connID)
		r.hub.Send(r.code, connID, r.snapshotEventLocked(identity, now))
		r.logger.Info("host attached", "room", r.code, "conn", connID)
		return ch, nil
	}

	p, reconnected := r.participants[identity]
	if reconnected {
		if p.ConnID != "" && p.ConnID != connID {
			r.hub.Detach(r.code, p.ConnID)
		}
		if displayName != "" {
			p.DisplayName = displayName
		}
	} else {
		if displayName == "" {
			displayName = identity
		}
		p = &domain.Participant{Identity: identity, DisplayName: displayName, JoinedAt: now}
		r.participants[identity] = p
		r.order = append(r.order, identity)
	}
	p.Connected = true
	p.ConnID = connID

	ch := r.hub.Attach(r.code, connID)
	r.hub.Send(r.code, connID, r.snapshotEventLocked(identity, now))
	r.hub.Publish(r.code, domain.Event{Type: domain.EventParticipantJoined, Payload: domain.ParticipantChange{
		Identity:    identity,
		DisplayName: p.DisplayName,
		Reconnected: reconnected,
		Connected:   true,
	}})
	r.logger.Info("participant attached", "room", r.code, "identity", identity, "reconnected", reconnected)
	return ch, nil
}

// Refresh updates a connected member's display name and resends their
// snapshot.
func (r *Room) Refresh(connID, identity, displayName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomClosed {
		return domain.ErrRoomClosed
	}
	if identity != r.host {
		p, ok := r.participants[identity]
		if !ok {
			return domain.ErrUnknownParticipant
		}
		if displayName != "" {
			p.DisplayName = displayName
		}
	}
	now := r.now()
	r.lastActivity = now
	r.hub.Send(r.code, connID, r.snapshotEventLocked(identity, now))
	return nil
}

// Disconnect marks identity's connection gone. Participants keep their
// score; a departed host arms the grace timer. Stale connection ids are
// ignored.
func (r *Room) Disconnect(identity, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomClosed {
		return
	}
	now := r.now()

	if identity == r.host {
		if r.hostConnID != connID {
			return
		}
		r.hostConnID = ""
		r.hub.Detach(r.code, connID)
		if r.opts.HostGrace > 0 {
			r.hostGrace.Stop()
			r.hostGrace = r.clock.AfterFunc(r.opts.HostGrace, r.hostGraceExpired)
		}
		r.logger.Info("host detached", "room", r.code, "grace", r.opts.HostGrace)
		return
	}

	p, ok := r.participants[identity]
	if !ok || p.ConnID != connID {
		return
	}
	p.Connected = false
	p.ConnID = ""
	r.hub.Detach(r.code, connID)
	r.hub.Publish(r.code, domain.Event{Type: domain.EventParticipantLeft, Payload: domain.ParticipantChange{
		Identity:    identity,
		DisplayName: p.DisplayName,
	}})
	r.closeIfAllAnsweredLocked(now)
}

func (r *Room) hostGraceExpired() {
	r.mu.Lock()
	if r.state == domain.RoomClosed || r.hostConnID != "" {
		r.mu.Unlock()
		return
	}
	arch := r.closeLocked(domain.CloseHostLeft)
	r.mu.Unlock()

	r.persist(arch)
	if r.onClosed != nil {
		r.onClosed(r)
	}
}

// HostStart creates a session for quiz and puts it in the lobby.
func (r *Room) HostStart(identity string, quiz domain.Quiz) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.hostCheckLocked(identity); err != nil {
		return "", err
	}
	if r.session != nil && r.session.active() {
		return "", domain.ErrInvalidState
	}
	now := r.now()
	session, err := newSession(r.newID(), r.code, quiz, r.opts.Scoring, now)
	if err != nil {
		return "", err
	}
	r.session = session
	r.lastActivity = now
	for _, p := range r.participants {
		p.Score = 0
	}

	r.hub.Publish(r.code, domain.Event{Type: domain.EventSessionStarted, Payload: domain.SessionStarted{
		SessionID:     session.id,
		QuizID:        quiz.ID,
		Title:         quiz.Title,
		QuestionCount: len(session.order),
	}})
	r.logger.Info("session started", "room", r.code, "session", session.id, "quiz", quiz.ID)
	return session.id, nil
}

// HostAdvance opens the next question, or finishes the session when none
// remains.
func (r *Room) HostAdvance(identity string) error {
	r.mu.Lock()
	if err := r.hostCheckLocked(identity); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.session == nil || !r.session.active() {
		r.mu.Unlock()
		return domain.ErrInvalidState
	}
	now := r.now()
	r.lastActivity = now

	opened, done, degraded, err := r.session.openNext(now)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	var arch *archive
	if done {
		arch = r.finishLocked(now, degraded)
	} else {
		sessionID, index := r.session.id, opened.Index
		r.deadline = r.clock.AfterFunc(opened.Deadline.Sub(now), func() {
			r.expire(sessionID, index)
		})
		r.hub.Publish(r.code, domain.Event{Type: domain.EventQuestionOpened, Payload: opened})
	}
	r.mu.Unlock()

	r.persist(arch)
	return nil
}

// HostForceClose closes the open question now. Closing an already closed
// question is a no-op so it cannot lose a race with the deadline.
func (r *Room) HostForceClose(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.hostCheckLocked(identity); err != nil {
		return err
	}
	if r.session == nil {
		return domain.ErrInvalidState
	}
	now := r.now()
	switch r.session.state {
	case domain.SessionQuestionOpen:
		r.lastActivity = now
		r.closeQuestionLocked(now)
		return nil
	case domain.SessionQuestionClosed:
		return nil
	default:
		return domain.ErrInvalidState
	}
}

// HostEnd aborts any active session to Finished and closes the room.
func (r *Room) HostEnd(identity string) error {
	r.mu.Lock()
	if err := r.hostCheckLocked(identity); err != nil {
		r.mu.Unlock()
		return err
	}
	arch := r.closeLocked(domain.CloseHostEnded)
	r.mu.Unlock()

	r.persist(arch)
	if r.onClosed != nil {
		r.onClosed(r)
	}
	return nil
}

// Submit records identity's answer for the question at index.
func (r *Room) Submit(identity string, index int, choice string, latency time.Duration) (domain.StudentResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomClosed {
		return domain.StudentResponse{}, domain.ErrRoomClosed
	}
	p, ok := r.participants[identity]
	if !ok {
		return domain.StudentResponse{}, domain.ErrUnknownParticipant
	}
	if r.session == nil {
		return domain.StudentResponse{}, domain.ErrWindowClosed
	}
	now := r.now()

	// The deadline may have passed before its timer reached the lock.
	if window, open := r.session.current(); open && r.session.state == domain.SessionQuestionOpen && !now.Before(window.Deadline) {
		r.closeQuestionLocked(now)
	}

	resp := domain.StudentResponse{
		ID:            r.newID(),
		SessionID:     r.session.id,
		QuestionIndex: index,
		Identity:      identity,
		Choice:        choice,
		SubmittedAt:   now,
		ClientLatency: latency,
	}
	if err := r.session.submit(resp); err != nil {
		return domain.StudentResponse{}, err
	}
	r.lastActivity = now

	if p.ConnID != "" {
		r.hub.Send(r.code, p.ConnID, domain.Event{Type: domain.EventAnswerAccepted, Payload: domain.AnswerAccepted{
			QuestionIndex: index,
			Choice:        choice,
			SubmittedAt:   now,
		}})
	}
	r.logger.Debug("answer accepted", "room", r.code, "identity", identity, "index", index)
	r.closeIfAllAnsweredLocked(now)
	return resp, nil
}

// Close ends the room. It reports false if the room was already closed.
func (r *Room) Close(reason string) bool {
	r.mu.Lock()
	if r.state == domain.RoomClosed {
		r.mu.Unlock()
		return false
	}
	arch := r.closeLocked(reason)
	r.mu.Unlock()

	r.persist(arch)
	return true
}

// Snapshot returns the full current state as seen by identity.
func (r *Room) Snapshot(identity string) domain.RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(identity, r.now())
}

// Leaderboard returns a consistent point-in-time scoreboard.
func (r *Room) Leaderboard() domain.Leaderboard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaderboardLocked(r.now())
}

// Summary returns the public view of the room.
func (r *Room) Summary() domain.RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := domain.RoomSummary{
		Code:         r.code,
		State:        r.state,
		Host:         r.host,
		CreatedAt:    r.createdAt,
		Participants: len(r.participants),
	}
	if r.session != nil {
		summary.SessionState = r.session.state
	}
	return summary
}

func (r *Room) idleSince() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity
}

func (r *Room) expire(sessionID string, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.RoomClosed || r.session == nil || r.session.id != sessionID {
		return
	}
	if r.session.state != domain.SessionQuestionOpen || r.session.position != index {
		return
	}
	r.closeQuestionLocked(r.now())
}

func (r *Room) hostCheckLocked(identity string) error {
	if r.state == domain.RoomClosed {
		return domain.ErrRoomClosed
	}
	if identity != r.host {
		return domain.ErrForbidden
	}
	return nil
}

// closeIfAllAnsweredLocked closes the open question once every connected
// participant has answered.
func (r *Room) closeIfAllAnsweredLocked(now time.Time) {
	if r.session == nil || r.session.state != domain.SessionQuestionOpen {
		return
	}
	connected := 0
	for _, identity := range r.order {
		if !r.participants[identity].Connected {
			continue
		}
		connected++
		if !r.session.answered(identity) {
			return
		}
	}
	if connected == 0 {
		return
	}
	r.closeQuestionLocked(now)
}

func (r *Room) closeQuestionLocked(now time.Time) {
	window, results, ok := r.session.closeCurrent(now, r.order)
	if !ok {
		return
	}
	r.deadline.Stop()
	r.deadline = nil
	for _, result := range results {
		if p, ok := r.participants[result.Identity]; ok {
			p.Score += result.Awarded
		}
	}
	r.hub.Publish(r.code, domain.Event{Type: domain.EventQuestionClosed, Payload: domain.QuestionClosed{
		Index:         window.Index,
		CorrectChoice: window.CorrectChoice,
		Results:       results,
		Leaderboard:   r.leaderboardLocked(now),
	}})
}

// finishLocked moves the active session to Finished, announces the final
// leaderboard and returns what must be persisted.
func (r *Room) finishLocked(now time.Time, degraded bool) *archive {
	if r.session == nil || !r.session.active() {
		return nil
	}
	if r.session.state == domain.SessionQuestionOpen {
		r.closeQuestionLocked(now)
	}
	r.session.finish(now, degraded)
	r.deadline.Stop()
	r.deadline = nil

	board := r.leaderboardLocked(now)
	r.hub.Publish(r.code, domain.Event{Type: domain.EventSessionFinished, Payload: domain.SessionFinished{
		SessionID:   r.session.id,
		Degraded:    r.session.degraded,
		Leaderboard: board,
	}})

	responses := r.session.responses.all()
	totals := make(map[string]int, len(board.Entries))
	for _, entry := range board.Entries {
		totals[entry.Identity] = entry.Score
	}
	windows := append([]domain.QuestionWindow(nil), r.session.windows...)
	digest, err := Digest(r.session.id, windows, responses, totals)
	if err != nil {
		r.logger.Error("digest session", "room", r.code, "session", r.session.id, "err", err)
	}

	r.logger.Info("session finished", "room", r.code, "session", r.session.id, "degraded", r.session.degraded)
	return &archive{
		rec: domain.SessionRecord{
			ID:          r.session.id,
			RoomCode:    r.code,
			QuizID:      r.session.quiz.ID,
			Host:        r.host,
			StartedAt:   r.session.startedAt,
			FinishedAt:  r.session.endedAt,
			Degraded:    r.session.degraded,
			Windows:     windows,
			Leaderboard: board.Entries,
			Digest:      digest,
		},
		responses: responses,
	}
}

func (r *Room) closeLocked(reason string) *archive {
	now := r.now()
	arch := r.finishLocked(now, false)

	r.deadline.Stop()
	r.deadline = nil
	r.hostGrace.Stop()
	r.hostGrace = nil

	r.hub.CloseRoom(r.code, domain.Event{Type: domain.EventRoomClosed, Payload: domain.RoomClosedNotice{Reason: reason}})
	r.state = domain.RoomClosed
	r.hostConnID = ""
	r.participants = make(map[string]*domain.Participant)
	r.order = nil
	r.logger.Info("room closed", "room", r.code, "reason", reason)
	return arch
}

func (r *Room) persist(arch *archive) {
	if arch == nil || r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.PersistTimeout)
	defer cancel()
	if err := r.recorder.RecordSession(ctx, arch.rec, arch.responses); err != nil {
		r.logger.Error("record session", "room", r.code, "session", arch.rec.ID, "err", err)
	}
}

// leaderboardLocked orders by score, breaking ties by join order.
func (r *Room) leaderboardLocked(now time.Time) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(r.order))
	for _, identity := range r.order {
		p := r.participants[identity]
		entries = append(entries, domain.LeaderboardEntry{
			Identity:    p.Identity,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			Connected:   p.Connected,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
		}
	}
	return domain.Leaderboard{RoomCode: r.code, Entries: entries, UpdatedAt: now}
}

func (r *Room) snapshotEventLocked(identity string, now time.Time) domain.Event {
	return domain.Event{Type: domain.EventRoomSnapshot, Payload: r.snapshotLocked(identity, now)}
}

func (r *Room) snapshotLocked(identity string, now time.Time) domain.RoomSnapshot {
	snap := domain.RoomSnapshot{
		Code:        r.code,
		State:       r.state,
		Host:        r.host,
		You:         identity,
		IsHost:      identity == r.host,
		Leaderboard: r.leaderboardLocked(now),
	}
	if p, ok := r.participants[identity]; ok {
		snap.Score = p.Score
	}
	if r.session == nil {
		return snap
	}
	snap.Session = r.session.view(now)
	if window, ok := r.session.current(); ok {
		if resp, found := r.session.responses.lookup(window.Index, identity); found {
			snap.LastAnswer = &resp
		}
	}
	return snap
}
