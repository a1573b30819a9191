package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"live-quiz-service/internal/clock"
	"live-quiz-service/internal/domain"
)

// QuizRepository provides quiz content.
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SessionLoader reads back sessions written by a Recorder.
type SessionLoader interface {
	LoadSession(ctx context.Context, sessionID string) (domain.SessionRecord, []domain.StudentResponse, error)
}

// Deps are the collaborators of a Service. Recorder, Sessions and
// Reserver are optional.
type Deps struct {
	Quizzes    QuizRepository
	Recorder   Recorder
	Sessions   SessionLoader
	Reserver   CodeReserver
	Clock      clock.Clock
	Logger     *slog.Logger
	CodeSource io.Reader
}

// Options tunes the coordinator.
type Options struct {
	CodeAttempts   int
	HostGrace      time.Duration
	IdleTimeout    time.Duration
	ReapInterval   time.Duration
	OutboxSize     int
	PersistTimeout time.Duration
	Scoring        ScoringOptions
}

func DefaultOptions() Options {
	return Options{
		CodeAttempts:   16,
		HostGrace:      30 * time.Second,
		IdleTimeout:    2 * time.Hour,
		ReapInterval:   time.Minute,
		OutboxSize:     64,
		PersistTimeout: 5 * time.Second,
		Scoring: ScoringOptions{
			BasePoints:       1000,
			DefaultTimeLimit: 20 * time.Second,
		},
	}
}

// SessionReport is an archived session as shown to its host.
type SessionReport struct {
	Record    domain.SessionRecord     `json:"record"`
	Responses []domain.StudentResponse `json:"responses"`
	Verified  bool                     `json:"verified"`
}

// Service is the entry point transports use: it routes commands from
// connections to their rooms.
type Service struct {
	quizzes  QuizRepository
	sessions SessionLoader
	rooms    *Registry
	conns    *ConnectionRegistry
	hub      *Hub
	logger   *slog.Logger
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.Scoring.BasePoints <= 0 {
		opts.Scoring.BasePoints = DefaultOptions().Scoring.BasePoints
	}
	if opts.Scoring.DefaultTimeLimit <= 0 {
		opts.Scoring.DefaultTimeLimit = DefaultOptions().Scoring.DefaultTimeLimit
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultOptions().PersistTimeout
	}

	logger := deps.Logger.With("component", "coordinator")
	hub := NewHub(opts.OutboxSize, logger)
	conns := NewConnectionRegistry()
	rooms := NewRegistry(
		NewCodeGenerator(deps.CodeSource),
		deps.Reserver,
		conns,
		hub,
		deps.Recorder,
		deps.Clock,
		logger,
		RegistryOptions{
			CodeAttempts: opts.CodeAttempts,
			IdleTimeout:  opts.IdleTimeout,
			ReapInterval: opts.ReapInterval,
			Room: RoomOptions{
				HostGrace:      opts.HostGrace,
				PersistTimeout: opts.PersistTimeout,
				Scoring:        opts.Scoring,
			},
		},
	)
	return &Service{
		quizzes:  deps.Quizzes,
		sessions: deps.Sessions,
		rooms:    rooms,
		conns:    conns,
		hub:      hub,
		logger:   logger,
	}
}

// CreateRoom opens a room owned by host.
func (s *Service) CreateRoom(ctx context.Context, host string) (domain.RoomSummary, error) {
	if host == "" {
		return domain.RoomSummary{}, domain.ErrInvalidToken
	}
	room, err := s.rooms.CreateRoom(ctx, host)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	return room.Summary(), nil
}

// CloseRoom closes the room for code on behalf of its host, finishing and
// persisting any active session.
func (s *Service) CloseRoom(identity, code string) error {
	room, err := s.room(code)
	if err != nil {
		return err
	}
	if identity != room.Host() {
		return domain.ErrForbidden
	}
	s.rooms.CloseRoom(room.Code(), domain.CloseHostEnded)
	return nil
}

// Summary returns the public view of the room for code.
func (s *Service) Summary(code string) (domain.RoomSummary, error) {
	room, err := s.room(code)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	return room.Summary(), nil
}

// Leaderboard returns the room's current scoreboard.
func (s *Service) Leaderboard(code string) (domain.Leaderboard, error) {
	room, err := s.room(code)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return room.Leaderboard(), nil
}

// Connect binds a new transport connection to identity in room code and
// returns its outbox. The outbox is closed when the connection is
// replaced, dropped or the room closes.
func (s *Service) Connect(_ context.Context, connID, code, identity, displayName string) (<-chan domain.Event, error) {
	if identity == "" {
		return nil, domain.ErrInvalidToken
	}
	room, err := s.room(code)
	if err != nil {
		return nil, err
	}
	outbox, err := room.Connect(connID, identity, displayName)
	if err != nil {
		return nil, err
	}
	if previous := s.conns.Bind(Binding{
		ConnID:   connID,
		Code:     room.Code(),
		Identity: identity,
		Host:     identity == room.Host(),
	}); previous != "" {
		s.logger.Info("connection replaced", "room", room.Code(), "identity", identity, "previous", previous)
	}
	return outbox, nil
}

// Disconnect releases a connection after the transport dropped it.
func (s *Service) Disconnect(connID string) {
	b, ok := s.conns.Unbind(connID)
	if !ok {
		return
	}
	room, err := s.rooms.Find(b.Code)
	if err != nil {
		return
	}
	room.Disconnect(b.Identity, connID)
}

// Handle applies cmd on behalf of connID. Failures are returned and also
// delivered to the connection as an error event.
func (s *Service) Handle(ctx context.Context, connID string, cmd domain.Command) error {
	err := s.dispatch(ctx, connID, cmd)
	if err != nil {
		s.Notify(connID, err)
		s.logger.Debug("command rejected", "conn", connID, "type", cmd.Type, "err", err)
	}
	return err
}

// Notify delivers err to a single connection as an error event.
func (s *Service) Notify(connID string, err error) {
	if b, ok := s.conns.Resolve(connID); ok {
		s.hub.Send(b.Code, connID, domain.NewError(err))
	}
}

func (s *Service) dispatch(ctx context.Context, connID string, cmd domain.Command) error {
	b, ok := s.conns.Resolve(connID)
	if !ok {
		return domain.ErrUnknownParticipant
	}
	room, err := s.rooms.Find(b.Code)
	if err != nil {
		return err
	}

	switch cmd.Type {
	case domain.CmdJoin:
		return room.Refresh(connID, b.Identity, cmd.DisplayName)
	case domain.CmdLeave:
		s.Disconnect(connID)
		return nil
	case domain.CmdHostStart:
		if !b.Host {
			return domain.ErrForbidden
		}
		quiz, err := s.loadQuiz(ctx, cmd.QuizID)
		if err != nil {
			return err
		}
		_, err = room.HostStart(b.Identity, quiz)
		return err
	case domain.CmdHostAdvance:
		return room.HostAdvance(b.Identity)
	case domain.CmdHostForceClose:
		return room.HostForceClose(b.Identity)
	case domain.CmdHostEnd:
		return room.HostEnd(b.Identity)
	case domain.CmdSubmitAnswer:
		_, err := room.Submit(b.Identity, cmd.QuestionIndex, cmd.Choice, cmd.ClientLatency)
		return err
	default:
		return fmt.Errorf("%w: unknown command %q", domain.ErrInvalidState, cmd.Type)
	}
}

func (s *Service) loadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if s.quizzes == nil || quizID == "" {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		if errors.Is(err, domain.ErrQuizNotFound) {
			return domain.Quiz{}, err
		}
		return domain.Quiz{}, fmt.Errorf("load quiz %s: %w", quizID, err)
	}
	return quiz, nil
}

// SessionResponses returns an archived session and its responses. Only
// the session's host may read them.
func (s *Service) SessionResponses(ctx context.Context, identity, sessionID string) (SessionReport, error) {
	if s.sessions == nil {
		return SessionReport{}, domain.ErrNotFound
	}
	rec, responses, err := s.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	if rec.Host != identity {
		return SessionReport{}, domain.ErrForbidden
	}
	verified, err := VerifyRecord(rec, responses)
	if err != nil {
		return SessionReport{}, err
	}
	return SessionReport{Record: rec, Responses: responses, Verified: verified}, nil
}

// Run reaps idle rooms until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.rooms.Run(ctx)
}

// Reap closes rooms idle past the configured timeout.
func (s *Service) Reap() int {
	return s.rooms.Reap()
}

// Shutdown closes every room, finishing and persisting active sessions.
func (s *Service) Shutdown() {
	s.rooms.Shutdown()
}

// Rooms returns the number of open rooms.
func (s *Service) Rooms() int {
	return s.rooms.Count()
}

func (s *Service) room(code string) (*Room, error) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	return s.rooms.Find(normalized)
}
