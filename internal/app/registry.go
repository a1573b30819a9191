package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/clock"
	"live-quiz-service/internal/domain"
)

// CodeReserver claims room codes outside this process so that several
// coordinator instances never hand out the same code.
type CodeReserver interface {
	Reserve(ctx context.Context, code string) (bool, error)
	Release(ctx context.Context, code string) error
}

// RegistryOptions tunes room creation and reaping.
type RegistryOptions struct {
	CodeAttempts int
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	Room         RoomOptions
}

// Registry owns the live rooms, keyed by code.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	pending map[string]struct{}

	codes    *CodeGenerator
	reserver CodeReserver
	conns    *ConnectionRegistry
	hub      *Hub
	recorder Recorder
	clock    clock.Clock
	logger   *slog.Logger
	opts     RegistryOptions
	newID    func() string
}

func NewRegistry(
	codes *CodeGenerator,
	reserver CodeReserver,
	conns *ConnectionRegistry,
	hub *Hub,
	recorder Recorder,
	clk clock.Clock,
	logger *slog.Logger,
	opts RegistryOptions,
) *Registry {
	if opts.CodeAttempts <= 0 {
		opts.CodeAttempts = 16
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		pending:  make(map[string]struct{}),
		codes:    codes,
		reserver: reserver,
		conns:    conns,
		hub:      hub,
		recorder: recorder,
		clock:    clk,
		logger:   logger,
		opts:     opts,
		newID:    uuid.NewString,
	}
}

// CreateRoom allocates a unique code and opens a room owned by host.
func (g *Registry) CreateRoom(ctx context.Context, host string) (*Room, error) {
	for attempt := 0; attempt < g.opts.CodeAttempts; attempt++ {
		code, err := g.codes.Next()
		if err != nil {
			return nil, err
		}
		if !g.claimLocal(code) {
			continue
		}
		ok, err := g.reserve(ctx, code)
		if err != nil {
			g.releaseLocal(code)
			return nil, err
		}
		if !ok {
			g.releaseLocal(code)
			continue
		}

		room := g.newRoom(code, host)
		g.mu.Lock()
		delete(g.pending, code)
		g.rooms[code] = room
		g.mu.Unlock()

		g.logger.Info("room created", "room", code, "host", host, "attempt", attempt+1)
		return room, nil
	}
	g.logger.Warn("room code space exhausted", "attempts", g.opts.CodeAttempts)
	return nil, domain.ErrCollisionExhausted
}

func (g *Registry) claimLocal(code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, taken := g.rooms[code]; taken {
		return false
	}
	if _, taken := g.pending[code]; taken {
		return false
	}
	g.pending[code] = struct{}{}
	return true
}

func (g *Registry) releaseLocal(code string) {
	g.mu.Lock()
	delete(g.pending, code)
	g.mu.Unlock()
}

func (g *Registry) reserve(ctx context.Context, code string) (bool, error) {
	if g.reserver == nil {
		return true, nil
	}
	ok, err := g.reserver.Reserve(ctx, code)
	if err != nil {
		return false, fmt.Errorf("reserve room code: %w", err)
	}
	return ok, nil
}

func (g *Registry) newRoom(code, host string) *Room {
	now := g.clock.Now().UTC().Truncate(time.Millisecond)
	return &Room{
		code:         code,
		host:         host,
		createdAt:    now,
		clock:        g.clock,
		hub:          g.hub,
		recorder:     g.recorder,
		logger:       g.logger.With("component", "room"),
		opts:         g.opts.Room,
		newID:        g.newID,
		onClosed:     g.forget,
		state:        domain.RoomOpen,
		participants: make(map[string]*domain.Participant),
		lastActivity: now,
	}
}

// Find returns the open room for code.
func (g *Registry) Find(code string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return room, nil
}

// CloseRoom closes the room for code. Closing an unknown or already
// closed room is not an error.
func (g *Registry) CloseRoom(code, reason string) {
	g.mu.Lock()
	room, ok := g.rooms[code]
	g.mu.Unlock()
	if !ok {
		return
	}
	room.Close(reason)
	g.forget(room)
}

// forget drops a closed room from every index. It tolerates being called
// twice for the same room.
func (g *Registry) forget(room *Room) {
	g.mu.Lock()
	if current, ok := g.rooms[room.code]; !ok || current != room {
		g.mu.Unlock()
		return
	}
	delete(g.rooms, room.code)
	g.mu.Unlock()

	g.conns.DropRoom(room.code)
	if g.reserver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.reserver.Release(ctx, room.code); err != nil {
			g.logger.Warn("release room code", "room", room.code, "err", err)
		}
	}
}

// Run reaps idle rooms until ctx is cancelled.
func (g *Registry) Run(ctx context.Context) error {
	if g.opts.IdleTimeout <= 0 || g.opts.ReapInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := g.clock.NewTicker(g.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Reap()
		}
	}
}

// Reap closes every room idle for longer than the idle timeout and
// returns how many it closed.
func (g *Registry) Reap() int {
	if g.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := g.clock.Now().Add(-g.opts.IdleTimeout)

	g.mu.Lock()
	var idle []*Room
	for _, room := range g.rooms {
		idle = append(idle, room)
	}
	g.mu.Unlock()

	closed := 0
	for _, room := range idle {
		if !room.idleSince().Before(cutoff) {
			continue
		}
		room.Close(domain.CloseIdle)
		g.forget(room)
		closed++
	}
	if closed > 0 {
		g.logger.Info("reaped idle rooms", "count", closed)
	}
	return closed
}

// Shutdown closes every room.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	for _, room := range rooms {
		room.Close(domain.CloseShutdown)
		g.forget(room)
	}
}

// Count returns the number of open rooms.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
