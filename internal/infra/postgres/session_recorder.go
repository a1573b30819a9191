package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"live-quiz-service/internal/domain"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions"`

	ID          string                    `bun:"id,pk"`
	RoomCode    string                    `bun:"room_code,notnull"`
	QuizID      string                    `bun:"quiz_id,notnull"`
	Host        string                    `bun:"host,notnull"`
	StartedAt   time.Time                 `bun:"started_at,notnull"`
	FinishedAt  time.Time                 `bun:"finished_at,notnull"`
	Degraded    bool                      `bun:"degraded,notnull"`
	Windows     []domain.QuestionWindow   `bun:"windows,type:jsonb,notnull"`
	Leaderboard []domain.LeaderboardEntry `bun:"leaderboard,type:jsonb,notnull"`
	Digest      string                    `bun:"digest,notnull"`
}

type responseRow struct {
	bun.BaseModel `bun:"table:student_responses"`

	ID              string    `bun:"id,pk"`
	SessionID       string    `bun:"session_id,notnull"`
	QuestionIndex   int       `bun:"question_index,notnull"`
	Identity        string    `bun:"identity,notnull"`
	Choice          string    `bun:"choice,notnull"`
	SubmittedAt     time.Time `bun:"submitted_at,notnull"`
	ClientLatencyMs int64     `bun:"client_latency_ms,notnull"`
}

// SessionRecorder archives finished sessions and their responses.
type SessionRecorder struct {
	db *bun.DB
}

func NewSessionRecorder(db *bun.DB) *SessionRecorder {
	return &SessionRecorder{db: db}
}

// RecordSession writes a session and its responses in one transaction.
// Recording the same session twice is a no-op.
func (r *SessionRecorder) RecordSession(ctx context.Context, rec domain.SessionRecord, responses []domain.StudentResponse) error {
	row := sessionRow{
		ID:          rec.ID,
		RoomCode:    rec.RoomCode,
		QuizID:      rec.QuizID,
		Host:        rec.Host,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		Degraded:    rec.Degraded,
		Windows:     rec.Windows,
		Leaderboard: rec.Leaderboard,
		Digest:      rec.Digest,
	}
	if row.Windows == nil {
		row.Windows = []domain.QuestionWindow{}
	}
	if row.Leaderboard == nil {
		row.Leaderboard = []domain.LeaderboardEntry{}
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().Model(&row).On("CONFLICT (id) DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert session %s: %w", rec.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if len(responses) == 0 {
			return nil
		}
		rows := make([]responseRow, len(responses))
		for i, resp := range responses {
			rows[i] = responseRow{
				ID:              resp.ID,
				SessionID:       rec.ID,
				QuestionIndex:   resp.QuestionIndex,
				Identity:        resp.Identity,
				Choice:          resp.Choice,
				SubmittedAt:     resp.SubmittedAt,
				ClientLatencyMs: resp.ClientLatency.Milliseconds(),
			}
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return fmt.Errorf("insert responses for %s: %w", rec.ID, err)
		}
		return nil
	})
}

// LoadSession reads back a recorded session.
func (r *SessionRecorder) LoadSession(ctx context.Context, sessionID string) (domain.SessionRecord, []domain.StudentResponse, error) {
	var row sessionRow
	err := r.db.NewSelect().Model(&row).Where("id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionRecord{}, nil, domain.ErrNotFound
	}
	if err != nil {
		return domain.SessionRecord{}, nil, fmt.Errorf("select session %s: %w", sessionID, err)
	}

	var rows []responseRow
	err = r.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Order("question_index ASC", "submitted_at ASC", "identity ASC").
		Scan(ctx)
	if err != nil {
		return domain.SessionRecord{}, nil, fmt.Errorf("select responses %s: %w", sessionID, err)
	}

	rec := domain.SessionRecord{
		ID:          row.ID,
		RoomCode:    row.RoomCode,
		QuizID:      row.QuizID,
		Host:        row.Host,
		StartedAt:   row.StartedAt.UTC(),
		FinishedAt:  row.FinishedAt.UTC(),
		Degraded:    row.Degraded,
		Windows:     row.Windows,
		Leaderboard: row.Leaderboard,
		Digest:      row.Digest,
	}
	responses := make([]domain.StudentResponse, len(rows))
	for i, rr := range rows {
		responses[i] = domain.StudentResponse{
			ID:            rr.ID,
			SessionID:     rr.SessionID,
			QuestionIndex: rr.QuestionIndex,
			Identity:      rr.Identity,
			Choice:        rr.Choice,
			SubmittedAt:   rr.SubmittedAt.UTC(),
			ClientLatency: time.Duration(rr.ClientLatencyMs) * time.Millisecond,
		}
	}
	return rec, responses, nil
}
