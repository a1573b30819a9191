package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// SessionArchive keeps finished sessions in process. It is the default
// recorder when no database is configured.
type SessionArchive struct {
	mu        sync.RWMutex
	records   map[string]domain.SessionRecord
	responses map[string][]domain.StudentResponse
}

func NewSessionArchive() *SessionArchive {
	return &SessionArchive{
		records:   make(map[string]domain.SessionRecord),
		responses: make(map[string][]domain.StudentResponse),
	}
}

func (a *SessionArchive) RecordSession(_ context.Context, rec domain.SessionRecord, responses []domain.StudentResponse) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[rec.ID] = rec
	a.responses[rec.ID] = append([]domain.StudentResponse(nil), responses...)
	return nil
}

func (a *SessionArchive) LoadSession(_ context.Context, sessionID string) (domain.SessionRecord, []domain.StudentResponse, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[sessionID]
	if !ok {
		return domain.SessionRecord{}, nil, domain.ErrNotFound
	}
	return rec, append([]domain.StudentResponse(nil), a.responses[sessionID]...), nil
}
