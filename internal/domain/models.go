package domain

import "time"

// RoomState is the lifecycle state of a Room.
type RoomState string

const (
	RoomOpen   RoomState = "open"
	RoomClosed RoomState = "closed"
)

// SessionState is the state of a quiz session inside a room.
type SessionState string

const (
	SessionCreated        SessionState = "created"
	SessionLobby          SessionState = "lobby"
	SessionQuestionOpen   SessionState = "questionOpen"
	SessionQuestionClosed SessionState = "questionClosed"
	SessionFinishedState  SessionState = "finished"
)

// Participant is a non-host identity that joined a room. It is marked
// disconnected on transport drop and only purged when the room closes.
type Participant struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName"`
	Score       int       `json:"score"`
	Connected   bool      `json:"connected"`
	JoinedAt    time.Time `json:"joinedAt"`
	// ConnID is a lookup key into the connection registry, never an owned handle.
	ConnID string `json:"-"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	Connected   bool   `json:"connected"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomCode  string             `json:"roomCode"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID               string   `json:"id"`
	Prompt           string   `json:"prompt"`
	Options          []Option `json:"options"`
	Points           int      `json:"points"`           // defaults to scoring.basePoints if zero
	TimeLimitSeconds int      `json:"timeLimitSeconds"` // defaults to scoring.defaultTimeLimit if zero
}

// CorrectOption returns the ID of the option flagged correct.
func (q Question) CorrectOption() (string, bool) {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID, true
		}
	}
	return "", false
}

// HasOption reports whether id names one of the question's options.
func (q Question) HasOption(id string) bool {
	for _, opt := range q.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// TimeLimit returns the answer window for the question.
func (q Question) TimeLimit(fallback time.Duration) time.Duration {
	if q.TimeLimitSeconds > 0 {
		return time.Duration(q.TimeLimitSeconds) * time.Second
	}
	return fallback
}

// Public strips the correct flags so the question can be shown to participants.
func (q Question) Public() PublicQuestion {
	opts := make([]PublicOption, 0, len(q.Options))
	for _, opt := range q.Options {
		opts = append(opts, PublicOption{ID: opt.ID, Text: opt.Text})
	}
	return PublicQuestion{ID: q.ID, Prompt: q.Prompt, Options: opts}
}

// Playable reports whether the question can be asked and scored.
func (q Question) Playable() bool {
	if len(q.Options) == 0 {
		return false
	}
	_, ok := q.CorrectOption()
	return ok
}

// PublicOption is an option without its correctness flag.
type PublicOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PublicQuestion is what participants see while a question is open.
type PublicQuestion struct {
	ID      string         `json:"id"`
	Prompt  string         `json:"prompt"`
	Options []PublicOption `json:"options"`
}

// Quiz is an immutable collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// StudentResponse is an accepted submission. Immutable once accepted.
type StudentResponse struct {
	ID            string        `json:"id" cbor:"id"`
	SessionID     string        `json:"sessionId" cbor:"sessionId"`
	QuestionIndex int           `json:"questionIndex" cbor:"questionIndex"`
	Identity      string        `json:"identity" cbor:"identity"`
	Choice        string        `json:"choice" cbor:"choice"`
	SubmittedAt   time.Time     `json:"submittedAt" cbor:"submittedAt"`
	ClientLatency time.Duration `json:"clientLatency" cbor:"clientLatency"`
}

// QuestionWindow records when a question was open for answers.
type QuestionWindow struct {
	Index         int       `json:"index" cbor:"index"`
	QuestionID    string    `json:"questionId" cbor:"questionId"`
	CorrectChoice string    `json:"correctChoice" cbor:"correctChoice"`
	BasePoints    int       `json:"basePoints" cbor:"basePoints"`
	OpenedAt      time.Time `json:"openedAt" cbor:"openedAt"`
	Deadline      time.Time `json:"deadline" cbor:"deadline"`
	ClosedAt      time.Time `json:"closedAt" cbor:"closedAt"`
}

// QuestionResult is the finalized outcome of one question for one participant.
type QuestionResult struct {
	Identity string `json:"identity" cbor:"identity"`
	Answered bool   `json:"answered" cbor:"answered"`
	Choice   string `json:"choice,omitempty" cbor:"choice"`
	Correct  bool   `json:"correct" cbor:"correct"`
	Awarded  int    `json:"awarded" cbor:"awarded"`
}

// SessionRecord is what the persistence layer stores for a finished session.
type SessionRecord struct {
	ID          string             `json:"id"`
	RoomCode    string             `json:"roomCode"`
	QuizID      string             `json:"quizId"`
	Host        string             `json:"host"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
	Degraded    bool               `json:"degraded"`
	Windows     []QuestionWindow   `json:"windows"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Digest      string             `json:"digest"`
}

// RoomSummary is the public, non-participant view of a room.
type RoomSummary struct {
	Code         string       `json:"code"`
	State        RoomState    `json:"state"`
	Host         string       `json:"host"`
	CreatedAt    time.Time    `json:"createdAt"`
	Participants int          `json:"participants"`
	SessionState SessionState `json:"sessionState,omitempty"`
}
