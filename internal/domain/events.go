package domain

import "time"

// EventType names an outbound message.
type EventType string

const (
	EventRoomSnapshot      EventType = "roomSnapshot"
	EventParticipantJoined EventType = "participantJoined"
	EventParticipantLeft   EventType = "participantLeft"
	EventSessionStarted    EventType = "sessionStarted"
	EventQuestionOpened    EventType = "questionOpened"
	EventQuestionClosed    EventType = "questionClosed"
	EventSessionFinished   EventType = "sessionFinished"
	EventRoomClosed        EventType = "roomClosed"
	EventAnswerAccepted    EventType = "answerAccepted"
	EventError             EventType = "error"
)

// Event is a single message fanned out to connections.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// SessionView is the session part of a RoomSnapshot.
type SessionView struct {
	ID            string          `json:"id"`
	QuizID        string          `json:"quizId"`
	State         SessionState    `json:"state"`
	QuestionIndex int             `json:"questionIndex"`
	QuestionCount int             `json:"questionCount"`
	Question      *PublicQuestion `json:"question,omitempty"`
	Deadline      *time.Time      `json:"deadline,omitempty"`
	RemainingMs   int64           `json:"remainingMs"`
	Degraded      bool            `json:"degraded,omitempty"`
}

// RoomSnapshot is the full current state sent to a (re)connecting client.
type RoomSnapshot struct {
	Code        string           `json:"code"`
	State       RoomState        `json:"state"`
	Host        string           `json:"host"`
	You         string           `json:"you"`
	IsHost      bool             `json:"isHost"`
	Session     *SessionView     `json:"session,omitempty"`
	Leaderboard Leaderboard      `json:"leaderboard"`
	Score       int              `json:"score"`
	LastAnswer  *StudentResponse `json:"lastAnswer,omitempty"`
}

// ParticipantChange is the payload of participantJoined/participantLeft.
type ParticipantChange struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	Reconnected bool   `json:"reconnected,omitempty"`
	Connected   bool   `json:"connected"`
}

// SessionStarted announces a new session entering the lobby.
type SessionStarted struct {
	SessionID     string `json:"sessionId"`
	QuizID        string `json:"quizId"`
	Title         string `json:"title"`
	QuestionCount int    `json:"questionCount"`
}

// QuestionOpened announces the question now accepting responses.
type QuestionOpened struct {
	Index         int            `json:"index"`
	QuestionCount int            `json:"questionCount"`
	Question      PublicQuestion `json:"question"`
	Deadline      time.Time      `json:"deadline"`
}

// QuestionClosed carries the finalized results of one question.
type QuestionClosed struct {
	Index         int              `json:"index"`
	CorrectChoice string           `json:"correctChoice"`
	Results       []QuestionResult `json:"results"`
	Leaderboard   Leaderboard      `json:"leaderboard"`
}

// SessionFinished carries the final leaderboard.
type SessionFinished struct {
	SessionID   string      `json:"sessionId"`
	Degraded    bool        `json:"degraded"`
	Leaderboard Leaderboard `json:"leaderboard"`
}

// RoomClosedNotice is the terminal message before a room's connections are evicted.
type RoomClosedNotice struct {
	Reason string `json:"reason"`
}

// AnswerAccepted acknowledges a response to the submitter only.
type AnswerAccepted struct {
	QuestionIndex int       `json:"questionIndex"`
	Choice        string    `json:"choice"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// ErrorPayload is sent to a single connection when a command fails.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Room close reasons.
const (
	CloseHostEnded = "host_ended"
	CloseHostLeft  = "host_left"
	CloseIdle      = "idle"
	CloseShutdown  = "shutdown"
)

// NewError builds an error event for err.
func NewError(err error) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Code: ErrorCode(err), Message: err.Error()}}
}
