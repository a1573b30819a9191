package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown room code.
	ErrNotFound = errors.New("room not found")
	// ErrForbidden is returned when a non-host attempts a host-only transition.
	ErrForbidden = errors.New("only the host may do that")
	// ErrInvalidState indicates the operation is not legal in the current state.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrWindowClosed indicates no question is accepting responses.
	ErrWindowClosed = fmt.Errorf("%w: response window closed", ErrInvalidState)
	// ErrStaleQuestion indicates a response for a question that is not the open one.
	ErrStaleQuestion = errors.New("question is no longer open")
	// ErrDuplicate indicates the participant already has an accepted response.
	ErrDuplicate = errors.New("response already accepted for this question")
	// ErrUnknownParticipant is returned when an identity acts before joining.
	ErrUnknownParticipant = errors.New("participant not found in room")
	// ErrCollisionExhausted indicates room code generation gave up after bounded retries.
	ErrCollisionExhausted = errors.New("could not allocate a unique room code")
	// ErrRoomClosed is returned for operations on a room that has been closed.
	ErrRoomClosed = fmt.Errorf("%w: room closed", ErrNotFound)
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrEmptyQuiz indicates the quiz has no questions.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrInvalidChoice indicates the submitted choice is not one of the question's options.
	ErrInvalidChoice = errors.New("choice is not an option of this question")
	// ErrInvalidToken indicates the identity token could not be verified.
	ErrInvalidToken = errors.New("invalid identity token")
	// ErrInvalidCode indicates a malformed room code.
	ErrInvalidCode = fmt.Errorf("%w: malformed room code", ErrNotFound)
)

// ErrorCode maps an error to a stable code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWindowClosed):
		return "window_closed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrStaleQuestion):
		return "stale_question"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, ErrCollisionExhausted):
		return "collision_exhausted"
	case errors.Is(err, ErrQuizNotFound):
		return "quiz_not_found"
	case errors.Is(err, ErrEmptyQuiz):
		return "empty_quiz"
	case errors.Is(err, ErrInvalidChoice):
		return "invalid_choice"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "internal"
	}
}
