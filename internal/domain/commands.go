package domain

import "time"

// CommandType names an inbound transport message.
type CommandType string

const (
	CmdJoin           CommandType = "join"
	CmdLeave          CommandType = "leave"
	CmdHostStart      CommandType = "hostStart"
	CmdHostAdvance    CommandType = "hostAdvance"
	CmdHostForceClose CommandType = "hostForceCloseQuestion"
	CmdHostEnd        CommandType = "hostEnd"
	CmdSubmitAnswer   CommandType = "submitAnswer"
)

// Command is an inbound message after the transport has decoded it and
// resolved the sender's identity.
type Command struct {
	Type          CommandType
	Code          string
	Identity      string
	DisplayName   string
	QuizID        string
	QuestionIndex int
	Choice        string
	ClientLatency time.Duration
}
