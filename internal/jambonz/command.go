package jambonz

// Message types written on a listen socket.
const (
	TypeCommand       = "command"
	TypeConnectionAck = "connection_ack"
)

// CommandRedirect replaces the current call application with new verbs.
const CommandRedirect = "redirect"

// Command is an out-of-band control message sent over the listen socket.
type Command struct {
	Type         string `json:"type"`
	Command      string `json:"command"`
	QueueCommand bool   `json:"queueCommand"`
	Data         []Dial `json:"data"`
}

// NewRedirect builds a redirect command that dials number and bridges the
// caller on answer. The command is executed immediately rather than queued.
func NewRedirect(number string) Command {
	return Command{
		Type:         TypeCommand,
		Command:      CommandRedirect,
		QueueCommand: false,
		Data:         []Dial{NewDial(true, PhoneTarget(number))},
	}
}

// ConnectionAck is the first text frame sent on an accepted stream.
// callSid mirrors the original field name; callId is carried alongside it.
type ConnectionAck struct {
	Type    string `json:"type"`
	CallSid string `json:"callSid"`
	CallID  string `json:"callId"`
	Message string `json:"message"`
}

// NewConnectionAck returns the acknowledgement for callID.
func NewConnectionAck(callID string) ConnectionAck {
	return ConnectionAck{
		Type:    TypeConnectionAck,
		CallSid: callID,
		CallID:  callID,
		Message: "WebSocket connection established for audio streaming",
	}
}
