package protocol

import "time"

// MeditationRequest asks the runtime to start a meditation. An empty
// SessionID opens a new session.
type MeditationRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt"`
}

// MeditationReply answers a MeditationRequest.
type MeditationReply struct {
	SessionID string `json:"session_id,omitempty"`
	RequestID uint64 `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StateEvent is broadcast whenever a session's pipeline changes phase.
type StateEvent struct {
	SessionID       string    `json:"session_id"`
	RequestID       uint64    `json:"request_id,omitempty"`
	State           string    `json:"state"`
	Busy            bool      `json:"busy"`
	HasError        bool      `json:"has_error"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	FailedStage     string    `json:"failed_stage,omitempty"`
	ScriptChars     int       `json:"script_chars,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	SubjectMeditationRequest  = "meditation.request"
	SubjectSessionStatePrefix = "meditation.session"
	SubjectSessionStateAll    = SubjectSessionStatePrefix + ".*.state"
)

// StateSubject is the subject state events for sessionID are published on.
func StateSubject(sessionID string) string {
	return SubjectSessionStatePrefix + "." + sessionID + ".state"
}
