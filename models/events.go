package models

import "time"

type EventType string

const (
	EventTokenIssued         EventType = "token_issued"
	EventCountdown           EventType = "countdown"
	EventPresenceConfirmed   EventType = "presence_confirmed"
	EventSessionClosed       EventType = "session_closed"
	EventVerificationPending EventType = "verification_pending"
	EventVerificationExpired EventType = "verification_expired"
)

// Event is one message on a session's push channel.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	At        time.Time `json:"at"`
	Data      any       `json:"data"`
}

type TokenIssued struct {
	JTI       string    `json:"jti"`
	Code      string    `json:"code"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Countdown struct {
	SecondsRemaining int `json:"secondsRemaining"`
}

type PresenceConfirmed struct {
	StudentID      string `json:"studentId"`
	CountPresent   int    `json:"countPresent"`
	CountRemaining int    `json:"countRemaining"`
}

type SessionClosed struct {
	Summary Summary `json:"summary"`
}

type VerificationPending struct {
	StudentID string    `json:"studentId"`
	Deadline  time.Time `json:"faceDeadline"`
}

type VerificationExpired struct {
	StudentID string `json:"studentId"`
}
