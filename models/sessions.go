package models

import "time"

type SessionStatus string

const (
	SessionOpen   SessionStatus = "OPEN"
	SessionClosed SessionStatus = "CLOSED"
)

// Session is a point-in-time copy of one attendance-taking window. The live
// state is owned by sessions.Manager; callers only ever see snapshots.
type Session struct {
	ID         string        `json:"sessionId"`
	CourseID   string        `json:"courseId"`
	Department string        `json:"department"`
	Year       string        `json:"year"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	ClosedAt   *time.Time    `json:"closedAt,omitempty"`
	Present    []string      `json:"present"`
	RosterSize int           `json:"rosterSize"`
}

func (s Session) IsOpen() bool { return s.Status == SessionOpen }

// Summary is the present/total/absent triple shown on dashboards.
func (s Session) Summary() Summary {
	present := len(s.Present)
	absent := s.RosterSize - present
	if absent < 0 {
		absent = 0
	}
	return Summary{Present: present, Total: s.RosterSize, Absent: absent}
}

type Summary struct {
	Present int `json:"present"`
	Total   int `json:"total"`
	Absent  int `json:"absent"`
}

// PresenceResult is returned by every presence mutation.
type PresenceResult struct {
	AlreadyPresent bool      `json:"alreadyPresent"`
	MarkedAt       time.Time `json:"markedAt"`
	CountPresent   int       `json:"countPresent"`
	CountRemaining int       `json:"countRemaining"`
}

// Token is one issuance of a session's rotating credential.
type Token struct {
	JTI       string    `json:"jti"`
	SessionID string    `json:"sessionId"`
	ShortCode string    `json:"code"`
	Signed    string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Consumed  bool      `json:"consumed"`
}

// SecondsRemaining rounds up so a token with 200ms left still shows 1.
func (t Token) SecondsRemaining(now time.Time) int {
	left := t.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "PENDING"
	VerificationConfirmed VerificationStatus = "CONFIRMED"
	VerificationExpired   VerificationStatus = "EXPIRED"
)

// PendingVerification is the secondary-factor window opened after a
// successful primary scan.
type PendingVerification struct {
	SessionID  string             `json:"sessionId"`
	StudentID  string             `json:"studentId"`
	OpenedAt   time.Time          `json:"openedAt"`
	Deadline   time.Time          `json:"deadline"`
	Status     VerificationStatus `json:"status"`
	ResolvedAt *time.Time         `json:"resolvedAt,omitempty"`
}

type ScanOutcome string

const (
	ScanAccepted                 ScanOutcome = "ACCEPTED"
	ScanAcceptedPendingSecondary ScanOutcome = "ACCEPTED_PENDING_SECONDARY"
)

// ScanResult describes an accepted scan. Rejections are returned as *Error.
type ScanResult struct {
	Outcome        ScanOutcome `json:"outcome"`
	SessionID      string      `json:"sessionId"`
	StudentID      string      `json:"studentId"`
	AlreadyPresent bool        `json:"alreadyPresent,omitempty"`
	MarkedAt       *time.Time  `json:"markedAt,omitempty"`
	Deadline       *time.Time  `json:"faceDeadline,omitempty"`
}

// AccessReport answers the pre-scan "may this student scan here" probe.
type AccessReport struct {
	SessionID  string `json:"sessionId"`
	HasAccess  bool   `json:"hasAccess"`
	ScopeMatch bool   `json:"scopeMatch"`
	Enrolled   bool   `json:"enrolled"`
	Department string `json:"sessionDepartment"`
	Year       string `json:"sessionYear"`
}
