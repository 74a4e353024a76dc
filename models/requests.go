package models

type OpenSessionRequest struct {
	CourseID   string `json:"courseId" binding:"required"`
	Department string `json:"department"`
	Year       string `json:"year"`
}

// ScanRequest carries the student's own scope as claimed by the client.
type ScanRequest struct {
	Token      string `json:"token"`
	StudentID  string `json:"studentId" binding:"required"`
	Department string `json:"department"`
	Year       string `json:"year"`
}

type CheckAccessRequest struct {
	SessionID  string `json:"sessionId" binding:"required"`
	StudentID  string `json:"studentId" binding:"required"`
	Department string `json:"department"`
	Year       string `json:"year"`
}

type ConfirmRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	StudentID string `json:"studentId" binding:"required"`
}
