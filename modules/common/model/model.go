package model

import "time"

// Session status constants. Transitions only move forward:
// step1_processing → step1_complete → step2_processing → completed,
// with failed reachable from either processing state. completed and
// failed are terminal.
const (
	StatusStep1Processing = "step1_processing"
	StatusStep1Complete   = "step1_complete"
	StatusStep2Processing = "step2_processing"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
)

// GenerationSession tracks one two-step generation across two sequential
// gateway predictions. The session id is the public handle the client polls
// with; step job ids stay internal.
type GenerationSession struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	SelectionID    int       `json:"selection_id"`
	SelectionName  string    `json:"selection_name,omitempty"`
	SourceImage    string    `json:"source_image"`
	Step1JobID     string    `json:"step1_job_id"`
	Step2JobID     string    `json:"step2_job_id,omitempty"`
	Step1Output    string    `json:"step1_output,omitempty"`
	FinalOutput    string    `json:"final_output,omitempty"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	LastJobStatus  string    `json:"last_job_status,omitempty"`
	CheckCount     int       `json:"check_count"`
	Refunded       bool      `json:"refunded"`
	CreatedAt      time.Time `json:"created_at"`
	Step2StartedAt time.Time `json:"step2_started_at,omitempty"`
}

// Terminal reports whether the session reached a final state.
func (s *GenerationSession) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// CurrentStep returns 1 while step 1 is in flight and 2 afterwards.
func (s *GenerationSession) CurrentStep() int {
	if s.Status == StatusStep1Processing {
		return 1
	}
	return 2
}

// CurrentJobID returns the gateway job id the orchestrator should poll next.
func (s *GenerationSession) CurrentJobID() string {
	if s.Step2JobID != "" {
		return s.Step2JobID
	}
	return s.Step1JobID
}

// Clone returns a whole-record copy. Every mutation derives a new value from
// a clone and writes the full replacement back, so readers never observe a
// half-updated record.
func (s *GenerationSession) Clone() *GenerationSession {
	out := *s
	return &out
}
