package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the gateway's reported job state. Anything outside the known
// enumeration is kept as-is and treated by callers as still in-flight.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Known reports whether the status is part of the documented enumeration.
func (s Status) Known() bool {
	switch s {
	case StatusStarting, StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether the gateway will not change this status anymore.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// OutputList normalizes the gateway's loosely-typed output field, which comes
// back either as a single URL string or as an array of URLs.
type OutputList []string

// UnmarshalJSON accepts string, []string or null.
func (o *OutputList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*o = OutputList{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("unexpected output shape: %s", string(data))
	}
	*o = OutputList(list)
	return nil
}

// First returns the first non-empty output URL, or "".
func (o OutputList) First() string {
	for _, url := range o {
		if url != "" {
			return url
		}
	}
	return ""
}

// Prediction is the typed view of a gateway job, validated at the boundary.
type Prediction struct {
	ID        string     `json:"id"`
	Model     string     `json:"model,omitempty"`
	Version   string     `json:"version,omitempty"`
	Status    Status     `json:"status"`
	Output    OutputList `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// APIError carries the upstream HTTP status of a rejected gateway call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// API is the gateway surface the orchestrator and handlers depend on.
type API interface {
	CreatePrediction(ctx context.Context, model string, input map[string]interface{}) (*Prediction, error)
	GetPrediction(ctx context.Context, id string) (*Prediction, error)
}
