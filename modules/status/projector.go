package status

import (
	"math"
	"time"

	"labubufy-server/modules/common/model"
	"labubufy-server/modules/common/replicate"
)

// Payload is the stable shape every poll receives, regardless of whether the
// id resolved to a two-step session or a raw gateway prediction.
type Payload struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Step          int      `json:"step,omitempty"`
	TotalSteps    int      `json:"total_steps,omitempty"`
	Progress      int      `json:"progress"`
	EstimatedTime int      `json:"estimated_time"`
	Output        []string `json:"output,omitempty"`
	Error         string   `json:"error,omitempty"`
}

const totalSteps = 2

// Fixed per-model time budgets for the remaining-seconds estimate.
const (
	step1Budget = 25 * time.Second
	step2Budget = 45 * time.Second
)

// rawProgress maps a gateway job status to its base percentage. Anything
// unrecognized counts as mid-flight rather than an error.
func rawProgress(st replicate.Status) int {
	switch st {
	case replicate.StatusStarting:
		return 10
	case replicate.StatusProcessing:
		return 50
	case replicate.StatusSucceeded:
		return 100
	case replicate.StatusFailed, replicate.StatusCanceled:
		return 0
	default:
		return 50
	}
}

// etaFrom computes seconds remaining against a fixed budget. Never negative.
func etaFrom(start time.Time, budget time.Duration, now time.Time) int {
	remaining := budget - now.Sub(start)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// etaFallback is the coarse estimate used when no start timestamp is known.
func etaFallback(st replicate.Status) int {
	switch st {
	case replicate.StatusStarting:
		return 30
	case replicate.StatusProcessing:
		return 20
	default:
		return 25
	}
}

// ProjectSession renders a two-step session for the client. The raw gateway
// percentage is rescaled into the band owned by the current step so the bar
// never regresses across the step-1 to step-2 handoff. A session is reported
// "succeeded" only once the final composite exists; a step-1-only success is
// still "processing".
func ProjectSession(sess *model.GenerationSession, now time.Time) Payload {
	p := Payload{
		ID:         sess.ID,
		TotalSteps: totalSteps,
	}

	switch sess.Status {
	case model.StatusCompleted:
		p.Status = "succeeded"
		p.Progress = 100
		p.Output = []string{sess.FinalOutput}
		return p

	case model.StatusFailed:
		p.Status = "failed"
		p.Progress = 0
		p.Error = sess.Error
		return p

	case model.StatusStep1Complete:
		p.Status = "processing"
		p.Step = 1
		p.Progress = 45
		p.EstimatedTime = int(math.Ceil(step2Budget.Seconds()))
		return p

	case model.StatusStep2Processing:
		p.Status = "processing"
		p.Step = 2
		raw := rawProgress(replicate.Status(sess.LastJobStatus))
		p.Progress = 50 + raw*40/100
		if sess.Step2StartedAt.IsZero() {
			p.EstimatedTime = etaFallback(replicate.Status(sess.LastJobStatus))
		} else {
			p.EstimatedTime = etaFrom(sess.Step2StartedAt, step2Budget, now)
		}
		return p

	default: // step1_processing
		p.Status = "processing"
		p.Step = 1
		p.Progress = rawProgress(replicate.Status(sess.LastJobStatus)) * 45 / 100
		p.EstimatedTime = etaFrom(sess.CreatedAt, step1Budget, now)
		return p
	}
}

// ProjectPrediction renders a direct single-step gateway lookup with the same
// shape, minus step counters. A succeeded job without any usable output is a
// failure, never a success with an empty result list.
func ProjectPrediction(pred *replicate.Prediction, now time.Time) Payload {
	p := Payload{ID: pred.ID}

	switch pred.Status {
	case replicate.StatusSucceeded:
		if pred.Output.First() == "" {
			p.Status = "failed"
			p.Progress = 0
			p.Error = "prediction succeeded but produced no usable output"
			return p
		}
		p.Status = "succeeded"
		p.Progress = 100
		p.Output = pred.Output
		return p

	case replicate.StatusFailed, replicate.StatusCanceled:
		p.Status = "failed"
		p.Progress = 0
		p.Error = pred.Error
		if p.Error == "" {
			p.Error = "prediction " + string(pred.Status)
		}
		return p

	default:
		p.Status = "processing"
		p.Progress = rawProgress(pred.Status)
		switch {
		case pred.StartedAt != nil:
			p.EstimatedTime = etaFrom(*pred.StartedAt, step1Budget, now)
		case !pred.CreatedAt.IsZero():
			p.EstimatedTime = etaFrom(pred.CreatedAt, step1Budget, now)
		default:
			p.EstimatedTime = etaFallback(pred.Status)
		}
		return p
	}
}
