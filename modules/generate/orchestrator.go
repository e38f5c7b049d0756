package generate

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"labubufy-server/modules/common/credit"
	"labubufy-server/modules/common/model"
	"labubufy-server/modules/common/replicate"
	"labubufy-server/modules/common/session"
)

// Orchestrator drives a session through its two sequential gateway calls.
// It is the single implementation of the state machine: the status endpoint,
// the background worker and the websocket stream all advance sessions through
// it, never through a private copy of the logic.
type Orchestrator struct {
	store      session.Store
	gw         replicate.API
	ledger     credit.Ledger
	step2Model string
	maxChecks  int
	credits    int

	// OnComplete runs asynchronously after a session reaches completed.
	// Best-effort hooks only (result archiving); never affects session state.
	OnComplete func(sess *model.GenerationSession)

	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator wires the state machine to its collaborators.
func NewOrchestrator(store session.Store, gw replicate.API, ledger credit.Ledger, step2Model string, maxChecks, credits int) *Orchestrator {
	return &Orchestrator{
		store:      store,
		gw:         gw,
		ledger:     ledger,
		step2Model: step2Model,
		maxChecks:  maxChecks,
		credits:    credits,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor serializes concurrent checks on the same session so the
// read-modify-write replacement never races between the polling endpoint and
// the background driver.
func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	lock, ok := o.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[id] = lock
	}
	return lock
}

// Advance runs one check cycle for the session: re-read the record, perform
// at most one gateway lookup, apply the transition table and write back a
// whole-record replacement. Any error inside the cycle becomes a failed
// session update rather than a propagated error, so one bad poll never
// crashes the drive loop. Returns false when the id is not a known session.
func (o *Orchestrator) Advance(ctx context.Context, id string) (sess *model.GenerationSession, found bool) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur, ok := o.store.Get(id)
	if !ok {
		return nil, false
	}
	if cur.Terminal() {
		return cur, true
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [Orchestrator] Panic during check for %s: %v", id, r)
			sess = o.fail(cur.Clone(), fmt.Sprintf("unexpected error: %v", r))
			found = true
		}
	}()

	return o.check(ctx, cur), true
}

// Cancel forces a non-terminal session to failed and refunds its credit.
// The in-flight gateway job is not touched; its result simply goes unobserved.
func (o *Orchestrator) Cancel(id string) (*model.GenerationSession, bool) {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur, ok := o.store.Get(id)
	if !ok {
		return nil, false
	}
	if cur.Terminal() {
		return cur, true
	}

	log.Printf("🛑 [Orchestrator] Session %s canceled by user (status: %s)", id, cur.Status)
	return o.fail(cur.Clone(), "canceled by user"), true
}

func (o *Orchestrator) check(ctx context.Context, cur *model.GenerationSession) *model.GenerationSession {
	next := cur.Clone()
	next.CheckCount++

	if next.CheckCount > o.maxChecks {
		return o.fail(next, fmt.Sprintf("generation timed out after %d status checks", o.maxChecks))
	}

	pred, err := o.gw.GetPrediction(ctx, next.CurrentJobID())
	if err != nil {
		return o.fail(next, "status check failed: "+err.Error())
	}
	next.LastJobStatus = string(pred.Status)

	switch cur.Status {
	case model.StatusStep1Processing, model.StatusStep1Complete:
		return o.checkStep1(ctx, next, pred)
	case model.StatusStep2Processing:
		return o.checkStep2(next, pred)
	default:
		return o.fail(next, fmt.Sprintf("session in unknown state: %s", cur.Status))
	}
}

// checkStep1 handles a poll result while step 1 owns the session. On success
// it submits step 2; the submission is guarded by a bounded retry and only
// ever happens after a read confirmed step-1 success.
func (o *Orchestrator) checkStep1(ctx context.Context, next *model.GenerationSession, pred *replicate.Prediction) *model.GenerationSession {
	switch pred.Status {
	case replicate.StatusSucceeded:
		output := pred.Output.First()
		if output == "" {
			return o.fail(next, "step 1 succeeded but produced no usable output")
		}

		next.Step1Output = output
		next.Status = model.StatusStep1Complete
		o.store.Set(next.ID, next)
		log.Printf("✅ [Orchestrator] Session %s: step 1 complete, submitting step 2", next.ID)

		sel, _ := SelectionByID(next.SelectionID)

		var step2 *replicate.Prediction
		err := replicate.DoWithRetry(ctx, "Step2 Submit", func() error {
			p, err := o.gw.CreatePrediction(ctx, o.step2Model, map[string]interface{}{
				"prompt":        Step2Prompt(sel.Category),
				"input_image":   output,
				"output_format": "jpg",
			})
			if err != nil {
				return err
			}
			step2 = p
			return nil
		})
		if err != nil {
			return o.fail(next, "step 2 submission failed: "+err.Error())
		}

		next.Step2JobID = step2.ID
		next.Status = model.StatusStep2Processing
		next.Step2StartedAt = time.Now()
		next.LastJobStatus = string(step2.Status)
		o.store.Set(next.ID, next)
		log.Printf("🎯 [Orchestrator] Session %s: step 2 started (job: %s)", next.ID, step2.ID)
		return next

	case replicate.StatusFailed, replicate.StatusCanceled:
		return o.fail(next, failureReason(pred))

	default:
		// starting, processing, or anything unrecognized: still in flight.
		o.store.Set(next.ID, next)
		return next
	}
}

// checkStep2 handles a poll result while step 2 owns the session.
func (o *Orchestrator) checkStep2(next *model.GenerationSession, pred *replicate.Prediction) *model.GenerationSession {
	switch pred.Status {
	case replicate.StatusSucceeded:
		output := pred.Output.First()
		if output == "" {
			return o.fail(next, "step 2 succeeded but produced no usable output")
		}

		next.FinalOutput = output
		next.Status = model.StatusCompleted
		o.store.Set(next.ID, next)
		log.Printf("🏁 [Orchestrator] Session %s completed: %s", next.ID, output)

		if o.OnComplete != nil {
			go o.OnComplete(next.Clone())
		}
		return next

	case replicate.StatusFailed, replicate.StatusCanceled:
		return o.fail(next, failureReason(pred))

	default:
		o.store.Set(next.ID, next)
		return next
	}
}

// fail writes the terminal failed record and refunds the credit exactly once.
// The Refunded flag on the record is the at-most-once guard; the ledger
// additionally dedupes by session id.
func (o *Orchestrator) fail(next *model.GenerationSession, reason string) *model.GenerationSession {
	next.Status = model.StatusFailed
	next.Error = reason

	refund := !next.Refunded && next.UserID != ""
	if refund {
		next.Refunded = true
	}
	o.store.Set(next.ID, next)

	log.Printf("❌ [Orchestrator] Session %s failed: %s", next.ID, reason)

	if refund {
		if err := o.ledger.Refund(context.Background(), next.UserID, next.ID, o.credits); err != nil {
			log.Printf("⚠️  [Orchestrator] Failed to refund session %s: %v", next.ID, err)
		}
	}
	return next
}

func failureReason(pred *replicate.Prediction) string {
	if pred.Error != "" {
		return pred.Error
	}
	return fmt.Sprintf("prediction %s without error detail", pred.Status)
}
