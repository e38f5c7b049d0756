package generate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labubufy-server/modules/common/model"
	"labubufy-server/modules/common/replicate"
	"labubufy-server/modules/common/session"
)

const testMaxChecks = 40

func newTestOrchestrator(gw *fakeGateway, ledger *fakeLedger) (*Orchestrator, session.Store) {
	store := session.NewMemoryStore(time.Hour)
	orch := NewOrchestrator(store, gw, ledger, "black-forest-labs/flux-kontext-pro", testMaxChecks, 1)
	return orch, store
}

func seedSession(store session.Store, selectionID int) *model.GenerationSession {
	sess := &model.GenerationSession{
		ID:          "sess-1",
		UserID:      "user-1",
		SelectionID: selectionID,
		SourceImage: "data:image/jpeg;base64,xxx",
		Step1JobID:  "job-1",
		Status:      model.StatusStep1Processing,
		CreatedAt:   time.Now(),
	}
	store.Set(sess.ID, sess)
	return sess
}

func TestAdvanceUnknownSession(t *testing.T) {
	orch, _ := newTestOrchestrator(newFakeGateway(), &fakeLedger{})

	_, found := orch.Advance(context.Background(), "nope")
	assert.False(t, found)
}

func TestAdvanceStep1StillRunning(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{ID: "job-1", Status: replicate.StatusProcessing})

	orch, store := newTestOrchestrator(gw, &fakeLedger{})
	seedSession(store, 1)

	sess, found := orch.Advance(context.Background(), "sess-1")

	require.True(t, found)
	assert.Equal(t, model.StatusStep1Processing, sess.Status)
	assert.Equal(t, 1, sess.CheckCount)
	assert.Equal(t, "processing", sess.LastJobStatus)
	assert.Equal(t, 0, gw.createCount(), "no step 2 before step 1 succeeds")
}

func TestAdvanceUnknownGatewayStatusKeepsWaiting(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{ID: "job-1", Status: "queued"})

	orch, store := newTestOrchestrator(gw, &fakeLedger{})
	seedSession(store, 1)

	sess, _ := orch.Advance(context.Background(), "sess-1")

	assert.Equal(t, model.StatusStep1Processing, sess.Status)
	assert.Equal(t, "queued", sess.LastJobStatus)
	assert.False(t, sess.Terminal())
}

func TestAdvanceStep1SuccessSubmitsStep2(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{
		ID:     "job-1",
		Status: replicate.StatusSucceeded,
		Output: replicate.OutputList{"https://cdn.example.com/step1.jpg"},
	})
	gw.createQueue = []*replicate.Prediction{
		{ID: "job-2", Status: replicate.StatusStarting},
	}

	orch, store := newTestOrchestrator(gw, &fakeLedger{})
	seedSession(store, 1)

	sess, _ := orch.Advance(context.Background(), "sess-1")

	assert.Equal(t, model.StatusStep2Processing, sess.Status)
	assert.Equal(t, "https://cdn.example.com/step1.jpg", sess.Step1Output)
	assert.Equal(t, "job-2", sess.Step2JobID)
	assert.False(t, sess.Step2StartedAt.IsZero())

	call := gw.lastCreate()
	assert.Equal(t, "black-forest-labs/flux-kontext-pro", call.model)
	assert.Equal(t, "https://cdn.example.com/step1.jpg", call.input["input_image"],
		"step 2 must consume the step 1 output, not the source image")
	assert.Contains(t, call.input["prompt"], "doll")
}

func TestAdvanceStep1KeychainSelectionPicksKeychainPrompt(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{
		ID:     "job-1",
		Status: replicate.StatusSucceeded,
		Output: replicate.OutputList{"https://cdn.example.com/step1.jpg"},
	})
	gw.createQueue = []*replicate.Prediction{
		{ID: "job-2", Status: replicate.StatusStarting},
	}

	orch, store := newTestOrchestrator(gw, &fakeLedger{})
	seedSession(store, 4)

	orch.Advance(context.Background(), "sess-1")

	assert.Contains(t, gw.lastCreate().input["prompt"], "keychain")
}

func TestAdvanceStep1SucceededWithoutOutputFails(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{ID: "job-1", Status: replicate.StatusSucceeded})

	ledger := &fakeLedger{}
	orch, store := newTestOrchestrator(gw, ledger)
	seedSession(store, 1)

	sess, _ := orch.Advance(context.Background(), "sess-1")

	assert.Equal(t, model.StatusFailed, sess.Status)
	assert.Contains(t, sess.Error, "no usable output")
	assert.Equal(t, 1, ledger.refundCount())
	assert.Equal(t, 0, gw.createCount())
}

func TestAdvanceStep1FailureRefundsOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{
		ID:     "job-1",
		Status: replicate.StatusFailed,
		Error:  "NSFW content detected",
	})

	ledger := &fakeLedger{}
	orch, store := newTestOrchestrator(gw, ledger)
	seedSession(store, 1)

	sess, _ := orch.Advance(context.Background(), "sess-1")
	assert.Equal(t, model.StatusFailed, sess.Status)
	assert.Equal(t, "NSFW content detected", sess.Error)
	assert.True(t, sess.Refunded)

	// Terminal sessions are returned as-is; no further polls, no second refund.
	getsBefore := len(gw.gets)
	again, found := orch.Advance(context.Background(), "sess-1")
	require.True(t, found)
	assert.Equal(t, model.StatusFailed, again.Status)
	assert.Equal(t, getsBefore, len(gw.gets))
	assert.Equal(t, 1, ledger.refundCount())
}

func TestAdvanceStep2SuccessCompletes(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{
		ID:     "job-2",
		Status: replicate.StatusSucceeded,
		Output: replicate.OutputList{"https://cdn.example.com/final.jpg"},
	})

	orch, store := newTestOrchestrator(gw, &fakeLedger{})
	sess := seedSession(store, 1)
	sess.Status = model.StatusStep2Processing
	sess.Step1Output = "https://cdn.example.com/step1.jpg"
	sess.Step2JobID = "job-2"
	store.Set(sess.ID, sess)

	done := make(chan *model.GenerationSession, 1)
	orch.OnComplete = func(s *model.GenerationSession) { done <- s }

	got, _ := orch.Advance(context.Background(), "sess-1")

	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "https://cdn.example.com/final.jpg", got.FinalOutput)

	select {
	case completed := <-done:
		assert.Equal(t, "sess-1", completed.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("completion hook was not invoked")
	}
}

func TestAdvanceStep2FailureRefunds(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{ID: "job-2", Status: replicate.StatusCanceled})

	ledger := &fakeLedger{}
	orch, store := newTestOrchestrator(gw, ledger)
	sess := seedSession(store, 1)
	sess.Status = model.StatusStep2Processing
	sess.Step2JobID = "job-2"
	store.Set(sess.ID, sess)

	got, _ := orch.Advance(context.Background(), "sess-1")

	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "canceled")
	assert.Equal(t, 1, ledger.refundCount())
}

func TestAdvanceGatewayReadErrorFailsSession(t *testing.T) {
	gw := newFakeGateway()
	gw.getErr = &replicate.APIError{StatusCode: 500, Body: "boom"}

	ledger := &fakeLedger{}
	orch, store := newTestOrchestrator(gw, ledger)
	seedSession(store, 1)

	sess, _ := orch.Advance(context.Background(), "sess-1")

	assert.Equal(t, model.StatusFailed, sess.Status)
	assert.Contains(t, sess.Error, "status check failed")
	assert.Equal(t, 1, ledger.refundCount())
}

func TestAdvanceTimesOutAtCheckCeiling(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{ID: "job-1", Status: replicate.StatusProcessing})

	ledger := &fakeLedger{}
	store := session.NewMemoryStore(time.Hour)
	orch := NewOrchestrator(store, gw, ledger, "m2", 2, 1)
	seedSession(store, 1)

	first, _ := orch.Advance(context.Background(), "sess-1")
	assert.Equal(t, 1, first.CheckCount)
	second, _ := orch.Advance(context.Background(), "sess-1")
	assert.Equal(t, 2, second.CheckCount)

	third, _ := orch.Advance(context.Background(), "sess-1")
	assert.Equal(t, model.StatusFailed, third.Status)
	assert.Contains(t, third.Error, "timed out")
	assert.Equal(t, 1, ledger.refundCount())
}

func TestAdvanceStep2SubmissionFailureRefunds(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{
		ID:     "job-1",
		Status: replicate.StatusSucceeded,
		Output: replicate.OutputList{"https://cdn.example.com/step1.jpg"},
	})
	gw.createErr = &replicate.APIError{StatusCode: 400, Body: "invalid input"}

	ledger := &fakeLedger{}
	orch, store := newTestOrchestrator(gw, ledger)
	seedSession(store, 1)

	sess, _ := orch.Advance(context.Background(), "sess-1")

	assert.Equal(t, model.StatusFailed, sess.Status)
	assert.Contains(t, sess.Error, "step 2 submission failed")
	assert.Equal(t, "https://cdn.example.com/step1.jpg", sess.Step1Output,
		"the step 1 artifact stays on the record for diagnostics")
	assert.Equal(t, 1, ledger.refundCount())
}

func TestCancel(t *testing.T) {
	gw := newFakeGateway()
	ledger := &fakeLedger{}
	orch, store := newTestOrchestrator(gw, ledger)
	seedSession(store, 1)

	sess, found := orch.Cancel("sess-1")
	require.True(t, found)
	assert.Equal(t, model.StatusFailed, sess.Status)
	assert.Equal(t, "canceled by user", sess.Error)
	assert.Equal(t, 1, ledger.refundCount())

	// Canceling a terminal session is a no-op.
	again, found := orch.Cancel("sess-1")
	require.True(t, found)
	assert.Equal(t, model.StatusFailed, again.Status)
	assert.Equal(t, 1, ledger.refundCount())

	_, found = orch.Cancel("missing")
	assert.False(t, found)
}

func TestAdvanceAnonymousSessionSkipsRefund(t *testing.T) {
	gw := newFakeGateway()
	gw.setPrediction(&replicate.Prediction{ID: "job-1", Status: replicate.StatusFailed, Error: "boom"})

	ledger := &fakeLedger{}
	orch, store := newTestOrchestrator(gw, ledger)
	sess := seedSession(store, 1)
	sess.UserID = ""
	store.Set(sess.ID, sess)

	got, _ := orch.Advance(context.Background(), "sess-1")

	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, 0, ledger.refundCount(), "no user, nothing to refund")
}
