package generate

import (
	"context"
	"sync"

	"labubufy-server/modules/common/replicate"
)

type createCall struct {
	model string
	input map[string]interface{}
}

// fakeGateway is an in-memory replicate.API double. Create returns the queued
// predictions in order; Get resolves from the predictions map.
type fakeGateway struct {
	mu          sync.Mutex
	createQueue []*replicate.Prediction
	createErr   error
	creates     []createCall

	predictions map[string]*replicate.Prediction
	getErr      error
	gets        []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{predictions: make(map[string]*replicate.Prediction)}
}

func (f *fakeGateway) CreatePrediction(ctx context.Context, model string, input map[string]interface{}) (*replicate.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates = append(f.creates, createCall{model: model, input: input})
	if f.createErr != nil {
		return nil, f.createErr
	}
	if len(f.createQueue) == 0 {
		return &replicate.Prediction{ID: "pred-auto", Status: replicate.StatusStarting}, nil
	}
	pred := f.createQueue[0]
	f.createQueue = f.createQueue[1:]
	return pred, nil
}

func (f *fakeGateway) GetPrediction(ctx context.Context, id string) (*replicate.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gets = append(f.gets, id)
	if f.getErr != nil {
		return nil, f.getErr
	}
	pred, ok := f.predictions[id]
	if !ok {
		return nil, &replicate.APIError{StatusCode: 404, Body: "not found"}
	}
	return pred, nil
}

func (f *fakeGateway) setPrediction(pred *replicate.Prediction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictions[pred.ID] = pred
}

func (f *fakeGateway) lastCreate() createCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[len(f.creates)-1]
}

func (f *fakeGateway) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

// fakeLedger records spend and refund calls.
type fakeLedger struct {
	mu      sync.Mutex
	spends  []string
	refunds []string
	err     error
}

func (f *fakeLedger) Spend(ctx context.Context, userID, sessionID string, credits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spends = append(f.spends, sessionID)
	return f.err
}

func (f *fakeLedger) Refund(ctx context.Context, userID, sessionID string, credits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, sessionID)
	return f.err
}

func (f *fakeLedger) Balance(ctx context.Context, userID string) (int, error) {
	return 0, f.err
}

func (f *fakeLedger) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

func (f *fakeLedger) spendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spends)
}
