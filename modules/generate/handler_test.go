package generate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labubufy-server/modules/common/config"
	"labubufy-server/modules/common/httperr"
	"labubufy-server/modules/common/model"
	"labubufy-server/modules/common/replicate"
	"labubufy-server/modules/common/session"
)

func testConfig() *config.Config {
	return &config.Config{
		ReplicateAPIToken:     "test-token",
		ReplicateBaseURL:      "https://api.replicate.com",
		Step1Model:            "google/nano-banana",
		Step2Model:            "black-forest-labs/flux-kontext-pro",
		CharacterAssetBaseURL: "https://assets.example.com/characters",
		CreditsPerGeneration:  1,
	}
}

func newTestHandler(gw *fakeGateway, ledger *fakeLedger) (*Handler, session.Store, *mux.Router) {
	store := session.NewMemoryStore(time.Hour)
	orch := NewOrchestrator(store, gw, ledger, "black-forest-labs/flux-kontext-pro", testMaxChecks, 1)
	h := NewHandler(store, gw, ledger, orch)

	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return h, store, router
}

func postGenerate(t *testing.T, router *mux.Router, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/generate", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestGenerateMissingImage(t *testing.T) {
	config.SetConfig(testConfig())
	_, _, router := newTestHandler(newFakeGateway(), &fakeLedger{})

	rec := postGenerate(t, router, GenerateRequest{SelectionID: 1})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "image is required", decodeError(t, rec))
}

func TestGenerateUnknownSelection(t *testing.T) {
	config.SetConfig(testConfig())
	_, _, router := newTestHandler(newFakeGateway(), &fakeLedger{})

	rec := postGenerate(t, router, GenerateRequest{Image: "data:image/jpeg;base64,xxx", SelectionID: 99})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown selection_id", decodeError(t, rec))
}

func TestGenerateMissingToken(t *testing.T) {
	cfg := testConfig()
	cfg.ReplicateAPIToken = ""
	config.SetConfig(cfg)
	gw := newFakeGateway()
	_, _, router := newTestHandler(gw, &fakeLedger{})

	rec := postGenerate(t, router, GenerateRequest{Image: "data:image/jpeg;base64,xxx", SelectionID: 1})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Server configuration error", decodeError(t, rec))
	assert.Equal(t, 0, gw.createCount(), "no gateway call without a credential")
}

func TestGenerateGatewayErrorMapping(t *testing.T) {
	cases := []struct {
		upstream int
		want     int
	}{
		{http.StatusUnauthorized, http.StatusUnauthorized},
		{http.StatusTooManyRequests, http.StatusTooManyRequests},
		{http.StatusInternalServerError, http.StatusServiceUnavailable},
		{http.StatusBadGateway, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("upstream %d", tc.upstream), func(t *testing.T) {
			config.SetConfig(testConfig())
			gw := newFakeGateway()
			gw.createErr = &replicate.APIError{StatusCode: tc.upstream, Body: "nope"}
			ledger := &fakeLedger{}
			_, store, router := newTestHandler(gw, ledger)

			rec := postGenerate(t, router, GenerateRequest{
				Image:       "data:image/jpeg;base64,xxx",
				SelectionID: 1,
				UserID:      "user-1",
			})

			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, 0, ledger.spendCount(), "rejected submission must not spend")
			assert.Empty(t, store.List())
		})
	}
}

func TestGenerateSuccess(t *testing.T) {
	config.SetConfig(testConfig())
	gw := newFakeGateway()
	gw.createQueue = []*replicate.Prediction{
		{ID: "job-1", Status: replicate.StatusStarting},
	}
	ledger := &fakeLedger{}
	_, store, router := newTestHandler(gw, ledger)

	rec := postGenerate(t, router, GenerateRequest{
		Image:       "data:image/jpeg;base64,xxx",
		SelectionID: 2,
		UserID:      "user-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, 2, resp.SelectionID)

	// The public id is the session id, never the raw gateway job id.
	assert.NotEqual(t, "job-1", resp.JobID)

	sess, ok := store.Get(resp.JobID)
	require.True(t, ok)
	assert.Equal(t, model.StatusStep1Processing, sess.Status)
	assert.Equal(t, "job-1", sess.Step1JobID)
	assert.Equal(t, "user-1", sess.UserID)

	// Spend happens only after the gateway accepted the job.
	assert.Equal(t, 1, ledger.spendCount())

	call := gw.lastCreate()
	assert.Equal(t, "google/nano-banana", call.model)
	images, ok := call.input["image_input"].([]string)
	require.True(t, ok)
	require.Len(t, images, 2)
	assert.Equal(t, "data:image/jpeg;base64,xxx", images[0])
	assert.Contains(t, images[1], "https://assets.example.com/characters/")
}

func TestGenerateAnonymousSkipsSpend(t *testing.T) {
	config.SetConfig(testConfig())
	gw := newFakeGateway()
	ledger := &fakeLedger{}
	_, _, router := newTestHandler(gw, ledger)

	rec := postGenerate(t, router, GenerateRequest{
		Image:       "data:image/jpeg;base64,xxx",
		SelectionID: 1,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, ledger.spendCount())
}

func TestCancelEndpoint(t *testing.T) {
	config.SetConfig(testConfig())
	gw := newFakeGateway()
	ledger := &fakeLedger{}
	_, store, router := newTestHandler(gw, ledger)

	sess := seedSession(store, 1)

	req := httptest.NewRequest("POST", "/generations/"+sess.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, model.StatusFailed, resp.Status)
	assert.Equal(t, 1, ledger.refundCount())

	// Second cancel reports the terminal state without another refund.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/generations/"+sess.ID+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, 1, ledger.refundCount())
}

func TestCancelUnknownSession(t *testing.T) {
	config.SetConfig(testConfig())
	_, _, router := newTestHandler(newFakeGateway(), &fakeLedger{})

	req := httptest.NewRequest("POST", "/generations/nope/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
