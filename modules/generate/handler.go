package generate

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"labubufy-server/modules/common/config"
	"labubufy-server/modules/common/credit"
	"labubufy-server/modules/common/httperr"
	"labubufy-server/modules/common/model"
	"labubufy-server/modules/common/replicate"
	"labubufy-server/modules/common/session"
)

type Handler struct {
	store  session.Store
	gw     replicate.API
	ledger credit.Ledger
	orch   *Orchestrator
}

func NewHandler(store session.Store, gw replicate.API, ledger credit.Ledger, orch *Orchestrator) *Handler {
	return &Handler{
		store:  store,
		gw:     gw,
		ledger: ledger,
		orch:   orch,
	}
}

// RegisterRoutes mounts the generation endpoints, both bare and under /api.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
	router.HandleFunc("/generations/{id}/cancel", h.HandleCancel).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/generations/{id}/cancel", h.HandleCancel).Methods("POST", "OPTIONS")
}

// HandleGenerate validates the upload, submits step 1 to the gateway and
// creates the session record. The credit is spent only after the gateway
// accepted the job.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	defer httperr.Recover(w)

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Image == "" {
		httperr.WriteError(w, http.StatusBadRequest, "image is required")
		return
	}
	sel, ok := SelectionByID(req.SelectionID)
	if !ok {
		httperr.WriteError(w, http.StatusBadRequest, "unknown selection_id")
		return
	}

	cfg := config.GetConfig()
	if cfg.ReplicateAPIToken == "" {
		log.Printf("❌ [Generate] REPLICATE_API_TOKEN is not configured")
		httperr.WriteError(w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	log.Printf("📥 [Generate] New request: selection=%d (%s), user=%s", sel.ID, sel.Name, req.UserID)

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	pred, err := h.gw.CreatePrediction(ctx, cfg.Step1Model, map[string]interface{}{
		"prompt":        step1Instruction,
		"image_input":   []string{req.Image, sel.AssetURL(cfg.CharacterAssetBaseURL)},
		"output_format": "jpg",
	})
	if err != nil {
		log.Printf("❌ [Generate] Step 1 submission failed: %v", err)
		code, msg := httperr.GatewayStatus(err)
		httperr.WriteError(w, code, msg)
		return
	}

	sess := &model.GenerationSession{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		SelectionID:   sel.ID,
		SelectionName: sel.Name,
		SourceImage:   req.Image,
		Step1JobID:    pred.ID,
		Status:        model.StatusStep1Processing,
		LastJobStatus: string(pred.Status),
		CreatedAt:     time.Now(),
	}
	h.store.Set(sess.ID, sess)

	// Spend is best-effort once the job is accepted. A short-balance user
	// still gets their result; the ledger just logs the mismatch.
	if req.UserID != "" {
		if err := h.ledger.Spend(context.Background(), req.UserID, sess.ID, cfg.CreditsPerGeneration); err != nil {
			log.Printf("⚠️  [Generate] Failed to spend credit for user %s: %v", req.UserID, err)
		}
	}

	log.Printf("✅ [Generate] Session %s created (step 1 job: %s)", sess.ID, pred.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenerateResponse{
		Success:       true,
		JobID:         sess.ID,
		Status:        "processing",
		SelectionID:   sel.ID,
		SelectionName: sel.Name,
	})
}

// HandleCancel marks an in-flight session failed and refunds its credit.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	defer httperr.Recover(w)

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	id := mux.Vars(r)["id"]
	cur, ok := h.store.Get(id)
	if !ok {
		httperr.WriteError(w, http.StatusNotFound, "Session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if cur.Terminal() {
		json.NewEncoder(w).Encode(CancelResponse{
			Success: false,
			ID:      id,
			Status:  cur.Status,
			Message: "session already " + cur.Status,
		})
		return
	}

	sess, _ := h.orch.Cancel(id)
	json.NewEncoder(w).Encode(CancelResponse{
		Success: true,
		ID:      id,
		Status:  sess.Status,
		Message: "generation canceled",
	})
}
