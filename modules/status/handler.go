package status

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"labubufy-server/modules/common/httperr"
	"labubufy-server/modules/common/replicate"
	"labubufy-server/modules/generate"
)

type Handler struct {
	gw   replicate.API
	orch *generate.Orchestrator
}

func NewHandler(gw replicate.API, orch *generate.Orchestrator) *Handler {
	return &Handler{gw: gw, orch: orch}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/status/{id}", h.HandleStatus).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/status/{id}", h.HandleStatus).Methods("GET", "OPTIONS")
}

// HandleStatus resolves the id against the session store first; each poll on
// a live session also advances it one check cycle. Ids that are not sessions
// fall back to a direct gateway lookup so single-step predictions share the
// endpoint. Every known id gets a well-formed payload, even when the gateway
// read fails.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	defer httperr.Recover(w)

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	if sess, ok := h.orch.Advance(ctx, id); ok {
		json.NewEncoder(w).Encode(ProjectSession(sess, time.Now()))
		return
	}

	pred, err := h.gw.GetPrediction(ctx, id)
	if err != nil {
		var apiErr *replicate.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			httperr.WriteError(w, http.StatusNotFound, "Prediction not found")
			return
		}
		log.Printf("⚠️  [Status] Gateway lookup failed for %s: %v", id, err)
		json.NewEncoder(w).Encode(Payload{
			ID:     id,
			Status: "failed",
			Error:  "status check failed",
		})
		return
	}

	json.NewEncoder(w).Encode(ProjectPrediction(pred, time.Now()))
}
