package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"labubufy-server/modules/archive"
	"labubufy-server/modules/common/config"
	"labubufy-server/modules/common/credit"
	"labubufy-server/modules/common/httperr"
	"labubufy-server/modules/common/model"
	redisutil "labubufy-server/modules/common/redis"
	"labubufy-server/modules/common/replicate"
	"labubufy-server/modules/common/session"
	"labubufy-server/modules/generate"
	"labubufy-server/modules/status"
	"labubufy-server/modules/stream"
)

var startTime = time.Now()

// CORS 미들웨어
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "labubufy-server",
	})
}

// getMetrics snapshots the session store grouped by status.
func getMetrics(store session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		byStatus := map[string]int{}
		active := 0
		for _, sess := range store.List() {
			byStatus[sess.Status]++
			if !sess.Terminal() {
				active++
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"server": map[string]interface{}{
				"uptime":    time.Since(startTime).String(),
				"startTime": startTime,
			},
			"sessions": map[string]interface{}{
				"active":   active,
				"byStatus": byStatus,
			},
		})
	}
}

// getBalance exposes the ledger's balance read for the client header widget.
func getBalance(ledger credit.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer httperr.Recover(w)

		userID := mux.Vars(r)["userId"]
		balance, err := ledger.Balance(r.Context(), userID)
		if err != nil {
			log.Printf("⚠️  [Credit] Balance lookup failed for user %s: %v", userID, err)
			httperr.WriteError(w, http.StatusInternalServerError, "Failed to fetch balance")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"user_id": userID,
			"credits": balance,
		})
	}
}

// newSessionStore picks the configured backend, falling back to memory when
// Redis is unreachable so the server still comes up.
func newSessionStore(cfg *config.Config) session.Store {
	if cfg.SessionBackend == "redis" {
		if rdb := redisutil.Connect(cfg); rdb != nil {
			log.Printf("✅ Session store: Redis (%s)", cfg.GetRedisAddr())
			return session.NewRedisStore(rdb, cfg.SessionRetention)
		}
		log.Println("⚠️  Redis unavailable, falling back to in-memory session store")
	}

	store := session.NewMemoryStore(cfg.SessionRetention)
	stop := make(chan struct{})
	go session.StartSweeper(store, cfg.SweepInterval, stop)
	log.Printf("✅ Session store: in-memory (retention: %v, sweep: %v)", cfg.SessionRetention, cfg.SweepInterval)
	return store
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	store := newSessionStore(cfg)
	gw := replicate.NewClient(cfg.ReplicateBaseURL, cfg.ReplicateAPIToken)

	var ledger credit.Ledger = credit.NoopLedger{}
	if supabaseLedger := credit.NewSupabaseLedger(); supabaseLedger != nil {
		ledger = supabaseLedger
	}

	orch := generate.NewOrchestrator(store, gw, ledger, cfg.Step2Model, cfg.MaxPollAttempts, cfg.CreditsPerGeneration)

	if archiver := archive.NewArchiver(); archiver != nil {
		orch.OnComplete = func(sess *model.GenerationSession) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			archiver.ArchiveResult(ctx, sess)
		}
	}

	// 백그라운드 드라이버
	go generate.StartWorker(context.Background(), store, orch, cfg.PollInterval)

	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/metrics", getMetrics(store)).Methods("GET")
	r.HandleFunc("/credits/{userId}", getBalance(ledger)).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/credits/{userId}", getBalance(ledger)).Methods("GET", "OPTIONS")

	generate.NewHandler(store, gw, ledger, orch).RegisterRoutes(r)
	status.NewHandler(gw, orch).RegisterRoutes(r)
	stream.NewHandler(orch, cfg.PollInterval).RegisterRoutes(r)

	port := cfg.Port

	log.Printf("🚀 Labubufy Server starting on port %s", port)
	log.Printf("🎨 Generate endpoint: http://localhost:%s/generate", port)
	log.Printf("🔍 Status endpoint: http://localhost:%s/status/{id}", port)
	log.Printf("📡 WebSocket stream: ws://localhost:%s/ws/status?session={id}", port)
	log.Printf("❤️  Health check: http://localhost:%s/health", port)
	log.Printf("📊 Metrics: http://localhost:%s/metrics", port)

	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
