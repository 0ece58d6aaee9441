package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-dictation/internal/coordinator"
	"github.com/loqalabs/loqa-dictation/internal/eventstore"
	"github.com/loqalabs/loqa-dictation/internal/metrics"
)

type healthResponse struct {
	RunID     string                `json:"run_id"`
	Ready     bool                  `json:"ready"`
	Bus       bool                  `json:"bus"`
	Pipeline  coordinator.Health    `json:"pipeline"`
	Mailboxes []metrics.MailboxDrop `json:"mailboxes"`
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /health", r.handleHealthDetail)
	mux.HandleFunc("POST /listen/start", r.handleListen(true))
	mux.HandleFunc("POST /listen/stop", r.handleListen(false))
	mux.HandleFunc("POST /keyboard", r.handleKeyboard)
	mux.HandleFunc("GET /transcripts", r.handleTranscripts)
	if r.metricsHandler != nil {
		mux.Handle("GET /metrics", r.metricsHandler)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleHealthDetail(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		RunID:     r.runID,
		Ready:     r.ready.Load(),
		Bus:       r.bus.Healthy(),
		Mailboxes: r.metrics.MailboxDrops(),
	}
	if r.pipeline != nil {
		resp.Pipeline = r.pipeline.Health()
	}
	r.writeJSON(w, http.StatusOK, resp)
}

func (r *Runtime) handleListen(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if r.pipeline == nil {
			http.Error(w, "pipeline not running", http.StatusServiceUnavailable)
			return
		}
		if start {
			r.pipeline.StartListening()
		} else {
			r.pipeline.StopListening()
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (r *Runtime) handleKeyboard(w http.ResponseWriter, req *http.Request) {
	if r.pipeline == nil {
		http.Error(w, "pipeline not running", http.StatusServiceUnavailable)
		return
	}
	enabled, err := strconv.ParseBool(req.URL.Query().Get("enabled"))
	if err != nil {
		http.Error(w, "enabled must be true or false", http.StatusBadRequest)
		return
	}
	r.pipeline.ToggleKeyboardOutput(enabled)
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleTranscripts(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := r.store.RecentTranscripts(req.Context(), limit)
	if err != nil {
		r.logger.Error("failed to list transcripts", slog.String("error", err.Error()))
		http.Error(w, "failed to list transcripts", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []eventstore.Entry{}
	}
	r.writeJSON(w, http.StatusOK, entries)
}

func (r *Runtime) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}
