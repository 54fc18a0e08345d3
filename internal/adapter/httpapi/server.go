package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jpereira/stocklens-backend/internal/usecase/holdings"
	"github.com/jpereira/stocklens-backend/internal/usecase/metricsrecalc"
	"github.com/jpereira/stocklens-backend/internal/usecase/priceingest"
	"github.com/jpereira/stocklens-backend/internal/usecase/refsync"
)

// Pinger reports whether the durable store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the batch jobs and the holdings write path over HTTP
type Server struct {
	IngestService   *priceingest.Service
	RecalcService   *metricsrecalc.Service
	RefSyncService  *refsync.Service
	HoldingsService *holdings.Service
	DB              Pinger
	JobToken        string
	Log             zerolog.Logger
}

// NewServer creates a new HTTP API server
func NewServer(
	ingestService *priceingest.Service,
	recalcService *metricsrecalc.Service,
	refSyncService *refsync.Service,
	holdingsService *holdings.Service,
	db Pinger,
	jobToken string,
	log zerolog.Logger,
) *Server {
	return &Server{
		IngestService:   ingestService,
		RecalcService:   recalcService,
		RefSyncService:  refSyncService,
		HoldingsService: holdingsService,
		DB:              db,
		JobToken:        jobToken,
		Log:             log.With().Str("component", "http").Logger(),
	}
}

// Routes builds the request multiplexer
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)

	mux.Handle("/jobs/prices/refresh", s.requireJobToken(http.HandlerFunc(s.handleRefreshPrices)))
	mux.Handle("/jobs/metrics/recompute", s.requireJobToken(http.HandlerFunc(s.handleRecomputeMetrics)))
	mux.Handle("/jobs/reference/sync", s.requireJobToken(http.HandlerFunc(s.handleSyncReference)))

	mux.HandleFunc("POST /portfolios/{portfolioID}/holdings", s.handleAddHolding)
	mux.HandleFunc("PUT /holdings/{holdingID}", s.handleUpdateHolding)
	mux.HandleFunc("DELETE /holdings/{holdingID}", s.handleDeleteHolding)

	return mux
}

// requireJobToken guards the batch endpoints with the shared job secret.
// Caller identity checks beyond this live in the fronting gateway.
func (s *Server) requireJobToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.JobToken != "" && r.Header.Get("X-Job-Token") != s.JobToken {
			writeError(w, http.StatusUnauthorized, "invalid job token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowJobMethod enforces the GET-or-POST contract of the job endpoints
func allowJobMethod(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
