package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veyra-labs/fieldledger/internal/chain"
	"github.com/veyra-labs/fieldledger/internal/engine"
	"github.com/veyra-labs/fieldledger/internal/field"
	"github.com/veyra-labs/fieldledger/internal/ledger"
	"github.com/veyra-labs/fieldledger/internal/platform/metrics"
)

// sweepTimeout bounds each adapter's network query during balance and
// credential sweeps.
const sweepTimeout = 10 * time.Second

// resonanceFeed receives field resonance lifecycle events for live fanout.
// Delivery is best effort.
type resonanceFeed interface {
	ResonanceCreated(event ledger.FieldResonanceEvent)
	ResonanceResolved(event ledger.FieldResonanceEvent)
}

// Server holds the API dependencies.
type Server struct {
	logger   *slog.Logger
	engine   *engine.Engine
	registry *chain.Registry
	fields   field.Store
	recorder engine.Recorder
	metrics  *metrics.Set

	health func() error

	wsHub *Hub
	feed  resonanceFeed
}

// NewServer creates the API server.
func NewServer(
	logger *slog.Logger,
	eng *engine.Engine,
	registry *chain.Registry,
	fields field.Store,
	recorder engine.Recorder,
	set *metrics.Set,
) *Server {
	return &Server{
		logger:   logger.With("component", "api"),
		engine:   eng,
		registry: registry,
		fields:   fields,
		recorder: recorder,
		metrics:  set,
	}
}

// SetHealthCheck sets the readiness probe backing /ready.
func (s *Server) SetHealthCheck(fn func() error) {
	s.health = fn
}

// SetWebSocketHub sets the live feed hub serving /ws.
func (s *Server) SetWebSocketHub(hub *Hub) {
	s.wsHub = hub
}

// SetResonanceFeed sets the sink for resonance lifecycle fanout.
func (s *Server) SetResonanceFeed(feed resonanceFeed) {
	s.feed = feed
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	mux.HandleFunc("/api/v1/credentials-status", s.handleCredentialsStatus)
	mux.HandleFunc("/api/v1/balances", s.handleBalances)

	mux.HandleFunc("/api/v1/field-resonance", s.handleFieldResonance)
	mux.HandleFunc("/api/v1/field-resonance/", s.handleFieldResonanceByID)

	mux.HandleFunc("/api/v1/breath-safety", s.handleBreathSafety)
	mux.HandleFunc("/api/v1/redistribute", s.handleRedistribute)
	mux.HandleFunc("/api/v1/history", s.handleHistory)

	mux.HandleFunc("/api/v1/offerings", s.handleOfferings)
	mux.HandleFunc("/api/v1/offerings/", s.handleOfferingByID)

	if s.wsHub != nil {
		mux.HandleFunc("/ws", s.wsHub.HandleConnect)
	}

	return s.loggingMiddleware(mux)
}

// loggingMiddleware logs all requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]interface{}{
		"ready":     true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if s.health != nil {
		if err := s.health(); err != nil {
			status["ready"] = false
			status["reason"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleCredentialsStatus validates every adapter's credentials concurrently.
func (s *Server) handleCredentialsStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.registry.CredentialStatus(r.Context(), sweepTimeout)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"credentials": status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleBalances sweeps every adapter's balance concurrently. A failed query
// reports zero with an error note rather than failing the whole sweep.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	results := s.registry.SweepBalances(r.Context(), sweepTimeout)

	balances := make(map[string]interface{}, len(results))
	for currency, res := range results {
		entry := map[string]interface{}{
			"amount": res.Amount.String(),
		}
		if res.Err != nil {
			entry["error"] = "balance query failed"
			s.metrics.ObserveSweepError()
		}
		balances[currency] = entry
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"balances":  balances,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleFieldResonance creates an event on POST and lists active events on
// GET.
func (s *Server) handleFieldResonance(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		events, err := s.fields.ActiveEvents(r.Context())
		if err != nil {
			s.logger.Error("active event query failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to list active events")
			return
		}
		s.metrics.SetActiveEvents(len(events))
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"events": events,
			"count":  len(events),
		})

	case http.MethodPost:
		var req struct {
			Type        string `json:"type"`
			Intensity   int    `json:"intensity"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Type == "" {
			s.writeError(w, http.StatusBadRequest, "type is required")
			return
		}
		if req.Intensity < 1 || req.Intensity > 10 {
			s.writeError(w, http.StatusBadRequest, "intensity must be between 1 and 10")
			return
		}

		ev := &ledger.FieldResonanceEvent{
			Type:        req.Type,
			Intensity:   req.Intensity,
			Description: req.Description,
		}
		if err := s.fields.CreateEvent(r.Context(), ev); err != nil {
			s.logger.Error("create event failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to create event")
			return
		}

		if s.feed != nil {
			s.feed.ResonanceCreated(*ev)
		}

		s.writeJSON(w, http.StatusCreated, ev)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFieldResonanceByID serves GET /api/v1/field-resonance/{id} and
// POST /api/v1/field-resonance/{id}/resolve.
func (s *Server) handleFieldResonanceByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/field-resonance/")

	if id, found := strings.CutSuffix(rest, "/resolve"); found {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ev, err := s.fields.ResolveEvent(r.Context(), id)
		switch {
		case errors.Is(err, field.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "event not found")
			return
		case errors.Is(err, field.ErrAlreadyResolved):
			s.writeError(w, http.StatusConflict, "event already resolved")
			return
		case err != nil:
			s.logger.Error("resolve event failed", "event_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to resolve event")
			return
		}

		if s.feed != nil {
			s.feed.ResonanceResolved(*ev)
		}

		s.writeJSON(w, http.StatusOK, ev)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ev, err := s.fields.GetEvent(r.Context(), rest)
	if errors.Is(err, field.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		s.logger.Error("get event failed", "event_id", rest, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}

	s.writeJSON(w, http.StatusOK, ev)
}

// handleBreathSafety runs the admission check without side effects.
func (s *Server) handleBreathSafety(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ResonanceType string `json:"resonance_type"`
		Intensity     int    `json:"intensity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResonanceType == "" {
		s.writeError(w, http.StatusBadRequest, "resonance_type is required")
		return
	}
	if req.Intensity < 1 || req.Intensity > 10 {
		s.writeError(w, http.StatusBadRequest, "intensity must be between 1 and 10")
		return
	}

	decision := s.engine.CheckBreathSafety(r.Context(), req.ResonanceType, req.Intensity)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"admit":            decision.Admit,
		"match":            decision.Match,
		"normalized_match": decision.NormalizedMatch(),
		"reason":           decision.Reason,
		"message":          decision.Reason.Message(),
	})
}

// handleRedistribute runs the full pipeline for one request. Every outcome
// is 200 with a structured body; only malformed input is a client error.
func (s *Server) handleRedistribute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Currency           string `json:"currency"`
		Amount             string `json:"amount"`
		ResonanceType      string `json:"resonance_type"`
		ResonanceIntensity int    `json:"resonance_intensity"`
		RecipientAddress   string `json:"recipient_address"`
		RecipientSession   string `json:"recipient_session"`
		SourceOfferingID   string `json:"source_offering_id"`
		UserConsent        bool   `json:"user_consent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Currency == "" || req.ResonanceType == "" {
		s.writeError(w, http.StatusBadRequest, "currency and resonance_type are required")
		return
	}
	if req.ResonanceIntensity < 1 || req.ResonanceIntensity > 10 {
		s.writeError(w, http.StatusBadRequest, "resonance_intensity must be between 1 and 10")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		s.writeError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	outcome := s.engine.Redistribute(r.Context(), engine.RedistributionRequest{
		Currency:           req.Currency,
		Amount:             amount,
		ResonanceType:      req.ResonanceType,
		ResonanceIntensity: req.ResonanceIntensity,
		RecipientAddress:   req.RecipientAddress,
		RecipientSession:   req.RecipientSession,
		SourceOfferingID:   req.SourceOfferingID,
		UserConsent:        req.UserConsent,
	})

	s.writeJSON(w, http.StatusOK, outcome)
}

// handleHistory returns the most recent redistribution records.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := s.recorder.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// handleOfferings creates an offering on POST.
func (s *Server) handleOfferings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Amount      string `json:"amount"`
		Currency    string `json:"currency"`
		TxReference string `json:"tx_reference"`
		Intent      string `json:"intent"`
		Resonance   string `json:"resonance"`
		SessionID   string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Currency == "" {
		s.writeError(w, http.StatusBadRequest, "currency is required")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		s.writeError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	offering := &ledger.Offering{
		Amount:      amount,
		Currency:    req.Currency,
		TxReference: req.TxReference,
		Intent:      req.Intent,
		Resonance:   req.Resonance,
		SessionID:   req.SessionID,
	}
	if err := s.recorder.CreateOffering(r.Context(), offering); err != nil {
		s.logger.Error("create offering failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create offering")
		return
	}

	s.writeJSON(w, http.StatusCreated, offering)
}

// handleOfferingByID serves GET /api/v1/offerings/{id}.
func (s *Server) handleOfferingByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/offerings/")

	offering, err := s.recorder.GetOffering(r.Context(), id)
	if errors.Is(err, engine.ErrOfferingNotFound) {
		s.writeError(w, http.StatusNotFound, "offering not found")
		return
	}
	if err != nil {
		s.logger.Error("get offering failed", "offering_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load offering")
		return
	}

	s.writeJSON(w, http.StatusOK, offering)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
