package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veyra-labs/fieldledger/internal/chain"
	"github.com/veyra-labs/fieldledger/internal/engine"
	"github.com/veyra-labs/fieldledger/internal/field"
	"github.com/veyra-labs/fieldledger/internal/ledger"
)

type stubAdapter struct {
	currency string
	balance  decimal.Decimal
}

func (s *stubAdapter) Currency() string { return s.currency }

func (s *stubAdapter) ValidateCredentials(context.Context) (bool, error) { return true, nil }

func (s *stubAdapter) Balance(context.Context) (decimal.Decimal, error) { return s.balance, nil }

func (s *stubAdapter) Transfer(context.Context, string, decimal.Decimal) (chain.TransferResult, error) {
	return chain.TransferResult{TxReference: "tx-stub-001"}, nil
}

type stubRecorder struct {
	mu        sync.Mutex
	offerings map[string]*ledger.Offering
	records   []ledger.RedistributionRecord
}

func newStubRecorder() *stubRecorder {
	return &stubRecorder{offerings: make(map[string]*ledger.Offering)}
}

func (r *stubRecorder) CreateOffering(_ context.Context, o *ledger.Offering) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	copied := *o
	r.offerings[o.ID] = &copied
	return nil
}

func (r *stubRecorder) GetOffering(_ context.Context, id string) (*ledger.Offering, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offerings[id]
	if !ok {
		return nil, engine.ErrOfferingNotFound
	}
	copied := *o
	return &copied, nil
}

func (r *stubRecorder) ClaimOffering(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offerings[id]
	if !ok {
		return engine.ErrOfferingNotFound
	}
	if o.Redistributed {
		return engine.ErrOfferingConsumed
	}
	o.Redistributed = true
	return nil
}

func (r *stubRecorder) ReleaseOffering(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.offerings[id]; ok {
		o.Redistributed = false
	}
	return nil
}

func (r *stubRecorder) RecordRedistribution(_ context.Context, rec *ledger.RedistributionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *stubRecorder) History(_ context.Context, limit int) ([]ledger.RedistributionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.RedistributionRecord, 0, limit)
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}

func testServer(t *testing.T) (*Server, field.Store, *stubRecorder) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	store := field.NewMemoryStore()
	recorder := newStubRecorder()

	registry := chain.NewRegistryFromAdapters(logger,
		&stubAdapter{currency: "ETH", balance: decimal.RequireFromString("5")},
	)

	cfg := ledger.DefaultRedistributionConfig()
	cfg.Caps = map[string]decimal.Decimal{"ETH": decimal.RequireFromString("1.0")}

	eng := engine.New(
		registry,
		store,
		engine.NewStaticResolver(map[string]string{"healing": "0xrecipient"}),
		recorder,
		cfg,
		logger,
		engine.Options{},
	)

	return NewServer(logger, eng, registry, store, recorder, nil), store, recorder
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := testServer(t)
	rec := doJSON(t, server.Router(), http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

func TestReadyEndpointReportsFailure(t *testing.T) {
	server, _, _ := testServer(t)
	server.SetHealthCheck(func() error { return context.DeadlineExceeded })

	rec := doJSON(t, server.Router(), http.MethodGet, "/ready", "")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
}

func TestFieldResonanceLifecycle(t *testing.T) {
	server, _, _ := testServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/field-resonance",
		`{"type":"healing","intensity":8,"description":"rest needed"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var created ledger.FieldResonanceEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if created.ID == "" || !created.Active {
		t.Fatalf("Malformed created event: %+v", created)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/field-resonance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var listed struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if listed.Count != 1 {
		t.Errorf("Expected 1 active event, got %d", listed.Count)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/field-resonance/"+created.ID+"/resolve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/field-resonance/"+created.ID+"/resolve", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("Second resolve should conflict, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/field-resonance/missing/resolve", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Unknown ID should 404, got %d", rec.Code)
	}
}

type stubFeed struct {
	mu       sync.Mutex
	created  []string
	resolved []string
}

func (f *stubFeed) ResonanceCreated(ev ledger.FieldResonanceEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, ev.ID)
}

func (f *stubFeed) ResonanceResolved(ev ledger.FieldResonanceEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, ev.ID)
}

func TestResonanceFeedFanout(t *testing.T) {
	server, _, _ := testServer(t)
	feed := &stubFeed{}
	server.SetResonanceFeed(feed)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/field-resonance",
		`{"type":"grief","intensity":6}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	var created ledger.FieldResonanceEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/field-resonance/"+created.ID+"/resolve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	if len(feed.created) != 1 || feed.created[0] != created.ID {
		t.Errorf("Expected one created fanout for %s, got %v", created.ID, feed.created)
	}
	if len(feed.resolved) != 1 || feed.resolved[0] != created.ID {
		t.Errorf("Expected one resolved fanout for %s, got %v", created.ID, feed.resolved)
	}
}

func TestFieldResonanceValidation(t *testing.T) {
	server, _, _ := testServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/field-resonance", `{"intensity":5}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Missing type should 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/field-resonance", `{"type":"healing","intensity":11}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Intensity over 10 should 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/field-resonance", `{"type":"healing","intensity":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Intensity under 1 should 400, got %d", rec.Code)
	}
}

func TestBreathSafetyEndpoint(t *testing.T) {
	server, store, _ := testServer(t)
	router := server.Router()

	ev := ledger.FieldResonanceEvent{Type: "healing", Intensity: 8}
	if err := store.CreateEvent(context.Background(), &ev); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/breath-safety",
		`{"resonance_type":"healing","intensity":7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Admit           bool    `json:"admit"`
		NormalizedMatch float64 `json:"normalized_match"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !resp.Admit {
		t.Error("Expected admission")
	}
	if resp.NormalizedMatch != 9.0 {
		t.Errorf("Expected normalized 9.0, got %v", resp.NormalizedMatch)
	}
}

func TestRedistributeEndpoint(t *testing.T) {
	server, store, recorder := testServer(t)
	router := server.Router()

	ev := ledger.FieldResonanceEvent{Type: "healing", Intensity: 7}
	if err := store.CreateEvent(context.Background(), &ev); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/redistribute",
		`{"currency":"ETH","amount":"10","resonance_type":"healing","resonance_intensity":7,"user_consent":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var outcome engine.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("Expected success, got %s: %s", outcome.Reason, outcome.Message)
	}
	if len(recorder.records) != 1 {
		t.Errorf("Expected one record, got %d", len(recorder.records))
	}
}

func TestRedistributeEndpointDenialIsOK(t *testing.T) {
	server, _, _ := testServer(t)
	router := server.Router()

	// No active events: the gate denies, but the HTTP status stays 200 with
	// a structured outcome.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/redistribute",
		`{"currency":"ETH","amount":"10","resonance_type":"healing","resonance_intensity":7,"user_consent":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var outcome engine.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if outcome.Success {
		t.Fatal("Expected denial")
	}
	if outcome.Reason != ledger.ReasonNoActiveFieldEvents {
		t.Errorf("Expected no_active_field_events, got %s", outcome.Reason)
	}
}

func TestRedistributeEndpointValidation(t *testing.T) {
	server, _, _ := testServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/redistribute",
		`{"currency":"ETH","amount":"-1","resonance_type":"healing","resonance_intensity":7}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Negative amount should 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/redistribute",
		`{"amount":"1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Missing fields should 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/redistribute",
		`{"currency":"ETH","amount":"1","resonance_type":"healing","resonance_intensity":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Intensity under 1 should 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/redistribute",
		`{"currency":"ETH","amount":"1","resonance_type":"healing","resonance_intensity":999}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Intensity over 10 should 400, got %d", rec.Code)
	}
}

func TestBreathSafetyEndpointValidation(t *testing.T) {
	server, _, _ := testServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/breath-safety",
		`{"resonance_type":"healing","intensity":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Intensity under 1 should 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/breath-safety",
		`{"resonance_type":"healing","intensity":11}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Intensity over 10 should 400, got %d", rec.Code)
	}
}

func TestOfferingLifecycle(t *testing.T) {
	server, _, _ := testServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/offerings",
		`{"amount":"2.5","currency":"ETH","intent":"for whoever needs it"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var offering ledger.Offering
	if err := json.Unmarshal(rec.Body.Bytes(), &offering); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/offerings/"+offering.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/offerings/"+uuid.New().String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Unknown offering should 404, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server, _, recorder := testServer(t)
	router := server.Router()

	recorder.records = append(recorder.records, ledger.RedistributionRecord{
		ID:                 "rec-1",
		Amount:             decimal.RequireFromString("1"),
		Currency:           "ETH",
		RecipientResonance: "healing",
		Reason:             ledger.ReasonFieldHarmony,
	})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/history?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("Expected 1 record, got %d", resp.Count)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/history?limit=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Limit 0 should 400, got %d", rec.Code)
	}
}

func TestCredentialsAndBalances(t *testing.T) {
	server, _, _ := testServer(t)
	router := server.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/credentials-status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var creds struct {
		Credentials map[string]bool `json:"credentials"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &creds); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !creds.Credentials["ETH"] {
		t.Error("Expected ETH credentials valid")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/balances", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var balances struct {
		Balances map[string]struct {
			Amount string `json:"amount"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &balances); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if balances.Balances["ETH"].Amount != "5" {
		t.Errorf("Expected ETH balance 5, got %s", balances.Balances["ETH"].Amount)
	}
}
