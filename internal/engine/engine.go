// Package engine runs the redistribution pipeline: admission control, amount
// calculation, recipient resolution, transfer execution, and ledger
// recording.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/veyra-labs/fieldledger/internal/chain"
	"github.com/veyra-labs/fieldledger/internal/field"
	"github.com/veyra-labs/fieldledger/internal/ledger"
	"github.com/veyra-labs/fieldledger/internal/platform/metrics"
)

// DefaultTransferTimeout bounds one adapter transfer including its
// confirmation wait.
const DefaultTransferTimeout = 90 * time.Second

// RedistributionRequest is the caller's side of one pipeline run.
type RedistributionRequest struct {
	Currency           string
	Amount             decimal.Decimal
	ResonanceType      string
	ResonanceIntensity int

	// RecipientAddress overrides recipient resolution when supplied.
	RecipientAddress string
	RecipientSession string

	// SourceOfferingID names the offering consumed by this redistribution,
	// when one exists.
	SourceOfferingID string

	UserConsent bool
}

// Outcome is returned to the external caller for every pipeline run. Denial
// paths still produce Success=false with a human-readable message; nothing
// throws past this boundary.
type Outcome struct {
	Success        bool              `json:"success"`
	TxReference    string            `json:"transaction_reference,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	ResonanceScore float64           `json:"resonance_score"`
	Reason         ledger.ReasonCode `json:"reason"`
	Message        string            `json:"message"`
}

// Engine wires the pipeline's collaborators. All dependencies are injected;
// there are no ambient singletons, so tests substitute fakes per currency.
type Engine struct {
	registry *chain.Registry
	fields   field.Store
	gate     *Gate
	resolver RecipientResolver
	recorder Recorder
	cfg      ledger.RedistributionConfig
	logger   *slog.Logger

	metrics *metrics.Set
	sink    EventSink

	transferTimeout time.Duration
}

// Options carries the optional engine collaborators.
type Options struct {
	Metrics         *metrics.Set
	Sink            EventSink
	TransferTimeout time.Duration
}

// New builds the engine.
func New(
	registry *chain.Registry,
	fields field.Store,
	resolver RecipientResolver,
	recorder Recorder,
	cfg ledger.RedistributionConfig,
	logger *slog.Logger,
	opts Options,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TransferTimeout == 0 {
		opts.TransferTimeout = DefaultTransferTimeout
	}

	return &Engine{
		registry:        registry,
		fields:          fields,
		gate:            NewGate(fields, cfg, logger),
		resolver:        resolver,
		recorder:        recorder,
		cfg:             cfg,
		logger:          logger.With("component", "redistribution-engine"),
		metrics:         opts.Metrics,
		sink:            opts.Sink,
		transferTimeout: opts.TransferTimeout,
	}
}

// CheckBreathSafety runs the admission controller only, with no side
// effects.
func (e *Engine) CheckBreathSafety(ctx context.Context, resonanceType string, intensity int) ledger.AdmissionDecision {
	return e.gate.Check(ctx, resonanceType, intensity)
}

// Config returns the immutable redistribution configuration.
func (e *Engine) Config() ledger.RedistributionConfig {
	return e.cfg
}

// Redistribute runs the full pipeline for one request. Every exit path
// returns a well-formed outcome; errors never cross this boundary.
func (e *Engine) Redistribute(ctx context.Context, req RedistributionRequest) Outcome {
	adapter, err := e.registry.Lookup(req.Currency)
	if err != nil {
		return e.deny(req, 0, ledger.ReasonUnsupportedCurrency)
	}

	if req.SourceOfferingID != "" {
		// Fast fail for an offering that is already gone. The authoritative
		// check is the claim below; this read only short-circuits the gate
		// and adapter work for sequential reuse.
		offering, err := e.recorder.GetOffering(ctx, req.SourceOfferingID)
		if err != nil {
			e.logger.Warn("source offering lookup failed", "offering_id", req.SourceOfferingID, "error", err)
			return e.deny(req, 0, ledger.ReasonBreathSafetyError)
		}
		if offering.Redistributed {
			return e.deny(req, 0, ledger.ReasonAlreadyRedistributed)
		}
	}

	decision := e.gate.Check(ctx, req.ResonanceType, req.ResonanceIntensity)
	if !decision.Admit {
		e.metrics.ObserveDenial(string(decision.Reason))
		return e.deny(req, decision.Match, decision.Reason)
	}

	if !req.UserConsent {
		return e.deny(req, decision.Match, ledger.ReasonConsentWithheld)
	}

	amount := RedistributionAmount(req.Amount, e.cfg.Percentage, e.cfg.Cap(req.Currency))
	if amount.IsZero() {
		return e.deny(req, decision.Match, ledger.ReasonNothingToRedistribute)
	}

	destination := req.RecipientAddress
	if destination == "" {
		resolved, ok := e.resolver.Resolve(req.ResonanceType)
		if !ok {
			return e.deny(req, decision.Match, ledger.ReasonNoRecipient)
		}
		destination = resolved
	}

	if req.SourceOfferingID != "" {
		// The claim is the serialization point: concurrent runs naming the
		// same offering race here, and exactly one proceeds to the adapter.
		if err := e.recorder.ClaimOffering(ctx, req.SourceOfferingID); err != nil {
			if errors.Is(err, ErrOfferingConsumed) {
				return e.deny(req, decision.Match, ledger.ReasonAlreadyRedistributed)
			}
			e.logger.Warn("offering claim failed", "offering_id", req.SourceOfferingID, "error", err)
			return e.deny(req, decision.Match, ledger.ReasonBreathSafetyError)
		}
	}

	tctx, cancel := context.WithTimeout(ctx, e.transferTimeout)
	defer cancel()

	start := time.Now()
	result, err := adapter.Transfer(tctx, destination, amount)
	e.metrics.ObserveTransfer(req.Currency, time.Since(start).Seconds())

	if err != nil {
		// Nothing is recorded for a failed transfer; the claim is undone so
		// the offering stays spendable, and the failure travels back to the
		// caller only.
		if req.SourceOfferingID != "" {
			if rerr := e.recorder.ReleaseOffering(ctx, req.SourceOfferingID); rerr != nil {
				e.logger.Error("offering release failed after failed transfer",
					"offering_id", req.SourceOfferingID,
					"error", rerr,
				)
			}
		}
		e.logger.Error("transfer failed",
			"currency", req.Currency,
			"destination", destination,
			"amount", amount.String(),
			"error", err,
		)
		e.metrics.ObserveOutcome(req.Currency, string(ledger.ReasonTransferFailed))
		return Outcome{
			Success:        false,
			Amount:         amount,
			ResonanceScore: decision.Match,
			Reason:         ledger.ReasonTransferFailed,
			Message:        ledger.ReasonTransferFailed.Message(),
		}
	}

	rec := &ledger.RedistributionRecord{
		ID:                 uuid.New().String(),
		SourceOfferingID:   req.SourceOfferingID,
		Amount:             amount,
		Currency:           req.Currency,
		TxReference:        result.TxReference,
		RecipientResonance: req.ResonanceType,
		RecipientSession:   req.RecipientSession,
		Reason:             ledger.ReasonFieldHarmony,
		CreatedAt:          time.Now().UTC(),
	}

	if err := e.recorder.RecordRedistribution(ctx, rec); err != nil {
		// The transfer is already on-chain; this divergence between the
		// external and internal ledgers cannot be rolled back here.
		e.logger.Error("LEDGER DIVERGENCE: transfer confirmed but recording failed",
			"tx_reference", result.TxReference,
			"currency", req.Currency,
			"amount", amount.String(),
			"error", err,
		)
	}

	if e.sink != nil {
		e.sink.RedistributionExecuted(ctx, *rec)
	}
	e.metrics.ObserveOutcome(req.Currency, string(ledger.ReasonFieldHarmony))

	return Outcome{
		Success:        true,
		TxReference:    result.TxReference,
		Amount:         amount,
		ResonanceScore: decision.Match,
		Reason:         ledger.ReasonFieldHarmony,
		Message:        ledger.ReasonFieldHarmony.Message(),
	}
}

func (e *Engine) deny(req RedistributionRequest, score float64, reason ledger.ReasonCode) Outcome {
	e.metrics.ObserveOutcome(req.Currency, string(reason))
	return Outcome{
		Success:        false,
		Amount:         decimal.Zero,
		ResonanceScore: score,
		Reason:         reason,
		Message:        reason.Message(),
	}
}
