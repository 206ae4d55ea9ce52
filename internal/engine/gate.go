package engine

import (
	"context"
	"log/slog"

	"github.com/veyra-labs/fieldledger/internal/field"
	"github.com/veyra-labs/fieldledger/internal/ledger"
)

// Gate is the breath-safety admission controller. Given a requested
// resonance type and intensity it decides whether a redistribution may
// proceed against the currently active field events. It fails closed: any
// internal failure is a denial, never an admission.
type Gate struct {
	fields field.Store
	cfg    ledger.RedistributionConfig
	logger *slog.Logger
}

// NewGate builds the admission controller.
func NewGate(fields field.Store, cfg ledger.RedistributionConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		fields: fields,
		cfg:    cfg,
		logger: logger.With("component", "breath-safety"),
	}
}

// Check evaluates the gate for one request. The returned decision carries
// the raw 0-1 match score; the admission threshold applies to the 0-10
// normalized form.
func (g *Gate) Check(ctx context.Context, resonanceType string, intensity int) ledger.AdmissionDecision {
	events, err := g.fields.ActiveEvents(ctx)
	if err != nil {
		g.logger.Error("active event query failed, denying", "error", err)
		return ledger.AdmissionDecision{Admit: false, Match: 0, Reason: ledger.ReasonBreathSafetyError}
	}

	if len(events) == 0 && !g.cfg.DisableGate {
		return ledger.AdmissionDecision{Admit: false, Match: 0, Reason: ledger.ReasonNoActiveFieldEvents}
	}

	best := bestMatch(resonanceType, intensity, events)

	if best*10 >= g.cfg.Threshold || g.cfg.DisableGate {
		return ledger.AdmissionDecision{Admit: true, Match: best, Reason: ledger.ReasonFieldHarmony}
	}

	return ledger.AdmissionDecision{Admit: false, Match: best, Reason: ledger.ReasonInsufficientResonance}
}

// bestMatch returns the maximum match score across qualifying events. Only
// exact type matches and the universal wildcard qualify; a non-matching type
// contributes nothing regardless of intensity.
func bestMatch(resonanceType string, intensity int, events []ledger.FieldResonanceEvent) float64 {
	best := 0.0
	for _, ev := range events {
		if !ev.Active {
			continue
		}
		if ev.Type != resonanceType && ev.Type != ledger.ResonanceUniversal && resonanceType != ledger.ResonanceUniversal {
			continue
		}

		diff := ev.EffectiveIntensity() - intensity
		if diff < 0 {
			diff = -diff
		}

		match := 1 - float64(diff)/10
		if match < 0 {
			match = 0
		}
		if match > 1 {
			match = 1
		}
		if match > best {
			best = match
		}
	}
	return best
}
