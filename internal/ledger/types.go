// Package ledger defines the domain records of the redistribution engine:
// offerings, redistribution records, and field resonance events.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResonanceUniversal is the wildcard resonance type. An active event tagged
// universal matches any requested type, and a universal request matches any
// active event.
const ResonanceUniversal = "universal"

// Offering is an anonymous pledge of value. Once Redistributed flips to true
// it never reverts; an offering is consumed as a redistribution source at
// most once.
type Offering struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	TxReference   string          `json:"tx_reference,omitempty"`
	Intent        string          `json:"intent,omitempty"`
	Resonance     string          `json:"resonance,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Redistributed bool            `json:"redistributed"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RedistributionRecord is the append-only result of a completed transfer.
// Amount is always positive and TxReference is present only on success.
type RedistributionRecord struct {
	ID                 string          `json:"id"`
	SourceOfferingID   string          `json:"source_offering_id,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	TxReference        string          `json:"tx_reference,omitempty"`
	RecipientResonance string          `json:"recipient_resonance"`
	RecipientSession   string          `json:"recipient_session,omitempty"`
	Reason             ReasonCode      `json:"reason"`
	CreatedAt          time.Time       `json:"created_at"`
}

// FieldResonanceEvent signals that an emotional or need pattern is currently
// active. Active implies ResolvedAt is nil; resolution is monotonic.
type FieldResonanceEvent struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Intensity   int        `json:"intensity"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// EffectiveIntensity returns the event intensity, defaulting to 5 when the
// reporter did not supply one.
func (e FieldResonanceEvent) EffectiveIntensity() int {
	if e.Intensity <= 0 {
		return 5
	}
	return e.Intensity
}

// ReasonCode classifies why a redistribution was admitted, denied, or
// terminated before transfer.
type ReasonCode string

const (
	ReasonNoActiveFieldEvents   ReasonCode = "no_active_field_events"
	ReasonInsufficientResonance ReasonCode = "insufficient_resonance"
	ReasonFieldHarmony          ReasonCode = "field_harmony"
	ReasonBreathSafetyError     ReasonCode = "breath_safety_error"

	ReasonNothingToRedistribute ReasonCode = "nothing_to_redistribute"
	ReasonUnsupportedCurrency   ReasonCode = "unsupported_currency"
	ReasonNoRecipient           ReasonCode = "no_suitable_recipient"
	ReasonConsentWithheld       ReasonCode = "consent_withheld"
	ReasonTransferFailed        ReasonCode = "transfer_failed"
	ReasonAlreadyRedistributed  ReasonCode = "offering_already_redistributed"
)

// Message renders a reason code as the human-readable text returned across
// the API boundary. Internal errors are never surfaced verbatim.
func (r ReasonCode) Message() string {
	switch r {
	case ReasonNoActiveFieldEvents:
		return "no active field resonance events; nothing to harmonize with"
	case ReasonInsufficientResonance:
		return "resonance match below the configured threshold"
	case ReasonFieldHarmony:
		return "resonance match admitted; field in harmony"
	case ReasonBreathSafetyError:
		return "breath-safety check could not complete; redistribution denied"
	case ReasonNothingToRedistribute:
		return "computed redistribution amount is zero"
	case ReasonUnsupportedCurrency:
		return "no ledger adapter registered for this currency"
	case ReasonNoRecipient:
		return "no suitable recipient for this resonance type"
	case ReasonConsentWithheld:
		return "caller did not consent to the redistribution"
	case ReasonTransferFailed:
		return "transfer failed at the ledger adapter"
	case ReasonAlreadyRedistributed:
		return "source offering was already redistributed"
	default:
		return string(r)
	}
}

// AdmissionDecision is the transient output of the breath-safety gate.
// Match is the raw 0-1 resonance match score.
type AdmissionDecision struct {
	Admit  bool       `json:"admit"`
	Match  float64    `json:"match"`
	Reason ReasonCode `json:"reason"`
}

// NormalizedMatch scales the raw match onto the 0-10 band the admission
// threshold is expressed in.
func (d AdmissionDecision) NormalizedMatch() float64 {
	return d.Match * 10
}
