package ledger

import (
	"math"
	"testing"
)

func TestEffectiveIntensityDefaultsToFive(t *testing.T) {
	cases := []struct {
		intensity int
		want      int
	}{
		{0, 5},
		{-3, 5},
		{1, 1},
		{10, 10},
	}

	for _, tc := range cases {
		ev := FieldResonanceEvent{Intensity: tc.intensity}
		if got := ev.EffectiveIntensity(); got != tc.want {
			t.Errorf("EffectiveIntensity with %d = %d, want %d", tc.intensity, got, tc.want)
		}
	}
}

func TestNormalizedMatch(t *testing.T) {
	// 0.72*10 is not exactly 7.2 in binary floating point.
	d := AdmissionDecision{Match: 0.72}
	if got := d.NormalizedMatch(); math.Abs(got-7.2) > 1e-9 {
		t.Errorf("NormalizedMatch = %v, want 7.2", got)
	}
}

func TestReasonMessagesAreHumanReadable(t *testing.T) {
	reasons := []ReasonCode{
		ReasonNoActiveFieldEvents,
		ReasonInsufficientResonance,
		ReasonFieldHarmony,
		ReasonBreathSafetyError,
		ReasonNothingToRedistribute,
		ReasonUnsupportedCurrency,
		ReasonNoRecipient,
		ReasonConsentWithheld,
		ReasonTransferFailed,
		ReasonAlreadyRedistributed,
	}

	for _, r := range reasons {
		msg := r.Message()
		if msg == "" {
			t.Errorf("Reason %s has no message", r)
		}
		if msg == string(r) {
			t.Errorf("Reason %s falls through to the raw code", r)
		}
	}
}

func TestUnknownReasonFallsThrough(t *testing.T) {
	r := ReasonCode("something_else")
	if r.Message() != "something_else" {
		t.Errorf("Unknown reason should render its code, got %q", r.Message())
	}
}
