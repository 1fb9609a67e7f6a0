package metrics

import (
	"math"
	"testing"

	"github.com/bsq-network/dao-engine/pkg/models"
)

func result(outcomes map[string]models.ProposalOutcome) models.CycleResult {
	var r models.CycleResult
	for txid, o := range outcomes {
		r.Results = append(r.Results, models.ProposalResult{ProposalTxID: txid, Outcome: o})
	}
	return r
}

func TestOutcomeAgreement_Identical(t *testing.T) {
	a := result(map[string]models.ProposalOutcome{
		"p1": models.OutcomeAccepted,
		"p2": models.OutcomeRejectedQuorum,
	})
	if got := OutcomeAgreement(a, a); got != 1.0 {
		t.Errorf("expected full agreement, got %v", got)
	}
}

func TestOutcomeAgreement_PartialFlip(t *testing.T) {
	a := result(map[string]models.ProposalOutcome{
		"p1": models.OutcomeAccepted,
		"p2": models.OutcomeAccepted,
	})
	b := result(map[string]models.ProposalOutcome{
		"p1": models.OutcomeAccepted,
		"p2": models.OutcomeRejectedThreshold,
	})
	if got := OutcomeAgreement(a, b); got != 0.5 {
		t.Errorf("expected 0.5 agreement, got %v", got)
	}
}

func TestOutcomeAgreement_NoSharedProposals(t *testing.T) {
	a := result(map[string]models.ProposalOutcome{"p1": models.OutcomeAccepted})
	b := result(map[string]models.ProposalOutcome{"p2": models.OutcomeAccepted})
	if got := OutcomeAgreement(a, b); got != 1.0 {
		t.Errorf("expected vacuous agreement, got %v", got)
	}
}

func TestTurnoutBps(t *testing.T) {
	cases := []struct {
		stake, supply uint64
		want          int64
	}{
		{0, 1_000_000, 0},
		{500_000, 1_000_000, 5000},
		{1_000_000, 1_000_000, 10000},
		{2_000_000, 1_000_000, 10000}, // clamped
		{1, 0, 0},                     // no supply
	}
	for _, tc := range cases {
		if got := TurnoutBps(tc.stake, tc.supply); got != tc.want {
			t.Errorf("TurnoutBps(%d, %d) = %d, want %d", tc.stake, tc.supply, got, tc.want)
		}
	}
}

func TestStakeGini_EqualWeights(t *testing.T) {
	got := StakeGini([]float64{100, 100, 100, 100})
	if math.Abs(got) > 1e-9 {
		t.Errorf("expected 0 for equal weights, got %v", got)
	}
}

func TestStakeGini_ConcentratedWeight(t *testing.T) {
	got := StakeGini([]float64{0, 0, 0, 1000})
	if got < 0.7 {
		t.Errorf("expected high concentration, got %v", got)
	}
}

func TestStakeGini_DegenerateInputs(t *testing.T) {
	if got := StakeGini(nil); got != 0 {
		t.Errorf("expected 0 for empty input, got %v", got)
	}
	if got := StakeGini([]float64{42}); got != 0 {
		t.Errorf("expected 0 for a single voter, got %v", got)
	}
	if got := StakeGini([]float64{0, 0}); got != 0 {
		t.Errorf("expected 0 for zero total weight, got %v", got)
	}
}
