package paramapplier

import (
	"testing"

	"github.com/bsq-network/dao-engine/internal/paramstore"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// fakeProposals is a minimal proposalLookup stand-in for tests.
type fakeProposals map[string]models.Proposal

func (f fakeProposals) Proposal(txID string) (models.Proposal, bool) {
	p, ok := f[txID]
	return p, ok
}

func TestApplyAt_AppliesAcceptedChangeParamInAscendingOrder(t *testing.T) {
	registry := paramstore.NewRegistry(map[models.ParamID]int64{
		models.ParamMakerFeeColored: 2,
		models.ParamTakerFeeColored: 3,
	})
	proposals := fakeProposals{
		"p1": {TxID: "p1", Type: models.ProposalChangeParam, ChangeParamID: models.ParamTakerFeeColored, ChangeParamValue: 9},
		"p2": {TxID: "p2", Type: models.ProposalChangeParam, ChangeParamID: models.ParamMakerFeeColored, ChangeParamValue: 7},
	}
	applier := NewApplier(registry, proposals)

	applier.OnCycleComplete(models.CycleResult{
		CycleIndex: 0,
		Results: []models.ProposalResult{
			{ProposalTxID: "p1", Outcome: models.OutcomeAccepted},
			{ProposalTxID: "p2", Outcome: models.OutcomeAccepted},
		},
	})
	if applier.Pending() != 2 {
		t.Fatalf("expected 2 pending changes, got %d", applier.Pending())
	}

	applier.ApplyAt(1000)

	if applier.Pending() != 0 {
		t.Errorf("expected pending batch to clear after ApplyAt, got %d", applier.Pending())
	}
	got, err := registry.Value(models.ParamMakerFeeColored, 1000)
	if err != nil || got != 7 {
		t.Errorf("expected MakerFeeColored=7 at height 1000, got %d (err=%v)", got, err)
	}
	gotTaker, err := registry.Value(models.ParamTakerFeeColored, 1000)
	if err != nil || gotTaker != 9 {
		t.Errorf("expected TakerFeeColored=9 at height 1000, got %d (err=%v)", gotTaker, err)
	}
}

func TestOnCycleComplete_IgnoresRejectedAndNonChangeParam(t *testing.T) {
	registry := paramstore.NewRegistry(map[models.ParamID]int64{models.ParamMakerFeeColored: 2})
	proposals := fakeProposals{
		"rejected":    {TxID: "rejected", Type: models.ProposalChangeParam, ChangeParamID: models.ParamMakerFeeColored, ChangeParamValue: 99},
		"compensation": {TxID: "compensation", Type: models.ProposalCompensation},
	}
	applier := NewApplier(registry, proposals)

	applier.OnCycleComplete(models.CycleResult{
		Results: []models.ProposalResult{
			{ProposalTxID: "rejected", Outcome: models.OutcomeRejectedThreshold},
			{ProposalTxID: "compensation", Outcome: models.OutcomeAccepted},
		},
	})
	if applier.Pending() != 0 {
		t.Errorf("expected no pending changes, got %d", applier.Pending())
	}
}

func TestApplyAt_NoPendingChangesIsNoop(t *testing.T) {
	registry := paramstore.NewRegistry(map[models.ParamID]int64{models.ParamMakerFeeColored: 2})
	applier := NewApplier(registry, fakeProposals{})
	applier.ApplyAt(500) // must not panic or mutate anything
}
