package shadow

import (
	"testing"

	"github.com/bsq-network/dao-engine/internal/ballotstore"
	"github.com/bsq-network/dao-engine/internal/paramstore"
	"github.com/bsq-network/dao-engine/internal/tally"
	"github.com/bsq-network/dao-engine/pkg/models"
)

type fakePhases struct{}

func (fakePhases) IsInPhaseButNotLast(models.DaoPhase, uint32) bool { return true }
func (fakePhases) CycleOf(uint32) (models.Cycle, bool)              { return models.Cycle{}, false }

func TestReplay_NoDivergenceWhenNoVotesRecorded(t *testing.T) {
	registry := paramstore.NewRegistry(map[models.ParamID]int64{
		models.ParamQuorumGeneric:    1000,
		models.ParamThresholdGeneric: 5000,
	})
	store := ballotstore.New(fakePhases{})
	store.AddProposal(models.Proposal{TxID: "prop1", CycleIndex: 0, Type: models.ProposalGeneric})

	engine := tally.NewEngine(store, registry, func(string) ([20]byte, bool) { return [20]byte{}, false })
	runner := NewShadowRunner(engine, registry)

	result, err := runner.Replay(0, 312, models.ParamQuorumGeneric, 400, 2000)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(result.Diverged) != 0 {
		t.Errorf("expected no divergence (no votes recorded, both runs reject quorum), got %v", result.Diverged)
	}
	if result.Production.Results[0].Outcome != models.OutcomeRejectedQuorum {
		t.Errorf("expected production REJECTED_QUORUM with zero stake, got %v", result.Production.Results[0].Outcome)
	}
}

func TestReplay_DoesNotMutateLiveRegistry(t *testing.T) {
	registry := paramstore.NewRegistry(map[models.ParamID]int64{
		models.ParamQuorumGeneric:    1000,
		models.ParamThresholdGeneric: 5000,
	})
	store := ballotstore.New(fakePhases{})
	engine := tally.NewEngine(store, registry, func(string) ([20]byte, bool) { return [20]byte{}, false })
	runner := NewShadowRunner(engine, registry)

	if _, err := runner.Replay(0, 312, models.ParamQuorumGeneric, 400, 99_999); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	got, err := registry.Value(models.ParamQuorumGeneric, 500)
	if err != nil || got != 1000 {
		t.Errorf("expected live registry untouched (quorum=1000), got %d (err=%v)", got, err)
	}
}
