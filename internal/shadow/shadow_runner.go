// Package shadow implements a cycle shadow replayer: it re-runs the vote
// tally against a candidate Param Registry override without committing
// it, so an operator can preview a proposed
// quorum/threshold change against a past cycle's recorded ballots before
// proposing it on-chain. It never mutates the live registry or ledger.
package shadow

import (
	"fmt"
	"log"
	"time"

	"github.com/bsq-network/dao-engine/internal/metrics"
	"github.com/bsq-network/dao-engine/internal/paramstore"
	"github.com/bsq-network/dao-engine/internal/tally"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// ShadowRunner replays a cycle's tally twice: once against the live
// registry, once against a candidate override layered on top of it, and
// reports whether any proposal's outcome diverges.
type ShadowRunner struct {
	engine   *tally.Engine
	registry *paramstore.Registry
}

// ShadowResult captures the diff between the production-registry tally
// and the candidate-override tally for one cycle.
type ShadowResult struct {
	CycleIndex     uint32             `json:"cycleIndex"`
	ParamID        models.ParamID     `json:"paramId"`
	CandidateValue int64              `json:"candidateValue"`
	Production     models.CycleResult `json:"production"`
	Shadow         models.CycleResult `json:"shadow"`
	Diverged       []string           `json:"diverged"`  // proposal tx-ids whose outcome changed
	Agreement      float64            `json:"agreement"` // fraction of proposals with an unchanged outcome
	CreatedAt      time.Time          `json:"createdAt"`
}

// NewShadowRunner constructs a runner against the engine's live registry
// and ballot store. The engine is reused as-is: a shadow run only swaps
// in a throwaway registry for the duration of the replay.
func NewShadowRunner(engine *tally.Engine, registry *paramstore.Registry) *ShadowRunner {
	return &ShadowRunner{engine: engine, registry: registry}
}

// Replay tallies cycleIndex twice — once against the live registry,
// once against a candidate snapshot with (paramID, atHeight, value)
// appended on top of it — and reports any proposal whose outcome
// differs. resultHeight is the cycle's result block height, used
// identically for both runs so only the parameter override differs.
func (sr *ShadowRunner) Replay(cycleIndex uint32, resultHeight uint32, paramID models.ParamID, atHeight uint32, value int64) (*ShadowResult, error) {
	prod, err := sr.engine.Tally(cycleIndex, resultHeight)
	if err != nil {
		return nil, fmt.Errorf("shadow: production tally: %w", err)
	}

	candidate := sr.registry.Clone()
	if err := candidate.AppendOverride(paramID, atHeight, value); err != nil {
		return nil, fmt.Errorf("shadow: staging candidate override: %w", err)
	}

	shadowEngine := sr.engine.WithRegistry(candidate)
	shadow, err := shadowEngine.Tally(cycleIndex, resultHeight)
	if err != nil {
		return nil, fmt.Errorf("shadow: candidate tally: %w", err)
	}

	result := &ShadowResult{
		CycleIndex:     cycleIndex,
		ParamID:        paramID,
		CandidateValue: value,
		Production:     prod,
		Shadow:         shadow,
		Diverged:       diverging(prod, shadow),
		Agreement:      metrics.OutcomeAgreement(prod, shadow),
		CreatedAt:      time.Now(),
	}

	if len(result.Diverged) > 0 {
		log.Printf("[SHADOW] cycle %d: candidate %s=%d diverges on %d proposal(s): %v",
			cycleIndex, paramID, value, len(result.Diverged), result.Diverged)
	}

	return result, nil
}

// diverging returns the proposal tx-ids whose Outcome differs between a
// and b. Both results are assumed to cover the same cycle and therefore
// the same proposal set.
func diverging(a, b models.CycleResult) []string {
	outcomes := make(map[string]models.ProposalOutcome, len(a.Results))
	for _, r := range a.Results {
		outcomes[r.ProposalTxID] = r.Outcome
	}

	var diverged []string
	for _, r := range b.Results {
		if prev, ok := outcomes[r.ProposalTxID]; ok && prev != r.Outcome {
			diverged = append(diverged, r.ProposalTxID)
		}
	}
	return diverged
}
