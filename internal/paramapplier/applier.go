// Package paramapplier implements the Parameter Change Applier (spec
// §4.8): it consumes a cycle's tally result, batches every accepted
// ChangeParamProposal, and applies them to the Param Registry at the
// next cycle's first block in ascending Param identifier order. A
// failing append indicates a height regression and is treated as fatal.
package paramapplier

import (
	"errors"
	"log"
	"sort"

	"github.com/bsq-network/dao-engine/internal/ballotstore"
	"github.com/bsq-network/dao-engine/internal/paramstore"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// proposalLookup is the minimal surface paramapplier needs from
// internal/ballotstore, broken out to keep the dependency direction
// explicit and testable without constructing a full Store.
type proposalLookup interface {
	Proposal(txID string) (models.Proposal, bool)
}

var _ proposalLookup = (*ballotstore.Store)(nil)

// pendingChange is one accepted ChangeParamProposal awaiting application
// at the next cycle's first block.
type pendingChange struct {
	paramID models.ParamID
	value   int64
}

// Applier batches accepted parameter changes across a cycle boundary.
type Applier struct {
	registry  *paramstore.Registry
	proposals proposalLookup
	pending   []pendingChange
}

// NewApplier constructs an Applier against registry and proposals (the
// store used to resolve a ProposalResult's tx-id back to its
// ChangeParamProposal fields).
func NewApplier(registry *paramstore.Registry, proposals proposalLookup) *Applier {
	return &Applier{registry: registry, proposals: proposals}
}

// OnCycleComplete batches every accepted ChangeParamProposal in result.
// Call this once, synchronously, from the CycleComplete event listener
// — it must not mutate the registry itself; listeners may only enqueue
// work for after the current block completes.
func (a *Applier) OnCycleComplete(result models.CycleResult) {
	for _, r := range result.Results {
		if r.Outcome != models.OutcomeAccepted {
			continue
		}
		p, ok := a.proposals.Proposal(r.ProposalTxID)
		if !ok || p.Type != models.ProposalChangeParam {
			continue
		}
		a.pending = append(a.pending, pendingChange{paramID: p.ChangeParamID, value: p.ChangeParamValue})
	}
}

// ApplyAt applies every pending change at height — the next cycle's
// first block — in ascending Param identifier order, then
// clears the pending batch. An ErrStaleOverride from the registry is
// fatal: it can only mean a height regression, which violates the
// registry's monotone-height invariant.
func (a *Applier) ApplyAt(height uint32) {
	if len(a.pending) == 0 {
		return
	}

	sort.Slice(a.pending, func(i, j int) bool { return a.pending[i].paramID < a.pending[j].paramID })

	for _, change := range a.pending {
		if err := a.registry.AppendOverride(change.paramID, height, change.value); err != nil {
			if errors.Is(err, paramstore.ErrStaleOverride) {
				log.Fatalf("[PARAMAPPLIER] fatal: height regression applying %s at %d: %v",
					change.paramID, height, err)
			}
			log.Fatalf("[PARAMAPPLIER] fatal: applying %s at %d: %v", change.paramID, height, err)
		}
	}
	a.pending = nil
}

// Pending reports how many changes are queued for the next application,
// for diagnostics and tests.
func (a *Applier) Pending() int {
	return len(a.pending)
}
