// Package period implements the cycle/phase state machine: a
// pure function of block height that divides the chain into ordered
// governance cycles, each a fixed sequence of phases whose durations are
// snapshotted from the Param Registry at the cycle's first block.
package period

import (
	"fmt"
	"sync"

	"github.com/bsq-network/dao-engine/internal/paramstore"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// phaseParams is the fixed, ordered mapping from DaoPhase to the Param
// Registry id governing its duration, matching models.OrderedPhases.
var phaseParams = map[models.DaoPhase]models.ParamID{
	models.PhaseProposal:   models.ParamPhaseProposalBlocks,
	models.PhaseBreak1:     models.ParamPhaseBreak1Blocks,
	models.PhaseBlindVote:  models.ParamPhaseBlindVoteBlocks,
	models.PhaseBreak2:     models.ParamPhaseBreak2Blocks,
	models.PhaseVoteReveal: models.ParamPhaseVoteRevealBlocks,
	models.PhaseBreak3:     models.ParamPhaseBreak3Blocks,
	models.PhaseResult:     models.ParamPhaseResultBlocks,
	models.PhaseBreak4:     models.ParamPhaseBreak4Blocks,
}

// Service tracks the ordered list of cycles constructed so far and
// answers height -> (cycle, phase) queries. All cycles but the last are
// immutable once constructed; the last cycle grows only by appending the
// next cycle once its own span is exhausted.
type Service struct {
	mu              sync.RWMutex
	genesisHeight   uint32
	registry        *paramstore.Registry
	cycles          []models.Cycle // ordered, disjoint, ascending FirstBlock
}

// NewService returns a Service with no cycles yet constructed. The first
// call to AdvanceTo with a height at or above genesisHeight seeds Cycle 0.
func NewService(registry *paramstore.Registry, genesisHeight uint32) *Service {
	return &Service{registry: registry, genesisHeight: genesisHeight}
}

// buildCycle snapshots phase durations from the registry as of
// firstBlock and constructs the next cycle.
func (s *Service) buildCycle(index uint32, firstBlock uint32) (models.Cycle, error) {
	phases := make([]models.PhaseRange, 0, len(models.OrderedPhases))
	for _, phase := range models.OrderedPhases {
		paramID, ok := phaseParams[phase]
		if !ok {
			return models.Cycle{}, fmt.Errorf("period: no duration param for phase %v", phase)
		}
		duration, err := s.registry.Value(paramID, firstBlock)
		if err != nil {
			return models.Cycle{}, fmt.Errorf("period: resolving duration for %v: %w", phase, err)
		}
		if duration <= 0 {
			return models.Cycle{}, fmt.Errorf("period: non-positive duration %d for phase %v", duration, phase)
		}
		phases = append(phases, models.PhaseRange{Phase: phase, DurationBlocks: uint32(duration)})
	}
	return models.Cycle{Index: index, FirstBlock: firstBlock, Phases: phases}, nil
}

// AdvanceTo ensures enough cycles have been constructed to cover height.
// It is idempotent and safe to call before every ParseBlock: a cycle is
// instantiated at the genesis height for the first cycle, and at the
// block immediately after the previous cycle's BREAK4 ends thereafter.
func (s *Service) AdvanceTo(height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cycles) == 0 {
		if height < s.genesisHeight {
			return nil
		}
		c, err := s.buildCycle(0, s.genesisHeight)
		if err != nil {
			return err
		}
		s.cycles = append(s.cycles, c)
	}

	for {
		last := s.cycles[len(s.cycles)-1]
		if height <= last.LastBlock() {
			return nil
		}
		next, err := s.buildCycle(last.Index+1, last.LastBlock()+1)
		if err != nil {
			return err
		}
		s.cycles = append(s.cycles, next)
	}
}

// CycleOf returns the cycle containing height. Callers must have called
// AdvanceTo(height) (directly, or via ParseBlock in the block parser)
// first; returns false if height precedes genesis or no cycle has been
// constructed yet.
func (s *Service) CycleOf(height uint32) (models.Cycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.cycles {
		if height >= c.FirstBlock && height <= c.LastBlock() {
			return c, true
		}
	}
	return models.Cycle{}, false
}

// PhaseFor returns the DaoPhase containing height within its cycle.
func (s *Service) PhaseFor(height uint32) models.DaoPhase {
	c, ok := s.CycleOf(height)
	if !ok {
		return models.PhaseUndefined
	}
	h := c.FirstBlock
	for _, pr := range c.Phases {
		if height < h+pr.DurationBlocks {
			return pr.Phase
		}
		h += pr.DurationBlocks
	}
	return models.PhaseUndefined
}

// FirstBlockOf returns the first height belonging to phase within the
// cycle containing atHeight.
func (s *Service) FirstBlockOf(phase models.DaoPhase, atHeight uint32) (uint32, bool) {
	c, ok := s.CycleOf(atHeight)
	if !ok {
		return 0, false
	}
	h := c.FirstBlock
	for _, pr := range c.Phases {
		if pr.Phase == phase {
			return h, true
		}
		h += pr.DurationBlocks
	}
	return 0, false
}

// LastBlockOf returns the final height belonging to phase within the
// cycle containing atHeight.
func (s *Service) LastBlockOf(phase models.DaoPhase, atHeight uint32) (uint32, bool) {
	c, ok := s.CycleOf(atHeight)
	if !ok {
		return 0, false
	}
	h := c.FirstBlock
	for _, pr := range c.Phases {
		if pr.Phase == phase {
			return h + pr.DurationBlocks - 1, true
		}
		h += pr.DurationBlocks
	}
	return 0, false
}

// IsInPhaseButNotLast reports whether height lies in phase and is not
// the final block of that phase — used to gate the single legitimately
// mutable piece of state in the model, Ballot.Vote.
func (s *Service) IsInPhaseButNotLast(phase models.DaoPhase, height uint32) bool {
	if s.PhaseFor(height) != phase {
		return false
	}
	last, ok := s.LastBlockOf(phase, height)
	return ok && height != last
}

// PhaseChanged reports whether phaseFor(height) differs from
// phaseFor(height-1), the condition under which the Block Parser fires a
// PhaseChanged event.
func (s *Service) PhaseChanged(height uint32) bool {
	if height == 0 {
		return false
	}
	return s.PhaseFor(height) != s.PhaseFor(height-1)
}

// IsCycleResultBlock reports whether height is the first block of the
// RESULT phase of its cycle — the trigger point for the Vote Tally
// engine.
func (s *Service) IsCycleResultBlock(height uint32) bool {
	first, ok := s.FirstBlockOf(models.PhaseResult, height)
	return ok && height == first
}

// IsCycleFirstBlock reports whether height is the first block of its
// cycle — the trigger point for the Parameter Change Applier and
// compensation issuance.
func (s *Service) IsCycleFirstBlock(height uint32) bool {
	c, ok := s.CycleOf(height)
	return ok && height == c.FirstBlock
}
