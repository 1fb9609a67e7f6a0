// Package ballotstore implements the ballot/blind-vote store:
// three tx-id-keyed collections — proposals, blind votes, and vote
// reveals — plus the single legitimately mutable field in the whole
// model, Ballot.Vote, gated by the current governance phase.
package ballotstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bsq-network/dao-engine/pkg/models"
)

// ErrPhaseLocked is returned by SetVote when the current height is
// outside the PROPOSAL phase of the ballot's cycle, or is the final
// block of that phase: a ballot is mutable only during the proposal phase.
var ErrPhaseLocked = errors.New("ballotstore: ballot vote is phase-locked")

// ErrUnknownProposal is returned by SetVote when referencing a proposal
// tx-id the store has never recorded.
var ErrUnknownProposal = errors.New("ballotstore: unknown proposal")

// ErrDuplicateReveal is returned by AddVoteReveal when a reveal at the
// same or a lower height already exists for the given blind-vote tx-id.
// First-by-height wins;
// subsequent reveals are rejected outright rather than silently
// ignored, so the caller can log the conflict.
var ErrDuplicateReveal = errors.New("ballotstore: blind vote already revealed")

// phaseChecker is the minimal surface ballotstore needs from
// internal/period, broken out as an interface to avoid a cyclic import
// (period has no dependency on ballotstore, but this keeps the
// dependency direction explicit and one-way).
type phaseChecker interface {
	IsInPhaseButNotLast(phase models.DaoPhase, height uint32) bool
	CycleOf(height uint32) (models.Cycle, bool)
}

// Store holds the three confirmed-tx-id-keyed collections for the
// currently tracked cycles.
type Store struct {
	mu         sync.RWMutex
	proposals  map[string]models.Proposal
	ballots    map[string]*models.Ballot // keyed by proposal tx-id
	blindVotes map[string]models.BlindVote
	reveals    map[string]models.VoteReveal // keyed by blind-vote tx-id

	phases phaseChecker
}

// New returns an empty Store. phases supplies the phase-gate used by
// SetVote; it is typically the engine's *period.Service.
func New(phases phaseChecker) *Store {
	return &Store{
		proposals:  make(map[string]models.Proposal),
		ballots:    make(map[string]*models.Ballot),
		blindVotes: make(map[string]models.BlindVote),
		reveals:    make(map[string]models.VoteReveal),
		phases:     phases,
	}
}

// AddProposal records a confirmed PROPOSAL/COMPENSATION_REQUEST tx and
// opens a ballot for it with Vote unset.
func (s *Store) AddProposal(p models.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.proposals[p.TxID] = p
	if _, exists := s.ballots[p.TxID]; !exists {
		s.ballots[p.TxID] = &models.Ballot{ProposalTxID: p.TxID, Vote: models.VoteUnset}
	}
}

// Proposal returns the recorded proposal for txID, if any.
func (s *Store) Proposal(txID string) (models.Proposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[txID]
	return p, ok
}

// ProposalsInCycle returns every proposal belonging to cycleIndex, sorted
// ascending by tx-id to match the deterministic tie-break ordering the
// vote tally engine requires.
func (s *Store) ProposalsInCycle(cycleIndex uint32) []models.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Proposal, 0)
	for _, p := range s.proposals {
		if p.CycleIndex == cycleIndex {
			out = append(out, p)
		}
	}
	sortProposalsByTxID(out)
	return out
}

// SetVote mutates a ballot's Vote field. This is the single mutator
// entry point for the only legitimately mutable state in the model
// in the model; it fails ErrPhaseLocked outside the PROPOSAL
// phase (or on the phase's final block) and ErrUnknownProposal if no
// ballot exists for proposalTxID.
func (s *Store) SetVote(proposalTxID string, vote models.Vote, atHeight uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ballot, ok := s.ballots[proposalTxID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, proposalTxID)
	}
	if !s.phases.IsInPhaseButNotLast(models.PhaseProposal, atHeight) {
		return fmt.Errorf("%w: proposal %s at height %d", ErrPhaseLocked, proposalTxID, atHeight)
	}
	ballot.Vote = vote
	return nil
}

// Ballot returns a copy of the ballot for proposalTxID, if any.
func (s *Store) Ballot(proposalTxID string) (models.Ballot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.ballots[proposalTxID]
	if !ok {
		return models.Ballot{}, false
	}
	return *b, true
}

// AddBlindVote records a confirmed BLIND_VOTE tx.
func (s *Store) AddBlindVote(bv models.BlindVote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blindVotes[bv.TxID] = bv
}

// BlindVotesInCycle returns every blind vote belonging to cycleIndex,
// sorted ascending by vote tx-id, the tally tie-break ordering.
func (s *Store) BlindVotesInCycle(cycleIndex uint32) []models.BlindVote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.BlindVote, 0)
	for _, bv := range s.blindVotes {
		if bv.CycleIndex == cycleIndex {
			out = append(out, bv)
		}
	}
	sortBlindVotesByTxID(out)
	return out
}

// AddVoteReveal records a confirmed VOTE_REVEAL tx, rejecting a second
// reveal for the same blind-vote tx-id (first-by-height wins, per spec
// §9 Open Question (a)).
func (s *Store) AddVoteReveal(r models.VoteReveal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.reveals[r.BlindVoteTxID]; ok {
		if existing.BlockHeight <= r.BlockHeight {
			return fmt.Errorf("%w: blind vote %s already revealed at height %d",
				ErrDuplicateReveal, r.BlindVoteTxID, existing.BlockHeight)
		}
		// A later-arriving but earlier-height reveal still wins; replace.
	}
	s.reveals[r.BlindVoteTxID] = r
	return nil
}

// RevealFor returns the recorded reveal for a blind-vote tx-id, if any.
func (s *Store) RevealFor(blindVoteTxID string) (models.VoteReveal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reveals[blindVoteTxID]
	return r, ok
}

// BallotsValidAndConfirmed returns ballots whose proposal tx exists and
// belongs to the currently active cycle at atHeight. Syntactic
// validation of the proposal payload itself happens at submission time;
// this query only applies the cycle-membership half of validity.
func (s *Store) BallotsValidAndConfirmed(atHeight uint32) []models.Ballot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, ok := s.phases.CycleOf(atHeight)
	if !ok {
		return nil
	}

	out := make([]models.Ballot, 0)
	for txID, ballot := range s.ballots {
		p, ok := s.proposals[txID]
		if ok && p.CycleIndex == current.Index {
			out = append(out, *ballot)
		}
	}
	return out
}

// BallotsClosed returns ballots whose proposal tx belongs to a past
// cycle.
func (s *Store) BallotsClosed(atHeight uint32) []models.Ballot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, ok := s.phases.CycleOf(atHeight)
	if !ok {
		return nil
	}

	out := make([]models.Ballot, 0)
	for txID, ballot := range s.ballots {
		p, ok := s.proposals[txID]
		if ok && p.CycleIndex < current.Index {
			out = append(out, *ballot)
		}
	}
	return out
}

func sortProposalsByTxID(ps []models.Proposal) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].TxID < ps[j].TxID })
}

func sortBlindVotesByTxID(bvs []models.BlindVote) {
	sort.Slice(bvs, func(i, j int) bool { return bvs[i].TxID < bvs[j].TxID })
}
