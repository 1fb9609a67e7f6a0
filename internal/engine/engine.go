// Package engine ties the governance subsystems together: it drives the
// block parser over inbound raw blocks, records confirmed governance
// transactions into the ballot store, triggers the vote tally at each
// cycle's result block, and applies accepted outcomes (parameter
// overrides, compensation issuance) at the following cycle boundary.
//
// Block-driven mutation happens on the single goroutine calling
// HandleBlock. Proposal drafts and blind-vote payloads submitted from
// outside only stage data under a mutex, consumed when the matching tx
// confirms; SetBallotVote writes a ballot vote to the ballot store at
// once, under the store's own lock.
package engine

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/bsq-network/dao-engine/internal/ballotstore"
	"github.com/bsq-network/dao-engine/internal/blockparser"
	"github.com/bsq-network/dao-engine/internal/events"
	"github.com/bsq-network/dao-engine/internal/ledger"
	"github.com/bsq-network/dao-engine/internal/opreturn"
	"github.com/bsq-network/dao-engine/internal/paramapplier"
	"github.com/bsq-network/dao-engine/internal/paramstore"
	"github.com/bsq-network/dao-engine/internal/period"
	"github.com/bsq-network/dao-engine/internal/tally"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// ValidationError is returned to a submitting client when a proposal or
// ballot fails admission checks. It never mutates state.
type ValidationError struct {
	Reason  string
	Context string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("engine: validation failed: %s (%s)", e.Reason, e.Context)
}

// Config carries the deployment constants the engine is pinned to.
type Config struct {
	Genesis blockparser.GenesisConfig
	DevMode bool
}

// blindPayload is the off-chain half of a blind vote, submitted by the
// voting client and joined with the on-chain commitment at confirmation.
type blindPayload struct {
	encryptedBallots   []byte
	encryptedMeritList []byte
}

// Engine owns the full governance state machine.
type Engine struct {
	cfg        Config
	registry   *paramstore.Registry
	ledger     *ledger.State
	periods    *period.Service
	ballots    *ballotstore.Store
	classifier *ledger.Classifier
	parser     *blockparser.Parser
	tally      *tally.Engine
	applier    *paramapplier.Applier
	bus        *events.Bus

	mu              sync.Mutex
	commitments     map[string][20]byte       // blind-vote tx-id -> op-return commitment
	proposalDrafts  map[string]models.Proposal // tx-id -> submitted metadata awaiting confirmation
	blindDrafts     map[string]blindPayload
	pendingIssuance []models.Proposal
}

// New builds the full subsystem graph around a shared registry and bus.
func New(cfg Config, registry *paramstore.Registry, bus *events.Bus) *Engine {
	state := ledger.NewState()
	classifier := ledger.NewClassifier()
	periods := period.NewService(registry, cfg.Genesis.BlockHeight)
	ballots := ballotstore.New(periods)
	parser := blockparser.NewParser(state, classifier, periods, bus, cfg.Genesis, cfg.DevMode)

	e := &Engine{
		cfg:            cfg,
		registry:       registry,
		ledger:         state,
		periods:        periods,
		ballots:        ballots,
		classifier:     classifier,
		parser:         parser,
		applier:        paramapplier.NewApplier(registry, ballots),
		bus:            bus,
		commitments:    make(map[string][20]byte),
		proposalDrafts: make(map[string]models.Proposal),
		blindDrafts:    make(map[string]blindPayload),
	}
	e.tally = tally.NewEngine(ballots, registry, e.CommitmentOf)
	return e
}

// Accessors for read-only collaborators (API handlers, shadow replayer).

func (e *Engine) Ledger() *ledger.State         { return e.ledger }
func (e *Engine) Periods() *period.Service      { return e.periods }
func (e *Engine) Registry() *paramstore.Registry { return e.registry }
func (e *Engine) Ballots() *ballotstore.Store   { return e.ballots }
func (e *Engine) Tally() *tally.Engine          { return e.tally }
func (e *Engine) Progress() blockparser.Progress { return e.parser.Progress() }

// GenesisSupply reports the configured total token supply.
func (e *Engine) GenesisSupply() uint64 { return e.cfg.Genesis.TotalSupply }

// CommitmentOf resolves a blind-vote tx-id to the commitment recorded in
// its op-return payload at confirmation time.
func (e *Engine) CommitmentOf(blindVoteTxID string) ([20]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.commitments[blindVoteTxID]
	return c, ok
}

// HandleBlock processes one raw block end to end. It is the single
// writer; callers must deliver blocks in strict height order.
func (e *Engine) HandleBlock(raw models.RawBlock) error {
	// A block that begins a new cycle applies the previous cycle's
	// accepted parameter changes and compensation issuance first, before
	// the new cycle's phase durations are snapshotted from the registry.
	if prev, ok := e.periods.CycleOf(raw.Height - 1); ok && raw.Height > prev.LastBlock() {
		e.applier.ApplyAt(raw.Height)
		e.applyIssuance()
	}

	if err := e.parser.ParseBlock(raw); err != nil {
		return err
	}

	block, ok := e.ledger.BlockAt(raw.Height)
	if !ok {
		return fmt.Errorf("engine: block %d missing after parse", raw.Height)
	}

	rawByID := make(map[string]models.RawTx, len(raw.Transactions))
	for _, rt := range raw.Transactions {
		rawByID[rt.TxID] = rt
	}
	for _, tx := range block.Txs {
		e.recordGovernanceTx(tx, rawByID[tx.TxID])
	}

	if e.periods.IsCycleResultBlock(raw.Height) {
		cycle, _ := e.periods.CycleOf(raw.Height)
		result, err := e.tally.Tally(cycle.Index, raw.Height)
		if err != nil {
			return fmt.Errorf("engine: tallying cycle %d: %w", cycle.Index, err)
		}
		e.applier.OnCycleComplete(result)
		e.queueIssuance(result)
		e.bus.CycleComplete(result)
	}
	return nil
}

// recordGovernanceTx routes a confirmed governance tx into the ballot
// store, the commitment map, or the lockup reference set.
func (e *Engine) recordGovernanceTx(tx models.Tx, raw models.RawTx) {
	intent, hasIntent := e.decodeIntent(raw)
	phase := e.periods.PhaseFor(tx.BlockHeight)
	cycle, haveCycle := e.periods.CycleOf(tx.BlockHeight)
	if !haveCycle {
		return
	}

	switch tx.Type {
	case models.TxProposal, models.TxCompensationRequest:
		if phase != models.PhaseProposal {
			log.Printf("[ENGINE] proposal tx %s confirmed outside PROPOSAL phase (%v), ignored", tx.TxID, phase)
			return
		}
		p := e.takeProposalDraft(tx.TxID)
		p.TxID = tx.TxID
		p.CycleIndex = cycle.Index
		if tx.Type == models.TxCompensationRequest {
			p.Type = models.ProposalCompensation
		}
		e.ballots.AddProposal(p)

	case models.TxBlindVote:
		if phase != models.PhaseBlindVote {
			log.Printf("[ENGINE] blind-vote tx %s confirmed outside BLIND_VOTE phase (%v), ignored", tx.TxID, phase)
			return
		}
		if !hasIntent {
			return
		}
		payload := e.takeBlindDraft(tx.TxID)
		e.mu.Lock()
		e.commitments[tx.TxID] = intent.Hash
		e.mu.Unlock()
		e.ballots.AddBlindVote(models.BlindVote{
			TxID:               tx.TxID,
			CycleIndex:         cycle.Index,
			Stake:              stakeOutputValue(tx),
			EncryptedBallots:   payload.encryptedBallots,
			EncryptedMeritList: payload.encryptedMeritList,
			Commitment:         intent.Hash,
		})

	case models.TxVoteReveal:
		if phase != models.PhaseVoteReveal {
			log.Printf("[ENGINE] vote-reveal tx %s confirmed outside VOTE_REVEAL phase (%v), ignored", tx.TxID, phase)
			return
		}
		if !hasIntent {
			return
		}
		blindVoteTxID, ok := e.revealTarget(tx)
		if !ok {
			log.Printf("[ENGINE] vote-reveal tx %s does not spend any known blind-vote output, ignored", tx.TxID)
			return
		}
		bvCycle, ok := e.blindVoteCycle(blindVoteTxID, cycle.Index)
		if !ok || bvCycle != cycle.Index {
			log.Printf("[ENGINE] vote-reveal tx %s targets blind vote %s from cycle %d, not current cycle %d, ignored",
				tx.TxID, blindVoteTxID, bvCycle, cycle.Index)
			return
		}
		if err := e.ballots.AddVoteReveal(models.VoteReveal{
			TxID:          tx.TxID,
			BlindVoteTxID: blindVoteTxID,
			Key:           intent.Key,
			MeritListHash: intent.Hash,
			BlockHeight:   tx.BlockHeight,
		}); err != nil {
			log.Printf("[ENGINE] %v", err)
		}

	case models.TxLockup:
		if !hasIntent {
			return
		}
		if !e.lockTimeInBounds(intent.LockTime, tx.BlockHeight) {
			log.Printf("[ENGINE] lockup tx %s has out-of-bounds locktime %d, not registered", tx.TxID, intent.LockTime)
			return
		}
		if len(tx.Outputs) > 0 && tx.Outputs[0].Type == models.OutputLockup {
			e.classifier.LockupReferences[tx.TxID] = tx.Outputs[0].Value
		}

	case models.TxUnlock:
		if hasIntent {
			delete(e.classifier.LockupReferences, strings.ToLower(hex.EncodeToString(intent.LockupTxID[:])))
		}
	}
}

// decodeIntent re-extracts the op-return payload from the raw tx. The
// classified Tx only carries output types, not payload bytes, and the
// commitment/key/locktime fields live in the payload.
func (e *Engine) decodeIntent(raw models.RawTx) (opreturn.Intent, bool) {
	for i := len(raw.Outputs) - 1; i >= 0; i-- {
		if !opreturn.IsOpReturnScript(raw.Outputs[i].ScriptPubKey) {
			continue
		}
		pushed, err := opreturn.ExtractPushedData(raw.Outputs[i].ScriptPubKey)
		if err != nil {
			return opreturn.Intent{}, false
		}
		intent, err := opreturn.Decode(pushed)
		if err != nil {
			return opreturn.Intent{}, false
		}
		return intent, true
	}
	return opreturn.Intent{}, false
}

// revealTarget finds the blind vote whose stake output this reveal tx
// spends.
func (e *Engine) revealTarget(tx models.Tx) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, in := range tx.Inputs {
		if _, ok := e.commitments[in.PrevTxID]; ok {
			return in.PrevTxID, true
		}
	}
	return "", false
}

func (e *Engine) blindVoteCycle(blindVoteTxID string, fallback uint32) (uint32, bool) {
	for _, bv := range e.ballots.BlindVotesInCycle(fallback) {
		if bv.TxID == blindVoteTxID {
			return bv.CycleIndex, true
		}
	}
	// Not in the current cycle: scan confirmation height instead.
	h, ok := e.ledger.TxHeight(blindVoteTxID)
	if !ok {
		return 0, false
	}
	c, ok := e.periods.CycleOf(h)
	if !ok {
		return 0, false
	}
	return c.Index, true
}

func (e *Engine) lockTimeInBounds(lockTime uint32, atHeight uint32) bool {
	min, err := e.registry.Value(models.ParamLockTimeMin, atHeight)
	if err != nil {
		return false
	}
	max, err := e.registry.Value(models.ParamLockTimeMax, atHeight)
	if err != nil {
		return false
	}
	if min < 1 {
		min = 1
	}
	return int64(lockTime) >= min && int64(lockTime) <= max
}

// stakeOutputValue returns the first colored output's value: the
// convention binding a blind vote's stake to its output index 0.
func stakeOutputValue(tx models.Tx) uint64 {
	for _, out := range tx.Outputs {
		if out.IsColoredFamily() {
			return out.Value
		}
	}
	return 0
}

// queueIssuance stages every accepted compensation proposal in result
// for issuance at the next cycle's first block.
func (e *Engine) queueIssuance(result models.CycleResult) {
	for _, r := range result.Results {
		if r.Outcome != models.OutcomeAccepted {
			continue
		}
		p, ok := e.ballots.Proposal(r.ProposalTxID)
		if !ok || p.Type != models.ProposalCompensation {
			continue
		}
		e.mu.Lock()
		e.pendingIssuance = append(e.pendingIssuance, p)
		e.mu.Unlock()
	}
}

// applyIssuance credits every queued compensation request: the payout
// output of the request tx enters the colored set as ISSUANCE.
func (e *Engine) applyIssuance() {
	e.mu.Lock()
	pending := e.pendingIssuance
	e.pendingIssuance = nil
	e.mu.Unlock()

	for _, p := range pending {
		idx := e.issuanceOutputIndex(p.TxID)
		e.ledger.MarkIssuance(p.TxID, idx, p.RequestedValue, p.IssuanceAddr)
		log.Printf("[ENGINE] issued %d to %s for compensation request %s", p.RequestedValue, p.IssuanceAddr, p.TxID)
	}
}

// issuanceOutputIndex picks the request tx's payout output: the first
// output that is neither colored nor the op-return marker. Falls back to
// index 1 when the tx is unknown or fully colored.
func (e *Engine) issuanceOutputIndex(txID string) uint32 {
	h, ok := e.ledger.TxHeight(txID)
	if !ok {
		return 1
	}
	block, ok := e.ledger.BlockAt(h)
	if !ok {
		return 1
	}
	for _, tx := range block.Txs {
		if tx.TxID != txID {
			continue
		}
		for _, out := range tx.Outputs {
			if out.Type == models.OutputBTC {
				return out.Index
			}
		}
	}
	return 1
}

// SubmitProposal stages proposal metadata for the tx the proposer is
// about to broadcast; it is joined with the on-chain tx at confirmation.
func (e *Engine) SubmitProposal(p models.Proposal) error {
	if err := e.validateProposal(p); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proposalDrafts[p.TxID] = p
	return nil
}

// SubmitBlindVotePayload stages the encrypted ballot and merit lists for
// a blind-vote tx the voter is about to broadcast.
func (e *Engine) SubmitBlindVotePayload(txID string, encryptedBallots, encryptedMeritList []byte) error {
	if txID == "" {
		return &ValidationError{Reason: "missing txid", Context: "blind vote payload"}
	}
	if len(encryptedBallots) == 0 {
		return &ValidationError{Reason: "missing encrypted ballot list", Context: "blind vote " + txID}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blindDrafts[txID] = blindPayload{encryptedBallots: encryptedBallots, encryptedMeritList: encryptedMeritList}
	return nil
}

// SetBallotVote mutates the voter-local ballot for a proposal at the
// current chain height. Phase gating happens inside the ballot store.
func (e *Engine) SetBallotVote(proposalTxID string, vote models.Vote) error {
	return e.ballots.SetVote(proposalTxID, vote, e.ledger.Height())
}

func (e *Engine) validateProposal(p models.Proposal) error {
	if p.TxID == "" {
		return &ValidationError{Reason: "missing txid", Context: "proposal"}
	}
	if p.Name == "" || p.Title == "" {
		return &ValidationError{Reason: "name and title are required", Context: "proposal " + p.TxID}
	}
	if p.Link != "" && !strings.HasPrefix(p.Link, "http://") && !strings.HasPrefix(p.Link, "https://") {
		return &ValidationError{Reason: "link must be an http(s) URL", Context: "proposal " + p.TxID}
	}
	switch p.Type {
	case models.ProposalChangeParam:
		if _, err := e.registry.Value(p.ChangeParamID, e.ledger.Height()); err != nil {
			return &ValidationError{Reason: "unknown parameter " + string(p.ChangeParamID), Context: "proposal " + p.TxID}
		}
	case models.ProposalCompensation:
		if p.RequestedValue == 0 {
			return &ValidationError{Reason: "requested value must be positive", Context: "proposal " + p.TxID}
		}
		if p.IssuanceAddr == "" {
			return &ValidationError{Reason: "issuance address is required", Context: "proposal " + p.TxID}
		}
	case models.ProposalBurnBond, models.ProposalRemoveAsset:
		if p.TargetHash == "" {
			return &ValidationError{Reason: "target hash is required", Context: "proposal " + p.TxID}
		}
	}
	return nil
}

func (e *Engine) takeProposalDraft(txID string) models.Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.proposalDrafts[txID]; ok {
		delete(e.proposalDrafts, txID)
		return p
	}
	// No off-chain metadata arrived before confirmation; track the tx
	// anyway so the on-chain record is complete.
	return models.Proposal{TxID: txID, Type: models.ProposalGeneric}
}

func (e *Engine) takeBlindDraft(txID string) blindPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.blindDrafts[txID]
	delete(e.blindDrafts, txID)
	return p
}
