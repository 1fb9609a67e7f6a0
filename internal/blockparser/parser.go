// Package blockparser implements the block parser: it
// connects each inbound RawBlock to the chain, detects the genesis
// transaction, drives the Op-Return Decoder and Tx Output Classifier
// over every other tx via a forward-pass dependency fixed point, and
// emits the block-lifecycle events the rest of the engine reacts to.
package blockparser

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/bsq-network/dao-engine/internal/events"
	"github.com/bsq-network/dao-engine/internal/ledger"
	"github.com/bsq-network/dao-engine/internal/opreturn"
	"github.com/bsq-network/dao-engine/internal/period"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// ErrBlockNotConnecting and ErrDuplicateBlock are re-exported from
// internal/ledger: the Block Parser's own linkage pre-check and the
// ledger's AppendBlock enforce the same invariant, and callers should
// not need to know about both sentinel values.
var (
	ErrBlockNotConnecting = ledger.ErrBlockNotConnecting
	ErrDuplicateBlock     = ledger.ErrDuplicateBlock
)

// GenesisConfig pins the one-time genesis tx this deployment recognizes.
type GenesisConfig struct {
	TxID        string
	BlockHeight uint32
	TotalSupply uint64
}

// Progress is an immutable snapshot of parse progress.
type Progress struct {
	CurrentHeight uint32
	TotalParsed   uint64
	TotalGenesis  uint64
}

// Parser drives block parsing against a ledger, classifier, and period
// service, emitting lifecycle events on bus. DevMode governs the
// duplicate-block policy: fatal in development, logged-and-discarded in
// production.
type Parser struct {
	ledger     *ledger.State
	classifier *ledger.Classifier
	periods    *period.Service
	bus        *events.Bus
	genesis    GenesisConfig
	devMode    bool

	currentHeight atomic.Uint32
	totalParsed   atomic.Uint64
	totalGenesis  atomic.Uint64
}

// NewParser constructs a Parser. devMode selects the fatal-on-duplicate
// policy used during local development/testing; false is
// the production default.
func NewParser(state *ledger.State, classifier *ledger.Classifier, periods *period.Service, bus *events.Bus, genesis GenesisConfig, devMode bool) *Parser {
	return &Parser{ledger: state, classifier: classifier, periods: periods, bus: bus, genesis: genesis, devMode: devMode}
}

// Progress returns a snapshot of ingest progress so far.
func (p *Parser) Progress() Progress {
	return Progress{
		CurrentHeight: p.currentHeight.Load(),
		TotalParsed:   p.totalParsed.Load(),
		TotalGenesis:  p.totalGenesis.Load(),
	}
}

// ParseBlock runs the full parse algorithm against one raw block,
// mutating ledger state, the period service's cycle list, and firing
// events on bus. A linkage failure leaves all state untouched.
func (p *Parser) ParseBlock(raw models.RawBlock) error {
	tip, hasTip := p.ledger.Tip()

	if !hasTip {
		if raw.Height != p.genesis.BlockHeight {
			return fmt.Errorf("blockparser: first block height %d must equal configured genesis height %d",
				raw.Height, p.genesis.BlockHeight)
		}
	} else if raw.Height != tip.Height {
		if raw.PrevHash != tip.Hash || raw.Height != tip.Height+1 {
			return fmt.Errorf("%w: block %d does not connect to tip %d", ErrBlockNotConnecting, raw.Height, tip.Height)
		}
	}

	p.bus.NewBlockHeight(raw.Height)

	block := models.Block{Height: raw.Height, Time: raw.Time, Hash: raw.Hash, PrevHash: raw.PrevHash}

	if hasTip && raw.Height == tip.Height {
		if p.devMode {
			log.Fatalf("[BLOCKPARSER] fatal: duplicate block at height %d (dev mode)", raw.Height)
		}
		log.Printf("[BLOCKPARSER] duplicate block at height %d discarded", raw.Height)
		return fmt.Errorf("%w: height %d", ErrDuplicateBlock, raw.Height)
	}

	p.bus.EmptyBlockAdded(block)

	if err := p.periods.AdvanceTo(raw.Height); err != nil {
		return fmt.Errorf("blockparser: advancing period service to %d: %w", raw.Height, err)
	}

	block.Txs = p.parseTxs(raw)

	if err := p.ledger.AppendBlock(block); err != nil {
		return fmt.Errorf("blockparser: %w", err)
	}

	p.currentHeight.Store(raw.Height)
	p.totalParsed.Add(1)

	p.bus.ParseBlockComplete(block)
	if p.periods.PhaseChanged(raw.Height) {
		p.bus.PhaseChanged(p.periods.PhaseFor(raw.Height))
	}
	return nil
}

// parseTxs classifies every raw tx in the block: the genesis tx (if
// present at the configured height), then every other tx via the
// forward-pass dependency fixed point.
func (p *Parser) parseTxs(raw models.RawBlock) []models.Tx {
	inBlock := make(map[string]bool, len(raw.Transactions))
	for _, rt := range raw.Transactions {
		inBlock[rt.TxID] = true
	}

	resolved := make(map[string]models.Tx, len(raw.Transactions))
	order := make([]string, 0, len(raw.Transactions))

	isGenesisHeight := raw.Height == p.genesis.BlockHeight

	pending := make([]models.RawTx, 0, len(raw.Transactions))
	for _, rt := range raw.Transactions {
		if isGenesisHeight && rt.TxID == p.genesis.TxID {
			tx := p.classify(rt, raw.Height, inBlock, resolved, true)
			resolved[rt.TxID] = tx
			order = append(order, rt.TxID)
			p.totalGenesis.Add(1)
			continue
		}
		pending = append(pending, rt)
	}

	maxPasses := len(pending) + 1
	for pass := 0; pass < maxPasses && len(pending) > 0; pass++ {
		var stillPending []models.RawTx
		progressed := false
		for _, rt := range pending {
			if !p.inputsReady(rt, inBlock, resolved) {
				stillPending = append(stillPending, rt)
				continue
			}
			tx := p.classify(rt, raw.Height, inBlock, resolved, false)
			resolved[rt.TxID] = tx
			order = append(order, rt.TxID)
			progressed = true
		}
		pending = stillPending
		if !progressed {
			break
		}
	}

	// A tx that remains unresolved after the fixed point gets no colored
	// value from any input that references a tx in this block: its
	// dependency never arrived within this block's topological order, so
	// every referenced input resolves against ledger state alone (an
	// in-block reference is absent from the ledger and contributes
	// nothing). Inputs that reference txs outside this block still
	// resolve against the ledger and keep their colored value.
	for _, rt := range pending {
		tx := p.classify(rt, raw.Height, map[string]bool{}, resolved, false)
		resolved[rt.TxID] = tx
		order = append(order, rt.TxID)
	}

	out := make([]models.Tx, 0, len(order))
	for _, txID := range order {
		tx := resolved[txID]
		if tx.Type == models.TxUndefined {
			continue // not colored or governance-relevant; excluded from Block.Txs
		}
		out = append(out, tx)
	}
	return out
}

// inputsReady reports whether every input of rt is resolvable: either it
// references a tx outside this block (resolved against committed ledger
// state) or a tx inside this block that has already been classified.
func (p *Parser) inputsReady(rt models.RawTx, inBlock map[string]bool, resolved map[string]models.Tx) bool {
	for _, in := range rt.Inputs {
		if inBlock[in.PrevTxID] {
			if _, ok := resolved[in.PrevTxID]; !ok {
				return false
			}
		}
	}
	return true
}

// classify resolves rt's inputs against in-block results and committed
// ledger state, decodes its op-return output if present, and runs the
// Tx Output Classifier.
func (p *Parser) classify(rt models.RawTx, height uint32, inBlock map[string]bool, resolved map[string]models.Tx, isGenesis bool) models.Tx {
	inputs := make([]models.TxInput, len(rt.Inputs))
	for i, in := range rt.Inputs {
		if inBlock[in.PrevTxID] {
			if srcTx, ok := resolved[in.PrevTxID]; ok && int(in.PrevVout) < len(srcTx.Outputs) {
				out := srcTx.Outputs[in.PrevVout]
				inputs[i] = models.TxInput{
					PrevTxID:     in.PrevTxID,
					PrevVout:     in.PrevVout,
					ColoredValue: valueIfColored(out),
					Resolved:     out.IsColoredFamily(),
				}
				continue
			}
			inputs[i] = models.TxInput{PrevTxID: in.PrevTxID, PrevVout: in.PrevVout}
			continue
		}
		value, ok := p.ledger.ColoredInputValue(in.PrevTxID, in.PrevVout)
		inputs[i] = models.TxInput{PrevTxID: in.PrevTxID, PrevVout: in.PrevVout, ColoredValue: value, Resolved: ok}
	}

	opReturnIndex, intent, intentErr := findOpReturn(rt.Outputs)

	genesisSupply := uint64(0)
	if isGenesis {
		genesisSupply = p.genesis.TotalSupply
	}

	result := p.classifier.Classify(rt.TxID, inputs, rt.Outputs, opReturnIndex, intent, intentErr, isGenesis, genesisSupply)

	return models.Tx{
		TxID:        rt.TxID,
		BlockHeight: height,
		Type:        result.Type,
		Inputs:      inputs,
		Outputs:     result.Outputs,
		BurntFee:    result.BurntFee,
	}
}

func valueIfColored(out models.TxOutput) uint64 {
	if out.IsColoredFamily() {
		return out.Value
	}
	return 0
}

// findOpReturn locates the op-return output in a raw output list (the
// last one encountered, matching the trailing-output marker
// convention), decoding its pushed data. Returns (-1, zero Intent, nil)
// when no op-return output is present — that is not itself an error.
func findOpReturn(outs []models.RawTxOut) (int, opreturn.Intent, error) {
	idx := -1
	for i, o := range outs {
		if opreturn.IsOpReturnScript(o.ScriptPubKey) {
			idx = i
		}
	}
	if idx == -1 {
		return -1, opreturn.Intent{}, nil
	}

	pushed, err := opreturn.ExtractPushedData(outs[idx].ScriptPubKey)
	if err != nil {
		return idx, opreturn.Intent{}, err
	}
	intent, err := opreturn.Decode(pushed)
	if err != nil {
		return idx, opreturn.Intent{}, err
	}
	return idx, intent, nil
}

// IsFatalLinkageError reports whether err indicates a chain-linkage
// violation the caller should treat as unrecoverable rather than a
// transient delivery problem.
func IsFatalLinkageError(err error) bool {
	return errors.Is(err, ErrBlockNotConnecting)
}
