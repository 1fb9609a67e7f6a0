package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bsq-network/dao-engine/pkg/models"
)

// ErrBlockNotConnecting is returned by AppendBlock when the candidate
// block's PrevHash does not match the hash of the current tip.
var ErrBlockNotConnecting = errors.New("ledger: block does not connect to current tip")

// ErrDuplicateBlock is returned by AppendBlock when a block at the same
// height as the current tip is appended again.
var ErrDuplicateBlock = errors.New("ledger: duplicate block height")

// ErrUnknownOutput names a reference to an output this state has never
// seen. No State method returns it: ColoredInputValue reports such a
// reference as unresolved instead.
var ErrUnknownOutput = errors.New("ledger: referenced output not found")

// State holds the height-ordered chain of parsed blocks and the live
// colored UTXO set they produce. All state mutation happens through
// AppendBlock; there is no unspend operation, matching the single
// forward-only ingest model the rest of the engine assumes.
type State struct {
	mu sync.RWMutex

	blocks   []models.Block
	byHeight map[uint32]int // height -> index into blocks
	byTxID   map[string]uint32

	utxos map[models.TxOutputKey]models.TxOutput
}

// NewState returns an empty ledger state with no blocks appended.
func NewState() *State {
	return &State{
		byHeight: make(map[uint32]int),
		byTxID:   make(map[string]uint32),
		utxos:    make(map[models.TxOutputKey]models.TxOutput),
	}
}

// Tip returns the most recently appended block and true, or the zero
// value and false if the state is empty.
func (s *State) Tip() (models.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.blocks) == 0 {
		return models.Block{}, false
	}
	return s.blocks[len(s.blocks)-1], true
}

// Height reports the current chain height, or 0 if empty.
func (s *State) Height() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.blocks) == 0 {
		return 0
	}
	return s.blocks[len(s.blocks)-1].Height
}

// BlockAt returns the block at the given height, if present.
func (s *State) BlockAt(height uint32) (models.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byHeight[height]
	if !ok {
		return models.Block{}, false
	}
	return s.blocks[idx], true
}

// Output returns the current view of a tracked output, including
// whether it has been spent.
func (s *State) Output(key models.TxOutputKey) (models.TxOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.utxos[key]
	return out, ok
}

// ColoredInputValue resolves a spend's colored value by looking up the
// referenced output in the tracked UTXO set. An unresolved reference
// (output never seen, or not a colored-family output) contributes zero,
// matching the Tx Output Classifier's treatment of unresolved inputs.
func (s *State) ColoredInputValue(prevTxID string, prevVout uint32) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.utxos[models.TxOutputKey{TxID: prevTxID, Index: prevVout}]
	if !ok || !out.IsColoredFamily() {
		return 0, false
	}
	return out.Value, true
}

// AppendBlock adds a fully parsed block to the chain, records its
// outputs into the UTXO set, and marks every output its transactions
// spend. Blocks must be appended in strict height order and must
// connect to the current tip by hash; height is NOT permitted to stay
// the same as the tip (ErrDuplicateBlock) and PrevHash must equal the
// tip's hash for any non-genesis append (ErrBlockNotConnecting).
func (s *State) AppendBlock(block models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.blocks) > 0 {
		tip := s.blocks[len(s.blocks)-1]
		if block.Height == tip.Height {
			return fmt.Errorf("%w: height %d", ErrDuplicateBlock, block.Height)
		}
		if block.PrevHash != tip.Hash {
			return fmt.Errorf("%w: block %d prevHash does not match tip %d hash",
				ErrBlockNotConnecting, block.Height, tip.Height)
		}
	}

	for _, tx := range block.Txs {
		for _, in := range tx.Inputs {
			key := models.TxOutputKey{TxID: in.PrevTxID, Index: in.PrevVout}
			if spent, ok := s.utxos[key]; ok {
				spent.Spent = true
				s.utxos[key] = spent
			}
		}
		for _, out := range tx.Outputs {
			s.utxos[out.Key()] = out
		}
		s.byTxID[tx.TxID] = block.Height
	}

	s.byHeight[block.Height] = len(s.blocks)
	s.blocks = append(s.blocks, block)
	return nil
}

// MarkIssuance credits an accepted compensation request: the request
// tx's payout output becomes a spendable ISSUANCE output worth value,
// entering the colored set. Issuance happens at the first block of the
// cycle after the request was accepted, long after the request tx itself
// was appended, so this is the one mutation that touches an output
// retroactively.
func (s *State) MarkIssuance(txID string, index uint32, value uint64, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.TxOutputKey{TxID: txID, Index: index}
	out, ok := s.utxos[key]
	if !ok {
		out = models.TxOutput{TxID: txID, Index: index}
	}
	out.Value = value
	out.Address = address
	out.Type = models.OutputIssuance
	out.Spent = false
	s.utxos[key] = out
}

// TxHeight returns the height at which txID was confirmed, if known.
func (s *State) TxHeight(txID string) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.byTxID[txID]
	return h, ok
}
