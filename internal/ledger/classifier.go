// Package ledger implements the tx output classifier and the colored
// ledger state that tracks the resulting UTXO set across the chain.
package ledger

import (
	"github.com/bsq-network/dao-engine/internal/opreturn"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// Classifier walks a transaction's outputs in index order, classifying
// each one against a running available colored input value.
type Classifier struct {
	// LockupReferences maps a lockup tx-id to the value locked at its
	// output index 0, consulted when validating an UNLOCK output.
	LockupReferences map[string]uint64
}

// NewClassifier returns a classifier with an empty lockup reference set.
func NewClassifier() *Classifier {
	return &Classifier{LockupReferences: make(map[string]uint64)}
}

// ClassifyResult is the outcome of classifying one transaction's outputs.
type ClassifyResult struct {
	Outputs  []models.TxOutput
	Type     models.TxType
	BurntFee uint64
}

// Classify runs the full output walk and derives the transaction's
// TxType from the resulting output sequence.
//
// opReturnIndex is the index of the trailing op-return output, or -1 if
// none is present. intent is the already-decoded op-return result for
// that output (zero value if decoding failed or there is no op-return
// output). intentErr reports a failed decode of a present marker, which
// downgrades the tx to IRREGULAR; it is ignored when opReturnIndex is
// -1.
func (c *Classifier) Classify(
	txID string,
	inputs []models.TxInput,
	rawOutputs []models.RawTxOut,
	opReturnIndex int,
	intent opreturn.Intent,
	intentErr error,
	isGenesisTx bool,
	genesisSupply uint64,
) ClassifyResult {
	available := sumColoredInputs(inputs)
	if isGenesisTx {
		// The genesis transaction has no colored input to inherit from;
		// its available colored value is seeded from the configured total
		// supply instead.
		available = genesisSupply
	}
	startingAvailable := available

	outputs := make([]models.TxOutput, len(rawOutputs))
	latched := false
	markerPresent := opReturnIndex >= 0
	hasIntent := intentErr == nil && markerPresent

	var firstColoredOK bool
	anyColoredOutput := false

	for i, raw := range rawOutputs {
		out := models.TxOutput{TxID: txID, Index: uint32(i), Value: raw.Value}

		switch {
		case i == opReturnIndex && hasIntent:
			out.Type = opReturnOutputType(intent.Tag)
			// No value deducted for the marker output itself.

		case !latched && available >= raw.Value:
			if isGenesisTx {
				out.Type = models.OutputGenesis
			} else {
				out.Type = coloredSubtype(hasIntent, intent, i, c.LockupReferences)
			}
			available -= raw.Value
			anyColoredOutput = true
			if i == 0 {
				firstColoredOK = true
			}

		default:
			// Under-funded: latch rule — this and every later output become
			// BTC_OUT, even if a later output's value alone would have fit.
			out.Type = models.OutputBTC
			latched = true
			available = 0
		}

		outputs[i] = out
	}

	txType := deriveTxType(startingAvailable, available, anyColoredOutput, firstColoredOK, hasIntent, markerPresent, intentErr, intent, isGenesisTx)

	return ClassifyResult{
		Outputs:  outputs,
		Type:     txType,
		BurntFee: available,
	}
}

func sumColoredInputs(inputs []models.TxInput) uint64 {
	var sum uint64
	for _, in := range inputs {
		if in.Resolved {
			sum += in.ColoredValue
		}
	}
	return sum
}

func opReturnOutputType(tag byte) models.OutputType {
	switch tag {
	case opreturn.TagProposal:
		return models.OutputProposalOpReturn
	case opreturn.TagCompensationRequest:
		return models.OutputCompRequestOpReturn
	case opreturn.TagBlindVote:
		return models.OutputBlindVoteOpReturn
	case opreturn.TagVoteReveal:
		return models.OutputVoteRevealOpReturn
	default:
		return models.OutputOpReturnOther
	}
}

// coloredSubtype determines the subtype of a funded, non-op-return
// output.
func coloredSubtype(hasIntent bool, intent opreturn.Intent, index int, lockupRefs map[string]uint64) models.OutputType {
	if !hasIntent {
		return models.OutputColored
	}
	switch intent.Tag {
	case opreturn.TagLockup:
		if index == 0 {
			return models.OutputLockup
		}
	case opreturn.TagUnlock:
		lockupTxID := hashToHexLockupRef(intent.LockupTxID)
		if _, ok := lockupRefs[lockupTxID]; ok {
			return models.OutputUnlock
		}
	}
	return models.OutputColored
}

// hashToHexLockupRef is a tiny local helper kept separate from any hex
// package dependency; lockup tx-id lookups use the raw 32 bytes directly
// in production callers, this hex form exists only for the reference map
// key used by the Classifier's own LockupReferences field.
func hashToHexLockupRef(h [32]byte) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 64)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// deriveTxType implements the final classification rule set, turning an
// output sequence plus marker state into a single TxType.
func deriveTxType(
	startingAvailable uint64,
	remainingAvailable uint64,
	anyColoredOutput bool,
	firstColoredOK bool,
	hasIntent bool,
	markerPresent bool,
	intentErr error,
	intent opreturn.Intent,
	isGenesisTx bool,
) models.TxType {
	if isGenesisTx {
		return models.TxGenesis
	}

	if startingAvailable == 0 {
		// No colored input at all: only valid as TRANSFER_COLORED for the
		// genesis tx (handled above); otherwise irregular/undefined.
		return models.TxUndefined
	}

	if markerPresent && intentErr != nil {
		// A failing decode of a present op-return marker downgrades the tx
		// to IRREGULAR. A tx with no marker at all is a plain transfer,
		// whatever error value the caller used to signal its absence.
		return models.TxIrregular
	}

	if hasIntent {
		if !anyColoredOutput {
			// Intent present but no required colored output validated.
			return models.TxIrregular
		}
		switch intent.Tag {
		case opreturn.TagProposal:
			return models.TxProposal
		case opreturn.TagCompensationRequest:
			return models.TxCompensationRequest
		case opreturn.TagBlindVote:
			return models.TxBlindVote
		case opreturn.TagVoteReveal:
			return models.TxVoteReveal
		case opreturn.TagLockup:
			if !firstColoredOK {
				return models.TxIrregular
			}
			return models.TxLockup
		case opreturn.TagUnlock:
			return models.TxUnlock
		case opreturn.TagAssetRemoval:
			return models.TxAssetRemoval
		default:
			return models.TxIrregular
		}
	}

	if !anyColoredOutput {
		return models.TxUndefined
	}

	// Intent absent and burnt fee > 0 → PAY_TRADE_FEE.
	if remainingAvailable > 0 {
		return models.TxPayTradeFee
	}

	return models.TxTransferColored
}
