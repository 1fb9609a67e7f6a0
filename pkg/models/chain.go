// Package models holds the plain data types shared across the DAO engine:
// raw chain data as delivered by the block source, and the parsed,
// color-aware view the rest of the engine operates on.
package models

// RawTxIn is an unresolved transaction input as delivered by the block
// source: a reference to a previous tx-id + output index.
type RawTxIn struct {
	PrevTxID string `json:"prevTxid"`
	PrevVout uint32 `json:"prevVout"`
}

// RawTxOut is an unclassified transaction output: a value in base units
// and the raw locking script bytes.
type RawTxOut struct {
	Value        uint64 `json:"value"`
	ScriptPubKey []byte `json:"scriptPubKey"`
}

// RawTx is a transaction exactly as delivered by the block source, prior
// to any color classification.
type RawTx struct {
	TxID    string     `json:"txid"`
	Inputs  []RawTxIn  `json:"inputs"`
	Outputs []RawTxOut `json:"outputs"`
}

// RawBlock is a block exactly as delivered by the block source.
type RawBlock struct {
	Height       uint32   `json:"height"`
	Time         uint64   `json:"time"` // unix seconds
	Hash         [32]byte `json:"hash"`
	PrevHash     [32]byte `json:"prevHash"`
	Transactions []RawTx  `json:"transactions"`
}

// OutputType classifies a single TxOutput.
type OutputType int

const (
	OutputUndefined OutputType = iota
	OutputGenesis
	OutputColored
	OutputBTC
	OutputProposalOpReturn
	OutputCompRequestOpReturn
	OutputBlindVoteOpReturn
	OutputVoteRevealOpReturn
	OutputIssuance
	OutputLockup
	OutputUnlock
	OutputOpReturnOther
)

func (t OutputType) String() string {
	switch t {
	case OutputUndefined:
		return "UNDEFINED"
	case OutputGenesis:
		return "GENESIS"
	case OutputColored:
		return "COLORED"
	case OutputBTC:
		return "BTC_OUT"
	case OutputProposalOpReturn:
		return "PROPOSAL_OP_RETURN"
	case OutputCompRequestOpReturn:
		return "COMP_REQUEST_OP_RETURN"
	case OutputBlindVoteOpReturn:
		return "BLIND_VOTE_OP_RETURN"
	case OutputVoteRevealOpReturn:
		return "VOTE_REVEAL_OP_RETURN"
	case OutputIssuance:
		return "ISSUANCE"
	case OutputLockup:
		return "LOCKUP"
	case OutputUnlock:
		return "UNLOCK"
	case OutputOpReturnOther:
		return "OP_RETURN_OTHER"
	default:
		return "UNKNOWN"
	}
}

// TxType classifies an entire transaction, derived strictly from the
// sequence of its output classifications.
type TxType int

const (
	TxUndefined TxType = iota
	TxTransferColored
	TxPayTradeFee
	TxProposal
	TxCompensationRequest
	TxBlindVote
	TxVoteReveal
	TxLockup
	TxUnlock
	TxGenesis
	TxAssetRemoval
	TxIrregular
)

func (t TxType) String() string {
	switch t {
	case TxUndefined:
		return "UNDEFINED"
	case TxTransferColored:
		return "TRANSFER_COLORED"
	case TxPayTradeFee:
		return "PAY_TRADE_FEE"
	case TxProposal:
		return "PROPOSAL"
	case TxCompensationRequest:
		return "COMPENSATION_REQUEST"
	case TxBlindVote:
		return "BLIND_VOTE"
	case TxVoteReveal:
		return "VOTE_REVEAL"
	case TxLockup:
		return "LOCKUP"
	case TxUnlock:
		return "UNLOCK"
	case TxGenesis:
		return "GENESIS"
	case TxAssetRemoval:
		return "ASSET_REMOVAL"
	case TxIrregular:
		return "IRREGULAR"
	default:
		return "UNKNOWN"
	}
}

// TxOutputKey identifies a TxOutput by its owning tx-id and index, the
// ordering key for the persistent snapshot layout.
type TxOutputKey struct {
	TxID  string
	Index uint32
}

// TxOutput is the color-classified view of a single transaction output.
type TxOutput struct {
	TxID    string     `json:"txid"`
	Index   uint32     `json:"index"`
	Value   uint64     `json:"value"`
	Address string     `json:"address"`
	Type    OutputType `json:"type"`
	Spent   bool       `json:"spent"`
}

func (o TxOutput) Key() TxOutputKey {
	return TxOutputKey{TxID: o.TxID, Index: o.Index}
}

// IsColoredFamily reports whether this output type participates in the
// colored-value accounting (i.e. is not plain BTC_OUT or undefined).
func (o TxOutput) IsColoredFamily() bool {
	switch o.Type {
	case OutputGenesis, OutputColored, OutputIssuance, OutputLockup, OutputUnlock:
		return true
	default:
		return false
	}
}

// TxInput is a resolved transaction input: the raw reference plus, if it
// spent a colored output, that output's value at spend time.
type TxInput struct {
	PrevTxID     string `json:"prevTxid"`
	PrevVout     uint32 `json:"prevVout"`
	ColoredValue uint64 `json:"coloredValue"` // 0 if the spent output was not colored
	Resolved     bool   `json:"resolved"`     // true iff the spent output was found in the colored UTXO set
}

// Tx is the classified view of a single transaction.
type Tx struct {
	TxID        string     `json:"txid"`
	BlockHeight uint32     `json:"blockHeight"`
	Type        TxType     `json:"type"`
	Inputs      []TxInput  `json:"inputs"`
	Outputs     []TxOutput `json:"outputs"`
	BurntFee    uint64     `json:"burntFee"`
}

// ColoredInputValue sums the colored value of every resolved input.
func (t Tx) ColoredInputValue() uint64 {
	var sum uint64
	for _, in := range t.Inputs {
		if in.Resolved {
			sum += in.ColoredValue
		}
	}
	return sum
}

// ColoredOutputValue sums the value of every colored-family output.
func (t Tx) ColoredOutputValue() uint64 {
	var sum uint64
	for _, out := range t.Outputs {
		if out.IsColoredFamily() {
			sum += out.Value
		}
	}
	return sum
}

// Block is the parsed, colored view of a RawBlock: identical header
// fields, but Txs contains only colored or governance-relevant
// transactions.
type Block struct {
	Height   uint32   `json:"height"`
	Time     uint64   `json:"time"`
	Hash     [32]byte `json:"hash"`
	PrevHash [32]byte `json:"prevHash"`
	Txs      []Tx     `json:"txs"`
}
