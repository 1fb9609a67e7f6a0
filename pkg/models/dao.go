package models

// ParamID is the stable, persistence-identifier of a governance
// parameter. Never reused or renamed once written to a snapshot.
type ParamID string

// Well-known parameter identifiers.
const (
	ParamMakerFeeColored ParamID = "MAKER_FEE_COLORED"
	ParamTakerFeeColored ParamID = "TAKER_FEE_COLORED"
	ParamMakerFeeBTC     ParamID = "MAKER_FEE_BTC"
	ParamTakerFeeBTC     ParamID = "TAKER_FEE_BTC"
	ParamProposalFee     ParamID = "PROPOSAL_FEE"
	ParamBlindVoteFee    ParamID = "BLIND_VOTE_FEE"

	ParamQuorumCompensation ParamID = "QUORUM_COMPENSATION"
	ParamQuorumChangeParam  ParamID = "QUORUM_CHANGE_PARAM"
	ParamQuorumBurnBond     ParamID = "QUORUM_BURN_BOND"
	ParamQuorumRemoveAsset  ParamID = "QUORUM_REMOVE_ASSET"
	ParamQuorumGeneric      ParamID = "QUORUM_GENERIC"

	ParamThresholdCompensation ParamID = "THRESHOLD_COMPENSATION"
	ParamThresholdChangeParam  ParamID = "THRESHOLD_CHANGE_PARAM"
	ParamThresholdBurnBond     ParamID = "THRESHOLD_BURN_BOND"
	ParamThresholdRemoveAsset  ParamID = "THRESHOLD_REMOVE_ASSET"
	ParamThresholdGeneric      ParamID = "THRESHOLD_GENERIC"

	ParamPhaseProposalBlocks  ParamID = "PHASE_PROPOSAL_BLOCKS"
	ParamPhaseBreak1Blocks    ParamID = "PHASE_BREAK1_BLOCKS"
	ParamPhaseBlindVoteBlocks ParamID = "PHASE_BLIND_VOTE_BLOCKS"
	ParamPhaseBreak2Blocks    ParamID = "PHASE_BREAK2_BLOCKS"
	ParamPhaseVoteRevealBlocks ParamID = "PHASE_VOTE_REVEAL_BLOCKS"
	ParamPhaseBreak3Blocks    ParamID = "PHASE_BREAK3_BLOCKS"
	ParamPhaseResultBlocks    ParamID = "PHASE_RESULT_BLOCKS"
	ParamPhaseBreak4Blocks    ParamID = "PHASE_BREAK4_BLOCKS"

	ParamLockTimeMin ParamID = "LOCK_TIME_MIN"
	ParamLockTimeMax ParamID = "LOCK_TIME_MAX"
)

// Param is a named governance variable: a stable identifier plus its
// compiled-in default value. The default never changes post-genesis;
// only height-indexed overrides may be appended.
type Param struct {
	ID      ParamID `json:"id"`
	Default int64   `json:"default"`
}

// DaoPhase enumerates the ordered sub-ranges of a Cycle.
type DaoPhase int

const (
	PhaseUndefined DaoPhase = iota
	PhaseProposal
	PhaseBreak1
	PhaseBlindVote
	PhaseBreak2
	PhaseVoteReveal
	PhaseBreak3
	PhaseResult
	PhaseBreak4
)

func (p DaoPhase) String() string {
	switch p {
	case PhaseProposal:
		return "PROPOSAL"
	case PhaseBreak1:
		return "BREAK1"
	case PhaseBlindVote:
		return "BLIND_VOTE"
	case PhaseBreak2:
		return "BREAK2"
	case PhaseVoteReveal:
		return "VOTE_REVEAL"
	case PhaseBreak3:
		return "BREAK3"
	case PhaseResult:
		return "RESULT"
	case PhaseBreak4:
		return "BREAK4"
	default:
		return "UNDEFINED"
	}
}

// OrderedPhases is the fixed phase sequence of every cycle.
var OrderedPhases = []DaoPhase{
	PhaseProposal, PhaseBreak1, PhaseBlindVote, PhaseBreak2,
	PhaseVoteReveal, PhaseBreak3, PhaseResult, PhaseBreak4,
}

// PhaseRange is one phase's (identifier, duration-in-blocks) pair,
// snapshotted from the Param Registry at a cycle's first block.
type PhaseRange struct {
	Phase         DaoPhase `json:"phase"`
	DurationBlocks uint32  `json:"durationBlocks"`
}

// Cycle is a fixed-length sequence of phases at the block-height layer.
type Cycle struct {
	Index       uint32       `json:"index"`
	FirstBlock  uint32       `json:"firstBlock"`
	Phases      []PhaseRange `json:"phases"`
}

// LastBlock returns the final height belonging to this cycle.
func (c Cycle) LastBlock() uint32 {
	h := c.FirstBlock
	for _, pr := range c.Phases {
		h += pr.DurationBlocks
	}
	return h - 1
}

// Length returns the total block span of the cycle.
func (c Cycle) Length() uint32 {
	var total uint32
	for _, pr := range c.Phases {
		total += pr.DurationBlocks
	}
	return total
}

// ProposalType distinguishes the variant of a Proposal.
type ProposalType int

const (
	ProposalGeneric ProposalType = iota
	ProposalCompensation
	ProposalChangeParam
	ProposalBurnBond
	ProposalRemoveAsset
)

func (t ProposalType) String() string {
	switch t {
	case ProposalCompensation:
		return "COMPENSATION"
	case ProposalChangeParam:
		return "CHANGE_PARAM"
	case ProposalBurnBond:
		return "BURN_BOND"
	case ProposalRemoveAsset:
		return "REMOVE_ASSET"
	default:
		return "GENERIC"
	}
}

// Proposal is a governance proposal. Fields specific to a single variant
// are zero-valued for the others; the variant discriminator is Type.
type Proposal struct {
	TxID        string       `json:"txid"`
	CycleIndex  uint32       `json:"cycleIndex"`
	Type        ProposalType `json:"type"`
	Name        string       `json:"name"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Link        string       `json:"link"`
	ProposerTx  string       `json:"proposerTxid"`

	// CompensationProposal fields.
	RequestedValue uint64 `json:"requestedValue,omitempty"`
	IssuanceAddr   string `json:"issuanceAddress,omitempty"`

	// ChangeParamProposal fields.
	ChangeParamID    ParamID `json:"changeParamId,omitempty"`
	ChangeParamValue int64   `json:"changeParamValue,omitempty"`

	// BurnBondProposal / RemoveAssetProposal fields.
	TargetHash string `json:"targetHash,omitempty"` // bond lockup txid or asset identifier
}

// QuorumParam returns the Param identifier governing this proposal type's
// minimum participating stake.
func (t ProposalType) QuorumParam() ParamID {
	switch t {
	case ProposalCompensation:
		return ParamQuorumCompensation
	case ProposalChangeParam:
		return ParamQuorumChangeParam
	case ProposalBurnBond:
		return ParamQuorumBurnBond
	case ProposalRemoveAsset:
		return ParamQuorumRemoveAsset
	default:
		return ParamQuorumGeneric
	}
}

// ThresholdParam returns the Param identifier governing this proposal
// type's accept-ratio threshold (basis points, precision 1/100%).
func (t ProposalType) ThresholdParam() ParamID {
	switch t {
	case ProposalCompensation:
		return ParamThresholdCompensation
	case ProposalChangeParam:
		return ParamThresholdChangeParam
	case ProposalBurnBond:
		return ParamThresholdBurnBond
	case ProposalRemoveAsset:
		return ParamThresholdRemoveAsset
	default:
		return ParamThresholdGeneric
	}
}

// Vote is a voter's choice on a single proposal.
type Vote int

const (
	VoteUnset Vote = iota
	VoteAccept
	VoteReject
	VoteIgnore
)

func (v Vote) String() string {
	switch v {
	case VoteAccept:
		return "ACCEPT"
	case VoteReject:
		return "REJECT"
	case VoteIgnore:
		return "IGNORE"
	default:
		return "UNSET"
	}
}

// Ballot is a voter-local pair of proposal reference and optional vote.
// Vote is the only mutable field, and only during the PROPOSAL phase of
// its cycle.
type Ballot struct {
	ProposalTxID string `json:"proposalTxid"`
	Vote         Vote   `json:"vote"`
}

// BlindVote is an on-chain commitment to a ballot list, binding stake and
// merit.
type BlindVote struct {
	TxID               string `json:"txid"`
	CycleIndex         uint32 `json:"cycleIndex"`
	Stake              uint64 `json:"stake"`
	EncryptedBallots   []byte `json:"encryptedBallots"`
	EncryptedMeritList []byte `json:"encryptedMeritList"`
	Commitment         [20]byte `json:"commitment"` // RIPEMD160(SHA256(encryptedBallots))
}

// VoteReveal discloses the symmetric key used to encrypt a BlindVote's
// ballot list. The reveal tx spends the blind vote's stake output, which
// is how BlindVoteTxID is recovered.
type VoteReveal struct {
	TxID           string   `json:"txid"`
	BlindVoteTxID  string   `json:"blindVoteTxid"`
	Key            [16]byte `json:"key"` // AES-128 key
	MeritListHash  [20]byte `json:"meritListHash"`
	BlockHeight    uint32   `json:"blockHeight"`
}

// MeritEntry proves a voter received tokens from a past compensation
// issuance; it contributes decaying weight to the voter's effective
// stake. Signature is a DER-encoded secp256k1 ECDSA signature by PubKey
// over SHA256(IssuanceTxID).
type MeritEntry struct {
	IssuanceTxID string `json:"issuanceTxid"`
	PubKey       []byte `json:"pubKey,omitempty"`
	Signature    []byte `json:"signature"`
	AgeBlocks    uint32 `json:"ageBlocks"`
}

// MeritList is an ordered list of MeritEntry.
type MeritList []MeritEntry

// ProposalOutcome is the decision reached for a single proposal at
// cycle result.
type ProposalOutcome int

const (
	OutcomeUndefined ProposalOutcome = iota
	OutcomeAccepted
	OutcomeRejectedQuorum
	OutcomeRejectedThreshold
)

func (o ProposalOutcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "ACCEPTED"
	case OutcomeRejectedQuorum:
		return "REJECTED_QUORUM"
	case OutcomeRejectedThreshold:
		return "REJECTED_THRESHOLD"
	default:
		return "UNDEFINED"
	}
}

// ProposalResult is the tallied outcome for a single proposal in a cycle.
type ProposalResult struct {
	ProposalTxID string          `json:"proposalTxid"`
	Outcome      ProposalOutcome `json:"outcome"`
	AcceptWeight float64         `json:"acceptWeight"`
	RejectWeight float64         `json:"rejectWeight"`
	TotalStake   uint64          `json:"totalStake"`
}

// CycleResult is the full tally outcome for one cycle, consumed by the
// Parameter Change Applier and the Event Bus.
type CycleResult struct {
	CycleIndex uint32           `json:"cycleIndex"`
	Results    []ProposalResult `json:"results"`
}
