package engine

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"golang.org/x/crypto/ripemd160"

	"github.com/bsq-network/dao-engine/internal/blockparser"
	"github.com/bsq-network/dao-engine/internal/events"
	"github.com/bsq-network/dao-engine/internal/paramstore"
	"github.com/bsq-network/dao-engine/pkg/models"
)

const (
	genesisTxID   = "0000000000000000000000000000000000000000000000000000000000000001"
	genesisHeight = 200
	genesisSupply = 100_000
)

// testRegistry uses short phase durations so a full cycle spans 14
// blocks: PROPOSAL 200-202, BREAK1 203, BLIND_VOTE 204-206, BREAK2 207,
// VOTE_REVEAL 208-210, BREAK3 211, RESULT 212, BREAK4 213.
func testRegistry() *paramstore.Registry {
	return paramstore.NewRegistry(map[models.ParamID]int64{
		models.ParamProposalFee:  100,
		models.ParamBlindVoteFee: 50,

		models.ParamQuorumChangeParam:    5000,
		models.ParamThresholdChangeParam: 5000,
		models.ParamQuorumCompensation:   5000,
		models.ParamThresholdCompensation: 5000,
		models.ParamQuorumGeneric:        5000,
		models.ParamThresholdGeneric:     5000,

		models.ParamPhaseProposalBlocks:   3,
		models.ParamPhaseBreak1Blocks:     1,
		models.ParamPhaseBlindVoteBlocks:  3,
		models.ParamPhaseBreak2Blocks:     1,
		models.ParamPhaseVoteRevealBlocks: 3,
		models.ParamPhaseBreak3Blocks:     1,
		models.ParamPhaseResultBlocks:     1,
		models.ParamPhaseBreak4Blocks:     1,

		models.ParamLockTimeMin: 1,
		models.ParamLockTimeMax: 10_000,
	})
}

func blockHash(height uint32) [32]byte {
	var h [32]byte
	binary.BigEndian.PutUint32(h[28:], height)
	return h
}

func rawBlock(height uint32, txs ...models.RawTx) models.RawBlock {
	return models.RawBlock{
		Height:       height,
		Time:         uint64(1_600_000_000 + height*600),
		Hash:         blockHash(height),
		PrevHash:     blockHash(height - 1),
		Transactions: txs,
	}
}

func payToAddrScript() []byte {
	return []byte{0x76, 0xa9, 0x14} // truncated P2PKH prefix, enough for classification
}

func opReturnScript(payload []byte) []byte {
	script := []byte{0x6a, byte(len(payload))}
	return append(script, payload...)
}

// serializeTestBallots mirrors the wire encoding the tally engine
// expects: entries sorted ascending by proposal tx-id, each as
// [u16 len][txid][vote:u8]. The single-entry lists used here need no
// sorting.
func serializeTestBallots(ballots []models.Ballot) []byte {
	var buf []byte
	for _, b := range ballots {
		idBytes := []byte(b.ProposalTxID)
		lenPrefix := make([]byte, 2)
		binary.BigEndian.PutUint16(lenPrefix, uint16(len(idBytes)))
		buf = append(buf, lenPrefix...)
		buf = append(buf, idBytes...)
		buf = append(buf, byte(b.Vote))
	}
	return buf
}

func sealCBC(t *testing.T, plain []byte, key [16]byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	padLen := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	iv := make([]byte, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return append(append([]byte(nil), iv...), ciphertext...)
}

func commitmentOf(ciphertext []byte) [20]byte {
	h := sha256.Sum256(ciphertext)
	r := ripemd160.New()
	r.Write(h[:])
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}

func newTestEngine(t *testing.T) (*Engine, *paramstore.Registry, *events.Bus) {
	t.Helper()
	registry := testRegistry()
	bus := events.New()
	eng := New(Config{
		Genesis: blockparser.GenesisConfig{
			TxID:        genesisTxID,
			BlockHeight: genesisHeight,
			TotalSupply: genesisSupply,
		},
	}, registry, bus)
	return eng, registry, bus
}

func ingestEmptyRange(t *testing.T, eng *Engine, from, to uint32) {
	t.Helper()
	for h := from; h <= to; h++ {
		if err := eng.HandleBlock(rawBlock(h)); err != nil {
			t.Fatalf("HandleBlock(%d): %v", h, err)
		}
	}
}

// TestFullGovernanceCycle drives a change-param proposal through an
// entire cycle: submission, confirmation, blind vote, reveal, tally,
// and application of the accepted override at the next cycle boundary.
func TestFullGovernanceCycle(t *testing.T) {
	eng, registry, bus := newTestEngine(t)

	var cycleResults []models.CycleResult
	bus.Subscribe(func(ev events.Event) {
		if ev.Kind == events.KindCycleComplete {
			cycleResults = append(cycleResults, ev.CycleResult)
		}
	})

	// Genesis block.
	genesisTx := models.RawTx{
		TxID:    genesisTxID,
		Outputs: []models.RawTxOut{{Value: genesisSupply, ScriptPubKey: payToAddrScript()}},
	}
	if err := eng.HandleBlock(rawBlock(genesisHeight, genesisTx)); err != nil {
		t.Fatalf("genesis block: %v", err)
	}

	// Proposal draft submitted off-chain before its tx confirms.
	const propTxID = "aa00000000000000000000000000000000000000000000000000000000000001"
	if err := eng.SubmitProposal(models.Proposal{
		TxID:             propTxID,
		Type:             models.ProposalChangeParam,
		Name:             "raise-proposal-fee",
		Title:            "Raise the proposal fee",
		ChangeParamID:    models.ParamProposalFee,
		ChangeParamValue: 150,
	}); err != nil {
		t.Fatalf("SubmitProposal: %v", err)
	}

	// h=201: proposal tx confirms, burning the 100-unit proposal fee.
	propHash := [20]byte{0xAB}
	propTx := models.RawTx{
		TxID:   propTxID,
		Inputs: []models.RawTxIn{{PrevTxID: genesisTxID, PrevVout: 0}},
		Outputs: []models.RawTxOut{
			{Value: genesisSupply - 100, ScriptPubKey: payToAddrScript()},
			{Value: 0, ScriptPubKey: opReturnScript(append([]byte{0x10, 0x00}, propHash[:]...))},
		},
	}
	if err := eng.HandleBlock(rawBlock(201, propTx)); err != nil {
		t.Fatalf("proposal block: %v", err)
	}

	ingestEmptyRange(t, eng, 202, 204)

	// Blind-vote payload submitted off-chain, tx confirms at h=205.
	const bvTxID = "bb00000000000000000000000000000000000000000000000000000000000001"
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	encBallots := sealCBC(t, serializeTestBallots([]models.Ballot{{ProposalTxID: propTxID, Vote: models.VoteAccept}}), key)
	commitment := commitmentOf(encBallots)
	if err := eng.SubmitBlindVotePayload(bvTxID, encBallots, nil); err != nil {
		t.Fatalf("SubmitBlindVotePayload: %v", err)
	}

	bvTx := models.RawTx{
		TxID:   bvTxID,
		Inputs: []models.RawTxIn{{PrevTxID: propTxID, PrevVout: 0}},
		Outputs: []models.RawTxOut{
			{Value: 10_000, ScriptPubKey: payToAddrScript()}, // stake
			{Value: genesisSupply - 100 - 10_000 - 50, ScriptPubKey: payToAddrScript()},
			{Value: 0, ScriptPubKey: opReturnScript(append([]byte{0x12, 0x00}, commitment[:]...))},
		},
	}
	if err := eng.HandleBlock(rawBlock(205, bvTx)); err != nil {
		t.Fatalf("blind-vote block: %v", err)
	}

	ingestEmptyRange(t, eng, 206, 208)

	// h=209: reveal tx spends the stake output and discloses the key.
	const revealTxID = "cc00000000000000000000000000000000000000000000000000000000000001"
	var meritHash [20]byte
	revealPayload := append([]byte{0x13, 0x00}, meritHash[:]...)
	revealPayload = append(revealPayload, key[:]...)
	revealTx := models.RawTx{
		TxID:   revealTxID,
		Inputs: []models.RawTxIn{{PrevTxID: bvTxID, PrevVout: 0}},
		Outputs: []models.RawTxOut{
			{Value: 10_000, ScriptPubKey: payToAddrScript()},
			{Value: 0, ScriptPubKey: opReturnScript(revealPayload)},
		},
	}
	if err := eng.HandleBlock(rawBlock(209, revealTx)); err != nil {
		t.Fatalf("reveal block: %v", err)
	}

	// Through RESULT (212) and BREAK4 (213).
	ingestEmptyRange(t, eng, 210, 213)

	if len(cycleResults) != 1 {
		t.Fatalf("expected 1 cycle-complete event, got %d", len(cycleResults))
	}
	results := cycleResults[0].Results
	if len(results) != 1 {
		t.Fatalf("expected 1 proposal result, got %d", len(results))
	}
	if results[0].Outcome != models.OutcomeAccepted {
		t.Fatalf("expected ACCEPTED, got %v (accept=%v reject=%v stake=%d)",
			results[0].Outcome, results[0].AcceptWeight, results[0].RejectWeight, results[0].TotalStake)
	}
	if results[0].TotalStake != 10_000 {
		t.Errorf("expected total stake 10000, got %d", results[0].TotalStake)
	}

	// The override is not yet visible inside the deciding cycle.
	if v, err := registry.Value(models.ParamProposalFee, 212); err != nil || v != 100 {
		t.Errorf("expected PROPOSAL_FEE=100 at height 212, got %d (%v)", v, err)
	}

	// h=214 begins cycle 1 and applies the accepted change.
	if err := eng.HandleBlock(rawBlock(214)); err != nil {
		t.Fatalf("cycle-boundary block: %v", err)
	}
	if v, err := registry.Value(models.ParamProposalFee, 214); err != nil || v != 150 {
		t.Errorf("expected PROPOSAL_FEE=150 at height 214, got %d (%v)", v, err)
	}

	// The new cycle exists and starts exactly at 214.
	c, ok := eng.Periods().CycleOf(214)
	if !ok || c.Index != 1 || c.FirstBlock != 214 {
		t.Errorf("expected cycle 1 starting at 214, got %+v (ok=%v)", c, ok)
	}
}

// TestCompensationIssuance runs an accepted compensation request through
// a cycle and checks the payout output enters the colored set at the
// next cycle's first block.
func TestCompensationIssuance(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	genesisTx := models.RawTx{
		TxID:    genesisTxID,
		Outputs: []models.RawTxOut{{Value: genesisSupply, ScriptPubKey: payToAddrScript()}},
	}
	if err := eng.HandleBlock(rawBlock(genesisHeight, genesisTx)); err != nil {
		t.Fatalf("genesis block: %v", err)
	}

	const compTxID = "dd00000000000000000000000000000000000000000000000000000000000001"
	if err := eng.SubmitProposal(models.Proposal{
		TxID:           compTxID,
		Type:           models.ProposalCompensation,
		Name:           "contributor-comp",
		Title:          "March compensation",
		RequestedValue: 2500,
		IssuanceAddr:   "addr-contributor",
	}); err != nil {
		t.Fatalf("SubmitProposal: %v", err)
	}

	// Comp request: colored change at 0, BTC payout placeholder at 1.
	compHash := [20]byte{0xCD}
	compTx := models.RawTx{
		TxID:   compTxID,
		Inputs: []models.RawTxIn{{PrevTxID: genesisTxID, PrevVout: 0}},
		Outputs: []models.RawTxOut{
			{Value: genesisSupply - 100, ScriptPubKey: payToAddrScript()},
			{Value: 200_000, ScriptPubKey: payToAddrScript()}, // exceeds remaining colored value -> BTC_OUT
			{Value: 0, ScriptPubKey: opReturnScript(append([]byte{0x11, 0x00}, compHash[:]...))},
		},
	}
	if err := eng.HandleBlock(rawBlock(201, compTx)); err != nil {
		t.Fatalf("comp-request block: %v", err)
	}

	ingestEmptyRange(t, eng, 202, 204)

	const bvTxID = "ee00000000000000000000000000000000000000000000000000000000000001"
	key := [16]byte{7}
	encBallots := sealCBC(t, serializeTestBallots([]models.Ballot{{ProposalTxID: compTxID, Vote: models.VoteAccept}}), key)
	commitment := commitmentOf(encBallots)
	if err := eng.SubmitBlindVotePayload(bvTxID, encBallots, nil); err != nil {
		t.Fatalf("SubmitBlindVotePayload: %v", err)
	}
	bvTx := models.RawTx{
		TxID:   bvTxID,
		Inputs: []models.RawTxIn{{PrevTxID: compTxID, PrevVout: 0}},
		Outputs: []models.RawTxOut{
			{Value: 10_000, ScriptPubKey: payToAddrScript()},
			{Value: 0, ScriptPubKey: opReturnScript(append([]byte{0x12, 0x00}, commitment[:]...))},
		},
	}
	if err := eng.HandleBlock(rawBlock(205, bvTx)); err != nil {
		t.Fatalf("blind-vote block: %v", err)
	}

	ingestEmptyRange(t, eng, 206, 208)

	const revealTxID = "ff00000000000000000000000000000000000000000000000000000000000001"
	var meritHash [20]byte
	revealPayload := append([]byte{0x13, 0x00}, meritHash[:]...)
	revealPayload = append(revealPayload, key[:]...)
	revealTx := models.RawTx{
		TxID:   revealTxID,
		Inputs: []models.RawTxIn{{PrevTxID: bvTxID, PrevVout: 0}},
		Outputs: []models.RawTxOut{
			{Value: 10_000, ScriptPubKey: payToAddrScript()},
			{Value: 0, ScriptPubKey: opReturnScript(revealPayload)},
		},
	}
	if err := eng.HandleBlock(rawBlock(209, revealTx)); err != nil {
		t.Fatalf("reveal block: %v", err)
	}

	ingestEmptyRange(t, eng, 210, 214)

	out, ok := eng.Ledger().Output(models.TxOutputKey{TxID: compTxID, Index: 1})
	if !ok {
		t.Fatalf("expected issuance output to exist")
	}
	if out.Type != models.OutputIssuance {
		t.Errorf("expected ISSUANCE output type, got %v", out.Type)
	}
	if out.Value != 2500 || out.Address != "addr-contributor" {
		t.Errorf("unexpected issuance output: %+v", out)
	}
}

// TestProposalValidation exercises the admission checks surfaced to
// submitting clients.
func TestProposalValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	cases := []struct {
		name string
		p    models.Proposal
	}{
		{"missing txid", models.Proposal{Name: "x", Title: "y"}},
		{"missing name", models.Proposal{TxID: "t1", Title: "y"}},
		{"bad link", models.Proposal{TxID: "t1", Name: "x", Title: "y", Link: "ftp://nope"}},
		{"unknown param", models.Proposal{TxID: "t1", Name: "x", Title: "y",
			Type: models.ProposalChangeParam, ChangeParamID: "NO_SUCH_PARAM"}},
		{"zero compensation", models.Proposal{TxID: "t1", Name: "x", Title: "y",
			Type: models.ProposalCompensation, IssuanceAddr: "addr"}},
		{"missing bond target", models.Proposal{TxID: "t1", Name: "x", Title: "y",
			Type: models.ProposalBurnBond}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := eng.SubmitProposal(tc.p)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}
