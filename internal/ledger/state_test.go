package ledger

import (
	"errors"
	"testing"

	"github.com/bsq-network/dao-engine/pkg/models"
)

func colored(txID string, index uint32, value uint64) models.TxOutput {
	return models.TxOutput{TxID: txID, Index: index, Value: value, Type: models.OutputColored}
}

func TestAppendBlock_GenesisHasNoLinkageCheck(t *testing.T) {
	s := NewState()
	genesis := models.Block{Height: 100, Hash: [32]byte{1}, Txs: []models.Tx{
		{TxID: "genesis-tx", Type: models.TxGenesis, Outputs: []models.TxOutput{colored("genesis-tx", 0, 1000)}},
	}}

	if err := s.AppendBlock(genesis); err != nil {
		t.Fatalf("unexpected error appending genesis: %v", err)
	}
	if s.Height() != 100 {
		t.Errorf("expected height 100, got %d", s.Height())
	}

	out, ok := s.Output(models.TxOutputKey{TxID: "genesis-tx", Index: 0})
	if !ok || out.Spent {
		t.Errorf("expected unspent tracked output, got %+v ok=%v", out, ok)
	}
}

func TestAppendBlock_RejectsNonConnectingPrevHash(t *testing.T) {
	s := NewState()
	first := models.Block{Height: 100, Hash: [32]byte{1}}
	if err := s.AppendBlock(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := models.Block{Height: 101, Hash: [32]byte{2}, PrevHash: [32]byte{9}}
	err := s.AppendBlock(bad)
	if !errors.Is(err, ErrBlockNotConnecting) {
		t.Errorf("expected ErrBlockNotConnecting, got %v", err)
	}
}

func TestAppendBlock_RejectsDuplicateHeight(t *testing.T) {
	s := NewState()
	first := models.Block{Height: 100, Hash: [32]byte{1}}
	if err := s.AppendBlock(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dup := models.Block{Height: 100, Hash: [32]byte{2}}
	err := s.AppendBlock(dup)
	if !errors.Is(err, ErrDuplicateBlock) {
		t.Errorf("expected ErrDuplicateBlock, got %v", err)
	}
}

func TestAppendBlock_MarksSpentOutputsButNeverUnspends(t *testing.T) {
	s := NewState()
	first := models.Block{Height: 100, Hash: [32]byte{1}, Txs: []models.Tx{
		{TxID: "tx-a", Outputs: []models.TxOutput{colored("tx-a", 0, 500)}},
	}}
	if err := s.AppendBlock(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := models.Block{Height: 101, Hash: [32]byte{2}, PrevHash: [32]byte{1}, Txs: []models.Tx{
		{
			TxID:    "tx-b",
			Inputs:  []models.TxInput{{PrevTxID: "tx-a", PrevVout: 0, ColoredValue: 500, Resolved: true}},
			Outputs: []models.TxOutput{colored("tx-b", 0, 500)},
		},
	}}
	if err := s.AppendBlock(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spentOut, ok := s.Output(models.TxOutputKey{TxID: "tx-a", Index: 0})
	if !ok || !spentOut.Spent {
		t.Errorf("expected tx-a:0 marked spent, got %+v ok=%v", spentOut, ok)
	}

	newOut, ok := s.Output(models.TxOutputKey{TxID: "tx-b", Index: 0})
	if !ok || newOut.Spent {
		t.Errorf("expected tx-b:0 unspent, got %+v ok=%v", newOut, ok)
	}
}

func TestColoredInputValue_UnresolvedForUnknownOrUncoloredOutput(t *testing.T) {
	s := NewState()
	block := models.Block{Height: 100, Hash: [32]byte{1}, Txs: []models.Tx{
		{TxID: "tx-a", Outputs: []models.TxOutput{{TxID: "tx-a", Index: 0, Value: 500, Type: models.OutputBTC}}},
	}}
	if err := s.AppendBlock(block); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := s.ColoredInputValue("tx-a", 0); ok {
		t.Error("expected BTC_OUT output to resolve as uncolored")
	}
	if _, ok := s.ColoredInputValue("does-not-exist", 0); ok {
		t.Error("expected unknown output to be unresolved")
	}
}

func TestTxHeight_ReturnsConfirmationHeight(t *testing.T) {
	s := NewState()
	block := models.Block{Height: 250, Hash: [32]byte{1}, Txs: []models.Tx{{TxID: "tx-x"}}}
	if err := s.AppendBlock(block); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h, ok := s.TxHeight("tx-x")
	if !ok || h != 250 {
		t.Errorf("expected height 250, got %d ok=%v", h, ok)
	}

	if _, ok := s.TxHeight("unknown-tx"); ok {
		t.Error("expected unknown tx to report not found")
	}
}
