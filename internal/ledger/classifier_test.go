package ledger

import (
	"testing"

	"github.com/bsq-network/dao-engine/internal/opreturn"
	"github.com/bsq-network/dao-engine/pkg/models"
)

func coloredInput(value uint64) models.TxInput {
	return models.TxInput{ColoredValue: value, Resolved: true}
}

func rawOuts(values ...uint64) []models.RawTxOut {
	out := make([]models.RawTxOut, len(values))
	for i, v := range values {
		out[i] = models.RawTxOut{Value: v}
	}
	return out
}

// TestClassify_SimpleTransfer covers a fully-funded transfer: available=600,
// outputs [200,300,100] fully colored, no burnt fee.
func TestClassify_SimpleTransfer(t *testing.T) {
	c := NewClassifier()
	result := c.Classify("tx2", []models.TxInput{coloredInput(600)}, rawOuts(200, 300, 100), -1, opreturn.Intent{}, errNoOpReturn(), false, 0)

	if result.Type != models.TxTransferColored {
		t.Fatalf("expected TRANSFER_COLORED, got %v", result.Type)
	}
	if result.BurntFee != 0 {
		t.Errorf("expected burnt fee 0, got %d", result.BurntFee)
	}
	for i, want := range []models.OutputType{models.OutputColored, models.OutputColored, models.OutputColored} {
		if result.Outputs[i].Type != want {
			t.Errorf("output %d: expected %v, got %v", i, want, result.Outputs[i].Type)
		}
	}
}

// TestClassify_FeeBurn covers a partial spend: available=600, output
// [500] colored, burnt fee = 100, TxType=PAY_TRADE_FEE.
func TestClassify_FeeBurn(t *testing.T) {
	c := NewClassifier()
	result := c.Classify("tx3", []models.TxInput{coloredInput(600)}, rawOuts(500), -1, opreturn.Intent{}, errNoOpReturn(), false, 0)

	if result.Type != models.TxPayTradeFee {
		t.Fatalf("expected PAY_TRADE_FEE, got %v", result.Type)
	}
	if result.BurntFee != 100 {
		t.Errorf("expected burnt fee 100, got %d", result.BurntFee)
	}
}

// TestClassify_UnderfundedLatch covers the one-way latch rule: available=100,
// outputs [50,200,30]; out0 colored(50), out1 and out2 BTC_OUT via latch
// even though out2's value alone would have fit remaining input value.
func TestClassify_UnderfundedLatch(t *testing.T) {
	c := NewClassifier()
	result := c.Classify("tx4", []models.TxInput{coloredInput(100)}, rawOuts(50, 200, 30), -1, opreturn.Intent{}, errNoOpReturn(), false, 0)

	if result.Type != models.TxTransferColored {
		t.Fatalf("expected TRANSFER_COLORED (out0 accepted), got %v", result.Type)
	}
	if result.Outputs[0].Type != models.OutputColored {
		t.Errorf("expected output 0 colored, got %v", result.Outputs[0].Type)
	}
	if result.Outputs[1].Type != models.OutputBTC {
		t.Errorf("expected output 1 BTC_OUT (latch), got %v", result.Outputs[1].Type)
	}
	if result.Outputs[2].Type != models.OutputBTC {
		t.Errorf("expected output 2 BTC_OUT (latch persists), got %v", result.Outputs[2].Type)
	}
}

// TestClassify_ExactBoundary confirms the boundary rule: a colored output
// of value exactly equal to available input colors fully; one satoshi
// more flips it (and everything after) to BTC_OUT.
func TestClassify_ExactBoundary(t *testing.T) {
	c := NewClassifier()

	exact := c.Classify("tx-exact", []models.TxInput{coloredInput(100)}, rawOuts(100), -1, opreturn.Intent{}, errNoOpReturn(), false, 0)
	if exact.Outputs[0].Type != models.OutputColored {
		t.Errorf("expected exact-value output colored, got %v", exact.Outputs[0].Type)
	}

	over := c.Classify("tx-over", []models.TxInput{coloredInput(100)}, rawOuts(101), -1, opreturn.Intent{}, errNoOpReturn(), false, 0)
	if over.Outputs[0].Type != models.OutputBTC {
		t.Errorf("expected over-value output BTC_OUT, got %v", over.Outputs[0].Type)
	}
}

// TestClassify_NoColoredInputNonGenesisIsUndefined ensures a tx with no
// colored input at all (and not genesis) does not become TRANSFER_COLORED.
func TestClassify_NoColoredInputNonGenesisIsUndefined(t *testing.T) {
	c := NewClassifier()
	result := c.Classify("tx-nocolor", nil, rawOuts(100), -1, opreturn.Intent{}, errNoOpReturn(), false, 0)
	if result.Type != models.TxUndefined {
		t.Errorf("expected UNDEFINED, got %v", result.Type)
	}
}

// TestClassify_ProposalIntent exercises the op-return marker path: the
// marker output itself costs no colored value and the tx is classified
// PROPOSAL once the required colored outputs validate.
func TestClassify_ProposalIntent(t *testing.T) {
	c := NewClassifier()
	intent := opreturn.Intent{Tag: opreturn.TagProposal}
	result := c.Classify("tx-proposal", []models.TxInput{coloredInput(100)}, rawOuts(100, 0), 1, intent, nil, false, 0)

	if result.Type != models.TxProposal {
		t.Fatalf("expected PROPOSAL, got %v", result.Type)
	}
	if result.Outputs[1].Type != models.OutputProposalOpReturn {
		t.Errorf("expected op-return output classified PROPOSAL_OP_RETURN, got %v", result.Outputs[1].Type)
	}
	if result.Outputs[0].Type != models.OutputColored {
		t.Errorf("expected first output colored, got %v", result.Outputs[0].Type)
	}
}

// TestClassify_GenesisSeedsAvailableFromSupply ensures the genesis tx
// colors outputs up to the configured total supply regardless of its
// (nonexistent) colored inputs, and still applies the latch rule to the
// remainder.
func TestClassify_GenesisSeedsAvailableFromSupply(t *testing.T) {
	c := NewClassifier()
	result := c.Classify("genesis-tx", nil, rawOuts(700, 300), -1, opreturn.Intent{}, errNoOpReturn(), true, 1000)

	if result.Type != models.TxGenesis {
		t.Fatalf("expected GENESIS, got %v", result.Type)
	}
	if result.Outputs[0].Type != models.OutputGenesis {
		t.Errorf("expected first genesis output classified GENESIS, got %v", result.Outputs[0].Type)
	}
	if result.Outputs[1].Type != models.OutputGenesis {
		t.Errorf("expected second genesis output classified GENESIS, got %v", result.Outputs[1].Type)
	}
}

// TestClassify_GenesisLatchesPastSupply confirms outputs beyond the
// configured supply fall back to BTC_OUT via the same latch rule as any
// other transaction.
func TestClassify_GenesisLatchesPastSupply(t *testing.T) {
	c := NewClassifier()
	result := c.Classify("genesis-tx", nil, rawOuts(700, 500), -1, opreturn.Intent{}, errNoOpReturn(), true, 1000)

	if result.Outputs[1].Type != models.OutputBTC {
		t.Errorf("expected over-supply output BTC_OUT, got %v", result.Outputs[1].Type)
	}
}

func errNoOpReturn() error { return errNotPresent }

var errNotPresent = opreturnNoMarkerError{}

type opreturnNoMarkerError struct{}

func (opreturnNoMarkerError) Error() string { return "no op-return output present" }
