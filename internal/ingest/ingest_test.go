package ingest

import (
	"testing"

	"github.com/btcsuite/btcd/btcjson"
)

func TestConvertTx_MapsValuesAndScripts(t *testing.T) {
	raw := &btcjson.TxRawResult{
		Txid: "feed01",
		Vin: []btcjson.Vin{
			{Txid: "aaaa", Vout: 2},
			{Coinbase: "03abcdef"}, // coinbase input has no Txid
		},
		Vout: []btcjson.Vout{
			{Value: 0.00010000, ScriptPubKey: btcjson.ScriptPubKeyResult{Hex: "76a914"}},
			{Value: 0.5, ScriptPubKey: btcjson.ScriptPubKeyResult{Hex: "6a16100000000000000000000000000000000000000000"}},
		},
	}

	tx := ConvertTx(raw)

	if tx.TxID != "feed01" {
		t.Errorf("txid mismatch: %s", tx.TxID)
	}
	if len(tx.Inputs) != 1 {
		t.Fatalf("expected the coinbase input to be dropped, got %d inputs", len(tx.Inputs))
	}
	if tx.Inputs[0].PrevTxID != "aaaa" || tx.Inputs[0].PrevVout != 2 {
		t.Errorf("input mismatch: %+v", tx.Inputs[0])
	}
	if len(tx.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(tx.Outputs))
	}
	if tx.Outputs[0].Value != 10_000 {
		t.Errorf("expected 10000 sats, got %d", tx.Outputs[0].Value)
	}
	if tx.Outputs[1].Value != 50_000_000 {
		t.Errorf("expected 50000000 sats, got %d", tx.Outputs[1].Value)
	}
	if len(tx.Outputs[0].ScriptPubKey) != 3 || tx.Outputs[0].ScriptPubKey[0] != 0x76 {
		t.Errorf("script decode mismatch: %x", tx.Outputs[0].ScriptPubKey)
	}
	if tx.Outputs[1].ScriptPubKey[0] != 0x6a {
		t.Errorf("expected op-return script, got %x", tx.Outputs[1].ScriptPubKey)
	}
}

func TestBtcToSats_RoundsExactly(t *testing.T) {
	cases := []struct {
		btc  float64
		want int64
	}{
		{0, 0},
		{0.00000001, 1},
		{0.1, 10_000_000},
		{21.00000003, 2_100_000_003},
	}
	for _, tc := range cases {
		if got := btcToSats(tc.btc); got != tc.want {
			t.Errorf("btcToSats(%v) = %d, want %d", tc.btc, got, tc.want)
		}
	}
}
