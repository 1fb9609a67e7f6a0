// Package ingest drives the single block-ingest loop: it follows the
// node's confirmed chain from the genesis height, converts each verbose
// RPC block into the engine's RawBlock shape, and feeds it to the
// governance engine in strict height order. All ledger mutation happens
// on this loop's goroutine.
package ingest

import (
	"context"
	"encoding/hex"
	"log"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bsq-network/dao-engine/internal/bitcoinrpc"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// pollInterval is how long the loop waits once it has caught up with
// the node's tip before asking for new blocks again.
const pollInterval = 10 * time.Second

// blockHandler consumes converted blocks in strict height order.
type blockHandler interface {
	HandleBlock(models.RawBlock) error
}

// Progress is an immutable snapshot of the loop's state for the API.
type Progress struct {
	IsRunning     bool   `json:"isRunning"`
	CurrentHeight uint32 `json:"currentHeight"`
	NodeHeight    int64  `json:"nodeHeight"`
	TotalIngested uint64 `json:"totalIngested"`
}

// Ingestor follows the confirmed chain and hands blocks to the engine.
type Ingestor struct {
	rpc     *bitcoinrpc.Client
	handler blockHandler

	startHeight uint32

	currentHeight atomic.Uint32
	nodeHeight    atomic.Int64
	totalIngested atomic.Uint64
	isRunning     atomic.Bool
}

// NewIngestor constructs an ingestor that begins at startHeight (the
// genesis height on a fresh ledger, the tip+1 after a restart).
func NewIngestor(rpc *bitcoinrpc.Client, handler blockHandler, startHeight uint32) *Ingestor {
	return &Ingestor{rpc: rpc, handler: handler, startHeight: startHeight}
}

// GetProgress returns the current ingest progress (thread-safe).
func (ing *Ingestor) GetProgress() Progress {
	return Progress{
		IsRunning:     ing.isRunning.Load(),
		CurrentHeight: ing.currentHeight.Load(),
		NodeHeight:    ing.nodeHeight.Load(),
		TotalIngested: ing.totalIngested.Load(),
	}
}

// Run follows the chain until ctx is cancelled. Cancellation is honored
// between blocks only; a block mid-parse runs to completion so it is
// never committed partially.
func (ing *Ingestor) Run(ctx context.Context) {
	ing.isRunning.Store(true)
	defer ing.isRunning.Store(false)

	next := ing.startHeight
	log.Printf("[Ingest] Starting block ingest loop at height %d", next)

	for {
		tip, err := ing.rpc.GetBlockCount()
		if err != nil {
			log.Printf("[Ingest] Error getting node tip: %v", err)
			if !sleepCtx(ctx, pollInterval) {
				return
			}
			continue
		}
		ing.nodeHeight.Store(tip)

		for int64(next) <= tip {
			select {
			case <-ctx.Done():
				log.Printf("[Ingest] Cancelled at height %d", next)
				return
			default:
			}

			raw, err := ing.fetchRawBlock(int64(next))
			if err != nil {
				log.Printf("[Ingest] Error fetching block %d: %v", next, err)
				if !sleepCtx(ctx, pollInterval) {
					return
				}
				continue
			}

			if err := ing.handler.HandleBlock(raw); err != nil {
				log.Printf("[Ingest] Error handling block %d: %v", next, err)
				if !sleepCtx(ctx, pollInterval) {
					return
				}
				continue
			}

			ing.currentHeight.Store(next)
			ingested := ing.totalIngested.Add(1)
			if ingested%100 == 0 {
				log.Printf("[Ingest] Progress: height %d of %d (%d blocks ingested)", next, tip, ingested)
			}
			next++
		}

		if !sleepCtx(ctx, pollInterval) {
			return
		}
	}
}

// fetchRawBlock assembles a RawBlock from the node's verbose block and
// per-tx RPC results.
func (ing *Ingestor) fetchRawBlock(height int64) (models.RawBlock, error) {
	hash, err := ing.rpc.GetBlockHash(height)
	if err != nil {
		return models.RawBlock{}, err
	}
	verbose, err := ing.rpc.GetBlockVerbose(hash)
	if err != nil {
		return models.RawBlock{}, err
	}

	txs := make([]models.RawTx, 0, len(verbose.Tx))
	for i, txidStr := range verbose.Tx {
		if i == 0 {
			continue // coinbase carries no colored value and no governance marker
		}
		txHash, err := chainhash.NewHashFromStr(txidStr)
		if err != nil {
			continue
		}
		rawTx, err := ing.rpc.GetRawTransaction(txHash)
		if err != nil {
			log.Printf("[Ingest] Error fetching tx %s in block %d: %v", txidStr, height, err)
			continue
		}
		txs = append(txs, ConvertTx(rawTx))
	}

	var prevHash chainhash.Hash
	if verbose.PreviousHash != "" {
		if h, err := chainhash.NewHashFromStr(verbose.PreviousHash); err == nil {
			prevHash = *h
		}
	}

	raw := models.RawBlock{
		Height:       uint32(verbose.Height),
		Time:         uint64(verbose.Time),
		Transactions: txs,
	}
	copy(raw.Hash[:], hash.CloneBytes())
	copy(raw.PrevHash[:], prevHash.CloneBytes())
	return raw, nil
}

// ConvertTx maps a verbose RPC transaction to the engine's RawTx shape:
// input references stay references (colored values resolve against the
// ledger, never the node), output values convert BTC to base units with
// integer-safe rounding, and scripts decode from hex.
func ConvertTx(rawTx *btcjson.TxRawResult) models.RawTx {
	tx := models.RawTx{
		TxID:    rawTx.Txid,
		Inputs:  make([]models.RawTxIn, 0, len(rawTx.Vin)),
		Outputs: make([]models.RawTxOut, 0, len(rawTx.Vout)),
	}

	for _, vin := range rawTx.Vin {
		if vin.Txid == "" {
			continue // coinbase input
		}
		tx.Inputs = append(tx.Inputs, models.RawTxIn{PrevTxID: vin.Txid, PrevVout: vin.Vout})
	}

	for _, vout := range rawTx.Vout {
		script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			script = nil
		}
		tx.Outputs = append(tx.Outputs, models.RawTxOut{
			Value:        uint64(btcToSats(vout.Value)),
			ScriptPubKey: script,
		})
	}
	return tx
}

// btcToSats converts a float64 BTC value to satoshis using
// btcutil.NewAmount, which performs correct IEEE-754 rounding instead of
// naive float multiplication.
func btcToSats(btc float64) int64 {
	amt, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0
	}
	return int64(amt)
}

// sleepCtx sleeps for d or until ctx is cancelled; reports whether the
// caller should keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
