// Package bitcoinrpc wraps the subset of the Bitcoin Core JSON-RPC
// surface the DAO engine's ingest loop needs: block and raw transaction
// lookups. Wallet management and mempool/fee-estimation calls belong to
// a different kind of node operator and are intentionally not wrapped
// here.
package bitcoinrpc

import (
	"log"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// Client holds a single connection to a Bitcoin Core node's RPC
// interface.
type Client struct {
	RPC    *rpcclient.Client
	Config Config
}

// Config names the RPC endpoint and credentials. There is no default
// host; callers MUST supply one explicitly.
type Config struct {
	Host string
	User string
	Pass string
}

// NewClient dials the node and verifies the connection with a
// lightweight getblockcount call before returning.
func NewClient(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	log.Printf("[bitcoinrpc] Connecting to Bitcoin RPC at %s...", cfg.Host)
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	height, err := client.GetBlockCount()
	if err != nil {
		client.Shutdown()
		return nil, err
	}
	log.Printf("[bitcoinrpc] Connected to Bitcoin node, current height %d", height)

	return &Client{RPC: client, Config: cfg}, nil
}

// Shutdown closes the underlying RPC connection.
func (c *Client) Shutdown() {
	c.RPC.Shutdown()
}

// GetBlockHash resolves a height to its block hash.
func (c *Client) GetBlockHash(height int64) (*chainhash.Hash, error) {
	return c.RPC.GetBlockHash(height)
}

// GetBlockVerbose returns the block at hash with its transaction ids.
func (c *Client) GetBlockVerbose(hash *chainhash.Hash) (*btcjson.GetBlockVerboseResult, error) {
	return c.RPC.GetBlockVerbose(hash)
}

// GetRawTransaction fetches a transaction's full verbose representation,
// including decoded inputs/outputs/scriptPubKey.
func (c *Client) GetRawTransaction(txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	return c.RPC.GetRawTransactionVerbose(txHash)
}

// GetBlockChainInfo reports the node's current chain state.
func (c *Client) GetBlockChainInfo() (*btcjson.GetBlockChainInfoResult, error) {
	return c.RPC.GetBlockChainInfo()
}

// GetBlockCount returns the node's current best-block height.
func (c *Client) GetBlockCount() (int64, error) {
	return c.RPC.GetBlockCount()
}
