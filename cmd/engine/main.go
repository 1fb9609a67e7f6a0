package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/bsq-network/dao-engine/internal/api"
	"github.com/bsq-network/dao-engine/internal/bitcoinrpc"
	"github.com/bsq-network/dao-engine/internal/blockparser"
	"github.com/bsq-network/dao-engine/internal/engine"
	"github.com/bsq-network/dao-engine/internal/events"
	"github.com/bsq-network/dao-engine/internal/ingest"
	"github.com/bsq-network/dao-engine/internal/paramstore"
	"github.com/bsq-network/dao-engine/internal/shadow"
	"github.com/bsq-network/dao-engine/internal/store"
	"github.com/bsq-network/dao-engine/pkg/models"
)

func main() {
	log.Println("Starting BSQ DAO Governance Engine (colored-coin overlay + blind-vote tally)...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values.
	// ────────────────────────────────────────────────────────────────────

	genesisTxID := requireEnv("GENESIS_TX_ID")
	genesisHeight := requireEnvUint32("GENESIS_BLOCK_HEIGHT")
	genesisSupply := requireEnvUint64("GENESIS_TOTAL_SUPPLY")

	dbUrl := requireEnv("DATABASE_URL")

	dbConn, err := store.Connect(dbUrl)
	if err != nil {
		log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting governance data. Error: %v", err)
		dbConn = nil
	} else {
		defer dbConn.Close()
		if err := dbConn.InitSchema(); err != nil {
			log.Printf("Warning: DB schema init failed: %v", err)
		}
	}

	btcHost := getEnvOrDefault("BTC_RPC_HOST", "localhost:8332")
	btcUser := requireEnv("BTC_RPC_USER")
	btcPass := requireEnv("BTC_RPC_PASS")

	btcClient, err := bitcoinrpc.NewClient(bitcoinrpc.Config{
		Host: btcHost,
		User: btcUser,
		Pass: btcPass,
	})
	if err != nil {
		log.Printf("Warning: Failed to connect to Bitcoin RPC: %v", err)
		btcClient = nil
	} else {
		defer btcClient.Shutdown()
	}

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	bus := events.New()
	registry := paramstore.DefaultRegistry()

	eng := engine.New(engine.Config{
		Genesis: blockparser.GenesisConfig{
			TxID:        genesisTxID,
			BlockHeight: genesisHeight,
			TotalSupply: genesisSupply,
		},
		DevMode: api.IsDevMode(),
	}, registry, bus)

	// Dashboards get phase/cycle/block events over the WebSocket hub.
	bus.Subscribe(api.BroadcastDaoEvent(wsHub))

	// Persist committed state as it lands. Listeners run inline on the
	// ingest goroutine and only read engine state.
	if dbConn != nil {
		bus.Subscribe(func(ev events.Event) {
			switch ev.Kind {
			case events.KindParseBlockComplete:
				if err := dbConn.SaveBlock(context.Background(), ev.Block); err != nil {
					log.Printf("Failed to persist block %d: %v", ev.Block.Height, err)
				}
			case events.KindCycleComplete:
				height := eng.Ledger().Height()
				if err := dbConn.SaveCycleResult(context.Background(), height, ev.CycleResult); err != nil {
					log.Printf("Failed to persist cycle %d result: %v", ev.CycleResult.CycleIndex, err)
				}
				persistAcceptedOverrides(dbConn, eng, ev)
			}
		})
	}

	shadowRunner := shadow.NewShadowRunner(eng.Tally(), registry)

	// Setup and start the block-ingest loop
	// GUARD: Only start if btcClient is non-nil to avoid runtime panic
	var ingestor *ingest.Ingestor
	if btcClient != nil {
		ingestor = ingest.NewIngestor(btcClient, eng, genesisHeight)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go ingestor.Run(ctx)
	} else {
		log.Println("WARNING: Bitcoin RPC unavailable — engine running in API-only mode (no ingest loop)")
	}

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, btcClient, wsHub, eng, shadowRunner, ingestor)

	port := getEnvOrDefault("PORT", "5339")

	// Start the server
	log.Printf("Engine running on :%s (genesis tx %s at height %d)\n", port, genesisTxID, genesisHeight)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// persistAcceptedOverrides mirrors accepted parameter changes into the
// store, effective at the first block after the deciding cycle.
func persistAcceptedOverrides(dbConn *store.PostgresStore, eng *engine.Engine, ev events.Event) {
	height := eng.Ledger().Height()
	cycle, ok := eng.Periods().CycleOf(height)
	if !ok {
		return
	}
	effectiveHeight := cycle.LastBlock() + 1

	for _, r := range ev.CycleResult.Results {
		if r.Outcome != models.OutcomeAccepted {
			continue
		}
		p, ok := eng.Ballots().Proposal(r.ProposalTxID)
		if !ok || p.Type != models.ProposalChangeParam {
			continue
		}
		if err := dbConn.SaveParamOverride(context.Background(), p.ChangeParamID, effectiveHeight, p.ChangeParamValue); err != nil {
			log.Printf("Failed to persist param override %s: %v", p.ChangeParamID, err)
		}
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set.", key)
	}
	return val
}

func requireEnvUint32(key string) uint32 {
	val := requireEnv(key)
	parsed, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		log.Fatalf("FATAL: Environment variable %s must be an unsigned integer, got %q", key, val)
	}
	return uint32(parsed)
}

func requireEnvUint64(key string) uint64 {
	val := requireEnv(key)
	parsed, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		log.Fatalf("FATAL: Environment variable %s must be an unsigned integer, got %q", key, val)
	}
	return parsed
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
