package api

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bsq-network/dao-engine/internal/bitcoinrpc"
	"github.com/bsq-network/dao-engine/internal/engine"
	"github.com/bsq-network/dao-engine/internal/ingest"
	"github.com/bsq-network/dao-engine/internal/shadow"
	"github.com/bsq-network/dao-engine/internal/store"
)

// APIHandler bundles the read-only collaborators the HTTP surface needs.
// Handlers never mutate ledger state directly; proposal drafts and
// blind-vote payloads are staged on the engine until their tx confirms,
// while a ballot vote is applied to the ballot store immediately.
type APIHandler struct {
	dbStore      *store.PostgresStore
	btcClient    *bitcoinrpc.Client
	wsHub        *Hub
	eng          *engine.Engine
	shadowRunner *shadow.ShadowRunner
	ingestor     *ingest.Ingestor
}

func SetupRouter(dbStore *store.PostgresStore, btcClient *bitcoinrpc.Client, wsHub *Hub, eng *engine.Engine, shadowRunner *shadow.ShadowRunner, ingestor *ingest.Ingestor) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://dao.example.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:      dbStore,
		btcClient:    btcClient,
		wsHub:        wsHub,
		eng:          eng,
		shadowRunner: shadowRunner,
		ingestor:     ingestor,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/params", handler.handleGetParams)
		pub.GET("/params/:id", handler.handleGetParam)
		pub.GET("/cycle", handler.handleGetCycle)
		pub.GET("/ledger/progress", handler.handleIngestProgress)
		pub.GET("/ledger/block/:height", handler.handleGetBlock)
		pub.GET("/results", handler.handleGetResults)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	// Rate-limit protected endpoints to 30 req/min per IP (burst=5).
	// Submission endpoints stage state on the engine — especially important here.
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/proposals", handler.handleSubmitProposal)
		auth.POST("/ballots/:txid/vote", handler.handleSetBallotVote)
		auth.POST("/blindvotes", handler.handleSubmitBlindVote)
		auth.POST("/shadow/replay", handler.handleShadowReplay)
	}

	// Serve Static Dashboard
	r.Static("/dashboard", "./public")

	return r
}
