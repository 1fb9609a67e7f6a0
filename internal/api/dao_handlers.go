package api

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bsq-network/dao-engine/internal/ballotstore"
	"github.com/bsq-network/dao-engine/internal/engine"
	"github.com/bsq-network/dao-engine/internal/metrics"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	height := h.eng.Ledger().Height()
	phase := h.eng.Periods().PhaseFor(height)
	cycleIndex := int64(-1)
	if cycle, ok := h.eng.Periods().CycleOf(height); ok {
		cycleIndex = int64(cycle.Index)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      "BSQ DAO Governance Engine v1.0",
		"chainHeight": height,
		"cycleIndex":  cycleIndex,
		"phase":       phase.String(),
		"paramCount":  len(h.eng.Registry().Enumerate()),
		"capabilities": gin.H{
			"blind_votes":    true,
			"merit_weights":  true,
			"shadow_replay":  h.shadowRunner != nil,
			"event_stream":   true,
		},
		"dbConnected":  h.dbStore != nil,
		"rpcConnected": h.btcClient != nil,
	})
}

// handleGetParams lists every governance parameter with its default and
// the value effective at the current chain height.
func (h *APIHandler) handleGetParams(c *gin.Context) {
	height := h.eng.Ledger().Height()
	registry := h.eng.Registry()

	type paramRow struct {
		ID      models.ParamID `json:"id"`
		Default int64          `json:"default"`
		Current int64          `json:"current"`
	}
	rows := make([]paramRow, 0)
	for _, p := range registry.Enumerate() {
		current, err := registry.Value(p.ID, height)
		if err != nil {
			current = p.Default
		}
		rows = append(rows, paramRow{ID: p.ID, Default: p.Default, Current: current})
	}
	c.JSON(http.StatusOK, gin.H{"height": height, "params": rows})
}

// handleGetParam resolves one parameter at an optional ?height=H.
func (h *APIHandler) handleGetParam(c *gin.Context) {
	id := models.ParamID(c.Param("id"))
	height := h.eng.Ledger().Height()
	if q := c.Query("height"); q != "" {
		parsed, err := strconv.ParseUint(q, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid height"})
			return
		}
		height = uint32(parsed)
	}

	value, err := h.eng.Registry().Value(id, height)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown parameter", "id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        id,
		"height":    height,
		"value":     value,
		"overrides": h.eng.Registry().OverrideHistory(id),
	})
}

// handleGetCycle reports the cycle and phase containing ?height=H
// (default: current tip), plus the cycle's blind-vote turnout so far.
func (h *APIHandler) handleGetCycle(c *gin.Context) {
	height := h.eng.Ledger().Height()
	if q := c.Query("height"); q != "" {
		parsed, err := strconv.ParseUint(q, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid height"})
			return
		}
		height = uint32(parsed)
	}

	cycle, ok := h.eng.Periods().CycleOf(height)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No cycle contains this height", "height": height})
		return
	}

	var participatingStake uint64
	for _, bv := range h.eng.Ballots().BlindVotesInCycle(cycle.Index) {
		participatingStake += bv.Stake
	}

	c.JSON(http.StatusOK, gin.H{
		"height":             height,
		"cycle":              cycle,
		"phase":              h.eng.Periods().PhaseFor(height).String(),
		"participatingStake": participatingStake,
		"turnoutBps":         metrics.TurnoutBps(participatingStake, h.eng.GenesisSupply()),
		"proposals":          h.eng.Ballots().ProposalsInCycle(cycle.Index),
	})
}

// handleIngestProgress returns the current progress of the ingest loop.
func (h *APIHandler) handleIngestProgress(c *gin.Context) {
	if h.ingestor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ingest loop not initialized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ingest": h.ingestor.GetProgress(),
		"parser": h.eng.Progress(),
	})
}

// handleGetBlock returns the parsed, classified view of one block.
func (h *APIHandler) handleGetBlock(c *gin.Context) {
	parsed, err := strconv.ParseUint(c.Param("height"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid height"})
		return
	}
	block, ok := h.eng.Ledger().BlockAt(uint32(parsed))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Block not ingested", "height": parsed})
		return
	}
	c.JSON(http.StatusOK, block)
}

// handleGetResults pages through persisted proposal outcomes and adds a
// stake-concentration summary over the returned page.
func (h *APIHandler) handleGetResults(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	results, totalCount, err := h.dbStore.GetProposalResults(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch proposal results", "details": err.Error()})
		return
	}

	weights := make([]float64, 0, len(results))
	for _, r := range results {
		weights = append(weights, r.AcceptWeight+r.RejectWeight)
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       results,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
		"stakeGini":  metrics.StakeGini(weights),
	})
}

// handleSubmitProposal stages proposal metadata ahead of its on-chain
// confirmation. Validation failures surface as 422 without touching
// state.
// POST /api/v1/proposals
func (h *APIHandler) handleSubmitProposal(c *gin.Context) {
	var req models.Proposal
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	submissionID := uuid.New().String()
	if err := h.eng.SubmitProposal(req); err != nil {
		var vErr *engine.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":        "Validation failed",
				"reason":       vErr.Reason,
				"context":      vErr.Context,
				"submissionId": submissionID,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Printf("[API] proposal draft %s staged for tx %s (%s)", submissionID, req.TxID, req.Type)
	c.JSON(http.StatusOK, gin.H{
		"status":       "staged",
		"submissionId": submissionID,
		"txid":         req.TxID,
	})
}

// handleSetBallotVote mutates the voter-local ballot for a confirmed
// proposal; the engine enforces the proposal-phase gate.
// POST /api/v1/ballots/:txid/vote { "vote": "ACCEPT" }
func (h *APIHandler) handleSetBallotVote(c *gin.Context) {
	txid := c.Param("txid")

	var req struct {
		Vote string `json:"vote"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {vote}"})
		return
	}

	var vote models.Vote
	switch req.Vote {
	case "ACCEPT":
		vote = models.VoteAccept
	case "REJECT":
		vote = models.VoteReject
	case "IGNORE":
		vote = models.VoteIgnore
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vote must be ACCEPT, REJECT or IGNORE"})
		return
	}

	err := h.eng.SetBallotVote(txid, vote)
	switch {
	case errors.Is(err, ballotstore.ErrUnknownProposal):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown proposal", "txid": txid})
	case errors.Is(err, ballotstore.ErrPhaseLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "Ballot vote is phase-locked outside the proposal phase", "txid": txid})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "vote_set", "txid": txid, "vote": req.Vote})
	}
}

// handleSubmitBlindVote stages the encrypted ballot/merit payloads for a
// blind-vote tx the voter is about to broadcast.
// POST /api/v1/blindvotes { "txid", "encryptedBallots", "encryptedMeritList" }
func (h *APIHandler) handleSubmitBlindVote(c *gin.Context) {
	var req struct {
		TxID               string `json:"txid"`
		EncryptedBallots   string `json:"encryptedBallots"`   // base64
		EncryptedMeritList string `json:"encryptedMeritList"` // base64, optional
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {txid, encryptedBallots, encryptedMeritList}"})
		return
	}

	ballots, err := base64.StdEncoding.DecodeString(req.EncryptedBallots)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "encryptedBallots is not valid base64"})
		return
	}
	var meritList []byte
	if req.EncryptedMeritList != "" {
		meritList, err = base64.StdEncoding.DecodeString(req.EncryptedMeritList)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "encryptedMeritList is not valid base64"})
			return
		}
	}

	if err := h.eng.SubmitBlindVotePayload(req.TxID, ballots, meritList); err != nil {
		var vErr *engine.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Validation failed", "reason": vErr.Reason, "context": vErr.Context})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "staged", "txid": req.TxID})
}

// handleShadowReplay tallies a past cycle against a candidate parameter
// override without committing anything, reporting which outcomes flip.
// POST /api/v1/shadow/replay
func (h *APIHandler) handleShadowReplay(c *gin.Context) {
	if h.shadowRunner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shadow replayer not initialized"})
		return
	}

	var req struct {
		CycleIndex     uint32         `json:"cycleIndex"`
		ResultHeight   uint32         `json:"resultHeight"`
		ParamID        models.ParamID `json:"paramId"`
		AtHeight       uint32         `json:"atHeight"`
		CandidateValue int64          `json:"candidateValue"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.shadowRunner.Replay(req.CycleIndex, req.ResultHeight, req.ParamID, req.AtHeight, req.CandidateValue)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Shadow replay failed", "details": err.Error()})
		return
	}

	if h.dbStore != nil {
		if err := h.dbStore.SaveShadowReplay(context.Background(), req.CycleIndex, req.ParamID,
			req.CandidateValue, len(result.Diverged), result.Agreement); err != nil {
			log.Printf("Failed to save shadow replay to DB: %v", err)
		}
	}

	c.JSON(http.StatusOK, result)
}
