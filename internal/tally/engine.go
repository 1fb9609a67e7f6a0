// Package tally implements the vote tally engine: the
// per-cycle pipeline that pairs blind votes with their reveals, decrypts
// ballots, merges stake with decaying merit weight, and computes each
// proposal's outcome against the registry's quorum and threshold.
package tally

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"sort"

	"golang.org/x/crypto/ripemd160"

	"github.com/bsq-network/dao-engine/internal/ballotstore"
	"github.com/bsq-network/dao-engine/internal/cuda"
	"github.com/bsq-network/dao-engine/internal/paramstore"
	"github.com/bsq-network/dao-engine/pkg/models"
)

// HalfLifeBlocks is the merit decay half-life:
// decay(age) = max(0, 1 - age/HALF_LIFE_BLOCKS*2).
const HalfLifeBlocks = 52_560 // ~1 year at 10-minute blocks

// Engine runs the tally pipeline against a ballot store, a resolver for
// blind-vote commitments (the op-return payload recorded at blind-vote
// confirmation time), and the registry supplying quorum/threshold.
type Engine struct {
	ballots      *ballotstore.Store
	registry     *paramstore.Registry
	commitmentOf func(blindVoteTxID string) ([20]byte, bool)
}

// NewEngine constructs a tally Engine. commitmentOf resolves a
// blind-vote tx-id to the commitment recorded in its op-return payload,
// used to verify a reveal before trusting its decrypted contents.
func NewEngine(ballots *ballotstore.Store, registry *paramstore.Registry, commitmentOf func(string) ([20]byte, bool)) *Engine {
	return &Engine{ballots: ballots, registry: registry, commitmentOf: commitmentOf}
}

// WithRegistry returns a copy of the engine reading quorum/threshold from
// registry instead of the receiver's own, sharing everything else
// (ballot store, commitment resolver). Used by the shadow cycle replayer
// to tally against a candidate registry snapshot without constructing a
// full Engine by hand.
func (e *Engine) WithRegistry(registry *paramstore.Registry) *Engine {
	return &Engine{ballots: e.ballots, registry: registry, commitmentOf: e.commitmentOf}
}

// decryptedPair is one blind-vote/reveal pairing that survived
// commitment verification and decryption.
type decryptedPair struct {
	blindVoteTxID string
	stake         uint64
	ballots       []models.Ballot
	meritList     models.MeritList
}

// Tally runs the full pipeline for cycleIndex at resultHeight (the first
// block of that cycle's RESULT phase), returning one ProposalResult per
// proposal in the cycle, in ascending proposal-tx-id order so every
// side-effect iteration is deterministic.
func (e *Engine) Tally(cycleIndex uint32, resultHeight uint32) (models.CycleResult, error) {
	pairs := e.collectAndDecrypt(cycleIndex)

	proposals := e.ballots.ProposalsInCycle(cycleIndex)
	results := make([]models.ProposalResult, 0, len(proposals))

	for _, p := range proposals {
		acceptWeight, rejectWeight, totalStake := e.weighProposal(p.TxID, pairs)

		quorum, err := e.registry.Value(p.Type.QuorumParam(), resultHeight)
		if err != nil {
			return models.CycleResult{}, fmt.Errorf("tally: resolving quorum for %s: %w", p.TxID, err)
		}
		threshold, err := e.registry.Value(p.Type.ThresholdParam(), resultHeight)
		if err != nil {
			return models.CycleResult{}, fmt.Errorf("tally: resolving threshold for %s: %w", p.TxID, err)
		}

		outcome := decide(totalStake, quorum, acceptWeight, rejectWeight, threshold)

		results = append(results, models.ProposalResult{
			ProposalTxID: p.TxID,
			Outcome:      outcome,
			AcceptWeight: acceptWeight,
			RejectWeight: rejectWeight,
			TotalStake:   totalStake,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ProposalTxID < results[j].ProposalTxID })
	return models.CycleResult{CycleIndex: cycleIndex, Results: results}, nil
}

// decide implements the outcome decision rule. The accept ratio in basis
// points (precision 1/100%), rounded toward zero, must reach threshold.
// Because threshold is a whole number of basis points, this is checked
// as accept×10000 ≥ threshold×(accept+reject), which avoids the rounding
// error a floating-point division would add at an exact boundary.
func decide(totalStake uint64, quorum int64, acceptWeight, rejectWeight float64, threshold int64) models.ProposalOutcome {
	if quorum < 0 {
		quorum = 0
	}
	if totalStake < uint64(quorum) {
		return models.OutcomeRejectedQuorum
	}
	denom := acceptWeight + rejectWeight
	if denom <= 0 {
		return models.OutcomeRejectedThreshold
	}
	if acceptWeight*10000 >= float64(threshold)*denom {
		return models.OutcomeAccepted
	}
	return models.OutcomeRejectedThreshold
}

// collectAndDecrypt pairs each BlindVote in the cycle with its
// VoteReveal (if any; the engine records a reveal only when it confirms
// inside the VOTE_REVEAL phase), verifies the blind vote's commitment,
// then decrypts its ballot and merit lists. A failing commitment check or decryption
// disqualifies that blind vote entirely; it contributes no weight.
func (e *Engine) collectAndDecrypt(cycleIndex uint32) []decryptedPair {
	blindVotes := e.ballots.BlindVotesInCycle(cycleIndex) // already tx-id sorted
	out := make([]decryptedPair, 0, len(blindVotes))

	for _, bv := range blindVotes {
		reveal, ok := e.ballots.RevealFor(bv.TxID)
		if !ok {
			continue
		}

		commitment, ok := e.commitmentOf(bv.TxID)
		if !ok || !verifyCommitment(commitment, bv.EncryptedBallots, reveal.Key) {
			continue
		}

		ballots, err := decryptBallots(bv.EncryptedBallots, reveal.Key)
		if err != nil {
			continue
		}
		meritList, err := decryptMeritList(bv.EncryptedMeritList, reveal.Key)
		if err != nil {
			continue
		}

		out = append(out, decryptedPair{
			blindVoteTxID: bv.TxID,
			stake:         bv.Stake,
			ballots:       ballots,
			meritList:     filterVerifiedMerit(meritList),
		})
	}
	return out
}

// verifyCommitment recomputes RIPEMD160(SHA256(ciphertext)) and compares
// it byte-exact to the commitment recorded in the blind-vote op-return
// payload when the blind vote confirmed.
func verifyCommitment(commitment [20]byte, ciphertext []byte, _ [16]byte) bool {
	h := sha256.Sum256(ciphertext)
	r := ripemd160.New()
	r.Write(h[:])
	got := r.Sum(nil)
	return bytes.Equal(got, commitment[:])
}

// weighProposal sums accept/reject weight and total stake for a single
// proposal across every decrypted pair. Effective weight = stake +
// Σ(merit_i × decay(age_i)), each merit entry worth unit weight scaled
// by its own recorded age, duplicate merit entries deduplicated by
// issuance-tx-id (highest-age kept).
func (e *Engine) weighProposal(proposalTxID string, pairs []decryptedPair) (accept, reject float64, totalStake uint64) {
	for _, pair := range pairs {
		var vote models.Vote = models.VoteIgnore
		for _, b := range pair.ballots {
			if b.ProposalTxID == proposalTxID {
				vote = b.Vote
				break
			}
		}
		if vote == models.VoteIgnore {
			continue
		}

		meritWeight := cuda.DecayMeritBatch(dedupeMerit(pair.meritList), HalfLifeBlocks)
		effectiveWeight := float64(pair.stake) + meritWeight
		totalStake += pair.stake

		switch vote {
		case models.VoteAccept:
			accept += effectiveWeight
		case models.VoteReject:
			reject += effectiveWeight
		}
	}
	return accept, reject, totalStake
}

// dedupeMerit removes duplicate issuance-tx-id entries, keeping the one
// with the highest AgeBlocks.
func dedupeMerit(list models.MeritList) models.MeritList {
	best := make(map[string]models.MeritEntry, len(list))
	for _, entry := range list {
		existing, ok := best[entry.IssuanceTxID]
		if !ok || entry.AgeBlocks > existing.AgeBlocks {
			best[entry.IssuanceTxID] = entry
		}
	}
	out := make(models.MeritList, 0, len(best))
	for _, entry := range best {
		out = append(out, entry)
	}
	return out
}

// decryptBallots AES-128-CBC-decrypts and deserializes a ballot-list
// payload. Serialization is the deterministic, length-prefixed
// concatenation the commitment covers.
func decryptBallots(ciphertext []byte, key [16]byte) ([]models.Ballot, error) {
	plain, err := decryptCBC(ciphertext, key)
	if err != nil {
		return nil, err
	}
	return deserializeBallots(plain)
}

// decryptMeritList AES-128-CBC-decrypts and deserializes a merit-list
// payload.
func decryptMeritList(ciphertext []byte, key [16]byte) (models.MeritList, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	plain, err := decryptCBC(ciphertext, key)
	if err != nil {
		return nil, err
	}
	return deserializeMeritList(plain)
}

// decryptCBC performs AES-128-CBC decryption assuming the first block of
// ciphertext is the IV, matching the sealing convention used when the
// blind vote was constructed client-side.
func decryptCBC(ciphertext []byte, key [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("tally: %w", err)
	}
	if len(ciphertext) < aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("tally: ciphertext is not a whole number of blocks plus IV")
	}

	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]
	if len(body) == 0 {
		return nil, nil
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	return unpad(plain)
}

// unpad strips PKCS#7 padding.
func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return nil, fmt.Errorf("tally: invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("tally: invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
