// Package metrics computes comparison and dispersion statistics over
// tally results: how closely two tallies of the same cycle agree, how
// much of the token supply turned out to vote, and how concentrated the
// voting weight was.
package metrics

import (
	"math"
	"sort"

	"github.com/bsq-network/dao-engine/pkg/models"
)

// OutcomeAgreement measures how well two tallies of the same cycle agree
// on per-proposal outcomes: the fraction of proposals present in both
// results that reached the same decision.
//
// Values range from 0 (every shared proposal flipped) to 1 (identical
// decisions). Two results with no shared proposals agree vacuously (1).
func OutcomeAgreement(a, b models.CycleResult) float64 {
	outcomes := make(map[string]models.ProposalOutcome, len(a.Results))
	for _, r := range a.Results {
		outcomes[r.ProposalTxID] = r.Outcome
	}

	shared, same := 0, 0
	for _, r := range b.Results {
		prev, ok := outcomes[r.ProposalTxID]
		if !ok {
			continue
		}
		shared++
		if prev == r.Outcome {
			same++
		}
	}
	if shared == 0 {
		return 1.0
	}
	return float64(same) / float64(shared)
}

// TurnoutBps reports participating stake as basis points of the total
// token supply, truncated toward zero. A turnout above 100% (merit
// inflation, double-counted stake) clamps to 10000.
func TurnoutBps(participatingStake, totalSupply uint64) int64 {
	if totalSupply == 0 {
		return 0
	}
	bps := int64(float64(participatingStake) / float64(totalSupply) * 10000)
	if bps > 10000 {
		return 10000
	}
	return bps
}

// StakeGini computes the Gini coefficient of a set of voting weights:
// 0 = perfectly equal weight per voter, approaching 1 = one voter holds
// all the weight. Fewer than two voters yields 0.
func StakeGini(weights []float64) float64 {
	n := len(weights)
	if n < 2 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, weights)
	sort.Float64s(sorted)

	var total, weighted float64
	for i, w := range sorted {
		if w < 0 {
			w = 0
		}
		total += w
		weighted += float64(i+1) * w
	}
	if math.Abs(total) < 1e-12 {
		return 0
	}

	nf := float64(n)
	return (2*weighted/(nf*total) - (nf+1)/nf)
}
