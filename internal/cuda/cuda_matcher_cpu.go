//go:build !cuda

package cuda

import "github.com/bsq-network/dao-engine/pkg/models"

// DecayMeritBatch sums each entry's decaying merit weight at
// halfLifeBlocks: decay(age) = max(0, 1 - age/halfLifeBlocks*2). This is
// the CPU fallback used when the engine is compiled without the 'cuda'
// build tag — the default, and the only path the vote tally engine may
// rely on for a correct result.
func DecayMeritBatch(entries models.MeritList, halfLifeBlocks uint32) float64 {
	var total float64
	for _, e := range entries {
		total += decay(e.AgeBlocks, halfLifeBlocks)
	}
	return total
}

func decay(ageBlocks, halfLifeBlocks uint32) float64 {
	if halfLifeBlocks == 0 {
		return 0
	}
	d := 1 - float64(ageBlocks)/float64(halfLifeBlocks)*2
	if d < 0 {
		return 0
	}
	return d
}
