// Package paramstore implements the Param Registry: named governance
// parameters with a compiled-in default and a height-indexed override
// list.
package paramstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bsq-network/dao-engine/pkg/models"
)

// ErrStaleOverride is returned by AppendOverride when the given height is
// not strictly greater than the last recorded override height for that
// Param. It is fatal to the caller: it indicates a height regression,
// which violates the registry's monotone-height invariant.
var ErrStaleOverride = errors.New("paramstore: stale override")

// ErrUnknownParam is returned when looking up an id that was never
// registered with a default value.
var ErrUnknownParam = errors.New("paramstore: unknown param")

type override struct {
	height uint32
	value  int64
}

// Registry holds, per Param id, a strictly-increasing sorted list of
// (height, value) overrides plus the immutable compiled-in default.
type Registry struct {
	mu        sync.RWMutex
	defaults  map[models.ParamID]int64
	overrides map[models.ParamID][]override
	order     []models.ParamID // sorted by id, for deterministic Enumerate
}

// NewRegistry builds a registry from a fixed set of defaults. Once
// constructed, the default values themselves never change — only
// AppendOverride may add entries; defaults are immutable post-genesis.
func NewRegistry(defaults map[models.ParamID]int64) *Registry {
	order := make([]models.ParamID, 0, len(defaults))
	for id := range defaults {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	defCopy := make(map[models.ParamID]int64, len(defaults))
	for id, v := range defaults {
		defCopy[id] = v
	}

	return &Registry{
		defaults:  defCopy,
		overrides: make(map[models.ParamID][]override),
		order:     order,
	}
}

// Value returns the most recent override at or before atHeight, else the
// compiled-in default. A pure function of committed state.
func (r *Registry) Value(id models.ParamID, atHeight uint32) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defaults[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownParam, id)
	}

	overrides := r.overrides[id]
	// Binary search for the last override with height <= atHeight.
	idx := sort.Search(len(overrides), func(i int) bool {
		return overrides[i].height > atHeight
	})
	if idx == 0 {
		return def, nil
	}
	return overrides[idx-1].value, nil
}

// AppendOverride records a new override, valid only if atHeight is
// strictly greater than the last override's height for that id.
func (r *Registry) AppendOverride(id models.ParamID, atHeight uint32, value int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defaults[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParam, id)
	}

	existing := r.overrides[id]
	if len(existing) > 0 && atHeight <= existing[len(existing)-1].height {
		return fmt.Errorf("%w: id=%s atHeight=%d lastHeight=%d",
			ErrStaleOverride, id, atHeight, existing[len(existing)-1].height)
	}

	r.overrides[id] = append(existing, override{height: atHeight, value: value})
	return nil
}

// Clone returns an independent copy of the registry — same defaults,
// same override history — for a caller that wants to stage a speculative
// AppendOverride without affecting the live registry, as the shadow
// cycle replayer does.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defCopy := make(map[models.ParamID]int64, len(r.defaults))
	for id, v := range r.defaults {
		defCopy[id] = v
	}
	overridesCopy := make(map[models.ParamID][]override, len(r.overrides))
	for id, list := range r.overrides {
		listCopy := make([]override, len(list))
		copy(listCopy, list)
		overridesCopy[id] = listCopy
	}
	orderCopy := make([]models.ParamID, len(r.order))
	copy(orderCopy, r.order)

	return &Registry{defaults: defCopy, overrides: overridesCopy, order: orderCopy}
}

// ParamDefault is a read-model row for Enumerate.
type ParamDefault struct {
	ID      models.ParamID
	Default int64
}

// Enumerate lists every registered param id with its compiled-in default,
// in stable (sorted) order.
func (r *Registry) Enumerate() []ParamDefault {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ParamDefault, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, ParamDefault{ID: id, Default: r.defaults[id]})
	}
	return out
}

// OverrideHistory returns the full (height, value) override history for
// an id, oldest first. Used by the persistence snapshot layer.
func (r *Registry) OverrideHistory(id models.ParamID) []struct {
	Height uint32
	Value  int64
} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	overrides := r.overrides[id]
	out := make([]struct {
		Height uint32
		Value  int64
	}, len(overrides))
	for i, o := range overrides {
		out[i] = struct {
			Height uint32
			Value  int64
		}{Height: o.height, Value: o.value}
	}
	return out
}

// DefaultRegistry returns a Registry seeded with the engine's named
// governance parameters and sane production-scale defaults.
func DefaultRegistry() *Registry {
	return NewRegistry(map[models.ParamID]int64{
		models.ParamMakerFeeColored: 2,
		models.ParamTakerFeeColored: 3,
		models.ParamMakerFeeBTC:     200,
		models.ParamTakerFeeBTC:     300,
		models.ParamProposalFee:     100,
		models.ParamBlindVoteFee:    50,

		models.ParamQuorumCompensation: 100_000,
		models.ParamQuorumChangeParam:  150_000,
		models.ParamQuorumBurnBond:     150_000,
		models.ParamQuorumRemoveAsset:  150_000,
		models.ParamQuorumGeneric:      50_000,

		models.ParamThresholdCompensation: 5000, // 50.00%
		models.ParamThresholdChangeParam:  5000,
		models.ParamThresholdBurnBond:     5000,
		models.ParamThresholdRemoveAsset:  5000,
		models.ParamThresholdGeneric:      5000,

		models.ParamPhaseProposalBlocks:   3600,
		models.ParamPhaseBreak1Blocks:     10,
		models.ParamPhaseBlindVoteBlocks:  2880,
		models.ParamPhaseBreak2Blocks:     10,
		models.ParamPhaseVoteRevealBlocks: 1440,
		models.ParamPhaseBreak3Blocks:     10,
		models.ParamPhaseResultBlocks:     10,
		models.ParamPhaseBreak4Blocks:     10,

		models.ParamLockTimeMin: 1,
		models.ParamLockTimeMax: 156_000,
	})
}
