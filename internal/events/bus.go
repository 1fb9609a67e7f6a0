// Package events implements the engine's single in-process event bus: a
// synchronous, in-registration-order dispatcher for the block-ingest and
// governance-cycle lifecycle events. Listeners run
// inline on the ingest goroutine and must not mutate ledger state — they
// may only enqueue work for after the current block completes.
package events

import (
	"sync"

	"github.com/bsq-network/dao-engine/pkg/models"
)

// Kind discriminates the variant carried by an Event.
type Kind int

const (
	KindNewBlockHeight Kind = iota
	KindEmptyBlockAdded
	KindParseBlockComplete
	KindPhaseChanged
	KindCycleComplete
)

func (k Kind) String() string {
	switch k {
	case KindNewBlockHeight:
		return "NewBlockHeight"
	case KindEmptyBlockAdded:
		return "EmptyBlockAdded"
	case KindParseBlockComplete:
		return "ParseBlockComplete"
	case KindPhaseChanged:
		return "PhaseChanged"
	case KindCycleComplete:
		return "CycleComplete"
	default:
		return "Unknown"
	}
}

// Event is a typed, tagged-union-style payload. Exactly one of the
// fields matching Kind is populated; the rest are zero values.
type Event struct {
	Kind Kind

	NewBlockHeight uint32
	Block          models.Block // EmptyBlockAdded, ParseBlockComplete
	Phase          models.DaoPhase
	CycleResult    models.CycleResult
}

// Listener receives dispatched events. It must return promptly: the bus
// calls every listener inline, on the caller's goroutine, in registration
// order, so a slow or blocking listener stalls the block-ingest loop.
type Listener func(Event)

// Bus is a single subscription list shared by every emitter in the
// engine. The zero value is not usable; construct with New.
type Bus struct {
	mu        sync.Mutex
	listeners []Listener
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a listener, returning an unsubscribe function.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = append(b.listeners, l)
	idx := len(b.listeners) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// Replace with a no-op rather than slice-shrink so concurrently
		// held indices from other unsubscribe closures stay valid.
		b.listeners[idx] = func(Event) {}
	}
}

// snapshot returns the current listener slice without holding the lock
// during dispatch, so a listener may itself call Subscribe.
func (b *Bus) snapshot() []Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Listener, len(b.listeners))
	copy(out, b.listeners)
	return out
}

func (b *Bus) emit(e Event) {
	for _, l := range b.snapshot() {
		l(e)
	}
}

// NewBlockHeight emits KindNewBlockHeight, the first event fired once a
// candidate block has passed linkage validation.
func (b *Bus) NewBlockHeight(height uint32) {
	b.emit(Event{Kind: KindNewBlockHeight, NewBlockHeight: height})
}

// EmptyBlockAdded emits KindEmptyBlockAdded for the freshly created,
// as-yet-unparsed block envelope.
func (b *Bus) EmptyBlockAdded(block models.Block) {
	b.emit(Event{Kind: KindEmptyBlockAdded, Block: block})
}

// ParseBlockComplete emits KindParseBlockComplete once every tx in the
// block has been classified and appended to ledger state.
func (b *Bus) ParseBlockComplete(block models.Block) {
	b.emit(Event{Kind: KindParseBlockComplete, Block: block})
}

// PhaseChanged emits KindPhaseChanged when phaseFor(height) differs from
// phaseFor(height-1). Fires 0 or 1 times per block.
func (b *Bus) PhaseChanged(phase models.DaoPhase) {
	b.emit(Event{Kind: KindPhaseChanged, Phase: phase})
}

// CycleComplete emits KindCycleComplete once the Vote Tally Engine has
// computed every proposal's outcome for a cycle. Fires 0 or 1 times per
// block.
func (b *Bus) CycleComplete(result models.CycleResult) {
	b.emit(Event{Kind: KindCycleComplete, CycleResult: result})
}
