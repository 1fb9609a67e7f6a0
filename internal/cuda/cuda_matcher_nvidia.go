//go:build cuda

package cuda

/*
#cgo LDFLAGS: -L${SRCDIR} -lkernel -L/usr/local/cuda/lib64 -lcudart
#include "bindings.h"
*/
import "C"
import (
	"log"

	"github.com/bsq-network/dao-engine/pkg/models"
)

// DecayMeritBatch is the intended GPU-accelerated counterpart to the CPU
// implementation, offloading the per-entry decay reduction to the CUDA
// kernel for very large merit lists. The kernel binding is not wired up
// yet (no bindings.h/libkernel in this tree); builds tagged 'cuda' are
// not part of the default build and must not be used for consensus-path
// tallying until this lands. TODO: implement CalculateMeritDecayCUDA and
// call it here instead of falling through to the scalar loop.
func DecayMeritBatch(entries models.MeritList, halfLifeBlocks uint32) float64 {
	log.Println("[WARNING] CUDA merit-decay kernel requested but not implemented; falling back to CPU loop.")

	var total float64
	for _, e := range entries {
		d := 1 - float64(e.AgeBlocks)/float64(halfLifeBlocks)*2
		if d < 0 {
			d = 0
		}
		total += d
	}
	return total
}
