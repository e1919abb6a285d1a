package voting

import (
	"math/rand"
	"sync"

	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// Noise injects bounded per-round variance into vote confidence. The
// default engine configuration carries no noise at all, which keeps
// voting deterministic and tests reproducible.
type Noise interface {
	// Jitter returns an offset in [-amplitude, +amplitude].
	Jitter(round int, source models.VoteSource) float64
}

// SeededJitter is a seedable uniform noise source.
type SeededJitter struct {
	mu        sync.Mutex
	rng       *rand.Rand
	amplitude float64
}

// NewSeededJitter creates a jitter source with the given seed and amplitude.
func NewSeededJitter(seed int64, amplitude float64) *SeededJitter {
	return &SeededJitter{
		rng:       rand.New(rand.NewSource(seed)),
		amplitude: amplitude,
	}
}

// Jitter returns a uniform offset in [-amplitude, +amplitude].
func (j *SeededJitter) Jitter(round int, source models.VoteSource) float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return (j.rng.Float64()*2 - 1) * j.amplitude
}
