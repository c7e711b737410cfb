package market

import (
	"math/rand/v2"
	"sync"
)

// RandSource is the injected randomness capability used for the raffle winner
// draw. Draw returns an integer in [0, n). Implementations must be
// deterministic given their seed; cryptographic quality is the caller's
// concern, not the engine's.
type RandSource interface {
	Draw(n uint64) uint64
}

// seededRand is a PCG-backed RandSource, safe for concurrent use.
type seededRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededRand returns a deterministic RandSource seeded with seed.
func NewSeededRand(seed uint64) RandSource {
	return &seededRand{r: rand.New(rand.NewPCG(seed, seed))}
}

func (s *seededRand) Draw(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Uint64N(n)
}
