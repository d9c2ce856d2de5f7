package source

import (
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Normal draws N samples from the standard normal distribution.
type Normal struct {
	N   int
	Src rand.Source // nil uses the process-global source
}

func (Normal) Name() string { return "normal" }

func (g Normal) Generate() (Dataset, error) {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: g.Src}
	out := make(Dataset, g.N)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out, nil
}

// Poisson draws N samples from a Poisson distribution with rate Lambda.
// Samples are non-negative integers represented as float64.
type Poisson struct {
	N      int
	Lambda float64
	Src    rand.Source // nil uses the process-global source
}

func (Poisson) Name() string { return "poisson" }

func (g Poisson) Generate() (Dataset, error) {
	dist := distuv.Poisson{Lambda: g.Lambda, Src: g.Src}
	out := make(Dataset, g.N)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out, nil
}

// NewSeeded returns a deterministic rand source that is safe to share
// across sessions. The underlying source is not goroutine-safe, so draws
// are serialized with a mutex.
func NewSeeded(seed uint64) rand.Source {
	return &lockedSource{src: rand.NewSource(seed)}
}

type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

func (s *lockedSource) Seed(seed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}
