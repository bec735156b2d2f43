package commands

import "math/rand/v2"

// Chance decides whether a probabilistic action fires.
type Chance interface {
	Hit() bool
}

// Probability fires with probability p.
type Probability float64

func (p Probability) Hit() bool {
	if p <= 0 {
		return false
	}
	return rand.Float64() < float64(p)
}

// Always is a Chance with a fixed outcome.
type Always bool

func (a Always) Hit() bool { return bool(a) }
