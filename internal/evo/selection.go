package evo

import (
	"errors"
	"fmt"
	"math/rand"

	"dinosim/internal/model"
)

const defaultTournamentSize = 3

var errNoRNG = errors.New("random source is required")

// Selector chooses the parent of each non-elite child from the ranked
// generation, best first.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, ranked []ScoredGenome, eliteCount int) (model.Genome, error)
}

func checkSelection(rng *rand.Rand, ranked []ScoredGenome, eliteCount int) error {
	if rng == nil {
		return errNoRNG
	}
	if eliteCount < 1 || eliteCount > len(ranked) {
		return fmt.Errorf("elite count %d outside [1, %d]", eliteCount, len(ranked))
	}
	return nil
}

// EliteSelector breeds only from the elites, uniformly.
type EliteSelector struct{}

func (EliteSelector) Name() string { return "elite" }

func (EliteSelector) PickParent(rng *rand.Rand, ranked []ScoredGenome, eliteCount int) (model.Genome, error) {
	if err := checkSelection(rng, ranked, eliteCount); err != nil {
		return model.Genome{}, err
	}
	return ranked[rng.Intn(eliteCount)].Genome, nil
}

// TournamentSelector draws TournamentSize contestants from the top PoolSize
// genomes and keeps the fittest. PoolSize defaults to twice the elite count.
type TournamentSelector struct {
	PoolSize       int
	TournamentSize int
}

func (TournamentSelector) Name() string { return "tournament" }

func (s TournamentSelector) PickParent(rng *rand.Rand, ranked []ScoredGenome, eliteCount int) (model.Genome, error) {
	if err := checkSelection(rng, ranked, eliteCount); err != nil {
		return model.Genome{}, err
	}

	pool := s.PoolSize
	if pool <= 0 {
		pool = 2 * eliteCount
	}
	pool = min(max(pool, eliteCount), len(ranked))

	rounds := s.TournamentSize
	if rounds <= 0 {
		rounds = defaultTournamentSize
	}
	rounds = min(rounds, pool)

	winner := rng.Intn(pool)
	for ; rounds > 1; rounds-- {
		// ranked is sorted best first, so the lower index wins.
		winner = min(winner, rng.Intn(pool))
	}
	return ranked[winner].Genome, nil
}

func SelectorFromName(name string) (Selector, error) {
	switch name {
	case "", "elite":
		return EliteSelector{}, nil
	case "tournament":
		return TournamentSelector{}, nil
	}
	return nil, fmt.Errorf("unknown selection strategy %q", name)
}
