package storage

import (
	"context"
	"sort"
	"sync"

	"dinosim/internal/genotype"
	"dinosim/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	genomes     map[string]model.Genome
	history     map[string][]float64
	diagnostics map[string][]model.GenerationDiagnostics
	runs        map[string]model.RunSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.clear()
	return nil
}

func (s *MemoryStore) clear() {
	s.genomes = make(map[string]model.Genome)
	s.history = make(map[string][]float64)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	s.runs = make(map[string]model.RunSummary)
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.clear()
	return nil
}

func (s *MemoryStore) SaveGenome(_ context.Context, genome model.Genome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.genomes[genome.ID] = genotype.CloneGenome(genome)
	return nil
}

func (s *MemoryStore) GetGenome(_ context.Context, id string) (model.Genome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Genome{}, false, ErrNotInitialized
	}
	genome, ok := s.genomes[id]
	if !ok {
		return model.Genome{}, false, nil
	}
	return genotype.CloneGenome(genome), true, nil
}

func (s *MemoryStore) ListGenomes(_ context.Context) ([]model.Genome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]model.Genome, 0, len(s.genomes))
	for _, genome := range s.genomes {
		out = append(out, genotype.CloneGenome(genome))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.history[runID] = append([]float64(nil), history...)
	return nil
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, ErrNotInitialized
	}
	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), history...), true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.diagnostics[runID] = append([]model.GenerationDiagnostics(nil), diagnostics...)
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, ErrNotInitialized
	}
	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.GenerationDiagnostics(nil), diagnostics...), true, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.runs[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RunSummary{}, false, ErrNotInitialized
	}
	summary, ok := s.runs[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRunSummaries(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]model.RunSummary, 0, len(s.runs))
	for _, summary := range s.runs {
		out = append(out, summary)
	}
	sortRunSummaries(out)
	return out, nil
}
