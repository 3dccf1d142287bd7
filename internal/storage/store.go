package storage

import (
	"context"
	"errors"

	"dinosim/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

// Store persists trained genomes and the records of training runs.
type Store interface {
	Init(ctx context.Context) error
	SaveGenome(ctx context.Context, genome model.Genome) error
	GetGenome(ctx context.Context, id string) (model.Genome, bool, error)
	ListGenomes(ctx context.Context) ([]model.Genome, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	// ListRunSummaries returns runs newest first.
	ListRunSummaries(ctx context.Context) ([]model.RunSummary, error)
	// Reset removes every stored record.
	Reset(ctx context.Context) error
}
