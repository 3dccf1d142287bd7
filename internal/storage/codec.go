package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"dinosim/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned returns the record header for the current schema and codec.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeGenome(g model.Genome) ([]byte, error) {
	return json.Marshal(g)
}

func DecodeGenome(data []byte) (model.Genome, error) {
	var genome model.Genome
	if err := json.Unmarshal(data, &genome); err != nil {
		return model.Genome{}, err
	}
	if err := checkVersion(genome.VersionedRecord); err != nil {
		return model.Genome{}, err
	}
	return genome, nil
}

func EncodeRunSummary(s model.RunSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeRunSummary(data []byte) (model.RunSummary, error) {
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return summary, nil
}

func EncodeFitnessHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeFitnessHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func EncodeGenerationDiagnostics(diagnostics []model.GenerationDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeGenerationDiagnostics(data []byte) ([]model.GenerationDiagnostics, error) {
	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func sortRunSummaries(summaries []model.RunSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].StartedAt.Equal(summaries[j].StartedAt) {
			return summaries[i].StartedAt.After(summaries[j].StartedAt)
		}
		return summaries[i].RunID < summaries[j].RunID
	})
}
