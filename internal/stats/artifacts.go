package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dinosim/internal/model"
)

const (
	summaryFile     = "summary.json"
	historyFile     = "fitness_history.csv"
	diagnosticsFile = "generation_diagnostics.json"
	championFile    = "champion.json"
)

// RunArtifacts is everything exported for one training run.
type RunArtifacts struct {
	Summary     model.RunSummary
	Diagnostics []model.GenerationDiagnostics
	Champion    *model.Genome
}

// WriteRunArtifacts writes the run under baseDir/<run id> and returns that
// directory. Existing files are overwritten.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	runID := strings.TrimSpace(artifacts.Summary.RunID)
	if runID == "" {
		return "", errors.New("run id is required")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("run id %q is not a valid directory name", runID)
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, diagnosticsFile), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := WriteFitnessSeries(filepath.Join(runDir, historyFile), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if artifacts.Champion != nil {
		if err := writeJSON(filepath.Join(runDir, championFile), artifacts.Champion); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

// ReadRunSummary loads the summary written by WriteRunArtifacts.
func ReadRunSummary(baseDir, runID string) (model.RunSummary, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, summaryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunSummary{}, false, nil
		}
		return model.RunSummary{}, false, err
	}
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, false, err
	}
	return summary, true, nil
}

// WriteFitnessSeries writes one CSV row per generation.
func WriteFitnessSeries(path string, diagnostics []model.GenerationDiagnostics) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_fitness", "mean_fitness", "min_fitness", "std_fitness", "outcome", "ticks", "seed"}); err != nil {
		return err
	}
	for _, d := range diagnostics {
		row := []string{
			strconv.Itoa(d.Generation),
			formatFloat(d.BestFitness),
			formatFloat(d.MeanFitness),
			formatFloat(d.MinFitness),
			formatFloat(d.StdFitness),
			d.Outcome,
			strconv.Itoa(d.Ticks),
			strconv.FormatInt(d.Seed, 10),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
