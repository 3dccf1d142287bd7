package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"dinosim/internal/model"
	"dinosim/pkg/dinosim"
)

const (
	defaultDBPath = "dinosim.db"
	logsDir       = "logs"
	logFileName   = "dinosim.log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "play":
		return runPlay(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "watch":
		return runWatch(ctx, args[1:])
	case "replay":
		return runReplay(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "tune":
		return runTune(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: dinosimctl <init|reset|play|train|evaluate|watch|replay|runs|fitness|diagnostics|tune|export> [flags]", msg)
}

type storeFlags struct {
	kind   *string
	dbPath *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		kind:   fs.String("store", "sqlite", "store backend: memory|sqlite"),
		dbPath: fs.String("db-path", defaultDBPath, "sqlite database path"),
	}
}

func (s storeFlags) open(configPath string, logger *log.Logger) (*dinosim.Client, error) {
	cfg, err := loadOrDefaultConfig(configPath)
	if err != nil {
		return nil, err
	}
	world := cfg.World
	return dinosim.New(dinosim.Options{
		StoreKind: *s.kind,
		DBPath:    *s.dbPath,
		World:     &world,
		Logger:    logger,
	})
}

// stderrLogger is the logger for commands that do not own the terminal.
func stderrLogger(verbose bool) *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "dinosimctl: ", log.LstdFlags)
}

// setupLogging sends logs to logs/dinosim.log when debug is set and discards
// them otherwise, so nothing writes over a tcell screen.
func setupLogging(debug bool) (*log.Logger, func(), error) {
	if !debug {
		return log.New(io.Discard, "", 0), func() {}, nil
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logsDir, logFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return log.New(f, "dinosim: ", log.LstdFlags|log.Lmicroseconds), func() { _ = f.Close() }, nil
}

func requireTerminal(command string) error {
	fd := os.Stdout.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return nil
	}
	return fmt.Errorf("%s needs an interactive terminal", command)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.open("", nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *store.kind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.open("", nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *store.kind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional JSON config with world and train sections")
	runID := fs.String("run-id", "", "explicit run id (default: random uuid)")
	population := fs.Int("pop", 50, "population size")
	generations := fs.Int("gens", 50, "generation count")
	eliteCount := fs.Int("elite", 1, "genomes copied unchanged into the next generation")
	mutations := fs.Int("mutations", 1, "mutations applied to each child")
	hidden := fs.Int("hidden", 0, "hidden neurons per genome (0 wires inputs straight to the output)")
	seed := fs.Int64("seed", 1, "rng seed")
	fitnessGoal := fs.Float64("fitness-goal", 0, "early-stop best fitness goal (0 disables)")
	selection := fs.String("selection", "elite", "parent selection strategy: elite|tournament")
	verbose := fs.Bool("v", false, "log progress to stderr")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := loadOrDefaultConfig(*configPath)
	if err != nil {
		return err
	}
	req := dinosim.TrainRequest{
		RunID:             *runID,
		Population:        *population,
		Generations:       *generations,
		EliteCount:        *eliteCount,
		MutationsPerChild: *mutations,
		Hidden:            *hidden,
		Seed:              *seed,
		FitnessGoal:       *fitnessGoal,
		Selection:         *selection,
	}
	if *configPath != "" {
		req = cfg.Train
		overrideTrainFromFlags(&req, setFlags, map[string]any{
			"run-id":       *runID,
			"pop":          *population,
			"gens":         *generations,
			"elite":        *eliteCount,
			"mutations":    *mutations,
			"hidden":       *hidden,
			"seed":         *seed,
			"fitness-goal": *fitnessGoal,
			"selection":    *selection,
		})
	}
	req.OnGeneration = func(d model.GenerationDiagnostics) {
		fmt.Printf("generation=%d best=%s mean=%.1f min=%s std=%.1f outcome=%s ticks=%d\n",
			d.Generation,
			humanize.Comma(int64(d.BestFitness)),
			d.MeanFitness,
			humanize.Comma(int64(d.MinFitness)),
			d.StdFitness,
			d.Outcome,
			d.Ticks,
		)
	}

	client, err := dinosim.New(dinosim.Options{
		StoreKind: *store.kind,
		DBPath:    *store.dbPath,
		World:     &cfg.World,
		Logger:    stderrLogger(*verbose || cfg.Verbose),
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	started := time.Now()
	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s champion=%s best_fitness=%s final_best_fitness=%s goal_reached=%t elapsed=%s\n",
		summary.RunID,
		summary.ChampionID,
		humanize.Comma(int64(summary.BestFitness)),
		humanize.Comma(int64(summary.FinalBestFitness)),
		summary.GoalReached,
		time.Since(started).Round(time.Millisecond),
	)
	return nil
}

type agentFlags struct {
	genomeID *string
	latest   *bool
	scripted *string
}

func addAgentFlags(fs *flag.FlagSet) agentFlags {
	return agentFlags{
		genomeID: fs.String("genome-id", "", "stored genome id"),
		latest:   fs.Bool("latest", false, "use the champion of the most recent run"),
		scripted: fs.String("scripted", "", "scripted controller: never|always|reflex"),
	}
}

func (a agentFlags) request() dinosim.AgentRequest {
	return dinosim.AgentRequest{GenomeID: *a.genomeID, Latest: *a.latest, Scripted: *a.scripted}
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional JSON config with a world section")
	mode := fs.String("mode", "test", "evaluation mode: gt|validation|test|benchmark")
	jsonOut := fs.Bool("json", false, "emit the evaluation as JSON")
	agentReq := addAgentFlags(fs)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.open(*configPath, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, dinosim.EvaluateRequest{Agent: agentReq.request(), Mode: *mode})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	fmt.Printf("agent=%s mode=%s fitness=%s outcomes=%v ticks=%v\n",
		summary.AgentID,
		summary.Mode,
		humanize.Commaf(summary.Fitness),
		summary.Trace["outcomes"],
		summary.Trace["ticks"],
	)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := store.open("", nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, dinosim.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s started=%s seed=%d pop=%d gens=%d selection=%s best_fitness=%s champion=%s goal_reached=%t\n",
			r.RunID,
			humanize.Time(r.StartedAt),
			r.Seed,
			r.PopulationSize,
			r.Generations,
			r.Selection,
			humanize.Comma(int64(r.BestFitness)),
			r.BestGenomeID,
			r.GoalReached,
		)
	}
	return nil
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show fitness history for the most recent run")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit fitness history as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("fitness requires --run-id or --latest")
	}
	if *limit < 0 {
		*limit = 0
	}

	client, err := store.open("", nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, dinosim.FitnessHistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no fitness history")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}
	for i, best := range history {
		fmt.Printf("generation=%d best_fitness=%s\n", i+1, humanize.Comma(int64(best)))
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show diagnostics for the most recent run")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("diagnostics requires --run-id or --latest")
	}
	if *limit < 0 {
		*limit = 0
	}

	client, err := store.open("", nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, dinosim.DiagnosticsRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Printf("generation=%d best=%s mean=%.1f min=%s std=%.1f outcome=%s ticks=%d seed=%d best_genome=%s\n",
			d.Generation,
			humanize.Comma(int64(d.BestFitness)),
			d.MeanFitness,
			humanize.Comma(int64(d.MinFitness)),
			d.StdFitness,
			d.Outcome,
			d.Ticks,
			d.Seed,
			d.BestGenomeID,
		)
	}
	return nil
}

func runTune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tune", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional JSON config with a world section")
	genomeID := fs.String("genome-id", "", "stored genome id")
	latest := fs.Bool("latest", false, "tune the champion of the most recent run")
	mode := fs.String("mode", "validation", "evaluation mode used to score candidates")
	attempts := fs.Int("attempts", 10, "candidate perturbations to try")
	steps := fs.Int("steps", 3, "weights perturbed per candidate")
	stepSize := fs.Float64("step-size", 0.5, "maximum perturbation of one weight")
	fitnessGoal := fs.Float64("fitness-goal", 0, "stop once this fitness is reached (0 disables)")
	seed := fs.Int64("seed", 1, "rng seed")
	verbose := fs.Bool("v", false, "log progress to stderr")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.open(*configPath, stderrLogger(*verbose))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Tune(ctx, dinosim.TuneRequest{
		Agent:       dinosim.AgentRequest{GenomeID: *genomeID, Latest: *latest},
		Mode:        *mode,
		Attempts:    *attempts,
		Steps:       *steps,
		StepSize:    *stepSize,
		FitnessGoal: *fitnessGoal,
		Seed:        *seed,
	})
	if err != nil {
		return err
	}
	fmt.Printf("parent=%s genome=%s saved=%t mode=%s fitness=%s->%s accepted=%d evaluations=%d\n",
		summary.ParentID,
		summary.GenomeID,
		summary.Saved,
		summary.Mode,
		humanize.Commaf(summary.Report.StartFitness),
		humanize.Commaf(summary.Report.BestFitness),
		summary.Report.Accepted,
		summary.Report.Evaluations,
	)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", "exports", "directory that receives <run id>/")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := store.open("", nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runDir, err := client.Export(ctx, dinosim.ExportRequest{RunID: *runID, Latest: *latest, Dir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run to %s\n", runDir)
	return nil
}
