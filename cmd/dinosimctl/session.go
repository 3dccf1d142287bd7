package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"

	"dinosim/internal/replay"
	"dinosim/internal/sim"
	"dinosim/internal/spectate"
	"dinosim/internal/terminal"
)

const shutdownTimeout = 3 * time.Second

// openScreen initialises a tcell screen wrapped in a frontend.
func openScreen() (tcell.Screen, *terminal.Frontend, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, nil, fmt.Errorf("open terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, nil, fmt.Errorf("init terminal: %w", err)
	}
	return screen, terminal.New(screen), nil
}

// recording opens path for a replay recording. An empty path disables it.
type recording struct {
	file     *os.File
	recorder *replay.Recorder
}

func startRecording(path string, world sim.Config, label string) (*recording, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	recorder, err := replay.NewRecorder(f, world, label)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &recording{file: f, recorder: recorder}, nil
}

func (r *recording) sink() sim.Sink {
	if r == nil {
		return nil
	}
	return r.recorder
}

func (r *recording) close() (frames int, size int64, err error) {
	if r == nil {
		return 0, 0, nil
	}
	err = r.recorder.Close()
	if closeErr := r.file.Close(); err == nil {
		err = closeErr
	}
	return r.recorder.Frames(), r.recorder.Bytes(), err
}

func runPlay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional JSON config with a world section")
	seed := fs.Int64("seed", time.Now().UnixNano(), "obstacle course seed")
	rate := fs.Int("rate", sim.DefaultTickRate, "ticks per second")
	debug := fs.Bool("debug", false, "write logs to logs/dinosim.log")
	record := fs.String("record", "", "record the session to this replay file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	if err := requireTerminal("play"); err != nil {
		return err
	}

	cfg, err := loadOrDefaultConfig(*configPath)
	if err != nil {
		return err
	}
	world := cfg.World
	world.Mode = sim.ModeHuman
	world.Actors = 1
	if *configPath == "" || setFlags["seed"] {
		world.Seed = *seed
	}

	logger, closeLog, err := setupLogging(*debug)
	if err != nil {
		return err
	}
	defer closeLog()

	episode, err := sim.New(world, sim.Options{Logger: logger})
	if err != nil {
		return err
	}
	rec, err := startRecording(*record, world, "play")
	if err != nil {
		return err
	}

	screen, frontend, err := openScreen()
	if err != nil {
		_, _, _ = rec.close()
		return err
	}
	frontend.Frame(episode.Snapshot())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	queue := sim.NewInputQueue()
	go frontend.Listen(ctx, queue)

	pacer := sim.NewTickerPacer(*rate)
	_, runErr := episode.Run(ctx, queue, sim.MultiSink(frontend, rec.sink()), pacer)
	pacer.Stop()
	cancel()
	screen.Fini()

	frames, size, recErr := rec.close()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if recErr != nil {
		return recErr
	}
	fmt.Printf("best_score=%s restarts=%d\n", humanize.Comma(int64(episode.BestScore())), episode.Restarts())
	if *record != "" {
		fmt.Printf("recorded=%s frames=%s size=%s\n", *record, humanize.Comma(int64(frames)), humanize.Bytes(uint64(size)))
	}
	return nil
}

type episodeReport struct {
	index  int
	result sim.Result
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional JSON config with a world section")
	addr := fs.String("addr", "127.0.0.1:8080", "spectator listen address")
	actors := fs.Int("actors", 1, "actors per episode, all driven by the chosen controller")
	episodes := fs.Int("episodes", 1, "episodes to stream (0 runs until interrupted)")
	seed := fs.Int64("seed", 1, "seed of the first episode; later episodes add their index")
	rate := fs.Int("rate", sim.DefaultTickRate, "ticks per second")
	view := fs.Bool("view", false, "also draw the episodes in this terminal")
	debug := fs.Bool("debug", false, "write logs to logs/dinosim.log")
	record := fs.String("record", "", "record the streamed episodes to this replay file")
	agentReq := addAgentFlags(fs)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *actors <= 0 {
		return errors.New("actors must be > 0")
	}
	if *episodes < 0 {
		return errors.New("episodes must be >= 0")
	}
	if *view {
		if err := requireTerminal("watch -view"); err != nil {
			return err
		}
	}

	var (
		logger    *log.Logger
		accessLog io.Writer
		closeLog  = func() {}
		err       error
	)
	if *view {
		logger, closeLog, err = setupLogging(*debug)
		if err != nil {
			return err
		}
	} else {
		logger = stderrLogger(true)
		accessLog = os.Stderr
	}
	defer closeLog()

	client, err := store.open(*configPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	world := client.World()
	world.Actors = *actors
	rec, err := startRecording(*record, world, "watch")
	if err != nil {
		return err
	}

	hub := spectate.NewHub(logger)
	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		_, _, _ = rec.close()
		return fmt.Errorf("listen: %w", err)
	}
	server := &http.Server{Handler: hub.Handler(accessLog), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("spectator server: %v", err)
		}
	}()
	if !*view {
		fmt.Printf("spectating on ws://%s/ws\n", listener.Addr())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sinks := []sim.Sink{hub, rec.sink()}
	var screen tcell.Screen
	queue := sim.NewInputQueue()
	if *view {
		var frontend *terminal.Frontend
		screen, frontend, err = openScreen()
		if err != nil {
			_, _, _ = rec.close()
			return err
		}
		sinks = append(sinks, frontend)
		go frontend.Listen(ctx, queue)
	}
	sink := sim.MultiSink(sinks...)

	pacer := sim.NewTickerPacer(*rate)
	var (
		reports []episodeReport
		runErr  error
	)
	for k := 0; *episodes == 0 || k < *episodes; k++ {
		world.Seed = *seed + int64(k)
		agents, err := client.Controllers(ctx, agentReq.request(), *actors)
		if err != nil {
			runErr = err
			break
		}
		controllers := make([]sim.Controller, len(agents))
		for i, a := range agents {
			controllers[i] = a
		}
		episode, err := sim.New(world, sim.Options{Controllers: controllers, Logger: logger})
		if err != nil {
			runErr = err
			break
		}
		result, err := episode.Run(ctx, queue, sink, pacer)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				runErr = err
			}
			break
		}
		reports = append(reports, episodeReport{index: k, result: result})
		logger.Printf("episode=%d outcome=%s ticks=%d best=%d", k, result.Outcome, result.Ticks, result.BestScore)
		if result.Outcome == sim.OutcomeQuit {
			break
		}
	}
	pacer.Stop()
	cancel()
	if screen != nil {
		screen.Fini()
	}
	hub.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	_ = server.Shutdown(shutdownCtx)
	stop()

	frames, size, recErr := rec.close()
	if runErr != nil {
		return runErr
	}
	if recErr != nil {
		return recErr
	}
	for _, r := range reports {
		fmt.Printf("episode=%d outcome=%s ticks=%s best_score=%s\n", r.index, r.result.Outcome, humanize.Comma(int64(r.result.Ticks)), humanize.Comma(int64(r.result.BestScore)))
	}
	hubFrames, dropped := hub.Stats()
	fmt.Printf("frames=%s dropped=%s\n", humanize.Comma(int64(hubFrames)), humanize.Comma(int64(dropped)))
	if *record != "" {
		fmt.Printf("recorded=%s frames=%s size=%s\n", *record, humanize.Comma(int64(frames)), humanize.Bytes(uint64(size)))
	}
	return nil
}

func runReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	view := fs.Bool("view", false, "play the recording back in this terminal")
	rate := fs.Int("rate", sim.DefaultTickRate, "frames per second when viewing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("replay needs exactly one recording path")
	}
	path := fs.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	if *view {
		if err := requireTerminal("replay -view"); err != nil {
			return err
		}
		return viewReplay(ctx, f, *rate)
	}

	summary, err := replay.Summarize(f)
	if err != nil {
		return err
	}
	fmt.Printf("file=%s size=%s label=%s recorded=%s seed=%d actors=%d\n",
		path,
		humanize.Bytes(uint64(info.Size())),
		summary.Header.Label,
		humanize.Time(summary.Header.RecordedAt),
		summary.Header.World.Seed,
		summary.Header.World.Actors,
	)
	fmt.Printf("frames=%s final_tick=%s state=%s outcome=%s best_score=%s final_scores=%v\n",
		humanize.Comma(int64(summary.Frames)),
		humanize.Comma(int64(summary.FinalTick)),
		summary.FinalState,
		summary.Outcome,
		humanize.Comma(int64(summary.BestScore)),
		summary.FinalScores,
	)
	return nil
}

func viewReplay(ctx context.Context, r io.Reader, rate int) error {
	reader, err := replay.NewReader(r)
	if err != nil {
		return err
	}
	screen, frontend, err := openScreen()
	if err != nil {
		return err
	}
	defer screen.Fini()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	queue := sim.NewInputQueue()
	go frontend.Listen(ctx, queue)

	pacer := sim.NewTickerPacer(rate)
	defer pacer.Stop()
	for {
		for _, signal := range queue.Drain() {
			if signal == sim.SignalQuit {
				return nil
			}
		}
		snapshot, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		frontend.Frame(snapshot)
		if err := pacer.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}
