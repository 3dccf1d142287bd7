package sim

import (
	"context"
	"errors"
	"math"
	"testing"
)

type constController bool

func (c constController) Decide(Observation) (bool, error) {
	return bool(c), nil
}

type failingController struct{ err error }

func (c failingController) Decide(Observation) (bool, error) {
	return false, c.err
}

func controllers(n int, c Controller) []Controller {
	out := make([]Controller, n)
	for i := range out {
		out[i] = c
	}
	return out
}

// firstContactTick is the tick at which a grounded actor first overlaps an
// obstacle that starts at x and scrolls at the configured speed.
func firstContactTick(cfg Config, x float64) int {
	front := cfg.ActorX + cfg.ActorSize
	return int(math.Floor((x-front)/cfg.ObstacleSpeed)) + 1
}

func stepUntilOver(t *testing.T, e *Episode, limit int) {
	t.Helper()
	for i := 0; i < limit && e.State() == StateRunning; i++ {
		if err := e.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
		if err := e.Invariants(); err != nil {
			t.Fatalf("tick %d: %v", e.Tick(), err)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		opts   Options
	}{
		{name: "zero separation", mutate: func(c *Config) { c.MinSeparation = 0 }},
		{name: "speed outruns separation", mutate: func(c *Config) { c.ObstacleSpeed = c.MinSeparation }},
		{name: "pool smaller than window", mutate: func(c *Config) { c.PoolSize = SensorWindow - 1 }},
		{name: "inverted width range", mutate: func(c *Config) { c.MinWidth, c.MaxWidth = 50, 20 }},
		{name: "no ceiling", mutate: func(c *Config) { c.ScoreCeiling = 0 }},
		{name: "downward jump", mutate: func(c *Config) { c.JumpImpulse = 5 }},
		{name: "human with two actors", mutate: func(c *Config) { c.Mode = ModeHuman; c.Actors = 2 }},
		{name: "missing controllers", mutate: func(c *Config) { c.Actors = 2 }, opts: Options{Controllers: controllers(1, constController(false))}},
		{name: "nil controller", mutate: func(c *Config) {}, opts: Options{Controllers: []Controller{nil}}},
		{name: "human with controller", mutate: func(c *Config) { c.Mode = ModeHuman }, opts: Options{Controllers: controllers(1, constController(false))}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := New(cfg, tc.opts)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestHumanEpisodeWithoutJumpDiesAtFirstObstacle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeHuman
	cfg.Seed = 11
	e, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	want := firstContactTick(cfg, e.Obstacles()[0].X)

	if err := e.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if e.Tick() != 0 || e.State() != StateNotStarted {
		t.Fatalf("world advanced before start: tick=%d state=%s", e.Tick(), e.State())
	}

	e.Apply(SignalStart)
	stepUntilOver(t, e, 1000)

	if e.State() != StateGameOver {
		t.Fatalf("expected game over, got %s", e.State())
	}
	if e.Outcome() != OutcomeCollision {
		t.Fatalf("unexpected outcome: %s", e.Outcome())
	}
	if got := e.Scores()[0]; got != want {
		t.Fatalf("unexpected score: got=%d want=%d", got, want)
	}
	if e.BestScore() != want {
		t.Fatalf("unexpected best score: got=%d want=%d", e.BestScore(), want)
	}
}

func TestHumanRestartKeepsBestScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeHuman
	e, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	e.Apply(SignalStart)
	stepUntilOver(t, e, 1000)
	best := e.BestScore()
	if best <= 0 {
		t.Fatalf("expected positive best score, got %d", best)
	}

	e.Apply(SignalJump)
	if e.Actors()[0].VY != 0 {
		t.Fatal("jump applied during game over")
	}

	e.Apply(SignalRestart)
	if e.State() != StateRunning || e.Tick() != 0 || e.Restarts() != 1 {
		t.Fatalf("unexpected restart state: state=%s tick=%d restarts=%d", e.State(), e.Tick(), e.Restarts())
	}
	if !e.Actors()[0].Alive || e.BestScore() != best {
		t.Fatalf("restart lost state: alive=%v best=%d", e.Actors()[0].Alive, e.BestScore())
	}

	e.Apply(SignalQuit)
	if e.State() != StateTerminated || e.Outcome() != OutcomeQuit {
		t.Fatalf("unexpected quit state: %s %s", e.State(), e.Outcome())
	}
}

func TestHumanJumpSignalIsEdgeTriggered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeHuman
	e, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	in := NewInputQueue()
	in.Push(SignalStart)
	in.Push(SignalJump)
	in.Push(SignalJump)

	for _, signal := range in.Drain() {
		e.Apply(signal)
	}
	if err := e.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	actor := e.Actors()[0]
	if actor.VY != cfg.JumpImpulse+cfg.Gravity {
		t.Fatalf("double jump signal applied twice: vy=%f", actor.VY)
	}
	if in.Drain() != nil {
		t.Fatal("queue not drained")
	}
}

func TestAutomatedNeverJumpersDieAtFirstObstacle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Actors = 5
	cfg.Seed = 42
	e, err := New(cfg, Options{Controllers: controllers(5, constController(false))})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	limit := firstContactTick(cfg, e.Obstacles()[0].X)

	res, err := e.Run(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Outcome != OutcomeExtinct {
		t.Fatalf("unexpected outcome: %s", res.Outcome)
	}
	if len(res.Scores) != 5 {
		t.Fatalf("expected 5 scores, got %d", len(res.Scores))
	}
	for i, score := range res.Scores {
		if score > limit || score <= 0 {
			t.Fatalf("actor %d score %d outside (0, %d]", i, score, limit)
		}
	}
	if e.State() != StateGameOver {
		t.Fatalf("expected terminal game over, got %s", e.State())
	}

	e.Apply(SignalRestart)
	e.Apply(SignalStart)
	if err := e.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if e.State() != StateGameOver || e.Tick() != res.Ticks {
		t.Fatalf("automated game over is not terminal: state=%s tick=%d", e.State(), e.Tick())
	}
}

// placeObstacles overwrites the pool so a test controls what the actor meets.
func placeObstacles(e *Episode, xs ...float64) {
	for i := range e.obstacles {
		e.obstacles[i] = Obstacle{X: xs[i], Width: 20, Height: 40}
	}
}

func TestAutomatedAlwaysJumperClearsShortObstacle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreCeiling = 30
	maxHeight := MaxJumpHeight(cfg)

	e, err := New(cfg, Options{Controllers: controllers(1, constController(true))})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// Overlaps the actor on ticks 11..19, well inside the jump arc.
	placeObstacles(e, 130, 2000, 2400)

	e.Start()
	apex := cfg.Ground()
	jumps := 0
	for e.State() == StateRunning {
		wasGrounded := e.actors[0].OnGround(cfg)
		if err := e.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
		if err := e.Invariants(); err != nil {
			t.Fatalf("tick %d: %v", e.Tick(), err)
		}
		if wasGrounded {
			jumps++
		}
		if y := e.actors[0].Y; y < apex {
			apex = y
		}
	}

	if got := cfg.Ground() - apex; got > maxHeight {
		t.Fatalf("actor exceeded max jump height: got=%f max=%f", got, maxHeight)
	}
	if jumps != 1 {
		t.Fatalf("expected exactly one ground-contact jump in 30 ticks, got %d", jumps)
	}
	if e.Outcome() != OutcomeCeiling {
		t.Fatalf("expected ceiling outcome, got %s", e.Outcome())
	}
	if !e.Actors()[0].Alive {
		t.Fatal("jumper should have cleared the obstacle")
	}

	never, err := New(cfg, Options{Controllers: controllers(1, constController(false))})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	placeObstacles(never, 130, 2000, 2400)
	res, err := never.Run(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Outcome != OutcomeExtinct || res.Scores[0] != 11 {
		t.Fatalf("non-jumper should die on tick 11: %+v", res)
	}
}

func TestAutomatedScoreCeilingEndsEpisode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreCeiling = 100
	cfg.Actors = 2
	e, err := New(cfg, Options{Controllers: controllers(2, constController(false))})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	placeObstacles(e, 1000, 1200, 1400)

	res, err := e.Run(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Outcome != OutcomeCeiling {
		t.Fatalf("expected ceiling outcome, got %s", res.Outcome)
	}
	for i, score := range res.Scores {
		if score != cfg.ScoreCeiling {
			t.Fatalf("actor %d fitness: got=%d want=%d", i, score, cfg.ScoreCeiling)
		}
	}
	if res.Ticks != cfg.ScoreCeiling || res.BestScore != cfg.ScoreCeiling {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestScoresFreezeAtDeath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Actors = 2
	cfg.ScoreCeiling = 200
	e, err := New(cfg, Options{Controllers: []Controller{constController(false), constController(true)}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	placeObstacles(e, 130, 2000, 2400)
	e.Start()

	deathTick := 0
	prev := e.Scores()
	for e.State() == StateRunning {
		if err := e.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
		scores := e.Scores()
		actors := e.Actors()
		for i := range actors {
			if actors[i].Alive && scores[i] != prev[i]+1 {
				t.Fatalf("living actor %d score did not advance by one: %d -> %d", i, prev[i], scores[i])
			}
		}
		if !actors[0].Alive {
			if deathTick == 0 {
				deathTick = e.Tick()
			}
			if scores[0] != deathTick {
				t.Fatalf("dead actor score changed: got=%d want=%d", scores[0], deathTick)
			}
		}
		prev = scores
	}
	if deathTick != 11 {
		t.Fatalf("unexpected death tick: %d", deathTick)
	}
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	run := func(workers int) Result {
		cfg := DefaultConfig()
		cfg.Actors = 16
		cfg.Seed = 9
		cfg.Workers = workers
		cs := make([]Controller, cfg.Actors)
		for i := range cs {
			threshold := float64(40 + 10*i)
			cs[i] = ControllerFunc(func(obs Observation) (bool, error) {
				return obs.Distances()[0] < threshold && obs.Heights()[0] > 0, nil
			})
		}
		e, err := New(cfg, Options{Controllers: cs})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		res, err := e.Run(context.Background(), nil, nil, nil)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res
	}

	serial := run(1)
	parallel := run(4)
	for i := range serial.Scores {
		if serial.Scores[i] != parallel.Scores[i] {
			t.Fatalf("actor %d: serial=%d parallel=%d", i, serial.Scores[i], parallel.Scores[i])
		}
	}
}

func TestControllerErrorAbortsEpisode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Actors = 2
	boom := errors.New("boom")
	e, err := New(cfg, Options{Controllers: []Controller{constController(false), failingController{err: boom}}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = e.Run(context.Background(), nil, nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected controller error, got %v", err)
	}
	if e.State() != StateTerminated {
		t.Fatalf("expected terminated episode, got %s", e.State())
	}
}

func TestRunEmitsSnapshotsAndHonoursQuit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeHuman
	e, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	in := NewInputQueue()
	in.Push(SignalStart)

	var frames []Snapshot
	sink := SinkFunc(func(s Snapshot) {
		frames = append(frames, s)
		if s.State == StateGameOver {
			in.Push(SignalQuit)
		}
	})

	res, err := e.Run(context.Background(), in, sink, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if e.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", e.State())
	}
	if res.Outcome != OutcomeCollision {
		t.Fatalf("quit after game over should keep the collision outcome, got %s", res.Outcome)
	}
	last := frames[len(frames)-1]
	if last.State != StateGameOver || last.Score != res.Ticks || len(last.Obstacles) != cfg.PoolSize {
		t.Fatalf("unexpected final frame: %+v", last)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Tick != frames[i-1].Tick+1 {
			t.Fatalf("frame %d skipped a tick", i)
		}
	}
}

func TestRunCancelledContext(t *testing.T) {
	cfg := DefaultConfig()
	e, err := New(cfg, Options{Controllers: controllers(1, constController(false))})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, nil, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Outcome != OutcomeQuit || e.State() != StateTerminated {
		t.Fatalf("unexpected cancelled result: %+v state=%s", res, e.State())
	}
}

func TestSnapshotReadoutTracksFirstLivingActor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Actors = 3
	e, err := New(cfg, Options{Controllers: controllers(3, constController(true))})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	e.Start()
	e.actors[0].Alive = false
	if err := e.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}

	snapshot := e.Snapshot()
	if snapshot.Readout == nil {
		t.Fatal("expected readout")
	}
	if snapshot.Readout.Actor != 1 || !snapshot.Readout.Decision || len(snapshot.Readout.Observation) != ObservationSize {
		t.Fatalf("unexpected readout: %+v", snapshot.Readout)
	}
	if snapshot.Alive != 2 {
		t.Fatalf("unexpected alive count: %d", snapshot.Alive)
	}
}
