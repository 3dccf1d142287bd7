package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
)

type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateGameOver   State = "game_over"
	StateTerminated State = "terminated"
)

// Controller maps one actor's observation to a jump decision. The
// observation is only valid for the duration of the call.
type Controller interface {
	Decide(observation Observation) (bool, error)
}

// ControllerFunc adapts a plain function to Controller.
type ControllerFunc func(observation Observation) (bool, error)

func (f ControllerFunc) Decide(observation Observation) (bool, error) {
	return f(observation)
}

type Options struct {
	// Controllers drive automated actors, index-aligned with the roster.
	Controllers []Controller
	// Logger receives state transitions. Nil discards.
	Logger *log.Logger
}

// Result is the fitness boundary: Scores[i] belongs to actor i.
type Result struct {
	Scores    []int   `json:"scores"`
	Outcome   Outcome `json:"outcome"`
	Ticks     int     `json:"ticks"`
	BestScore int     `json:"best_score"`
}

// Episode owns the world and advances it one tick at a time. It is not safe
// for concurrent use; input from other goroutines goes through InputQueue.
type Episode struct {
	cfg         Config
	controllers []Controller
	logger      *log.Logger
	stream      *Stream

	actors    []Actor
	obstacles []Obstacle

	state   State
	outcome Outcome
	tick    int
	best    int
	resets  int

	observations []Observation
	decisions    []bool
	decideErrs   []error
	readoutIndex int
}

func New(cfg Config, opts Options) (*Episode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeAutomated:
		if len(opts.Controllers) != cfg.Actors {
			return nil, invalid("automated mode needs one controller per actor: got=%d want=%d", len(opts.Controllers), cfg.Actors)
		}
		for i, controller := range opts.Controllers {
			if controller == nil {
				return nil, invalid("controller %d is nil", i)
			}
		}
	case ModeHuman:
		if len(opts.Controllers) != 0 {
			return nil, invalid("human mode does not take controllers")
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	e := &Episode{
		cfg:          cfg,
		controllers:  append([]Controller(nil), opts.Controllers...),
		logger:       logger,
		stream:       NewStream(cfg, rand.New(rand.NewSource(cfg.Seed))),
		actors:       make([]Actor, cfg.Actors),
		obstacles:    make([]Obstacle, cfg.PoolSize),
		observations: make([]Observation, cfg.Actors),
		decisions:    make([]bool, cfg.Actors),
		decideErrs:   make([]error, cfg.Actors),
		readoutIndex: -1,
	}
	for i := range e.observations {
		e.observations[i] = make(Observation, ObservationSize)
	}
	e.reset()
	return e, nil
}

func (e *Episode) reset() {
	for i := range e.actors {
		e.actors[i] = newActor(i, e.cfg)
	}
	e.stream.Fill(e.obstacles)
	e.state = StateNotStarted
	e.outcome = OutcomeNone
	e.tick = 0
	e.readoutIndex = -1
	for i := range e.decisions {
		e.decisions[i] = false
	}
}

func (e *Episode) Config() Config { return e.cfg }
func (e *Episode) State() State { return e.state }
func (e *Episode) Outcome() Outcome { return e.outcome }
func (e *Episode) Tick() int { return e.tick }
func (e *Episode) BestScore() int { return e.best }
func (e *Episode) Restarts() int { return e.resets }
func (e *Episode) Actors() []Actor { return append([]Actor(nil), e.actors...) }
func (e *Episode) Obstacles() []Obstacle {
	return append([]Obstacle(nil), e.obstacles...)
}

// Scores returns the per-actor scores, index-aligned with the roster.
func (e *Episode) Scores() []int {
	scores := make([]int, len(e.actors))
	for i := range e.actors {
		scores[i] = e.actors[i].Score
	}
	return scores
}

func (e *Episode) Alive() int {
	alive := 0
	for i := range e.actors {
		if e.actors[i].Alive {
			alive++
		}
	}
	return alive
}

// Start leaves NotStarted. It is a no-op in any other state.
func (e *Episode) Start() {
	if e.state != StateNotStarted {
		return
	}
	e.state = StateRunning
	e.logger.Printf("episode started mode=%s actors=%d seed=%d", e.cfg.Mode, len(e.actors), e.cfg.Seed)
}

// Restart begins a fresh world after a human game over, keeping the best score.
func (e *Episode) Restart() bool {
	if e.cfg.Mode != ModeHuman || e.state != StateGameOver {
		return false
	}
	e.resets++
	e.reset()
	e.state = StateRunning
	e.logger.Printf("episode restarted restarts=%d best=%d", e.resets, e.best)
	return true
}

// Quit terminates the episode from any state.
func (e *Episode) Quit() {
	if e.state == StateTerminated {
		return
	}
	if e.state != StateGameOver {
		e.outcome = OutcomeQuit
	}
	e.state = StateTerminated
	e.logger.Printf("episode terminated tick=%d outcome=%s", e.tick, e.outcome)
}

// Apply handles one input signal. Jumps only reach the human-driven actor.
func (e *Episode) Apply(signal Signal) {
	switch signal {
	case SignalStart:
		e.Start()
	case SignalJump:
		if e.cfg.Mode == ModeHuman && e.state == StateRunning {
			e.actors[0].Jump(e.cfg)
		}
	case SignalRestart:
		e.Restart()
	case SignalQuit:
		e.Quit()
	}
}

// Step advances the world by one tick while Running.
func (e *Episode) Step() error {
	if e.state != StateRunning {
		return nil
	}

	e.tick++
	for i := range e.actors {
		if e.actors[i].Alive {
			e.actors[i].Score = e.tick
		}
	}

	if e.cfg.Mode == ModeAutomated {
		if err := e.decide(); err != nil {
			return err
		}
		for i := range e.actors {
			if e.decisions[i] {
				e.actors[i].Jump(e.cfg)
			}
		}
	}

	for i := range e.actors {
		e.actors[i].Step(e.cfg)
	}
	Scroll(e.obstacles, e.cfg.ObstacleSpeed)
	e.stream.RecycleOffScreen(e.obstacles)

	if died := CheckCollisions(e.actors, e.obstacles, e.cfg); len(died) > 0 {
		e.logger.Printf("tick=%d collisions=%v alive=%d", e.tick, died, e.Alive())
	}
	if outcome := Judge(e.cfg.Mode, e.actors, e.cfg.ScoreCeiling); outcome != OutcomeNone {
		e.finish(outcome)
	}
	return nil
}

func (e *Episode) finish(outcome Outcome) {
	e.state = StateGameOver
	e.outcome = outcome
	for _, score := range e.Scores() {
		if score > e.best {
			e.best = score
		}
	}
	e.logger.Printf("game over tick=%d outcome=%s best=%d", e.tick, outcome, e.best)
}

// decide gathers every living actor's decision before any jump is applied,
// so results do not depend on worker count or order.
func (e *Episode) decide() error {
	e.readoutIndex = -1
	for i := range e.actors {
		e.decisions[i] = false
		e.decideErrs[i] = nil
		if e.readoutIndex < 0 && e.actors[i].Alive {
			e.readoutIndex = i
		}
	}

	workers := e.cfg.Workers
	if workers > len(e.actors) {
		workers = len(e.actors)
	}
	if workers <= 1 {
		e.decideRange(0, len(e.actors))
	} else {
		chunk := (len(e.actors) + workers - 1) / workers
		var wg sync.WaitGroup
		for start := 0; start < len(e.actors); start += chunk {
			end := start + chunk
			if end > len(e.actors) {
				end = len(e.actors)
			}
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				e.decideRange(start, end)
			}(start, end)
		}
		wg.Wait()
	}

	for i, err := range e.decideErrs {
		if err != nil {
			return fmt.Errorf("actor %d: %w", i, err)
		}
	}
	return nil
}

func (e *Episode) decideRange(start, end int) {
	for i := start; i < end; i++ {
		actor := &e.actors[i]
		if !actor.Alive {
			continue
		}
		obs := EncodeInto(e.observations[i], actor, e.obstacles, e.cfg)
		e.decisions[i], e.decideErrs[i] = e.controllers[i].Decide(obs)
	}
}

// Snapshot copies the current world for a sink.
func (e *Episode) Snapshot() Snapshot {
	snapshot := Snapshot{
		Tick:      e.tick,
		State:     e.state,
		Mode:      e.cfg.Mode.String(),
		Outcome:   e.outcome,
		Score:     e.tick,
		BestScore: e.best,
		Alive:     e.Alive(),
		ViewWidth: e.cfg.ViewWidth,
		FloorY:    e.cfg.FloorY,
		ActorSize: e.cfg.ActorSize,
		Actors:    e.Actors(),
		Obstacles: e.Obstacles(),
	}
	if e.readoutIndex >= 0 {
		snapshot.Readout = &Readout{
			Actor:       e.readoutIndex,
			Observation: append([]float64(nil), e.observations[e.readoutIndex]...),
			Decision:    e.decisions[e.readoutIndex],
		}
	}
	return snapshot
}

func (e *Episode) result() Result {
	return Result{
		Scores:    e.Scores(),
		Outcome:   e.outcome,
		Ticks:     e.tick,
		BestScore: e.best,
	}
}

// Run drives the episode until it ends. Automated episodes start at once and
// return at game over; human episodes wait for start, restart and quit
// signals on in. A nil sink or pacer is allowed. Cancelling ctx behaves like
// a quit signal and the context error is returned with the partial result.
func (e *Episode) Run(ctx context.Context, in *InputQueue, sink Sink, pacer Pacer) (Result, error) {
	if e.cfg.Mode == ModeAutomated {
		e.Start()
	}

	for {
		if err := ctx.Err(); err != nil {
			e.Quit()
			return e.result(), err
		}
		if in != nil {
			for _, signal := range in.Drain() {
				e.Apply(signal)
			}
		}
		if e.state == StateTerminated {
			return e.result(), nil
		}

		if err := e.Step(); err != nil {
			e.Quit()
			return e.result(), err
		}
		if sink != nil {
			sink.Frame(e.Snapshot())
		}
		if e.cfg.Mode == ModeAutomated && e.state == StateGameOver {
			return e.result(), nil
		}

		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				e.Quit()
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return e.result(), err
				}
				return e.result(), fmt.Errorf("pacer: %w", err)
			}
		}
	}
}

// Invariants reports the first broken world invariant. A non-nil result is a
// defect in the simulation, never a runtime condition.
func (e *Episode) Invariants() error {
	if len(e.obstacles) != e.cfg.PoolSize {
		return fmt.Errorf("obstacle pool size %d, want %d", len(e.obstacles), e.cfg.PoolSize)
	}
	for i := 1; i < len(e.obstacles); i++ {
		gap := e.obstacles[i].X - e.obstacles[i-1].X
		if gap < e.cfg.MinSeparation {
			return fmt.Errorf("obstacles %d and %d separated by %.1f, want >= %.1f", i-1, i, gap, e.cfg.MinSeparation)
		}
	}
	ground := e.cfg.Ground()
	for _, actor := range e.actors {
		if actor.Y > ground {
			return fmt.Errorf("actor %d below ground: y=%.1f ground=%.1f", actor.Index, actor.Y, ground)
		}
		if actor.Score < 0 || actor.Score > e.tick {
			return fmt.Errorf("actor %d score %d outside [0, %d]", actor.Index, actor.Score, e.tick)
		}
		if actor.Alive && actor.Score != e.tick {
			return fmt.Errorf("living actor %d score %d, want tick %d", actor.Index, actor.Score, e.tick)
		}
	}
	return nil
}
