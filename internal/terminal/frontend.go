// Package terminal is the tcell frontend for human play and for watching
// automated episodes in a terminal.
package terminal

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"

	"dinosim/internal/sim"
)

const (
	BannerStart     = "Press SPACE to start"
	BannerGameOver  = "GAME OVER"
	BannerPlayAgain = "Press SPACE to play again, ESC to exit"
)

var (
	styleDefault  = tcell.StyleDefault
	styleGround   = tcell.StyleDefault.Foreground(tcell.ColorOlive)
	styleObstacle = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleAlive    = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	styleDead     = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleStatus   = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleBanner   = tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
	styleReadout  = tcell.StyleDefault.Foreground(tcell.ColorAqua)
)

// Frontend draws every snapshot it receives and turns key presses into
// signals. It implements sim.Sink.
type Frontend struct {
	screen tcell.Screen

	mu      sync.Mutex
	last    sim.Snapshot
	hasLast bool
}

// New wraps an initialised screen. The caller owns Fini.
func New(screen tcell.Screen) *Frontend {
	screen.HideCursor()
	return &Frontend{screen: screen}
}

func (f *Frontend) Frame(snapshot sim.Snapshot) {
	f.mu.Lock()
	f.last = snapshot
	f.hasLast = true
	f.mu.Unlock()

	f.draw(snapshot)
}

func (f *Frontend) lastState() sim.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasLast {
		return sim.StateNotStarted
	}
	return f.last.State
}

// Signal maps a terminal event to a signal given the last drawn state.
func (f *Frontend) Signal(ev tcell.Event) (sim.Signal, bool) {
	key, ok := ev.(*tcell.EventKey)
	if !ok {
		return 0, false
	}
	switch key.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return sim.SignalQuit, true
	case tcell.KeyUp:
		return signalForState(f.lastState())
	case tcell.KeyRune:
		if key.Rune() == ' ' {
			return signalForState(f.lastState())
		}
	}
	return 0, false
}

func signalForState(state sim.State) (sim.Signal, bool) {
	switch state {
	case sim.StateNotStarted:
		return sim.SignalStart, true
	case sim.StateRunning:
		return sim.SignalJump, true
	case sim.StateGameOver:
		return sim.SignalRestart, true
	default:
		return 0, false
	}
}

// Listen forwards key presses to queue until ctx is done or a quit signal is
// sent. Resize events redraw the last frame.
func (f *Frontend) Listen(ctx context.Context, queue *sim.InputQueue) {
	events := make(chan tcell.Event, 64)
	go func() {
		defer close(events)
		for {
			ev := f.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, resized := ev.(*tcell.EventResize); resized {
				f.screen.Sync()
				f.redraw()
				continue
			}
			signal, ok := f.Signal(ev)
			if !ok {
				continue
			}
			queue.Push(signal)
			if signal == sim.SignalQuit {
				return
			}
		}
	}
}

func (f *Frontend) redraw() {
	f.mu.Lock()
	snapshot, ok := f.last, f.hasLast
	f.mu.Unlock()
	if ok {
		f.draw(snapshot)
	}
}

// viewport maps world coordinates onto the screen. Row 0 is the status line,
// row 1 the readout, and the ground sits on the second-to-last row.
type viewport struct {
	width, height int
	floorRow      int
	sx, sy        float64
}

func newViewport(width, height int, snapshot sim.Snapshot) viewport {
	v := viewport{width: width, height: height, floorRow: height - 2}
	if snapshot.ViewWidth > 0 {
		v.sx = float64(width) / snapshot.ViewWidth
	}
	if snapshot.FloorY > 0 && v.floorRow > 2 {
		v.sy = float64(v.floorRow-2) / snapshot.FloorY
	}
	return v
}

func (v viewport) col(x float64) int {
	return int(math.Floor(x * v.sx))
}

// row maps a world y to a screen row, clamped above the floor.
func (v viewport) row(y float64, floorY float64) int {
	r := v.floorRow - int(math.Ceil((floorY-y)*v.sy))
	if r < 2 {
		r = 2
	}
	return r
}

func (f *Frontend) draw(snapshot sim.Snapshot) {
	f.screen.Clear()
	width, height := f.screen.Size()
	if width <= 0 || height < 6 {
		f.screen.Show()
		return
	}
	v := newViewport(width, height, snapshot)

	for x := 0; x < width; x++ {
		f.screen.SetContent(x, v.floorRow, '─', nil, styleGround)
	}
	f.drawObstacles(v, snapshot)
	f.drawActors(v, snapshot)

	status := fmt.Sprintf("score %d  best %d  alive %d/%d  tick %d", snapshot.Score, snapshot.BestScore, snapshot.Alive, len(snapshot.Actors), snapshot.Tick)
	putString(f.screen, 0, 0, status, styleStatus)
	if snapshot.Readout != nil {
		putString(f.screen, 0, 1, readoutLine(*snapshot.Readout), styleReadout)
	}

	mid := height / 3
	switch snapshot.State {
	case sim.StateNotStarted:
		putCentered(f.screen, mid, BannerStart, styleBanner)
	case sim.StateGameOver, sim.StateTerminated:
		putCentered(f.screen, mid, BannerGameOver, styleBanner)
		if snapshot.Mode == sim.ModeHuman.String() && snapshot.State == sim.StateGameOver {
			putCentered(f.screen, mid+1, BannerPlayAgain, styleDefault)
		} else if snapshot.Outcome != sim.OutcomeNone {
			putCentered(f.screen, mid+1, "outcome: "+string(snapshot.Outcome), styleDefault)
		}
	}
	f.screen.Show()
}

func (f *Frontend) drawObstacles(v viewport, snapshot sim.Snapshot) {
	for _, o := range snapshot.Obstacles {
		left := v.col(o.X)
		right := v.col(o.X + o.Width)
		if right <= left {
			right = left + 1
		}
		top := v.row(snapshot.FloorY-o.Height, snapshot.FloorY)
		for x := left; x < right; x++ {
			if x < 0 || x >= v.width {
				continue
			}
			for y := top; y < v.floorRow; y++ {
				f.screen.SetContent(x, y, '▓', nil, styleObstacle)
			}
		}
	}
}

func (f *Frontend) drawActors(v viewport, snapshot sim.Snapshot) {
	// Dead actors first so living ones stay visible on top.
	for pass := 0; pass < 2; pass++ {
		for _, a := range snapshot.Actors {
			if a.Alive != (pass == 1) {
				continue
			}
			glyph, style := 'x', styleDead
			if a.Alive {
				glyph, style = '█', styleAlive
			}
			x := v.col(a.X)
			top := v.row(a.Y, snapshot.FloorY)
			bottom := v.row(a.Y+snapshot.ActorSize, snapshot.FloorY)
			if bottom <= top {
				bottom = top + 1
			}
			if bottom > v.floorRow {
				bottom = v.floorRow
			}
			for y := top; y < bottom; y++ {
				if x >= 0 && x < v.width {
					f.screen.SetContent(x, y, glyph, nil, style)
				}
			}
		}
	}
}

func readoutLine(p sim.Readout) string {
	parts := make([]string, len(p.Observation))
	for i, value := range p.Observation {
		parts[i] = fmt.Sprintf("%.0f", value)
	}
	return fmt.Sprintf("actor %d sees [%s] jump=%t", p.Actor, strings.Join(parts, " "), p.Decision)
}

func putString(screen tcell.Screen, x, y int, text string, style tcell.Style) {
	width, _ := screen.Size()
	for _, r := range text {
		if x >= width {
			return
		}
		if x >= 0 {
			screen.SetContent(x, y, r, nil, style)
		}
		x++
	}
}

func putCentered(screen tcell.Screen, y int, text string, style tcell.Style) {
	width, _ := screen.Size()
	x := (width - len([]rune(text))) / 2
	if x < 0 {
		x = 0
	}
	putString(screen, x, y, text, style)
}
