package sim

import "sync"

type Signal int

const (
	SignalStart Signal = iota + 1
	SignalJump
	SignalRestart
	SignalQuit
)

func (s Signal) String() string {
	switch s {
	case SignalStart:
		return "start"
	case SignalJump:
		return "jump"
	case SignalRestart:
		return "restart"
	case SignalQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// InputQueue collects signals delivered between ticks. Producers may push
// from any goroutine; the episode loop drains it once per iteration.
type InputQueue struct {
	mu      sync.Mutex
	pending []Signal
}

func NewInputQueue() *InputQueue {
	return &InputQueue{}
}

func (q *InputQueue) Push(signal Signal) {
	q.mu.Lock()
	q.pending = append(q.pending, signal)
	q.mu.Unlock()
}

// Drain returns queued signals in arrival order and empties the queue.
func (q *InputQueue) Drain() []Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}
