package sim

// Readout exposes one actor's raw observation and decision for visualisation.
type Readout struct {
	Actor       int       `json:"actor" msgpack:"actor"`
	Observation []float64 `json:"observation" msgpack:"observation"`
	Decision    bool      `json:"decision" msgpack:"decision"`
}

// Snapshot is the read-only view of the world emitted once per loop iteration.
type Snapshot struct {
	Tick      int        `json:"tick" msgpack:"tick"`
	State     State      `json:"state" msgpack:"state"`
	Mode      string     `json:"mode" msgpack:"mode"`
	Outcome   Outcome    `json:"outcome,omitempty" msgpack:"outcome,omitempty"`
	Score     int        `json:"score" msgpack:"score"`
	BestScore int        `json:"best_score" msgpack:"best_score"`
	Alive     int        `json:"alive" msgpack:"alive"`
	ViewWidth float64    `json:"view_width" msgpack:"view_width"`
	FloorY    float64    `json:"floor_y" msgpack:"floor_y"`
	ActorSize float64    `json:"actor_size" msgpack:"actor_size"`
	Actors    []Actor    `json:"actors" msgpack:"actors"`
	Obstacles []Obstacle `json:"obstacles" msgpack:"obstacles"`
	Readout   *Readout   `json:"readout,omitempty" msgpack:"readout,omitempty"`
}

// Sink receives snapshots. Implementations must not retain the slices past
// the call unless they copy them; the episode hands out fresh copies, so
// retaining is safe but costs memory.
type Sink interface {
	Frame(snapshot Snapshot)
}

type SinkFunc func(Snapshot)

func (f SinkFunc) Frame(snapshot Snapshot) {
	f(snapshot)
}

// MultiSink fans each snapshot out to every non-nil sink in order.
func MultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return multiSink(filtered)
}

type multiSink []Sink

func (m multiSink) Frame(snapshot Snapshot) {
	for _, sink := range m {
		sink.Frame(snapshot)
	}
}
