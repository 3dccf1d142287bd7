package sim

// Observation is the controller input:
// [d0 d1 d2 h0 h1 h2 onGround] for SensorWindow = 3.
type Observation []float64

func (o Observation) Distances() []float64 {
	return o[:SensorWindow]
}

func (o Observation) Heights() []float64 {
	return o[SensorWindow : 2*SensorWindow]
}

func (o Observation) OnGround() bool {
	return o[2*SensorWindow] != 0
}

// Encode builds a fresh observation for actor.
func Encode(actor *Actor, obstacles []Obstacle, cfg Config) Observation {
	return EncodeInto(make(Observation, ObservationSize), actor, obstacles, cfg)
}

// EncodeInto writes the observation into dst, which must hold ObservationSize
// values, and returns it.
//
// Only obstacles whose right edge is still past the actor's left edge are
// considered. They are ranked by distance from the actor's front edge, ties
// keeping pool order. Empty slots hold SentinelDistance and height 0.
func EncodeInto(dst Observation, actor *Actor, obstacles []Obstacle, cfg Config) Observation {
	dst = dst[:ObservationSize]

	var (
		dist [SensorWindow]float64
		high [SensorWindow]float64
		n    int
	)
	front := actor.X + cfg.ActorSize
	for _, obstacle := range obstacles {
		if obstacle.X+obstacle.Width <= actor.X {
			continue
		}
		d := obstacle.X - front

		pos := n
		for pos > 0 && d < dist[pos-1] {
			pos--
		}
		if pos >= SensorWindow {
			continue
		}
		last := n
		if last >= SensorWindow {
			last = SensorWindow - 1
		}
		for j := last; j > pos; j-- {
			dist[j] = dist[j-1]
			high[j] = high[j-1]
		}
		dist[pos] = d
		high[pos] = obstacle.Height
		if n < SensorWindow {
			n++
		}
	}

	for i := 0; i < SensorWindow; i++ {
		if i < n {
			dst[i] = dist[i]
			dst[SensorWindow+i] = high[i]
			continue
		}
		dst[i] = cfg.SentinelDistance()
		dst[SensorWindow+i] = 0
	}
	dst[2*SensorWindow] = 0
	if actor.OnGround(cfg) {
		dst[2*SensorWindow] = 1
	}
	return dst
}
