package replay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"dinosim/internal/sim"
)

func recordEpisode(t *testing.T, actors int) (*bytes.Buffer, sim.Result, *Recorder) {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Actors = actors
	cfg.Seed = 21
	controllers := make([]sim.Controller, actors)
	for i := range controllers {
		controllers[i] = sim.ControllerFunc(func(sim.Observation) (bool, error) { return false, nil })
	}
	episode, err := sim.New(cfg, sim.Options{Controllers: controllers})
	if err != nil {
		t.Fatalf("new episode: %v", err)
	}

	var buf bytes.Buffer
	recorder, err := NewRecorder(&buf, cfg, "test")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	res, err := episode.Run(context.Background(), nil, recorder, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}
	return &buf, res, recorder
}

func TestRecorderRoundTrip(t *testing.T) {
	buf, res, recorder := recordEpisode(t, 2)
	if recorder.Frames() != res.Ticks {
		t.Fatalf("recorded %d frames for %d ticks", recorder.Frames(), res.Ticks)
	}
	if recorder.Bytes() != int64(buf.Len()) {
		t.Fatalf("byte count mismatch: recorder=%d buffer=%d", recorder.Bytes(), buf.Len())
	}

	reader, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	header := reader.Header()
	if header.Label != "test" || header.World.Actors != 2 || header.World.Seed != 21 {
		t.Fatalf("unexpected header: %+v", header)
	}

	tick := 0
	for {
		snapshot, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		tick++
		if snapshot.Tick != tick || len(snapshot.Actors) != 2 || len(snapshot.Obstacles) != 3 {
			t.Fatalf("unexpected frame %d: %+v", tick, snapshot)
		}
	}
	if tick != res.Ticks {
		t.Fatalf("read %d frames, want %d", tick, res.Ticks)
	}
}

func TestSummarize(t *testing.T) {
	buf, res, _ := recordEpisode(t, 3)
	summary, err := Summarize(buf)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Frames != res.Ticks || summary.FinalTick != res.Ticks {
		t.Fatalf("unexpected frame counts: %+v", summary)
	}
	if summary.FinalState != sim.StateGameOver || summary.Outcome != res.Outcome || summary.BestScore != res.BestScore {
		t.Fatalf("unexpected ending: %+v", summary)
	}
	for i, score := range summary.FinalScores {
		if score != res.Scores[i] {
			t.Fatalf("actor %d final score: got=%d want=%d", i, score, res.Scores[i])
		}
	}
}

func TestNewReaderRejectsForeignStreams(t *testing.T) {
	if _, err := NewReader(bytes.NewReader(nil)); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected ErrBadHeader for empty input, got %v", err)
	}

	data, err := msgpack.Marshal(&Header{Format: "other", Version: FormatVersion})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := NewReader(bytes.NewReader(data)); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected ErrBadHeader for foreign format, got %v", err)
	}

	data, err = msgpack.Marshal(&Header{Format: Format, Version: FormatVersion + 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := NewReader(bytes.NewReader(data)); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected ErrBadHeader for future version, got %v", err)
	}
}

type failingWriter struct{ budget int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if len(p) > w.budget {
		return 0, errors.New("disk full")
	}
	w.budget -= len(p)
	return len(p), nil
}

func TestRecorderKeepsFirstError(t *testing.T) {
	recorder, err := NewRecorder(&failingWriter{budget: 16}, sim.DefaultConfig(), "")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	snapshot := sim.Snapshot{Tick: 1, Actors: make([]sim.Actor, 2000)}
	for i := 0; i < 10; i++ {
		recorder.Frame(snapshot)
	}
	if err := recorder.Close(); err == nil {
		t.Fatal("expected write error")
	}
	if recorder.Frames() == 10 {
		t.Fatal("frames kept counting after failure")
	}
}
