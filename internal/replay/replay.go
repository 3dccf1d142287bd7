// Package replay records episode snapshots as a msgpack stream and reads
// them back.
package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"dinosim/internal/sim"
)

const (
	Format        = "dinosim-replay"
	FormatVersion = 1
)

var ErrBadHeader = errors.New("not a dinosim replay")

// Header opens every replay stream.
type Header struct {
	Format     string     `msgpack:"format"`
	Version    int        `msgpack:"version"`
	RecordedAt time.Time  `msgpack:"recorded_at"`
	World      sim.Config `msgpack:"world"`
	Label      string     `msgpack:"label,omitempty"`
}

// Recorder is a sim.Sink that appends every snapshot to w. Frame cannot
// report failures, so the first write error is kept and returned by Err and
// Close; later frames are dropped.
type Recorder struct {
	mu      sync.Mutex
	counter *countingWriter
	buf     *bufio.Writer
	enc     *msgpack.Encoder
	frames  int
	err     error
}

func NewRecorder(w io.Writer, world sim.Config, label string) (*Recorder, error) {
	counter := &countingWriter{w: w}
	buf := bufio.NewWriter(counter)
	r := &Recorder{counter: counter, buf: buf, enc: msgpack.NewEncoder(buf)}
	header := Header{
		Format:     Format,
		Version:    FormatVersion,
		RecordedAt: time.Now().UTC(),
		World:      world,
		Label:      label,
	}
	if err := r.enc.Encode(&header); err != nil {
		return nil, fmt.Errorf("write replay header: %w", err)
	}
	return r, nil
}

func (r *Recorder) Frame(snapshot sim.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	if err := r.enc.Encode(&snapshot); err != nil {
		r.err = fmt.Errorf("write frame %d: %w", r.frames, err)
		return
	}
	r.frames++
}

func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close flushes buffered frames. It does not close the underlying writer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.buf.Flush(); err != nil && r.err == nil {
		r.err = fmt.Errorf("flush replay: %w", err)
	}
	return r.err
}

// Bytes reports how much has reached the underlying writer.
func (r *Recorder) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter.n
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Reader decodes a replay stream frame by frame.
type Reader struct {
	dec    *msgpack.Decoder
	header Header
}

func NewReader(r io.Reader) (*Reader, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var header Header
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if header.Format != Format {
		return nil, fmt.Errorf("%w: format %q", ErrBadHeader, header.Format)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadHeader, header.Version)
	}
	return &Reader{dec: dec, header: header}, nil
}

func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next snapshot, or io.EOF after the last one.
func (r *Reader) Next() (sim.Snapshot, error) {
	var snapshot sim.Snapshot
	if err := r.dec.Decode(&snapshot); err != nil {
		if errors.Is(err, io.EOF) {
			return sim.Snapshot{}, io.EOF
		}
		return sim.Snapshot{}, err
	}
	return snapshot, nil
}

type Summary struct {
	Header      Header
	Frames      int
	FinalTick   int
	FinalState  sim.State
	Outcome     sim.Outcome
	BestScore   int
	FinalScores []int
}

// Summarize reads a whole replay and reports how it ended.
func Summarize(r io.Reader) (Summary, error) {
	reader, err := NewReader(r)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Header: reader.Header()}
	for {
		snapshot, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, fmt.Errorf("frame %d: %w", summary.Frames, err)
		}
		summary.Frames++
		summary.FinalTick = snapshot.Tick
		summary.FinalState = snapshot.State
		summary.Outcome = snapshot.Outcome
		if snapshot.BestScore > summary.BestScore {
			summary.BestScore = snapshot.BestScore
		}
		summary.FinalScores = summary.FinalScores[:0]
		for _, actor := range snapshot.Actors {
			summary.FinalScores = append(summary.FinalScores, actor.Score)
		}
	}
}
