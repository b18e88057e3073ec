package align

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me-systeme/alignprobe/internal/config"
	"github.com/me-systeme/alignprobe/internal/strain"
)

// ErrRunning is returned when an operation requires a stopped runner.
var ErrRunning = errors.New("acquisition is running")

// Transport is the narrow interface the pipeline needs from the device
// layer. The runner never depends on a concrete transport; real hardware
// and the simulator both satisfy this.
type Transport interface {
	// Start begins streaming on the device.
	Start() error
	// ReadFrames blocks up to timeout and returns the frames received since
	// the previous call. An expired timeout is an error, not an empty read.
	ReadFrames(timeout time.Duration) ([]SampleFrame, error)
	// Stop ends streaming. Always attempted on shutdown, best effort.
	Stop() error
}

// ResultSink receives every computed result, after publishing. Used to wire
// optional recording without the pipeline knowing about storage.
type ResultSink interface {
	Record(*AlignmentResult) error
}

// State is the runner lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Runner owns one acquisition loop: pull frames from the transport, batch,
// compute, classify, smooth, publish, repeat. A Runner may be restarted;
// each Run call is one session from Starting through Stopped.
type Runner struct {
	transport Transport
	publisher ResultPublisher

	mu   sync.Mutex
	cfg  *config.Config
	sink ResultSink

	state atomic.Int32
}

// NewRunner creates a runner for the given transport and validated
// configuration.
func NewRunner(t Transport, cfg *config.Config) *Runner {
	r := &Runner{transport: t, cfg: cfg}
	r.state.Store(int32(StateStopped))
	return r
}

// SetSink wires an optional result sink. Must be called before Run.
func (r *Runner) SetSink(s ResultSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = s
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Publisher returns the single-slot result handoff for renderers.
func (r *Runner) Publisher() *ResultPublisher {
	return &r.publisher
}

// Latest returns the most recent result, or nil before the first batch.
func (r *Runner) Latest() *AlignmentResult {
	return r.publisher.Latest()
}

// Config returns the current configuration.
func (r *Runner) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Configure atomically replaces the pipeline configuration. Rejected with
// ErrRunning unless the runner is stopped; a config that fails validation is
// rejected without touching the current one.
func (r *Runner) Configure(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() != StateStopped {
		return ErrRunning
	}
	r.cfg = cfg
	return nil
}

// Run executes one acquisition session and blocks until it ends. It returns
// nil on cooperative cancellation and an error when the session was
// terminated by the transport. Calling Run while a session is active returns
// ErrRunning; after a session has ended Run may be called again.
func (r *Runner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrRunning
	}

	r.mu.Lock()
	cfg := r.cfg
	sink := r.sink
	r.mu.Unlock()

	if err := r.transport.Start(); err != nil {
		r.state.Store(int32(StateStopped))
		return fmt.Errorf("start transmission: %w", err)
	}
	r.state.Store(int32(StateRunning))
	log.Printf("[Runner] acquisition running: batch=%d frames, read timeout=%v", cfg.View.BatchFrames, cfg.Device.ReadTimeout())

	// cfg is validated, so the batch size is legal.
	batcher, err := NewFrameBatcher(cfg.View.BatchFrames)
	if err != nil {
		r.state.Store(int32(StateStopped))
		return err
	}
	computer := NewComputer(cfg)
	smootherA := newSmoother(cfg.View)
	smootherB := newSmoother(cfg.View)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		frames, err := r.transport.ReadFrames(cfg.Device.ReadTimeout())
		if err != nil {
			runErr = fmt.Errorf("transport read: %w", err)
			break
		}
		for _, f := range frames {
			if batch, ok := batcher.Add(f); ok {
				r.process(computer, smootherA, smootherB, sink, batch)
			}
		}
	}

	// Flush trailing samples through the same pipeline, then stop
	// transmission. Stop is attempted exactly once per session, even when
	// the session is already erroring.
	r.state.Store(int32(StateStopping))
	if batch, ok := batcher.Flush(); ok {
		r.process(computer, smootherA, smootherB, sink, batch)
		log.Printf("[Runner] flushed partial batch of %d frames", len(batch.Frames))
	}
	if err := r.transport.Stop(); err != nil {
		log.Printf("[Runner] stop transmission: %v", err)
	}
	r.state.Store(int32(StateStopped))

	if runErr != nil {
		log.Printf("[Runner] session ended: %v", runErr)
		return runErr
	}
	log.Print("[Runner] session stopped")
	return nil
}

func (r *Runner) process(c *Computer, smootherA, smootherB *strain.RadiusSmoother, sink ResultSink, batch Batch) {
	res := c.Compute(batch)
	res.PlaneA.Radius = smootherA.Update(res.PlaneA.EpsBMag)
	res.PlaneB.Radius = smootherB.Update(res.PlaneB.EpsBMag)
	r.publisher.Publish(&res)

	if sink != nil {
		if err := sink.Record(&res); err != nil {
			log.Printf("[Runner] record result seq=%d: %v", res.Seq, err)
		}
	}
}

func newSmoother(v config.View) *strain.RadiusSmoother {
	if v.AutoScale {
		return strain.NewRadiusSmoother(v.SmoothingAlpha)
	}
	return strain.NewFixedRadius(v.FixedRadius)
}
