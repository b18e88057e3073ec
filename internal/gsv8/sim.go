package gsv8

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/me-systeme/alignprobe/internal/align"
	"github.com/me-systeme/alignprobe/internal/config"
)

// SimulatorConfig describes the synthetic specimen the simulator streams.
// Bending components and axial strain are injected per plane through the
// inverse of the gauge decomposition, so the pipeline recovers them exactly
// (up to the configured noise).
type SimulatorConfig struct {
	Channels      config.ChannelMap
	SampleHz      float64
	FramesPerRead int

	AxialA   float64
	BendingA [2]float64 // eps_bx, eps_by
	AxialB   float64
	BendingB [2]float64

	// NoiseStdDev adds zero-mean Gaussian noise to every gauge reading.
	NoiseStdDev float64

	// Seed fixes the noise stream; 0 seeds from the clock.
	Seed int64
}

// Simulator is a drop-in transport producing synthetic gauge data at the
// configured sample rate. Used by dev mode and tests.
type Simulator struct {
	cfg SimulatorConfig

	mu       sync.Mutex
	running  bool
	seq      uint64
	rng      *rand.Rand
	lastTick time.Time
}

var errSimStopped = errors.New("gsv8: simulator not streaming")

// NewSimulator creates a simulator for the given synthetic specimen.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.SampleHz <= 0 {
		cfg.SampleHz = 50
	}
	if cfg.FramesPerRead < 1 {
		cfg.FramesPerRead = 64
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Start begins producing frames.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.lastTick = time.Now()
	return nil
}

// Stop halts frame production.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// ReadFrames returns the frames due since the previous call, sleeping until
// at least one sample interval has elapsed. Mirrors the pacing of the real
// device without a serial port underneath.
func (s *Simulator) ReadFrames(timeout time.Duration) ([]align.SampleFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, errSimStopped
	}

	interval := time.Duration(float64(time.Second) / s.cfg.SampleHz)
	due := int(time.Since(s.lastTick) / interval)
	if due == 0 {
		wait := interval
		if wait > timeout {
			s.mu.Unlock()
			time.Sleep(timeout)
			s.mu.Lock()
			return nil, ErrTimeout
		}
		s.mu.Unlock()
		time.Sleep(wait)
		s.mu.Lock()
		if !s.running {
			return nil, errSimStopped
		}
		due = int(time.Since(s.lastTick) / interval)
		if due == 0 {
			due = 1
		}
	}
	if due > s.cfg.FramesPerRead {
		due = s.cfg.FramesPerRead
	}
	s.lastTick = s.lastTick.Add(time.Duration(due) * interval)

	frames := make([]align.SampleFrame, due)
	now := time.Now()
	for i := range frames {
		s.seq++
		frames[i] = align.SampleFrame{
			Seq:       s.seq,
			Timestamp: now,
			Channels:  s.channels(),
		}
	}
	return frames, nil
}

func (s *Simulator) channels() [align.NumChannels]float64 {
	var ch [align.NumChannels]float64
	s.fillPlane(&ch, s.cfg.Channels.PlaneA, s.cfg.AxialA, s.cfg.BendingA)
	s.fillPlane(&ch, s.cfg.Channels.PlaneB, s.cfg.AxialB, s.cfg.BendingB)
	return ch
}

// fillPlane applies the inverse decomposition: each gauge sees the axial
// strain plus its projection of the bending vector.
func (s *Simulator) fillPlane(ch *[align.NumChannels]float64, m config.PlaneChannels, axial float64, bending [2]float64) {
	ch[m.E0] = axial + bending[0] + s.noise()
	ch[m.E90] = axial + bending[1] + s.noise()
	ch[m.E180] = axial - bending[0] + s.noise()
	ch[m.E270] = axial - bending[1] + s.noise()
}

func (s *Simulator) noise() float64 {
	if s.cfg.NoiseStdDev <= 0 {
		return 0
	}
	return s.rng.NormFloat64() * s.cfg.NoiseStdDev
}
