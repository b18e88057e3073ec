package align

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/me-systeme/alignprobe/internal/config"
)

// fakeTransport scripts a sequence of reads and records lifecycle calls.
type fakeTransport struct {
	mu         sync.Mutex
	startErr   error
	readErr    error
	reads      [][]SampleFrame
	readIdx    int
	startCalls int
	stopCalls  int
}

func (f *fakeTransport) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeTransport) ReadFrames(timeout time.Duration) ([]SampleFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readIdx < len(f.reads) {
		frames := f.reads[f.readIdx]
		f.readIdx++
		return frames, nil
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	// Script exhausted: behave like a quiet device until cancelled.
	f.mu.Unlock()
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	return nil, nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeTransport) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

type fakeSink struct {
	mu      sync.Mutex
	results []*AlignmentResult
}

func (s *fakeSink) Record(r *AlignmentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func testConfig(batch int) *config.Config {
	cfg := config.Default()
	cfg.View.BatchFrames = batch
	cfg.Device.ReadTimeoutMS = 50
	return cfg
}

func framesRange(from, to uint64) []SampleFrame {
	var out []SampleFrame
	for seq := from; seq <= to; seq++ {
		out = append(out, frame(seq))
	}
	return out
}

func TestRunnerTransportErrorFlushesAndStops(t *testing.T) {
	transport := &fakeTransport{
		reads:   [][]SampleFrame{framesRange(1, 4)},
		readErr: errors.New("device unplugged"),
	}
	sink := &fakeSink{}
	r := NewRunner(transport, testConfig(3))
	r.SetSink(sink)

	err := r.Run(context.Background())
	if err == nil || !errors.Is(err, transport.readErr) {
		t.Fatalf("Run() = %v, want transport read error", err)
	}

	if got := r.State(); got != StateStopped {
		t.Errorf("state after error = %v, want stopped", got)
	}
	starts, stops := transport.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("start/stop calls = %d/%d, want 1/1", starts, stops)
	}

	// 4 frames with batch size 3: one full batch plus one flushed partial.
	if sink.count() != 2 {
		t.Fatalf("recorded %d results, want 2 (full + flushed partial)", sink.count())
	}
	latest := r.Latest()
	if latest == nil || !latest.Partial || latest.Seq != 4 {
		t.Errorf("latest = %+v, want partial result ending at seq 4", latest)
	}
}

func TestRunnerCancelStopsCleanly(t *testing.T) {
	transport := &fakeTransport{reads: [][]SampleFrame{framesRange(1, 2)}}
	r := NewRunner(transport, testConfig(5))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Wait for the session to reach running before cancelling.
	waitForState(t, r, StateRunning)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	if got := r.State(); got != StateStopped {
		t.Errorf("state = %v, want stopped", got)
	}
	if _, stops := transport.counts(); stops != 1 {
		t.Errorf("stop calls = %d, want 1", stops)
	}
	latest := r.Latest()
	if latest == nil || !latest.Partial || latest.BatchFrames != 2 {
		t.Errorf("latest = %+v, want flushed partial batch of 2", latest)
	}
}

func TestRunnerStartFailure(t *testing.T) {
	transport := &fakeTransport{startErr: errors.New("port busy")}
	r := NewRunner(transport, testConfig(3))

	err := r.Run(context.Background())
	if err == nil || !errors.Is(err, transport.startErr) {
		t.Fatalf("Run() = %v, want start error", err)
	}
	if got := r.State(); got != StateStopped {
		t.Errorf("state = %v, want stopped", got)
	}
	if _, stops := transport.counts(); stops != 0 {
		t.Errorf("stop calls after failed start = %d, want 0", stops)
	}
}

func TestRunnerRejectsConcurrentRun(t *testing.T) {
	transport := &fakeTransport{}
	r := NewRunner(transport, testConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	waitForState(t, r, StateRunning)

	if err := r.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Run() = %v, want ErrRunning", err)
	}

	cancel()
	<-done
}

func TestRunnerConfigure(t *testing.T) {
	transport := &fakeTransport{}
	r := NewRunner(transport, testConfig(3))

	// Invalid config rejected while stopped, current config untouched.
	bad := testConfig(0)
	if err := r.Configure(bad); err == nil {
		t.Fatal("Configure(invalid) succeeded")
	}
	if r.Config().View.BatchFrames != 3 {
		t.Error("failed Configure modified active config")
	}

	// Valid config accepted while stopped.
	if err := r.Configure(testConfig(10)); err != nil {
		t.Fatalf("Configure(valid) = %v", err)
	}
	if r.Config().View.BatchFrames != 10 {
		t.Error("Configure did not replace config")
	}

	// Rejected while running.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	waitForState(t, r, StateRunning)

	if err := r.Configure(testConfig(20)); !errors.Is(err, ErrRunning) {
		t.Fatalf("Configure while running = %v, want ErrRunning", err)
	}

	cancel()
	<-done
}

func TestRunnerRestartable(t *testing.T) {
	transport := &fakeTransport{}
	r := NewRunner(transport, testConfig(3))

	for session := 1; session <= 2; session++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx) }()
		waitForState(t, r, StateRunning)
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("session %d: Run() = %v", session, err)
		}
	}

	starts, stops := transport.counts()
	if starts != 2 || stops != 2 {
		t.Errorf("start/stop calls = %d/%d, want 2/2", starts, stops)
	}
}

func waitForState(t *testing.T, r *Runner, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("runner never reached state %v (now %v)", want, r.State())
}
