// Command alignprobe runs the strain-gauge alignment service: it reads
// eight-channel sample frames from a GSV-8 amplifier (or a built-in
// simulator), computes per-plane axial/bending decomposition per batch, and
// serves results over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/me-systeme/alignprobe/internal/align"
	"github.com/me-systeme/alignprobe/internal/api"
	"github.com/me-systeme/alignprobe/internal/config"
	"github.com/me-systeme/alignprobe/internal/db"
	"github.com/me-systeme/alignprobe/internal/gsv8"
)

var (
	configPath = flag.String("config", "", "path to a JSON config file (defaults apply when empty)")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	devMode    = flag.Bool("dev", false, "use the built-in signal simulator instead of a serial device")
	dbFile     = flag.String("db", "alignment.db", "SQLite file for run recording (empty disables recording)")
)

// sessionManager owns the runner goroutine: one acquisition session at a
// time, each recorded as a run when a store is attached. It satisfies
// api.Controller.
type sessionManager struct {
	runner *align.Runner
	store  *db.DB

	baseCtx context.Context

	mu sync.Mutex
	// running marks a claimed session from StartSession until its goroutine
	// exits. The runner's own state lags behind the goroutine spawn, so the
	// double-start guard cannot rely on it.
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newSessionManager(ctx context.Context, runner *align.Runner, store *db.DB) *sessionManager {
	return &sessionManager{runner: runner, store: store, baseCtx: ctx}
}

func (sm *sessionManager) StartSession() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.running {
		return align.ErrRunning
	}

	var runID string
	if sm.store != nil {
		snapshot, err := json.Marshal(sm.runner.Config())
		if err != nil {
			return err
		}
		runID, err = sm.store.CreateRun(string(snapshot))
		if err != nil {
			return err
		}
		sm.runner.SetSink(sm.store.NewRecorder(runID))
		log.Printf("[Session] recording run %s", runID)
	}

	ctx, cancel := context.WithCancel(sm.baseCtx)
	sm.cancel = cancel
	sm.running = true
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		defer cancel()
		if err := sm.runner.Run(ctx); err != nil {
			log.Printf("[Session] acquisition ended with error: %v", err)
		}
		if sm.store != nil && runID != "" {
			if err := sm.store.FinishRun(runID); err != nil {
				log.Printf("[Session] finish run %s: %v", runID, err)
			}
		}
		sm.mu.Lock()
		sm.running = false
		sm.mu.Unlock()
	}()
	return nil
}

func (sm *sessionManager) StopSession() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.cancel != nil {
		sm.cancel()
		sm.cancel = nil
	}
}

// Wait blocks until the active session goroutine, if any, has exited.
func (sm *sessionManager) Wait() { sm.wg.Wait() }

func (sm *sessionManager) State() align.State { return sm.runner.State() }

func (sm *sessionManager) Latest() *align.AlignmentResult { return sm.runner.Latest() }

func (sm *sessionManager) Config() *config.Config { return sm.runner.Config() }

func (sm *sessionManager) Configure(cfg *config.Config) error { return sm.runner.Configure(cfg) }

func openTransport(cfg *config.Config) (align.Transport, error) {
	if *devMode {
		log.Printf("[Main] dev mode: using signal simulator")
		return gsv8.NewSimulator(gsv8.SimulatorConfig{
			Channels:      cfg.Channels,
			SampleHz:      cfg.Device.SampleFrequency,
			FramesPerRead: cfg.Device.FramesPerRead,
			AxialA:        1200,
			BendingA:      [2]float64{30, 40},
			AxialB:        450,
			BendingB:      [2]float64{-15, 10},
			NoiseStdDev:   5,
		}), nil
	}
	dev, err := gsv8.Open(cfg.Device.SerialPort,
		gsv8.PortOptions{BaudRate: cfg.Device.BaudRate},
		cfg.Device.SampleFrequency, cfg.Device.FramesPerRead)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	transport, err := openTransport(cfg)
	if err != nil {
		log.Fatalf("failed to open device %s: %v", cfg.Device.SerialPort, err)
	}
	if dev, ok := transport.(*gsv8.Device); ok {
		defer dev.Close()
	}

	var store *db.DB
	if *dbFile != "" {
		store, err = db.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open run database: %v", err)
		}
		defer store.Close()
	} else {
		log.Printf("[Main] run recording disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := align.NewRunner(transport, cfg)
	sessions := newSessionManager(ctx, runner, store)

	// Acquisition starts immediately; /api/control/stop pauses it without
	// taking down the HTTP surface.
	if err := sessions.StartSession(); err != nil {
		log.Fatalf("failed to start acquisition: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.NewServer(sessions, store).Routes(),
		}

		go func() {
			log.Printf("[Main] HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	sessions.StopSession()
	sessions.Wait()
	log.Printf("Graceful shutdown complete")
}
