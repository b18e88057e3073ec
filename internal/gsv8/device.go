package gsv8

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/me-systeme/alignprobe/internal/align"
)

// ErrTimeout is returned by ReadFrames when no complete frame arrived
// within the read timeout.
var ErrTimeout = errors.New("gsv8: read timeout")

// Control opcodes. Commands are a fixed three-byte envelope around the
// opcode; the data-rate command carries a float32 argument.
const (
	cmdEnvelopeStart = 0xAA
	cmdEnvelopeEnd   = 0x85
	opStartTX        = 0x24
	opStopTX         = 0x25
	opSetDataRate    = 0x8A
)

// Device drives a GSV-8 over a serial port and satisfies align.Transport.
type Device struct {
	port          SerialPorter
	sampleHz      float64
	framesPerRead int

	mu      sync.Mutex
	decoder frameDecoder
	readBuf []byte
	// pending holds decoded frames beyond the per-read cap, served before
	// the port is read again so no decoded frame is ever dropped.
	pending []align.SampleFrame
	started bool
}

// Open opens the serial port at path and returns a device ready to start
// streaming.
func Open(path string, opts PortOptions, sampleHz float64, framesPerRead int) (*Device, error) {
	port, err := openSerialPort(path, opts)
	if err != nil {
		return nil, err
	}
	return NewDevice(port, sampleHz, framesPerRead), nil
}

// NewDevice wraps an already-open port. Used by tests with fake ports.
func NewDevice(port SerialPorter, sampleHz float64, framesPerRead int) *Device {
	if framesPerRead < 1 {
		framesPerRead = 1
	}
	return &Device{
		port:          port,
		sampleHz:      sampleHz,
		framesPerRead: framesPerRead,
		readBuf:       make([]byte, 4096),
	}
}

// Start requests the configured data rate and begins continuous
// transmission. The data-rate request is best effort: some firmware
// revisions reject it while streaming is armed, which is not fatal.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.decoder.reset()
	d.pending = nil

	if d.sampleHz > 0 {
		if err := d.writeCommand(dataRateCommand(d.sampleHz)); err != nil {
			log.Printf("[GSV8] set data rate %.3f Hz: %v", d.sampleHz, err)
		}
	}

	if err := d.writeCommand(command(opStartTX)); err != nil {
		return fmt.Errorf("start transmission: %w", err)
	}
	d.started = true
	return nil
}

// Stop ends continuous transmission. Safe to call when not streaming.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}
	d.started = false
	if err := d.writeCommand(command(opStopTX)); err != nil {
		return fmt.Errorf("stop transmission: %w", err)
	}
	return nil
}

// ReadFrames returns frames held back by the previous call, or reads from
// the port until at least one complete frame is decoded or the timeout
// expires. At most the configured frames-per-read are returned per call;
// surplus decoded frames stay pending for the next call.
func (d *Device) ReadFrames(timeout time.Duration) ([]align.SampleFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) > 0 {
		return d.takePending(), nil
	}

	if err := d.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		n, err := d.port.Read(d.readBuf)
		if err != nil {
			return nil, fmt.Errorf("read serial port: %w", err)
		}
		if n > 0 {
			d.pending = append(d.pending, d.decoder.feed(d.readBuf[:n], time.Now())...)
		}
		if len(d.pending) >= d.framesPerRead {
			return d.takePending(), nil
		}
		// A zero-byte read means the port went quiet; hand over what we have
		// rather than waiting out the rest of the timeout.
		if len(d.pending) > 0 && n == 0 {
			return d.takePending(), nil
		}
		// The deadline bounds every call, even against a port trickling
		// garbage that never decodes to a frame.
		if !time.Now().Before(deadline) {
			if len(d.pending) > 0 {
				return d.takePending(), nil
			}
			return nil, ErrTimeout
		}
	}
}

// takePending serves up to framesPerRead pending frames, retaining the rest.
func (d *Device) takePending() []align.SampleFrame {
	frames := d.pending
	if len(frames) <= d.framesPerRead {
		d.pending = nil
		return frames
	}
	d.pending = append([]align.SampleFrame(nil), frames[d.framesPerRead:]...)
	return frames[:d.framesPerRead]
}

// Close releases the serial port.
func (d *Device) Close() error {
	return d.port.Close()
}

// DroppedBytes reports bytes discarded while resynchronising the frame
// stream, for diagnostics.
func (d *Device) DroppedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decoder.droppedBytes()
}

func (d *Device) writeCommand(cmd []byte) error {
	n, err := d.port.Write(cmd)
	if err != nil {
		return err
	}
	if n != len(cmd) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(cmd))
	}
	return nil
}

func command(op byte) []byte {
	return []byte{cmdEnvelopeStart, op, cmdEnvelopeEnd}
}

func dataRateCommand(hz float64) []byte {
	cmd := make([]byte, 7)
	cmd[0] = cmdEnvelopeStart
	cmd[1] = opSetDataRate
	binary.LittleEndian.PutUint32(cmd[2:], math.Float32bits(float32(hz)))
	cmd[6] = cmdEnvelopeEnd
	return cmd
}
