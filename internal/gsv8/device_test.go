package gsv8

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePort implements SerialPorter with scripted reads.
type fakePort struct {
	mu      sync.Mutex
	reads   [][]byte
	readIdx int
	// repeatLast keeps serving the final script entry, for a port that
	// never goes quiet.
	repeatLast bool
	written    bytes.Buffer
	readErr    error
	closed     bool
	timeout    time.Duration
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.readIdx >= len(p.reads) {
		if p.repeatLast && len(p.reads) > 0 {
			return copy(buf, p.reads[len(p.reads)-1]), nil
		}
		// Out of scripted data: behave like a timed-out serial read.
		return 0, nil
	}
	n := copy(buf, p.reads[p.readIdx])
	p.readIdx++
	return n, nil
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(data)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = timeout
	return nil
}

func TestDeviceStartStopCommands(t *testing.T) {
	port := &fakePort{}
	dev := NewDevice(port, 50, 64)

	if err := dev.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := dev.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}

	written := port.written.Bytes()
	if !bytes.Contains(written, command(opStartTX)) {
		t.Error("start-transmission command not written")
	}
	if !bytes.Contains(written, command(opStopTX)) {
		t.Error("stop-transmission command not written")
	}
	if !bytes.Contains(written, dataRateCommand(50)[:2]) {
		t.Error("data-rate command not written")
	}
}

func TestDeviceStopWithoutStartIsNoop(t *testing.T) {
	port := &fakePort{}
	dev := NewDevice(port, 50, 64)
	if err := dev.Stop(); err != nil {
		t.Fatalf("Stop() before Start() = %v", err)
	}
	if port.written.Len() != 0 {
		t.Error("Stop() before Start() wrote to the port")
	}
}

func TestDeviceReadFrames(t *testing.T) {
	stream := append(encodeFrame(0, testChannels(1)), encodeFrame(0, testChannels(2))...)
	port := &fakePort{reads: [][]byte{stream}}
	dev := NewDevice(port, 50, 64)

	frames, err := dev.ReadFrames(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadFrames() = %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Seq != 1 || frames[1].Seq != 2 {
		t.Errorf("sequence numbers = %d,%d, want 1,2", frames[0].Seq, frames[1].Seq)
	}
	if port.timeout != 100*time.Millisecond {
		t.Errorf("port read timeout = %v, want 100ms", port.timeout)
	}
}

func TestDeviceReadFramesCapsAtFramesPerRead(t *testing.T) {
	var stream []byte
	for i := 0; i < 5; i++ {
		stream = append(stream, encodeFrame(0, testChannels(float64(i)))...)
	}
	port := &fakePort{reads: [][]byte{stream}}
	dev := NewDevice(port, 50, 3)

	frames, err := dev.ReadFrames(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadFrames() = %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want cap of 3", len(frames))
	}
	if frames[0].Seq != 1 || frames[2].Seq != 3 {
		t.Fatalf("first call seqs = %d..%d, want 1..3", frames[0].Seq, frames[2].Seq)
	}

	// Frames decoded beyond the cap must come back on the next call, not
	// vanish: the decoder already consumed their bytes.
	frames, err = dev.ReadFrames(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadFrames() for surplus = %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d surplus frames, want 2", len(frames))
	}
	if frames[0].Seq != 4 || frames[1].Seq != 5 {
		t.Errorf("surplus seqs = %d,%d, want 4,5", frames[0].Seq, frames[1].Seq)
	}

	// With the surplus drained the device is back on the port.
	if _, err := dev.ReadFrames(time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadFrames() after drain = %v, want ErrTimeout", err)
	}
}

func TestDeviceReadGarbageTrickleHonorsTimeout(t *testing.T) {
	// A port delivering a steady trickle of non-frame bytes must not pin
	// ReadFrames past its timeout.
	port := &fakePort{reads: [][]byte{{0x00}}, repeatLast: true}
	dev := NewDevice(port, 50, 64)

	start := time.Now()
	_, err := dev.ReadFrames(20 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadFrames() on garbage trickle = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ReadFrames() took %v, want bounded by the timeout", elapsed)
	}
}

func TestDeviceReadTimeout(t *testing.T) {
	port := &fakePort{}
	dev := NewDevice(port, 50, 64)

	_, err := dev.ReadFrames(time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadFrames() on silent port = %v, want ErrTimeout", err)
	}
}

func TestDeviceReadError(t *testing.T) {
	port := &fakePort{readErr: errors.New("io failure")}
	dev := NewDevice(port, 50, 64)

	_, err := dev.ReadFrames(time.Millisecond)
	if err == nil || !errors.Is(err, port.readErr) {
		t.Fatalf("ReadFrames() = %v, want wrapped io failure", err)
	}
}

func TestDeviceSpansReads(t *testing.T) {
	record := encodeFrame(0, testChannels(9))
	port := &fakePort{reads: [][]byte{record[:7], record[7:]}}
	dev := NewDevice(port, 50, 64)

	frames, err := dev.ReadFrames(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadFrames() = %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames from split record, want 1", len(frames))
	}
}

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		opts    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, false},
		{"explicit", PortOptions{BaudRate: 230400, DataBits: 8, StopBits: 1, Parity: "even"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, true},
		{"bad parity", PortOptions{Parity: "X"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize() succeeded with %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() = %v", err)
			}
			if got.BaudRate == 0 || got.DataBits == 0 || got.StopBits == 0 || got.Parity == "" {
				t.Errorf("Normalize() left zero values: %+v", got)
			}
		})
	}
}
