package gsv8

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/me-systeme/alignprobe/internal/align"
)

// Streaming wire format: each measurement frame is a fixed-size record of
// framePrefix, a status byte, the eight channel values as little-endian
// float32, and an XOR checksum over status and payload. The device emits
// frames back to back while transmission is running.
const (
	framePrefix  = 0xA5
	payloadBytes = align.NumChannels * 4
	frameBytes   = 2 + payloadBytes + 1
)

// statusOverload flags an input overload on at least one channel.
const statusOverload = 0x01

// frameDecoder incrementally decodes the measurement byte stream. It keeps
// unconsumed trailing bytes between feeds and resynchronises on the prefix
// byte after corruption, counting what it had to discard.
type frameDecoder struct {
	buf     []byte
	seq     uint64
	dropped uint64
}

// feed appends raw bytes and returns all complete frames now decodable.
// Frames are stamped with the provided capture time and a monotonically
// increasing sequence number.
func (d *frameDecoder) feed(p []byte, now time.Time) []align.SampleFrame {
	d.buf = append(d.buf, p...)

	var frames []align.SampleFrame
	for len(d.buf) >= frameBytes {
		if d.buf[0] != framePrefix {
			d.buf = d.buf[1:]
			d.dropped++
			continue
		}
		record := d.buf[:frameBytes]
		if xorChecksum(record[1:frameBytes-1]) != record[frameBytes-1] {
			// Corrupt frame: discard the prefix byte and rescan.
			d.buf = d.buf[1:]
			d.dropped++
			continue
		}

		d.seq++
		f := align.SampleFrame{Seq: d.seq, Timestamp: now}
		for ch := 0; ch < align.NumChannels; ch++ {
			bits := binary.LittleEndian.Uint32(record[2+ch*4:])
			f.Channels[ch] = float64(math.Float32frombits(bits))
		}
		frames = append(frames, f)
		d.buf = d.buf[frameBytes:]
	}

	// Compact so the retained tail does not pin the grown backing array.
	if len(d.buf) > 0 {
		d.buf = append([]byte(nil), d.buf...)
	} else {
		d.buf = nil
	}
	return frames
}

// reset clears buffered bytes but keeps the sequence counter monotonic
// across restarted transmissions.
func (d *frameDecoder) reset() {
	d.buf = nil
}

// droppedBytes reports how many bytes were discarded while resynchronising.
func (d *frameDecoder) droppedBytes() uint64 {
	return d.dropped
}

func xorChecksum(p []byte) byte {
	var sum byte
	for _, b := range p {
		sum ^= b
	}
	return sum
}

// encodeFrame builds one wire-format frame from channel values. The real
// device produces these; the simulator and tests use this encoder.
func encodeFrame(status byte, channels [align.NumChannels]float64) []byte {
	record := make([]byte, frameBytes)
	record[0] = framePrefix
	record[1] = status
	for ch, v := range channels {
		binary.LittleEndian.PutUint32(record[2+ch*4:], math.Float32bits(float32(v)))
	}
	record[frameBytes-1] = xorChecksum(record[1 : frameBytes-1])
	return record
}
