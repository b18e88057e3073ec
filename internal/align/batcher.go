package align

import "fmt"

// Batch is a group of consecutive frames ready for aggregation.
type Batch struct {
	Frames []SampleFrame
	// Partial marks a batch emitted by Flush before reaching the configured
	// size.
	Partial bool
}

// FrameBatcher accumulates frames until the configured batch size is reached
// and then emits the full batch. Frames are emitted strictly in arrival
// order, and a partial batch is only ever emitted through an explicit Flush
// (used at shutdown so trailing samples are not lost).
type FrameBatcher struct {
	size   int
	frames []SampleFrame
}

// NewFrameBatcher creates a batcher emitting batches of the given size.
// A size of 1 degenerates to per-frame emission.
func NewFrameBatcher(size int) (*FrameBatcher, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", size)
	}
	return &FrameBatcher{
		size:   size,
		frames: make([]SampleFrame, 0, size),
	}, nil
}

// Add appends one frame. When the frame completes a batch, the full batch is
// returned with ok=true and the batcher resets.
func (b *FrameBatcher) Add(f SampleFrame) (Batch, bool) {
	b.frames = append(b.frames, f)
	if len(b.frames) < b.size {
		return Batch{}, false
	}
	return b.take(false), true
}

// Flush emits whatever has accumulated as a partial batch. Returns ok=false
// when nothing is pending.
func (b *FrameBatcher) Flush() (Batch, bool) {
	if len(b.frames) == 0 {
		return Batch{}, false
	}
	return b.take(true), true
}

// Pending returns the number of accumulated frames not yet emitted.
func (b *FrameBatcher) Pending() int {
	return len(b.frames)
}

func (b *FrameBatcher) take(partial bool) Batch {
	frames := b.frames
	b.frames = make([]SampleFrame, 0, b.size)
	return Batch{Frames: frames, Partial: partial && len(frames) < b.size}
}
