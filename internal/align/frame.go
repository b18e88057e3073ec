// Package align contains the streaming alignment pipeline: raw sample
// frames in, classified per-plane bending results out. The pipeline stages
// (batcher, computer, publisher) are synchronous and non-blocking; only the
// transport read in the Runner may block.
package align

import (
	"time"

	"github.com/me-systeme/alignprobe/internal/strain"
)

// NumChannels is the number of gauge channels in one sample frame.
const NumChannels = 8

// SampleFrame is one timestamped reading of all device channels. Frames are
// immutable once produced by the transport.
type SampleFrame struct {
	// Seq is a monotonic sequence number assigned by the transport.
	Seq uint64
	// Timestamp is the capture time of the frame.
	Timestamp time.Time
	// Channels holds the strain reading of each physical channel.
	Channels [NumChannels]float64
}

// Plane identifies one of the two gauge planes.
type Plane string

const (
	PlaneA Plane = "A"
	PlaneB Plane = "B"
)

// PlaneResult is the computed alignment state of one plane for one batch.
type PlaneResult struct {
	strain.Decomposition

	// Class is the alignment class assigned by the threshold tables.
	Class strain.ClassBound `json:"class"`

	// Radius is the smoothed display radius for the polar view.
	Radius float64 `json:"radius"`
}

// AlignmentResult is the unit handed to renderers: both planes' results plus
// provenance of the originating batch. Results are immutable; a new batch
// produces a new value rather than mutating the previous one, so any number
// of observers may read a published result without locking.
type AlignmentResult struct {
	// Seq is the sequence number of the last frame in the batch.
	Seq uint64 `json:"seq"`
	// Time is the capture timestamp of the last frame in the batch.
	Time time.Time `json:"time"`
	// BatchFrames is the number of frames aggregated into this result.
	BatchFrames int `json:"batch_frames"`
	// Partial marks results computed from a short batch flushed at shutdown.
	Partial bool `json:"partial"`

	PlaneA PlaneResult `json:"plane_a"`
	PlaneB PlaneResult `json:"plane_b"`
}
