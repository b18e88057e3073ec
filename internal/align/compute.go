package align

import (
	"gonum.org/v1/gonum/stat"

	"github.com/me-systeme/alignprobe/internal/config"
	"github.com/me-systeme/alignprobe/internal/strain"
)

// Computer turns a batch of frames into per-plane decompositions and class
// assignments. It is a pure stage: no state, no side effects, identical
// batches produce identical results.
type Computer struct {
	channels config.ChannelMap
	classes  strain.ClassTable
	pbFloor  float64
}

// NewComputer builds a computer from a validated configuration.
func NewComputer(cfg *config.Config) *Computer {
	return &Computer{
		channels: cfg.Channels,
		classes:  cfg.Classes,
		pbFloor:  cfg.View.PBFloor,
	}
}

// Compute aggregates the batch (arithmetic mean per channel, in arrival
// order) and decomposes and classifies both planes. Radius is left zero;
// smoothing is stateful and applied by the Runner.
func (c *Computer) Compute(batch Batch) AlignmentResult {
	means := channelMeans(batch.Frames)

	last := batch.Frames[len(batch.Frames)-1]
	res := AlignmentResult{
		Seq:         last.Seq,
		Time:        last.Timestamp,
		BatchFrames: len(batch.Frames),
		Partial:     batch.Partial,
	}
	res.PlaneA = c.computePlane(means, c.channels.PlaneA)
	res.PlaneB = c.computePlane(means, c.channels.PlaneB)
	return res
}

func (c *Computer) computePlane(means [NumChannels]float64, ch config.PlaneChannels) PlaneResult {
	d := strain.Decompose(strain.GaugeSet{
		E0:   means[ch.E0],
		E90:  means[ch.E90],
		E180: means[ch.E180],
		E270: means[ch.E270],
	}, c.pbFloor)

	return PlaneResult{
		Decomposition: d,
		Class:         c.classes.Classify(d),
	}
}

// channelMeans computes the arithmetic mean of every channel across the
// batch. Each channel column is summed in frame-arrival order, which fixes
// the floating-point aggregation order and with it bit-for-bit determinism.
func channelMeans(frames []SampleFrame) [NumChannels]float64 {
	var means [NumChannels]float64
	column := make([]float64, len(frames))
	for ch := 0; ch < NumChannels; ch++ {
		for i, f := range frames {
			column[i] = f.Channels[ch]
		}
		means[ch] = stat.Mean(column, nil)
	}
	return means
}
