package align

import "sync/atomic"

// ResultPublisher is the single-slot handoff between the acquisition loop
// and renderers. Publish atomically replaces the stored result; Latest
// returns the most recent one without consuming it. This is last-value-wins
// broadcast, not a queue: a slow reader never blocks the producer, and a
// reader polling slower than the producer simply misses intermediate
// results.
type ResultPublisher struct {
	latest atomic.Pointer[AlignmentResult]
}

// Publish replaces the stored latest result. The result must not be mutated
// after publishing.
func (p *ResultPublisher) Publish(r *AlignmentResult) {
	p.latest.Store(r)
}

// Latest returns the most recently published result, or nil before the
// first publish. Never blocks.
func (p *ResultPublisher) Latest() *AlignmentResult {
	return p.latest.Load()
}
