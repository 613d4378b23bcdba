package streamcapture

import (
	"github.com/e7canasta/orion-viewer/modules/compute"
)

// Option customizes a Loop.
type Option func(*Loop)

// WithPipeline sets the compute pipeline used for postprocessing. Without
// it a CPU pipeline is created on first use. The loop does not close p.
func WithPipeline(p *compute.Pipeline) Option {
	return func(l *Loop) {
		l.pipeline = p
	}
}

// WithStateObserver registers fn to be called on every state transition,
// from the loop goroutine. fn must not block.
func WithStateObserver(fn func(from, to State)) Option {
	return func(l *Loop) {
		l.observers = append(l.observers, fn)
	}
}
