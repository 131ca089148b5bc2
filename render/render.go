// Package render turns arbitration decisions into output on the configured
// sinks.
package render

import (
	"errors"
	"fmt"
	"log"

	"github.com/Tutortoise/produce-detector/models"
)

// Sink is one output surface.
type Sink interface {
	Name() string
	// RenderDetected shows a recognized, non-background category.
	RenderDetected(c models.Category) error
	// RenderNone shows the "nothing recognized" state.
	RenderNone() error
}

// ScoreReporter is implemented by sinks that also print the raw score vector
// every cycle.
type ScoreReporter interface {
	ReportScores(table models.LabelTable, scores []float32) error
}

// FrameObserver receives the input tensor after every successful frame
// acquisition. Implementations must copy what they keep.
type FrameObserver interface {
	ObserveFrame(shape models.FrameShape, input []float32)
}

// DecisionObserver is implemented by sinks that want the full decision, not
// just the category, such as the history store.
type DecisionObserver interface {
	ObserveDecision(cycleID string, d models.Decision, table models.LabelTable) error
}

// SinkError records one sink failure during Render.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Renderer fans a decision out to every sink. A failing sink never prevents
// the others from rendering.
type Renderer struct {
	sinks []Sink
	logf  func(format string, v ...interface{})
}

// NewRenderer returns a renderer over sinks. No sinks is valid.
func NewRenderer(sinks ...Sink) *Renderer {
	return &Renderer{sinks: sinks, logf: log.Printf}
}

// SetLogger replaces the failure logger. Passing nil mutes it.
func (r *Renderer) SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	r.logf = f
}

// Sinks returns the configured sinks.
func (r *Renderer) Sinks() []Sink {
	return r.sinks
}

// Observers returns the sinks that want input frames.
func (r *Renderer) Observers() []FrameObserver {
	var out []FrameObserver
	for _, s := range r.sinks {
		if o, ok := s.(FrameObserver); ok {
			out = append(out, o)
		}
	}
	return out
}

// Render shows d on every sink. Background or undetected decisions render the
// "no detection" state. It returns the failures, already logged.
func (r *Renderer) Render(cycleID string, d models.Decision, table models.LabelTable, scores []float32) []*SinkError {
	category, show := table.At(d.Index)
	show = show && d.Detected && d.Index != table.Background

	var failed []*SinkError
	for _, s := range r.sinks {
		// The score line and decision hooks run even when the render call
		// failed; a sink reports all of its failures as one error.
		errs := []error{r.call(s, func() error {
			if show {
				return s.RenderDetected(category)
			}
			return s.RenderNone()
		})}
		if rep, ok := s.(ScoreReporter); ok {
			errs = append(errs, r.call(s, func() error { return rep.ReportScores(table, scores) }))
		}
		if obs, ok := s.(DecisionObserver); ok {
			errs = append(errs, r.call(s, func() error { return obs.ObserveDecision(cycleID, d, table) }))
		}
		err := errors.Join(errs...)
		if err != nil {
			se := &SinkError{Sink: s.Name(), Err: err}
			r.logf("render: %v", se)
			failed = append(failed, se)
		}
	}
	return failed
}

// ObserveFrame offers input to every FrameObserver sink, recovering panics.
func (r *Renderer) ObserveFrame(shape models.FrameShape, input []float32) {
	for _, o := range r.Observers() {
		s := o.(Sink)
		if err := r.call(s, func() error {
			o.ObserveFrame(shape, input)
			return nil
		}); err != nil {
			r.logf("render: frame observer %s: %v", s.Name(), err)
		}
	}
}

func (r *Renderer) call(s Sink, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
