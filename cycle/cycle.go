// Package cycle runs the perception loop: acquire a frame, infer, extract the
// scores, arbitrate and render, then sleep.
package cycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tutortoise/produce-detector/arbiter"
	"github.com/Tutortoise/produce-detector/frames"
	"github.com/Tutortoise/produce-detector/models"
	"github.com/Tutortoise/produce-detector/render"
	"github.com/Tutortoise/produce-detector/timeutil"
)

// DefaultInterval is the pause between cycles.
const DefaultInterval = 5000 * time.Millisecond

// Engine is the part of the inference engine the loop drives. *engine.Handle
// implements it.
type Engine interface {
	Input() []float32
	Output() []float32
	Scores() []float32
	Shape() models.FrameShape
	Invoke() error
}

// Config holds the loop parameters.
type Config struct {
	Interval time.Duration
	Table    models.LabelTable
	Policy   arbiter.Policy
}

// Report describes one completed cycle.
type Report struct {
	CycleID    string
	Decision   models.Decision
	Shown      bool // a category was rendered, not the "no detection" state
	Scores     []float32
	AcquireErr error
	InferErr   error
	SinkErrors []*render.SinkError
	Timings    models.CycleTimings
}

// Degraded reports whether any stage failed.
func (r Report) Degraded() bool {
	return r.AcquireErr != nil || r.InferErr != nil || len(r.SinkErrors) > 0
}

// Orchestrator owns the loop. Only its goroutine touches the engine.
type Orchestrator struct {
	engine   Engine
	source   frames.Source
	renderer *render.Renderer
	table    models.LabelTable
	policy   arbiter.Policy
	interval time.Duration

	clock   timeutil.Clock
	metrics *Metrics
	tracer  trace.Tracer
	logf    func(format string, v ...interface{})
	debug   bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithClock(c timeutil.Clock) Option { return func(o *Orchestrator) { o.clock = c } }

func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// WithLogger replaces the stage failure logger. nil mutes it.
func WithLogger(f func(format string, v ...interface{})) Option {
	return func(o *Orchestrator) {
		if f == nil {
			f = func(string, ...interface{}) {}
		}
		o.logf = f
	}
}

// WithDebug enables per-cycle timing dumps.
func WithDebug(on bool) Option { return func(o *Orchestrator) { o.debug = on } }

// New builds an orchestrator. The engine output must have one score per
// label table entry.
func New(eng Engine, src frames.Source, r *render.Renderer, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Table.Validate(); err != nil {
		return nil, err
	}
	if n := len(eng.Output()); n != cfg.Table.Len() {
		return nil, fmt.Errorf("model produces %d scores but the label table has %d categories", n, cfg.Table.Len())
	}
	if n := len(eng.Scores()); n != cfg.Table.Len() {
		return nil, fmt.Errorf("score buffer holds %d values, want %d", n, cfg.Table.Len())
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("negative cycle interval %v", cfg.Interval)
	}
	if r == nil {
		r = render.NewRenderer()
	}

	o := &Orchestrator{
		engine:   eng,
		source:   src,
		renderer: r,
		table:    cfg.Table,
		policy:   cfg.Policy,
		interval: cfg.Interval,
		clock:    timeutil.RealClock{},
		metrics:  NewMetrics(),
		tracer:   otel.Tracer("github.com/Tutortoise/produce-detector/cycle"),
		logf:     log.Printf,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Metrics returns the loop counters.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// Table returns the label table in use.
func (o *Orchestrator) Table() models.LabelTable { return o.table }

// Run cycles until ctx is cancelled and returns the context error. Stage
// failures never stop the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.Step(ctx)
		if err := o.clock.Sleep(ctx, o.interval); err != nil {
			return err
		}
	}
}

// Step runs exactly one ACQUIRE → INFER → EXTRACT → RESPOND pass.
func (o *Orchestrator) Step(ctx context.Context) Report {
	rep := Report{CycleID: uuid.NewString()}
	rep.Timings.CycleID = rep.CycleID

	ctx, span := o.tracer.Start(ctx, "cycle", trace.WithAttributes(attribute.String("cycle.id", rep.CycleID)))
	defer span.End()

	start := o.clock.Now()
	shape := o.engine.Shape()
	input := o.engine.Input()

	// ACQUIRE. On failure the previous frame stays in the input tensor.
	rep.Timings.Acquire, rep.AcquireErr = o.stage(ctx, "acquire", func() error {
		return o.source.GetFrame(shape.Width, shape.Height, shape.Channels, input)
	})
	if rep.AcquireErr != nil {
		o.logf("Image capture failed: %v", rep.AcquireErr)
	} else {
		o.renderer.ObserveFrame(shape, input)
	}

	// INFER, then EXTRACT only on success so the score buffer keeps the last
	// good output.
	scores := o.engine.Scores()
	rep.Timings.Infer, rep.InferErr = o.stage(ctx, "infer", o.engine.Invoke)
	if rep.InferErr != nil {
		o.logf("Invoke failed: %v", rep.InferErr)
	} else {
		rep.Timings.Extract, _ = o.stage(ctx, "extract", func() error {
			copy(scores, o.engine.Output())
			return nil
		})
	}

	// RESPOND
	rep.Timings.Respond, _ = o.stage(ctx, "respond", func() error {
		rep.Decision = o.policy.Arbitrate(scores)
		rep.SinkErrors = o.renderer.Render(rep.CycleID, rep.Decision, o.table, scores)
		return nil
	})
	_, inTable := o.table.At(rep.Decision.Index)
	rep.Shown = inTable && rep.Decision.Detected && rep.Decision.Index != o.table.Background
	rep.Scores = append([]float32(nil), scores...)
	rep.Timings.Total = o.clock.Since(start)

	span.SetAttributes(
		attribute.Int("decision.index", rep.Decision.Index),
		attribute.Float64("decision.score", float64(rep.Decision.Score)),
		attribute.Bool("decision.detected", rep.Decision.Detected),
		attribute.Int("sink.failures", len(rep.SinkErrors)),
	)
	if rep.Degraded() {
		span.SetStatus(codes.Error, "degraded cycle")
	}

	o.metrics.Observe(rep, o.clock.Now())
	o.logTimings(rep.Timings)
	return rep
}

// stage times fn inside a child span.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func() error) (time.Duration, error) {
	_, span := o.tracer.Start(ctx, name)
	defer span.End()

	t := o.clock.Now()
	err := fn()
	d := o.clock.Since(t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return d, err
}

func (o *Orchestrator) logTimings(t models.CycleTimings) {
	if o.debug {
		o.logf("[DEBUG] Cycle: %s - Processing times:\n"+
			"\tAcquire: %v\n"+
			"\tInfer:   %v\n"+
			"\tExtract: %v\n"+
			"\tRespond: %v\n"+
			"\tTotal:   %v",
			t.CycleID,
			t.Acquire,
			t.Infer,
			t.Extract,
			t.Respond,
			t.Total)
	}
}
