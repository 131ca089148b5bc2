package cycle

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/produce-detector/arbiter"
	"github.com/Tutortoise/produce-detector/frames"
	"github.com/Tutortoise/produce-detector/models"
	"github.com/Tutortoise/produce-detector/render"
	"github.com/Tutortoise/produce-detector/timeutil"
)

// fakeEngine returns a scripted output vector per Invoke.
type fakeEngine struct {
	shape   models.FrameShape
	input   []float32
	output  []float32
	scores  []float32
	outputs [][]float32
	errs    []error
	invokes int
}

func newFakeEngine(outputs ...[]float32) *fakeEngine {
	shape := models.FrameShape{Width: 2, Height: 2, Channels: 3, Layout: models.NHWC}
	return &fakeEngine{
		shape:   shape,
		input:   make([]float32, shape.Elements()),
		output:  make([]float32, 4),
		scores:  make([]float32, 4),
		outputs: outputs,
	}
}

func (f *fakeEngine) Input() []float32        { return f.input }
func (f *fakeEngine) Output() []float32       { return f.output }
func (f *fakeEngine) Scores() []float32       { return f.scores }
func (f *fakeEngine) Shape() models.FrameShape { return f.shape }

func (f *fakeEngine) Invoke() error {
	i := f.invokes
	f.invokes++
	if i < len(f.errs) && f.errs[i] != nil {
		return f.errs[i]
	}
	if i < len(f.outputs) {
		copy(f.output, f.outputs[i])
	}
	return nil
}

func fillSource(v float32) frames.Source {
	return frames.SourceFunc(func(w, h, c int, dst []float32) error {
		for i := range dst {
			dst[i] = v
		}
		return nil
	})
}

func testConfig() Config {
	table := models.DefaultLabelTable()
	return Config{
		Interval: DefaultInterval,
		Table:    table,
		Policy:   arbiter.DefaultPolicy(table.Background),
	}
}

func newTestOrchestrator(t *testing.T, eng Engine, src frames.Source, r *render.Renderer, opts ...Option) *Orchestrator {
	t.Helper()
	if r == nil {
		r = render.NewRenderer()
	}
	r.SetLogger(nil)
	opts = append([]Option{WithLogger(nil), WithClock(timeutil.NewMockClock(time.Unix(0, 0)))}, opts...)
	o, err := New(eng, src, r, testConfig(), opts...)
	require.NoError(t, err)
	return o
}

func TestNew_Validation(t *testing.T) {
	cfg := testConfig()

	eng := newFakeEngine()
	eng.output = make([]float32, 3)
	_, err := New(eng, fillSource(0), nil, cfg)
	assert.ErrorContains(t, err, "label table has 4 categories")

	bad := cfg
	bad.Table.Background = 7
	_, err = New(newFakeEngine(), fillSource(0), nil, bad)
	assert.Error(t, err)

	neg := cfg
	neg.Interval = -time.Second
	_, err = New(newFakeEngine(), fillSource(0), nil, neg)
	assert.ErrorContains(t, err, "negative cycle interval")
}

func TestStep_Detected(t *testing.T) {
	eng := newFakeEngine([]float32{0.1, 0.8, 0.05, 0.05})
	o := newTestOrchestrator(t, eng, fillSource(0.5), nil)

	rep := o.Step(context.Background())
	require.NoError(t, rep.AcquireErr)
	require.NoError(t, rep.InferErr)
	assert.Equal(t, models.Decision{Index: 1, Score: 0.8, Detected: true}, rep.Decision)
	assert.True(t, rep.Shown)
	assert.False(t, rep.Degraded())
	assert.NotEmpty(t, rep.CycleID)
	assert.Equal(t, rep.CycleID, rep.Timings.CycleID)
	if diff := cmp.Diff([]float32{0.1, 0.8, 0.05, 0.05}, rep.Scores); diff != "" {
		t.Errorf("scores mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, float32(0.5), eng.input[0])
}

func TestStep_AcquireFailureKeepsCycling(t *testing.T) {
	eng := newFakeEngine([]float32{0.9, 0, 0, 0.1})
	for i := range eng.input {
		eng.input[i] = 0.25
	}
	src := frames.SourceFunc(func(w, h, c int, dst []float32) error {
		return errors.New("camera unplugged")
	})
	o := newTestOrchestrator(t, eng, src, nil)

	rep := o.Step(context.Background())
	require.Error(t, rep.AcquireErr)
	assert.True(t, rep.Degraded())

	// Inference still ran on the stale frame.
	assert.Equal(t, 1, eng.invokes)
	assert.Equal(t, float32(0.25), eng.input[0])
	assert.Equal(t, 0, rep.Decision.Index)
	assert.True(t, rep.Decision.Detected)

	snap := o.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Cycles)
	assert.Equal(t, int64(1), snap.AcquireFailures)
}

func TestStep_InferFailureKeepsPreviousScores(t *testing.T) {
	eng := newFakeEngine([]float32{0.1, 0.1, 0.7, 0.1}, []float32{0.9, 0, 0, 0})
	eng.errs = []error{nil, errors.New("boom")}
	o := newTestOrchestrator(t, eng, fillSource(0), nil)

	first := o.Step(context.Background())
	require.NoError(t, first.InferErr)
	assert.Equal(t, 2, first.Decision.Index)

	second := o.Step(context.Background())
	require.Error(t, second.InferErr)
	assert.Equal(t, first.Scores, second.Scores)
	assert.Equal(t, first.Decision, second.Decision)
	assert.Zero(t, second.Timings.Extract)
	assert.Equal(t, int64(1), o.Metrics().Snapshot().InferFailures)
}

func TestStep_TieKeepsFirstIndex(t *testing.T) {
	eng := newFakeEngine([]float32{0.6, 0.6, 0, 0})
	o := newTestOrchestrator(t, eng, fillSource(0), nil)

	rep := o.Step(context.Background())
	assert.Equal(t, 0, rep.Decision.Index)
	assert.True(t, rep.Shown)
}

func TestStep_BackgroundRendersNoDetection(t *testing.T) {
	var buf bytes.Buffer
	grid := render.NewGridDisplay(4, 20)
	panel := &render.MemoryPanel{}
	r := render.NewRenderer(
		render.NewTextSink(log.New(&buf, "", 0)),
		render.NewLCDSink(grid),
		render.NewPanelSink(panel),
	)

	eng := newFakeEngine([]float32{0.05, 0.05, 0.05, 0.85})
	o := newTestOrchestrator(t, eng, fillSource(0), r)

	rep := o.Step(context.Background())
	assert.Equal(t, 3, rep.Decision.Index)
	assert.False(t, rep.Decision.Detected)
	assert.False(t, rep.Shown)
	assert.Empty(t, rep.SinkErrors)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, render.MsgNoDetection, lines[0])
	assert.Equal(t, "Apple: 0.050000, Banana: 0.050000, Lemon: 0.050000, Other: 0.850000", lines[1])
	assert.NotContains(t, buf.String(), "Detected fruit")
	assert.NotContains(t, buf.String(), "price")
	assert.NotContains(t, buf.String(), "$")

	want := []string{"", render.MsgNoDetection, "", ""}
	if diff := cmp.Diff(want, grid.Lines()); diff != "" {
		t.Errorf("lcd mismatch (-want +got):\n%s", diff)
	}

	// The 2x2 frame scales to 4 rows; the status strip below it is 28 rows
	// with the indicator centred at x=12.
	require.NotNil(t, panel.Latest())
	img, err := png.Decode(bytes.NewReader(panel.Latest()))
	require.NoError(t, err)
	require.Equal(t, 4+28, img.Bounds().Dy())
	r8, g8, b8, _ := img.At(12, 4+14).RGBA()
	assert.Equal(t, [3]uint32{0x3a3a, 0x3a3a, 0x3a3a}, [3]uint32{r8, g8, b8}, "indicator off")
}

type failingSink struct{}

func (failingSink) Name() string { return "broken" }
func (failingSink) RenderDetected(models.Category) error { return errors.New("bus error") }
func (failingSink) RenderNone() error { return errors.New("bus error") }

func TestStep_SinkFailureIsReported(t *testing.T) {
	grid := render.NewGridDisplay(4, 20)
	r := render.NewRenderer(failingSink{}, render.NewLCDSink(grid))
	eng := newFakeEngine([]float32{0, 0, 0.95, 0})
	o := newTestOrchestrator(t, eng, fillSource(0), r)

	rep := o.Step(context.Background())
	require.Len(t, rep.SinkErrors, 1)
	assert.Equal(t, "broken", rep.SinkErrors[0].Sink)
	assert.Equal(t, "Lemon", grid.Lines()[1])
	assert.Equal(t, int64(1), o.Metrics().Snapshot().SinkFailures)
}

func TestRun_SleepsBetweenCycles(t *testing.T) {
	eng := newFakeEngine([]float32{0.9, 0, 0, 0})
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	o := newTestOrchestrator(t, eng, fillSource(0), nil, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.OnSleep = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, eng.invokes)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.Sleeps())
	assert.Equal(t, int64(3), o.Metrics().Snapshot().Cycles)
}

func TestRun_SurvivesPersistentFailures(t *testing.T) {
	eng := newFakeEngine()
	eng.errs = []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}
	src := frames.SourceFunc(func(w, h, c int, dst []float32) error { return errors.New("no frame") })
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	o := newTestOrchestrator(t, eng, src, nil, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.OnSleep = func(n int) {
		if n == 4 {
			cancel()
		}
	}

	require.ErrorIs(t, o.Run(ctx), context.Canceled)
	snap := o.Metrics().Snapshot()
	assert.Equal(t, int64(4), snap.Cycles)
	assert.Equal(t, int64(4), snap.AcquireFailures)
	assert.Equal(t, int64(4), snap.InferFailures)
	assert.Equal(t, models.Decision{}, snap.LastDecision)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	eng := newFakeEngine()
	o := newTestOrchestrator(t, eng, fillSource(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, o.Run(ctx), context.Canceled)
	assert.Zero(t, eng.invokes)
}

func TestStep_DebugTimings(t *testing.T) {
	var logged []string
	eng := newFakeEngine([]float32{0.9, 0, 0, 0})
	o := newTestOrchestrator(t, eng, fillSource(0), nil,
		WithDebug(true),
		WithLogger(func(format string, v ...interface{}) {
			logged = append(logged, format)
		}),
	)

	o.Step(context.Background())
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "[DEBUG] Cycle")
}
