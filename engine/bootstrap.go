package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/Tutortoise/produce-detector/models"
)

// Options configures Initialize. Zero values pick the defaults of the
// produce classifier.
type Options struct {
	Shape      models.FrameShape
	Categories int
	InputName  string
	OutputName string
	Threads    int
	Tier       Tier
	NewSession SessionFactory
}

func (o Options) withDefaults() Options {
	if o.Shape.Width == 0 && o.Shape.Height == 0 && o.Shape.Channels == 0 {
		o.Shape = models.FrameShape{Width: DefaultWidth, Height: DefaultHeight, Channels: DefaultChannels}
	}
	if o.InputName == "" {
		o.InputName = DefaultInputName
	}
	if o.OutputName == "" {
		o.OutputName = DefaultOutputName
	}
	if o.Threads <= 0 {
		o.Threads = 1
	}
	if o.Tier == nil {
		o.Tier = MmapTier{Lock: true}
	}
	if o.NewSession == nil {
		o.NewSession = NewORTSession
	}
	return o
}

// Handle is the long-lived engine: model, arena, resolver, session and the
// tensor views carved from the arena. It is created once by Initialize and is
// not reentrant.
type Handle struct {
	model    *ModelBlob
	arena    *Arena
	resolver *Resolver
	tier     Tier
	region   []byte
	session  Session
	shape    models.FrameShape

	input  []float32
	output []float32
	scores []float32

	busy   atomic.Bool
	closed atomic.Bool
}

// Initialize validates the model against the runtime, reserves the arena from
// the configured tier, registers exactly ops, carves the tensors and binds the
// session. Every failure is a *BootError; the caller must not enter the
// inference loop after one.
func Initialize(blob *ModelBlob, arenaCapacity int, ops OperatorSet, opts Options) (*Handle, error) {
	opts = opts.withDefaults()

	if blob == nil {
		return nil, bootErr("model", fmt.Errorf("%w: no model", ErrMalformedModel))
	}
	info := blob.Info()
	if info.IRVersion != SchemaVersion {
		Logf("Model provided is schema version %d not equal to supported version %d.", info.IRVersion, SchemaVersion)
		return nil, bootErr("schema", fmt.Errorf("%w: model %d, runtime %d", ErrSchemaMismatch, info.IRVersion, SchemaVersion))
	}
	if err := opts.Shape.Validate(); err != nil {
		return nil, bootErr("options", err)
	}
	if opts.Categories <= 0 {
		return nil, bootErr("options", fmt.Errorf("invalid category count %d", opts.Categories))
	}

	tierInfo, err := opts.Tier.Probe()
	if err != nil {
		return nil, bootErr("tier", fmt.Errorf("%w: %v", ErrTierUnavailable, err))
	}
	if tierInfo.Total == 0 {
		Logf("%s tier not found", opts.Tier.Name())
		return nil, bootErr("tier", fmt.Errorf("%w: %s reports no capacity", ErrTierUnavailable, opts.Tier.Name()))
	}
	Logf("Total %s size: %d", opts.Tier.Name(), tierInfo.Total)
	Logf("Free %s size: %d", opts.Tier.Name(), tierInfo.Free)

	if arenaCapacity <= 0 {
		return nil, bootErr("arena", fmt.Errorf("%w: invalid capacity %d", ErrArenaReserve, arenaCapacity))
	}
	region, err := opts.Tier.Reserve(arenaCapacity)
	if err != nil || len(region) != arenaCapacity {
		Logf("Couldn't allocate memory of %d bytes", arenaCapacity)
		if err == nil {
			err = fmt.Errorf("got %d bytes", len(region))
			_ = opts.Tier.Release(region)
		}
		return nil, bootErr("arena", fmt.Errorf("%w: %d bytes from %s: %v", ErrArenaReserve, arenaCapacity, opts.Tier.Name(), err))
	}
	if after, err := opts.Tier.Probe(); err == nil {
		Logf("Free %s size after allocation: %d", opts.Tier.Name(), after.Free)
	}

	h, err := build(blob, region, ops, opts)
	if err != nil {
		_ = opts.Tier.Release(region)
		return nil, err
	}
	return h, nil
}

func build(blob *ModelBlob, region []byte, ops OperatorSet, opts Options) (*Handle, error) {
	info := blob.Info()
	arena := NewArena(region)

	resolver := NewResolver(len(ops))
	if err := resolver.AddSet(ops); err != nil {
		return nil, bootErr("operators", err)
	}
	unused, err := resolver.Check(info)
	if err != nil {
		return nil, bootErr("operators", err)
	}
	for _, op := range unused {
		Logf("engine: operator %s registered but not used by model", op)
	}

	if len(info.Inputs) > 0 && !info.HasInput(opts.InputName) {
		return nil, bootErr("tensors", fmt.Errorf("%w: input %q, model declares %v", ErrUnknownTensor, opts.InputName, info.Inputs))
	}
	if len(info.Outputs) > 0 && !info.HasOutput(opts.OutputName) {
		return nil, bootErr("tensors", fmt.Errorf("%w: output %q, model declares %v", ErrUnknownTensor, opts.OutputName, info.Outputs))
	}

	input, err := arena.AllocFloat32("input", opts.Shape.Elements())
	if err != nil {
		return nil, bootErr("tensors", err)
	}
	output, err := arena.AllocFloat32("output", opts.Categories)
	if err != nil {
		return nil, bootErr("tensors", err)
	}
	scores, err := arena.AllocFloat32("scores", opts.Categories)
	if err != nil {
		return nil, bootErr("tensors", err)
	}

	inputShape := opts.Shape.Dims()
	outputShape := []int64{1, int64(opts.Categories)}
	session, err := opts.NewSession(SessionConfig{
		Model:       blob,
		InputName:   opts.InputName,
		OutputName:  opts.OutputName,
		InputShape:  inputShape,
		OutputShape: outputShape,
		Input:       input,
		Output:      output,
		Threads:     opts.Threads,
	})
	if err != nil {
		return nil, bootErr("session", err)
	}

	Logf("engine: arena %d/%d bytes used, %d remaining", arena.Used(), arena.Capacity(), arena.Remaining())
	Logf("Input type: float32 %v", inputShape)
	Logf("Output type: float32 %v", outputShape)

	return &Handle{
		model:    blob,
		arena:    arena,
		resolver: resolver,
		tier:     opts.Tier,
		region:   region,
		session:  session,
		shape:    opts.Shape,
		input:    input,
		output:   output,
		scores:   scores,
	}, nil
}

// Input returns the input tensor memory. Frame sources write into it before
// every Invoke.
func (h *Handle) Input() []float32 { return h.input }

// Output returns the output tensor memory written by Invoke.
func (h *Handle) Output() []float32 { return h.output }

// Scores returns the arena-resident score vector the orchestrator copies the
// output into after each successful Invoke.
func (h *Handle) Scores() []float32 { return h.scores }

// Shape returns the fixed input frame geometry.
func (h *Handle) Shape() models.FrameShape { return h.shape }

// Arena exposes the arena for diagnostics.
func (h *Handle) Arena() *Arena { return h.arena }

// Model returns the loaded model.
func (h *Handle) Model() *ModelBlob { return h.model }

// Operators returns the registered operators.
func (h *Handle) Operators() []Operator { return h.resolver.Registered() }

// Invoke runs the model once over the current input. A second Invoke while one
// is in flight fails with ErrBusy.
func (h *Handle) Invoke() error {
	if h.closed.Load() {
		return ErrClosed
	}
	if !h.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer h.busy.Store(false)

	if err := h.session.Run(); err != nil {
		return fmt.Errorf("invoke failed: %w", err)
	}
	return nil
}

// Close destroys the session and releases the arena. Tensor slices obtained
// from the handle must not be used afterwards.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := h.session.Destroy()
	if rerr := h.tier.Release(h.region); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
