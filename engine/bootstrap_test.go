package engine

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/produce-detector/models"
)

type fakeSession struct {
	mu        sync.Mutex
	cfg       SessionConfig
	runs      int
	destroyed bool
	runErr    error
	// block, when set, holds Run until it is closed.
	block   chan struct{}
	started chan struct{}
	scores  []float32
}

func (s *fakeSession) Run() error {
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	if s.runErr != nil {
		return s.runErr
	}
	copy(s.cfg.Output, s.scores)
	return nil
}

func (s *fakeSession) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	return nil
}

// countingTier wraps HeapTier and records releases.
type countingTier struct {
	HeapTier
	total    uint64
	reserved int
	released int
}

func (t *countingTier) Name() string { return "test" }

func (t *countingTier) Probe() (TierInfo, error) {
	return TierInfo{Total: t.total, Free: t.total}, nil
}

func (t *countingTier) Reserve(size int) ([]byte, error) {
	t.reserved++
	return t.HeapTier.Reserve(size)
}

func (t *countingTier) Release([]byte) error {
	t.released++
	return nil
}

func testOptions(sess *fakeSession, tier Tier) Options {
	return Options{
		Shape:      models.FrameShape{Width: 8, Height: 8, Channels: 3},
		Categories: 4,
		Tier:       tier,
		NewSession: func(cfg SessionConfig) (Session, error) {
			sess.cfg = cfg
			return sess, nil
		},
	}
}

func testBlob(t *testing.T, g testGraph) *ModelBlob {
	t.Helper()
	blob, err := NewModelBlob(g.encode())
	require.NoError(t, err)
	return blob
}

func TestMain(m *testing.M) {
	SetLogger(nil)
	m.Run()
}

func TestInitialize(t *testing.T) {
	sess := &fakeSession{scores: []float32{0.1, 0.7, 0.1, 0.1}}
	tier := &countingTier{total: 1 << 30}

	h, err := Initialize(testBlob(t, defaultTestGraph()), 4096, DefaultOperatorSet(), testOptions(sess, tier))
	require.NoError(t, err)

	assert.Len(t, h.Input(), 8*8*3)
	assert.Len(t, h.Output(), 4)
	assert.Len(t, h.Scores(), 4)
	assert.Equal(t, 4096, h.Arena().Capacity())
	assert.Len(t, h.Operators(), 7)
	assert.Equal(t, 1, tier.reserved)

	assert.Equal(t, []int64{1, 8, 8, 3}, sess.cfg.InputShape)
	assert.Equal(t, []int64{1, 4}, sess.cfg.OutputShape)
	assert.Equal(t, DefaultInputName, sess.cfg.InputName)
	assert.Equal(t, 1, sess.cfg.Threads)

	require.NoError(t, h.Invoke())
	assert.Equal(t, []float32{0.1, 0.7, 0.1, 0.1}, h.Output())

	require.NoError(t, h.Close())
	assert.True(t, sess.destroyed)
	assert.Equal(t, 1, tier.released)
	assert.ErrorIs(t, h.Invoke(), ErrClosed)
	assert.NoError(t, h.Close(), "second close is a no-op")
}

func TestInitialize_Failures(t *testing.T) {
	mismatched := defaultTestGraph()
	mismatched.irVersion = 7

	unsupported := defaultTestGraph()
	unsupported.ops = append(unsupported.ops, "Transpose")

	renamed := defaultTestGraph()
	renamed.inputs = []string{"images"}

	tests := []struct {
		name     string
		graph    testGraph
		capacity int
		ops      OperatorSet
		tier     *countingTier
		stage    string
		want     error
	}{
		{"schema mismatch", mismatched, 4096, DefaultOperatorSet(), &countingTier{total: 1 << 30}, "schema", ErrSchemaMismatch},
		{"tier unavailable", defaultTestGraph(), 4096, DefaultOperatorSet(), &countingTier{}, "tier", ErrTierUnavailable},
		{"zero arena", defaultTestGraph(), 0, DefaultOperatorSet(), &countingTier{total: 1 << 30}, "arena", ErrArenaReserve},
		{"arena too small", defaultTestGraph(), 128, DefaultOperatorSet(), &countingTier{total: 1 << 30}, "tensors", ErrArenaExhausted},
		{"unsupported operator", unsupported, 4096, DefaultOperatorSet(), &countingTier{total: 1 << 30}, "operators", ErrUnsupportedOperator},
		{"missing softmax", defaultTestGraph(), 4096, DefaultOperatorSet()[:5], &countingTier{total: 1 << 30}, "operators", ErrUnsupportedOperator},
		{"unknown input", renamed, 4096, DefaultOperatorSet(), &countingTier{total: 1 << 30}, "tensors", ErrUnknownTensor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{}
			h, err := Initialize(testBlob(t, tt.graph), tt.capacity, tt.ops, testOptions(sess, tt.tier))
			require.Error(t, err)
			assert.Nil(t, h)
			assert.ErrorIs(t, err, tt.want)

			var be *BootError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, tt.stage, be.Stage)
			assert.Equal(t, tt.tier.reserved, tt.tier.released, "reserved arena must be released on failure")
		})
	}
}

func TestInitialize_SessionError(t *testing.T) {
	tier := &countingTier{total: 1 << 30}
	opts := testOptions(&fakeSession{}, tier)
	opts.NewSession = func(SessionConfig) (Session, error) {
		return nil, errors.New("onnxruntime not loaded")
	}

	_, err := Initialize(testBlob(t, defaultTestGraph()), 4096, DefaultOperatorSet(), opts)
	var be *BootError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "session", be.Stage)
	assert.Equal(t, 1, tier.released)
}

func TestInitialize_NilBlob(t *testing.T) {
	_, err := Initialize(nil, 4096, DefaultOperatorSet(), testOptions(&fakeSession{}, &countingTier{total: 1}))
	assert.ErrorIs(t, err, ErrMalformedModel)
}

func TestHandle_InvokeBusy(t *testing.T) {
	sess := &fakeSession{
		scores:  []float32{1, 0, 0, 0},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	h, err := Initialize(testBlob(t, defaultTestGraph()), 4096, DefaultOperatorSet(), testOptions(sess, &countingTier{total: 1 << 30}))
	require.NoError(t, err)
	defer h.Close()

	done := make(chan error, 1)
	go func() { done <- h.Invoke() }()
	<-sess.started

	assert.ErrorIs(t, h.Invoke(), ErrBusy)

	close(sess.block)
	require.NoError(t, <-done)
}

func TestHandle_InvokeError(t *testing.T) {
	sess := &fakeSession{runErr: errors.New("kernel failed")}
	h, err := Initialize(testBlob(t, defaultTestGraph()), 4096, DefaultOperatorSet(), testOptions(sess, &countingTier{total: 1 << 30}))
	require.NoError(t, err)
	defer h.Close()

	err = h.Invoke()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kernel failed")
}

func TestTierByName(t *testing.T) {
	tier, err := TierByName("heap")
	require.NoError(t, err)
	assert.Equal(t, "heap", tier.Name())

	tier, err = TierByName("")
	require.NoError(t, err)
	assert.Equal(t, "mmap", tier.Name())

	_, err = TierByName("sram")
	assert.Error(t, err)
}

func TestHeapTier(t *testing.T) {
	info, err := HeapTier{}.Probe()
	require.NoError(t, err)
	assert.NotZero(t, info.Total)

	buf, err := HeapTier{}.Reserve(64)
	require.NoError(t, err)
	assert.Len(t, buf, 64)
}
