package engine

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Session runs the model over the tensors it was bound to at construction.
type Session interface {
	Run() error
	Destroy() error
}

// SessionConfig carries everything needed to bind a session to arena-backed
// tensors.
type SessionConfig struct {
	Model       *ModelBlob
	InputName   string
	OutputName  string
	InputShape  []int64
	OutputShape []int64
	Input       []float32
	Output      []float32
	Threads     int
}

// SessionFactory builds a Session. Tests substitute fakes; production uses
// NewORTSession.
type SessionFactory func(cfg SessionConfig) (Session, error)

type ortSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewORTSession binds an ONNX Runtime session to the arena slices in cfg. The
// ONNX Runtime environment must already be initialized.
func NewORTSession(cfg SessionConfig) (Session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	threads := cfg.Threads
	if threads <= 0 {
		threads = 1
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("error setting inter-op threads: %w", err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(cfg.InputShape...), cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewTensor(ort.NewShape(cfg.OutputShape...), cfg.Output)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		cfg.Model.Bytes(),
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ortSession{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
	}, nil
}

func (s *ortSession) Run() error {
	return s.session.Run()
}

func (s *ortSession) Destroy() error {
	var first error
	if s.session != nil {
		first = s.session.Destroy()
	}
	if s.input != nil {
		if err := s.input.Destroy(); err != nil && first == nil {
			first = err
		}
	}
	if s.output != nil {
		if err := s.output.Destroy(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
