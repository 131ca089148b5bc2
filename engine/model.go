package engine

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX ModelProto / GraphProto / NodeProto field numbers.
const (
	modelIRVersion    protowire.Number = 1
	modelProducerName protowire.Number = 2
	modelGraph        protowire.Number = 7
	modelOpsetImport  protowire.Number = 8
	graphNode         protowire.Number = 1
	graphName         protowire.Number = 2
	graphInitializer  protowire.Number = 5
	graphInput        protowire.Number = 11
	graphOutput       protowire.Number = 12
	nodeOpType        protowire.Number = 4
	valueInfoName     protowire.Number = 1
	tensorName        protowire.Number = 8
	opsetDomain       protowire.Number = 1
	opsetVersion      protowire.Number = 2
)

const maxModelBytes = 64 << 20

// OpsetImport is one operator-set import of the model.
type OpsetImport struct {
	Domain  string
	Version int64
}

// ModelInfo is the header of an ONNX model: everything the bootstrapper needs
// to decide whether the model can run before handing it to the runtime.
type ModelInfo struct {
	IRVersion int64
	Producer  string
	Graph     string
	Opsets    []OpsetImport
	// Operators lists the distinct op types used by the graph in first-use
	// order.
	Operators []string
	Inputs    []string
	Outputs   []string
}

// HasInput reports whether the graph declares an input named name.
func (m ModelInfo) HasInput(name string) bool {
	return contains(m.Inputs, name)
}

// HasOutput reports whether the graph declares an output named name.
func (m ModelInfo) HasOutput(name string) bool {
	return contains(m.Outputs, name)
}

// ModelBlob is an immutable serialized model together with its parsed header.
type ModelBlob struct {
	data []byte
	info ModelInfo
}

// NewModelBlob parses data as an ONNX model. The blob keeps its own copy of
// data.
func NewModelBlob(data []byte) (*ModelBlob, error) {
	info, err := ParseModelInfo(data)
	if err != nil {
		return nil, err
	}
	own := make([]byte, len(data))
	copy(own, data)
	return &ModelBlob{data: own, info: info}, nil
}

// LoadModelBlob reads and parses the model at path.
func LoadModelBlob(path string) (*ModelBlob, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if fi.Size() > maxModelBytes {
		return nil, fmt.Errorf("model file too large: %d bytes (max %d)", fi.Size(), maxModelBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return NewModelBlob(data)
}

// Info returns the parsed model header.
func (b *ModelBlob) Info() ModelInfo {
	return b.info
}

// Bytes returns the serialized model. Callers must not modify it.
func (b *ModelBlob) Bytes() []byte {
	return b.data
}

// ParseModelInfo walks the top level of an ONNX ModelProto and its graph.
// Unknown fields are skipped.
func ParseModelInfo(data []byte) (ModelInfo, error) {
	var info ModelInfo
	if len(data) == 0 {
		return info, fmt.Errorf("%w: empty model", ErrMalformedModel)
	}

	sawGraph := false
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == modelIRVersion && typ == protowire.VarintType:
			info.IRVersion = int64(x)
		case num == modelProducerName && typ == protowire.BytesType:
			info.Producer = string(v)
		case num == modelOpsetImport && typ == protowire.BytesType:
			op, err := parseOpset(v)
			if err != nil {
				return err
			}
			info.Opsets = append(info.Opsets, op)
		case num == modelGraph && typ == protowire.BytesType:
			sawGraph = true
			return parseGraph(v, &info)
		}
		return nil
	})
	if err != nil {
		return ModelInfo{}, err
	}
	if !sawGraph {
		return ModelInfo{}, fmt.Errorf("%w: model has no graph", ErrMalformedModel)
	}
	return info, nil
}

func parseOpset(data []byte) (OpsetImport, error) {
	var op OpsetImport
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == opsetDomain && typ == protowire.BytesType:
			op.Domain = string(v)
		case num == opsetVersion && typ == protowire.VarintType:
			op.Version = int64(x)
		}
		return nil
	})
	return op, err
}

func parseGraph(data []byte, info *ModelInfo) error {
	var inputs, initializers []string
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case graphName:
			info.Graph = string(v)
		case graphNode:
			op, err := stringField(v, nodeOpType)
			if err != nil {
				return err
			}
			if op != "" && !contains(info.Operators, op) {
				info.Operators = append(info.Operators, op)
			}
		case graphInitializer:
			name, err := stringField(v, tensorName)
			if err != nil {
				return err
			}
			initializers = append(initializers, name)
		case graphInput:
			name, err := stringField(v, valueInfoName)
			if err != nil {
				return err
			}
			inputs = append(inputs, name)
		case graphOutput:
			name, err := stringField(v, valueInfoName)
			if err != nil {
				return err
			}
			info.Outputs = append(info.Outputs, name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Older exporters list weights as graph inputs too.
	for _, in := range inputs {
		if !contains(initializers, in) {
			info.Inputs = append(info.Inputs, in)
		}
	}
	return nil
}

func stringField(data []byte, want protowire.Number) (string, error) {
	var out string
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num == want && typ == protowire.BytesType {
			out = string(v)
		}
		return nil
	})
	return out, err
}

// walkFields calls fn for every field in a serialized message. Length-delimited
// values arrive in v, varints in x.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedModel, protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			x, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedModel, num, protowire.ParseError(m))
			}
			if err := fn(num, typ, nil, x); err != nil {
				return err
			}
			data = data[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedModel, num, protowire.ParseError(m))
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedModel, num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
