package engine

import (
	"fmt"
	"strings"
)

// Operator is one kernel family the runtime can be asked to support.
type Operator int

const (
	OpQuantize Operator = iota
	OpConv2D
	OpMaxPool2D
	OpReshape
	OpFullyConnected
	OpSoftmax
	OpDequantize
)

var operatorNames = [...]string{
	OpQuantize:       "Quantize",
	OpConv2D:         "Conv2D",
	OpMaxPool2D:      "MaxPool2D",
	OpReshape:        "Reshape",
	OpFullyConnected: "FullyConnected",
	OpSoftmax:        "Softmax",
	OpDequantize:     "Dequantize",
}

// onnxOpTypes maps each operator to the ONNX op_type values that implement it
// in exported graphs.
var onnxOpTypes = [...][]string{
	OpQuantize:       {"QuantizeLinear", "DynamicQuantizeLinear"},
	OpConv2D:         {"Conv", "QLinearConv", "ConvInteger"},
	OpMaxPool2D:      {"MaxPool"},
	OpReshape:        {"Reshape", "Flatten"},
	OpFullyConnected: {"Gemm", "MatMul", "QLinearMatMul", "MatMulInteger", "Add"},
	OpSoftmax:        {"Softmax"},
	OpDequantize:     {"DequantizeLinear"},
}

func (o Operator) String() string {
	if o < 0 || int(o) >= len(operatorNames) {
		return fmt.Sprintf("Operator(%d)", int(o))
	}
	return operatorNames[o]
}

// ONNXOpTypes returns the op types the operator covers.
func (o Operator) ONNXOpTypes() []string {
	if o < 0 || int(o) >= len(onnxOpTypes) {
		return nil
	}
	return onnxOpTypes[o]
}

// ParseOperator parses an operator name case-insensitively.
func ParseOperator(s string) (Operator, error) {
	for i, name := range operatorNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Operator(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

// OperatorSet is the ordered list of operators a model declares it needs.
type OperatorSet []Operator

// DefaultOperatorSet is the set the produce classifier was exported with.
func DefaultOperatorSet() OperatorSet {
	return OperatorSet{
		OpQuantize,
		OpConv2D,
		OpMaxPool2D,
		OpReshape,
		OpFullyConnected,
		OpSoftmax,
		OpDequantize,
	}
}

// ParseOperatorSet parses a comma-separated list of operator names.
func ParseOperatorSet(s string) (OperatorSet, error) {
	var set OperatorSet
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		op, err := ParseOperator(part)
		if err != nil {
			return nil, err
		}
		set = append(set, op)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("operator set is empty")
	}
	return set, nil
}

// Resolver holds the operators registered for one engine. Its capacity is
// fixed at construction; only what the model declares gets registered.
type Resolver struct {
	capacity   int
	registered []Operator
	byOpType   map[string]Operator
}

// NewResolver returns an empty resolver that accepts at most capacity
// operators.
func NewResolver(capacity int) *Resolver {
	return &Resolver{
		capacity: capacity,
		byOpType: make(map[string]Operator),
	}
}

// Add registers op. Registering beyond capacity or registering the same
// operator twice fails.
func (r *Resolver) Add(op Operator) error {
	if op < 0 || int(op) >= len(operatorNames) {
		return fmt.Errorf("unknown operator %d", int(op))
	}
	for _, have := range r.registered {
		if have == op {
			return fmt.Errorf("operator %s already registered", op)
		}
	}
	if len(r.registered) >= r.capacity {
		return fmt.Errorf("%w: cannot add %s, capacity %d", ErrResolverFull, op, r.capacity)
	}
	r.registered = append(r.registered, op)
	for _, t := range op.ONNXOpTypes() {
		r.byOpType[t] = op
	}
	return nil
}

// AddSet registers every operator in set.
func (r *Resolver) AddSet(set OperatorSet) error {
	for _, op := range set {
		if err := r.Add(op); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the registered operator that implements opType.
func (r *Resolver) Resolve(opType string) (Operator, bool) {
	op, ok := r.byOpType[opType]
	return op, ok
}

// Registered returns the registered operators in registration order.
func (r *Resolver) Registered() []Operator {
	out := make([]Operator, len(r.registered))
	copy(out, r.registered)
	return out
}

// Check resolves every op type the model uses. It returns the registered
// operators the model never uses so callers can report dead registrations.
func (r *Resolver) Check(info ModelInfo) (unused []Operator, err error) {
	used := make(map[Operator]bool)
	var missing []string
	for _, t := range info.Operators {
		op, ok := r.Resolve(t)
		if !ok {
			missing = append(missing, t)
			continue
		}
		used[op] = true
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, strings.Join(missing, ", "))
	}
	for _, op := range r.registered {
		if !used[op] {
			unused = append(unused, op)
		}
	}
	return unused, nil
}
