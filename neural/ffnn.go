// Package neural provides the feed-forward motor controller that maps a
// creature's observation vector to motor target velocities and feedback values.
package neural

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrOutputMismatch is returned when the network's output length does not
// match the number of motors plus feedback channels of the structure.
var ErrOutputMismatch = errors.New("controller output length does not match structure")

// Kind identifies the controller variant carried by a work unit.
type Kind string

// KindLinear is the stacked dense-layer controller. It is the only variant.
const KindLinear Kind = "linear"

// Activation is the elementwise function applied after a layer.
type Activation string

const (
	ActivationIdentity Activation = "linear"
	ActivationTanh     Activation = "tanh"
)

// Layer is one dense layer. Weights are row-major: weight for output i and
// input j is at i*inputSize+j. Biases use the same indexing and therefore have
// the same length as Weights.
type Layer struct {
	Weights    []float32  `json:"weights"`
	Biases     []float32  `json:"biases"`
	Activation Activation `json:"activation"`
}

// Controller is an immutable stack of dense layers.
type Controller struct {
	Kind       Kind
	layers     []Layer
	numInputs  int
	numOutputs int

	// Scratch buffers reused between Forward calls.
	bufA, bufB []float32
}

type controllerJSON struct {
	Type   Kind    `json:"type,omitempty"`
	Layers []Layer `json:"layers"`
}

// Parse decodes a controller document and checks that its layer shapes chain
// from numInputs to exactly numOutputs.
func Parse(data []byte, numInputs, numOutputs int) (*Controller, error) {
	var doc controllerJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding controller: %w", err)
	}
	kind := doc.Type
	if kind == "" {
		kind = KindLinear
	}
	if kind != KindLinear {
		return nil, fmt.Errorf("decoding controller: unknown controller type %q", kind)
	}
	return New(numInputs, numOutputs, doc.Layers)
}

// New builds a controller from layers, validating every shape.
func New(numInputs, numOutputs int, layers []Layer) (*Controller, error) {
	if len(layers) == 0 {
		return nil, errors.New("controller has no layers")
	}

	size := numInputs
	maxSize := numInputs
	for i, l := range layers {
		switch l.Activation {
		case ActivationIdentity, ActivationTanh, "identity", "":
		default:
			return nil, fmt.Errorf("layer %d: unknown activation %q", i, l.Activation)
		}
		if size == 0 {
			return nil, fmt.Errorf("layer %d: zero input size", i)
		}
		if len(l.Weights)%size != 0 {
			return nil, fmt.Errorf("layer %d: %d weights is not a multiple of input size %d", i, len(l.Weights), size)
		}
		if len(l.Biases) != len(l.Weights) {
			return nil, fmt.Errorf("layer %d: %d biases, want %d (one per weight)", i, len(l.Biases), len(l.Weights))
		}
		size = len(l.Weights) / size
		maxSize = max(maxSize, size)
	}
	if size != numOutputs {
		return nil, fmt.Errorf("%w: network produces %d, structure needs %d", ErrOutputMismatch, size, numOutputs)
	}

	return &Controller{
		Kind:       KindLinear,
		layers:     layers,
		numInputs:  numInputs,
		numOutputs: numOutputs,
		bufA:       make([]float32, maxSize),
		bufB:       make([]float32, maxSize),
	}, nil
}

// NumInputs returns the expected observation length.
func (c *Controller) NumInputs() int { return c.numInputs }

// NumOutputs returns the produced output length.
func (c *Controller) NumOutputs() int { return c.numOutputs }

// Forward runs the network. The returned slice aliases an internal buffer and
// is valid until the next call. A Controller is not safe for concurrent use.
func (c *Controller) Forward(input []float32) ([]float32, error) {
	if len(input) != c.numInputs {
		return nil, fmt.Errorf("controller input length %d, want %d", len(input), c.numInputs)
	}

	cur := input
	for li, l := range c.layers {
		out := c.bufA
		if li%2 == 1 {
			out = c.bufB
		}
		out = out[:len(l.Weights)/len(cur)]
		multiply(out, cur, l.Weights, l.Biases)
		if l.Activation == ActivationTanh {
			for i := range out {
				out[i] = float32(math.Tanh(float64(out[i])))
			}
		}
		cur = out
	}
	if len(cur) != c.numOutputs {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrOutputMismatch, len(cur), c.numOutputs)
	}
	return cur, nil
}

// multiply computes out[i] = Σ_j (in[j]*w[i*len(in)+j] + b[i*len(in)+j]).
// The explicit conversions keep each product rounded to float32 so results do
// not depend on whether the platform fuses multiply-add.
func multiply(out, in, w, b []float32) {
	inputSize := len(in)
	for i := range out {
		var sum float32
		row := i * inputSize
		for j := 0; j < inputSize; j++ {
			sum += float32(in[j]*w[row+j]) + b[row+j]
		}
		out[i] = sum
	}
}

// MarshalJSON encodes the controller in its wire format.
func (c *Controller) MarshalJSON() ([]byte, error) {
	return json.Marshal(controllerJSON{Type: c.Kind, Layers: c.layers})
}
