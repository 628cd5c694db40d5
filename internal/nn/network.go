// Package nn provides the dense feedforward network used as the reference
// trainable model. Parameters live in a registry subtree so that merge
// patterns and checkpoint snapshots resolve against them by identifier.
package nn

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"paideia/internal/registry"
)

const (
	KeyLayers  = "layers"
	KeyWeights = "weights"
	KeyBias    = "bias"
)

// Network is a fully connected tanh network with a linear output layer.
// Weight matrices are stored row-major as flat float64 slices under
// layers.<i>.weights and layers.<i>.bias of the parameter registry.
type Network struct {
	dims []int
	reg  *registry.Registry
}

// NewNetwork builds a network with the given layer dimensions, at least an
// input and an output size, with weights drawn from the seeded source.
func NewNetwork(dims []int, seed int64) (*Network, error) {
	if len(dims) < 2 {
		return nil, fmt.Errorf("network needs at least input and output dims, got %v", dims)
	}
	for i, dim := range dims {
		if dim <= 0 {
			return nil, fmt.Errorf("layer dim must be > 0 at index %d", i)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	reg := registry.New("network")
	layers := registry.New("layers")
	for i := 0; i < len(dims)-1; i++ {
		in, out := dims[i], dims[i+1]
		weights := make([]float64, in*out)
		scale := 1.0 / math.Sqrt(float64(in))
		for j := range weights {
			weights[j] = rng.NormFloat64() * scale
		}
		layer := registry.New("layer")
		if err := layer.Set(KeyWeights, weights); err != nil {
			return nil, err
		}
		if err := layer.Set(KeyBias, make([]float64, out)); err != nil {
			return nil, err
		}
		if err := layers.Set(strconv.Itoa(i), layer); err != nil {
			return nil, err
		}
	}
	if err := reg.Set(KeyLayers, layers); err != nil {
		return nil, err
	}
	return &Network{dims: append([]int(nil), dims...), reg: reg}, nil
}

// Registry exposes the parameter tree. Mutating tensors through it mutates
// the network.
func (n *Network) Registry() *registry.Registry {
	return n.reg
}

func (n *Network) Dims() []int {
	return append([]int(nil), n.dims...)
}

// LayerCount returns the number of weight layers.
func (n *Network) LayerCount() int {
	return len(n.dims) - 1
}

func (n *Network) layer(i int) (weights, bias []float64, err error) {
	layers, ok := n.reg.Child(KeyLayers)
	if !ok {
		return nil, nil, fmt.Errorf("network has no layer tree")
	}
	layer, ok := layers.Child(strconv.Itoa(i))
	if !ok {
		return nil, nil, fmt.Errorf("network has no layer %d", i)
	}
	w, ok := layer.Get(KeyWeights)
	if !ok {
		return nil, nil, fmt.Errorf("layer %d has no weights", i)
	}
	b, ok := layer.Get(KeyBias)
	if !ok {
		return nil, nil, fmt.Errorf("layer %d has no bias", i)
	}
	return w.([]float64), b.([]float64), nil
}

// DeepCopy clones the network with fully independent parameter tensors.
func (n *Network) DeepCopy() *Network {
	clone, err := NewNetwork(n.dims, 0)
	if err != nil {
		panic(fmt.Sprintf("deep copy of valid network failed: %v", err))
	}
	for i := 0; i < n.LayerCount(); i++ {
		srcW, srcB, err := n.layer(i)
		if err != nil {
			panic(err)
		}
		dstW, dstB, err := clone.layer(i)
		if err != nil {
			panic(err)
		}
		copy(dstW, srcW)
		copy(dstB, srcB)
	}
	return clone
}

// Forward runs one input vector through the network. Hidden layers use
// tanh, the final layer is linear.
func (n *Network) Forward(input []float64) ([]float64, error) {
	if len(input) != n.dims[0] {
		return nil, fmt.Errorf("input size mismatch: got=%d want=%d", len(input), n.dims[0])
	}

	activation := append([]float64(nil), input...)
	for i := 0; i < n.LayerCount(); i++ {
		weights, bias, err := n.layer(i)
		if err != nil {
			return nil, err
		}
		in, out := n.dims[i], n.dims[i+1]
		w := mat.NewDense(out, in, weights)
		x := mat.NewVecDense(in, activation)
		var y mat.VecDense
		y.MulVec(w, x)

		next := make([]float64, out)
		last := i == n.LayerCount()-1
		for j := 0; j < out; j++ {
			v := y.AtVec(j) + bias[j]
			if !last {
				v = math.Tanh(v)
			}
			next[j] = v
		}
		activation = next
	}
	return activation, nil
}

// Parameters returns every parameter tensor flattened into one vector, in
// layer order, weights before bias.
func (n *Network) Parameters() []float64 {
	var out []float64
	for i := 0; i < n.LayerCount(); i++ {
		weights, bias, err := n.layer(i)
		if err != nil {
			panic(err)
		}
		out = append(out, weights...)
		out = append(out, bias...)
	}
	return out
}

// SetParameters restores a flat vector produced by Parameters.
func (n *Network) SetParameters(flat []float64) error {
	offset := 0
	for i := 0; i < n.LayerCount(); i++ {
		weights, bias, err := n.layer(i)
		if err != nil {
			return err
		}
		need := len(weights) + len(bias)
		if offset+need > len(flat) {
			return fmt.Errorf("parameter vector too short: have=%d need>=%d", len(flat), offset+need)
		}
		copy(weights, flat[offset:offset+len(weights)])
		offset += len(weights)
		copy(bias, flat[offset:offset+len(bias)])
		offset += len(bias)
	}
	if offset != len(flat) {
		return fmt.Errorf("parameter vector too long: have=%d want=%d", len(flat), offset)
	}
	return nil
}
