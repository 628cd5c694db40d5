package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// TrainBatch performs one mini-batch gradient step against mean squared
// error and returns the pre-step batch loss.
func (n *Network) TrainBatch(inputs, targets [][]float64, opt *SGD) (float64, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	if len(inputs) != len(targets) {
		return 0, fmt.Errorf("batch mismatch: inputs=%d targets=%d", len(inputs), len(targets))
	}
	if opt == nil {
		return 0, fmt.Errorf("optimizer is required")
	}

	layerCount := n.LayerCount()
	gradW := make([][]float64, layerCount)
	gradB := make([][]float64, layerCount)
	for i := 0; i < layerCount; i++ {
		gradW[i] = make([]float64, n.dims[i]*n.dims[i+1])
		gradB[i] = make([]float64, n.dims[i+1])
	}

	loss := 0.0
	for s := range inputs {
		sampleLoss, err := n.accumulateGradients(inputs[s], targets[s], gradW, gradB)
		if err != nil {
			return 0, err
		}
		loss += sampleLoss
	}

	lr := opt.LearningRate()
	scale := -lr / float64(len(inputs))
	for i := 0; i < layerCount; i++ {
		weights, bias, err := n.layer(i)
		if err != nil {
			return 0, err
		}
		floats.AddScaled(weights, scale, gradW[i])
		floats.AddScaled(bias, scale, gradB[i])
	}
	return loss / float64(len(inputs)), nil
}

// accumulateGradients backpropagates one sample, adding its gradients into
// the accumulators and returning the sample's squared-error loss.
func (n *Network) accumulateGradients(input, target []float64, gradW, gradB [][]float64) (float64, error) {
	layerCount := n.LayerCount()

	// Forward pass keeping every activation.
	activations := make([][]float64, layerCount+1)
	activations[0] = input
	for i := 0; i < layerCount; i++ {
		weights, bias, err := n.layer(i)
		if err != nil {
			return 0, err
		}
		in, out := n.dims[i], n.dims[i+1]
		next := make([]float64, out)
		last := i == layerCount-1
		for j := 0; j < out; j++ {
			v := bias[j]
			row := weights[j*in : (j+1)*in]
			v += floats.Dot(row, activations[i])
			if !last {
				v = math.Tanh(v)
			}
			next[j] = v
		}
		activations[i+1] = next
	}

	output := activations[layerCount]
	if len(output) != len(target) {
		return 0, fmt.Errorf("target size mismatch: got=%d want=%d", len(target), len(output))
	}

	loss := 0.0
	delta := make([]float64, len(output))
	for j := range output {
		diff := output[j] - target[j]
		loss += diff * diff
		delta[j] = 2 * diff
	}

	for i := layerCount - 1; i >= 0; i-- {
		weights, _, err := n.layer(i)
		if err != nil {
			return 0, err
		}
		in := n.dims[i]
		prev := activations[i]
		for j, d := range delta {
			gradB[i][j] += d
			row := gradW[i][j*in : (j+1)*in]
			floats.AddScaled(row, d, prev)
		}
		if i == 0 {
			break
		}
		next := make([]float64, in)
		for k := 0; k < in; k++ {
			sum := 0.0
			for j, d := range delta {
				sum += d * weights[j*in+k]
			}
			// derivative of tanh through the stored activation
			a := prev[k]
			next[k] = sum * (1 - a*a)
		}
		delta = next
	}
	return loss, nil
}

// Loss computes the mean squared error over a sample set without updating
// parameters.
func (n *Network) Loss(inputs, targets [][]float64) (float64, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("empty sample set")
	}
	if len(inputs) != len(targets) {
		return 0, fmt.Errorf("sample mismatch: inputs=%d targets=%d", len(inputs), len(targets))
	}
	total := 0.0
	for s := range inputs {
		output, err := n.Forward(inputs[s])
		if err != nil {
			return 0, err
		}
		diff := make([]float64, len(output))
		floats.SubTo(diff, output, targets[s])
		total += floats.Dot(diff, diff)
	}
	return total / float64(len(inputs)), nil
}
