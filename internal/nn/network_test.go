package nn

import (
	"math"
	"testing"
)

func TestNewNetworkValidation(t *testing.T) {
	if _, err := NewNetwork([]int{3}, 1); err == nil {
		t.Fatal("expected error for single dim")
	}
	if _, err := NewNetwork([]int{3, 0, 1}, 1); err == nil {
		t.Fatal("expected error for zero dim")
	}
}

func TestParametersRoundTrip(t *testing.T) {
	net, err := NewNetwork([]int{2, 3, 1}, 7)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	flat := net.Parameters()
	want := 2*3 + 3 + 3*1 + 1
	if len(flat) != want {
		t.Fatalf("unexpected parameter count: got=%d want=%d", len(flat), want)
	}

	other, err := NewNetwork([]int{2, 3, 1}, 99)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	if err := other.SetParameters(flat); err != nil {
		t.Fatalf("set parameters: %v", err)
	}
	got := other.Parameters()
	for i := range flat {
		if got[i] != flat[i] {
			t.Fatalf("parameter %d differs: %v vs %v", i, got[i], flat[i])
		}
	}

	if err := other.SetParameters(flat[:len(flat)-1]); err == nil {
		t.Fatal("expected error for short vector")
	}
}

func TestDeepCopyIsIndependent(t *testing.T) {
	net, err := NewNetwork([]int{2, 2}, 3)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	clone := net.DeepCopy()

	before := clone.Parameters()
	params := net.Parameters()
	for i := range params {
		params[i] = 0
	}
	if err := net.SetParameters(params); err != nil {
		t.Fatalf("zero parameters: %v", err)
	}
	after := clone.Parameters()
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("deep copy shares parameter storage")
		}
	}
}

func TestTrainBatchReducesLoss(t *testing.T) {
	net, err := NewNetwork([]int{1, 8, 1}, 11)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	opt, err := NewSGD(0.05)
	if err != nil {
		t.Fatalf("new sgd: %v", err)
	}

	inputs := make([][]float64, 0, 32)
	targets := make([][]float64, 0, 32)
	for i := 0; i < 32; i++ {
		x := float64(i)/16.0 - 1.0
		inputs = append(inputs, []float64{x})
		targets = append(targets, []float64{x * x})
	}

	initial, err := net.Loss(inputs, targets)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	for step := 0; step < 300; step++ {
		if _, err := net.TrainBatch(inputs, targets, opt); err != nil {
			t.Fatalf("train batch: %v", err)
		}
	}
	final, err := net.Loss(inputs, targets)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if !(final < initial) || math.IsNaN(final) {
		t.Fatalf("training did not reduce loss: initial=%v final=%v", initial, final)
	}
}

func TestForwardShapeChecks(t *testing.T) {
	net, err := NewNetwork([]int{2, 1}, 5)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	if _, err := net.Forward([]float64{1}); err == nil {
		t.Fatal("expected input size error")
	}
	out, err := net.Forward([]float64{1, 2})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("unexpected output size: %d", len(out))
	}
}

func TestHandlerAddScaled(t *testing.T) {
	handler := NewCPUHandler()
	dst := handler.Zeros(3)
	if err := handler.AddScaled(dst, 0.5, []float64{2, 4, 6}); err != nil {
		t.Fatalf("add scaled: %v", err)
	}
	if dst[0] != 1 || dst[1] != 2 || dst[2] != 3 {
		t.Fatalf("unexpected result: %v", dst)
	}
	if err := handler.AddScaled(dst, 1, []float64{1}); err == nil {
		t.Fatal("expected size mismatch error")
	}
	if handler.Name() == "" {
		t.Fatal("handler name is empty")
	}
}
