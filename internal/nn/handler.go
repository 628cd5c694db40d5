package nn

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"
	"gonum.org/v1/gonum/floats"
)

// Handler is the computation strategy consumed by network mergers.
type Handler interface {
	Name() string
	Zeros(n int) []float64
	// AddScaled performs dst += alpha * src.
	AddScaled(dst []float64, alpha float64, src []float64) error
	Scale(alpha float64, dst []float64)
}

// CPUHandler computes on the host CPU through gonum. Name reports the
// widest vector ISA available so run reports can show what the build used.
type CPUHandler struct{}

func NewCPUHandler() CPUHandler {
	return CPUHandler{}
}

func (CPUHandler) Name() string {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F):
		return "cpu/avx512"
	case cpuid.CPU.Supports(cpuid.AVX2):
		return "cpu/avx2"
	case cpuid.CPU.Supports(cpuid.SSE4):
		return "cpu/sse4"
	default:
		return "cpu/generic"
	}
}

func (CPUHandler) Zeros(n int) []float64 {
	return make([]float64, n)
}

func (CPUHandler) AddScaled(dst []float64, alpha float64, src []float64) error {
	if len(dst) != len(src) {
		return fmt.Errorf("tensor size mismatch: dst=%d src=%d", len(dst), len(src))
	}
	floats.AddScaled(dst, alpha, src)
	return nil
}

func (CPUHandler) Scale(alpha float64, dst []float64) {
	floats.Scale(alpha, dst)
}
