package nn

import (
	"fmt"
	"sync"
)

// SGD is the default optimizer. The learning rate is guarded so that
// schedule hooks can adjust it while workers train.
type SGD struct {
	mu sync.RWMutex
	lr float64
}

func NewSGD(learningRate float64) (*SGD, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0")
	}
	return &SGD{lr: learningRate}, nil
}

func (o *SGD) LearningRate() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lr
}

func (o *SGD) SetLearningRate(lr float64) error {
	if lr <= 0 {
		return fmt.Errorf("learning rate must be > 0")
	}
	o.mu.Lock()
	o.lr = lr
	o.mu.Unlock()
	return nil
}

// DeepCopy returns an independent optimizer with the same settings.
func (o *SGD) DeepCopy() *SGD {
	return &SGD{lr: o.LearningRate()}
}
