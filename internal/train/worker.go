package train

import (
	"fmt"

	"paideia/internal/data"
	"paideia/internal/nn"
	"paideia/internal/registry"
)

// Trainer performs one unit of training work on a worker's network copy and
// returns the batch loss.
type Trainer interface {
	Train(network *nn.Network, optimizer *nn.SGD, batch []data.Sample) (float64, error)
}

// SGDTrainer runs plain mini-batch gradient descent.
type SGDTrainer struct{}

func (SGDTrainer) Train(network *nn.Network, optimizer *nn.SGD, batch []data.Sample) (float64, error) {
	if network == nil {
		return 0, ErrUnassignedNetwork
	}
	inputs, targets := data.Split(batch)
	return network.TrainBatch(inputs, targets, optimizer)
}

// worker is the per-goroutine training context. Each worker trains against
// its own network copy and iterator cursor, carries its own registry as the
// invocation context for local hooks, and synchronises with the operator at
// iteration and epoch boundaries.
type worker struct {
	id       int
	network  *nn.Network
	iterator data.Iterator

	reg      *registry.Registry
	resolver *registry.Resolver

	// localIteration resets to zero at every epoch start so the first
	// iteration of an epoch can pull the freshly merged parameters.
	localIteration int
}

func newWorker(id int, network *nn.Network, iterator data.Iterator) (*worker, error) {
	if network == nil {
		return nil, ErrUnassignedNetwork
	}
	if iterator == nil {
		return nil, fmt.Errorf("worker %d: iterator is required", id)
	}
	w := &worker{
		id:       id,
		network:  network,
		iterator: iterator,
		reg:      registry.New("worker"),
	}
	w.resolver = registry.NewResolver(w.reg)
	return w, nil
}
