package train

import (
	"fmt"
	"strings"
	"sync"

	"github.com/unixpickle/essentials"
	"go.uber.org/zap"

	"paideia/internal/hook"
	"paideia/internal/nn"
	"paideia/internal/registry"
)

type job struct {
	hook     hook.Hook
	reg      *registry.Registry
	resolver *registry.Resolver
}

// dispatcher runs background hooks on per-target serial queues. Jobs with
// the same target run one after another in enqueue order; distinct targets
// run concurrently. Failures are logged and contained.
type dispatcher struct {
	logger   *zap.Logger
	operator any

	mu     sync.Mutex
	queues map[int]*targetQueue
	closed bool
	wg     sync.WaitGroup
}

type targetQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	jobs []job
	done bool
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	return &dispatcher{
		logger: logger,
		queues: make(map[int]*targetQueue),
	}
}

func (d *dispatcher) enqueue(target int, j job) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	queue, ok := d.queues[target]
	if !ok {
		queue = &targetQueue{}
		queue.cond = sync.NewCond(&queue.mu)
		d.queues[target] = queue
		go d.run(queue)
	}
	d.wg.Add(1)
	d.mu.Unlock()

	queue.mu.Lock()
	queue.jobs = append(queue.jobs, j)
	queue.cond.Signal()
	queue.mu.Unlock()
}

func (d *dispatcher) run(queue *targetQueue) {
	for {
		queue.mu.Lock()
		for len(queue.jobs) == 0 && !queue.done {
			queue.cond.Wait()
		}
		if len(queue.jobs) == 0 {
			queue.mu.Unlock()
			return
		}
		j := queue.jobs[0]
		essentials.OrderedDelete(&queue.jobs, 0)
		queue.mu.Unlock()

		d.invoke(j)
		d.wg.Done()
	}
}

func (d *dispatcher) invoke(j job) {
	if aware, ok := j.hook.(hook.OperatorAware); ok {
		aware.SetOperator(d.operator)
	}
	if err := j.hook.Invoke(j.reg, j.resolver); err != nil {
		d.logger.Warn("background hook failed",
			zap.String("hook", fmt.Sprintf("%T", j.hook)),
			zap.Error(err))
	}
}

// drain blocks until every job enqueued so far has run.
func (d *dispatcher) drain() {
	d.wg.Wait()
}

// close drains the queues and shuts the worker goroutines down. Enqueues
// after close are dropped.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	queues := make([]*targetQueue, 0, len(d.queues))
	for _, queue := range d.queues {
		queues = append(queues, queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	for _, queue := range queues {
		queue.mu.Lock()
		queue.done = true
		queue.cond.Broadcast()
		queue.mu.Unlock()
	}
}

// snapshotRegistry builds a detached registry tree holding the entries a
// background hook declared, placed at their matched paths. Networks and
// optimisers are deep-copied so a merge landing later cannot race the hook;
// nested registries (the shared channel) are passed through live.
func snapshotRegistry(resolver *registry.Resolver, entries []string) (*registry.Registry, *registry.Resolver, error) {
	snapshot := registry.New()
	for _, entry := range entries {
		matches, err := resolver.Resolve(entry)
		if err != nil {
			return nil, nil, err
		}
		for _, match := range matches {
			value, ok := match.Registry.Get(match.Key)
			if !ok {
				continue
			}
			if err := placeSnapshotValue(snapshot, match.Identifier, copySnapshotValue(value)); err != nil {
				return nil, nil, err
			}
		}
	}
	return snapshot, registry.NewResolver(snapshot), nil
}

func copySnapshotValue(value any) any {
	switch v := value.(type) {
	case *nn.Network:
		return v.DeepCopy()
	case *nn.SGD:
		return v.DeepCopy()
	case []float64:
		return append([]float64(nil), v...)
	default:
		return value
	}
}

func placeSnapshotValue(root *registry.Registry, identifier string, value any) error {
	parts := strings.Split(identifier, ".")
	reg := root
	for _, part := range parts[:len(parts)-1] {
		child, ok := reg.Child(part)
		if !ok {
			child = registry.New()
			if err := reg.Set(part, child); err != nil {
				return err
			}
		}
		reg = child
	}
	key := parts[len(parts)-1]
	// Live sub-registries are linked, not adopted: the snapshot must not
	// steal them from the operator hierarchy.
	if live, ok := value.(*registry.Registry); ok {
		return reg.SetLink(key, live)
	}
	return reg.Set(key, value)
}
