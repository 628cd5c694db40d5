package train

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"paideia/internal/data"
	"paideia/internal/hook"
	"paideia/internal/nn"
	"paideia/internal/registry"
)

// Operator lifecycle states.
const (
	StateNone    = "none"
	StateStarted = "started"
	StatePaused  = "paused"
	StateStopped = "stopped"
)

// Config assembles a training operator. Network, Optimizer, Iterator and
// Epochs are required; everything else has a default.
type Config struct {
	WorkerCount int
	Epochs      int
	BatchSize   int

	Network   *nn.Network
	Optimizer *nn.SGD
	Iterator  data.Iterator
	Trainer   Trainer
	Handler   nn.Handler
	Merger    NetworkMerger
	Logger    *zap.Logger
}

// Operator drives N workers through synchronous data-parallel training.
// Each worker trains its own network copy; at every epoch boundary the
// copies are merged back into the authoritative network, and every worker
// pulls the merged parameters before its next epoch.
type Operator struct {
	workerCount int
	epochs      int
	batchSize   int

	trainer Trainer
	handler nn.Handler
	merger  NetworkMerger
	logger  *zap.Logger

	reg      *registry.Registry
	resolver *registry.Resolver
	shared   *registry.Registry

	local  *scheduler
	global *scheduler

	dispatcher   *dispatcher
	globalEmitMu sync.Mutex

	mu        sync.Mutex
	cond      *sync.Cond
	state     string
	stopping  bool
	network   *nn.Network
	optimizer *nn.SGD
	iterator  data.Iterator
	epoch     int
	iteration int

	workers     []*worker
	prepared    bool
	epochsToRun int

	pushed           []*nn.Network
	pushedCount      int
	pushedIterations []int

	workerWG   sync.WaitGroup
	finishOnce sync.Once
}

func New(cfg Config) (*Operator, error) {
	if cfg.Network == nil {
		return nil, ErrUnassignedNetwork
	}
	if cfg.Optimizer == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	if cfg.Iterator == nil {
		return nil, fmt.Errorf("iterator is required")
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be > 0, got %d", cfg.Epochs)
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Trainer == nil {
		cfg.Trainer = SGDTrainer{}
	}
	if cfg.Handler == nil {
		cfg.Handler = nn.NewCPUHandler()
	}
	if cfg.Merger == nil {
		merger, err := NewAverageMerger(cfg.Handler, DefaultMergePattern)
		if err != nil {
			return nil, err
		}
		cfg.Merger = merger
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	o := &Operator{
		workerCount: cfg.WorkerCount,
		epochs:      cfg.Epochs,
		batchSize:   cfg.BatchSize,
		trainer:     cfg.Trainer,
		handler:     cfg.Handler,
		merger:      cfg.Merger,
		logger:      cfg.Logger,
		state:       StateNone,
		network:     cfg.Network,
		optimizer:   cfg.Optimizer,
		iterator:    cfg.Iterator,
		local:       newScheduler(cfg.WorkerCount),
		global:      newScheduler(1),
	}
	o.cond = sync.NewCond(&o.mu)
	o.dispatcher = newDispatcher(cfg.Logger)
	o.dispatcher.operator = o

	o.reg = registry.New("operator")
	o.shared = registry.New("shared")
	for key, value := range map[string]any{
		hook.KeyNetwork:   cfg.Network,
		hook.KeyOptimizer: cfg.Optimizer,
		hook.KeyIterator:  cfg.Iterator,
		hook.KeyTrainer:   cfg.Trainer,
		hook.KeyEpoch:     0,
		hook.KeyIteration: 0,
		hook.KeyShared:    o.shared,
	} {
		if err := o.reg.Set(key, value); err != nil {
			return nil, err
		}
	}
	o.resolver = registry.NewResolver(o.reg)
	return o, nil
}

func (o *Operator) Registry() *registry.Registry { return o.reg }
func (o *Operator) Resolver() *registry.Resolver { return o.resolver }
func (o *Operator) Shared() *registry.Registry { return o.shared }
func (o *Operator) WorkerCount() int { return o.workerCount }
func (o *Operator) HandlerName() string { return o.handler.Name() }

func (o *Operator) Epoch() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}

// Iteration returns the highest iteration number every worker has reached
// in the current epoch.
func (o *Operator) Iteration() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.iteration
}

func (o *Operator) State() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Hook management. Local hooks tick once per worker, global hooks once per
// operator-wide event.

func (o *Operator) AttachLocalHook(h hook.Hook) (bool, error) { return o.local.Attach(h) }
func (o *Operator) AttachGlobalHook(h hook.Hook) (bool, error) { return o.global.Attach(h) }
func (o *Operator) DetachLocalHook(h hook.Hook) error { return o.local.Detach(h) }
func (o *Operator) DetachGlobalHook(h hook.Hook) error { return o.global.Detach(h) }

// LocalHooks and GlobalHooks list the attached hooks in attach order. The
// returned slices are copies.
func (o *Operator) LocalHooks() []hook.Hook { return o.local.Hooks() }
func (o *Operator) GlobalHooks() []hook.Hook { return o.global.Hooks() }

func (o *Operator) MarkLocalHookDead(h hook.Hook, workerID int) error {
	return o.local.MarkDead(h, workerID)
}

func (o *Operator) MarkGlobalHookDead(h hook.Hook) error {
	return o.global.MarkDead(h, 0)
}

func (o *Operator) LocalHookInvocationIndex(h hook.Hook) (int, error) {
	return o.local.InvocationIndex(h)
}

func (o *Operator) LocalHookInvocationTarget(h hook.Hook) (int, error) {
	return o.local.InvocationTarget(h)
}

func (o *Operator) GlobalHookInvocationIndex(h hook.Hook) (int, error) {
	return o.global.InvocationIndex(h)
}

func (o *Operator) GlobalHookInvocationTarget(h hook.Hook) (int, error) {
	return o.global.InvocationTarget(h)
}

// PrepareWorkers builds the per-worker network copies and iterator cursors.
// It is idempotent; Start calls it if it has not run yet.
func (o *Operator) PrepareWorkers() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.prepared {
		return nil
	}
	workers := make([]*worker, 0, o.workerCount)
	for id := 0; id < o.workerCount; id++ {
		network := o.network
		if o.workerCount > 1 {
			network = o.network.DeepCopy()
		}
		w, err := newWorker(id, network, o.iterator.ShallowCopy())
		if err != nil {
			return err
		}
		workers = append(workers, w)
	}
	o.workers = workers
	o.pushed = make([]*nn.Network, o.workerCount)
	o.pushedIterations = make([]int, o.workerCount)
	o.prepared = true
	for _, w := range workers {
		if err := o.populateWorkerRegistryLocked(w.reg, w.id); err != nil {
			return err
		}
	}
	return nil
}

// PopulateWorkerRegistry fills reg with the worker's invocation context:
// its network copy and iterator, the shared optimiser and trainer, the
// current counters, and a link to the shared channel.
func (o *Operator) PopulateWorkerRegistry(reg *registry.Registry, workerID int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.populateWorkerRegistryLocked(reg, workerID)
}

func (o *Operator) populateWorkerRegistryLocked(reg *registry.Registry, workerID int) error {
	if !o.prepared {
		return fmt.Errorf("workers are not prepared")
	}
	if workerID < 0 || workerID >= o.workerCount {
		return fmt.Errorf("worker %d out of range", workerID)
	}
	w := o.workers[workerID]
	for key, value := range map[string]any{
		hook.KeyNetwork:   w.network,
		hook.KeyOptimizer: o.optimizer,
		hook.KeyIterator:  w.iterator,
		hook.KeyTrainer:   o.trainer,
		hook.KeyEpoch:     o.epoch,
		hook.KeyIteration: w.localIteration,
	} {
		if err := reg.Set(key, value); err != nil {
			return err
		}
	}
	return reg.SetLink(hook.KeyShared, o.shared)
}

// Start launches the workers for the configured number of epochs. Legal
// from the initial state or after a stop; a restart trains further epochs
// on top of the merged parameters.
func (o *Operator) Start() error {
	return o.start(o.epochs)
}

// StartOnce runs a single epoch regardless of the configured count.
func (o *Operator) StartOnce() error {
	return o.start(1)
}

func (o *Operator) start(epochs int) error {
	o.mu.Lock()
	switch o.state {
	case StateNone:
	case StateStopped:
		// A stopped run may have left the barriers half filled.
		o.stopping = false
		o.pushedCount = 0
		for i := range o.pushed {
			o.pushed[i] = nil
		}
		for i := range o.pushedIterations {
			o.pushedIterations[i] = 0
		}
		o.finishOnce = sync.Once{}
		o.dispatcher = newDispatcher(o.logger)
		o.dispatcher.operator = o
	default:
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, state)
	}
	o.mu.Unlock()

	if err := o.PrepareWorkers(); err != nil {
		return err
	}

	o.mu.Lock()
	o.epochsToRun = epochs
	o.setStateLocked(StateStarted)
	o.mu.Unlock()

	o.emitGlobal(hook.ScaleStart)
	for _, w := range o.workers {
		o.emitLocal(w.id, hook.ScaleStart)
	}
	for _, w := range o.workers {
		o.workerWG.Add(1)
		go o.runWorker(w)
	}
	go func() {
		o.workerWG.Wait()
		o.finish()
	}()
	return nil
}

// Pause suspends the workers at their next iteration boundary.
func (o *Operator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateStarted {
		return fmt.Errorf("%w: %s", ErrBadState, o.state)
	}
	o.setStateLocked(StatePaused)
	return nil
}

// Resume releases paused workers.
func (o *Operator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePaused {
		return fmt.Errorf("%w: %s", ErrBadState, o.state)
	}
	o.setStateLocked(StateStarted)
	return nil
}

// Stop asks the workers to exit at their next boundary and blocks until the
// run has fully wound down, background hooks included.
func (o *Operator) Stop() error {
	o.mu.Lock()
	switch o.state {
	case StateStarted, StatePaused:
	default:
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadState, state)
	}
	o.stopping = true
	o.cond.Broadcast()
	o.mu.Unlock()

	o.workerWG.Wait()
	o.finish()
	return nil
}

// WaitForStateChanged blocks while the operator remains in the given state
// and returns the state it moved to.
func (o *Operator) WaitForStateChanged(from string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.state == from {
		o.cond.Wait()
	}
	return o.state
}

// Wait blocks until the run has stopped, either naturally or via Stop.
func (o *Operator) Wait() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.state != StateStopped {
		o.cond.Wait()
	}
}

func (o *Operator) setStateLocked(state string) {
	o.state = state
	o.cond.Broadcast()
}

func (o *Operator) finish() {
	o.finishOnce.Do(func() {
		for _, w := range o.workers {
			o.emitLocal(w.id, hook.ScaleStop)
		}
		o.emitGlobal(hook.ScaleStop)
		o.dispatcher.close()
		o.mu.Lock()
		o.setStateLocked(StateStopped)
		o.mu.Unlock()
	})
}

func (o *Operator) stopRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopping
}

// awaitRunnable blocks while paused and reports whether the worker should
// keep going.
func (o *Operator) awaitRunnable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.state == StatePaused && !o.stopping {
		o.cond.Wait()
	}
	return !o.stopping
}

func (o *Operator) runWorker(w *worker) {
	defer o.workerWG.Done()
	for epoch := 0; epoch < o.epochsToRun; epoch++ {
		if !o.PullProgress(w.id) {
			return
		}
		w.iterator.Reset()
		w.localIteration = 0
		for {
			if !o.awaitRunnable() {
				return
			}
			batch, ok := w.iterator.NextBatch(o.batchSize)
			if !ok {
				break
			}
			loss, err := o.trainer.Train(w.network, o.optimizer, batch)
			if err != nil {
				o.abort(w.id, err)
				return
			}
			w.localIteration++
			if err := o.PushProgress(w.id, hook.ScaleIteration, loss); err != nil {
				o.abort(w.id, err)
				return
			}
		}
		if err := o.PushProgress(w.id, hook.ScaleEpoch, 0); err != nil {
			o.abort(w.id, err)
			return
		}
		if o.stopRequested() {
			return
		}
	}
}

func (o *Operator) abort(workerID int, err error) {
	o.logger.Warn("worker aborting run", zap.Int("worker", workerID), zap.Error(err))
	o.mu.Lock()
	o.stopping = true
	o.cond.Broadcast()
	o.mu.Unlock()
}

// PullProgress blocks until the worker may begin its next epoch and copies
// the freshly merged parameters into its network. It reports false when the
// run is stopping.
func (o *Operator) PullProgress(workerID int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.state == StatePaused && !o.stopping {
		o.cond.Wait()
	}
	if o.stopping {
		return false
	}
	if o.workerCount > 1 {
		w := o.workers[workerID]
		if err := w.network.SetParameters(o.network.Parameters()); err != nil {
			o.logger.Warn("pull progress failed", zap.Int("worker", workerID), zap.Error(err))
			return false
		}
	}
	return true
}

// PushProgress reports one completed unit of work. Iteration pushes bump
// the global counter and fire iteration hooks; epoch pushes park the worker
// at the barrier until every worker has pushed, at which point the last
// pusher merges and advances the epoch.
func (o *Operator) PushProgress(workerID int, scale hook.TimeScale, loss float64) error {
	o.mu.Lock()
	prepared := o.prepared
	o.mu.Unlock()
	if !prepared {
		return fmt.Errorf("workers are not prepared")
	}
	if workerID < 0 || workerID >= o.workerCount {
		return fmt.Errorf("worker %d out of range", workerID)
	}
	switch scale {
	case hook.ScaleIteration:
		return o.pushIteration(workerID, loss)
	case hook.ScaleEpoch:
		return o.pushEpoch(workerID)
	default:
		return fmt.Errorf("cannot push progress at scale %q", scale)
	}
}

func (o *Operator) pushIteration(workerID int, loss float64) error {
	if err := o.shared.Set(hook.KeyTrainLoss, loss); err != nil {
		return err
	}
	o.emitLocal(workerID, hook.ScaleIteration)

	// The global iteration event is a barrier: it fires once when every
	// worker has reached the same iteration number.
	o.mu.Lock()
	w := o.workers[workerID]
	o.pushedIterations[workerID] = w.localIteration
	reached := w.localIteration
	barrier := true
	for _, n := range o.pushedIterations {
		if n != reached {
			barrier = false
			break
		}
	}
	if barrier {
		o.iteration = reached
	}
	o.mu.Unlock()
	if !barrier {
		return nil
	}

	if err := o.reg.Set(hook.KeyIteration, reached); err != nil {
		return err
	}
	o.emitGlobal(hook.ScaleIteration)
	return nil
}

func (o *Operator) pushEpoch(workerID int) error {
	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return nil
	}
	if o.pushed[workerID] != nil || o.pushedCount >= o.workerCount {
		o.mu.Unlock()
		return ErrTooManyPushers
	}
	o.pushed[workerID] = o.workers[workerID].network
	o.pushedCount++

	if o.pushedCount < o.workerCount {
		// Park until the last pusher advances the epoch.
		myEpoch := o.epoch
		for o.epoch == myEpoch && !o.stopping {
			o.cond.Wait()
		}
		o.mu.Unlock()
		if o.stopRequested() {
			return nil
		}
		o.emitLocal(workerID, hook.ScaleEpoch)
		return nil
	}

	// Last pusher: fold the worker copies into the authoritative network
	// and release the pushed references right away. A failed merge leaves
	// the epoch where it was and never fires the Epoch event; the caller
	// aborts the run and the parked workers wake on the stop broadcast.
	if o.workerCount > 1 {
		pushed := make([]*nn.Network, 0, o.workerCount)
		for _, network := range o.pushed {
			pushed = append(pushed, network)
		}
		if err := o.merger.Merge(o.network, pushed); err != nil {
			o.mu.Unlock()
			return fmt.Errorf("epoch merge: %w", err)
		}
	}
	for i := range o.pushed {
		o.pushed[i] = nil
	}
	o.pushedCount = 0
	for i := range o.pushedIterations {
		o.pushedIterations[i] = 0
	}
	o.epoch++
	epoch := o.epoch
	if err := o.reg.Set(hook.KeyEpoch, epoch); err != nil {
		o.logger.Warn("publishing epoch failed", zap.Error(err))
	}
	o.cond.Broadcast()
	o.mu.Unlock()

	o.emitGlobal(hook.ScaleEpoch)
	o.emitLocal(workerID, hook.ScaleEpoch)
	return nil
}

// emitLocal fires a worker's due local hooks against that worker's own
// registry, refreshed with the current counters first.
func (o *Operator) emitLocal(workerID int, scale hook.TimeScale) {
	o.mu.Lock()
	w := o.workers[workerID]
	epoch := o.epoch
	o.mu.Unlock()
	if err := w.reg.Set(hook.KeyEpoch, epoch); err != nil {
		o.logger.Warn("publishing worker epoch failed", zap.Int("worker", workerID), zap.Error(err))
	}
	if err := w.reg.Set(hook.KeyIteration, w.localIteration); err != nil {
		o.logger.Warn("publishing worker iteration failed", zap.Int("worker", workerID), zap.Error(err))
	}
	o.invokeEjections(o.local.Eject(workerID, scale), w.reg, w.resolver)
}

func (o *Operator) emitGlobal(scale hook.TimeScale) {
	o.globalEmitMu.Lock()
	defer o.globalEmitMu.Unlock()
	o.invokeEjections(o.global.Eject(0, scale), o.reg, o.resolver)
}

func (o *Operator) invokeEjections(due []ejection, reg *registry.Registry, resolver *registry.Resolver) {
	for _, e := range due {
		if e.hook.InvokeInBackground() {
			snapshot, snapResolver, err := o.snapshotFor(e.hook, resolver)
			if err != nil {
				o.logger.Warn("snapshot for background hook failed",
					zap.String("hook", fmt.Sprintf("%T", e.hook)),
					zap.Error(err))
				continue
			}
			o.dispatcher.enqueue(e.target, job{hook: e.hook, reg: snapshot, resolver: snapResolver})
			continue
		}
		if aware, ok := e.hook.(hook.OperatorAware); ok {
			aware.SetOperator(o)
		}
		if err := e.hook.Invoke(reg, resolver); err != nil {
			o.logger.Warn("hook failed",
				zap.String("hook", fmt.Sprintf("%T", e.hook)),
				zap.Error(err))
		}
	}
}

// snapshotFor copies the hook's declared registry entries under the
// operator lock, so a concurrent merge cannot tear the copied parameters.
func (o *Operator) snapshotFor(h hook.Hook, resolver *registry.Resolver) (*registry.Registry, *registry.Resolver, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return snapshotRegistry(resolver, h.RequiredRegistryEntries())
}

// DrainBackgroundHooks blocks until every background hook dispatched so far
// has finished.
func (o *Operator) DrainBackgroundHooks() {
	o.dispatcher.drain()
}
