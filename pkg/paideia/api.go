// Package paideia is the public face of the training platform: it wires a
// network, a dataset and the built-in hooks into a training operator and
// persists the run history.
package paideia

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paideia/internal/data"
	"paideia/internal/hook"
	"paideia/internal/model"
	"paideia/internal/nn"
	"paideia/internal/storage"
	"paideia/internal/train"
)

const defaultDBPath = "paideia.db"

type Options struct {
	StoreKind string
	DBPath    string
}

type Client struct {
	store storage.Store
}

type RunRequest struct {
	RunID string

	// DataPath points at a headerless CSV; when empty a synthetic
	// regression set is generated.
	DataPath         string
	InputCols        int
	SyntheticSamples int

	// HiddenLayers lists the hidden layer widths; input and output widths
	// come from the data.
	HiddenLayers []int

	Workers      int
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         int64

	// Hook schedules. Zero disables the hook.
	CheckpointEvery int
	DecayEvery      int
	DecayFactor     float64
	ValidateEvery   int
	HoldoutSamples  int
}

type RunSummary struct {
	RunID           string
	Workers         int
	Epochs          int
	Iterations      int
	Samples         int
	FinalLoss       float64
	FinalValidation float64
	HandlerName     string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Workers <= 0 {
		req.Workers = 1
	}
	if req.Epochs <= 0 {
		req.Epochs = 10
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 16
	}
	if req.LearningRate <= 0 {
		req.LearningRate = 0.05
	}
	if req.SyntheticSamples <= 0 {
		req.SyntheticSamples = 256
	}
	if len(req.HiddenLayers) == 0 {
		req.HiddenLayers = []int{8}
	}
	if req.DecayFactor <= 0 || req.DecayFactor >= 1 {
		req.DecayFactor = 0.5
	}
	if req.HoldoutSamples <= 0 {
		req.HoldoutSamples = 32
	}

	samples, err := c.loadSamples(req)
	if err != nil {
		return RunSummary{}, err
	}

	var holdout []data.Sample
	if req.ValidateEvery > 0 {
		if req.HoldoutSamples >= len(samples) {
			return RunSummary{}, fmt.Errorf("holdout of %d leaves no training data", req.HoldoutSamples)
		}
		holdout = samples[len(samples)-req.HoldoutSamples:]
		samples = samples[:len(samples)-req.HoldoutSamples]
	}

	dims := append([]int{len(samples[0].Input)}, req.HiddenLayers...)
	dims = append(dims, len(samples[0].Target))
	network, err := nn.NewNetwork(dims, req.Seed)
	if err != nil {
		return RunSummary{}, err
	}
	optimizer, err := nn.NewSGD(req.LearningRate)
	if err != nil {
		return RunSummary{}, err
	}
	iterator, err := data.NewSliceIterator(samples)
	if err != nil {
		return RunSummary{}, err
	}

	op, err := train.New(train.Config{
		WorkerCount: req.Workers,
		Epochs:      req.Epochs,
		BatchSize:   req.BatchSize,
		Network:     network,
		Optimizer:   optimizer,
		Iterator:    iterator,
	})
	if err != nil {
		return RunSummary{}, err
	}

	if err := c.attachHooks(op, req, holdout); err != nil {
		return RunSummary{}, err
	}

	if err := op.Start(); err != nil {
		return RunSummary{}, err
	}
	done := make(chan struct{})
	go func() {
		op.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		_ = op.Stop()
		<-done
		return RunSummary{}, ctx.Err()
	}

	summary := RunSummary{
		RunID:       req.RunID,
		Workers:     req.Workers,
		Epochs:      op.Epoch(),
		Iterations:  op.Iteration(),
		Samples:     len(samples),
		HandlerName: op.HandlerName(),
	}
	if value, ok := op.Shared().Get(hook.KeyTrainLoss); ok {
		summary.FinalLoss, _ = value.(float64)
	}
	if len(holdout) > 0 {
		inputs, targets := data.Split(holdout)
		if loss, err := network.Loss(inputs, targets); err == nil {
			summary.FinalValidation = loss
		}
	}

	record := model.RunSummary{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		RunID:          summary.RunID,
		Workers:        summary.Workers,
		Epochs:         summary.Epochs,
		Samples:        summary.Samples,
		FinalLoss:      summary.FinalLoss,
		BestValidation: summary.FinalValidation,
		HandlerName:    summary.HandlerName,
		CreatedAtUTC:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.store.SaveRunSummary(ctx, record); err != nil {
		return RunSummary{}, err
	}
	return summary, nil
}

func (c *Client) loadSamples(req RunRequest) ([]data.Sample, error) {
	if req.DataPath == "" {
		return data.Synthetic(req.SyntheticSamples, req.Seed), nil
	}
	if req.InputCols <= 0 {
		return nil, fmt.Errorf("input column count is required for CSV data")
	}
	return data.LoadCSV(req.DataPath, req.InputCols)
}

func (c *Client) attachHooks(op *train.Operator, req RunRequest, holdout []data.Sample) error {
	stats, err := hook.NewEpochStats(c.store, req.RunID)
	if err != nil {
		return err
	}
	if _, err := op.AttachGlobalHook(stats); err != nil {
		return err
	}
	if req.CheckpointEvery > 0 {
		checkpoint, err := hook.NewCheckpoint(c.store, req.RunID, req.CheckpointEvery, stats)
		if err != nil {
			return err
		}
		if _, err := op.AttachGlobalHook(checkpoint); err != nil {
			return err
		}
	}
	if req.DecayEvery > 0 {
		decay, err := hook.NewStepDecay(req.DecayEvery, req.DecayFactor, req.LearningRate/1000)
		if err != nil {
			return err
		}
		if _, err := op.AttachGlobalHook(decay); err != nil {
			return err
		}
	}
	if req.ValidateEvery > 0 {
		validator, err := hook.NewValidator(holdout, req.ValidateEvery)
		if err != nil {
			return err
		}
		if _, err := op.AttachGlobalHook(validator); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Runs(ctx context.Context) ([]model.RunSummary, error) {
	return c.store.RunSummaries(ctx)
}

func (c *Client) History(ctx context.Context, runID string) ([]model.EpochRecord, error) {
	records, ok, err := c.store.EpochRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s has no history", runID)
	}
	return records, nil
}

func (c *Client) Checkpoints(ctx context.Context, runID string) ([]model.CheckpointRecord, error) {
	records, ok, err := c.store.Checkpoints(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s has no checkpoints", runID)
	}
	return records, nil
}
