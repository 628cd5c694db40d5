package storage

import (
	"context"
	"sort"
	"sync"

	"paideia/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	epochs      map[string][]model.EpochRecord
	checkpoints map[string]model.CheckpointRecord
	byRun       map[string][]string
	summaries   map[string]model.RunSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.epochs = make(map[string][]model.EpochRecord)
	s.checkpoints = make(map[string]model.CheckpointRecord)
	s.byRun = make(map[string][]string)
	s.summaries = make(map[string]model.RunSummary)
	return nil
}

func (s *MemoryStore) SaveEpochRecord(_ context.Context, record model.EpochRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epochs[record.RunID] = append(s.epochs[record.RunID], record)
	return nil
}

func (s *MemoryStore) EpochRecords(_ context.Context, runID string) ([]model.EpochRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.epochs[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.EpochRecord(nil), records...), true, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, record model.CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checkpoints[record.ID]; !exists {
		s.byRun[record.RunID] = append(s.byRun[record.RunID], record.ID)
	}
	s.checkpoints[record.ID] = record
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (model.CheckpointRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.checkpoints[id]
	return record, ok, nil
}

func (s *MemoryStore) Checkpoints(_ context.Context, runID string) ([]model.CheckpointRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.byRun[runID]
	if !ok {
		return nil, false, nil
	}
	records := make([]model.CheckpointRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.checkpoints[id])
	}
	return records, true, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[runID]
	return summary, ok, nil
}

func (s *MemoryStore) RunSummaries(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtUTC < out[j].CreatedAtUTC })
	return out, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	return s.Init(ctx)
}
