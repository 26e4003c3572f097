package promotion

import (
	"context"
	"fmt"
	"sync"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

// Store persists promotion records keyed by build outcome id
type Store interface {
	Create(ctx context.Context, record api.PromotionRecord) (err error)
	Get(ctx context.Context, buildOutcomeID string) (record api.PromotionRecord, err error)
	Update(ctx context.Context, record api.PromotionRecord) (err error)
	ListByState(ctx context.Context, state api.PromotionState) (records []api.PromotionRecord, err error)
}

// NewInMemoryStore returns a store backed by a process-local map
func NewInMemoryStore() Store {
	return &inMemoryStore{
		records: make(map[string]api.PromotionRecord),
	}
}

type inMemoryStore struct {
	mutex   sync.RWMutex
	records map[string]api.PromotionRecord
}

func (s *inMemoryStore) Create(ctx context.Context, record api.PromotionRecord) (err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.records[record.BuildOutcomeID]; ok {
		return fmt.Errorf("%w: promotion record for build outcome %v already exists", api.ErrInvalidRequest, record.BuildOutcomeID)
	}
	s.records[record.BuildOutcomeID] = record

	return nil
}

func (s *inMemoryStore) Get(ctx context.Context, buildOutcomeID string) (record api.PromotionRecord, err error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, ok := s.records[buildOutcomeID]
	if !ok {
		return record, fmt.Errorf("%w: no promotion record for build outcome %v", api.ErrNotFound, buildOutcomeID)
	}

	return record, nil
}

func (s *inMemoryStore) Update(ctx context.Context, record api.PromotionRecord) (err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.records[record.BuildOutcomeID]; !ok {
		return fmt.Errorf("%w: no promotion record for build outcome %v", api.ErrNotFound, record.BuildOutcomeID)
	}
	s.records[record.BuildOutcomeID] = record

	return nil
}

func (s *inMemoryStore) ListByState(ctx context.Context, state api.PromotionState) (records []api.PromotionRecord, err error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, record := range s.records {
		if record.State == state {
			records = append(records, record)
		}
	}

	return records, nil
}
