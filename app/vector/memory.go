package vector

import (
	"fmt"
	"sync"
)

// MemoryStore is the brute-force reference implementation: a linear scan
// over all stored vectors on every search. Intended for development and
// tests at small-to-moderate scale.
type MemoryStore struct {
	config  Config
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(config Config) *MemoryStore {
	return &MemoryStore{
		config:  config,
		records: make(map[string]Record),
	}
}

func (s *MemoryStore) Store(entryID string, vec []float64, metadata map[string]any) error {
	if len(vec) != s.config.Dimension {
		return fmt.Errorf("%w: got %d, store dimension is %d", ErrDimensionMismatch, len(vec), s.config.Dimension)
	}

	stored := make([]float64, len(vec))
	copy(stored, vec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[entryID] = Record{EntryID: entryID, Vector: stored, Metadata: metadata}
	return nil
}

// StoreBatch stores each item sequentially; callers must not assume
// atomicity across the batch.
func (s *MemoryStore) StoreBatch(items []Record) error {
	for _, item := range items {
		if err := s.Store(item.EntryID, item.Vector, item.Metadata); err != nil {
			return fmt.Errorf("failed to store vector for entry %s: %w", item.EntryID, err)
		}
	}
	return nil
}

func (s *MemoryStore) Get(entryID string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[entryID]
	if !ok {
		return nil, nil
	}
	vec := make([]float64, len(record.Vector))
	copy(vec, record.Vector)
	return vec, nil
}

func (s *MemoryStore) Search(query []float64, limit int, threshold *float64) ([]SearchResult, error) {
	if len(query) != s.config.Dimension {
		return nil, fmt.Errorf("%w: got %d, store dimension is %d", ErrDimensionMismatch, len(query), s.config.Dimension)
	}

	s.mu.RLock()
	results := make([]SearchResult, 0, len(s.records))
	for _, record := range s.records {
		results = append(results, SearchResult{
			EntryID:    record.EntryID,
			Similarity: similarity(s.config.Metric, query, record.Vector),
			Metadata:   record.Metadata,
		})
	}
	s.mu.RUnlock()

	return rankResults(results, limit, threshold), nil
}

// Delete removes the vector only, never the underlying entry.
func (s *MemoryStore) Delete(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, entryID)
	return nil
}

func (s *MemoryStore) Size() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Config() Config {
	return s.config
}
