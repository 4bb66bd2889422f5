package vector

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/feedsieve/feedsieve/app/database"
)

// SQLiteStore persists vectors in the vectors table. SQLite exposes no
// native vector distance operator, so the candidate scan streams rows and
// folds similarity in-process, preserving the exact ordering and threshold
// semantics of the memory backend.
type SQLiteStore struct {
	config Config
	db     *database.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(config Config, db *database.DB) *SQLiteStore {
	return &SQLiteStore{config: config, db: db}
}

func (s *SQLiteStore) Store(entryID string, vec []float64, metadata map[string]any) error {
	if len(vec) != s.config.Dimension {
		return fmt.Errorf("%w: got %d, store dimension is %d", ErrDimensionMismatch, len(vec), s.config.Dimension)
	}

	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO vectors (entry_id, embedding, dimension, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entry_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, entryID, encodeVector(vec), len(vec), meta, time.Now().UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}

	return nil
}

// StoreBatch applies Store to each item; no atomicity across the batch.
func (s *SQLiteStore) StoreBatch(items []Record) error {
	for _, item := range items {
		if err := s.Store(item.EntryID, item.Vector, item.Metadata); err != nil {
			return fmt.Errorf("failed to store vector for entry %s: %w", item.EntryID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(entryID string) ([]float64, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT embedding FROM vectors WHERE entry_id = ?`, entryID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vector: %w", err)
	}
	return decodeVector(blob), nil
}

func (s *SQLiteStore) Search(query []float64, limit int, threshold *float64) ([]SearchResult, error) {
	if len(query) != s.config.Dimension {
		return nil, fmt.Errorf("%w: got %d, store dimension is %d", ErrDimensionMismatch, len(query), s.config.Dimension)
	}

	rows, err := s.db.Query(`
		SELECT entry_id, embedding, metadata FROM vectors WHERE dimension = ?
	`, s.config.Dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vectors: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var entryID string
		var blob []byte
		var meta string
		if err := rows.Scan(&entryID, &blob, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan vector row: %w", err)
		}

		metadata, err := decodeMetadata(meta)
		if err != nil {
			return nil, err
		}

		results = append(results, SearchResult{
			EntryID:    entryID,
			Similarity: similarity(s.config.Metric, query, decodeVector(blob)),
			Metadata:   metadata,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vector rows: %w", err)
	}

	return rankResults(results, limit, threshold), nil
}

// Delete removes the vector only, never the underlying entry.
func (s *SQLiteStore) Delete(entryID string) error {
	_, err := s.db.Exec(`DELETE FROM vectors WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Size() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM vectors WHERE dimension = ?`, s.config.Dimension).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get vector count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Config() Config {
	return s.config
}

// Vectors are stored as little-endian float64 blobs.
func encodeVector(vec []float64) []byte {
	blob := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(blob[i*8:], math.Float64bits(v))
	}
	return blob
}

func decodeVector(blob []byte) []float64 {
	vec := make([]float64, len(blob)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return vec
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode vector metadata: %w", err)
	}
	return string(encoded), nil
}

func decodeMetadata(meta string) (map[string]any, error) {
	if meta == "" || meta == "{}" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(meta), &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode vector metadata: %w", err)
	}
	return metadata, nil
}
