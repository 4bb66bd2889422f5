package vector

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricL2           Metric = "l2"
	MetricInnerProduct Metric = "innerproduct"
)

// ErrDimensionMismatch is returned when a vector's length does not equal the
// store's configured dimension. Validation error: never retried.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrUnknownBackend is returned by the factory for an unrecognized backend
// name. Configuration error: fatal at setup time.
var ErrUnknownBackend = errors.New("unknown vector store backend")

// Config fixes the dimension and similarity metric shared by every vector in
// one store instance.
type Config struct {
	Dimension int
	Metric    Metric
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Dimension, validation.Required, validation.Min(1)),
		validation.Field(&c.Metric, validation.Required,
			validation.In(MetricCosine, MetricL2, MetricInnerProduct)),
	)
}

// Record is one stored embedding keyed by entry id.
type Record struct {
	EntryID  string
	Vector   []float64
	Metadata map[string]any
}

// SearchResult is one nearest-neighbor match, ordered by descending
// similarity.
type SearchResult struct {
	EntryID    string
	Similarity float64
	Metadata   map[string]any
}

// Store abstracts embedding storage and similarity search. Reads are safe
// for unlimited concurrent callers; concurrent writes to the same key
// resolve last-write-wins.
type Store interface {
	Store(entryID string, vec []float64, metadata map[string]any) error
	StoreBatch(items []Record) error
	Get(entryID string) ([]float64, error)
	Search(query []float64, limit int, threshold *float64) ([]SearchResult, error)
	Delete(entryID string) error
	Size() (int, error)
	Config() Config
}
