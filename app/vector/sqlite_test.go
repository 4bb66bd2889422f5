package vector

import (
	"errors"
	"testing"

	"github.com/feedsieve/feedsieve/app/database"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := database.NewConnection(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewSQLiteStore(Config{Dimension: 3, Metric: MetricCosine}, db)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)

	vec := []float64{0.25, -1.5, 3}
	if err := store.Store("entry-1", vec, map[string]any{"title": "first"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := store.Get("entry-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 components, got %d", len(got))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("Component %d: expected %f, got %f", i, vec[i], got[i])
		}
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestSQLiteStore(t)

	got, err := store.Get("nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("Missing entry should return nil, got %v", got)
	}
}

func TestSQLiteStore_UpsertSemantics(t *testing.T) {
	store := newTestSQLiteStore(t)

	store.Store("entry-1", []float64{1, 0, 0}, nil)
	store.Store("entry-1", []float64{0, 1, 0}, nil)

	got, _ := store.Get("entry-1")
	if got[0] != 0 || got[1] != 1 {
		t.Errorf("Second write should win, got %v", got)
	}

	size, err := store.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 1 {
		t.Errorf("Upsert should not grow the store, size is %d", size)
	}
}

func TestSQLiteStore_DimensionMismatch(t *testing.T) {
	store := newTestSQLiteStore(t)

	if err := store.Store("bad", []float64{1}, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch on store, got %v", err)
	}
	if _, err := store.Search([]float64{1, 2}, 5, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestSQLiteStore_Search(t *testing.T) {
	store := newTestSQLiteStore(t)

	store.Store("aligned", []float64{1, 0, 0}, map[string]any{"title": "aligned"})
	store.Store("diagonal", []float64{1, 1, 0}, nil)
	store.Store("orthogonal", []float64{0, 0, 1}, nil)

	results, err := store.Search([]float64{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 results with limit 2, got %d", len(results))
	}
	if results[0].EntryID != "aligned" {
		t.Errorf("Most similar entry should come first, got %s", results[0].EntryID)
	}
	if results[0].Metadata["title"] != "aligned" {
		t.Errorf("Metadata should round-trip, got %v", results[0].Metadata)
	}

	threshold := 0.9
	results, err = store.Search([]float64{1, 0, 0}, 10, &threshold)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].EntryID != "aligned" {
		t.Errorf("Threshold 0.9 should keep only the aligned vector, got %v", results)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestSQLiteStore(t)

	store.Store("entry-1", []float64{1, 0, 0}, nil)
	if err := store.Delete("entry-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, _ := store.Get("entry-1")
	if got != nil {
		t.Error("Deleted vector should not be retrievable")
	}

	if err := store.Delete("entry-1"); err != nil {
		t.Errorf("Deleting a missing vector should not error, got %v", err)
	}
}

func TestSQLiteStore_StoreBatch(t *testing.T) {
	store := newTestSQLiteStore(t)

	err := store.StoreBatch([]Record{
		{EntryID: "a", Vector: []float64{1, 0, 0}},
		{EntryID: "b", Vector: []float64{0, 1, 0}},
		{EntryID: "c", Vector: []float64{0, 0, 1}},
	})
	if err != nil {
		t.Fatalf("StoreBatch failed: %v", err)
	}

	size, _ := store.Size()
	if size != 3 {
		t.Errorf("Expected 3 stored vectors, got %d", size)
	}
}

func TestVectorBlobEncoding(t *testing.T) {
	vec := []float64{0, 1.5, -2.25, 1e-12}
	decoded := decodeVector(encodeVector(vec))

	if len(decoded) != len(vec) {
		t.Fatalf("Expected %d components, got %d", len(vec), len(decoded))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("Component %d: expected %v, got %v", i, vec[i], decoded[i])
		}
	}
}
