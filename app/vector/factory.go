package vector

import (
	"fmt"

	"github.com/feedsieve/feedsieve/app/database"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// NewStore constructs a store for the named backend. Backend selection is a
// static switch resolved once at startup; an unknown name or invalid config
// must prevent the dependent subsystem from starting.
func NewStore(backend string, config Config, db *database.DB) (Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vector store config: %w", err)
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(config), nil
	case BackendSQLite:
		if db == nil {
			return nil, fmt.Errorf("sqlite vector backend requires a database connection")
		}
		return NewSQLiteStore(config, db), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}
