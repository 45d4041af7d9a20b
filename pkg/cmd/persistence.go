package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/missiond/missiond/pkg/persistence"
	"github.com/missiond/missiond/pkg/persistence/memory"
	"github.com/missiond/missiond/pkg/persistence/postgresql"
)

// NewPersistence creates the persistence implementation for the given
// database URL. An empty URL or the memory:// scheme selects the
// in-memory store, which is for tests and local development only.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "memory", "":
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported database URL scheme: %q", databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return scheme
}
