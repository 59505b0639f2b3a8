package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"grouply/internal/core"
)

// DemoParticipants is the roster seeded into an empty store.
var DemoParticipants = []string{"Alice", "Bob", "Charlie", "David"}

type rosterStore interface {
	RosterReader
	RosterWriter
}

// SeedParticipants adds one participant per name when the roster is empty and
// reports how many were added. A populated roster is left untouched.
func SeedParticipants(ctx context.Context, store rosterStore, names []string) (int, error) {
	existing, err := store.ListParticipants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list participants: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for i, name := range names {
		p := core.Participant{
			ID:    uuid.NewString(),
			Name:  name,
			Email: strings.ToLower(name) + "@example.com",
		}
		if err := store.AddParticipant(ctx, p); err != nil {
			return i, fmt.Errorf("seed %s: %w", name, err)
		}
	}
	return len(names), nil
}
