// Package store persists booking entities as rows of {kind, id, status, data}.
// The status column is only changed through SetEntityState, which is a
// compare-and-swap on the previously read status.
package store

import (
	"context"
	"errors"
	"maps"
	"time"
)

var (
	// ErrNotFound is returned when no row exists for kind and id.
	ErrNotFound = errors.New("entity not found")

	// ErrStateConflict is returned by SetEntityState when the stored status
	// no longer equals the expected status.
	ErrStateConflict = errors.New("entity status changed concurrently")
)

// Entity is a single stored row. Data holds every attribute except id and
// status, which live in their own columns.
type Entity struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	Status    string         `json:"status,omitempty"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Fields flattens the row into the record shape rules evaluate against.
func (e *Entity) Fields() map[string]any {
	out := make(map[string]any, len(e.Data)+2)
	maps.Copy(out, e.Data)
	out["id"] = e.ID
	if e.Status != "" {
		out["status"] = e.Status
	}
	return out
}

func (e *Entity) clone() *Entity {
	out := *e
	out.Data = maps.Clone(e.Data)
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	return &out
}

// Store is the row store used by the API layer and the transition executor.
type Store interface {
	Create(ctx context.Context, kind, status string, data map[string]any) (*Entity, error)
	Get(ctx context.Context, kind, id string) (*Entity, error)
	List(ctx context.Context, kind string) ([]*Entity, error)
	UpdateData(ctx context.Context, kind, id string, data map[string]any) (*Entity, error)
	Delete(ctx context.Context, kind, id string) error

	GetEntityState(ctx context.Context, kind, id string) (string, error)
	SetEntityState(ctx context.Context, kind, id, expected, next string) (*Entity, error)
}

// stripReserved removes keys that are stored as columns.
func stripReserved(data map[string]any) map[string]any {
	out := maps.Clone(data)
	if out == nil {
		return map[string]any{}
	}
	delete(out, "id")
	delete(out, "status")
	return out
}
