// Package store persists the remote store service's documents.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/types"
)

// Entity is one stored document of a collection.
type Entity struct {
	Kind      string
	ID        string
	OwnerID   string
	Body      json.RawMessage
	UpdatedAt time.Time
}

// Store defines the interface contract for the service's storage.
type Store interface {
	List(ctx context.Context, kind, ownerID string) ([]Entity, error)
	Upsert(ctx context.Context, e Entity) error
	Patch(ctx context.Context, kind, id string, fields map[string]any) (*Entity, error)
	Delete(ctx context.Context, kind, id string) error
	RegisterDevice(ctx context.Context, reg types.DeviceRegistration) error
	GetStats(ctx context.Context) (*types.StoreStats, error)
	Close() error
}
