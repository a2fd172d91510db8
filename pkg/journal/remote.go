package journal

import (
	"context"
	"time"
)

// Collection is the remote contract for one entity type. Implementations may
// fail partially and are expected to enforce their own timeouts.
type Collection[T any] interface {
	ListByOwner(ctx context.Context, ownerID string) ([]T, error)
	Insert(ctx context.Context, item T) error
	Update(ctx context.Context, id string, fields Fields) error
	Delete(ctx context.Context, id string) error
}

// Remote groups the replicated collections.
type Remote interface {
	Themes() Collection[Theme]
	Insights() Collection[Insight]
	Profiles() Collection[Owner]
}

// Device identifies this installation for reminder delivery.
type Device struct {
	InstallationID string    `json:"installation_id"`
	Platform       string    `json:"platform"`
	Endpoint       string    `json:"endpoint,omitempty"`
	RegisteredAt   time.Time `json:"registered_at"`
}

// DeviceRegistrar registers a device to receive reminders for an owner.
type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, ownerID string, d Device) error
}

// Observer receives replication events. Calls are made without the store
// lock held and may arrive from multiple goroutines.
type Observer interface {
	ReplicationSucceeded(ch PendingChange)
	ReplicationFailed(ch PendingChange, err error)
	PendingChanged(pending int)
}

type nopObserver struct{}

func (nopObserver) ReplicationSucceeded(PendingChange)      {}
func (nopObserver) ReplicationFailed(PendingChange, error) {}
func (nopObserver) PendingChanged(int)                     {}

// Persister is durable storage for the encoded snapshot. Load returns a nil
// blob and a nil error when nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}
