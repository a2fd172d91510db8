// Package types holds the wire types of the remote store service.
package types

import (
	"encoding/json"
	"time"
)

// Collection names served under /api/v1/{kind}.
const (
	KindThemes   = "themes"
	KindInsights = "insights"
	KindProfiles = "profiles"
)

// Kinds lists every served collection.
var Kinds = []string{KindThemes, KindInsights, KindProfiles}

// ValidKind reports whether kind names a served collection.
func ValidKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Document is the envelope every stored entity must carry. Profiles are
// owned by themselves, so their owner is their id.
type Document struct {
	ID        string    `json:"id" validate:"required,max=64"`
	OwnerID   string    `json:"user_id" validate:"required,max=64"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListResponse wraps the documents returned by a list call.
type ListResponse struct {
	Items []json.RawMessage `json:"items"`
}

// WriteResponse acknowledges an insert.
type WriteResponse struct {
	ID string `json:"id"`
}

// DeviceRegistration registers an installation for reminders.
type DeviceRegistration struct {
	OwnerID        string `json:"owner_id" validate:"required,max=64"`
	InstallationID string `json:"installation_id" validate:"required,max=64"`
	Platform       string `json:"platform" validate:"required,oneof=cli ios android web"`
	Endpoint       string `json:"endpoint,omitempty" validate:"omitempty,url"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	EntityCount int64  `json:"entity_count"`
	DeviceCount int64  `json:"device_count"`
}

// StoreStats holds aggregate store statistics.
type StoreStats struct {
	Entities map[string]int64 `json:"entities"`
	Devices  int64            `json:"devices"`
}

// Total sums entities across kinds.
func (s StoreStats) Total() int64 {
	var n int64
	for _, c := range s.Entities {
		n += c
	}
	return n
}
