// Package supabase adapts a Supabase (PostgREST) project to the remote store
// contract. Tables: themes, insights, profiles, push_subscriptions.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/remote"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

// Table names.
const (
	TableThemes   = "themes"
	TableInsights = "insights"
	TableProfiles = "profiles"
	TableDevices  = "push_subscriptions"
)

// querier is the slice of the Supabase client the adapter needs.
type querier interface {
	From(table string) *postgrest.QueryBuilder
}

// Remote is a journal.Remote backed by PostgREST tables.
type Remote struct {
	q        querier
	themes   *table[journal.Theme]
	insights *table[journal.Insight]
	profiles *table[journal.Owner]
}

var (
	_ journal.Remote          = (*Remote)(nil)
	_ journal.DeviceRegistrar = (*Remote)(nil)
)

// New connects to the project at url with key.
func New(url, key string) (*Remote, error) {
	client, err := supa.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return newRemote(client), nil
}

func newRemote(q querier) *Remote {
	return &Remote{
		q:        q,
		themes:   &table[journal.Theme]{q: q, name: TableThemes, ownerColumn: "user_id"},
		insights: &table[journal.Insight]{q: q, name: TableInsights, ownerColumn: "user_id"},
		profiles: &table[journal.Owner]{q: q, name: TableProfiles, ownerColumn: "id"},
	}
}

func (r *Remote) Themes() journal.Collection[journal.Theme]     { return r.themes }
func (r *Remote) Insights() journal.Collection[journal.Insight] { return r.insights }
func (r *Remote) Profiles() journal.Collection[journal.Owner]   { return r.profiles }

type deviceRow struct {
	UserID         string    `json:"user_id"`
	InstallationID string    `json:"installation_id"`
	Platform       string    `json:"platform"`
	Endpoint       string    `json:"endpoint,omitempty"`
	RegisteredAt   time.Time `json:"registered_at"`
}

// RegisterDevice upserts the installation's push subscription.
func (r *Remote) RegisterDevice(ctx context.Context, ownerID string, d journal.Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := deviceRow{
		UserID:         ownerID,
		InstallationID: d.InstallationID,
		Platform:       d.Platform,
		Endpoint:       d.Endpoint,
		RegisteredAt:   d.RegisteredAt,
	}
	if _, _, err := r.q.From(TableDevices).Insert(row, true, "installation_id", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// table maps one PostgREST table to a journal collection. The client has no
// context support, so ctx is only checked before each call.
type table[T any] struct {
	q           querier
	name        string
	ownerColumn string
}

func (t *table[T]) ListByOwner(ctx context.Context, ownerID string) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, _, err := t.q.From(t.name).Select("*", "", false).Eq(t.ownerColumn, ownerID).Execute()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.name, err)
	}
	return decodeRows[T](body)
}

func (t *table[T]) Insert(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := t.q.From(t.name).Insert(item, true, "id", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("insert %s: %w", t.name, err)
	}
	return nil
}

// Update asks for the updated rows back so a missing id is detectable.
func (t *table[T]) Update(ctx context.Context, id string, fields journal.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, _, err := t.q.From(t.name).Update(fields, "representation", "").Eq("id", id).Execute()
	if err != nil {
		return fmt.Errorf("update %s %s: %w", t.name, id, err)
	}
	if isEmpty(body) {
		return fmt.Errorf("update %s %s: %w", t.name, id, remote.ErrNotFound)
	}
	return nil
}

// Delete succeeds whether or not a row matched.
func (t *table[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := t.q.From(t.name).Delete("minimal", "").Eq("id", id).Execute(); err != nil {
		return fmt.Errorf("delete %s %s: %w", t.name, id, err)
	}
	return nil
}

func decodeRows[T any](body []byte) ([]T, error) {
	var rows []T
	if len(body) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

func isEmpty(body []byte) bool {
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return len(body) == 0
	}
	return len(rows) == 0
}
