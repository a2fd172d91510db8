// Package remote holds remote store adapters shared by every backend: an
// in-memory implementation for offline use and tests, and a circuit breaker
// decorator.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperengineering/jukutatsu/pkg/journal"
)

// ErrNotFound is returned when an update or delete targets an unknown id.
var ErrNotFound = errors.New("entity not found")

// ErrInjected is the failure returned while a Memory remote is failing.
var ErrInjected = errors.New("injected remote failure")

// Memory is an in-process remote store. It is safe for concurrent use.
type Memory struct {
	themes   *memCollection[journal.Theme]
	insights *memCollection[journal.Insight]
	profiles *memCollection[journal.Owner]

	mu      sync.Mutex
	devices map[string]journal.Device
	failing bool
}

// NewMemory returns an empty in-memory remote.
func NewMemory() *Memory {
	m := &Memory{devices: make(map[string]journal.Device)}
	m.themes = newMemCollection(m, func(t journal.Theme) (string, string) { return t.ID, t.OwnerID })
	m.insights = newMemCollection(m, func(i journal.Insight) (string, string) { return i.ID, i.OwnerID })
	m.profiles = newMemCollection(m, func(o journal.Owner) (string, string) { return o.ID, o.ID })
	return m
}

func (m *Memory) Themes() journal.Collection[journal.Theme]     { return m.themes }
func (m *Memory) Insights() journal.Collection[journal.Insight] { return m.insights }
func (m *Memory) Profiles() journal.Collection[journal.Owner]   { return m.profiles }

// SetFailing makes every subsequent call fail with ErrInjected until reset.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

func (m *Memory) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return ErrInjected
	}
	return nil
}

// RegisterDevice records d for ownerID.
func (m *Memory) RegisterDevice(ctx context.Context, ownerID string, d journal.Device) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[ownerID+"/"+d.InstallationID] = d
	return nil
}

// Devices returns the number of registered devices.
func (m *Memory) Devices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

type memCollection[T any] struct {
	parent *Memory
	keys   func(T) (id, owner string)

	mu    sync.Mutex
	order []string
	items map[string]T
}

func newMemCollection[T any](parent *Memory, keys func(T) (string, string)) *memCollection[T] {
	return &memCollection[T]{parent: parent, keys: keys, items: make(map[string]T)}
}

func (c *memCollection[T]) ListByOwner(ctx context.Context, ownerID string) ([]T, error) {
	if err := c.parent.check(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []T
	for _, id := range c.order {
		item := c.items[id]
		if _, owner := c.keys(item); owner == ownerID {
			out = append(out, item)
		}
	}
	return out, nil
}

// Insert upserts item; replaying an insert is harmless.
func (c *memCollection[T]) Insert(ctx context.Context, item T) error {
	if err := c.parent.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id, _ := c.keys(item)
	if _, ok := c.items[id]; !ok {
		c.order = append(c.order, id)
	}
	c.items[id] = item
	return nil
}

func (c *memCollection[T]) Update(ctx context.Context, id string, fields journal.Fields) error {
	if err := c.parent.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, err := ApplyFields(cur, fields)
	if err != nil {
		return err
	}
	c.items[id] = next
	return nil
}

// Delete removes id. Deleting an absent id succeeds.
func (c *memCollection[T]) Delete(ctx context.Context, id string) error {
	if err := c.parent.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[id]; !ok {
		return nil
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// ApplyFields merges partial fields, keyed by JSON name, into a copy of item.
func ApplyFields[T any](item T, fields journal.Fields) (T, error) {
	var out T
	raw, err := json.Marshal(item)
	if err != nil {
		return out, fmt.Errorf("encode entity: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return out, fmt.Errorf("decode entity: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	raw, err = json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("apply fields: %w", err)
	}
	return out, nil
}
