package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// --- Mock Implementations ---

type memPersister struct {
	mu      sync.Mutex
	blob    []byte
	loadErr error
	saveErr error
	saves   int
}

func (p *memPersister) Load(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return p.blob, nil
}

func (p *memPersister) Save(ctx context.Context, blob []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.blob = append([]byte(nil), blob...)
	p.saves++
	return nil
}

func (p *memPersister) snapshot(t *testing.T) Snapshot {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, err := DecodeSnapshot(p.blob)
	if err != nil {
		t.Fatalf("decode persisted snapshot: %v", err)
	}
	return snap
}

var errRemoteDown = errors.New("remote unavailable")

type mockCollection[T any] struct {
	mu      sync.Mutex
	items   []T
	fail    bool
	listErr error
	calls   []string
	idOf    func(T) string
}

func (c *mockCollection[T]) ListByOwner(ctx context.Context, ownerID string) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	return append([]T(nil), c.items...), nil
}

func (c *mockCollection[T]) Insert(ctx context.Context, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "insert:"+c.idOf(item))
	if c.fail {
		return errRemoteDown
	}
	c.items = append(c.items, item)
	return nil
}

func (c *mockCollection[T]) Update(ctx context.Context, id string, fields Fields) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "update:"+id)
	if c.fail {
		return errRemoteDown
	}
	return nil
}

func (c *mockCollection[T]) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "delete:"+id)
	if c.fail {
		return errRemoteDown
	}
	for i, item := range c.items {
		if c.idOf(item) == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	return nil
}

func (c *mockCollection[T]) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

func (c *mockCollection[T]) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type mockRemote struct {
	themes   *mockCollection[Theme]
	insights *mockCollection[Insight]
	profiles *mockCollection[Owner]
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		themes:   &mockCollection[Theme]{idOf: func(t Theme) string { return t.ID }},
		insights: &mockCollection[Insight]{idOf: func(i Insight) string { return i.ID }},
		profiles: &mockCollection[Owner]{idOf: func(o Owner) string { return o.ID }},
	}
}

func (r *mockRemote) Themes() Collection[Theme]     { return r.themes }
func (r *mockRemote) Insights() Collection[Insight] { return r.insights }
func (r *mockRemote) Profiles() Collection[Owner]   { return r.profiles }

func (r *mockRemote) setFail(fail bool) {
	r.themes.setFail(fail)
	r.insights.setFail(fail)
	r.profiles.setFail(fail)
}

// sequence returns a deterministic id generator: id-001, id-002, ...
func sequence() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

// testClock advances one second per call.
func testClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func testEnv() Env {
	return Env{Now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), NewID: sequence()}
}

func openTestStore(t *testing.T, p *memPersister, opts ...Option) *Store {
	t.Helper()
	if p == nil {
		p = &memPersister{}
	}
	opts = append([]Option{WithClock(testClock()), WithIDs(sequence())}, opts...)
	s, err := Open(context.Background(), p, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitIdle(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

// mustApply applies m and fails the test when it is rejected.
func mustApply(t *testing.T, s *Store, m Mutation) (Snapshot, Outcome) {
	t.Helper()
	snap, out := s.Apply(m)
	if !out.Applied {
		t.Fatalf("Apply(%s) rejected: %v", m.Kind(), out.Err)
	}
	return snap, out
}

// seedOwnerTheme establishes an owner and one theme.
func seedOwnerTheme(t *testing.T, s *Store) (ownerID, themeID string) {
	t.Helper()
	_, o := mustApply(t, s, EstablishOwner{Name: "Yuki"})
	_, th := mustApply(t, s, CreateTheme{OwnerID: o.EntityID, Name: "Piano", Goal: "Play Chopin"})
	return o.EntityID, th.EntityID
}
