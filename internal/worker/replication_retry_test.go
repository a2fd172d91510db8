package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/remote"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
)

// --- Mock Implementations ---

type mockChangeStore struct {
	mu           sync.Mutex
	pending      []journal.PendingChange
	replayErr    map[string]error
	replayCalls  []string
	stalledCalls []string
	lastLimit    int
}

func (m *mockChangeStore) PendingChanges(limit int) []journal.PendingChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if limit > len(m.pending) {
		limit = len(m.pending)
	}
	return append([]journal.PendingChange(nil), m.pending[:limit]...)
}

func (m *mockChangeStore) ReplayChange(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayCalls = append(m.replayCalls, id)
	if err := m.replayErr[id]; err != nil {
		for i := range m.pending {
			if m.pending[i].ID == id {
				m.pending[i].Attempts++
			}
		}
		return err
	}
	m.remove(id)
	return nil
}

func (m *mockChangeStore) MarkChangeStalled(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stalledCalls = append(m.stalledCalls, id)
	m.remove(id)
	return nil
}

func (m *mockChangeStore) remove(id string) {
	for i, ch := range m.pending {
		if ch.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func change(id string, attempts int) journal.PendingChange {
	return journal.PendingChange{ID: id, Kind: journal.KindInsight, EntityID: "e-" + id, Op: journal.OpUpdate, Attempts: attempts}
}

func TestReplicationRetry_ReplaysPending(t *testing.T) {
	s := &mockChangeStore{pending: []journal.PendingChange{change("c1", 1), change("c2", 2)}}
	w := NewReplicationRetryWorker(s, time.Minute, 5, 10)

	stats := w.RunOnce(context.Background())
	if stats.Replayed != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(s.pending) != 0 || s.lastLimit != 10 {
		t.Errorf("pending = %v, limit = %d", s.pending, s.lastLimit)
	}
}

func TestReplicationRetry_StallsAfterMaxAttempts(t *testing.T) {
	s := &mockChangeStore{
		pending:   []journal.PendingChange{change("c1", 2)},
		replayErr: map[string]error{"c1": errors.New("503")},
	}
	w := NewReplicationRetryWorker(s, time.Minute, 3, 10)

	if stats := w.RunOnce(context.Background()); stats.Failed != 1 {
		t.Fatalf("first pass = %+v", stats)
	}
	stats := w.RunOnce(context.Background())
	if stats.Stalled != 1 || len(s.stalledCalls) != 1 || s.stalledCalls[0] != "c1" {
		t.Errorf("second pass = %+v, stalled = %v", stats, s.stalledCalls)
	}
	if len(s.replayCalls) != 1 {
		t.Errorf("replayed a change past its attempt budget: %v", s.replayCalls)
	}
}

func TestReplicationRetry_BenignErrors(t *testing.T) {
	s := &mockChangeStore{
		pending: []journal.PendingChange{change("gone", 0), change("busy", 0), change("ok", 0)},
		replayErr: map[string]error{
			"gone": journal.ErrChangeNotFound,
			"busy": journal.ErrChangeInFlight,
		},
	}
	stats := NewReplicationRetryWorker(s, time.Minute, 3, 10).RunOnce(context.Background())
	if stats.Failed != 0 || stats.Replayed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestReplicationRetry_StopsWhenOffline(t *testing.T) {
	s := &mockChangeStore{
		pending:   []journal.PendingChange{change("c1", 0), change("c2", 0)},
		replayErr: map[string]error{"c1": journal.ErrOffline},
	}
	NewReplicationRetryWorker(s, time.Minute, 3, 10).RunOnce(context.Background())
	if len(s.replayCalls) != 1 {
		t.Errorf("replay calls = %v, want to stop after ErrOffline", s.replayCalls)
	}
}

func TestReplicationRetry_RunStopsOnCancel(t *testing.T) {
	s := &mockChangeStore{pending: []journal.PendingChange{change("c1", 0)}}
	w := NewReplicationRetryWorker(s, 10*time.Millisecond, 3, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.replayCalls)
		s.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never replayed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// The worker drains a real store once the remote comes back.
func TestReplicationRetry_WithStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := remote.NewMemory()
	m.SetFailing(true)
	s, err := journal.Open(ctx, &blobPersister{}, journal.WithRemote(m))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	_, o := s.Apply(journal.EstablishOwner{Name: "Yuki"})
	s.Apply(journal.CreateTheme{OwnerID: o.EntityID, Name: "Piano"})
	if err := s.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Health().Pending != 2 {
		t.Fatalf("pending = %d, want 2", s.Health().Pending)
	}

	m.SetFailing(false)
	stats := NewReplicationRetryWorker(s, time.Minute, 5, 10).RunOnce(ctx)
	if stats.Replayed != 2 || s.Health().Pending != 0 {
		t.Errorf("stats = %+v, pending = %d", stats, s.Health().Pending)
	}
	if themes, _ := m.Themes().ListByOwner(ctx, o.EntityID); len(themes) != 1 {
		t.Errorf("remote themes = %d", len(themes))
	}
}

type blobPersister struct{ blob []byte }

func (p *blobPersister) Load(ctx context.Context) ([]byte, error) { return p.blob, nil }
func (p *blobPersister) Save(ctx context.Context, b []byte) error {
	p.blob = b
	return nil
}
