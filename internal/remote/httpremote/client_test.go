package httpremote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/api"
	"github.com/hyperengineering/jukutatsu/internal/remote"
	"github.com/hyperengineering/jukutatsu/internal/store"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
)

const testKey = "remote-test-key"

func quietLogs(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })
}

// newService starts the real REST service backed by an in-memory database.
func newService(t *testing.T) *httptest.Server {
	t.Helper()
	quietLogs(t)
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(s, testKey, "test"), nil))
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return srv
}

type blobPersister struct{ blob []byte }

func (p *blobPersister) Load(ctx context.Context) ([]byte, error) { return p.blob, nil }
func (p *blobPersister) Save(ctx context.Context, b []byte) error {
	p.blob = b
	return nil
}

func TestClient_CollectionRoundTrip(t *testing.T) {
	srv := newService(t)
	c := New(srv.URL+"/", testKey, time.Second)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	th := journal.Theme{ID: "t1", OwnerID: "u1", Name: "Piano", Goal: "Chopin", CreatedAt: now, UpdatedAt: now}
	if err := c.Themes().Insert(ctx, th); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := c.Themes().Update(ctx, "t1", journal.Fields{"goal": "Liszt", "updated_at": now.Add(time.Hour)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := c.Themes().ListByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(got) != 1 || got[0].Goal != "Liszt" || got[0].Name != "Piano" {
		t.Fatalf("themes = %+v", got)
	}
	if !got[0].UpdatedAt.Equal(now.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v", got[0].UpdatedAt)
	}

	if err := c.Themes().Update(ctx, "missing", journal.Fields{"goal": "x"}); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want remote.ErrNotFound", err)
	}
	if err := c.Themes().Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := c.Themes().Delete(ctx, "t1"); err != nil {
		t.Errorf("Delete() of a missing entity error = %v, want nil", err)
	}

	if err := c.RegisterDevice(ctx, "u1", journal.Device{InstallationID: "inst-1", Platform: "cli"}); err != nil {
		t.Errorf("RegisterDevice() error = %v", err)
	}
}

func TestClient_ErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", time.Second)
	_, err := c.Insights().ListByOwner(context.Background(), "u1")
	if err == nil || !strings.Contains(err.Error(), "unexpected status 500") {
		t.Errorf("ListByOwner() error = %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() against a failing server succeeded")
	}
}

func TestClient_BadKeyRejected(t *testing.T) {
	srv := newService(t)
	c := New(srv.URL, "wrong", time.Second)

	err := c.Themes().Insert(context.Background(), journal.Theme{ID: "t1", OwnerID: "u1"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Insert() error = %v, want 401", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, "k", 50*time.Millisecond)
	if err := c.Themes().Insert(context.Background(), journal.Theme{ID: "t1"}); err == nil {
		t.Error("Insert() did not time out")
	}
}

// Two devices share one service: the second pulls what the first wrote.
func TestClient_ReplicatesBetweenDevices(t *testing.T) {
	srv := newService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := journal.Open(ctx, &blobPersister{}, journal.WithRemote(New(srv.URL, testKey, time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	_, o := first.Apply(journal.EstablishOwner{Name: "Yuki"})
	_, th := first.Apply(journal.CreateTheme{OwnerID: o.EntityID, Name: "Piano", Goal: "Play Chopin"})
	_, i1 := first.Apply(journal.CreateInsight{OwnerID: o.EntityID, ThemeID: th.EntityID, Body: "Relax the wrist"})
	_, i2 := first.Apply(journal.CreateInsight{OwnerID: o.EntityID, ThemeID: th.EntityID, Body: "Practice slowly"})
	if err := first.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	first.Apply(journal.LinkInsights{OwnerID: o.EntityID, A: i1.EntityID, B: i2.EntityID})
	if err := first.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if h := first.Health(); h.Pending != 0 {
		t.Fatalf("first device pending = %d, last error %q", h.Pending, h.LastError)
	}

	second, err := journal.Open(ctx, &blobPersister{}, journal.WithRemote(New(srv.URL, testKey, time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	second.Apply(journal.EstablishOwner{ID: o.EntityID, Name: "Yuki"})
	stats, err := second.Resync(ctx)
	if err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if stats.Themes.Added != 1 || stats.Insights.Added != 2 {
		t.Errorf("stats = %+v", stats)
	}

	snap := second.Snapshot()
	if snap.SelectedThemeID != th.EntityID {
		t.Errorf("selected = %q, want %q", snap.SelectedThemeID, th.EntityID)
	}
	if v := journal.CheckSymmetry(snap.Insights); len(v) != 0 {
		t.Errorf("pulled link graph asymmetric: %v", v)
	}
	pulled, _ := snap.Insight(i1.EntityID)
	if !pulled.LinkedToIDs.Has(i2.EntityID) {
		t.Errorf("link lost in replication: %+v", pulled)
	}
}
