package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// Outcome describes how Store.Apply handled a mutation.
type Outcome struct {
	Applied  bool
	Err      error
	EntityID string
	Unlocked []AchievementID
}

// Health reports the state of the store's durability and replication.
type Health struct {
	LocalOK   bool   `json:"local_ok"`
	LastError string `json:"last_error,omitempty"`
	Pending   int    `json:"pending"`
	Stalled   int    `json:"stalled"`
	Online    bool   `json:"online"`
}

// Store owns the canonical snapshot. Mutations are applied one at a time,
// persisted write-through, and replicated to the remote store in the
// background. Local state is authoritative: a failed replication never rolls
// back a mutation, it leaves the change in the outbox.
type Store struct {
	local    Persister
	remote   Remote
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	snap     Snapshot
	inFlight map[string]bool
	lastErr  error
	loadErr  error
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithRemote enables replication to r. Without a remote the store runs
// offline and changes accumulate in the outbox.
func WithRemote(r Remote) Option {
	return func(s *Store) { s.remote = r }
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the id generator.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// Open loads the persisted snapshot and returns a ready store. A missing or
// corrupt blob yields the default snapshot. When the persister cannot be read
// at all the store also starts from defaults, but it never writes to the
// persister in that state so the stored blob is left intact.
func Open(ctx context.Context, local Persister, opts ...Option) (*Store, error) {
	if local == nil {
		return nil, errors.New("local persister is required")
	}
	s := &Store{
		local:    local,
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return ulid.Make().String() },
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "journal")
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.snap = s.load(ctx)
	if s.snap.InstallationID == "" {
		s.snap.InstallationID = uuid.NewString()
		if s.loadErr == nil {
			s.persistLocked()
		}
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) Snapshot {
	blob, err := s.local.Load(ctx)
	if err != nil {
		s.loadErr = err
		s.lastErr = fmt.Errorf("%w: %w", ErrNotLoaded, err)
		s.logger.Error("failed to load snapshot, starting empty without persisting", "action", "load", "error", err)
		return NewSnapshot()
	}
	if len(blob) == 0 {
		return NewSnapshot()
	}
	snap, err := DecodeSnapshot(blob)
	if err != nil {
		s.logger.Error("discarding unreadable snapshot", "action", "load", "error", err)
		return NewSnapshot()
	}
	s.logger.Info("snapshot loaded",
		"action", "load",
		"themes", len(snap.Themes),
		"insights", len(snap.Insights),
		"pending", len(snap.Outbox),
	)
	return snap
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Apply reduces m against the current snapshot. The returned snapshot
// already reflects the mutation; replication happens afterwards.
func (s *Store) Apply(m Mutation) (Snapshot, Outcome) {
	s.mu.Lock()
	if s.closed {
		snap := s.snap.Clone()
		s.mu.Unlock()
		return snap, Outcome{Err: ErrStoreClosed}
	}

	res := Reduce(s.snap, m, Env{Now: s.now(), NewID: s.newID})
	if !res.Applied {
		snap := s.snap.Clone()
		s.mu.Unlock()
		s.logRejected(m, res.Err)
		return snap, Outcome{Err: res.Err}
	}

	s.snap = res.Snapshot
	s.persistLocked()
	dispatch := s.claimLocked(res.Changes)
	s.wg.Add(len(dispatch))
	pending := len(s.snap.Outbox)
	snap := s.snap.Clone()
	s.mu.Unlock()

	for _, id := range res.Unlocked {
		s.logger.Info("achievement unlocked", "achievement", id)
	}
	if len(res.Changes) > 0 {
		s.observer.PendingChanged(pending)
	}
	for _, ch := range dispatch {
		go func(ch PendingChange) {
			defer s.wg.Done()
			_ = s.replicate(s.ctx, ch)
		}(ch)
	}

	return snap, Outcome{
		Applied:  true,
		EntityID: res.EntityID,
		Unlocked: res.Unlocked,
	}
}

func (s *Store) logRejected(m Mutation, err error) {
	if errors.Is(err, ErrStaleExchange) || errors.Is(err, ErrAlreadyLinked) {
		s.logger.Debug("mutation ignored", "mutation", m.Kind(), "reason", err)
		return
	}
	s.logger.Warn("mutation rejected", "mutation", m.Kind(), "reason", err)
}

// claimLocked marks changes in flight when a remote is configured and
// returns the ones to dispatch.
func (s *Store) claimLocked(changes []PendingChange) []PendingChange {
	if s.remote == nil {
		return nil
	}
	out := make([]PendingChange, 0, len(changes))
	for _, ch := range changes {
		s.inFlight[ch.ID] = true
		out = append(out, ch)
	}
	return out
}

func (s *Store) persistLocked() {
	if s.loadErr != nil {
		s.lastErr = fmt.Errorf("%w: %w", ErrNotLoaded, s.loadErr)
		s.logger.Warn("snapshot not persisted", "action", "persist", "error", s.lastErr)
		return
	}
	blob, err := EncodeSnapshot(s.snap, s.now())
	if err == nil {
		err = s.local.Save(context.Background(), blob)
	}
	if err != nil {
		s.lastErr = err
		s.logger.Warn("failed to persist snapshot", "action", "persist", "error", err)
		return
	}
	s.lastErr = nil
}

// replicate sends one change and reconciles the outcome. The caller must
// have marked the change in flight.
func (s *Store) replicate(ctx context.Context, ch PendingChange) error {
	s.mu.Lock()
	item, ok := s.payloadLocked(ch)
	s.mu.Unlock()

	if !ok {
		s.logger.Info("dropping change for deleted entity",
			"action", "replicate",
			"kind", ch.Kind,
			"entity_id", ch.EntityID,
			"op", ch.Op,
		)
		s.complete(ch.ID, nil, true)
		return nil
	}

	err := s.send(ctx, ch, item)
	s.complete(ch.ID, err, false)
	return err
}

// payloadLocked re-reads the entity a change refers to. Deletes need no
// payload. It reports false when the entity no longer exists.
func (s *Store) payloadLocked(ch PendingChange) (any, bool) {
	if ch.Op == OpDelete {
		return nil, true
	}
	switch ch.Kind {
	case KindTheme:
		return s.snap.Theme(ch.EntityID)
	case KindInsight:
		ins, ok := s.snap.Insight(ch.EntityID)
		ins.LinkedToIDs = ins.LinkedToIDs.Clone()
		return ins, ok
	case KindProfile:
		return s.snap.Owner, s.snap.Owner.ID == ch.EntityID
	}
	return nil, false
}

func (s *Store) send(ctx context.Context, ch PendingChange, item any) error {
	switch ch.Kind {
	case KindTheme:
		t, _ := item.(Theme)
		return sendChange(ctx, s.remote.Themes(), ch, t)
	case KindInsight:
		i, _ := item.(Insight)
		return sendChange(ctx, s.remote.Insights(), ch, i)
	case KindProfile:
		o, _ := item.(Owner)
		return sendChange(ctx, s.remote.Profiles(), ch, o)
	}
	return fmt.Errorf("unknown entity kind %q", ch.Kind)
}

func sendChange[T any](ctx context.Context, c Collection[T], ch PendingChange, item T) error {
	switch ch.Op {
	case OpInsert:
		return c.Insert(ctx, item)
	case OpUpdate:
		return c.Update(ctx, ch.EntityID, ch.Fields)
	case OpDelete:
		return c.Delete(ctx, ch.EntityID)
	}
	return fmt.Errorf("unknown change op %q", ch.Op)
}

// complete reconciles a finished replication attempt. The change may have
// been removed while the call was outstanding, in which case nothing happens.
func (s *Store) complete(changeID string, sendErr error, dropped bool) {
	s.mu.Lock()
	delete(s.inFlight, changeID)
	i := slices.IndexFunc(s.snap.Outbox, func(c PendingChange) bool { return c.ID == changeID })
	if i < 0 {
		s.mu.Unlock()
		return
	}

	ch := s.snap.Outbox[i]
	if sendErr == nil {
		s.snap.Outbox = slices.Delete(s.snap.Outbox, i, i+1)
	} else {
		s.snap.Outbox[i].Attempts++
		s.snap.Outbox[i].LastError = sendErr.Error()
		ch = s.snap.Outbox[i]
	}
	s.persistLocked()
	pending := len(s.snap.Outbox)
	s.mu.Unlock()

	switch {
	case dropped:
	case sendErr != nil:
		s.logger.Warn("replication failed, change kept pending",
			"action", "replicate",
			"kind", ch.Kind,
			"entity_id", ch.EntityID,
			"op", ch.Op,
			"attempts", ch.Attempts,
			"error", sendErr,
		)
		s.observer.ReplicationFailed(ch, sendErr)
	default:
		s.logger.Debug("change replicated", "kind", ch.Kind, "entity_id", ch.EntityID, "op", ch.Op)
		s.observer.ReplicationSucceeded(ch)
	}
	s.observer.PendingChanged(pending)
}

// PendingChanges returns up to limit changes that are neither stalled nor
// currently being replicated, oldest first. A limit <= 0 returns all.
func (s *Store) PendingChanges(limit int) []PendingChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PendingChange
	for _, ch := range s.snap.Outbox {
		if ch.Stalled || s.inFlight[ch.ID] {
			continue
		}
		ch.Fields = cloneFields(ch.Fields)
		out = append(out, ch)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ReplayChange synchronously retries one pending change.
func (s *Store) ReplayChange(ctx context.Context, changeID string) error {
	s.mu.Lock()
	if s.remote == nil {
		s.mu.Unlock()
		return ErrOffline
	}
	i := slices.IndexFunc(s.snap.Outbox, func(c PendingChange) bool { return c.ID == changeID })
	if i < 0 {
		s.mu.Unlock()
		return ErrChangeNotFound
	}
	if s.inFlight[changeID] {
		s.mu.Unlock()
		return ErrChangeInFlight
	}
	s.inFlight[changeID] = true
	ch := s.snap.Outbox[i]
	s.mu.Unlock()

	if err := s.replicate(ctx, ch); err != nil {
		return fmt.Errorf("replay %s %s: %w", ch.Kind, ch.EntityID, err)
	}
	return nil
}

// MarkChangeStalled stops automatic retries of a change. The change stays
// in the outbox so the entity remains flagged as pending.
func (s *Store) MarkChangeStalled(changeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.snap.Outbox, func(c PendingChange) bool { return c.ID == changeID })
	if i < 0 {
		return ErrChangeNotFound
	}
	s.snap.Outbox[i].Stalled = true
	s.persistLocked()
	ch := s.snap.Outbox[i]
	s.logger.Error("replication stalled",
		"kind", ch.Kind,
		"entity_id", ch.EntityID,
		"op", ch.Op,
		"attempts", ch.Attempts,
		"last_error", ch.LastError,
	)
	return nil
}

// Resync fetches the owner's themes and insights and merges them into the
// local snapshot. It does not evaluate achievements.
func (s *Store) Resync(ctx context.Context) (ResyncStats, error) {
	s.mu.Lock()
	owner := s.snap.Owner
	closed := s.closed
	s.mu.Unlock()

	switch {
	case closed:
		return ResyncStats{}, ErrStoreClosed
	case s.remote == nil:
		return ResyncStats{}, ErrOffline
	case !owner.Established():
		return ResyncStats{}, ErrNoOwner
	}

	var themes []Theme
	var insights []Insight
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		themes, err = s.remote.Themes().ListByOwner(gctx, owner.ID)
		if err != nil {
			return fmt.Errorf("list themes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		insights, err = s.remote.Insights().ListByOwner(gctx, owner.ID)
		if err != nil {
			return fmt.Errorf("list insights: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("resync failed", "action", "resync", "error", err)
		return ResyncStats{}, fmt.Errorf("resync: %w", err)
	}

	s.mu.Lock()
	if s.snap.Owner.ID != owner.ID {
		s.mu.Unlock()
		return ResyncStats{}, fmt.Errorf("resync: %w", ErrOwnerMismatch)
	}
	next, stats := mergeRemote(s.snap, themes, insights)
	s.snap = next
	s.persistLocked()
	s.mu.Unlock()

	total := stats.Total()
	s.logger.Info("resync complete",
		"action", "resync",
		"pulled", total.Pulled,
		"added", total.Added,
		"replaced", total.Replaced,
		"kept", total.Kept,
		"skipped", total.Skipped,
		"links_repaired", stats.LinksRepaired,
	)
	return stats, nil
}

// Boot starts the initial background resync when a logged-in owner and a
// remote are present. It reports whether a resync was started.
func (s *Store) Boot() bool {
	s.mu.Lock()
	owner := s.snap.Owner
	if s.closed || s.remote == nil || !owner.Established() || !owner.LoggedIn {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		_, _ = s.Resync(s.ctx)
	}()
	return true
}

// Wait blocks until all background replication and resync work finished or
// ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health reports persistence and replication state.
func (s *Store) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := Health{LocalOK: s.lastErr == nil, Online: s.remote != nil, Pending: len(s.snap.Outbox)}
	if s.lastErr != nil {
		h.LastError = s.lastErr.Error()
	}
	for _, ch := range s.snap.Outbox {
		if ch.Stalled {
			h.Stalled++
		}
	}
	return h
}

// Close cancels outstanding replication and waits for it to settle. Changes
// that did not complete stay in the outbox. The persister is not closed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}
