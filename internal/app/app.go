// Package app assembles a journal client from configuration: the local
// snapshot store, the remote adapter, the chat partner, metrics and the
// background workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/ai"
	"github.com/hyperengineering/jukutatsu/internal/config"
	"github.com/hyperengineering/jukutatsu/internal/localstore"
	"github.com/hyperengineering/jukutatsu/internal/metrics"
	"github.com/hyperengineering/jukutatsu/internal/remote"
	"github.com/hyperengineering/jukutatsu/internal/remote/httpremote"
	"github.com/hyperengineering/jukutatsu/internal/remote/supabase"
	"github.com/hyperengineering/jukutatsu/internal/worker"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/prometheus/client_golang/prometheus"
)

// Platform is reported when registering this installation for reminders.
const Platform = "cli"

// ErrNoAI is returned by Chat when no chat partner is configured.
var ErrNoAI = errors.New("no AI provider configured")

// ErrNoRegistrar is returned when the remote cannot register devices.
var ErrNoRegistrar = errors.New("remote does not support device registration")

// App is a running journal client.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	local     *localstore.Store
	store     *journal.Store
	remote    journal.Remote
	registrar journal.DeviceRegistrar
	partner   journal.Collaborator
	chat      *journal.Chat
	closers   []io.Closer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option overrides a component built from configuration.
type Option func(*options)

type options struct {
	remote   journal.Remote
	partner  journal.Collaborator
	registry *prometheus.Registry
}

// WithRemote replaces the configured remote adapter.
func WithRemote(r journal.Remote) Option {
	return func(o *options) { o.remote = r }
}

// WithCollaborator replaces the configured chat partner.
func WithCollaborator(c journal.Collaborator) Option {
	return func(o *options) { o.partner = c }
}

func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// Open builds the client and loads the local snapshot. Background work does
// not start until Start is called.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	a := &App{cfg: cfg, logger: logger, registry: o.registry}

	backend, err := localstore.Open(cfg.Local.Driver, cfg.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	a.local = localstore.New(backend, cfg.Local.Key)
	logger.Debug("local store opened", "component", "app", "driver", cfg.Local.Driver, "path", cfg.Local.Path)

	a.remote = o.remote
	if a.remote == nil {
		if a.remote, err = newRemote(cfg.Remote, logger); err != nil {
			a.local.Close()
			return nil, err
		}
	}
	if reg, ok := a.remote.(journal.DeviceRegistrar); ok {
		a.registrar = reg
	}

	a.partner = o.partner
	if a.partner == nil {
		partner, closer, err := newCollaborator(ctx, cfg.AI)
		if err != nil {
			a.local.Close()
			return nil, err
		}
		a.partner = partner
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}

	storeOpts := []journal.Option{
		journal.WithLogger(logger),
		journal.WithObserver(metrics.NewReplication(a.registry)),
	}
	if a.remote != nil {
		storeOpts = append(storeOpts, journal.WithRemote(a.remote))
	}
	a.store, err = journal.Open(ctx, a.local, storeOpts...)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if a.partner != nil {
		a.chat = journal.NewChat(a.store, a.partner, logger)
	}
	return a, nil
}

// newRemote builds the adapter named by cfg.Driver, wrapped in a circuit
// breaker when enabled. RemoteNone yields a nil remote.
func newRemote(cfg config.RemoteConfig, logger *slog.Logger) (journal.Remote, error) {
	var inner journal.Remote
	switch cfg.Driver {
	case "", config.RemoteNone:
		return nil, nil
	case config.RemoteMemory:
		inner = remote.NewMemory()
	case config.RemoteHTTP:
		inner = httpremote.New(cfg.URL, cfg.APIKey, cfg.Timeout.Std())
	case config.RemoteSupabase:
		sb, err := supabase.New(cfg.URL, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("open supabase remote: %w", err)
		}
		inner = sb
	default:
		return nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
	}
	if !cfg.Breaker {
		return inner, nil
	}
	return remote.NewBreaker(inner, remote.DefaultBreakerConfig(cfg.Driver), logger), nil
}

// newCollaborator builds the chat partner. AINone yields nil.
func newCollaborator(ctx context.Context, cfg config.AIConfig) (journal.Collaborator, io.Closer, error) {
	switch cfg.Provider {
	case "", config.AINone:
		return nil, nil, nil
	case config.AIOpenAI:
		return ai.NewOpenAI(cfg.OpenAIKey, cfg.Model), nil, nil
	case config.AIGemini:
		g, err := ai.NewGemini(ctx, cfg.GeminiKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	}
	return nil, nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
}

// Store returns the journal store.
func (a *App) Store() *journal.Store { return a.store }

// Config returns the configuration the client was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Registry returns the metrics registry the client reports to.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Online reports whether a remote is configured.
func (a *App) Online() bool { return a.remote != nil }

// Chat returns the chat accumulator, or ErrNoAI.
func (a *App) Chat() (*journal.Chat, error) {
	if a.chat == nil {
		return nil, ErrNoAI
	}
	return a.chat, nil
}

// Start launches the boot resync and the background workers. Workers stop
// when ctx is cancelled or Close is called.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.store.Boot() {
		a.logger.Info("boot resync started", "component", "app")
	}
	if a.remote == nil {
		return
	}

	rc := a.cfg.Replication
	retry := worker.NewReplicationRetryWorker(a.store, rc.RetryInterval.Std(), rc.MaxAttempts, rc.BatchSize)
	a.startWorker(ctx, "replication-retry", retry.Run)

	if rc.ResyncInterval > 0 {
		resync := worker.NewResyncWorker(a.store, rc.ResyncInterval.Std())
		a.startWorker(ctx, "resync", resync.Run)
	}
}

func (a *App) startWorker(ctx context.Context, name string, fn func(ctx context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Debug("worker started", "worker", name)
		fn(ctx)
		a.logger.Debug("worker stopped", "worker", name)
	}()
}

// Login establishes the owner and, when reminders are enabled, registers
// this installation with the remote. Registration failures are logged and
// do not undo the login.
func (a *App) Login(ctx context.Context, m journal.EstablishOwner) (journal.Snapshot, journal.Outcome) {
	snap, out := a.store.Apply(m)
	if out.Applied {
		a.registerIfEnabled(ctx, snap)
	}
	return snap, out
}

// UpdatePreferences applies m and registers the device if reminders were
// just enabled.
func (a *App) UpdatePreferences(ctx context.Context, m journal.UpdateOwnerPreferences) (journal.Snapshot, journal.Outcome) {
	before := a.store.Snapshot().Owner.NotificationFrequency
	snap, out := a.store.Apply(m)
	if out.Applied && before != snap.Owner.NotificationFrequency {
		a.registerIfEnabled(ctx, snap)
	}
	return snap, out
}

func (a *App) registerIfEnabled(ctx context.Context, snap journal.Snapshot) {
	if snap.Owner.NotificationFrequency == "" || snap.Owner.NotificationFrequency == journal.FrequencyNone {
		return
	}
	if err := a.RegisterDevice(ctx); err != nil && !errors.Is(err, ErrNoRegistrar) {
		a.logger.Warn("device registration failed",
			"component", "app",
			"action", "register_device",
			"error", err,
		)
	}
}

// RegisterDevice registers this installation for the current owner.
func (a *App) RegisterDevice(ctx context.Context) error {
	if a.registrar == nil {
		return ErrNoRegistrar
	}
	snap := a.store.Snapshot()
	if !snap.Owner.Established() {
		return journal.ErrNoOwner
	}
	d := journal.Device{
		InstallationID: snap.InstallationID,
		Platform:       Platform,
		RegisteredAt:   time.Now().UTC(),
	}
	if err := a.registrar.RegisterDevice(ctx, snap.Owner.ID, d); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	a.logger.Info("device registered",
		"component", "app",
		"action", "register_device",
		"installation_id", d.InstallationID,
	)
	return nil
}

// Settle waits for in-flight replication, bounded by the remote timeout.
func (a *App) Settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Remote.Timeout.Std())
	defer cancel()
	return a.store.Wait(ctx)
}

// Close stops the workers, closes the store and releases every resource.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local store: %w", err))
	}
	return errors.Join(errs...)
}
