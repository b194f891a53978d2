package configstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"oauth-gateway/config"

	log "github.com/sirupsen/logrus"
)

type Options struct {
	// RefreshInterval bounds how long another instance's import stays invisible when no
	// change notification arrives.
	RefreshInterval time.Duration
	// ReadTimeout bounds every backend call.
	ReadTimeout time.Duration
	// MaxStaleness is the snapshot age after which Get fails with ErrUnavailable.
	// Zero disables the check.
	MaxStaleness time.Duration
}

// OptionsFromSettings maps the environment settings onto Options.
func OptionsFromSettings(s config.SettingsAuthConfig) Options {
	return Options{
		RefreshInterval: s.RefreshInterval,
		ReadTimeout:     s.ReadTimeout,
		MaxStaleness:    s.MaxStaleness,
	}
}

// Snapshot is an immutable view of the configuration. It is replaced, never modified.
type Snapshot struct {
	Document *config.Document
	Auth     config.AuthConfig
	LoadedAt time.Time
	Revision uint64
}

// Store serves the configuration to concurrent readers. Reads are a single atomic load and
// never wait for a refresh or an import; writers are serialized among themselves.
type Store struct {
	backend Backend
	opts    Options

	current  atomic.Pointer[Snapshot]
	revision atomic.Uint64
	writeMu  sync.Mutex
	trigger  chan struct{}
	now      func() time.Time
}

func New(backend Backend, opts Options) *Store {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	return &Store{
		backend: backend,
		opts:    opts,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Get returns the current auth configuration. The returned value shares memory with the
// snapshot and must not be modified.
func (s *Store) Get() (config.AuthConfig, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return config.AuthConfig{}, err
	}
	return snap.Auth, nil
}

// Snapshot returns the current snapshot or ErrUnavailable when none was loaded yet or it
// is older than MaxStaleness.
func (s *Store) Snapshot() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: not loaded", ErrUnavailable)
	}
	if s.opts.MaxStaleness > 0 {
		if age := s.now().Sub(snap.LoadedAt); age > s.opts.MaxStaleness {
			return nil, fmt.Errorf("%w: snapshot is %s old", ErrUnavailable, age.Round(time.Millisecond))
		}
	}
	return snap, nil
}

// Refresh reloads the document from the backend and swaps the snapshot.
// An empty backend yields an empty document, i.e. oauth disabled.
func (s *Store) Refresh(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.load(ctx)
	if errors.Is(err, ErrNotFound) {
		doc, err = &config.Document{}, nil
	}
	if err != nil {
		return unavailable(err)
	}
	s.swap(doc)
	return nil
}

// Export returns the authoritative document from the backend.
func (s *Store) Export(ctx context.Context) (*config.Document, error) {
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	snap := s.current.Load()
	return snap.Document.Clone(), nil
}

// Import replaces the stored document and makes it visible to this instance at once.
// The oauth section is stored even when it is not usable; such a section is treated as
// disabled by readers.
func (s *Store) Import(ctx context.Context, doc *config.Document) (*config.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: missing config", config.ErrInvalidDocument)
	}
	auth := doc.Auth()
	if auth.Enabled {
		if err := auth.Validate(); err != nil {
			log.WithError(err).Warn("imported oauth config is not usable, oauth will stay disabled")
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
	defer cancel()
	if err := s.backend.Save(ctx, doc); err != nil {
		return nil, unavailable(err)
	}
	snap := s.swap(doc)
	return snap.Document.Clone(), nil
}

// SeedIfEmpty imports doc when the backend holds no configuration yet.
func (s *Store) SeedIfEmpty(ctx context.Context, doc *config.Document) error {
	if doc == nil {
		return nil
	}
	_, err := s.load(ctx)
	if errors.Is(err, ErrNotFound) {
		log.Info("auth config backend is empty, seeding initial config")
		_, err = s.Import(ctx, doc)
		return err
	}
	return err
}

// Start loads the initial snapshot and keeps it fresh until ctx is done.
// A failed initial load is logged only; readers fail closed until a refresh succeeds.
func (s *Store) Start(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial auth config load failed")
	}
	go s.Run(ctx)
}

// Run refreshes the snapshot every RefreshInterval and whenever the backend reports a
// change. It returns when ctx is done.
func (s *Store) Run(ctx context.Context) {
	if watcher, ok := s.backend.(Watcher); ok {
		go s.watch(ctx, watcher)
	}
	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("auth config refresh failed, keeping previous snapshot")
		}
	}
}

// Changed requests an immediate refresh from the Run loop without blocking.
func (s *Store) Changed() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Store) watch(ctx context.Context, watcher Watcher) {
	for {
		err := watcher.Watch(ctx, s.Changed)
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("auth config change notifications stopped, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.RefreshInterval):
		}
	}
}

// load calls the backend bounded by ReadTimeout, even if the backend ignores ctx.
func (s *Store) load(ctx context.Context) (*config.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
	defer cancel()

	type result struct {
		doc *config.Document
		err error
	}
	done := make(chan result, 1)
	go func() {
		doc, err := s.backend.Load(ctx)
		done <- result{doc, err}
	}()
	select {
	case r := <-done:
		return r.doc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) swap(doc *config.Document) *Snapshot {
	snap := &Snapshot{
		Document: doc.Clone(),
		Auth:     doc.Auth(),
		LoadedAt: s.now(),
		Revision: s.revision.Add(1),
	}
	previous := s.current.Swap(snap)
	if previous == nil || previous.Auth.Enabled != snap.Auth.Enabled || previous.Auth.SilentLogin != snap.Auth.SilentLogin {
		log.WithFields(log.Fields{
			"revision":     snap.Revision,
			"oauth":        snap.Auth.Enabled,
			"silent_login": snap.Auth.SilentLogin,
			"usable":       snap.Auth.Usable(),
		}).Info("auth config updated")
	}
	return snap
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, config.ErrInvalidDocument) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
