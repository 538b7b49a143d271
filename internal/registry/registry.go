// Package registry maps configuration identifiers to their workflow sessions.
//
// The set of known configurations comes from a Store (the configuration
// directory). Sessions are created lazily on first access and live until the
// configuration is removed or the registry is shut down, so output and state
// survive page reloads and reconnects.
//
// The registry lock only guards the id -> session map. It is never held
// while calling into a session, so one slow session cannot stall lookups of
// another.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mdde/genesisweb/internal/runner"
	"github.com/mdde/genesisweb/internal/stream"
)

// ErrUnknownSession is returned for identifiers that match no configuration.
var ErrUnknownSession = errors.New("unknown session")

// Store lists and resolves configurations. Implemented by configstore.Store.
type Store interface {
	// Names returns the identifiers of all known configurations.
	Names() ([]string, error)
	// Resolve returns the path of the configuration with identifier name.
	Resolve(name string) (string, error)
}

// Factory builds the session for a configuration.
type Factory func(id, path string) *runner.Session

// Registry owns every session of the process.
type Registry struct {
	store   Store
	factory Factory
	pub     *stream.Publisher

	mu       sync.Mutex
	sessions map[string]*runner.Session
}

// New creates an empty registry. A nil publisher uses stream defaults.
func New(store Store, factory Factory, pub *stream.Publisher) *Registry {
	if pub == nil {
		pub = stream.New(0)
	}
	return &Registry{
		store:    store,
		factory:  factory,
		pub:      pub,
		sessions: make(map[string]*runner.Session),
	}
}

// Get returns the session for id, creating it when id names a known
// configuration.
func (r *Registry) Get(id string) (*runner.Session, error) {
	if s, ok := r.Lookup(id); ok {
		return s, nil
	}

	// Resolve outside the lock: it touches the filesystem.
	path, err := r.store.Resolve(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownSession, id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	s := r.factory(id, path)
	r.sessions[id] = s
	slog.Debug("session created", "session", id, "path", path)
	return s, nil
}

// Lookup returns an existing session without creating one.
func (r *Registry) Lookup(id string) (*runner.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove stops and discards the session for id. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("closing session %s: %w", id, err)
	}
	slog.Debug("session removed", "session", id)
	return nil
}

// List returns all sessions sorted by id.
func (r *Registry) List() []*runner.Session {
	r.mu.Lock()
	out := make([]*runner.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Scan creates sessions for every configuration in the store and discards
// idle sessions whose configuration disappeared. Live sessions are kept.
func (r *Registry) Scan() error {
	names, err := r.store.Names()
	if err != nil {
		return fmt.Errorf("scanning configurations: %w", err)
	}
	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
		if _, err := r.Get(name); err != nil {
			// Deleted between listing and resolving.
			if errors.Is(err, ErrUnknownSession) {
				continue
			}
			return err
		}
	}

	for _, s := range r.List() {
		if known[s.ID()] || s.Status().State.Live() {
			continue
		}
		if err := r.Remove(s.ID()); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the workflow for id.
func (r *Registry) Start(id string) (runner.Snapshot, error) {
	s, err := r.Get(id)
	if err != nil {
		return runner.Snapshot{}, err
	}
	err = s.Start()
	return s.Status(), err
}

// Stop terminates the workflow for id.
func (r *Registry) Stop(id string) (runner.Snapshot, error) {
	s, err := r.Get(id)
	if err != nil {
		return runner.Snapshot{}, err
	}
	err = s.Stop()
	return s.Status(), err
}

// Status reports the state of id.
func (r *Registry) Status(id string) (runner.Snapshot, error) {
	s, err := r.Get(id)
	if err != nil {
		return runner.Snapshot{}, err
	}
	return s.Status(), nil
}

// Subscribe streams the output of id from cursor c.
func (r *Registry) Subscribe(ctx context.Context, id string, c stream.Cursor) (<-chan stream.Event, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return r.pub.SubscribeFrom(ctx, s, c), nil
}

// SendInput answers the pending prompt of id with text.
func (r *Registry) SendInput(id, text string) (runner.Snapshot, error) {
	s, err := r.Get(id)
	if err != nil {
		return runner.Snapshot{}, err
	}
	err = s.Answer(text)
	return s.Status(), err
}

// StopAll stops every live run concurrently and waits for all of them.
func (r *Registry) StopAll() {
	var wg sync.WaitGroup
	for _, s := range r.List() {
		if !s.Status().State.Live() {
			continue
		}
		wg.Add(1)
		go func(s *runner.Session) {
			defer wg.Done()
			if err := s.Stop(); err != nil {
				slog.Warn("stopping session", "session", s.ID(), "err", err)
			}
		}(s)
	}
	wg.Wait()
}
