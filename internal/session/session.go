// Package session owns the client's bearer credential and the derived
// authenticated view of it.
//
// A Manager is created once by the composition root and injected wherever
// session state is read. Malformed, expired or subjectless credentials are
// never reported to callers: the session silently becomes unauthenticated.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/docchat/internal/store"
	"github.com/ashureev/docchat/internal/token"
)

var errNoSubject = errors.New("credential has no subject")

// State is a snapshot of the session.
type State struct {
	Credential    string
	Identity      string
	Authenticated bool
	Loading       bool
}

// Manager holds the current credential. It is safe for concurrent use.
type Manager struct {
	store  store.CredentialStore
	now    func() time.Time
	logger *slog.Logger

	initOnce sync.Once

	// persistMu orders store writes with the in-memory updates they mirror.
	// Acquire it before mu.
	persistMu sync.Mutex

	mu         sync.RWMutex
	credential string
	identity   string
	loading    bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager backed by s. The session starts loading
// until Initialize runs.
func NewManager(s store.CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		store:   s,
		now:     time.Now,
		logger:  slog.Default(),
		loading: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads the persisted credential and settles the session. Only
// the first call has any effect; loading is false once it returns.
func (m *Manager) Initialize(ctx context.Context) error {
	var err error
	m.initOnce.Do(func() {
		defer func() {
			m.mu.Lock()
			m.loading = false
			m.mu.Unlock()
		}()

		raw, ok, loadErr := m.store.Load(ctx)
		if loadErr != nil {
			m.logger.Error("Failed to load persisted credential", "error", loadErr)
			err = fmt.Errorf("load credential: %w", loadErr)
			return
		}
		if !ok {
			m.logger.Info("No persisted credential")
			return
		}

		m.persistMu.Lock()
		defer m.persistMu.Unlock()
		m.mu.Lock()
		m.credential = raw
		m.mu.Unlock()
		err = m.settleLocked(ctx)
	})
	return err
}

// Login persists raw and settles the session. An invalid credential leaves
// the session unauthenticated without an error; only store failures are
// returned.
func (m *Manager) Login(ctx context.Context, raw string) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if err := m.store.Save(ctx, raw); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	m.mu.Lock()
	m.credential = raw
	m.identity = ""
	m.mu.Unlock()

	return m.settleLocked(ctx)
}

// Logout forgets the credential. Safe to call repeatedly.
func (m *Manager) Logout(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	had := m.credential != ""
	m.credential = ""
	m.identity = ""
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	if had {
		m.logger.Info("Session logged out")
	}
	return nil
}

// Revalidate re-runs the expiry check on the in-memory credential.
func (m *Manager) Revalidate(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if m.Credential() == "" {
		return nil
	}
	return m.settleLocked(ctx)
}

// settleLocked validates the current credential, discarding it from memory
// and the store if unusable. The caller holds persistMu, so no Login can
// land between the check and the Clear.
func (m *Manager) settleLocked(ctx context.Context) error {
	m.mu.Lock()
	raw := m.credential
	claims, err := token.Validate(raw, m.now())
	if err == nil && !claims.HasSubject() {
		err = errNoSubject
	}
	if err == nil {
		if m.identity != claims.Subject {
			m.logger.Info("Session authenticated", "identity", claims.Subject)
		}
		m.identity = claims.Subject
		m.mu.Unlock()
		return nil
	}

	m.credential = ""
	m.identity = ""
	m.mu.Unlock()

	m.logger.Info("Discarding unusable credential", "reason", err)
	if clearErr := m.store.Clear(ctx); clearErr != nil {
		return fmt.Errorf("discard credential: %w", clearErr)
	}
	return nil
}

// State returns a snapshot of the session.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		Credential:    m.credential,
		Identity:      m.identity,
		Authenticated: m.authenticatedLocked(),
		Loading:       m.loading,
	}
}

// IsAuthenticated reports whether a subject-bearing, unexpired credential
// is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authenticatedLocked()
}

func (m *Manager) authenticatedLocked() bool {
	if m.credential == "" || m.identity == "" {
		return false
	}
	claims, err := token.Validate(m.credential, m.now())
	return err == nil && claims.Subject == m.identity
}

// Identity returns the subject of the current credential, or "".
func (m *Manager) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// Credential returns the raw credential, or "".
func (m *Manager) Credential() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credential
}

// Loading reports whether Initialize has not completed yet.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}
