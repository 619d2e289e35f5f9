// Package session caches wallet linking state per owner identity in a
// persistent key-value store with a time-to-live. The Manager is constructed
// explicitly by the composition root and closed on shutdown; there is no
// package-level instance.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/GoPolymarket/proxy-trader/internal/venue"
)

// DefaultTTL is how long a link session stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// LinkSession is the cached outcome of linking one owner identity. At most
// one live session exists per identity.
type LinkSession struct {
	Owner         string
	ProxyAddress  string
	Credentials   venue.Credentials
	IsDeployed    bool
	HasAllowances bool
	CreatedAt     time.Time
}

// Config configures a Manager.
type Config struct {
	// DataDir is the directory holding the store. Empty means in-memory,
	// which tests use.
	DataDir string
	// TTL overrides DefaultTTL when positive.
	TTL    time.Duration
	Logger *zap.Logger
}

// Manager owns the session store. Load applies the TTL lazily: expired
// entries are treated as absent and removed on read, so no background sweeper
// runs.
type Manager struct {
	store *badgerhold.Store
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// NewManager opens the store. Callers must Close it.
func NewManager(cfg Config) (*Manager, error) {
	inMemory := cfg.DataDir == ""

	var dir string
	if !inMemory {
		dir = filepath.Join(cfg.DataDir, "sessions")
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if inMemory {
		opts.InMemory = true
	}

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder: badgerhold.DefaultEncode,
		Decoder: badgerhold.DefaultDecode,
		Options: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("session: open store: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, ttl: ttl, log: log, now: time.Now}, nil
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Load returns the live session for an owner, or nil when none exists.
// Entries older than the TTL are deleted and reported as absent.
func (m *Manager) Load(owner string) (*LinkSession, error) {
	key := normalizeOwner(owner)

	var s LinkSession
	if err := m.store.Get(key, &s); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: load %s: %w", key, err)
	}

	if m.now().Sub(s.CreatedAt) > m.ttl {
		m.log.Info("session expired, removing",
			zap.String("owner", key),
			zap.Time("created_at", s.CreatedAt),
		)
		if err := m.Clear(owner); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &s, nil
}

// Save stores the session under its case-normalized owner key, replacing any
// previous session for the same identity.
func (m *Manager) Save(s *LinkSession) error {
	if s == nil || s.Owner == "" {
		return errors.New("session: missing owner")
	}
	key := normalizeOwner(s.Owner)
	if err := m.store.Upsert(key, s); err != nil {
		return fmt.Errorf("session: save %s: %w", key, err)
	}
	return nil
}

// Clear removes the owner's session. Clearing an absent session is a no-op.
func (m *Manager) Clear(owner string) error {
	key := normalizeOwner(owner)
	if err := m.store.Delete(key, LinkSession{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("session: clear %s: %w", key, err)
	}
	return nil
}

// Owner addresses arrive in mixed case depending on the wallet; keys are
// lowercased so the same identity never splits across entries.
func normalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}
