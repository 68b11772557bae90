// Package session holds the authenticated user and token pair of the current
// client. There is no package-level state: a Manager is built at the
// application boundary and handed to whatever needs it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/go-ports/everwalk/internal/models"
)

// Persisted keys.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a session and
	// none is stored.
	ErrNotAuthenticated = errors.New("not logged in")
	// ErrNotFound is returned by Store.Get for a missing key.
	ErrNotFound = errors.New("session key not found")
)

// Session is the signed-in state.
type Session struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
}

// IsAuthenticated reports whether an access token is present.
func (s Session) IsAuthenticated() bool { return s.AccessToken != "" }

// Store persists session values by key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	vals map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vals: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager loads, saves and clears the session held in a Store, and caches
// the current value in memory.
type Manager struct {
	store Store

	mu      sync.RWMutex
	current Session
	loaded  bool
}

// NewManager returns a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Load reads the session from the store. A store without tokens yields an
// unauthenticated session and no error.
func (m *Manager) Load(ctx context.Context) (Session, error) {
	var s Session
	var err error
	if s.AccessToken, err = m.get(ctx, KeyAccessToken); err != nil {
		return Session{}, err
	}
	if s.RefreshToken, err = m.get(ctx, KeyRefreshToken); err != nil {
		return Session{}, err
	}
	rawUser, err := m.get(ctx, KeyUser)
	if err != nil {
		return Session{}, err
	}
	if rawUser != "" {
		var u models.User
		if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
			return Session{}, fmt.Errorf("session.Load: decode user: %w", err)
		}
		s.User = &u
	}

	m.mu.Lock()
	m.current, m.loaded = s, true
	m.mu.Unlock()
	return s, nil
}

// Save stores the token pair and user of a successful login or register.
func (m *Manager) Save(ctx context.Context, auth *models.AuthResponse) error {
	if auth == nil || auth.AccessToken == "" {
		return fmt.Errorf("session.Save: %w: empty access token", models.ErrInvalidInput)
	}
	user, err := json.Marshal(auth.User)
	if err != nil {
		return fmt.Errorf("session.Save: encode user: %w", err)
	}
	for _, kv := range [][2]string{
		{KeyAccessToken, auth.AccessToken},
		{KeyRefreshToken, auth.RefreshToken},
		{KeyUser, string(user)},
	} {
		if err := m.store.Set(ctx, kv[0], kv[1]); err != nil {
			return fmt.Errorf("session.Save: %s: %w", kv[0], err)
		}
	}

	u := auth.User
	m.mu.Lock()
	m.current = Session{User: &u, AccessToken: auth.AccessToken, RefreshToken: auth.RefreshToken}
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// Clear removes every stored session value.
func (m *Manager) Clear(ctx context.Context) error {
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUser} {
		if err := m.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("session.Clear: %s: %w", key, err)
		}
	}
	m.mu.Lock()
	m.current, m.loaded = Session{}, true
	m.mu.Unlock()
	return nil
}

// Current returns the session, loading it from the store on first use.
func (m *Manager) Current(ctx context.Context) (Session, error) {
	m.mu.RLock()
	s, loaded := m.current, m.loaded
	m.mu.RUnlock()
	if loaded {
		return s, nil
	}
	return m.Load(ctx)
}

// Token returns the access token, or "" when signed out. It has the shape of
// api.TokenSource.
func (m *Manager) Token(ctx context.Context) (string, error) {
	s, err := m.Current(ctx)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

// Require returns the session or ErrNotAuthenticated.
func (m *Manager) Require(ctx context.Context) (Session, error) {
	s, err := m.Current(ctx)
	if err != nil {
		return Session{}, err
	}
	if !s.IsAuthenticated() {
		return Session{}, ErrNotAuthenticated
	}
	return s, nil
}

func (m *Manager) get(ctx context.Context, key string) (string, error) {
	v, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session.Load: %s: %w", key, err)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

// TokenClaims is what the client can read from an access token without the
// signing key.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time // zero when the token carries no expiry or is opaque
}

// Expired reports whether the token expiry has passed at now.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Claims decodes token without verifying its signature. An opaque token that
// is not a JWT yields empty claims and no error.
func Claims(token string) (TokenClaims, error) {
	if token == "" {
		return TokenClaims{}, ErrNotAuthenticated
	}
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return TokenClaims{}, nil
		}
		return TokenClaims{}, fmt.Errorf("session.Claims: %w", err)
	}
	out := TokenClaims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		out.ExpiresAt = rc.ExpiresAt.Time
	}
	return out, nil
}
