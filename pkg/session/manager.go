// Package session keeps a single, always-current view of who is signed in
// on top of an identity.Provider.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"medscan/pkg/identity"
)

type State int

const (
	// StateUnknown means the provider has not reported yet. Treat it as
	// loading, not as signed out.
	StateUnknown State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is the signed-in identity as seen by the application.
type Session struct {
	ID            string
	Email         string
	Name          string
	Avatar        *string
	EmailVerified bool
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Avatar != nil {
		avatar := *s.Avatar
		out.Avatar = &avatar
	}
	return &out
}

func fromUser(u *identity.User) *Session {
	if u == nil {
		return nil
	}
	s := &Session{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
	}
	if u.Avatar != nil {
		avatar := *u.Avatar
		s.Avatar = &avatar
	}
	return s
}

// Snapshot is an immutable copy of the manager's state. Session is nil
// unless State is StateAuthenticated.
type Snapshot struct {
	State   State
	Session *Session
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{State: s.State, Session: s.Session.clone()}
}

// Subscriber receives every snapshot change. Subscribers run one at a time
// and must not call Subscribe or UpdateProfile synchronously.
type Subscriber func(Snapshot)

type Manager struct {
	provider identity.Provider
	logger   *zap.Logger

	mu   sync.RWMutex
	snap Snapshot

	// notifyMu orders snapshot changes with their delivery.
	notifyMu sync.Mutex
	subsMu   sync.Mutex
	nextID   int
	subs     map[int]Subscriber

	stop func()
}

func NewManager(provider identity.Provider, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		provider: provider,
		logger:   logger,
		subs:     make(map[int]Subscriber),
	}
	m.stop = provider.OnAuthStateChanged(m.onAuthStateChanged)
	return m
}

func (m *Manager) onAuthStateChanged(u *identity.User) {
	next := Snapshot{State: StateAnonymous}
	if u != nil {
		// a profile write acknowledged after this event was queued is
		// already reflected in the provider's current user
		if cur := m.provider.CurrentUser(); cur != nil && cur.ID == u.ID {
			u = cur
		}
		next = Snapshot{State: StateAuthenticated, Session: fromUser(u)}
	}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	m.snap = next
	m.mu.Unlock()
	m.broadcast(next)
}

// broadcast must be called with notifyMu held.
func (m *Manager) broadcast(snap Snapshot) {
	m.subsMu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.subsMu.Unlock()
	sort.Ints(ids)

	for _, id := range ids {
		m.subsMu.Lock()
		fn, ok := m.subs[id]
		m.subsMu.Unlock()
		if ok {
			fn(snap.clone())
		}
	}
}

// Current returns the latest snapshot.
func (m *Manager) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.clone()
}

// Subscribe calls fn with the current snapshot and again after every
// change, until the returned function is called.
func (m *Manager) Subscribe(fn Subscriber) (unsubscribe func()) {
	m.notifyMu.Lock()
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subsMu.Unlock()
	fn(m.Current())
	m.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}
}

func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, err := m.provider.SignInWithPassword(ctx, normalizeEmail(email), password)
	if err != nil {
		return nil, err
	}
	return fromUser(u), nil
}

// SignUp creates the account, sets its display name and asks for a
// verification email. A failed verification send is only logged; the
// account stays signed in.
func (m *Manager) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	u, err := m.provider.CreateUser(ctx, normalizeEmail(email), password)
	if err != nil {
		return nil, err
	}
	s := fromUser(u)

	if name := strings.TrimSpace(displayName); name != "" {
		updated, err := m.updateProfile(ctx, identity.ProfileUpdate{Name: &name})
		if err != nil {
			return nil, fmt.Errorf("set display name failed: %w", err)
		}
		s = updated
	}

	if err := m.provider.SendEmailVerification(ctx); err != nil {
		m.logger.Warn("send verification email failed", zap.String("user_id", s.ID), zap.Error(err))
	}
	return s, nil
}

// SignOut clears the session. Calling it while signed out is a no-op.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.provider.SignOut(ctx)
}

func (m *Manager) SignInWithGoogle(ctx context.Context) (*Session, error) {
	u, err := m.provider.SignInWithPopup(ctx)
	if err != nil {
		return nil, err
	}
	return fromUser(u), nil
}

// UpdateProfile writes name and avatar to the provider and, once the write
// is acknowledged, merges them into the local session. On failure the local
// session is left as it was.
func (m *Manager) UpdateProfile(ctx context.Context, update identity.ProfileUpdate) (*Session, error) {
	if m.provider.CurrentUser() == nil {
		return nil, identity.ErrNotSignedIn
	}
	return m.updateProfile(ctx, update)
}

func (m *Manager) updateProfile(ctx context.Context, update identity.ProfileUpdate) (*Session, error) {
	acked, err := m.provider.UpdateProfile(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("update profile failed: %w", err)
	}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	cur := m.snap
	if cur.State != StateAuthenticated || cur.Session == nil || cur.Session.ID != acked.ID {
		m.mu.Unlock()
		return fromUser(acked), nil
	}
	merged := cur.Session.clone()
	if update.Name != nil {
		merged.Name = acked.Name
	}
	if update.Avatar != nil {
		merged.Avatar = fromUser(acked).Avatar
	}
	m.snap = Snapshot{State: StateAuthenticated, Session: merged}
	next := m.snap
	m.mu.Unlock()

	m.broadcast(next)
	return merged.clone(), nil
}

// SendEmailVerification re-sends the verification email. It does nothing
// when no one is signed in.
func (m *Manager) SendEmailVerification(ctx context.Context) error {
	if m.provider.CurrentUser() == nil {
		return nil
	}
	if err := m.provider.SendEmailVerification(ctx); err != nil {
		m.logger.Warn("send verification email failed", zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) IsEmailVerified() bool {
	snap := m.Current()
	return snap.Session != nil && snap.Session.EmailVerified
}

// Close detaches the manager from the provider and drops all subscribers.
func (m *Manager) Close() {
	m.stop()
	m.subsMu.Lock()
	m.subs = make(map[int]Subscriber)
	m.subsMu.Unlock()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
