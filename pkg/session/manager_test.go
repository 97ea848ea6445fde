package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"medscan/pkg/identity"
)

// fakeProvider delivers auth state changes on its own goroutine, in order.
type fakeProvider struct {
	mu        sync.Mutex
	passwords map[string]string
	users     map[string]*identity.User
	current   *identity.User
	listeners map[int]identity.Listener
	nextID    int

	updateErr     error
	verifyErr     error
	popupErr      error
	verifications int

	events chan *identity.User
	done   chan struct{}
}

func newFakeProvider() *fakeProvider {
	p := &fakeProvider{
		passwords: map[string]string{},
		users:     map[string]*identity.User{},
		listeners: map[int]identity.Listener{},
		events:    make(chan *identity.User, 64),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *fakeProvider) run() {
	for {
		select {
		case <-p.done:
			return
		case u := <-p.events:
			p.mu.Lock()
			ls := make([]identity.Listener, 0, len(p.listeners))
			for i := 0; i < p.nextID; i++ {
				if l, ok := p.listeners[i]; ok {
					ls = append(ls, l)
				}
			}
			p.mu.Unlock()
			for _, l := range ls {
				l(u.Clone())
			}
		}
	}
}

func (p *fakeProvider) close() { close(p.done) }

func (p *fakeProvider) emit(u *identity.User) { p.events <- u.Clone() }

func (p *fakeProvider) OnAuthStateChanged(fn identity.Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) SignInWithPassword(_ context.Context, email, password string) (*identity.User, error) {
	p.mu.Lock()
	pw, ok := p.passwords[email]
	if !ok || pw != password {
		p.mu.Unlock()
		return nil, identity.ErrInvalidCredentials
	}
	p.current = p.users[email].Clone()
	u := p.current.Clone()
	p.mu.Unlock()
	p.emit(u)
	return u, nil
}

func (p *fakeProvider) CreateUser(_ context.Context, email, password string) (*identity.User, error) {
	p.mu.Lock()
	if _, ok := p.passwords[email]; ok {
		p.mu.Unlock()
		return nil, identity.ErrEmailAlreadyInUse
	}
	if len(password) < 6 {
		p.mu.Unlock()
		return nil, identity.ErrWeakPassword
	}
	p.passwords[email] = password
	u := &identity.User{ID: strconv.Itoa(len(p.users) + 1), Email: email}
	p.users[email] = u
	p.current = u.Clone()
	out := u.Clone()
	p.mu.Unlock()
	p.emit(out)
	return out, nil
}

func (p *fakeProvider) SignInWithPopup(context.Context) (*identity.User, error) {
	if p.popupErr != nil {
		return nil, p.popupErr
	}
	u := &identity.User{ID: "g-1", Email: "grace@example.com", Name: "Grace", EmailVerified: true}
	p.mu.Lock()
	p.current = u.Clone()
	p.mu.Unlock()
	p.emit(u)
	return u.Clone(), nil
}

func (p *fakeProvider) UpdateProfile(_ context.Context, update identity.ProfileUpdate) (*identity.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	if p.current == nil {
		return nil, identity.ErrNotSignedIn
	}
	stored := p.users[p.current.Email]
	if update.Name != nil {
		stored.Name = *update.Name
	}
	if update.Avatar != nil {
		avatar := *update.Avatar
		stored.Avatar = &avatar
	}
	p.current = stored.Clone()
	return stored.Clone(), nil
}

func (p *fakeProvider) SendEmailVerification(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifications++
	return p.verifyErr
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	was := p.current != nil
	p.current = nil
	p.mu.Unlock()
	if was {
		p.emit(nil)
	}
	return nil
}

func (p *fakeProvider) CurrentUser() *identity.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

func (p *fakeProvider) verificationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifications
}

func setup(t *testing.T) (*Manager, *fakeProvider) {
	t.Helper()
	p := newFakeProvider()
	m := NewManager(p, zap.NewNop())
	t.Cleanup(func() {
		m.Close()
		p.close()
	})
	p.emit(nil)
	waitState(t, m, StateAnonymous)
	return m, p
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Current().State == want },
		2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

// flush waits for an in-progress broadcast to finish.
func flush(m *Manager) {
	m.notifyMu.Lock()
	m.notifyMu.Unlock()
}

func TestManager_UnknownUntilFirstCallback(t *testing.T) {
	p := newFakeProvider()
	defer p.close()
	m := NewManager(p, nil)
	defer m.Close()

	snap := m.Current()
	assert.Equal(t, StateUnknown, snap.State)
	assert.Nil(t, snap.Session)

	p.emit(nil)
	waitState(t, m, StateAnonymous)
}

func TestManager_SignUpThenSignIn(t *testing.T) {
	m, p := setup(t)
	ctx := context.Background()

	pairs := []struct{ email, password, name string }{
		{"ada@example.com", "analytical", "Ada"},
		{"alan@example.com", "enigma1", "Alan"},
		{"grace@example.com", "cobol-rules", ""},
	}
	for _, pair := range pairs {
		s, err := m.SignUp(ctx, pair.email, pair.password, pair.name)
		require.NoError(t, err)
		assert.Equal(t, pair.email, s.Email)
		assert.Equal(t, pair.name, s.Name)
		waitState(t, m, StateAuthenticated)

		require.NoError(t, m.SignOut(ctx))
		waitState(t, m, StateAnonymous)

		s, err = m.SignIn(ctx, pair.email, pair.password)
		require.NoError(t, err)
		assert.Equal(t, pair.email, s.Email)
		require.Eventually(t, func() bool {
			cur := m.Current()
			return cur.State == StateAuthenticated && cur.Session.Email == pair.email && cur.Session.Name == pair.name
		}, 2*time.Second, 5*time.Millisecond)

		require.NoError(t, m.SignOut(ctx))
		waitState(t, m, StateAnonymous)
	}
	assert.Equal(t, len(pairs), p.verificationCount())
}

func TestManager_SignUpErrors(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	_, err := m.SignUp(ctx, "ada@example.com", "123", "Ada")
	assert.ErrorIs(t, err, identity.ErrWeakPassword)

	_, err = m.SignUp(ctx, "ada@example.com", "analytical", "Ada")
	require.NoError(t, err)
	_, err = m.SignUp(ctx, "ADA@example.com ", "analytical", "Ada")
	assert.ErrorIs(t, err, identity.ErrEmailAlreadyInUse)

	_, err = m.SignIn(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestManager_SignUpKeepsAccountWhenVerificationFails(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := newFakeProvider()
	defer p.close()
	p.verifyErr = errors.New("smtp down")
	m := NewManager(p, zap.New(core))
	defer m.Close()

	s, err := m.SignUp(context.Background(), "ada@example.com", "analytical", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", s.Name)
	assert.Equal(t, 1, logs.FilterMessage("send verification email failed").Len())
	waitState(t, m, StateAuthenticated)
}

func TestManager_SignOutIsIdempotent(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, m.SignOut(ctx))
	require.NoError(t, m.SignOut(ctx))
	assert.Equal(t, StateAnonymous, m.Current().State)

	_, err := m.SignUp(ctx, "ada@example.com", "analytical", "Ada")
	require.NoError(t, err)
	waitState(t, m, StateAuthenticated)

	require.NoError(t, m.SignOut(ctx))
	require.NoError(t, m.SignOut(ctx))
	waitState(t, m, StateAnonymous)
	assert.Nil(t, m.Current().Session)
}

func TestManager_SubscribersSeeIdenticalSnapshots(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	var mu sync.Mutex
	var a, b []Snapshot
	unsubA := m.Subscribe(func(s Snapshot) { mu.Lock(); a = append(a, s); mu.Unlock() })
	defer unsubA()
	unsubB := m.Subscribe(func(s Snapshot) { mu.Lock(); b = append(b, s); mu.Unlock() })
	defer unsubB()

	_, err := m.SignUp(ctx, "ada@example.com", "analytical", "")
	require.NoError(t, err)
	waitState(t, m, StateAuthenticated)
	name := "Ada"
	_, err = m.UpdateProfile(ctx, identity.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	require.NoError(t, m.SignOut(ctx))
	waitState(t, m, StateAnonymous)

	flush(m)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, b)
	assert.Equal(t, a, b)
	assert.Equal(t, StateAnonymous, b[len(b)-1].State)
}

func TestManager_UnsubscribeStopsDelivery(t *testing.T) {
	m, _ := setup(t)
	var mu sync.Mutex
	calls := 0
	unsub := m.Subscribe(func(Snapshot) { mu.Lock(); calls++; mu.Unlock() })
	unsub()
	unsub()

	_, err := m.SignUp(context.Background(), "ada@example.com", "analytical", "Ada")
	require.NoError(t, err)
	waitState(t, m, StateAuthenticated)
	flush(m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestManager_UpdateProfile(t *testing.T) {
	m, p := setup(t)
	ctx := context.Background()

	name := "Ada"
	_, err := m.UpdateProfile(ctx, identity.ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, identity.ErrNotSignedIn)

	_, err = m.SignUp(ctx, "ada@example.com", "analytical", "Ada")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := m.Current().Session
		return s != nil && s.Name == "Ada"
	}, 2*time.Second, 5*time.Millisecond)

	avatar := "https://cdn.example.com/a.jpg"
	s, err := m.UpdateProfile(ctx, identity.ProfileUpdate{Avatar: &avatar})
	require.NoError(t, err)
	require.NotNil(t, s.Avatar)
	assert.Equal(t, avatar, *s.Avatar)
	assert.Equal(t, "Ada", s.Name)

	cur := m.Current().Session
	require.NotNil(t, cur.Avatar)
	assert.Equal(t, avatar, *cur.Avatar)

	// a rejected write leaves the local session as it was
	p.updateErr = errors.New("permission denied")
	other := "Mallory"
	_, err = m.UpdateProfile(ctx, identity.ProfileUpdate{Name: &other})
	require.Error(t, err)
	assert.Equal(t, cur, m.Current().Session)
}

func TestManager_SnapshotsAreCopies(t *testing.T) {
	m, _ := setup(t)
	_, err := m.SignUp(context.Background(), "ada@example.com", "analytical", "Ada")
	require.NoError(t, err)
	waitState(t, m, StateAuthenticated)

	snap := m.Current()
	snap.Session.Name = "changed"
	assert.NotEqual(t, "changed", m.Current().Session.Name)
}

func TestManager_SendEmailVerification(t *testing.T) {
	m, p := setup(t)
	ctx := context.Background()

	require.NoError(t, m.SendEmailVerification(ctx))
	assert.Equal(t, 0, p.verificationCount())
	assert.False(t, m.IsEmailVerified())

	_, err := m.SignUp(ctx, "ada@example.com", "analytical", "Ada")
	require.NoError(t, err)
	require.NoError(t, m.SendEmailVerification(ctx))
	assert.Equal(t, 2, p.verificationCount())
}

func TestManager_SignInWithGoogle(t *testing.T) {
	m, p := setup(t)

	s, err := m.SignInWithGoogle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", s.Email)
	waitState(t, m, StateAuthenticated)
	assert.True(t, m.IsEmailVerified())

	require.NoError(t, m.SignOut(context.Background()))
	waitState(t, m, StateAnonymous)

	p.popupErr = identity.ErrPopupClosed
	_, err = m.SignInWithGoogle(context.Background())
	assert.ErrorIs(t, err, identity.ErrPopupClosed)
	assert.Equal(t, StateAnonymous, m.Current().State)
}
