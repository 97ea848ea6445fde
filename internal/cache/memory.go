package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TokenDenylist remembers revoked token IDs until the tokens would have
// expired anyway. It is process-local.
type TokenDenylist struct {
	store *gocache.Cache
}

func NewTokenDenylist(cleanupInterval time.Duration) *TokenDenylist {
	return &TokenDenylist{store: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (d *TokenDenylist) Revoke(tokenID string, until time.Time) {
	ttl := time.Until(until)
	if tokenID == "" || ttl <= 0 {
		return
	}
	d.store.Set(tokenID, struct{}{}, ttl)
}

func (d *TokenDenylist) IsRevoked(tokenID string) bool {
	_, found := d.store.Get(tokenID)
	return found
}

// OAuthStateStore holds pending OAuth states and the loopback URI each flow
// must return to. A state can be taken once.
type OAuthStateStore struct {
	store *gocache.Cache
	ttl   time.Duration
}

func NewOAuthStateStore(ttl time.Duration) *OAuthStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OAuthStateStore{store: gocache.New(ttl, 2*ttl), ttl: ttl}
}

func (s *OAuthStateStore) Put(state, redirectURI string) {
	s.store.Set(state, redirectURI, s.ttl)
}

func (s *OAuthStateStore) Take(state string) (string, bool) {
	v, found := s.store.Get(state)
	if !found {
		return "", false
	}
	s.store.Delete(state)
	redirect, ok := v.(string)
	return redirect, ok
}
