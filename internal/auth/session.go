package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/store"
)

var (
	// ErrNoRefreshToken means there is nothing to refresh with; the session is gone.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrRefreshRejected means the server refused the refresh token.
	ErrRefreshRejected = errors.New("refresh token rejected")
)

// Refresher exchanges a refresh token for new tokens over the HTTP side-channel.
type Refresher interface {
	Refresh(ctx context.Context, access, refresh string) (model.Tokens, error)
}

// Session owns the authentication state: tokens, the signed-in user and the
// stored credentials. Every change is written through to the KV store.
type Session struct {
	mu        sync.Mutex
	kv        *store.KV
	refresher Refresher
	bus       *bus.Bus
	log       *zap.Logger
	now       func() time.Time

	tokens model.Tokens
	user   model.Profile
}

// NewSession creates a session hydrated from kv.
func NewSession(kv *store.KV, refresher Refresher, b *bus.Bus, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{kv: kv, refresher: refresher, bus: b, log: log, now: time.Now}
	kv.Load(store.KeyTokens, &s.tokens)
	kv.Load(store.KeyUser, &s.user)
	return s
}

// SignIn stores the outcome of a successful sign-in or registration.
// creds may be nil when the host does not keep them.
func (s *Session) SignIn(tokens model.Tokens, user model.Profile, creds *model.Credentials) {
	s.mu.Lock()
	s.tokens = tokens
	s.user = user
	s.kv.Save(store.KeyTokens, tokens)
	s.kv.Save(store.KeyUser, user)
	if creds != nil {
		s.kv.Save(store.KeyCredentials, creds)
	}
	s.mu.Unlock()

	s.log.Info("session signed in", zap.String("username", user.Username))
	s.bus.Emit(bus.KindSignedIn, user)
}

// LoggedIn reports whether any token is held.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Access != "" || s.tokens.Refresh != ""
}

// AccessToken returns the current access token, possibly empty.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Access
}

// User returns the signed-in user's profile.
func (s *Session) User() model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// SetUser replaces the signed-in user's profile.
func (s *Session) SetUser(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = p
	s.kv.Save(store.KeyUser, p)
}

// Valid reports whether the access token exists and has not expired.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Access != "" && !expired(s.tokens.Access, s.now())
}

// Invalidate drops the access token so the next connect refreshes first.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens.Access == "" {
		return
	}
	s.tokens.Access = ""
	s.kv.Save(store.KeyTokens, s.tokens)
}

// Refresh obtains a new access token. The network call runs without holding the lock.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	current := s.tokens
	s.mu.Unlock()

	if current.Refresh == "" {
		return ErrNoRefreshToken
	}
	if s.refresher == nil {
		return fmt.Errorf("refresh: no refresher configured")
	}
	fresh, err := s.refresher.Refresh(ctx, current.Access, current.Refresh)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if fresh.Access == "" {
		return fmt.Errorf("refresh: %w: empty access token", ErrRefreshRejected)
	}
	if fresh.Refresh == "" {
		fresh.Refresh = current.Refresh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = fresh
	s.kv.Save(store.KeyTokens, fresh)
	s.log.Info("access token refreshed")
	return nil
}

// Logout wipes the persisted session and tells observers.
func (s *Session) Logout() {
	s.mu.Lock()
	s.tokens = model.Tokens{}
	s.user = model.Profile{}
	s.kv.Delete(store.KeyTokens, store.KeyUser, store.KeyCredentials)
	s.mu.Unlock()

	s.log.Info("session logged out")
	s.bus.Emit(bus.KindLoggedOut, nil)
}

// expired reads the exp claim without verifying the signature; the server
// is the one that verifies. Opaque or claim-less tokens are never expired here.
func expired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
