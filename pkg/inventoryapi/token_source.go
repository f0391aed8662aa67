package inventoryapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/traillend/reservation-flow/pkg/jwt"
)

// ErrNoRefreshToken is returned when a refresh is needed but none was supplied
var ErrNoRefreshToken = errors.New("no refresh token available")

// TokenSource supplies bearer tokens for backend calls
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	// Refresh is called after the backend rejected stale. Implementations
	// return the current token without refreshing when another caller already
	// replaced stale.
	Refresh(ctx context.Context, stale string) (string, error)
}

// RefreshFunc exchanges a refresh token for a new access token
type RefreshFunc func(ctx context.Context, refresh string) (string, error)

// RefreshingTokenSource holds one user's token pair. Concurrent callers that
// hit a 401 share a single refresh call.
type RefreshingTokenSource struct {
	mu           sync.Mutex
	access       string
	refresh      string
	lastIncoming string
	refreshFn    RefreshFunc
	group        singleflight.Group
	now          func() time.Time
}

// NewRefreshingTokenSource creates a token source for one user session
func NewRefreshingTokenSource(access, refresh string, fn RefreshFunc) *RefreshingTokenSource {
	return &RefreshingTokenSource{
		access:       access,
		refresh:      refresh,
		lastIncoming: access,
		refreshFn:    fn,
		now:          time.Now,
	}
}

// AccessToken returns the current access token, refreshing first when it has
// already expired.
func (s *RefreshingTokenSource) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	current := s.access
	canRefresh := s.refresh != ""
	s.mu.Unlock()

	if canRefresh && jwt.ExpiresWithin(current, s.now(), 0) {
		return s.Refresh(ctx, current)
	}
	return current, nil
}

// Refresh implements TokenSource
func (s *RefreshingTokenSource) Refresh(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	if s.access != stale {
		current := s.access
		s.mu.Unlock()
		return current, nil
	}
	refresh := s.refresh
	s.mu.Unlock()

	if refresh == "" {
		return "", ErrNoRefreshToken
	}

	v, err, _ := s.group.Do(refresh, func() (interface{}, error) {
		s.mu.Lock()
		if s.access != stale {
			current := s.access
			s.mu.Unlock()
			return current, nil
		}
		s.mu.Unlock()

		// the shared refresh must outlive any single caller's cancellation
		access, err := s.refreshFn(context.WithoutCancel(ctx), refresh)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.access = access
		s.mu.Unlock()
		return access, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Update records the tokens presented on a new inbound request. A token the
// client keeps sending after we refreshed it does not overwrite the fresh one.
func (s *RefreshingTokenSource) Update(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if refresh != "" {
		s.refresh = refresh
	}
	if access == "" || access == s.lastIncoming {
		return
	}
	s.lastIncoming = access
	s.access = access
}

// Current returns the access token currently in use
func (s *RefreshingTokenSource) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

// StaticTokenSource serves a fixed token and cannot refresh
type StaticTokenSource string

// AccessToken implements TokenSource
func (s StaticTokenSource) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

// Refresh implements TokenSource
func (s StaticTokenSource) Refresh(context.Context, string) (string, error) {
	return "", ErrNoRefreshToken
}
