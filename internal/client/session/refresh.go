package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/deskclient/internal/client/api"
	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/client/tokens"
	"github.com/dmitrijs2005/deskclient/internal/common"
)

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// share a single exchange and its result.
//
// A refresh token that is expired or rejected signs the session out and
// returns ErrRefreshFailed. Transport errors are returned unchanged and
// leave the session alone. If the session generation moved while the
// exchange was in flight the result is dropped with ErrStaleCompletion.
//
// Exchanges are shared per generation: a caller from a newer session never
// joins an exchange started for an older one.
func (s *Store) Refresh(ctx context.Context) error {
	key := strconv.FormatUint(s.Current().Generation, 10)
	_, err, _ := s.refreshGroup.Do(key, func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Store) refresh(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()

	if cur.State != StateAuthenticated {
		return fmt.Errorf("%w: refresh from %s", common.ErrInvalidTransition, cur.State)
	}
	gen := cur.Generation

	if tokens.IsExpired(cur.Tokens.Refresh, s.now()) {
		s.metrics.RefreshOutcome("expired")
		s.forceSignOut(ctx, gen, "refresh token expired")
		return fmt.Errorf("%w: refresh token expired", common.ErrRefreshFailed)
	}

	next, err := s.api.RefreshToken(ctx, cur.Tokens.Refresh.Token)
	if err != nil {
		if rejected(err) {
			s.metrics.RefreshOutcome("rejected")
			s.forceSignOut(ctx, gen, "refresh token rejected")
			return fmt.Errorf("%w: %w", common.ErrRefreshFailed, err)
		}
		s.metrics.RefreshOutcome("error")
		return err
	}
	pair := mergeRefreshed(cur.Tokens, tokens.Normalize(next))
	if _, err := tokens.Serialize(pair); err != nil {
		s.metrics.RefreshOutcome("malformed")
		return fmt.Errorf("refreshed pair: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.Generation != gen {
		s.metrics.RefreshOutcome("stale")
		s.staleLocked(ctx, "refresh", gen)
		return common.ErrStaleCompletion
	}
	if err := s.persistLocked(ctx, pair); err != nil {
		return err
	}
	s.metrics.RefreshOutcome("ok")
	s.publishLocked(ctx, Session{State: StateAuthenticated, User: s.cur.User, Tokens: pair, Generation: gen})
	return nil
}

// forceSignOut drops the session after the server refused it. Nothing
// happens if the generation already moved on.
func (s *Store) forceSignOut(ctx context.Context, gen uint64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Generation != gen {
		return
	}

	s.log.Warn(ctx, "forced sign-out", "reason", reason)
	if err := s.storage.Delete(ctx, common.TokenStorageKey); err != nil {
		s.log.Warn(ctx, "failed to clear persisted tokens", "error", err)
	}
	s.publishLocked(ctx, Session{
		State:      StateAnonymous,
		User:       models.NewAnonymousUser(),
		Generation: gen + 1,
	})
}

// Authorized runs fn with a valid access token on its context. An expired
// access token is refreshed up front; if fn still reports
// api.ErrTokenExpired the token is refreshed once and fn retried once.
func (s *Store) Authorized(ctx context.Context, fn func(ctx context.Context) error) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	err = fn(api.WithAccessToken(ctx, token))
	if !api.IsRetryableAuth(err) {
		return err
	}

	// Someone else may have refreshed while fn was in flight.
	if s.Current().AccessToken() == token {
		if err := s.Refresh(ctx); err != nil {
			return err
		}
	}
	token, err = s.accessToken(ctx)
	if err != nil {
		return err
	}
	return fn(api.WithAccessToken(ctx, token))
}

func (s *Store) accessToken(ctx context.Context) (string, error) {
	cur := s.Current()
	if !cur.Authenticated() {
		return "", fmt.Errorf("%w: session is %s", api.ErrUnauthorized, cur.State)
	}
	if !tokens.IsExpired(cur.Tokens.Access, s.now()) {
		return cur.AccessToken(), nil
	}

	if err := s.Refresh(ctx); err != nil {
		return "", err
	}
	cur = s.Current()
	if !cur.Authenticated() || tokens.IsExpired(cur.Tokens.Access, s.now()) {
		return "", errors.Join(api.ErrUnauthorized, api.ErrTokenExpired)
	}
	return cur.AccessToken(), nil
}
