package session

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/deskclient/internal/client/api"
	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/client/storage"
	"github.com/dmitrijs2005/deskclient/internal/client/tokens"
	"github.com/dmitrijs2005/deskclient/internal/common"
)

// run is the activation goroutine: watch first so no foreign write is
// missed, then settle the session, then follow other tabs until ctx ends.
func (s *Store) run(ctx context.Context, boot bool, gen uint64) {
	changes, err := s.storage.Watch(ctx, common.TokenStorageKey)
	if err != nil {
		s.log.Warn(ctx, "cross-tab watch unavailable", "error", err)
	}

	if boot {
		s.bootstrap(ctx, gen)
	} else {
		s.reconcile(ctx)
	}

	if changes == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			s.handleChange(ctx, c)
		}
	}
}

func (s *Store) bootstrap(ctx context.Context, gen uint64) {
	raw, ok, err := s.storage.Get(ctx, common.TokenStorageKey)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn(ctx, "failed to read persisted tokens", "error", err)
		s.settleAnonymous(ctx, gen, false)
		return
	}
	if !ok {
		s.settleAnonymous(ctx, gen, false)
		return
	}

	pair, err := tokens.Deserialize(raw)
	if err != nil {
		s.log.Warn(ctx, "discarding malformed persisted tokens", "error", err)
		s.settleAnonymous(ctx, gen, true)
		return
	}
	s.resolve(ctx, gen, tokens.Normalize(pair))
}

// reconcile catches up with storage after a re-activation; writes made
// while nobody was watching are treated like cross-tab changes.
func (s *Store) reconcile(ctx context.Context) {
	raw, ok, err := s.storage.Get(ctx, common.TokenStorageKey)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn(ctx, "failed to read persisted tokens", "error", err)
		}
		return
	}
	s.handleChange(ctx, storage.Change{Key: common.TokenStorageKey, Value: raw, Deleted: !ok})
}

// handleChange applies a token write from another tab. The newest write
// wins; there is no merge with local state.
func (s *Store) handleChange(ctx context.Context, c storage.Change) {
	if c.Deleted {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cur.State == StateAnonymous {
			return
		}
		s.log.Info(ctx, "tokens cleared by another tab", "origin", c.Origin)
		s.publishLocked(ctx, Session{
			State:      StateAnonymous,
			User:       models.NewAnonymousUser(),
			Generation: s.cur.Generation + 1,
		})
		return
	}

	pair, err := tokens.Deserialize(c.Value)
	if err != nil {
		s.log.Warn(ctx, "ignoring malformed tokens from another tab", "origin", c.Origin, "error", err)
		return
	}
	pair = tokens.Normalize(pair)

	s.mu.Lock()
	if s.cur.State == StateAuthenticated && sameTokens(s.cur.Tokens, pair) {
		s.mu.Unlock()
		return
	}
	gen := s.cur.Generation + 1
	s.log.Info(ctx, "tokens replaced by another tab", "origin", c.Origin)
	s.publishLocked(ctx, Session{State: StateLoading, Tokens: pair, Generation: gen})
	s.mu.Unlock()

	s.resolve(ctx, gen, pair)
}

// resolve turns a token pair into a settled session: refresh when only the
// refresh token is usable, then fetch the profile.
func (s *Store) resolve(ctx context.Context, gen uint64, pair models.AuthTokenPair) {
	now := s.now()

	if tokens.IsExpired(pair.Access, now) {
		if tokens.IsExpired(pair.Refresh, now) {
			s.log.Warn(ctx, "persisted tokens expired")
			s.settleAnonymous(ctx, gen, true)
			return
		}

		next, err := s.api.RefreshToken(ctx, pair.Refresh.Token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if rejected(err) {
				s.metrics.RefreshOutcome("rejected")
				s.log.Warn(ctx, "refresh token rejected", "error", err)
				s.settleAnonymous(ctx, gen, true)
				return
			}
			s.metrics.RefreshOutcome("error")
			s.log.Warn(ctx, "refresh unavailable, keeping persisted tokens", "error", err)
			s.settleAnonymous(ctx, gen, false)
			return
		}
		s.metrics.RefreshOutcome("ok")

		pair = mergeRefreshed(pair, tokens.Normalize(next))
		if !s.persistIfCurrent(ctx, gen, pair) {
			return
		}
	}

	var token string
	if pair.Access != nil {
		token = pair.Access.Token
	}
	user, err := s.api.Profile(api.WithAccessToken(ctx, token))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if rejected(err) {
			s.log.Warn(ctx, "profile rejected tokens", "error", err)
			s.settleAnonymous(ctx, gen, true)
			return
		}
		s.log.Warn(ctx, "profile unavailable, keeping persisted tokens", "error", err)
		s.settleAnonymous(ctx, gen, false)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if s.cur.Generation != gen {
		s.staleLocked(ctx, "resolve", gen)
		return
	}
	user.Anonymous = false
	s.publishLocked(ctx, Session{State: StateAuthenticated, User: &user, Tokens: pair, Generation: gen})
}

// settleAnonymous ends a bootstrap or cross-tab resolution as ANONYMOUS,
// deleting the persisted tokens when discard is set.
func (s *Store) settleAnonymous(ctx context.Context, gen uint64, discard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if s.cur.Generation != gen {
		s.staleLocked(ctx, "resolve", gen)
		return
	}
	if discard {
		if err := s.storage.Delete(ctx, common.TokenStorageKey); err != nil {
			s.log.Warn(ctx, "failed to clear persisted tokens", "error", err)
		}
	}
	s.publishLocked(ctx, Session{State: StateAnonymous, User: models.NewAnonymousUser(), Generation: gen})
}

func (s *Store) persistIfCurrent(ctx context.Context, gen uint64, pair models.AuthTokenPair) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Generation != gen {
		s.staleLocked(ctx, "refresh", gen)
		return false
	}
	if err := s.persistLocked(ctx, pair); err != nil {
		s.log.Warn(ctx, "failed to persist refreshed tokens", "error", err)
	}
	return true
}

// rejected reports whether the server refused the credential itself, as
// opposed to being unreachable.
func rejected(err error) bool {
	return errors.Is(err, api.ErrUnauthorized) || errors.Is(err, api.ErrTokenExpired)
}

// mergeRefreshed keeps the refresh and fork tokens the server did not
// reissue.
func mergeRefreshed(old, next models.AuthTokenPair) models.AuthTokenPair {
	out := next.Clone()
	if out.Refresh == nil {
		out.Refresh = old.Clone().Refresh
	}
	if out.Fork == nil {
		out.Fork = old.Clone().Fork
	}
	return out
}

func sameTokens(a, b models.AuthTokenPair) bool {
	ra, errA := tokens.Serialize(a)
	rb, errB := tokens.Serialize(b)
	return errA == nil && errB == nil && ra == rb
}
