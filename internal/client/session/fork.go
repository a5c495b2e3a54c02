package session

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/client/tokens"
	"github.com/dmitrijs2005/deskclient/internal/common"
)

// Fork returns a token for handing the session to another surface. An
// unexpired fork token is reused; otherwise one is minted and persisted
// alongside the access and refresh tokens until ConsumeFork.
func (s *Store) Fork(ctx context.Context) (models.AuthToken, error) {
	cur := s.Current()
	if !cur.Authenticated() {
		return models.AuthToken{}, fmt.Errorf("%w: fork from %s", common.ErrInvalidTransition, cur.State)
	}
	if !tokens.IsExpired(cur.Tokens.Fork, s.now()) {
		return *cur.Tokens.Fork, nil
	}
	gen := cur.Generation

	var minted models.AuthToken
	err := s.Authorized(ctx, func(ctx context.Context) error {
		var err error
		minted, err = s.api.ForkSession(ctx)
		return err
	})
	if err != nil {
		return models.AuthToken{}, fmt.Errorf("fork session: %w", err)
	}
	minted = *tokens.Normalize(models.AuthTokenPair{Fork: &minted}).Fork

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.Generation != gen {
		s.staleLocked(ctx, "fork", gen)
		return models.AuthToken{}, common.ErrStaleCompletion
	}
	// A concurrent Fork landed first; the handoff keeps its token.
	if !tokens.IsExpired(s.cur.Tokens.Fork, s.now()) {
		return *s.cur.Tokens.Clone().Fork, nil
	}

	pair := s.cur.Tokens.Clone()
	pair.Fork = &minted
	if err := s.persistLocked(ctx, pair); err != nil {
		return models.AuthToken{}, err
	}
	s.publishLocked(ctx, Session{State: StateAuthenticated, User: s.cur.User, Tokens: pair, Generation: gen})
	return minted, nil
}

// ConsumeFork forgets the fork token once the handoff is complete.
func (s *Store) ConsumeFork(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur.State != StateAuthenticated {
		return fmt.Errorf("%w: consume fork from %s", common.ErrInvalidTransition, s.cur.State)
	}
	if s.cur.Tokens.Fork == nil {
		return nil
	}

	pair := s.cur.Tokens.Clone()
	pair.Fork = nil
	if err := s.persistLocked(ctx, pair); err != nil {
		return err
	}
	s.publishLocked(ctx, Session{State: StateAuthenticated, User: s.cur.User, Tokens: pair, Generation: s.cur.Generation})
	return nil
}
