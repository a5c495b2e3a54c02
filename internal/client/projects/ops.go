package projects

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/common"
)

// Create shows a placeholder project immediately and replaces it with the
// server's project once created. On failure the placeholder is removed and
// ErrCreateFailed is returned wrapping the cause.
func (s *Store) Create(ctx context.Context, name string) (models.Project, error) {
	p, err := s.ApplyOptimistic(Mutation{Kind: KindCreate, Name: name})
	if err != nil {
		return models.Project{}, err
	}

	var created models.Project
	err = s.sess.Authorized(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.api.CreateProject(ctx, p.Mutation().Name)
		return err
	})
	if err != nil {
		s.Revert(p)
		return models.Project{}, fmt.Errorf("%w: %w", common.ErrCreateFailed, err)
	}

	s.Confirm(p, &created)
	return created, nil
}

// Rename renames the project locally, then on the server. On failure the
// old name is restored and ErrUpdateFailed is returned.
func (s *Store) Rename(ctx context.Context, id, name string) (models.Project, error) {
	p, err := s.ApplyOptimistic(Mutation{Kind: KindRename, ProjectID: id, Name: name})
	if err != nil {
		return models.Project{}, err
	}

	var renamed models.Project
	err = s.sess.Authorized(ctx, func(ctx context.Context) error {
		var err error
		renamed, err = s.api.RenameProject(ctx, id, p.Mutation().Name)
		return err
	})
	if err != nil {
		s.Revert(p)
		return models.Project{}, fmt.Errorf("%w: %w", common.ErrUpdateFailed, err)
	}

	s.Confirm(p, &renamed)
	return renamed, nil
}

// Delete soft-deletes the project locally, then on the server. On failure
// the project reappears and ErrDeleteFailed is returned. A second Delete
// while the first is in flight fails with ErrConflict and makes no call.
func (s *Store) Delete(ctx context.Context, id string) error {
	p, err := s.ApplyOptimistic(Mutation{Kind: KindDelete, ProjectID: id})
	if err != nil {
		return err
	}

	err = s.sess.Authorized(ctx, func(ctx context.Context) error {
		return s.api.DeleteProject(ctx, id)
	})
	if err != nil {
		s.Revert(p)
		return fmt.Errorf("%w: %w", common.ErrDeleteFailed, err)
	}

	s.Confirm(p, nil)
	return nil
}

// ReadDocument fetches a document of the project and checks its tree.
func (s *Store) ReadDocument(ctx context.Context, projectID, docID string) (models.Doc, error) {
	var doc models.Doc
	err := s.sess.Authorized(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.api.ReadFile(ctx, projectID, docID)
		return err
	})
	if err != nil {
		return models.Doc{}, fmt.Errorf("read document %s/%s: %w", projectID, docID, err)
	}
	if err := doc.Validate(); err != nil {
		s.log.Warn(ctx, "server returned malformed document", "project", projectID, "doc", docID, "error", err)
		return models.Doc{}, err
	}
	return doc, nil
}
