package submissions

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/scholarmarket-backend/internal/catalog"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
)

type workSubmitter interface {
	Submit(ctx context.Context, input catalog.SubmitInput) (*models.Work, error)
}

// Service drives upload forms and hands completed ones to the catalog.
type Service struct {
	store   Store
	catalog workSubmitter
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(store Store, submitter workSubmitter, logg *logger.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("session store required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("work submitter required")
	}
	return &Service{
		store:   store,
		catalog: submitter,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start discards any form in progress and opens a new one.
func (s *Service) Start(ctx context.Context, userID int64) (*Session, error) {
	if userID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	session := NewSession(userID, s.now())
	if err := s.store.Save(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save submission session")
	}
	return session, nil
}

func (s *Service) Current(ctx context.Context, userID int64) (*Session, error) {
	session, err := s.store.Load(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load submission session")
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no submission in progress")
	}
	return session, nil
}

// Advance feeds one answer into the form. The first answer may arrive without
// an explicit Start.
func (s *Service) Advance(ctx context.Context, userID int64, in Input) (*Session, error) {
	session, err := s.store.Load(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load submission session")
	}
	if session == nil {
		if session, err = s.Start(ctx, userID); err != nil {
			return nil, err
		}
	}
	if err := session.Advance(in, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save submission session")
	}
	return session, nil
}

func (s *Service) Cancel(ctx context.Context, userID int64) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete submission session")
	}
	return nil
}

// Submit turns a confirmed form into a pending work. The session is cleared
// before the catalog sees it, so a form can produce at most one work; it is
// put back if the catalog refuses it.
func (s *Service) Submit(ctx context.Context, userID int64, username string) (*models.Work, error) {
	session, err := s.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !session.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "form is not complete").
			WithDetails(map[string]any{"step": session.Step})
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear submission session")
	}

	work, err := s.catalog.Submit(ctx, catalog.SubmitInput{
		AuthorID:       userID,
		AuthorUsername: username,
		Title:          session.Title,
		Description:    session.Description,
		Price:          session.Price,
		CategoryID:     session.CategoryID,
		SubcategoryID:  session.SubcategoryID,
		PreviewImageID: session.PreviewImageID,
		Files:          session.Files,
	})
	if err != nil {
		if saveErr := s.store.Save(ctx, session); saveErr != nil {
			s.logg.Error(s.logg.WithUserID(ctx, userID), "restore submission session failed", saveErr)
		}
		return nil, err
	}
	return work, nil
}
