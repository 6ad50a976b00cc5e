package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/scholarmarket-backend/pkg/db"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/lock"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/scholarmarket-backend/pkg/pagination"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 4000
	maxFilesPerWork   = 20
	pendingQueueLimit = 100
)

type txRunner interface {
	WithTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type accountEnsurer interface {
	EnsureAccount(ctx context.Context, id int64, username string) (*models.Account, error)
}

// Service covers a work's life from submission through moderation to removal.
type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*models.Work, error)
	Moderate(ctx context.Context, input ModerateInput) (*ModerationResult, error)
	Get(ctx context.Context, workID int64) (*WorkDetail, error)
	ListApproved(ctx context.Context, categoryID int64, params pagination.Params) (*ListResult, error)
	ListPending(ctx context.Context) ([]models.Work, error)
	ListByAuthor(ctx context.Context, authorID int64) ([]models.Work, error)
	ListCategories(ctx context.Context, parentID *int64) ([]models.Category, error)
	AuthorStats(ctx context.Context, authorID int64) (*AuthorStats, error)
	UpdateDetails(ctx context.Context, input UpdateInput) (*models.Work, error)
	SoftDelete(ctx context.Context, workID int64, byUserID int64) error
	HardDelete(ctx context.Context, workID int64, adminID int64) ([]payloads.FileRef, error)
}

// SubmitInput is a completed upload form.
type SubmitInput struct {
	AuthorID       int64
	AuthorUsername string
	Title          string
	Description    string
	Price          money.Amount
	CategoryID     *int64
	SubcategoryID  *int64
	PreviewImageID string
	Files          []payloads.FileRef
}

// ModerateInput carries an administrator verdict.
type ModerateInput struct {
	WorkID   int64
	AdminID  int64
	Decision enums.ModerationDecision
}

// ModerationResult reports the new status. Publication is set on approval.
type ModerationResult struct {
	WorkID      int64                 `json:"work_id"`
	AuthorID    int64                 `json:"author_id"`
	Status      enums.WorkStatus      `json:"status"`
	Publication *payloads.Publication `json:"publication,omitempty"`
}

// UpdateInput edits descriptive fields; nil fields are left unchanged.
type UpdateInput struct {
	WorkID         int64
	AdminID        int64
	Title          *string
	Description    *string
	CategoryID     *int64
	SubcategoryID  *int64
	PreviewImageID *string
}

// WorkDetail is a work together with its file references.
type WorkDetail struct {
	Work  models.Work
	Files []payloads.FileRef
}

// ListResult is one page of a category listing.
type ListResult struct {
	Works      []models.Work
	NextCursor string
}

// WorkStats is one row of the author earnings report.
type WorkStats struct {
	WorkID        int64            `json:"work_id"`
	Title         string           `json:"title"`
	Status        enums.WorkStatus `json:"status"`
	Price         money.Amount     `json:"price"`
	AuthorIncome  money.Amount     `json:"author_income"`
	TimesSold     int64            `json:"times_sold"`
	TotalEarnings money.Amount     `json:"total_earnings"`
	AuthorEarned  money.Amount     `json:"author_earned"`
}

// AuthorStats summarizes an author's catalog.
type AuthorStats struct {
	AuthorID    int64        `json:"author_id"`
	Works       []WorkStats  `json:"works"`
	TotalSold   int64        `json:"total_sold"`
	TotalEarned money.Amount `json:"total_earned"`
}

type service struct {
	repo          Repository
	tx            txRunner
	locker        lock.Locker
	outbox        outboxPublisher
	accounts      accountEnsurer
	authorPercent decimal.Decimal
	logg          *logger.Logger
}

// NewService builds the catalog service with the required dependencies.
func NewService(repo Repository, tx txRunner, locker lock.Locker, outbox outboxPublisher, accounts accountEnsurer, authorPercent decimal.Decimal, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account ensurer required")
	}
	return &service{
		repo:          repo,
		tx:            tx,
		locker:        locker,
		outbox:        outbox,
		accounts:      accounts,
		authorPercent: authorPercent,
		logg:          logg,
	}, nil
}

func (s *service) Submit(ctx context.Context, input SubmitInput) (*models.Work, error) {
	if input.AuthorID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "author identity missing")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" || len([]rune(title)) > maxTitleLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required and must be at most 200 characters")
	}
	description := strings.TrimSpace(input.Description)
	if len([]rune(description)) > maxDescriptionLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description is too long")
	}
	if input.Price <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	}
	if len(input.Files) == 0 || len(input.Files) > maxFilesPerWork {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "between 1 and 20 files are required")
	}
	for _, f := range input.Files {
		if strings.TrimSpace(f.FileID) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "file reference is empty")
		}
	}

	if _, err := s.accounts.EnsureAccount(ctx, input.AuthorID, input.AuthorUsername); err != nil {
		return nil, err
	}

	authorIncome, _ := money.Split(input.Price, s.authorPercent)
	work := &models.Work{
		Title:          title,
		Description:    description,
		Price:          input.Price.Int64(),
		AuthorIncome:   authorIncome.Int64(),
		CategoryID:     input.CategoryID,
		SubcategoryID:  input.SubcategoryID,
		AuthorID:       input.AuthorID,
		PreviewImageID: input.PreviewImageID,
		Status:         enums.WorkStatusPending,
	}
	for _, f := range input.Files {
		work.Files = append(work.Files, models.WorkFile{FileID: f.FileID, FileName: f.FileName})
	}

	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		// a replayed transaction must insert a fresh row
		work.ID = 0
		for i := range work.Files {
			work.Files[i].ID = 0
			work.Files[i].WorkID = 0
		}
		if err := s.repo.WithTx(tx).CreateWork(ctx, work); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWorkSubmitted,
			AggregateType: enums.AggregateWork,
			AggregateID:   strconv.FormatInt(work.ID, 10),
			Actor:         &outbox.ActorRef{UserID: input.AuthorID, Role: string(enums.RoleUser)},
			Data: payloads.WorkSubmitted{
				WorkID:   work.ID,
				AuthorID: work.AuthorID,
				Title:    work.Title,
				Price:    money.Amount(work.Price),
			},
		})
	})
	if err != nil {
		return nil, dbpkg.Classify(err, "create work")
	}

	s.info(ctx, work.ID, "work submitted for moderation")
	return work, nil
}

// Moderate applies an approve or reject verdict to a pending work. Only the
// first verdict wins; later ones fail with AlreadyModerated.
func (s *service) Moderate(ctx context.Context, input ModerateInput) (*ModerationResult, error) {
	if !input.Decision.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "decision must be approve or reject")
	}
	if input.AdminID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	target := input.Decision.Target()

	release, err := s.locker.Acquire(ctx, lock.WorkKey(input.WorkID))
	if err != nil {
		return nil, err
	}
	defer release()

	var result *ModerationResult
	err = s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		work, err := repo.FindWork(ctx, input.WorkID)
		if err != nil {
			return notFoundOr(err)
		}
		if work.IsDeleted {
			return pkgerrors.New(pkgerrors.CodeNotFound, "work not found")
		}
		if !work.Status.CanTransitionTo(target) {
			return alreadyModerated(work)
		}
		changed, err := repo.TransitionStatus(ctx, work.ID, enums.WorkStatusPending, target, input.AdminID)
		if err != nil {
			return err
		}
		if !changed {
			return alreadyModerated(work)
		}

		result = &ModerationResult{WorkID: work.ID, AuthorID: work.AuthorID, Status: target}
		event := outbox.DomainEvent{
			AggregateType: enums.AggregateWork,
			AggregateID:   strconv.FormatInt(work.ID, 10),
			Actor:         &outbox.ActorRef{UserID: input.AdminID, Role: string(enums.RoleAdmin)},
		}
		if target == enums.WorkStatusApproved {
			result.Publication = &payloads.Publication{
				WorkID:      work.ID,
				Title:       work.Title,
				Description: work.Description,
				Price:       money.Amount(work.Price),
				PreviewRef:  work.PreviewImageID,
			}
			event.EventType = enums.EventWorkApproved
			event.Data = result.Publication
		} else {
			event.EventType = enums.EventWorkRejected
			event.Data = payloads.WorkRejected{WorkID: work.ID, AuthorID: work.AuthorID, Title: work.Title}
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, dbpkg.Classify(err, "moderate work")
	}

	s.info(ctx, input.WorkID, "work moderated: "+string(target))
	return result, nil
}

func (s *service) Get(ctx context.Context, workID int64) (*WorkDetail, error) {
	work, err := s.repo.FindWork(ctx, workID)
	if err != nil {
		return nil, dbpkg.Classify(notFoundOr(err), "load work")
	}
	if work.IsDeleted {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "work not found")
	}
	files, err := s.repo.ListFiles(ctx, workID)
	if err != nil {
		return nil, dbpkg.Classify(err, "load work files")
	}
	return &WorkDetail{Work: *work, Files: toFileRefs(files)}, nil
}

func (s *service) ListApproved(ctx context.Context, categoryID int64, params pagination.Params) (*ListResult, error) {
	if categoryID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category id must be positive")
	}
	scope := "category:" + strconv.FormatInt(categoryID, 10)
	beforeID, err := pagination.ParseCursor(params.Cursor, scope)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	works, err := s.repo.ListApproved(ctx, categoryID, beforeID, limit+1)
	if err != nil {
		return nil, dbpkg.Classify(err, "list works")
	}

	page, next := pagination.Window(works, limit, scope, func(w models.Work) int64 { return w.ID })
	return &ListResult{Works: page, NextCursor: next}, nil
}

func (s *service) ListPending(ctx context.Context) ([]models.Work, error) {
	works, err := s.repo.ListPending(ctx, pendingQueueLimit)
	if err != nil {
		return nil, dbpkg.Classify(err, "list pending works")
	}
	return works, nil
}

func (s *service) ListByAuthor(ctx context.Context, authorID int64) ([]models.Work, error) {
	works, err := s.repo.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, dbpkg.Classify(err, "list author works")
	}
	return works, nil
}

func (s *service) ListCategories(ctx context.Context, parentID *int64) ([]models.Category, error) {
	categories, err := s.repo.ListCategories(ctx, parentID)
	if err != nil {
		return nil, dbpkg.Classify(err, "list categories")
	}
	return categories, nil
}

func (s *service) AuthorStats(ctx context.Context, authorID int64) (*AuthorStats, error) {
	works, err := s.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, err
	}
	credits, err := s.repo.SumAuthorCredits(ctx, authorID)
	if err != nil {
		return nil, dbpkg.Classify(err, "sum author credits")
	}
	stats := &AuthorStats{AuthorID: authorID, Works: make([]WorkStats, 0, len(works))}
	for _, w := range works {
		earned := money.Amount(credits[w.ID])
		stats.Works = append(stats.Works, WorkStats{
			WorkID:        w.ID,
			Title:         w.Title,
			Status:        w.Status,
			Price:         money.Amount(w.Price),
			AuthorIncome:  money.Amount(w.AuthorIncome),
			TimesSold:     w.TimesSold,
			TotalEarnings: money.Amount(w.TotalEarnings),
			AuthorEarned:  earned,
		})
		stats.TotalSold += w.TimesSold
		stats.TotalEarned += earned
	}
	return stats, nil
}

func (s *service) UpdateDetails(ctx context.Context, input UpdateInput) (*models.Work, error) {
	fields := map[string]any{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" || len([]rune(title)) > maxTitleLen {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required and must be at most 200 characters")
		}
		fields["title"] = title
	}
	if input.Description != nil {
		description := strings.TrimSpace(*input.Description)
		if len([]rune(description)) > maxDescriptionLen {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "description is too long")
		}
		fields["description"] = description
	}
	if input.CategoryID != nil {
		fields["category_id"] = *input.CategoryID
	}
	if input.SubcategoryID != nil {
		fields["subcategory_id"] = *input.SubcategoryID
	}
	if input.PreviewImageID != nil {
		fields["preview_image_id"] = *input.PreviewImageID
	}
	if len(fields) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}

	var updated *models.Work
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		work, err := repo.FindWork(ctx, input.WorkID)
		if err != nil {
			return notFoundOr(err)
		}
		if work.IsDeleted {
			return pkgerrors.New(pkgerrors.CodeNotFound, "work not found")
		}
		update := make(map[string]any, len(fields))
		for k, v := range fields {
			update[k] = v
		}
		if err := repo.UpdateDetails(ctx, work.ID, update); err != nil {
			return err
		}
		updated, err = repo.FindWork(ctx, work.ID)
		return err
	})
	if err != nil {
		return nil, dbpkg.Classify(err, "update work")
	}
	s.info(ctx, input.WorkID, "work details updated")
	return updated, nil
}

// SoftDelete hides the author's own work from every listing. Past purchases
// keep referring to it.
func (s *service) SoftDelete(ctx context.Context, workID int64, byUserID int64) error {
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		work, err := repo.FindWork(ctx, workID)
		if err != nil {
			return notFoundOr(err)
		}
		if work.IsDeleted {
			return pkgerrors.New(pkgerrors.CodeNotFound, "work not found")
		}
		if work.AuthorID != byUserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the author can delete this work")
		}
		_, err = repo.MarkDeleted(ctx, workID)
		return err
	})
	if err != nil {
		return dbpkg.Classify(err, "delete work")
	}
	s.info(ctx, workID, "work soft deleted by author")
	return nil
}

// HardDelete removes the work row and its file rows. The returned references
// let the caller purge the stored artifacts.
func (s *service) HardDelete(ctx context.Context, workID int64, adminID int64) ([]payloads.FileRef, error) {
	if adminID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	release, err := s.locker.Acquire(ctx, lock.WorkKey(workID))
	if err != nil {
		return nil, err
	}
	defer release()

	var removed []payloads.FileRef
	err = s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindWork(ctx, workID); err != nil {
			return notFoundOr(err)
		}
		files, err := repo.ListFiles(ctx, workID)
		if err != nil {
			return err
		}
		removed = toFileRefs(files)
		return repo.DeleteWithFiles(ctx, workID)
	})
	if err != nil {
		return nil, dbpkg.Classify(err, "hard delete work")
	}
	s.info(ctx, workID, "work removed by admin")
	return removed, nil
}

func (s *service) info(ctx context.Context, workID int64, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithWorkID(ctx, workID), msg)
}

func alreadyModerated(work *models.Work) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyModerated, "work has already been moderated").
		WithDetails(map[string]any{"work_id": work.ID, "status": work.Status})
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "work not found")
	}
	return err
}

func toFileRefs(files []models.WorkFile) []payloads.FileRef {
	refs := make([]payloads.FileRef, 0, len(files))
	for _, f := range files {
		refs = append(refs, payloads.FileRef{FileID: f.FileID, FileName: f.FileName})
	}
	return refs
}
