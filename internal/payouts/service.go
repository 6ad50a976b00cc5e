package payouts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/scholarmarket-backend/internal/ledger"
	dbpkg "github.com/angelmondragon/scholarmarket-backend/pkg/db"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/lock"
	"github.com/angelmondragon/scholarmarket-backend/pkg/logger"
	"github.com/angelmondragon/scholarmarket-backend/pkg/metrics"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox"
	"github.com/angelmondragon/scholarmarket-backend/pkg/outbox/payloads"
)

const (
	listLimit          = 100
	maxRequisitesChars = 500
)

type txRunner interface {
	WithTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ledgerPoster interface {
	Balance(ctx context.Context, accountID int64) (money.Amount, error)
	Within(tx *gorm.DB) ledger.Postings
}

// Service queues author withdrawal requests for manual resolution.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.PayoutRequest, error)
	ListPending(ctx context.Context) ([]models.PayoutRequest, error)
	ListByUser(ctx context.Context, userID int64) ([]models.PayoutRequest, error)
	Resolve(ctx context.Context, input ResolveInput) (*models.PayoutRequest, error)
}

type RequestInput struct {
	UserID     int64
	Amount     money.Amount
	Requisites string
}

type ResolveInput struct {
	PayoutID int64
	AdminID  int64
	Outcome  enums.PayoutStatus
}

type service struct {
	repo    Repository
	tx      txRunner
	locker  lock.Locker
	ledger  ledgerPoster
	outbox  outboxPublisher
	metrics *metrics.Market
	logg    *logger.Logger
}

func NewService(repo Repository, tx txRunner, locker lock.Locker, ledger ledgerPoster, outbox outboxPublisher, m *metrics.Market, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, locker: locker, ledger: ledger, outbox: outbox, metrics: m, logg: logg}, nil
}

// Request records a pending withdrawal. The balance is checked when the
// request is paid, not here.
func (s *service) Request(ctx context.Context, input RequestInput) (*models.PayoutRequest, error) {
	if input.UserID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	requisites := strings.TrimSpace(input.Requisites)
	if len([]rune(requisites)) > maxRequisitesChars {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "requisites are too long")
	}
	if _, err := s.ledger.Balance(ctx, input.UserID); err != nil {
		return nil, err
	}

	req := &models.PayoutRequest{
		UserID:     input.UserID,
		Amount:     input.Amount.Int64(),
		Requisites: requisites,
		Status:     enums.PayoutStatusPending,
	}
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		req.ID = 0
		if err := s.repo.WithTx(tx).Create(ctx, req); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregatePayout,
			AggregateID:   strconv.FormatInt(req.ID, 10),
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: string(enums.RoleUser)},
			Data: payloads.PayoutRequested{
				PayoutID:   req.ID,
				UserID:     req.UserID,
				Amount:     input.Amount,
				Requisites: requisites,
			},
		})
	})
	if err != nil {
		return nil, dbpkg.Classify(err, "create payout request")
	}
	s.info(ctx, req, "payout requested")
	return req, nil
}

func (s *service) ListPending(ctx context.Context) ([]models.PayoutRequest, error) {
	rows, err := s.repo.ListPending(ctx, listLimit)
	if err != nil {
		return nil, dbpkg.Classify(err, "list pending payouts")
	}
	return rows, nil
}

func (s *service) ListByUser(ctx context.Context, userID int64) ([]models.PayoutRequest, error) {
	rows, err := s.repo.ListByUser(ctx, userID, listLimit)
	if err != nil {
		return nil, dbpkg.Classify(err, "list payouts")
	}
	return rows, nil
}

// Resolve settles a pending request. Paying debits the author in the same
// transaction; a short balance fails the call and keeps the request pending.
func (s *service) Resolve(ctx context.Context, input ResolveInput) (*models.PayoutRequest, error) {
	if input.AdminID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	if !input.Outcome.IsResolution() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outcome must be paid or rejected")
	}

	pending, err := s.repo.Find(ctx, input.PayoutID)
	if err != nil {
		return nil, dbpkg.Classify(notFoundOr(err), "load payout request")
	}

	release, err := s.locker.Acquire(ctx, lock.AccountKey(pending.UserID))
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeBusy) {
			s.metrics.LockBusy("payout")
		}
		return nil, err
	}
	defer release()

	var resolved *models.PayoutRequest
	err = s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		req, err := repo.FindForUpdate(ctx, input.PayoutID)
		if err != nil {
			return notFoundOr(err)
		}
		if req.Status != enums.PayoutStatusPending {
			return alreadyResolved(req)
		}
		now := time.Now().UTC()
		changed, err := repo.Resolve(ctx, req.ID, input.Outcome, input.AdminID, now)
		if err != nil {
			return err
		}
		if !changed {
			return alreadyResolved(req)
		}

		if input.Outcome == enums.PayoutStatusPaid {
			user := req.UserID
			if _, err := s.ledger.Within(tx).Transfer(ctx, ledger.TransferInput{
				From:   &user,
				Amount: money.Amount(req.Amount),
				Kind:   enums.TransactionPayout,
			}); err != nil {
				return err
			}
		}

		adminID := input.AdminID
		req.Status = input.Outcome
		req.ResolvedBy = &adminID
		req.ResolvedAt = &now
		resolved = req
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutResolved,
			AggregateType: enums.AggregatePayout,
			AggregateID:   strconv.FormatInt(req.ID, 10),
			Actor:         &outbox.ActorRef{UserID: input.AdminID, Role: string(enums.RoleAdmin)},
			Data: payloads.PayoutResolved{
				PayoutID: req.ID,
				UserID:   req.UserID,
				Amount:   money.Amount(req.Amount),
				Status:   input.Outcome,
			},
		})
	})
	if err != nil {
		return nil, dbpkg.Classify(err, "resolve payout")
	}
	s.metrics.Payout(string(input.Outcome))
	s.info(ctx, resolved, "payout resolved: "+string(input.Outcome))
	return resolved, nil
}

func (s *service) info(ctx context.Context, req *models.PayoutRequest, msg string) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithUserID(ctx, req.UserID)
	ctx = s.logg.WithField(ctx, "payout_id", req.ID)
	s.logg.Info(ctx, msg)
}

func alreadyResolved(req *models.PayoutRequest) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyResolved, "payout request already resolved").
		WithDetails(map[string]any{"payout_id": req.ID, "status": req.Status})
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payout request not found")
	}
	return err
}
