package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/scholarmarket-backend/internal/catalog"
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

const maxPurchaseHistory = 100

type txRunner interface {
	WithTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ledgerPoster is the slice of the ledger a settlement needs.
type ledgerPoster interface {
	EnsureAccount(ctx context.Context, id int64, username string) (*models.Account, error)
	PlatformAccountID() int64
	Within(tx *gorm.DB) ledger.Postings
}

// Service runs the purchase workflow from intent to fulfillment.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*models.Purchase, error)
	Settle(ctx context.Context, input SettleInput) (*payloads.Fulfillment, error)
	Buy(ctx context.Context, workID int64, buyerID int64) (*payloads.Fulfillment, error)
	Get(ctx context.Context, purchaseID string) (*models.Purchase, error)
	ListByBuyer(ctx context.Context, buyerID int64) ([]models.Purchase, error)
}

// InitiateInput opens a purchase intent for a work.
type InitiateInput struct {
	WorkID  int64
	BuyerID int64
	Funding enums.FundingSource
}

// SettleInput completes a pending purchase. Proof is the raw payment evidence,
// stored for audit when present.
type SettleInput struct {
	PurchaseID string
	Proof      string
}

type service struct {
	repo    Repository
	works   catalog.Repository
	tx      txRunner
	locker  lock.Locker
	ledger  ledgerPoster
	outbox  outboxPublisher
	metrics *metrics.Market
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires the purchase workflow. metrics and logg may be nil.
func NewService(repo Repository, works catalog.Repository, tx txRunner, locker lock.Locker, ledger ledgerPoster, outbox outboxPublisher, m *metrics.Market, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("purchases repository required")
	}
	if works == nil {
		return nil, fmt.Errorf("catalog repository required")
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
	return &service{
		repo:    repo,
		works:   works,
		tx:      tx,
		locker:  locker,
		ledger:  ledger,
		outbox:  outbox,
		metrics: m,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Initiate(ctx context.Context, input InitiateInput) (*models.Purchase, error) {
	if input.BuyerID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity missing")
	}
	if input.Funding == "" {
		input.Funding = enums.FundingBalance
	}
	if !input.Funding.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid funding source")
	}

	work, err := s.purchasableWork(ctx, input.WorkID)
	if err != nil {
		return nil, err
	}

	// the buyer lock keeps the balance check honest against concurrent debits
	release, err := s.acquire(ctx, "initiate", lock.AccountKey(input.BuyerID))
	if err != nil {
		return nil, err
	}
	defer release()

	// a buyer's first purchase may also be their first contact
	buyer, err := s.ledger.EnsureAccount(ctx, input.BuyerID, "")
	if err != nil {
		return nil, err
	}
	balance := money.Amount(buyer.Balance)
	if input.Funding == enums.FundingBalance && balance.Int64() < work.Price {
		return nil, insufficient(input.BuyerID, balance, money.Amount(work.Price))
	}

	purchase := &models.Purchase{
		ID:      uuid.NewString(),
		WorkID:  work.ID,
		BuyerID: input.BuyerID,
		Amount:  work.Price,
		Funding: input.Funding,
		Status:  enums.PurchaseStatusPending,
	}
	if err := s.repo.Create(ctx, purchase); err != nil {
		return nil, dbpkg.Classify(err, "create purchase")
	}
	s.info(ctx, purchase, "purchase initiated")
	return purchase, nil
}

// Settle completes a pending purchase exactly once. Concurrent or repeated
// calls for the same purchase fail with AlreadySettled and move no money.
func (s *service) Settle(ctx context.Context, input SettleInput) (*payloads.Fulfillment, error) {
	id := strings.TrimSpace(input.PurchaseID)
	if _, err := uuid.Parse(id); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase id must be a uuid")
	}

	purchase, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, dbpkg.Classify(notFoundOr(err, "purchase not found"), "load purchase")
	}
	if purchase.Status == enums.PurchaseStatusCompleted {
		s.metrics.Settlement(string(purchase.Funding), "already_settled")
		return nil, alreadySettled(purchase.ID)
	}
	work, err := s.works.FindWork(ctx, purchase.WorkID)
	if err != nil {
		return nil, dbpkg.Classify(notFoundOr(err, "work not found"), "load work")
	}

	release, err := s.acquire(ctx, "settle",
		lock.PurchaseKey(purchase.ID),
		lock.AccountKey(purchase.BuyerID),
		lock.AccountKey(work.AuthorID),
		lock.AccountKey(s.ledger.PlatformAccountID()),
	)
	if err != nil {
		return nil, err
	}
	defer release()

	var proof *string
	if p := strings.TrimSpace(input.Proof); p != "" {
		proof = &p
	}

	var fulfillment *payloads.Fulfillment
	err = s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.WithTx(tx).FindForUpdate(ctx, purchase.ID)
		if err != nil {
			return notFoundOr(err, "purchase not found")
		}
		fulfillment, err = s.settleInTx(ctx, tx, current, proof)
		return err
	})
	if err != nil {
		s.metrics.Settlement(string(purchase.Funding), resultLabel(err))
		return nil, dbpkg.Classify(err, "settle purchase")
	}
	s.metrics.Settlement(string(purchase.Funding), "settled")
	s.info(ctx, purchase, "purchase settled")
	return fulfillment, nil
}

// Buy is the single-step balance purchase: the intent and its settlement
// commit together, so an insufficient balance leaves no purchase row behind.
func (s *service) Buy(ctx context.Context, workID int64, buyerID int64) (*payloads.Fulfillment, error) {
	if buyerID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity missing")
	}
	work, err := s.purchasableWork(ctx, workID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.EnsureAccount(ctx, buyerID, ""); err != nil {
		return nil, err
	}

	purchaseID := uuid.NewString()
	release, err := s.acquire(ctx, "buy",
		lock.PurchaseKey(purchaseID),
		lock.AccountKey(buyerID),
		lock.AccountKey(work.AuthorID),
		lock.AccountKey(s.ledger.PlatformAccountID()),
	)
	if err != nil {
		return nil, err
	}
	defer release()

	var fulfillment *payloads.Fulfillment
	err = s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		// re-read under the transaction; moderation or deletion may have raced us
		current, err := s.works.WithTx(tx).FindWork(ctx, workID)
		if err != nil {
			return notFoundOr(err, "work not found")
		}
		if err := checkPurchasable(current); err != nil {
			return err
		}
		purchase := &models.Purchase{
			ID:      purchaseID,
			WorkID:  current.ID,
			BuyerID: buyerID,
			Amount:  current.Price,
			Funding: enums.FundingBalance,
			Status:  enums.PurchaseStatusPending,
		}
		if err := s.repo.WithTx(tx).Create(ctx, purchase); err != nil {
			return err
		}
		fulfillment, err = s.settleInTx(ctx, tx, purchase, nil)
		return err
	})
	if err != nil {
		s.metrics.Settlement(string(enums.FundingBalance), resultLabel(err))
		return nil, dbpkg.Classify(err, "buy work")
	}
	s.metrics.Settlement(string(enums.FundingBalance), "settled")
	s.info(ctx, &models.Purchase{ID: purchaseID, WorkID: workID, BuyerID: buyerID}, "work bought from balance")
	return fulfillment, nil
}

// settleInTx performs the state change, the money movement, the counters and
// the fulfillment event. The caller holds every lock involved.
func (s *service) settleInTx(ctx context.Context, tx *gorm.DB, purchase *models.Purchase, proof *string) (*payloads.Fulfillment, error) {
	if purchase.Status == enums.PurchaseStatusCompleted {
		return nil, alreadySettled(purchase.ID)
	}
	changed, err := s.repo.WithTx(tx).MarkCompleted(ctx, purchase.ID, proof, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, alreadySettled(purchase.ID)
	}

	works := s.works.WithTx(tx)
	work, err := works.FindWork(ctx, purchase.WorkID)
	if err != nil {
		return nil, notFoundOr(err, "work not found")
	}

	postings := s.ledger.Within(tx)
	amount := money.Amount(purchase.Amount)
	if purchase.Funding == enums.FundingExternal {
		buyer, purchaseID := purchase.BuyerID, purchase.ID
		if _, err := postings.Transfer(ctx, ledger.TransferInput{
			To:         &buyer,
			Amount:     amount,
			Kind:       enums.TransactionDeposit,
			PurchaseID: &purchaseID,
		}); err != nil {
			return nil, err
		}
	}
	split, err := postings.Split(ctx, ledger.SplitInput{
		BuyerID:    purchase.BuyerID,
		AuthorID:   work.AuthorID,
		Amount:     amount,
		WorkID:     work.ID,
		PurchaseID: purchase.ID,
	})
	if err != nil {
		return nil, err
	}
	if _, err := works.RecordSale(ctx, work.ID, purchase.Amount); err != nil {
		return nil, err
	}

	files, err := works.ListFiles(ctx, work.ID)
	if err != nil {
		return nil, err
	}
	fulfillment := &payloads.Fulfillment{
		PurchaseID:   purchase.ID,
		WorkID:       work.ID,
		Title:        work.Title,
		BuyerID:      purchase.BuyerID,
		AuthorID:     work.AuthorID,
		Price:        amount,
		AuthorIncome: split.AuthorShare,
		Funding:      purchase.Funding,
		Files:        make([]payloads.FileRef, 0, len(files)),
	}
	for _, f := range files {
		fulfillment.Files = append(fulfillment.Files, payloads.FileRef{FileID: f.FileID, FileName: f.FileName})
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPurchaseSettled,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   purchase.ID,
		Actor:         &outbox.ActorRef{UserID: purchase.BuyerID, Role: string(enums.RoleUser)},
		Data:          fulfillment,
	}); err != nil {
		return nil, err
	}
	return fulfillment, nil
}

func (s *service) Get(ctx context.Context, purchaseID string) (*models.Purchase, error) {
	purchase, err := s.repo.Find(ctx, strings.TrimSpace(purchaseID))
	if err != nil {
		return nil, dbpkg.Classify(notFoundOr(err, "purchase not found"), "load purchase")
	}
	return purchase, nil
}

func (s *service) ListByBuyer(ctx context.Context, buyerID int64) ([]models.Purchase, error) {
	rows, err := s.repo.ListByBuyer(ctx, buyerID, maxPurchaseHistory)
	if err != nil {
		return nil, dbpkg.Classify(err, "list purchases")
	}
	return rows, nil
}

func (s *service) purchasableWork(ctx context.Context, workID int64) (*models.Work, error) {
	if workID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "work id must be positive")
	}
	work, err := s.works.FindWork(ctx, workID)
	if err != nil {
		return nil, dbpkg.Classify(notFoundOr(err, "work not found"), "load work")
	}
	if err := checkPurchasable(work); err != nil {
		return nil, err
	}
	return work, nil
}

func (s *service) acquire(ctx context.Context, scope string, keys ...string) (lock.Release, error) {
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeBusy) {
			s.metrics.LockBusy(scope)
		}
		return nil, err
	}
	return release, nil
}

func (s *service) info(ctx context.Context, purchase *models.Purchase, msg string) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithPurchaseID(ctx, purchase.ID)
	ctx = s.logg.WithWorkID(ctx, purchase.WorkID)
	ctx = s.logg.WithUserID(ctx, purchase.BuyerID)
	s.logg.Info(ctx, msg)
}

// checkPurchasable hides pending, rejected and deleted works behind NotFound,
// the same answer a buyer gets for a work that never existed.
func checkPurchasable(work *models.Work) error {
	if work.IsDeleted || work.Status != enums.WorkStatusApproved {
		return pkgerrors.New(pkgerrors.CodeNotFound, "work not found").
			WithDetails(map[string]any{"work_id": work.ID})
	}
	return nil
}

func insufficient(accountID int64, balance, required money.Amount) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient balance").
		WithDetails(map[string]any{
			"account_id": accountID,
			"balance":   balance.String(),
			"required":  required.String(),
		})
}

func alreadySettled(purchaseID string) error {
	return pkgerrors.New(pkgerrors.CodeAlreadySettled, "purchase already settled").
		WithDetails(map[string]any{"purchase_id": purchaseID})
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	return err
}

func resultLabel(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}
