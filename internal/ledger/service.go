package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/scholarmarket-backend/pkg/db"
	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
	"github.com/angelmondragon/scholarmarket-backend/pkg/lock"
	"github.com/angelmondragon/scholarmarket-backend/pkg/money"
)

const maxHistory = 100

type txRunner interface {
	WithTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes account balances and the balance-moving operations.
type Service interface {
	EnsureAccount(ctx context.Context, id int64, username string) (*models.Account, error)
	Balance(ctx context.Context, accountID int64) (money.Amount, error)
	Deposit(ctx context.Context, accountID int64, amount money.Amount) (*models.Transaction, error)
	Transfer(ctx context.Context, input TransferInput) (*models.Transaction, error)
	History(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error)
	Reconcile(ctx context.Context, accountID int64) (*Reconciliation, error)
	AuthorShare() decimal.Decimal
	PlatformAccountID() int64
	Within(tx *gorm.DB) Postings
}

// TransferInput moves Amount from From to To. A nil From means funds enter the
// system (deposit); a nil To means funds leave it (payout).
type TransferInput struct {
	From       *int64
	To         *int64
	Amount     money.Amount
	Kind       enums.TransactionKind
	WorkID     *int64
	PurchaseID *string
}

// SplitInput describes a settled sale: the buyer pays Amount, the author gets
// their share and the platform the remainder.
type SplitInput struct {
	BuyerID    int64
	AuthorID   int64
	Amount     money.Amount
	WorkID     int64
	PurchaseID string
}

// SplitResult reports how a sale was divided.
type SplitResult struct {
	AuthorShare   money.Amount
	PlatformShare money.Amount
	Rows          []models.Transaction
}

// Reconciliation compares the stored balance with the signed transaction log.
type Reconciliation struct {
	AccountID int64        `json:"account_id"`
	Balance   money.Amount `json:"balance"`
	LogSum    money.Amount `json:"log_sum"`
	Incoming  money.Amount `json:"incoming"`
	Outgoing  money.Amount `json:"outgoing"`
}

// Consistent reports whether the balance equals the log sum.
func (r Reconciliation) Consistent() bool {
	return r.Balance == r.LogSum
}

// Options carries the revenue split parameters.
type Options struct {
	AuthorPercent     decimal.Decimal
	PlatformAccountID int64
}

type service struct {
	repo   Repository
	tx     txRunner
	locker lock.Locker
	opts   Options
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, tx txRunner, locker lock.Locker, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if opts.PlatformAccountID <= 0 {
		return nil, fmt.Errorf("platform account id required")
	}
	if opts.AuthorPercent.IsNegative() || opts.AuthorPercent.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("author percent must be within [0,1]")
	}
	return &service{repo: repo, tx: tx, locker: locker, opts: opts}, nil
}

func (s *service) AuthorShare() decimal.Decimal {
	return s.opts.AuthorPercent
}

func (s *service) PlatformAccountID() int64 {
	return s.opts.PlatformAccountID
}

func (s *service) Within(tx *gorm.DB) Postings {
	return Postings{repo: s.repo.WithTx(tx), opts: s.opts}
}

func (s *service) EnsureAccount(ctx context.Context, id int64, username string) (*models.Account, error) {
	if id <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id must be positive")
	}
	var account *models.Account
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.EnsureAccount(ctx, &models.Account{ID: id, Username: username}); err != nil {
			return err
		}
		found, err := repo.FindAccount(ctx, id)
		if err != nil {
			return err
		}
		account = found
		return nil
	})
	if err != nil {
		return nil, dbpkg.Classify(err, "ensure account")
	}
	return account, nil
}

func (s *service) Balance(ctx context.Context, accountID int64) (money.Amount, error) {
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return 0, notFoundOr(err, "account not found", "load account")
	}
	return money.Amount(account.Balance), nil
}

func (s *service) Deposit(ctx context.Context, accountID int64, amount money.Amount) (*models.Transaction, error) {
	return s.Transfer(ctx, TransferInput{To: &accountID, Amount: amount, Kind: enums.TransactionDeposit})
}

// Transfer runs a single movement in its own transaction while holding the
// locks of every touched account.
func (s *service) Transfer(ctx context.Context, input TransferInput) (*models.Transaction, error) {
	if err := validateTransfer(input); err != nil {
		return nil, err
	}

	var keys []string
	if input.From != nil {
		keys = append(keys, lock.AccountKey(*input.From))
	}
	if input.To != nil {
		keys = append(keys, lock.AccountKey(*input.To))
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	var row *models.Transaction
	err = s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		created, err := s.Within(tx).Transfer(ctx, input)
		if err != nil {
			return err
		}
		row = created
		return nil
	})
	if err != nil {
		return nil, dbpkg.Classify(err, "transfer funds")
	}
	return row, nil
}

func (s *service) History(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	if _, err := s.repo.FindAccount(ctx, accountID); err != nil {
		return nil, notFoundOr(err, "account not found", "load account")
	}
	rows, err := s.repo.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, dbpkg.Classify(err, "list transactions")
	}
	return rows, nil
}

func (s *service) Reconcile(ctx context.Context, accountID int64) (*Reconciliation, error) {
	var out *Reconciliation
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := repo.FindAccount(ctx, accountID)
		if err != nil {
			return err
		}
		incoming, outgoing, err := repo.SumFlows(ctx, accountID)
		if err != nil {
			return err
		}
		out = &Reconciliation{
			AccountID: accountID,
			Balance:   money.Amount(account.Balance),
			LogSum:    money.Amount(incoming - outgoing),
			Incoming:  money.Amount(incoming),
			Outgoing:  money.Amount(outgoing),
		}
		return nil
	})
	if err != nil {
		return nil, notFoundOr(err, "account not found", "reconcile account")
	}
	return out, nil
}

// Postings applies balance movements inside a transaction owned by the caller.
// The caller is responsible for holding the account locks.
type Postings struct {
	repo Repository
	opts Options
}

// Transfer debits From (never below zero), credits To and appends one log row.
func (p Postings) Transfer(ctx context.Context, input TransferInput) (*models.Transaction, error) {
	if err := validateTransfer(input); err != nil {
		return nil, err
	}
	amount := input.Amount.Int64()

	if input.From != nil {
		ok, err := p.repo.Debit(ctx, *input.From, amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, p.debitFailure(ctx, *input.From, input.Amount)
		}
	}
	if input.To != nil {
		ok, err := p.repo.Credit(ctx, *input.To, amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found").
				WithDetails(map[string]any{"account_id": *input.To})
		}
	}

	row := &models.Transaction{
		FromUser:   input.From,
		ToUser:     input.To,
		WorkID:     input.WorkID,
		PurchaseID: input.PurchaseID,
		Amount:     amount,
		Type:       input.Kind,
	}
	if err := p.repo.InsertTransaction(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// Split debits the buyer the full amount and credits the author share and the
// platform remainder, writing one log row per credit.
func (p Postings) Split(ctx context.Context, input SplitInput) (*SplitResult, error) {
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale amount must be positive")
	}
	authorShare, platformShare := money.Split(input.Amount, p.opts.AuthorPercent)

	ok, err := p.repo.Debit(ctx, input.BuyerID, input.Amount.Int64())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, p.debitFailure(ctx, input.BuyerID, input.Amount)
	}

	result := &SplitResult{AuthorShare: authorShare, PlatformShare: platformShare}
	legs := []struct {
		to     int64
		amount money.Amount
	}{
		{to: input.AuthorID, amount: authorShare},
		{to: p.opts.PlatformAccountID, amount: platformShare},
	}
	for _, leg := range legs {
		if leg.amount == 0 {
			continue
		}
		credited, err := p.repo.Credit(ctx, leg.to, leg.amount.Int64())
		if err != nil {
			return nil, err
		}
		if !credited {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found").
				WithDetails(map[string]any{"account_id": leg.to})
		}
		buyer, to, workID, purchaseID := input.BuyerID, leg.to, input.WorkID, input.PurchaseID
		row := models.Transaction{
			FromUser:   &buyer,
			ToUser:     &to,
			WorkID:     &workID,
			PurchaseID: &purchaseID,
			Amount:     leg.amount.Int64(),
			Type:       enums.TransactionPurchase,
		}
		if err := p.repo.InsertTransaction(ctx, &row); err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func (p Postings) debitFailure(ctx context.Context, accountID int64, amount money.Amount) error {
	account, err := p.repo.FindAccount(ctx, accountID)
	if err != nil {
		return notFoundOr(err, "account not found", "load account")
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient balance").
		WithDetails(map[string]any{
			"account_id": accountID,
			"balance":   money.Amount(account.Balance).String(),
			"required":  amount.String(),
		})
}

func validateTransfer(input TransferInput) error {
	if input.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction kind")
	}
	if input.From == nil && input.To == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer needs a source or a destination")
	}
	if input.From != nil && input.To != nil && *input.From == *input.To {
		return pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer to the same account")
	}
	return nil
}

func notFoundOr(err error, notFoundMsg, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFoundMsg)
	}
	return dbpkg.Classify(err, op)
}
