package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
)

// Repository manages persistence for accounts and the transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnsureAccount(ctx context.Context, account *models.Account) error
	FindAccount(ctx context.Context, id int64) (*models.Account, error)
	LockAccount(ctx context.Context, id int64) (*models.Account, error)
	Debit(ctx context.Context, id int64, amount int64) (bool, error)
	Credit(ctx context.Context, id int64, amount int64) (bool, error)
	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error)
	SumFlows(ctx context.Context, accountID int64) (incoming int64, outgoing int64, err error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// EnsureAccount inserts the account when missing and refreshes a changed username.
func (r *repository) EnsureAccount(ctx context.Context, account *models.Account) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(account).Error; err != nil {
		return err
	}
	if account.Username == "" {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND (username IS NULL OR username <> ?)", account.ID, account.Username).
		Update("username", account.Username).Error
}

func (r *repository) FindAccount(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// LockAccount reads the account with a row lock where the driver supports one.
func (r *repository) LockAccount(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// Debit subtracts amount only while the balance covers it. It reports false
// when no row was changed, either because the account is missing or short.
func (r *repository) Debit(ctx context.Context, id int64, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND balance >= ?", id, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Credit(ctx context.Context, id int64, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn == nil {
		return errors.New("transaction row required")
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("from_user = ? OR to_user = ?", accountID, accountID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) SumFlows(ctx context.Context, accountID int64) (int64, int64, error) {
	var incoming, outgoing int64
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("to_user = ?", accountID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&incoming).Error; err != nil {
		return 0, 0, err
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("from_user = ?", accountID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&outgoing).Error; err != nil {
		return 0, 0, err
	}
	return incoming, outgoing, nil
}
