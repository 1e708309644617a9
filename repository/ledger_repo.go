package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omnibus_custody/model"
)

// LedgerRepository applies settled on-chain transfers to user balances. Each
// Credit/Debit is one database transaction: the balance change and the ledger
// row commit together, and the unique tx_hash makes a replay fail with
// ErrDuplicate instead of moving the balance twice.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Credit(ctx context.Context, rec *model.Transaction) error {
	rec.Direction = model.DirectionIn
	return r.apply(ctx, rec, func(before model.Wei) (model.Wei, error) {
		return before.Add(rec.Amount), nil
	})
}

func (r *LedgerRepository) Debit(ctx context.Context, rec *model.Transaction) error {
	rec.Direction = model.DirectionOut
	return r.apply(ctx, rec, func(before model.Wei) (model.Wei, error) {
		if before.Cmp(rec.Amount) < 0 {
			return model.Wei{}, ErrInsufficientBalance
		}
		return before.Sub(rec.Amount), nil
	})
}

func (r *LedgerRepository) apply(ctx context.Context, rec *model.Transaction, next func(model.Wei) (model.Wei, error)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", rec.UserID).First(&user).Error; err != nil {
			return notFound(err)
		}

		after, err := next(user.Balance)
		if err != nil {
			return err
		}
		rec.BalanceBefore = user.Balance
		rec.BalanceAfter = after
		if rec.Status == "" {
			rec.Status = model.TxStatusSuccess
		}

		if err := tx.Create(rec).Error; err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return err
		}
		return tx.Model(&model.User{}).Where("id = ?", user.ID).Update("balance", after).Error
	})
}

func (r *LedgerRepository) ExistsHash(ctx context.Context, hash string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("tx_hash = ?", hash).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *LedgerRepository) FindByHash(ctx context.Context, hash string) (*model.Transaction, error) {
	var t model.Transaction
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", hash).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListByUser returns the newest rows first; direction may be empty.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string, direction model.Direction, limit int) ([]model.Transaction, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if direction != "" {
		q = q.Where("direction = ?", direction)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var list []model.Transaction
	if err := q.Order("created_at desc, block_number desc, id desc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListByUserSince returns rows created at or after since, newest first.
func (r *LedgerRepository) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	var list []model.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at desc, block_number desc, id desc").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// List returns the newest ledger rows across all users.
func (r *LedgerRepository) List(ctx context.Context, limit int) ([]model.Transaction, error) {
	var list []model.Transaction
	q := r.db.WithContext(ctx).Order("created_at desc, block_number desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
