package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/omnibus_custody/model"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DepositWithdrawEvent{}).
		Where("transaction_hash = ?", hash).Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *EventRepository) Create(ctx context.Context, ev *model.DepositWithdrawEvent) error {
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// List returns the newest events by block time.
func (r *EventRepository) List(ctx context.Context, limit int) ([]model.DepositWithdrawEvent, error) {
	var list []model.DepositWithdrawEvent
	q := r.db.WithContext(ctx).Order("timestamp desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DepositWithdrawEvent{}).Count(&n).Error
	return n, err
}
