package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omnibus_custody/model"
)

type WhitelistRepository struct {
	db *gorm.DB
}

func NewWhitelistRepository(db *gorm.DB) *WhitelistRepository {
	return &WhitelistRepository{db: db}
}

// Upsert stores (user, address); registering an address twice is a no-op.
func (r *WhitelistRepository) Upsert(ctx context.Context, userID, to string) (*model.WithdrawalWhitelist, error) {
	entry := model.WithdrawalWhitelist{UserID: userID, ToAddress: strings.ToLower(to)}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}, {Name: "to_address"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return nil, err
	}
	var stored model.WithdrawalWhitelist
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND to_address = ?", entry.UserID, entry.ToAddress).
		First(&stored).Error; err != nil {
		return nil, notFound(err)
	}
	return &stored, nil
}

func (r *WhitelistRepository) List(ctx context.Context, userID string) ([]model.WithdrawalWhitelist, error) {
	var list []model.WithdrawalWhitelist
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at asc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *WhitelistRepository) Delete(ctx context.Context, userID, to string) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND to_address = ?", userID, strings.ToLower(to)).
		Delete(&model.WithdrawalWhitelist{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
