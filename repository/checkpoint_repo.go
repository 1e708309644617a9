package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omnibus_custody/model"
)

// CheckpointRepository tracks the highest ingested block per chain.
type CheckpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Last returns the highest processed block; ok is false when nothing has been
// processed yet.
func (r *CheckpointRepository) Last(ctx context.Context, chain string) (number uint64, hash string, ok bool, err error) {
	var pb model.ProcessedBlock
	err = r.db.WithContext(ctx).Where("chain = ?", chain).Order("block_number desc").First(&pb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return pb.BlockNumber, pb.BlockHash, true, nil
}

func (r *CheckpointRepository) Save(ctx context.Context, chain string, number uint64, hash string) error {
	pb := model.ProcessedBlock{Chain: chain, BlockNumber: number, BlockHash: hash}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "chain"}, {Name: "block_number"}}, DoNothing: true}).
		Create(&pb).Error
}

// Rewind drops checkpoints above number, used after a reorg is detected.
func (r *CheckpointRepository) Rewind(ctx context.Context, chain string, number uint64) error {
	return r.db.WithContext(ctx).
		Where("chain = ? AND block_number > ?", chain, number).
		Delete(&model.ProcessedBlock{}).Error
}

// Recent returns up to limit checkpoints, newest first.
func (r *CheckpointRepository) Recent(ctx context.Context, chain string, limit int) ([]model.ProcessedBlock, error) {
	var list []model.ProcessedBlock
	err := r.db.WithContext(ctx).Where("chain = ?", chain).Order("block_number desc").Limit(limit).Find(&list).Error
	return list, err
}
