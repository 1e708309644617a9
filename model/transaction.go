package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

const TxStatusSuccess = "success"

// 资金流水表：每一笔影响用户余额的链上转账一行，tx_hash 全局唯一
type Transaction struct {
	ID                string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TxHash            string    `gorm:"column:tx_hash;type:varchar(66);uniqueIndex;not null" json:"tx_hash"`
	UserID            string    `gorm:"column:user_id;type:varchar(36);index;not null" json:"user_id"`
	Direction         Direction `gorm:"column:direction;type:varchar(3);not null" json:"direction"`
	Status            string    `gorm:"column:status;type:varchar(16);not null" json:"status"`
	FromAddress       string    `gorm:"column:from_address;type:varchar(42)" json:"from_address"`
	ToAddress         string    `gorm:"column:to_address;type:varchar(42)" json:"to_address"`
	Amount            Wei       `gorm:"column:amount;not null" json:"amount"`
	GasUsed           uint64    `gorm:"column:gas_used" json:"gas_used"`
	EffectiveGasPrice Wei       `gorm:"column:effective_gas_price" json:"effective_gas_price"`
	FeePaid           Wei       `gorm:"column:fee_paid" json:"fee_paid"`
	BlockNumber       uint64    `gorm:"column:block_number;index" json:"block_number"`
	BlockHash         string    `gorm:"column:block_hash;type:varchar(66)" json:"block_hash"`
	BlockTimestamp    time.Time `gorm:"column:block_timestamp" json:"block_timestamp"`
	BalanceBefore     Wei       `gorm:"column:balance_before" json:"balance_before"`
	BalanceAfter      Wei       `gorm:"column:balance_after" json:"balance_after"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
