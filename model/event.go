package model

import (
	"time"

	"gorm.io/gorm"
)

type EventType string

const (
	EventDeposit  EventType = "DEPOSIT"
	EventWithdraw EventType = "WITHDRAW"
)

// DepositWithdrawEvent is the append-only audit row of one on-chain Deposit or
// Submitted event, keyed by the emitting transaction hash.
type DepositWithdrawEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Type            EventType `gorm:"column:type;type:varchar(16);not null" json:"type"`
	Email           *string   `gorm:"column:email;type:varchar(255);index" json:"email"`
	FromAddress     *string   `gorm:"column:from_address;type:varchar(42)" json:"from_address,omitempty"`
	ToAddress       *string   `gorm:"column:to_address;type:varchar(42)" json:"to_address,omitempty"`
	Amount          Wei       `gorm:"column:amount;not null" json:"amount"`
	Timestamp       int64     `gorm:"column:timestamp;index" json:"timestamp"`
	TransactionHash string    `gorm:"column:transaction_hash;type:varchar(66);uniqueIndex;not null" json:"transaction_hash"`
	BlockNumber     uint64    `gorm:"column:block_number" json:"block_number"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (DepositWithdrawEvent) TableName() string { return "deposit_withdraw_events" }

// ProcessedBlock is the ingestion checkpoint: the highest block whose events
// have been persisted for a chain.
type ProcessedBlock struct {
	ID          uint   `gorm:"primaryKey"`
	Chain       string `gorm:"size:32;index:idx_chain_block,unique"`
	BlockNumber uint64 `gorm:"index:idx_chain_block,unique"`
	BlockHash   string `gorm:"size:66"`
	CreatedAt   time.Time
}

// helper: create tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Transaction{}, &DepositWithdrawEvent{}, &WithdrawalWhitelist{}, &ProcessedBlock{})
}
