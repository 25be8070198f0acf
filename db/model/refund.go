package model

import (
	"time"
)

const (
	RefundStatusPending = "pending"
	RefundStatusSent    = "sent"
	RefundStatusFailed  = "failed"
)

type Refund struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	PayoutID       uint      `gorm:"index;not null" json:"payout_id"`
	PayerAddress   string    `gorm:"not null" json:"payer_address"`
	AmountUnits    int64     `json:"amount_units"`
	IdempotencyKey string    `gorm:"uniqueIndex;not null" json:"idempotency_key"`
	Status         string    `gorm:"index;default:'pending'" json:"status"`
	TransferTx     string    `json:"transfer_tx"`
	FailReason     string    `json:"fail_reason,omitempty"`
}
