package model

import (
	"time"
)

// Payout recipient roles.
const (
	RoleCreator  = "creator"
	RolePlatform = "platform"
	RoleAgent    = "agent"
)

// Payout statuses. pending -> sent|failed via the payout worker,
// unclaimed -> pending when a wallet is registered,
// unclaimed -> swept after the retention window,
// failed -> refunded once the queued refund is sent.
const (
	PayoutStatusPending   = "pending"
	PayoutStatusSent      = "sent"
	PayoutStatusFailed    = "failed"
	PayoutStatusUnclaimed = "unclaimed"
	PayoutStatusRefunded  = "refunded"
	PayoutStatusSwept     = "swept"
)

type Payout struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	TipID       uint      `gorm:"index;not null" json:"tip_id"`
	Role        string    `gorm:"not null" json:"role"`
	UserID      uint      `gorm:"index" json:"user_id"` // recipient; zero for the platform role
	Wallet      string    `json:"wallet"`               // empty => unclaimed
	AmountUnits int64     `json:"amount_units"`
	Status      string    `gorm:"index;default:'pending'" json:"status"`
	TransferTx  string    `json:"transfer_tx"`
	FailReason  string    `json:"fail_reason,omitempty"`
}
