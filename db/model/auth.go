package model

import (
	"time"
)

type UserSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// StakeEvent records each nonce-authorized stake mutation. The idempotency
// key comes from the signed message, so a replayed request cannot apply the
// same delta twice.
type StakeEvent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	Operation      string    `gorm:"not null" json:"operation"` // stake or unstake
	AmountUnits    int64     `json:"amount_units"`
	IdempotencyKey string    `gorm:"uniqueIndex;not null" json:"idempotency_key"`
}
