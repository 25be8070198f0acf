package model

import "time"

type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Username      string    `gorm:"uniqueIndex" json:"username"`
	WalletAddress string    `gorm:"index" json:"wallet_address"` // payout destination; empty until registered
	StakedUnits   int64     `gorm:"default:0" json:"staked_units"`
	IsAgent       bool      `gorm:"default:false" json:"is_agent"`
}
