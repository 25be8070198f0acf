package model

import (
	"time"
)

// Tip statuses. A tip row is only ever written after the facilitator has
// settled the payment, so rows are created as confirmed; pending/failed
// exist for reconciliation imports.
const (
	TipStatusPending   = "pending"
	TipStatusConfirmed = "confirmed"
	TipStatusFailed    = "failed"
)

type Tip struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	ScriptID     uint      `gorm:"uniqueIndex:idx_tips_script_voter;not null" json:"script_id"`
	VoterKey     string    `gorm:"uniqueIndex:idx_tips_script_voter;not null" json:"voter_key"` // "agent:<id>" or payer address
	PayerAddress string    `gorm:"index" json:"payer_address"`
	AmountUnits  int64     `json:"amount_units"` // minor currency units
	SettlementTx string    `json:"settlement_tx"`
	Network      string    `json:"network"`
	Status       string    `gorm:"default:'confirmed'" json:"status"`
}
