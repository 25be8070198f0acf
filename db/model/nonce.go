package model

import (
	"time"
)

// Operations a wallet nonce can authorize. Closed set; anything else is
// rejected at issue time.
const (
	OpRegisterWallet = "register_wallet"
	OpStake          = "stake"
	OpUnstake        = "unstake"
	OpClaimRewards   = "claim_rewards"
)

// WalletNonce is one single-use authorization for one sensitive wallet
// operation. ConsumedAt flips null -> set exactly once, via a conditional
// update, which is what makes a captured signature worthless after first use.
type WalletNonce struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	SubjectType string     `gorm:"uniqueIndex:idx_nonce_subject;index:idx_nonce_lookup" json:"subject_type"`
	SubjectID   uint       `gorm:"uniqueIndex:idx_nonce_subject;index:idx_nonce_lookup" json:"subject_id"`
	Wallet      string     `gorm:"index;not null" json:"wallet"`
	Nonce       string     `gorm:"uniqueIndex:idx_nonce_subject;not null" json:"nonce"`
	Operation   string     `gorm:"not null" json:"operation"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `gorm:"index" json:"expires_at"`
	ConsumedAt  *time.Time `gorm:"index" json:"consumed_at,omitempty"`
}
