package model

type IssueNonceRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Operation     string `json:"operation" binding:"required"`

	// Operation-specific fields, embedded in the signed message.
	TargetWallet   string `json:"target_wallet,omitempty"`
	AmountUnits    int64  `json:"amount_units,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type RegisterWalletRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
	Message       string `json:"message" binding:"required"`
}

type StakeRequest struct {
	AmountUnits    int64  `json:"amount_units" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	Signature      string `json:"signature" binding:"required"`
	Message        string `json:"message" binding:"required"`
}

type ClaimRewardsRequest struct {
	Signature string `json:"signature" binding:"required"`
	Message   string `json:"message" binding:"required"`
}
