package x402

import (
	"context"
	"time"
)

// PaymentRequirements describes one accepted way to pay for a resource.
// Amounts are strings of atomic units, per the x402 wire format.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"` // atomic units
	Asset             string `json:"asset"`             // token contract address
	PayTo             string `json:"payTo"`             // platform treasury address
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT header.
type PaymentPayload struct {
	X402Version int         `json:"x402Version"`
	Scheme      string      `json:"scheme"`
	Network     string      `json:"network"`
	Payload     interface{} `json:"payload"` // scheme-specific, passed through to the facilitator
}

// PaymentRequiredResponse is the 402 response body.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerificationResult is the facilitator's answer to a verify call.
type VerificationResult struct {
	Valid        bool   `json:"isValid"`
	Reason       string `json:"invalidReason,omitempty"`
	PayerAddress string `json:"payer,omitempty"`
}

// SettlementResult is the facilitator's answer to a settle call. Settlement
// is the single point where value moves.
type SettlementResult struct {
	Success     bool      `json:"success"`
	Transaction string    `json:"transaction,omitempty"`
	Network     string    `json:"network,omitempty"`
	Payer       string    `json:"payer,omitempty"`
	ErrorReason string    `json:"errorReason,omitempty"`
	SettledAt   time.Time `json:"-"`
}

// TransferResult is the facilitator's answer to a treasury transfer
// (payouts, refunds and sweeps).
type TransferResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Facilitator is the external settlement network. Implementations must treat
// timeouts as failure, never as success.
type Facilitator interface {
	// Verify checks a payment proof without moving funds. Read-only.
	Verify(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (*VerificationResult, error)

	// Settle submits the proof and moves the funds. Never retried here; an
	// uncertain outcome is reported as failure and the client retries the
	// whole request.
	Settle(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (*SettlementResult, error)

	// Transfer moves funds from the platform treasury to a wallet. The
	// idempotency key dedupes the operation across retries on the
	// facilitator side.
	Transfer(ctx context.Context, to string, amountAtomic string, idempotencyKey string) (*TransferResult, error)
}
