package server

import "errors"

// Error kinds for the settlement pipeline. Handlers translate these to
// status codes; core logic never touches HTTP.
var (
	// ErrValidation: malformed amount, address or request body. 400.
	ErrValidation = errors.New("validation failed")

	// ErrPaymentRequired: proof absent or rejected by the facilitator. The
	// handler responds 402 with the accepted payment requirements.
	ErrPaymentRequired = errors.New("payment required")

	// ErrSettlementFailed: the facilitator settle call failed. 402,
	// retryable by the client, and no ledger state was written.
	ErrSettlementFailed = errors.New("payment could not be processed")

	// ErrNotFound: target script or user does not exist. 404.
	ErrNotFound = errors.New("not found")
)

// Nonce verification failure reasons. All map to 401 and are reported
// verbatim so a client can tell them apart.
const (
	ReasonUnknownNonce      = "unknown nonce"
	ReasonNonceExpired      = "nonce expired"
	ReasonNonceConsumed     = "nonce already consumed"
	ReasonOperationMismatch = "operation mismatch"
	ReasonFieldMismatch     = "message field mismatch"
	ReasonSignerMismatch    = "signer does not match wallet"
	ReasonMalformedMessage  = "malformed message"
	ReasonBadSignature      = "invalid signature"
)
