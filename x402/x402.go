// Package x402 implements the payment-proof side of the settlement pipeline:
// parsing X-PAYMENT headers, building 402 Payment Required bodies and talking
// to the external facilitator that verifies and settles proofs.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// HeaderPayment carries the base64-encoded payment proof.
const HeaderPayment = "X-PAYMENT"

const x402Version = 1

var ErrMalformedPayment = errors.New("malformed payment header")

// ParsePaymentHeader decodes an X-PAYMENT header into a PaymentPayload.
// An empty or undecodable header is a client error, not a facilitator error.
func ParsePaymentHeader(header string) (*PaymentPayload, error) {
	if header == "" {
		return nil, fmt.Errorf("%w: empty header", ErrMalformedPayment)
	}

	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedPayment, err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedPayment, err)
	}

	if payload.X402Version == 0 {
		return nil, fmt.Errorf("%w: x402Version is required", ErrMalformedPayment)
	}
	if payload.Scheme == "" {
		return nil, fmt.Errorf("%w: scheme is required", ErrMalformedPayment)
	}
	if payload.Network == "" {
		return nil, fmt.Errorf("%w: network is required", ErrMalformedPayment)
	}
	if payload.Payload == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrMalformedPayment)
	}

	return &payload, nil
}

// PaymentConfig is the process-wide payment scheme configuration: what asset
// on what network, paid to which treasury address.
type PaymentConfig struct {
	Scheme         string // "exact"
	Network        string // e.g. "base-sepolia"
	AssetContract  string
	TreasuryWallet string
	TimeoutSeconds int
}

// BuildRequirements computes the payment requirements for one resource at a
// given price in atomic units.
func BuildRequirements(cfg PaymentConfig, resource, description string, priceAtomic int64) *PaymentRequirements {
	return &PaymentRequirements{
		Scheme:            cfg.Scheme,
		Network:           cfg.Network,
		MaxAmountRequired: strconv.FormatInt(priceAtomic, 10),
		Asset:             cfg.AssetContract,
		PayTo:             cfg.TreasuryWallet,
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		MaxTimeoutSeconds: cfg.TimeoutSeconds,
	}
}

// BuildPaymentRequired builds the 402 body the handler returns when the
// proof is absent or invalid.
func BuildPaymentRequired(reqs *PaymentRequirements, reason string) *PaymentRequiredResponse {
	if reason == "" {
		reason = "Payment required"
	}
	return &PaymentRequiredResponse{
		X402Version: x402Version,
		Error:       reason,
		Accepts:     []PaymentRequirements{*reqs},
	}
}
