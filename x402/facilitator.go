package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout = 10 * time.Second

	// Verify is read-only on the facilitator so transient transport errors
	// are worth a couple of retries. Settle is never retried.
	verifyMaxRetries  = 2
	verifyMaxInterval = 2 * time.Second
)

// FacilitatorClient talks to an x402 facilitation service over HTTP.
type FacilitatorClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *log.Logger
}

func NewFacilitatorClient(baseURL, apiKey string, logger *log.Logger) *FacilitatorClient {
	return &FacilitatorClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

type verifyRequest struct {
	X402Version int                  `json:"x402Version"`
	Payment     *PaymentPayload      `json:"paymentPayload"`
	Requirement *PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator to validate the payment proof against the
// computed requirements. Fails closed: any transport error, timeout or
// non-200 answer means not verified.
func (f *FacilitatorClient) Verify(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (*VerificationResult, error) {
	body := verifyRequest{X402Version: x402Version, Payment: payload, Requirement: reqs}

	var result VerificationResult
	op := func() error {
		return f.post(ctx, "/verify", body, &result)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newVerifyBackoff(), verifyMaxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		f.logger.Printf("Facilitator verify failed (treating as unverified): %v", err)
		return &VerificationResult{Valid: false, Reason: "facilitator unreachable"}, nil
	}

	return &result, nil
}

func newVerifyBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = verifyMaxInterval
	return b
}

// Settle submits the verified proof so the funds actually move. A timeout or
// transport error is a settlement failure; the caller surfaces it to the
// client, which retries the whole request. No retry happens here because a
// retried settle against an uncertain outcome could double-charge.
func (f *FacilitatorClient) Settle(ctx context.Context, payload *PaymentPayload, reqs *PaymentRequirements) (*SettlementResult, error) {
	body := verifyRequest{X402Version: x402Version, Payment: payload, Requirement: reqs}

	var result SettlementResult
	if err := f.post(ctx, "/settle", body, &result); err != nil {
		return nil, fmt.Errorf("facilitator settle: %w", err)
	}
	result.SettledAt = time.Now().UTC()

	return &result, nil
}

type transferRequest struct {
	To             string `json:"to"`
	Amount         string `json:"amount"` // atomic units
	IdempotencyKey string `json:"idempotencyKey"`
}

// Transfer moves funds out of the platform treasury. The idempotency key
// makes facilitator-side retries safe; this side still treats an uncertain
// outcome as failure.
func (f *FacilitatorClient) Transfer(ctx context.Context, to string, amountAtomic string, idempotencyKey string) (*TransferResult, error) {
	body := transferRequest{To: to, Amount: amountAtomic, IdempotencyKey: idempotencyKey}

	var result TransferResult
	if err := f.post(ctx, "/transfer", body, &result); err != nil {
		return nil, fmt.Errorf("facilitator transfer: %w", err)
	}

	return &result, nil
}

func (f *FacilitatorClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, msg)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
