package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/scriptstage/backend/db/model"
)

// NonceMessage is the full content of the message a wallet signs. Every
// field the operation depends on is embedded in the signed text, so a
// captured signature cannot be replayed against a different amount, wallet
// or operation.
type NonceMessage struct {
	SubjectType string
	SubjectID   uint
	Wallet      string
	Nonce       string
	Operation   string
	IssuedAt    time.Time
	ExpiresAt   time.Time

	// Operation-specific fields. Zero values are omitted from the message.
	TargetWallet   string
	AmountUnits    int64
	IdempotencyKey string
}

// Build renders the canonical human-readable signing message. Line order is
// fixed; Verify reconstructs the expected message field by field.
func (m *NonceMessage) Build() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ScriptStage wants your signature for: %s\n", m.Operation)
	fmt.Fprintf(&b, "Subject: %s:%d\n", m.SubjectType, m.SubjectID)
	fmt.Fprintf(&b, "Wallet: %s\n", m.Wallet)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s\n", m.IssuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Expires At: %s", m.ExpiresAt.UTC().Format(time.RFC3339))
	if m.TargetWallet != "" {
		fmt.Fprintf(&b, "\nTarget Wallet: %s", m.TargetWallet)
	}
	if m.AmountUnits > 0 {
		fmt.Fprintf(&b, "\nAmount: %d", m.AmountUnits)
	}
	if m.IdempotencyKey != "" {
		fmt.Fprintf(&b, "\nIdempotency Key: %s", m.IdempotencyKey)
	}
	return b.String()
}

// ParseNonceMessage parses a signed message back into its fields. Rejects
// anything that does not match the canonical layout.
func ParseNonceMessage(raw string) (*NonceMessage, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) < 6 {
		return nil, fmt.Errorf("message has %d lines, want at least 6", len(lines))
	}

	m := &NonceMessage{}

	op, ok := strings.CutPrefix(lines[0], "ScriptStage wants your signature for: ")
	if !ok {
		return nil, fmt.Errorf("bad header line")
	}
	m.Operation = op

	subject, ok := strings.CutPrefix(lines[1], "Subject: ")
	if !ok {
		return nil, fmt.Errorf("bad subject line")
	}
	subjType, subjID, found := strings.Cut(subject, ":")
	if !found {
		return nil, fmt.Errorf("bad subject format")
	}
	id, err := strconv.ParseUint(subjID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad subject id: %v", err)
	}
	m.SubjectType = subjType
	m.SubjectID = uint(id)

	if m.Wallet, ok = strings.CutPrefix(lines[2], "Wallet: "); !ok {
		return nil, fmt.Errorf("bad wallet line")
	}
	if m.Nonce, ok = strings.CutPrefix(lines[3], "Nonce: "); !ok {
		return nil, fmt.Errorf("bad nonce line")
	}

	issued, ok := strings.CutPrefix(lines[4], "Issued At: ")
	if !ok {
		return nil, fmt.Errorf("bad issued-at line")
	}
	if m.IssuedAt, err = time.Parse(time.RFC3339, issued); err != nil {
		return nil, fmt.Errorf("bad issued-at: %v", err)
	}

	expires, ok := strings.CutPrefix(lines[5], "Expires At: ")
	if !ok {
		return nil, fmt.Errorf("bad expires-at line")
	}
	if m.ExpiresAt, err = time.Parse(time.RFC3339, expires); err != nil {
		return nil, fmt.Errorf("bad expires-at: %v", err)
	}

	for _, line := range lines[6:] {
		switch {
		case strings.HasPrefix(line, "Target Wallet: "):
			m.TargetWallet = strings.TrimPrefix(line, "Target Wallet: ")
		case strings.HasPrefix(line, "Amount: "):
			m.AmountUnits, err = strconv.ParseInt(strings.TrimPrefix(line, "Amount: "), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad amount: %v", err)
			}
		case strings.HasPrefix(line, "Idempotency Key: "):
			m.IdempotencyKey = strings.TrimPrefix(line, "Idempotency Key: ")
		default:
			return nil, fmt.Errorf("unexpected line %q", line)
		}
	}

	return m, nil
}

// IssuedNonce is what the nonce endpoint returns: the persisted nonce plus
// the exact message the wallet must sign.
type IssuedNonce struct {
	Nonce     string    `json:"nonce"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Message   string    `json:"message"`
}

// IssueNonce generates a random single-use nonce, persists it with a short
// TTL and returns the canonical message embedding the operation and its
// fields.
func (s *Service) IssueNonce(subjectType string, subjectID uint, wallet, operation string, target string, amount int64, idemKey string) (*IssuedNonce, error) {
	switch operation {
	case model.OpRegisterWallet, model.OpStake, model.OpUnstake, model.OpClaimRewards:
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrValidation, operation)
	}
	if wallet == "" {
		return nil, fmt.Errorf("%w: wallet address is required", ErrValidation)
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	nonce := hex.EncodeToString(buf)

	now := time.Now().UTC().Truncate(time.Second)
	row := &model.WalletNonce{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Wallet:      wallet,
		Nonce:       nonce,
		Operation:   operation,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.config.NonceTTL),
	}
	if err := s.store.CreateWalletNonce(row); err != nil {
		return nil, err
	}

	msg := &NonceMessage{
		SubjectType:    subjectType,
		SubjectID:      subjectID,
		Wallet:         wallet,
		Nonce:          nonce,
		Operation:      operation,
		IssuedAt:       row.IssuedAt,
		ExpiresAt:      row.ExpiresAt,
		TargetWallet:   target,
		AmountUnits:    amount,
		IdempotencyKey: idemKey,
	}

	return &IssuedNonce{
		Nonce:     nonce,
		IssuedAt:  row.IssuedAt,
		ExpiresAt: row.ExpiresAt,
		Message:   msg.Build(),
	}, nil
}

// NonceCheck is what the caller expects the signed message to authorize.
// Verification rejects on any mismatch between these fields and the message.
type NonceCheck struct {
	SubjectType    string
	SubjectID      uint
	Operation      string
	TargetWallet   string
	AmountUnits    int64
	IdempotencyKey string
}

// VerifyNonce validates a signed message against the expected operation and
// fields, checks the persisted nonce, recovers the signer and consumes the
// nonce atomically. Returns the parsed message on success; otherwise a
// specific, distinguishable reason.
func (s *Service) VerifyNonce(signature, rawMessage string, check NonceCheck) (*NonceMessage, string) {
	msg, err := ParseNonceMessage(rawMessage)
	if err != nil {
		return nil, ReasonMalformedMessage
	}

	// Anti-replay contract: every field the operation depends on must match
	// what this request is actually asking for.
	if msg.Operation != check.Operation {
		return nil, ReasonOperationMismatch
	}
	if msg.SubjectType != check.SubjectType || msg.SubjectID != check.SubjectID {
		return nil, ReasonFieldMismatch
	}
	if msg.TargetWallet != check.TargetWallet {
		return nil, ReasonFieldMismatch
	}
	if msg.AmountUnits != check.AmountUnits {
		return nil, ReasonFieldMismatch
	}
	if msg.IdempotencyKey != check.IdempotencyKey {
		return nil, ReasonFieldMismatch
	}

	row, err := s.store.GetWalletNonce(msg.SubjectType, msg.SubjectID, msg.Nonce)
	if err != nil {
		return nil, ReasonUnknownNonce
	}
	if row.Operation != msg.Operation || row.Wallet != msg.Wallet {
		return nil, ReasonFieldMismatch
	}
	if time.Now().After(row.ExpiresAt) {
		return nil, ReasonNonceExpired
	}
	if row.ConsumedAt != nil {
		return nil, ReasonNonceConsumed
	}

	valid, err := verifySignature(msg.Wallet, rawMessage, signature)
	if err != nil {
		return nil, ReasonBadSignature
	}
	if !valid {
		return nil, ReasonSignerMismatch
	}

	// The subject's registered wallet, once set, is the only wallet allowed
	// to sign for it.
	user, err := s.store.GetUserByID(msg.SubjectID)
	if err != nil {
		return nil, ReasonUnknownNonce
	}
	if user.WalletAddress != "" && !strings.EqualFold(user.WalletAddress, msg.Wallet) {
		return nil, ReasonSignerMismatch
	}

	// Single conditional update: of any number of racing verifications with
	// the same message, exactly one lands here first and wins.
	consumed, err := s.store.ConsumeWalletNonce(row.ID)
	if err != nil {
		return nil, ReasonUnknownNonce
	}
	if !consumed {
		return nil, ReasonNonceConsumed
	}

	return msg, ""
}

// verifySignature checks that the signature over message recovers to the
// given address. EVM addresses use EIP-191 personal-sign recovery; anything
// else is treated as a Solana ed25519 key.
func verifySignature(address, message, signatureStr string) (bool, error) {
	isEVM := strings.HasPrefix(address, "0x")

	if isEVM {
		if len(signatureStr) > 2 && signatureStr[:2] == "0x" {
			signatureStr = signatureStr[2:]
		}
		sigBytes, err := hex.DecodeString(signatureStr)
		if err != nil {
			return false, fmt.Errorf("invalid hex signature")
		}

		if len(sigBytes) != 65 {
			return false, fmt.Errorf("invalid signature length")
		}
		if sigBytes[64] >= 27 {
			sigBytes[64] -= 27
		}

		prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
		hash := crypto.Keccak256Hash([]byte(prefix + message))

		pubKey, err := crypto.SigToPub(hash.Bytes(), sigBytes)
		if err != nil {
			return false, err
		}

		recoveredAddr := crypto.PubkeyToAddress(*pubKey)
		return strings.EqualFold(recoveredAddr.Hex(), address), nil
	}

	// Solana: address is the base58 ed25519 public key; signMessage signs
	// the raw message bytes.
	pubKeyBytes, err := base58.Decode(address)
	if err != nil {
		return false, fmt.Errorf("invalid solana address: %v", err)
	}
	if len(pubKeyBytes) != 32 {
		return false, fmt.Errorf("invalid solana pubkey length")
	}

	sigBytes, err := base58.Decode(signatureStr)
	if err != nil {
		var hexErr error
		sigBytes, hexErr = hex.DecodeString(signatureStr)
		if hexErr != nil {
			return false, fmt.Errorf("invalid signature (not base58 or hex): %v", err)
		}
	}
	if len(sigBytes) != 64 {
		return false, fmt.Errorf("invalid ed25519 signature length: %d", len(sigBytes))
	}

	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), []byte(message), sigBytes), nil
}
