package server

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/scriptstage/backend/db/model"
	servermodel "github.com/scriptstage/backend/server/model"
	"github.com/scriptstage/backend/x402"
)

type Service struct {
	store       Store
	facilitator x402.Facilitator
	config      Config
	logger      *log.Logger

	// Live tip notifications for creator dashboards.
	clients     map[uint]map[*websocket.Conn]bool // UserID -> set of conns
	connsToUser map[*websocket.Conn]uint
	clientsMu   sync.Mutex
}

func NewService(store Store, facilitator x402.Facilitator, config Config, logger *log.Logger) *Service {
	return &Service{
		store:       store,
		facilitator: facilitator,
		config:      config,
		logger:      logger,
		clients:     make(map[uint]map[*websocket.Conn]bool),
		connsToUser: make(map[*websocket.Conn]uint),
	}
}

// TipReceipt is the success response of the tip endpoint.
type TipReceipt struct {
	TipID        uint           `json:"tip_id"`
	ScriptID     uint           `json:"script_id"`
	AmountUnits  int64          `json:"amount_units"`
	SettlementTx string         `json:"settlement_tx"`
	Payouts      []model.Payout `json:"payouts"`
}

// ProcessTip runs the whole settlement pipeline for one tip request:
// verify the proof, settle the payment, then record tip + counters + payout
// obligations in one transaction. Settlement strictly precedes any ledger
// write; nothing is created "in case settlement succeeds".
func (s *Service) ProcessTip(ctx context.Context, scriptID uint, voterKey string, paymentHeader string) (*TipReceipt, *x402.PaymentRequiredResponse, error) {
	script, err := s.store.GetScriptByID(scriptID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: script %d", ErrNotFound, scriptID)
	}

	amount := s.config.DefaultTipUnits
	resource := fmt.Sprintf("/api/scripts/%d/tip", scriptID)
	description := fmt.Sprintf("Tip for script %q", script.Title)
	reqs := x402.BuildRequirements(s.config.Payment, resource, description, amount)

	payload, err := x402.ParsePaymentHeader(paymentHeader)
	if err != nil {
		return nil, x402.BuildPaymentRequired(reqs, "Payment required"), ErrPaymentRequired
	}

	verification, err := s.facilitator.Verify(ctx, payload, reqs)
	if err != nil || !verification.Valid {
		reason := "Payment verification failed"
		if verification != nil && verification.Reason != "" {
			reason = verification.Reason
		}
		return nil, x402.BuildPaymentRequired(reqs, reason), ErrPaymentRequired
	}

	payer := verification.PayerAddress
	if voterKey == "" {
		if payer == "" {
			return nil, nil, fmt.Errorf("%w: no payer identity", ErrValidation)
		}
		voterKey = payer
	}

	// The single point where money moves. A failure or timeout here leaves
	// no trace in the ledger; the client retries the whole request.
	settlement, err := s.facilitator.Settle(ctx, payload, reqs)
	if err != nil {
		s.logger.Printf("Settlement error for script %d: %v", scriptID, err)
		return nil, nil, ErrSettlementFailed
	}
	if !settlement.Success {
		s.logger.Printf("Settlement rejected for script %d: %s", scriptID, settlement.ErrorReason)
		return nil, nil, ErrSettlementFailed
	}

	payouts, err := s.buildPayouts(script, amount)
	if err != nil {
		// Money moved but we cannot even shape the ledger rows. Same class
		// as a failed commit below: reconciliation gap.
		s.logger.Printf("RECONCILE: settled tx %s for script %d has no ledger rows: %v",
			settlement.Transaction, scriptID, err)
		return nil, nil, err
	}

	tip := &model.Tip{
		ScriptID:     scriptID,
		VoterKey:     voterKey,
		PayerAddress: payer,
		AmountUnits:  amount,
		SettlementTx: settlement.Transaction,
		Network:      settlement.Network,
		Status:       model.TipStatusConfirmed,
	}

	if err := s.store.CreateTipWithPayouts(tip, payouts); err != nil {
		// Settlement succeeded but the ledger transaction did not commit.
		// Money has moved with no recorded obligation; this log line is the
		// input to the out-of-band reconciliation job.
		s.logger.Printf("RECONCILE: settled tx %s for script %d failed to record: %v",
			settlement.Transaction, scriptID, err)
		return nil, nil, err
	}

	s.notifyDashboards(script, tip)

	return &TipReceipt{
		TipID:        tip.ID,
		ScriptID:     scriptID,
		AmountUnits:  amount,
		SettlementTx: settlement.Transaction,
		Payouts:      dereferencePayouts(payouts),
	}, nil, nil
}

func dereferencePayouts(payouts []*model.Payout) []model.Payout {
	out := make([]model.Payout, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, *p)
	}
	return out
}

// RegisterPayoutWallet links a wallet to a user after nonce verification and
// converts all of their unclaimed payouts to pending in one update.
func (s *Service) RegisterPayoutWallet(userID uint, wallet, signature, message string) (int64, string, error) {
	if !validWalletAddress(wallet) {
		return 0, "", fmt.Errorf("%w: invalid wallet address", ErrValidation)
	}

	_, reason := s.VerifyNonce(signature, message, NonceCheck{
		SubjectType:  "user",
		SubjectID:    userID,
		Operation:    model.OpRegisterWallet,
		TargetWallet: wallet,
	})
	if reason != "" {
		return 0, reason, nil
	}

	if err := s.store.UpdateUserWallet(userID, wallet); err != nil {
		return 0, "", err
	}

	claimed, err := s.store.ClaimUnclaimedPayouts(userID, wallet)
	if err != nil {
		return 0, "", err
	}

	s.logger.Printf("User %d registered wallet %s, %d unclaimed payouts now pending", userID, wallet, claimed)
	return claimed, "", nil
}

// Stake applies a nonce-authorized stake of the given amount.
func (s *Service) Stake(userID uint, amount int64, idemKey, signature, message string) (string, error) {
	return s.adjustStake(userID, model.OpStake, amount, idemKey, signature, message)
}

// Unstake releases part of a user's staked balance.
func (s *Service) Unstake(userID uint, amount int64, idemKey, signature, message string) (string, error) {
	return s.adjustStake(userID, model.OpUnstake, amount, idemKey, signature, message)
}

func (s *Service) adjustStake(userID uint, operation string, amount int64, idemKey, signature, message string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if idemKey == "" {
		return "", fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}

	_, reason := s.VerifyNonce(signature, message, NonceCheck{
		SubjectType:    "user",
		SubjectID:      userID,
		Operation:      operation,
		AmountUnits:    amount,
		IdempotencyKey: idemKey,
	})
	if reason != "" {
		return reason, nil
	}

	delta := amount
	if operation == model.OpUnstake {
		delta = -amount
	}

	event := &model.StakeEvent{
		UserID:         userID,
		Operation:      operation,
		AmountUnits:    amount,
		IdempotencyKey: idemKey,
	}
	applied, err := s.store.AdjustStake(event, delta)
	if err != nil {
		return "", err
	}
	if !applied {
		return "", fmt.Errorf("%w: insufficient staked balance", ErrValidation)
	}
	return "", nil
}

// ClaimRewards converts a user's unclaimed payouts to pending against their
// already-registered wallet, after nonce verification.
func (s *Service) ClaimRewards(userID uint, signature, message string) (int64, string, error) {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return 0, "", fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if user.WalletAddress == "" {
		return 0, "", fmt.Errorf("%w: no registered payout wallet", ErrValidation)
	}

	_, reason := s.VerifyNonce(signature, message, NonceCheck{
		SubjectType: "user",
		SubjectID:   userID,
		Operation:   model.OpClaimRewards,
	})
	if reason != "" {
		return 0, reason, nil
	}

	claimed, err := s.store.ClaimUnclaimedPayouts(userID, user.WalletAddress)
	if err != nil {
		return 0, "", err
	}
	return claimed, "", nil
}

// GetTips returns a page of a script's confirmed tips with a cursor for the
// next page.
func (s *Service) GetTips(scriptID uint, limit int, cursor uint) ([]servermodel.TipResponseItem, string, error) {
	tips, err := s.store.GetTipsPaginated(scriptID, limit, cursor)
	if err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(tips) == limit && limit > 0 {
		nextCursor = strconv.FormatUint(uint64(tips[len(tips)-1].ID), 10)
	}

	items := make([]servermodel.TipResponseItem, 0, len(tips))
	for _, t := range tips {
		items = append(items, servermodel.TipResponseItem{
			CreatedAt:    t.CreatedAt.Format(time.RFC3339),
			VoterKey:     t.VoterKey,
			AmountUnits:  t.AmountUnits,
			SettlementTx: t.SettlementTx,
			Status:       t.Status,
		})
	}
	return items, nextCursor, nil
}

func validWalletAddress(addr string) bool {
	if common.IsHexAddress(addr) {
		return true
	}
	// Solana-style base58 key: 32 bytes once decoded.
	if len(addr) >= 32 && len(addr) <= 44 {
		return true
	}
	return false
}

// Websocket plumbing for creator dashboards.

func (s *Service) RegisterClient(conn *websocket.Conn, userID uint) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.clients[userID] == nil {
		s.clients[userID] = make(map[*websocket.Conn]bool)
	}
	s.clients[userID][conn] = true
	s.connsToUser[conn] = userID
}

func (s *Service) UnregisterClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if userID, ok := s.connsToUser[conn]; ok {
		if _, exists := s.clients[userID][conn]; exists {
			delete(s.clients[userID], conn)
			if len(s.clients[userID]) == 0 {
				delete(s.clients, userID)
			}
		}
		delete(s.connsToUser, conn)
		conn.Close()
	}
}

func (s *Service) notifyDashboards(script *model.Script, tip *model.Tip) {
	notification := servermodel.TipNotification{
		Type:        "TIP",
		ScriptID:    script.ID,
		ScriptTitle: script.Title,
		VoterKey:    tip.VoterKey,
		AmountUnits: tip.AmountUnits,
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if conns, ok := s.clients[script.CreatorID]; ok {
		for client := range conns {
			if err := client.WriteJSON(notification); err != nil {
				s.logger.Printf("WS write error: %v", err)
				client.Close()
				delete(conns, client)
				delete(s.connsToUser, client)
			}
		}
	}
}
