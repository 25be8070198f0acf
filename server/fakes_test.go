package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scriptstage/backend/db"
	"github.com/scriptstage/backend/db/model"
	"github.com/scriptstage/backend/x402"
)

// fakeStore is an in-memory Store with the same conditional-update semantics
// as the real database, guarded by one mutex so races in tests resolve the
// way the unique indexes and guarded updates resolve them in postgres.
type fakeStore struct {
	mu sync.Mutex

	users    map[uint]*model.User
	scripts  map[uint]*model.Script
	tips     map[uint]*model.Tip
	payouts  map[uint]*model.Payout
	refunds  map[uint]*model.Refund
	nonces   map[uint]*model.WalletNonce
	stakes   map[string]*model.StakeEvent // keyed by idempotency key
	sessions map[string]*model.UserSession

	nextID uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[uint]*model.User),
		scripts:  make(map[uint]*model.Script),
		tips:     make(map[uint]*model.Tip),
		payouts:  make(map[uint]*model.Payout),
		refunds:  make(map[uint]*model.Refund),
		nonces:   make(map[uint]*model.WalletNonce),
		stakes:   make(map[string]*model.StakeEvent),
		sessions: make(map[string]*model.UserSession),
	}
}

func (f *fakeStore) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addUser(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == 0 {
		u.ID = f.id()
	}
	f.users[u.ID] = &u
	return &u
}

func (f *fakeStore) addScript(sc model.Script) *model.Script {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sc.ID == 0 {
		sc.ID = f.id()
	}
	f.scripts[sc.ID] = &sc
	return &sc
}

func (f *fakeStore) GetUserByID(id uint) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d not found", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByUsername(username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q not found", username)
}

func (f *fakeStore) UpdateUserWallet(userID uint, wallet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return fmt.Errorf("user %d not found", userID)
	}
	u.WalletAddress = wallet
	return nil
}

func (f *fakeStore) AdjustStake(event *model.StakeEvent, delta int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.stakes[event.IdempotencyKey]; dup {
		return false, db.ErrDuplicateStakeEvent
	}
	u, ok := f.users[event.UserID]
	if !ok {
		return false, fmt.Errorf("user %d not found", event.UserID)
	}
	if u.StakedUnits+delta < 0 {
		return false, nil
	}
	event.ID = f.id()
	f.stakes[event.IdempotencyKey] = event
	u.StakedUnits += delta
	return true, nil
}

func (f *fakeStore) GetScriptByID(id uint) (*model.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.scripts[id]
	if !ok {
		return nil, fmt.Errorf("script %d not found", id)
	}
	cp := *sc
	return &cp, nil
}

func (f *fakeStore) CreateTipWithPayouts(tip *model.Tip, payouts []*model.Payout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tips {
		if t.ScriptID == tip.ScriptID && t.VoterKey == tip.VoterKey {
			return db.ErrDuplicateTip
		}
	}
	sc, ok := f.scripts[tip.ScriptID]
	if !ok {
		return fmt.Errorf("script %d not found", tip.ScriptID)
	}
	tip.ID = f.id()
	tip.CreatedAt = time.Now()
	f.tips[tip.ID] = tip
	sc.TipCount++
	sc.TipTotalUnits += tip.AmountUnits
	for _, p := range payouts {
		p.ID = f.id()
		p.TipID = tip.ID
		p.CreatedAt = time.Now()
		f.payouts[p.ID] = p
	}
	return nil
}

func (f *fakeStore) GetTipByID(id uint) (*model.Tip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tips[id]
	if !ok {
		return nil, fmt.Errorf("tip %d not found", id)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) GetTipsPaginated(scriptID uint, limit int, cursor uint) ([]model.Tip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Tip
	for id := f.nextID; id > 0 && len(out) < limit; id-- {
		t, ok := f.tips[id]
		if !ok || t.ScriptID != scriptID || t.Status != model.TipStatusConfirmed {
			continue
		}
		if cursor > 0 && id >= cursor {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeStore) PayoutsForTip(tipID uint) ([]model.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Payout
	for id := uint(1); id <= f.nextID; id++ {
		if p, ok := f.payouts[id]; ok && p.TipID == tipID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) PendingPayouts(limit int) ([]model.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Payout
	for id := uint(1); id <= f.nextID && len(out) < limit; id++ {
		if p, ok := f.payouts[id]; ok && p.Status == model.PayoutStatusPending && p.Wallet != "" {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkPayout(id uint, from, to, transferTx, failReason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payouts[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.TransferTx = transferTx
	p.FailReason = failReason
	return true, nil
}

func (f *fakeStore) ClaimUnclaimedPayouts(userID uint, wallet string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.payouts {
		if p.UserID == userID && p.Status == model.PayoutStatusUnclaimed {
			p.Status = model.PayoutStatusPending
			p.Wallet = wallet
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SweepablePayouts(cutoff time.Time, limit int) ([]model.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Payout
	for id := uint(1); id <= f.nextID && len(out) < limit; id++ {
		if p, ok := f.payouts[id]; ok && p.Status == model.PayoutStatusUnclaimed && p.CreatedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateRefund(refund *model.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	refund.ID = f.id()
	refund.CreatedAt = time.Now()
	if refund.Status == "" {
		refund.Status = model.RefundStatusPending
	}
	f.refunds[refund.ID] = refund
	return nil
}

func (f *fakeStore) PendingRefunds(limit int) ([]model.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Refund
	for id := uint(1); id <= f.nextID && len(out) < limit; id++ {
		if r, ok := f.refunds[id]; ok && r.Status == model.RefundStatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkRefund(id uint, from, to, transferTx, failReason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.TransferTx = transferTx
	r.FailReason = failReason
	return true, nil
}

func (f *fakeStore) CreateWalletNonce(n *model.WalletNonce) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.ID = f.id()
	f.nonces[n.ID] = n
	return nil
}

func (f *fakeStore) GetWalletNonce(subjectType string, subjectID uint, nonce string) (*model.WalletNonce, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.nonces {
		if n.SubjectType == subjectType && n.SubjectID == subjectID && n.Nonce == nonce {
			cp := *n
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("nonce not found")
}

func (f *fakeStore) ConsumeWalletNonce(id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nonces[id]
	if !ok || n.ConsumedAt != nil {
		return false, nil
	}
	now := time.Now()
	n.ConsumedAt = &now
	return true, nil
}

func (f *fakeStore) DeleteExpiredNonces(now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, nonce := range f.nonces {
		if nonce.ExpiresAt.Before(now) {
			delete(f.nonces, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountTipsByStatus() (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64)
	for _, t := range f.tips {
		out[t.Status]++
	}
	return out, nil
}

func (f *fakeStore) CountPayoutsByStatus() (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64)
	for _, p := range f.payouts {
		out[p.Status]++
	}
	return out, nil
}

func (f *fakeStore) CountRefundsByStatus() (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64)
	for _, r := range f.refunds {
		out[r.Status]++
	}
	return out, nil
}

func (f *fakeStore) SaveUserSession(session *model.UserSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session.ID = f.id()
	f.sessions[session.Token] = session
	return nil
}

func (f *fakeStore) GetUserSession(token string) (*model.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[token]
	if !ok {
		return nil, fmt.Errorf("session not found")
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) CleanupExpiredSessions() error { return nil }

// payoutByRole is a test helper.
func (f *fakeStore) payoutByRole(tipID uint, role string) *model.Payout {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payouts {
		if p.TipID == tipID && p.Role == role {
			cp := *p
			return &cp
		}
	}
	return nil
}

// fakeFacilitator implements x402.Facilitator with overridable behavior.
type fakeFacilitator struct {
	mu        sync.Mutex
	transfers []string // idempotency keys, in call order

	VerifyFunc   func(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerificationResult, error)
	SettleFunc   func(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettlementResult, error)
	TransferFunc func(ctx context.Context, to, amount, idemKey string) (*x402.TransferResult, error)
}

func (m *fakeFacilitator) Verify(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.VerificationResult, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, payload, reqs)
	}
	return &x402.VerificationResult{Valid: true, PayerAddress: "0xPayer"}, nil
}

func (m *fakeFacilitator) Settle(ctx context.Context, payload *x402.PaymentPayload, reqs *x402.PaymentRequirements) (*x402.SettlementResult, error) {
	if m.SettleFunc != nil {
		return m.SettleFunc(ctx, payload, reqs)
	}
	return &x402.SettlementResult{Success: true, Transaction: "0xsettled", Network: reqs.Network, Payer: "0xPayer"}, nil
}

func (m *fakeFacilitator) Transfer(ctx context.Context, to, amount, idemKey string) (*x402.TransferResult, error) {
	m.mu.Lock()
	m.transfers = append(m.transfers, idemKey)
	m.mu.Unlock()
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, to, amount, idemKey)
	}
	return &x402.TransferResult{Success: true, Transaction: "0xtransfer"}, nil
}

func (m *fakeFacilitator) transferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}

