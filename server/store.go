package server

import (
	"time"

	"github.com/scriptstage/backend/db/model"
)

// Store is the persistence surface the service needs. *db.Database is the
// real implementation; tests swap in an in-memory fake. Every status
// transition behind this interface is a single conditional update so that
// overlapping workers and racing requests resolve to exactly one winner in
// the database, not in process memory.
type Store interface {
	GetUserByID(id uint) (*model.User, error)
	GetUserByUsername(username string) (*model.User, error)
	UpdateUserWallet(userID uint, wallet string) error
	AdjustStake(event *model.StakeEvent, delta int64) (bool, error)

	GetScriptByID(id uint) (*model.Script, error)

	CreateTipWithPayouts(tip *model.Tip, payouts []*model.Payout) error
	GetTipByID(id uint) (*model.Tip, error)
	GetTipsPaginated(scriptID uint, limit int, cursor uint) ([]model.Tip, error)
	PayoutsForTip(tipID uint) ([]model.Payout, error)

	PendingPayouts(limit int) ([]model.Payout, error)
	MarkPayout(id uint, from, to, transferTx, failReason string) (bool, error)
	ClaimUnclaimedPayouts(userID uint, wallet string) (int64, error)
	SweepablePayouts(cutoff time.Time, limit int) ([]model.Payout, error)

	CreateRefund(refund *model.Refund) error
	PendingRefunds(limit int) ([]model.Refund, error)
	MarkRefund(id uint, from, to, transferTx, failReason string) (bool, error)

	CreateWalletNonce(n *model.WalletNonce) error
	GetWalletNonce(subjectType string, subjectID uint, nonce string) (*model.WalletNonce, error)
	ConsumeWalletNonce(id uint) (bool, error)
	DeleteExpiredNonces(now time.Time) (int64, error)

	CountTipsByStatus() (map[string]int64, error)
	CountPayoutsByStatus() (map[string]int64, error)
	CountRefundsByStatus() (map[string]int64, error)

	SaveUserSession(session *model.UserSession) error
	GetUserSession(token string) (*model.UserSession, error)
	CleanupExpiredSessions() error
}
