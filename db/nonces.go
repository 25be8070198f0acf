package db

import (
	"errors"
	"time"

	"github.com/scriptstage/backend/db/model"
	"gorm.io/gorm"
)

func (d *Database) CreateWalletNonce(n *model.WalletNonce) error {
	return d.conn.Create(n).Error
}

func (d *Database) GetWalletNonce(subjectType string, subjectID uint, nonce string) (n *model.WalletNonce, err error) {
	n = &model.WalletNonce{}
	err = d.conn.Where("subject_type = ? AND subject_id = ? AND nonce = ?", subjectType, subjectID, nonce).
		First(n).Error
	if err != nil {
		return nil, err
	}
	return
}

// ConsumeWalletNonce flips consumed_at from null to now in one conditional
// update. Exactly one of any number of racing verifications gets true.
func (d *Database) ConsumeWalletNonce(id uint) (bool, error) {
	res := d.conn.Model(&model.WalletNonce{}).
		Where("id = ? AND consumed_at IS NULL", id).
		Update("consumed_at", time.Now().UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteExpiredNonces garbage-collects nonces that can never verify again:
// expired, or consumed more than a day ago.
func (d *Database) DeleteExpiredNonces(now time.Time) (int64, error) {
	res := d.conn.Where("expires_at < ? OR consumed_at < ?", now, now.Add(-24*time.Hour)).
		Delete(&model.WalletNonce{})
	return res.RowsAffected, res.Error
}

// UpdateUserWallet registers a payout wallet for a user.
func (d *Database) UpdateUserWallet(userID uint, wallet string) error {
	return d.conn.Model(&model.User{}).Where("id = ?", userID).
		Update("wallet_address", wallet).Error
}

// AdjustStake applies a nonce-authorized stake delta. The stake event's
// unique idempotency key rejects replays; unstaking below zero is rejected
// by the guarded update.
func (d *Database) AdjustStake(event *model.StakeEvent, delta int64) (bool, error) {
	var applied bool
	err := d.conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		res := tx.Model(&model.User{}).
			Where("id = ? AND staked_units + ? >= 0", event.UserID, delta).
			Update("staked_units", gorm.Expr("staked_units + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected == 1
		if !applied {
			return errInsufficientStake
		}
		return nil
	})
	if errors.Is(err, errInsufficientStake) {
		return false, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, ErrDuplicateStakeEvent
	}
	return applied, err
}

var (
	errInsufficientStake   = errors.New("insufficient staked balance")
	ErrDuplicateStakeEvent = errors.New("stake idempotency key already used")
)
