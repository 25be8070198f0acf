package db

import (
	"time"

	"github.com/scriptstage/backend/db/model"
)

// PendingPayouts returns payouts ready for the payout worker: pending status
// with a known destination wallet.
func (d *Database) PendingPayouts(limit int) ([]model.Payout, error) {
	var payouts []model.Payout
	err := d.conn.Where("status = ? AND wallet <> ''", model.PayoutStatusPending).
		Order("id").Limit(limit).Find(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

// MarkPayout transitions a payout from one status to another with a single
// conditional update. Returns false when another worker already moved the
// row, which is the whole double-payment protection.
func (d *Database) MarkPayout(id uint, from, to, transferTx, failReason string) (bool, error) {
	res := d.conn.Model(&model.Payout{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":      to,
			"transfer_tx": transferTx,
			"fail_reason": failReason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimUnclaimedPayouts converts all of a recipient's unclaimed payouts to
// pending with the freshly registered wallet, in one update.
func (d *Database) ClaimUnclaimedPayouts(userID uint, wallet string) (int64, error) {
	res := d.conn.Model(&model.Payout{}).
		Where("user_id = ? AND status = ?", userID, model.PayoutStatusUnclaimed).
		Updates(map[string]interface{}{
			"status": model.PayoutStatusPending,
			"wallet": wallet,
		})
	return res.RowsAffected, res.Error
}

// SweepablePayouts returns unclaimed payouts older than the retention cutoff.
func (d *Database) SweepablePayouts(cutoff time.Time, limit int) ([]model.Payout, error) {
	var payouts []model.Payout
	err := d.conn.Where("status = ? AND created_at < ?", model.PayoutStatusUnclaimed, cutoff).
		Order("id").Limit(limit).Find(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

func (d *Database) PayoutsForTip(tipID uint) ([]model.Payout, error) {
	var payouts []model.Payout
	if err := d.conn.Where("tip_id = ?", tipID).Order("id").Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (d *Database) CountPayoutsByStatus() (map[string]int64, error) {
	return d.countByStatus(&model.Payout{})
}
