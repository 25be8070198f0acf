package db

import (
	"github.com/scriptstage/backend/db/model"
)

func (d *Database) CreateRefund(refund *model.Refund) error {
	return d.conn.Create(refund).Error
}

func (d *Database) PendingRefunds(limit int) ([]model.Refund, error) {
	var refunds []model.Refund
	err := d.conn.Where("status = ?", model.RefundStatusPending).
		Order("id").Limit(limit).Find(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

// MarkRefund is the refund worker's conditional status transition; same
// winner-takes-the-row shape as MarkPayout.
func (d *Database) MarkRefund(id uint, from, to, transferTx, failReason string) (bool, error) {
	res := d.conn.Model(&model.Refund{}).
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

func (d *Database) CountRefundsByStatus() (map[string]int64, error) {
	return d.countByStatus(&model.Refund{})
}
