package db

import (
	"errors"
	"fmt"

	"github.com/scriptstage/backend/db/model"
	"gorm.io/gorm"
)

// ErrDuplicateTip means this voter_key already has a confirmed tip on the
// target script. It comes from the unique index, never from a check-then-act
// read, so it holds under concurrent requests.
var ErrDuplicateTip = errors.New("voter already tipped this script")

// CreateTipWithPayouts records a settled tip: the tip row, the script's
// aggregate counters and every payout obligation commit in one transaction
// or not at all. Callers must only invoke this after settlement succeeded.
func (d *Database) CreateTipWithPayouts(tip *model.Tip, payouts []*model.Payout) error {
	err := d.conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tip).Error; err != nil {
			return err
		}

		res := tx.Model(&model.Script{}).Where("id = ?", tip.ScriptID).Updates(map[string]interface{}{
			"tip_count":       gorm.Expr("tip_count + 1"),
			"tip_total_units": gorm.Expr("tip_total_units + ?", tip.AmountUnits),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("script %d not found", tip.ScriptID)
		}

		for _, p := range payouts {
			p.TipID = tip.ID
			if err := tx.Create(p).Error; err != nil {
				return err
			}
		}
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateTip
	}
	return err
}

func (d *Database) GetTipByID(id uint) (tip *model.Tip, err error) {
	tip = &model.Tip{}
	if err = d.conn.First(tip, id).Error; err != nil {
		return nil, err
	}
	return
}

// GetTipsPaginated returns a script's confirmed tips, newest first, using the
// id as cursor.
func (d *Database) GetTipsPaginated(scriptID uint, limit int, cursor uint) ([]model.Tip, error) {
	var tips []model.Tip
	q := d.conn.Where("script_id = ? AND status = ?", scriptID, model.TipStatusConfirmed).
		Order("id DESC").Limit(limit)
	if cursor > 0 {
		q = q.Where("id < ?", cursor)
	}
	if err := q.Find(&tips).Error; err != nil {
		return nil, err
	}
	return tips, nil
}

// CountTipsByStatus feeds the metrics-gauge refresh endpoint.
func (d *Database) CountTipsByStatus() (map[string]int64, error) {
	return d.countByStatus(&model.Tip{})
}

type statusCount struct {
	Status string
	N      int64
}

func (d *Database) countByStatus(m interface{}) (map[string]int64, error) {
	var rows []statusCount
	if err := d.conn.Model(m).Select("status, count(*) as n").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
