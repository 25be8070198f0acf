package server

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/scriptstage/backend/db/model"
	"github.com/scriptstage/backend/x402"
)

// BatchStats is what every scheduler-triggered worker reports. Per-item
// failures are counted here; they never abort the batch or escape the run.
type BatchStats struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped,omitempty"`
}

// RunPayouts executes pending payout obligations against recipient wallets.
// Safe under repeated and overlapping invocation: rows are selected in a
// known starting status and moved with a conditional update, so two workers
// touching the same row resolve to one winner. With nothing pending the run
// is a no-op.
func (s *Service) RunPayouts(ctx context.Context) (BatchStats, error) {
	var stats BatchStats

	payouts, err := s.store.PendingPayouts(s.config.WorkerBatchSize)
	if err != nil {
		return stats, err
	}

	for _, p := range payouts {
		stats.Attempted++

		idemKey := fmt.Sprintf("payout-%d", p.ID)
		result, err := s.facilitator.Transfer(ctx, p.Wallet, strconv.FormatInt(p.AmountUnits, 10), idemKey)

		if err != nil || !result.Success {
			reason := transferFailReason(result, err)
			s.logger.Printf("Payout %d transfer failed: %s", p.ID, reason)

			moved, markErr := s.store.MarkPayout(p.ID, model.PayoutStatusPending, model.PayoutStatusFailed, "", reason)
			if markErr != nil {
				s.logger.Printf("Payout %d status update failed: %v", p.ID, markErr)
				continue
			}
			if !moved {
				stats.Skipped++
				continue
			}
			stats.Failed++

			// A failed obligation is never left dangling: queue the money
			// back to the payer.
			if err := s.queueRefund(p); err != nil {
				s.logger.Printf("Payout %d refund enqueue failed: %v", p.ID, err)
			}
			continue
		}

		moved, err := s.store.MarkPayout(p.ID, model.PayoutStatusPending, model.PayoutStatusSent, result.Transaction, "")
		if err != nil {
			s.logger.Printf("Payout %d status update failed after transfer %s: %v", p.ID, result.Transaction, err)
			continue
		}
		if !moved {
			// A concurrent worker already finished this row.
			stats.Skipped++
			continue
		}
		stats.Sent++
	}

	return stats, nil
}

func (s *Service) queueRefund(p model.Payout) error {
	tip, err := s.store.GetTipByID(p.TipID)
	if err != nil {
		return fmt.Errorf("tip %d for payout %d: %w", p.TipID, p.ID, err)
	}
	if tip.PayerAddress == "" {
		return fmt.Errorf("tip %d has no payer address to refund", tip.ID)
	}

	return s.store.CreateRefund(&model.Refund{
		PayoutID:       p.ID,
		PayerAddress:   tip.PayerAddress,
		AmountUnits:    p.AmountUnits,
		IdempotencyKey: uuid.NewString(),
	})
}

// RunRefunds returns funds to payers for failed payouts. Same batch shape
// and double-execution protection as RunPayouts.
func (s *Service) RunRefunds(ctx context.Context) (BatchStats, error) {
	var stats BatchStats

	refunds, err := s.store.PendingRefunds(s.config.WorkerBatchSize)
	if err != nil {
		return stats, err
	}

	for _, r := range refunds {
		stats.Attempted++

		result, err := s.facilitator.Transfer(ctx, r.PayerAddress, strconv.FormatInt(r.AmountUnits, 10), r.IdempotencyKey)

		if err != nil || !result.Success {
			reason := transferFailReason(result, err)
			s.logger.Printf("Refund %d transfer failed: %s", r.ID, reason)

			moved, markErr := s.store.MarkRefund(r.ID, model.RefundStatusPending, model.RefundStatusFailed, "", reason)
			if markErr != nil {
				s.logger.Printf("Refund %d status update failed: %v", r.ID, markErr)
			} else if moved {
				stats.Failed++
			} else {
				stats.Skipped++
			}
			continue
		}

		moved, err := s.store.MarkRefund(r.ID, model.RefundStatusPending, model.RefundStatusSent, result.Transaction, "")
		if err != nil {
			s.logger.Printf("Refund %d status update failed after transfer %s: %v", r.ID, result.Transaction, err)
			continue
		}
		if !moved {
			stats.Skipped++
			continue
		}
		stats.Sent++

		// The source payout reached its terminal state once the money went
		// back.
		if _, err := s.store.MarkPayout(r.PayoutID, model.PayoutStatusFailed, model.PayoutStatusRefunded, "", ""); err != nil {
			s.logger.Printf("Payout %d refunded-status update failed: %v", r.PayoutID, err)
		}
	}

	return stats, nil
}

// SweepStats is the sweeper's report.
type SweepStats struct {
	Swept         int   `json:"swept"`
	Skipped       int   `json:"skipped,omitempty"`
	NoncesDeleted int64 `json:"nonces_deleted"`
}

// SweepUnclaimed moves long-unclaimed payout shares to the platform treasury
// after the retention window, and garbage-collects dead nonces while it is
// at it. Swept is terminal: that specific payout can no longer be claimed.
func (s *Service) SweepUnclaimed(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	cutoff := time.Now().Add(-s.config.UnclaimedRetention)
	payouts, err := s.store.SweepablePayouts(cutoff, s.config.WorkerBatchSize)
	if err != nil {
		return stats, err
	}

	for _, p := range payouts {
		idemKey := fmt.Sprintf("sweep-%d", p.ID)
		result, err := s.facilitator.Transfer(ctx, s.config.Payment.TreasuryWallet, strconv.FormatInt(p.AmountUnits, 10), idemKey)
		if err != nil || !result.Success {
			s.logger.Printf("Sweep transfer for payout %d failed: %s", p.ID, transferFailReason(result, err))
			continue
		}

		moved, err := s.store.MarkPayout(p.ID, model.PayoutStatusUnclaimed, model.PayoutStatusSwept, result.Transaction, "")
		if err != nil {
			s.logger.Printf("Payout %d sweep status update failed: %v", p.ID, err)
			continue
		}
		if !moved {
			stats.Skipped++
			continue
		}
		stats.Swept++
	}

	deleted, err := s.store.DeleteExpiredNonces(time.Now())
	if err != nil {
		s.logger.Printf("Nonce GC failed: %v", err)
	}
	stats.NoncesDeleted = deleted

	return stats, nil
}

// GaugeStats is the metrics-refresh report: current row counts by status for
// an external metrics scraper.
type GaugeStats struct {
	Tips    map[string]int64 `json:"tips"`
	Payouts map[string]int64 `json:"payouts"`
	Refunds map[string]int64 `json:"refunds"`
}

func (s *Service) RefreshGauges() (GaugeStats, error) {
	var stats GaugeStats
	var err error

	if stats.Tips, err = s.store.CountTipsByStatus(); err != nil {
		return stats, err
	}
	if stats.Payouts, err = s.store.CountPayoutsByStatus(); err != nil {
		return stats, err
	}
	if stats.Refunds, err = s.store.CountRefundsByStatus(); err != nil {
		return stats, err
	}
	return stats, nil
}

func transferFailReason(result *x402.TransferResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.ErrorReason != "" {
		return result.ErrorReason
	}
	return "transfer rejected"
}
