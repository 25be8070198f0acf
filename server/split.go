package server

import (
	"fmt"

	"github.com/scriptstage/backend/db/model"
)

// splitAmount divides a tip amount across the three roles. Each share is the
// floored percentage; whatever the flooring leaves over goes to the platform
// role. That rule is what keeps creator+platform+agent == amount exactly for
// every amount, instead of leaking dust.
func splitAmount(amount int64, split RevenueSplit) (creator, platform, agent int64) {
	creator = amount * split.CreatorPct / 100
	platform = amount * split.PlatformPct / 100
	agent = amount * split.AgentPct / 100

	platform += amount - creator - platform - agent
	return
}

// buildPayouts creates one payout obligation per recipient role for a tip of
// the given amount. A recipient without a registered wallet gets an
// unclaimed payout that a later wallet registration converts to pending.
// Zero shares (a role priced at 0%, or flooring on tiny amounts) create no
// row.
func (s *Service) buildPayouts(script *model.Script, amount int64) ([]*model.Payout, error) {
	creator, err := s.store.GetUserByID(script.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("%w: script creator %d", ErrNotFound, script.CreatorID)
	}

	creatorShare, platformShare, agentShare := splitAmount(amount, s.config.Split)

	var payouts []*model.Payout

	if creatorShare > 0 {
		payouts = append(payouts, payoutFor(model.RoleCreator, creator.ID, creator.WalletAddress, creatorShare))
	}

	if platformShare > 0 {
		// The platform wallet is always known, so this is never unclaimed.
		payouts = append(payouts, &model.Payout{
			Role:        model.RolePlatform,
			Wallet:      s.config.Payment.TreasuryWallet,
			AmountUnits: platformShare,
			Status:      model.PayoutStatusPending,
		})
	}

	if agentShare > 0 {
		owner, err := s.store.GetUserByID(script.AgentOwnerID)
		if err != nil {
			return nil, fmt.Errorf("%w: agent owner %d", ErrNotFound, script.AgentOwnerID)
		}
		payouts = append(payouts, payoutFor(model.RoleAgent, owner.ID, owner.WalletAddress, agentShare))
	}

	return payouts, nil
}

func payoutFor(role string, userID uint, wallet string, amount int64) *model.Payout {
	status := model.PayoutStatusPending
	if wallet == "" {
		status = model.PayoutStatusUnclaimed
	}
	return &model.Payout{
		Role:        role,
		UserID:      userID,
		Wallet:      wallet,
		AmountUnits: amount,
		Status:      status,
	}
}
