package server

import (
	"fmt"
	"time"

	"github.com/scriptstage/backend/x402"
)

// RevenueSplit is the process-wide split of a tip across recipient roles.
// Percentages are whole numbers and must sum to 100; validated at startup,
// immutable afterwards.
type RevenueSplit struct {
	CreatorPct  int64
	PlatformPct int64
	AgentPct    int64
}

func (r RevenueSplit) Validate() error {
	if r.CreatorPct < 0 || r.PlatformPct < 0 || r.AgentPct < 0 {
		return fmt.Errorf("revenue split percentages must be non-negative")
	}
	if sum := r.CreatorPct + r.PlatformPct + r.AgentPct; sum != 100 {
		return fmt.Errorf("revenue split must sum to 100, got %d", sum)
	}
	return nil
}

type Config struct {
	JWTSecret       string
	SchedulerSecret string
	CertFile        string
	KeyFile         string
	CORSEnabled     bool

	// Default tip price in minor units of the payment asset.
	DefaultTipUnits int64

	Payment x402.PaymentConfig
	Split   RevenueSplit

	// NonceTTL bounds how long an issued signing message stays valid.
	NonceTTL time.Duration

	// UnclaimedRetention is how long an unclaimed payout waits for a wallet
	// before the sweeper moves it to the treasury.
	UnclaimedRetention time.Duration

	// WorkerBatchSize caps how many rows one worker run picks up.
	WorkerBatchSize int
}

func (c *Config) Validate() error {
	if c.DefaultTipUnits <= 0 {
		return fmt.Errorf("default tip amount must be positive")
	}
	if c.SchedulerSecret == "" {
		return fmt.Errorf("scheduler secret is required")
	}
	if c.NonceTTL <= 0 {
		c.NonceTTL = 5 * time.Minute
	}
	if c.UnclaimedRetention <= 0 {
		c.UnclaimedRetention = 90 * 24 * time.Hour
	}
	if c.WorkerBatchSize <= 0 {
		c.WorkerBatchSize = 200
	}
	return c.Split.Validate()
}
