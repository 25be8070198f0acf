package server

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/scriptstage/backend/x402"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() Config {
	return Config{
		JWTSecret:       "test-secret",
		SchedulerSecret: "sched-secret",
		DefaultTipUnits: 100,
		Payment: x402.PaymentConfig{
			Scheme:         "exact",
			Network:        "base-sepolia",
			AssetContract:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			TreasuryWallet: "0xTreasury",
			TimeoutSeconds: 60,
		},
		Split:              RevenueSplit{CreatorPct: 80, PlatformPct: 19, AgentPct: 1},
		NonceTTL:           5 * time.Minute,
		UnclaimedRetention: 90 * 24 * time.Hour,
		WorkerBatchSize:    100,
	}
}

func newTestService(store Store, fac x402.Facilitator) *Service {
	return newTestServiceWithConfig(store, fac, testConfig())
}

func newTestServiceWithConfig(store Store, fac x402.Facilitator, cfg Config) *Service {
	return NewService(store, fac, cfg, log.New(io.Discard, "", 0))
}

// testWallet is an EVM keypair for signing nonce messages in tests.
type testWallet struct {
	key     *ecdsa.PrivateKey
	Address string
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return &testWallet{
		key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// Sign produces an EIP-191 personal-sign signature over message.
func (w *testWallet) Sign(t *testing.T, message string) string {
	t.Helper()
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	hash := crypto.Keccak256Hash([]byte(prefix + message))
	sig, err := crypto.Sign(hash.Bytes(), w.key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	return "0x" + hex.EncodeToString(sig)
}
