package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/scriptstage/backend/db"
	"github.com/scriptstage/backend/server"
	"github.com/scriptstage/backend/x402"
)

func main() {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)

	// Load .env files (ignore error if file not found)
	if err := godotenv.Load(); err != nil {
		logger.Println("No .env file found, using system env vars")
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	database := db.New(logger)
	if err := database.Init(dsn); err != nil {
		logger.Fatalf("Database initialization failed: %v", err)
	}

	config := server.Config{
		JWTSecret:       os.Getenv("JWT_SECRET"),
		SchedulerSecret: os.Getenv("SCHEDULER_SECRET"),
		CertFile:        os.Getenv("CERT_FILE"),
		KeyFile:         os.Getenv("KEY_FILE"),
		CORSEnabled:     os.Getenv("CORS_ENABLED") == "true",
		DefaultTipUnits: envInt64("DEFAULT_TIP_UNITS", 100),
		Payment: x402.PaymentConfig{
			Scheme:         "exact",
			Network:        envString("PAYMENT_NETWORK", "base-sepolia"),
			AssetContract:  os.Getenv("PAYMENT_ASSET_CONTRACT"),
			TreasuryWallet: os.Getenv("TREASURY_WALLET"),
			TimeoutSeconds: 60,
		},
		Split: server.RevenueSplit{
			CreatorPct:  envInt64("SPLIT_CREATOR_PCT", 80),
			PlatformPct: envInt64("SPLIT_PLATFORM_PCT", 19),
			AgentPct:    envInt64("SPLIT_AGENT_PCT", 1),
		},
		NonceTTL:           envDuration("NONCE_TTL", 5*time.Minute),
		UnclaimedRetention: envDuration("UNCLAIMED_RETENTION", 90*24*time.Hour),
	}
	if err := config.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	facilitator := x402.NewFacilitatorClient(
		envString("FACILITATOR_URL", "https://x402.org/facilitator"),
		os.Getenv("FACILITATOR_API_KEY"),
		logger,
	)

	service := server.NewService(database, facilitator, config, logger)
	srv := server.New(logger, service, config)
	srv.Start(port)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
