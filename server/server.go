package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/scriptstage/backend/db"
	"github.com/scriptstage/backend/server/model"
	"github.com/scriptstage/backend/x402"
)

// HeaderSchedulerSecret guards the internal worker-trigger endpoints; they
// are meant to be called by the scheduler, never publicly routable.
const HeaderSchedulerSecret = "X-Scheduler-Secret"

type Server struct {
	config   Config
	logger   *log.Logger
	service  *Service
	upgrader websocket.Upgrader
}

func New(logger *log.Logger, service *Service, config Config) *Server {
	return &Server{
		config:  config,
		logger:  logger,
		service: service,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboards embed the widget cross-origin
			},
		},
	}
}

func (s *Server) Start(port string) {
	r := s.Router()

	s.logger.Printf("Server starting on :%s", port)
	if s.config.CertFile != "" && s.config.KeyFile != "" {
		s.logger.Printf("Enabling HTTPS with cert: %s", s.config.CertFile)
		if err := r.RunTLS(":"+port, s.config.CertFile, s.config.KeyFile); err != nil {
			s.logger.Fatalf("Failed to start HTTPS server: %v", err)
		}
	} else {
		r.Run(":" + port)
	}
}

// Router builds the gin engine with all routes; separated from Start so
// tests can drive it with httptest.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	config := cors.DefaultConfig()
	if s.config.CORSEnabled {
		s.logger.Println("CORS: Enabling Access-Control-Allow-Origin: *")
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = []string{"http://localhost:3000", "https://localhost:3000"}
	}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", x402.HeaderPayment}
	r.Use(cors.New(config))

	// WebSocket endpoint for creator dashboards
	r.GET("/ws/:creatorId", s.HandleWS)

	// Payment endpoints
	r.POST("/api/scripts/:id/tip", s.HandleTip)
	r.GET("/api/scripts/:id/tips", s.HandleGetTips)

	// Wallet-state mutations, nonce protected
	r.POST("/api/wallet/nonce", s.HandleIssueNonce)
	r.POST("/api/wallet/register", s.HandleRegisterWallet)
	r.POST("/api/wallet/stake", s.HandleStake)
	r.POST("/api/wallet/unstake", s.HandleUnstake)
	r.POST("/api/wallet/claim", s.HandleClaimRewards)

	// Scheduler-triggered batch workers
	internal := r.Group("/internal", s.requireSchedulerSecret)
	internal.POST("/payouts/run", s.HandleRunPayouts)
	internal.POST("/refunds/run", s.HandleRunRefunds)
	internal.POST("/sweep/run", s.HandleSweep)
	internal.POST("/metrics/refresh", s.HandleRefreshGauges)

	return r
}

func (s *Server) requireSchedulerSecret(c *gin.Context) {
	secret := c.GetHeader(HeaderSchedulerSecret)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.config.SchedulerSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid scheduler secret"})
		return
	}
	c.Next()
}

// sessionVoterKey derives the internal voter key from an optional bearer
// token. Unauthenticated tippers are keyed by payer address instead.
func (s *Server) sessionVoterKey(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
		return ""
	}
	claims, err := s.service.ValidateSessionToken(authHeader[7:])
	if err != nil {
		return ""
	}
	return fmt.Sprintf("agent:%d", claims.UserID)
}

func (s *Server) HandleTip(c *gin.Context) {
	scriptID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid script id"})
		return
	}

	voterKey := s.sessionVoterKey(c)
	paymentHeader := c.GetHeader(x402.HeaderPayment)

	receipt, required, err := s.service.ProcessTip(c.Request.Context(), scriptID, voterKey, paymentHeader)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, receipt)
	case errors.Is(err, ErrPaymentRequired):
		c.JSON(http.StatusPaymentRequired, required)
	case errors.Is(err, ErrSettlementFailed):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment could not be processed, retry the request"})
	case errors.Is(err, db.ErrDuplicateTip):
		c.JSON(http.StatusConflict, gin.H{"error": "Already tipped this script"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Script not found"})
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Printf("Tip processing error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process tip"})
	}
}

func (s *Server) HandleGetTips(c *gin.Context) {
	scriptID, err := parseIDParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid script id"})
		return
	}

	limit := 25
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	var cursor uint
	if cu, err := strconv.ParseUint(c.Query("cursor"), 10, 32); err == nil {
		cursor = uint(cu)
	}

	items, nextCursor, err := s.service.GetTips(scriptID, limit, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tips"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tips": items, "next_cursor": nextCursor})
}

func (s *Server) HandleIssueNonce(c *gin.Context) {
	claims, ok := s.requireSession(c)
	if !ok {
		return
	}

	var req model.IssueNonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	issued, err := s.service.IssueNonce(
		"user", claims.UserID, req.WalletAddress, req.Operation,
		req.TargetWallet, req.AmountUnits, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Printf("Nonce issue failed for user %d: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue nonce"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nonce":           issued.Nonce,
		"issued_at":       issued.IssuedAt,
		"expires_at":      issued.ExpiresAt,
		"message":         issued.Message,
		"message_to_sign": issued.Message,
	})
}

func (s *Server) HandleRegisterWallet(c *gin.Context) {
	claims, ok := s.requireSession(c)
	if !ok {
		return
	}

	var req model.RegisterWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	claimed, reason, err := s.service.RegisterPayoutWallet(claims.UserID, req.WalletAddress, req.Signature, req.Message)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Printf("Wallet registration failed for user %d: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register wallet"})
		return
	}
	if reason != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Wallet registered",
		"wallet_address":  req.WalletAddress,
		"payouts_claimed": claimed,
	})
}

func (s *Server) HandleStake(c *gin.Context) {
	s.handleStakeOp(c, true)
}

func (s *Server) HandleUnstake(c *gin.Context) {
	s.handleStakeOp(c, false)
}

func (s *Server) handleStakeOp(c *gin.Context, stake bool) {
	claims, ok := s.requireSession(c)
	if !ok {
		return
	}

	var req model.StakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var reason string
	var err error
	if stake {
		reason, err = s.service.Stake(claims.UserID, req.AmountUnits, req.IdempotencyKey, req.Signature, req.Message)
	} else {
		reason, err = s.service.Unstake(claims.UserID, req.AmountUnits, req.IdempotencyKey, req.Signature, req.Message)
	}
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, db.ErrDuplicateStakeEvent) {
			c.JSON(http.StatusConflict, gin.H{"error": "Idempotency key already used"})
			return
		}
		s.logger.Printf("Stake operation failed for user %d: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stake operation failed"})
		return
	}
	if reason != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "OK", "amount_units": req.AmountUnits})
}

func (s *Server) HandleClaimRewards(c *gin.Context) {
	claims, ok := s.requireSession(c)
	if !ok {
		return
	}

	var req model.ClaimRewardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	claimed, reason, err := s.service.ClaimRewards(claims.UserID, req.Signature, req.Message)
	if err != nil {
		s.logger.Printf("Claim failed for user %d: %v", claims.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Claim failed"})
		return
	}
	if reason != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rewards claimed", "payouts_claimed": claimed})
}

func (s *Server) HandleRunPayouts(c *gin.Context) {
	start := time.Now()
	stats, err := s.service.RunPayouts(c.Request.Context())
	if err != nil {
		s.logger.Printf("Payout run failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Payout run failed"})
		return
	}
	c.JSON(http.StatusOK, model.WorkerResponse{Stats: stats, DurationMs: time.Since(start).Milliseconds()})
}

func (s *Server) HandleRunRefunds(c *gin.Context) {
	start := time.Now()
	stats, err := s.service.RunRefunds(c.Request.Context())
	if err != nil {
		s.logger.Printf("Refund run failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Refund run failed"})
		return
	}
	c.JSON(http.StatusOK, model.WorkerResponse{Stats: stats, DurationMs: time.Since(start).Milliseconds()})
}

func (s *Server) HandleSweep(c *gin.Context) {
	start := time.Now()
	stats, err := s.service.SweepUnclaimed(c.Request.Context())
	if err != nil {
		s.logger.Printf("Sweep run failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep run failed"})
		return
	}
	c.JSON(http.StatusOK, model.WorkerResponse{Stats: stats, DurationMs: time.Since(start).Milliseconds()})
}

func (s *Server) HandleRefreshGauges(c *gin.Context) {
	start := time.Now()
	stats, err := s.service.RefreshGauges()
	if err != nil {
		s.logger.Printf("Gauge refresh failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Gauge refresh failed"})
		return
	}
	c.JSON(http.StatusOK, model.WorkerResponse{Stats: stats, DurationMs: time.Since(start).Milliseconds()})
}

func (s *Server) HandleWS(c *gin.Context) {
	creatorID, err := parseIDParam(c, "creatorId")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid creator id"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("Failed to upgrade WS: %v", err)
		return
	}

	s.service.RegisterClient(conn, creatorID)
	s.logger.Printf("New dashboard connected for creator %d", creatorID)

	go func() {
		defer s.service.UnregisterClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) requireSession(c *gin.Context) (*SessionClaims, bool) {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid token"})
		return nil, false
	}
	claims, err := s.service.ValidateSessionToken(authHeader[7:])
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return nil, false
	}
	return claims, true
}

func parseIDParam(c *gin.Context, name string) (uint, error) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}
