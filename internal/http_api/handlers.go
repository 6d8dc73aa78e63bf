package http_api

import (
	"net/http"
	"time"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ConfirmRequest is the optional body of a trusted confirmation.
type ConfirmRequest struct {
	TxHash string `json:"tx_hash"`
}

// FailRequest is the optional body of a payment failure.
type FailRequest struct {
	Reason string `json:"reason"`
}

// WebhookRequest is a payment processor notification.
type WebhookRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
	Status string `json:"status" binding:"required"`
}

// TxHashRequest carries the hash of the transaction a user paid with.
type TxHashRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// RegisterUserRequest is sent by the auth service for every new account.
type RegisterUserRequest struct {
	Email        string `json:"email" binding:"required"`
	ReferralCode string `json:"referral_code"`
}

// EstimateRequest selects the allocation to estimate.
type EstimateRequest struct {
	HashrateTH   decimal.Decimal `json:"hashrate"`
	DurationDays int             `json:"duration_days"`
}

// PayoutRequest asks to withdraw referral commission. A zero amount withdraws everything available.
type PayoutRequest struct {
	AmountUSD decimal.Decimal `json:"amount_usd"`
}

func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *HTTPServer) listMiners(c *gin.Context) {
	miners, err := s.engine.ListMiners(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, miners)
}

func (s *HTTPServer) getMiner(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	miner, err := s.engine.GetMiner(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, miner)
}

func (s *HTTPServer) estimateProfit(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	var req EstimateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}
	estimate, err := s.engine.EstimateProfit(c.Request.Context(), id, req.HashrateTH, req.DurationDays)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, estimate)
}

func (s *HTTPServer) networkStats(c *gin.Context) {
	respondOK(c, http.StatusOK, s.engine.NetworkStats())
}

// registerUser creates the user record and its referral link.
func (s *HTTPServer) registerUser(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	user, err := s.engine.RegisterUser(c.Request.Context(), req.Email, req.ReferralCode)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("User registered", "user_id", user.ID)
	respondOK(c, http.StatusCreated, user)
}

func (s *HTTPServer) checkout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	checkout, err := s.engine.CreateIntent(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, checkout)
}

func (s *HTTPServer) confirmPayment(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	var req ConfirmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}
	rental, err := s.engine.Confirm(c.Request.Context(), id, req.TxHash)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, rental)
}

func (s *HTTPServer) simulateConfirm(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	rental, err := s.engine.SimulateConfirm(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, rental)
}

func (s *HTTPServer) failPayment(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	var req FailRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "marked failed"
	}
	if err := s.engine.Fail(c.Request.Context(), id, req.Reason); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payment marked as failed",
	})
}

func (s *HTTPServer) paymentWebhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	payment, err := s.engine.HandleWebhook(c.Request.Context(), req.TxHash, req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, payment)
}

func (s *HTTPServer) submitTxHash(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	var req TxHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	payment, err := s.engine.SubmitTxHash(c.Request.Context(), actorFrom(c), id, req.TxHash)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, payment)
}

func (s *HTTPServer) getPayment(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	payment, err := s.engine.GetPayment(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, payment)
}

func (s *HTTPServer) listUserPayments(c *gin.Context) {
	page := pageFrom(c)
	payments, total, err := s.engine.ListUserPayments(c.Request.Context(), actorFrom(c), page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondList(c, payments, total, page)
}

func (s *HTTPServer) getRental(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	rental, err := s.engine.GetRental(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, rental)
}

func (s *HTTPServer) listUserRentals(c *gin.Context) {
	page := pageFrom(c)
	rentals, total, err := s.engine.ListUserRentals(c.Request.Context(), actorFrom(c), page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondList(c, rentals, total, page)
}

func (s *HTTPServer) listReferrals(c *gin.Context) {
	referrals, err := s.engine.ListReferrals(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, referrals)
}

func (s *HTTPServer) referralStats(c *gin.Context) {
	stats, err := s.engine.ReferralStats(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, stats)
}

func (s *HTTPServer) requestPayout(c *gin.Context) {
	var req PayoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}
	payout, err := s.engine.RequestPayout(c.Request.Context(), actorFrom(c), req.AmountUSD)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, payout)
}
