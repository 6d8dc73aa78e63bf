package http_api

import (
	"net/http"
	"strconv"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/gin-gonic/gin"
)

// SettingValueRequest sets a single setting.
type SettingValueRequest struct {
	Value string `json:"value" binding:"required"`
}

// CleanupRequest selects the cleanup kind.
type CleanupRequest struct {
	Type string `json:"type" binding:"required"`
}

func (s *HTTPServer) adminStats(c *gin.Context) {
	stats, err := s.engine.AdminStats(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, stats)
}

func (s *HTTPServer) listSettings(c *gin.Context) {
	settings, err := s.settings.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, settings)
}

// updateSettings applies a key/value object atomically.
func (s *HTTPServer) updateSettings(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		s.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	settings, err := s.settings.UpdateMany(c.Request.Context(), values)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("Settings updated", "admin_id", actorFrom(c).UserID, "keys", len(values))
	respondOK(c, http.StatusOK, settings)
}

func (s *HTTPServer) updateSetting(c *gin.Context) {
	var req SettingValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	setting, err := s.settings.Update(c.Request.Context(), c.Param("key"), req.Value)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("Setting updated", "admin_id", actorFrom(c).UserID, "key", setting.Key, "value", setting.Value)
	respondOK(c, http.StatusOK, setting)
}

func (s *HTTPServer) createMiner(c *gin.Context) {
	var miner models.MinerProfile
	if err := c.ShouldBindJSON(&miner); err != nil {
		s.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if err := s.engine.CreateMiner(c.Request.Context(), actorFrom(c), &miner); err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, miner)
}

func (s *HTTPServer) updateMiner(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	var update models.MinerUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		s.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	miner, err := s.engine.UpdateMiner(c.Request.Context(), actorFrom(c), id, update)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, miner)
}

func (s *HTTPServer) deleteMiner(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	if err := s.engine.DeleteMiner(c.Request.Context(), actorFrom(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Miner deleted",
	})
}

func (s *HTTPServer) listUsers(c *gin.Context) {
	page := pageFrom(c)
	filter := models.UserFilter{Search: c.Query("search")}
	users, total, err := s.engine.ListUsers(c.Request.Context(), actorFrom(c), filter, page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondList(c, users, total, page)
}

func (s *HTTPServer) userDetails(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	details, err := s.engine.UserDetails(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, details)
}

func (s *HTTPServer) toggleAdmin(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	user, err := s.engine.ToggleAdmin(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, user)
}

func (s *HTTPServer) listRentals(c *gin.Context) {
	page := pageFrom(c)
	var filter models.RentalFilter
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			s.badRequest(c, "invalid active filter")
			return
		}
		filter.Active = &active
	}
	if v := c.Query("user_id"); v != "" {
		userID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.badRequest(c, "invalid user_id filter")
			return
		}
		filter.UserID = uint(userID)
	}
	rentals, total, err := s.engine.ListRentals(c.Request.Context(), actorFrom(c), filter, page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondList(c, rentals, total, page)
}

func (s *HTTPServer) deactivateRental(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	rental, err := s.engine.DeactivateRental(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, rental)
}

func (s *HTTPServer) listPayments(c *gin.Context) {
	page := pageFrom(c)
	var filter models.PaymentFilter
	if v := c.Query("status"); v != "" {
		status, err := models.ParsePaymentStatus(v)
		if err != nil {
			s.respondError(c, err)
			return
		}
		filter.Status = status
	}
	if v := c.Query("user_id"); v != "" {
		userID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.badRequest(c, "invalid user_id filter")
			return
		}
		filter.UserID = uint(userID)
	}
	payments, total, err := s.engine.ListPayments(c.Request.Context(), actorFrom(c), filter, page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondList(c, payments, total, page)
}

func (s *HTTPServer) listPayouts(c *gin.Context) {
	page := pageFrom(c)
	var status models.PayoutStatus
	if v := c.Query("status"); v != "" {
		parsed, err := models.ParsePayoutStatus(v)
		if err != nil {
			s.respondError(c, err)
			return
		}
		status = parsed
	}
	payouts, total, err := s.engine.ListPayouts(c.Request.Context(), actorFrom(c), status, page)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondList(c, payouts, total, page)
}

func (s *HTTPServer) processPayout(c *gin.Context) {
	id, ok := s.idParam(c, "id")
	if !ok {
		return
	}
	payout, err := s.engine.ProcessPayout(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, payout)
}

func (s *HTTPServer) processAllPayouts(c *gin.Context) {
	batch, err := s.engine.ProcessAllPayouts(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, batch)
}

// runAccrual triggers a pass. A pass already in flight reports skipped.
func (s *HTTPServer) runAccrual(c *gin.Context) {
	result, err := s.accrual.RunOnce(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("Manual accrual pass", "admin_id", actorFrom(c).UserID, "skipped", result.Skipped)
	respondOK(c, http.StatusOK, result)
}

func (s *HTTPServer) listAccrualRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := s.accrual.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, runs)
}

func (s *HTTPServer) databaseStats(c *gin.Context) {
	stats, err := s.engine.DatabaseStats(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, stats)
}

func (s *HTTPServer) cleanup(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	kind, err := models.ParseCleanupKind(req.Type)
	if err != nil {
		s.respondError(c, err)
		return
	}
	result, err := s.engine.Cleanup(c.Request.Context(), actorFrom(c), kind)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("Database cleanup", "admin_id", actorFrom(c).UserID, "type", kind, "deleted", result.Deleted)
	respondOK(c, http.StatusOK, result)
}
