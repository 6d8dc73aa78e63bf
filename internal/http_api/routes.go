package http_api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/api/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public catalog
	s.router.GET("/api/miners", s.listMiners)
	s.router.GET("/api/miners/:id", s.getMiner)
	s.router.POST("/api/miners/:id/estimate", s.estimateProfit)
	s.router.GET("/api/stats/network", s.networkStats)

	// Trusted callers
	service := s.router.Group("", s.serviceMiddleware())
	service.POST("/internal/users", s.registerUser)
	service.PUT("/api/payments/:id/confirm", s.confirmPayment)
	service.POST("/api/payments/webhook", s.paymentWebhook)

	s.router.PUT("/api/payments/:id/fail", s.serviceOrAdminMiddleware(), s.failPayment)

	user := s.router.Group("/api", s.authMiddleware())
	user.POST("/payments/checkout", s.checkout)
	user.GET("/payments/user", s.listUserPayments)
	user.GET("/payments/:id", s.getPayment)
	user.PUT("/payments/:id/simulate-confirm", s.simulateConfirm)
	user.PUT("/payments/:id/tx-hash", s.submitTxHash)
	user.GET("/rentals/user", s.listUserRentals)
	user.GET("/rentals/:id", s.getRental)
	user.GET("/referrals/", s.listReferrals)
	user.GET("/referrals/stats", s.referralStats)
	user.POST("/referrals/payouts", s.requestPayout)

	admin := user.Group("/admin", s.adminMiddleware())
	admin.GET("/stats", s.adminStats)
	admin.GET("/settings", s.listSettings)
	admin.PUT("/settings", s.updateSettings)
	admin.PUT("/settings/:key", s.updateSetting)
	admin.GET("/miners", s.listMiners)
	admin.POST("/miners", s.createMiner)
	admin.PUT("/miners/:id", s.updateMiner)
	admin.DELETE("/miners/:id", s.deleteMiner)
	admin.GET("/users", s.listUsers)
	admin.GET("/users/:id", s.userDetails)
	admin.PUT("/users/:id/toggle-admin", s.toggleAdmin)
	admin.GET("/rentals", s.listRentals)
	admin.PUT("/rentals/:id/deactivate", s.deactivateRental)
	admin.GET("/payments", s.listPayments)
	admin.GET("/payouts", s.listPayouts)
	admin.PUT("/payouts/process-all", s.processAllPayouts)
	admin.PUT("/payouts/:id/process", s.processPayout)
	admin.POST("/accrual/run", s.runAccrual)
	admin.GET("/accrual/runs", s.listAccrualRuns)
	admin.GET("/database/stats", s.databaseStats)
	admin.POST("/database/cleanup", s.cleanup)
}
