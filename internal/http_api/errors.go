package http_api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrCapacityExhausted),
		errors.Is(err, models.ErrAlreadySettled),
		errors.Is(err, models.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrTransientUpstream):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes the structured error body for err.
// Internal failures are logged and their details are not exposed.
func (s *HTTPServer) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		message = "internal server error"
		if errors.Is(err, models.ErrInvariantViolation) {
			message = models.ErrInvariantViolation.Error()
		}
	}
	c.JSON(status, gin.H{
		"success": false,
		"code":    models.ErrorCode(err),
		"error":   message,
	})
}

func (s *HTTPServer) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"code":    models.ErrorCode(models.ErrValidation),
		"error":   message,
	})
}

// idParam parses a positive numeric path parameter.
func (s *HTTPServer) idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		s.badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func pageFrom(c *gin.Context) models.Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	return models.Page{Page: page, PerPage: perPage}.Normalize()
}

func respondList(c *gin.Context, items interface{}, total int64, page models.Page) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"data":     items,
		"total":    total,
		"page":     page.Page,
		"per_page": page.PerPage,
		"pages":    page.Pages(total),
	})
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}
