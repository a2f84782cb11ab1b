package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/middleware"
	"github.com/imyashkale/hera/internal/models"
)

// respondError renders err as an ErrorResponse with the status of its kind
func respondError(c *gin.Context, err error) {
	e := apperrors.As(err)
	status := e.StatusCode()

	fields := map[string]interface{}{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"kind":   e.Kind,
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.WithFields(fields).Error("Request failed")
	} else {
		logger.WithFields(fields).Debug("Request rejected")
	}

	message := e.Message
	if e.Kind == apperrors.KindInternal {
		message = "internal error"
	}
	c.JSON(status, models.ErrorResponse{
		Error:   string(e.Kind),
		Message: message,
		Details: e.Details,
	})
}

// bindError renders a request body that could not be decoded or bound
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   string(apperrors.KindValidation),
		Message: err.Error(),
	})
}

// organizationID returns the organization set by the auth middleware
func organizationID(c *gin.Context) (string, bool) {
	orgID := c.GetString(middleware.OrganizationIDKey)
	if orgID == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthorized",
			Message: "Organization ID not found in context",
		})
		return "", false
	}
	return orgID, true
}
