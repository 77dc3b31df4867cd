package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/control"
	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/usecase"
)

// AutomationHandler handles the start/stop/status/history endpoints.
type AutomationHandler struct {
	automation Automation
	settings   SettingsService
	logger     *zap.Logger
}

// NewAutomationHandler creates a new AutomationHandler.
func NewAutomationHandler(automation Automation, settings SettingsService, logger *zap.Logger) *AutomationHandler {
	return &AutomationHandler{
		automation: automation,
		settings:   settings,
		logger:     logger,
	}
}

// Start handles POST /api/v1/automation/start
func (h *AutomationHandler) Start(c *gin.Context) {
	var req control.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	runID, err := h.automation.Start(req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrRunBusy):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Start run failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	// Remember what was used for the next visit and the scheduled run.
	if h.settings != nil {
		if err := h.settings.Save(c.Request.Context(), domain.Settings{
			Keywords:        req.Keywords,
			Location:        req.Location,
			MaxApplications: req.MaxApplications,
		}); err != nil {
			h.logger.Warn("Failed to save last used settings", zap.Error(err))
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "started"})
}

// Stop handles POST /api/v1/automation/stop
func (h *AutomationHandler) Stop(c *gin.Context) {
	h.automation.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

// Status handles GET /api/v1/automation/status
func (h *AutomationHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.automation.Status())
}

// ResumeManualLogin handles POST /api/v1/automation/manual-login
func (h *AutomationHandler) ResumeManualLogin(c *gin.Context) {
	if err := h.automation.ResumeManualLogin(); err != nil {
		if errors.Is(err, domain.ErrNotAwaitingManualLogin) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Resume manual login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

// History handles GET /api/v1/history?days=N
func (h *AutomationHandler) History(c *gin.Context) {
	days := usecase.DefaultHistoryDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = n
	}

	hist, err := h.automation.History(c.Request.Context(), days)
	if err != nil {
		h.respondStoreError(c, "Get history failed", err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

// GetConfig handles GET /api/v1/config
func (h *AutomationHandler) GetConfig(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		h.respondStoreError(c, "Get settings failed", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// SaveConfig handles POST /api/v1/config
func (h *AutomationHandler) SaveConfig(c *gin.Context) {
	var s domain.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.settings.Save(c.Request.Context(), s); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.respondStoreError(c, "Save settings failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (h *AutomationHandler) respondStoreError(c *gin.Context, msg string, err error) {
	if errors.Is(err, domain.ErrDatabaseUnavailable) {
		h.logger.Warn(msg, zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
		return
	}
	h.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
