package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"recovery-service/config"
	"recovery-service/internal/models"
	"recovery-service/internal/outcome"
	"recovery-service/internal/redisclient"
	"recovery-service/internal/schedule"
	"recovery-service/internal/service"
	"recovery-service/internal/store"
	"recovery-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 200
)

// Deps wires the handler to the services it fronts. Redis may be nil.
type Deps struct {
	Repo          store.Repository
	Redis         *redisclient.Client
	Checkouts     *service.CheckoutService
	Scheduler     *service.Scheduler
	Dispatcher    *service.Dispatcher
	Conversions   *service.ConversionService
	Ingestor      *outcome.Ingestor
	Guard         *outcome.DeliveryGuard
	Security      config.SecurityConfig
	DispatchGrace time.Duration
}

// Handler contains HTTP handlers
type Handler struct {
	Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{
		Deps:   deps,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", requireSecret("X-Trigger-Secret", "", h.Security.TriggerSecret))
	{
		v1.POST("/trigger", h.trigger)
		v1.POST("/dispatch", h.dispatch)
		v1.POST("/checkouts", h.upsertCheckouts)
		v1.GET("/merchants/:shop/settings", h.getSettings)
		v1.PUT("/merchants/:shop/settings", h.updateSettings)
		v1.GET("/merchants/:shop/jobs", h.listJobs)
		v1.DELETE("/merchants/:shop", h.deleteShop)
	}

	hooks := router.Group("/webhooks")
	{
		hooks.POST("/provider", requireSecret("X-Webhook-Secret", "secret", h.Security.WebhookSecret), h.providerWebhook)
		hooks.POST("/orders", requireSecret("X-Webhook-Secret", "secret", h.Security.OrderWebhookSecret), h.orderWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the store and cache answer
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.Repo.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"details": err.Error(),
		})
		return
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"details": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) trigger(c *gin.Context) {
	summary, err := h.Scheduler.RunTick(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Tick failed",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) dispatch(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	res, err := h.Dispatcher.RunDue(c.Request.Context(), service.DispatchOptions{
		Shop:  strings.TrimSpace(c.Query("shop")),
		Limit: limit,
		Grace: h.DispatchGrace,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Dispatch failed",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

type upsertCheckoutsRequest struct {
	Checkouts []models.Checkout `json:"checkouts" binding:"required"`
}

func (h *Handler) upsertCheckouts(c *gin.Context) {
	var req upsertCheckoutsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := h.Checkouts.UpsertCheckouts(c.Request.Context(), req.Checkouts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to store checkouts",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getSettings(c *gin.Context) {
	st, err := h.Repo.GetOrCreateSettings(c.Request.Context(), c.Param("shop"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load settings",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

// settingsRequest is a partial update; absent fields keep their value
type settingsRequest struct {
	Enabled            *bool   `json:"enabled"`
	DelayMinutes       *int    `json:"delay_minutes"`
	MaxAttempts        *int    `json:"max_attempts"`
	RetryMinutes       *int    `json:"retry_minutes"`
	MinOrderValueCents *int64  `json:"min_order_value_cents"`
	Currency           *string `json:"currency"`
	CallWindowStart    *string `json:"call_window_start"`
	CallWindowEnd      *string `json:"call_window_end"`
	AssistantID        *string `json:"assistant_id"`
	PhoneNumberID      *string `json:"phone_number_id"`
	Prompt             *string `json:"prompt"`
}

func (r settingsRequest) apply(st *models.Settings) error {
	if r.Enabled != nil {
		st.Enabled = *r.Enabled
	}
	if r.DelayMinutes != nil {
		if *r.DelayMinutes < 0 {
			return errors.New("delay_minutes must not be negative")
		}
		st.DelayMinutes = *r.DelayMinutes
	}
	if r.MaxAttempts != nil {
		if *r.MaxAttempts < 1 {
			return errors.New("max_attempts must be at least 1")
		}
		st.MaxAttempts = *r.MaxAttempts
	}
	if r.RetryMinutes != nil {
		if *r.RetryMinutes < 0 {
			return errors.New("retry_minutes must not be negative")
		}
		st.RetryMinutes = *r.RetryMinutes
	}
	if r.MinOrderValueCents != nil {
		if *r.MinOrderValueCents < 0 {
			return errors.New("min_order_value_cents must not be negative")
		}
		st.MinOrderValueCents = *r.MinOrderValueCents
	}
	if r.Currency != nil {
		st.Currency = strings.ToUpper(strings.TrimSpace(*r.Currency))
	}
	if r.CallWindowStart != nil {
		if !schedule.ValidHHMM(*r.CallWindowStart) {
			return errors.New("call_window_start must be HH:MM")
		}
		st.CallWindowStart = *r.CallWindowStart
	}
	if r.CallWindowEnd != nil {
		if !schedule.ValidHHMM(*r.CallWindowEnd) {
			return errors.New("call_window_end must be HH:MM")
		}
		st.CallWindowEnd = *r.CallWindowEnd
	}
	if r.AssistantID != nil {
		st.AssistantID = strings.TrimSpace(*r.AssistantID)
	}
	if r.PhoneNumberID != nil {
		st.PhoneNumberID = strings.TrimSpace(*r.PhoneNumberID)
	}
	if r.Prompt != nil {
		st.Prompt = *r.Prompt
	}
	return nil
}

func (h *Handler) updateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	st, err := h.Repo.GetOrCreateSettings(ctx, c.Param("shop"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load settings",
			"details": err.Error(),
		})
		return
	}

	if err := req.apply(st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid settings",
			"details": err.Error(),
		})
		return
	}

	if err := h.Repo.UpdateSettings(ctx, st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to save settings",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) listJobs(c *gin.Context) {
	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	if status != "" && !models.IsTerminalJobStatus(status) && !models.IsInFlightJobStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	limit, err := queryInt(c, "limit", defaultJobsLimit)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	if limit > maxJobsLimit {
		limit = maxJobsLimit
	}

	jobs, err := h.Repo.ListJobs(c.Request.Context(), c.Param("shop"), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list jobs",
			"details": err.Error(),
		})
		return
	}
	if jobs == nil {
		jobs = []models.CallJob{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// deleteShop erases a shop's data on uninstall or redaction
func (h *Handler) deleteShop(c *gin.Context) {
	shop := c.Param("shop")
	if err := h.Repo.DeleteShopData(c.Request.Context(), shop); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to delete shop data",
			"details": err.Error(),
		})
		return
	}
	h.logger.Info("Shop data deleted", zap.String("shop", shop))
	c.Status(http.StatusNoContent)
}

// requireSecret rejects requests whose header (or query param, when named)
// does not carry the expected secret. An empty secret disables the check.
func requireSecret(header, queryParam, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(header)
		if got == "" && queryParam != "" {
			got = c.Query(queryParam)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
