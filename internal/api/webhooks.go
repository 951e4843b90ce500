package api

import (
	"errors"
	"net/http"

	"recovery-service/internal/outcome"
	"recovery-service/internal/service"
	"recovery-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// providerWebhook ingests call events. Anything past authentication and
// parsing is acknowledged with 200 so the provider does not redeliver.
func (h *Handler) providerWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Failed to read body",
			"details": err.Error(),
		})
		return
	}

	ev, err := outcome.ParseWebhook(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid webhook payload",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	if key, ok := outcome.DeliveryKey(ev, body); ok && h.Guard != nil {
		fresh, err := h.Guard.FirstDelivery(ctx, key)
		if err != nil {
			h.logger.Warn("Webhook dedupe unavailable", zap.Error(err))
		} else if !fresh {
			util.WebhookDuplicatesTotal.Inc()
			c.JSON(http.StatusOK, gin.H{"ok": true, "duplicate": true})
			return
		}
	}

	res, err := h.Ingestor.Handle(ctx, ev)
	if err != nil {
		h.logger.Error("Failed to ingest provider webhook",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "result": res})
}

func (h *Handler) orderWebhook(c *gin.Context) {
	var order service.OrderCreated
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if order.EventID == "" {
		order.EventID = c.GetHeader("X-Event-Id")
	}

	res, err := h.Conversions.HandleOrderCreated(c.Request.Context(), order)
	if errors.Is(err, service.ErrInvalidOrder) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid order",
			"details": err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to apply order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, res)
}
