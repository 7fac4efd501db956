package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EstebanCanales/novack-edge/internal/redis"
)

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	redis         *redis.Client
	backendOrigin string
	client        *http.Client
}

// NewHealthHandler creates a HealthHandler. Both dependencies are
// optional; missing ones report as "not configured".
func NewHealthHandler(redisClient *redis.Client, backendOrigin string) *HealthHandler {
	return &HealthHandler{
		redis:         redisClient,
		backendOrigin: backendOrigin,
		client:        &http.Client{Timeout: 3 * time.Second},
	}
}

// Health is the liveness probe; it always reports healthy
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready reports readiness of the gateway's collaborators
func (h *HealthHandler) Ready(c *gin.Context) {
	components := gin.H{}
	ready := true

	if h.redis != nil {
		if err := h.redis.HealthCheck(c.Request.Context()); err != nil {
			components["redis"] = "unhealthy: " + err.Error()
			ready = false
		} else {
			components["redis"] = "ok"
		}
	} else {
		components["redis"] = "not configured"
	}

	if h.backendOrigin != "" {
		if err := h.checkBackend(c.Request.Context()); err != nil {
			components["backend"] = "unreachable: " + err.Error()
			ready = false
		} else {
			components["backend"] = "ok"
		}
	} else {
		components["backend"] = "not configured"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}

	c.JSON(status, gin.H{
		"status":     state,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// checkBackend probes the backend origin without consuming a body.
func (h *HealthHandler) checkBackend(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.backendOrigin, nil)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
