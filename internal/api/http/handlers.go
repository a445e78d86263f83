// Package http exposes the proxy pipeline over HTTP.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/daedalos/fetchproxy/internal/infrastructure/logging"
	"github.com/daedalos/fetchproxy/internal/proxy"
	"github.com/daedalos/fetchproxy/internal/proxy/errs"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	proxy   *proxy.Service
	logger  *logging.Logger
	started time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(svc *proxy.Service, logger *logging.Logger) *Handlers {
	return &Handlers{proxy: svc, logger: logger, started: time.Now()}
}

// Fetch handles GET /fetch?url=... — the single pipeline entry point.
// Success returns {title, html, finalUrl}; failures return {error,
// finalUrl?} with the status their kind maps to.
func (h *Handlers) Fetch(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter required"})
		return
	}

	page, err := h.proxy.Fetch(c.Request.Context(), rawURL)
	if err != nil {
		status := http.StatusInternalServerError
		body := gin.H{"error": err.Error()}

		var perr *errs.Error
		if errors.As(err, &perr) {
			status = errs.HTTPStatus(perr.Kind)
			if perr.FinalURL != "" {
				body["finalUrl"] = perr.FinalURL
			}
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, page)
}

// Health handles GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

// Root handles GET /.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "fetchproxy",
		"endpoints": []string{
			"GET /fetch?url=<percent-encoded URL>",
			"GET /health",
			"GET /metrics",
		},
	})
}

// NoRoute logs and rejects unmatched paths.
func (h *Handlers) NoRoute(c *gin.Context) {
	h.logger.Debug("unmatched route",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
	)
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}
