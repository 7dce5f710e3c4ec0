package status

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes sets up all status routes on the Gin router.
func registerRoutes(router *gin.Engine, p Provider, reg *prometheus.Registry) {
	router.GET("/healthz", handleHealth(p))
	router.GET("/stats", handleStats(p))
	if reg != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
}

// handleHealth answers 200 while the socket is open and 503 otherwise.
func handleHealth(p Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := p.Health()
		code := http.StatusOK
		if !h.Connected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"state": h.State, "connected": h.Connected})
	}
}

func handleStats(p Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Health())
	}
}
