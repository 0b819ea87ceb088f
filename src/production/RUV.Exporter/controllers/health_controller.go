package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	gauges "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Gauges"
	ruvlistener "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Listener"
	ruvmodels "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Models"
)

// HealthController reports liveness and readiness of the exporter
type HealthController struct {
	registry *gauges.Registry
	source   ruvlistener.Source
	pipeline *ruvlistener.Pipeline
}

// NewHealthController creates a new health controller
func NewHealthController(registry *gauges.Registry, source ruvlistener.Source, pipeline *ruvlistener.Pipeline) *HealthController {
	return &HealthController{
		registry: registry,
		source:   source,
		pipeline: pipeline,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
}

// HealthLive answers as long as the process serves HTTP
func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// HealthReady is ready once the advertisement source is connected
func (c *HealthController) HealthReady(ctx *gin.Context) {
	status, code := "ready", http.StatusOK
	connected := c.source.IsConnected()
	if !connected {
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	addresses := lo.Map(c.registry.Devices(), func(a ruvmodels.DeviceAddress, _ int) string {
		return a.String()
	})

	ctx.JSON(code, gin.H{
		"status":        status,
		"mqtt":          connected,
		"devices":       len(addresses),
		"addresses":     addresses,
		"stale_timeout": c.registry.StaleTimeout().String(),
		"pipeline":      c.pipeline.Stats(),
	})
}
