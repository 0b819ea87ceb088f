package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Logger"
)

// MetricsController serves the Prometheus scrape endpoint
type MetricsController struct {
	handler http.Handler
}

// NewMetricsController creates a scrape handler over the given gatherer
func NewMetricsController(gatherer prometheus.Gatherer, logger *logger.Logger) *MetricsController {
	return &MetricsController{
		handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			ErrorLog:      promLogger{logger.WithComponent("scrape")},
			ErrorHandling: promhttp.ContinueOnError,
		}),
	}
}

// RegisterRoutes registers the scrape route with Gin
func (c *MetricsController) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", c.Metrics)
}

// Metrics writes the current snapshot in the exposition format the scraper negotiates
func (c *MetricsController) Metrics(ctx *gin.Context) {
	c.handler.ServeHTTP(ctx.Writer, ctx.Request)
}

// promLogger adapts the zerolog wrapper to promhttp.Logger
type promLogger struct {
	logger *logger.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.logger.Logger.Error().Msg(fmt.Sprint(v...))
}
