package controllers

import (
	"time"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Logger"
)

// NewRouter creates the gin engine shared by all controllers. Unknown paths
// and methods fall through to gin's 404.
func NewRouter(logger *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger.WithComponent("http")))
	return router
}

func requestLogger(logger *logger.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.Logger.Debug().
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Int("status", ctx.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Handled request")
	}
}
