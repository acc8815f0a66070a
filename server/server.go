package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bitleak/bert/server/handlers"
	"github.com/bitleak/bert/server/middleware"
)

// SetupRoutes registers the admin api on e.
func SetupRoutes(e *gin.Engine, logger *logrus.Logger, deps *handlers.Deps) {
	handlers.Setup(logger, deps)

	e.GET("/metrics", handlers.PrometheusMetrics)
	e.GET("/chain", handlers.CollectMetrics("chain"), handlers.ListJobs)
	e.GET("/accesslog", handlers.GetAccessLogStatus)
	e.POST("/accesslog", handlers.UpdateAccessLogStatus)
	e.Any("/debug/pprof/*profile", handlers.PProf)

	group := e.Group("/jobs/:job")
	group.Use(handlers.SetupJob)
	group.GET("", handlers.CollectMetrics("job"), handlers.GetJob)
	group.GET("/size", handlers.CollectMetrics("size"), handlers.QueueSize)

	e.GET("/executions", handlers.CollectMetrics("stalled"), handlers.ListStalled)
	e.DELETE("/executions/:identity", handlers.CollectMetrics("release"), handlers.ReleaseExecution)

	e.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "api not found"})
	})
}

// NewEngine returns the admin engine with the request id, access log and
// recovery middlewares.
func NewEngine(accessLogger, errorLogger *logrus.Logger, deps *handlers.Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.RequestIDMiddleware, middleware.AccessLogMiddleware(accessLogger), gin.RecoveryWithWriter(errorLogger.Out))
	SetupRoutes(engine, errorLogger, deps)
	return engine
}

// AdminServer starts serving the admin api in the background. A zero port
// disables it and nil is returned.
func AdminServer(host string, port int, accessLogger, errorLogger *logrus.Logger, deps *handlers.Deps) *http.Server {
	if port == 0 {
		return nil
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: NewEngine(accessLogger, errorLogger, deps),
	}
	errorLogger.Infof("Admin port %d", port)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			if err == http.ErrServerClosed {
				return
			}
			errorLogger.WithError(err).Error("Admin server failed")
		}
	}()
	return srv
}
