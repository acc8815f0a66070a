package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type PerformanceMetrics struct {
	Latencies *prometheus.SummaryVec
	HTTPCodes *prometheus.CounterVec
}

var metrics *PerformanceMetrics

func setupMetrics() {
	metrics = &PerformanceMetrics{}
	latencies := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  "bert",
			Subsystem:  "admin_http",
			Name:       "latency_milliseconds",
			Help:       "admin api latencies",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.001},
		},
		[]string{"job", "api"},
	)

	httpCodes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bert",
			Subsystem: "admin_http",
			Name:      "http_codes",
			Help:      "admin api response code",
		},
		[]string{"job", "api", "code"},
	)
	prometheus.MustRegister(latencies)
	prometheus.MustRegister(httpCodes)
	metrics.Latencies = latencies
	metrics.HTTPCodes = httpCodes
}

func CollectMetrics(apiName string) func(*gin.Context) {
	return func(c *gin.Context) {
		before := time.Now()
		c.Next()
		duration := time.Since(before)
		code := c.Writer.Status()
		if code < 300 {
			metrics.Latencies.WithLabelValues(
				c.Param("job"),
				apiName).Observe(duration.Seconds() * 1000)
		}
		metrics.HTTPCodes.WithLabelValues(
			c.Param("job"),
			apiName,
			strconv.Itoa(code),
		).Inc()
	}
}
