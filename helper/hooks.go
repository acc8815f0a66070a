package helper

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

type contextKey int

const _contextStartTimeKey contextKey = iota + 1

type performanceMetrics struct {
	Latencies *prometheus.HistogramVec
	QPS       *prometheus.CounterVec
}

var _metrics *performanceMetrics

const (
	_namespace = "bert"
	_subsystem = "redis"
)

func setupMetrics() {
	labels := []string{"node", "command", "status"}
	buckets := prometheus.ExponentialBuckets(1, 2, 16)
	latencies := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: _namespace,
			Subsystem: _subsystem,
			Name:      "latency",
			Buckets:   buckets,
		},
		labels,
	)
	qps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: _namespace,
			Subsystem: _subsystem,
			Name:      "qps",
		},
		labels,
	)
	prometheus.MustRegister(latencies, qps)
	_metrics = &performanceMetrics{Latencies: latencies, QPS: qps}
}

func init() {
	setupMetrics()
}

// MetricsHook records latency and status per redis command
type MetricsHook struct {
	client *redis.Client
}

func NewMetricsHook(client *redis.Client) *MetricsHook {
	return &MetricsHook{client: client}
}

func (hook MetricsHook) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	return context.WithValue(ctx, _contextStartTimeKey, time.Now()), nil
}

func (hook MetricsHook) AfterProcess(ctx context.Context, cmd redis.Cmder) error {
	hook.record(ctx, cmd.Name(), cmd.Err())
	return nil
}

func (hook MetricsHook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	return context.WithValue(ctx, _contextStartTimeKey, time.Now()), nil
}

func (hook MetricsHook) AfterProcessPipeline(ctx context.Context, cmds []redis.Cmder) error {
	var firstErr error
	for _, cmd := range cmds {
		if cmd.Err() != nil {
			firstErr = cmd.Err()
			break
		}
	}
	hook.record(ctx, "pipeline", firstErr)
	return nil
}

func (hook MetricsHook) record(ctx context.Context, cmd string, err error) {
	startTime, ok := ctx.Value(_contextStartTimeKey).(time.Time)
	if !ok {
		return
	}
	status := "ok"
	// an empty LPOP is not a failure
	if err != nil && err != redis.Nil {
		status = "error"
	}
	labels := prometheus.Labels{"node": hook.client.Options().Addr, "command": cmd, "status": status}
	_metrics.QPS.With(labels).Inc()
	_metrics.Latencies.With(labels).Observe(float64(time.Since(startTime).Milliseconds()))
}
