package storage

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bitleak/bert/storage/model"
)

// Metrics contains storage related metrics
type Metrics struct {
	ops      *prometheus.CounterVec
	latency  *prometheus.SummaryVec
	lostRace *prometheus.CounterVec
}

var (
	metrics *Metrics
)

const (
	Namespace = "bert"
	Subsystem = "storage"
)

func setupMetrics() {
	cv := newCounterVecHelper
	metrics = &Metrics{
		ops:      cv("storage_ops", "op", "status"),
		lostRace: cv("storage_delete_missed"),
		latency:  newSummaryVecHelper("storage_latency_milliseconds", "op"),
	}
}

func newCounterVecHelper(name string, labels ...string) *prometheus.CounterVec {
	labels = append([]string{"backend"}, labels...) // all metrics has this common field `backend`
	opts := prometheus.CounterOpts{}
	opts.Namespace = Namespace
	opts.Subsystem = Subsystem
	opts.Name = name
	opts.Help = name
	counters := prometheus.NewCounterVec(opts, labels)
	prometheus.MustRegister(counters)
	return counters
}

func newSummaryVecHelper(name string, labels ...string) *prometheus.SummaryVec {
	labels = append([]string{"backend"}, labels...)
	opts := prometheus.SummaryOpts{
		Namespace:  Namespace,
		Subsystem:  Subsystem,
		Name:       name,
		Help:       name,
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}
	summary := prometheus.NewSummaryVec(opts, labels)
	prometheus.MustRegister(summary)
	return summary
}

func init() {
	setupMetrics()
}

type instrumented struct {
	backend string
	Storage
}

// WithMetrics wraps a storage so every call is counted and timed under the backend label.
func WithMetrics(backend string, s Storage) Storage {
	return &instrumented{backend: backend, Storage: s}
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.ops.WithLabelValues(s.backend, op, status).Inc()
	metrics.latency.WithLabelValues(s.backend, op).Observe(float64(time.Since(start).Milliseconds()))
}

func (s *instrumented) Insert(ctx context.Context, row *model.Row) (err error) {
	start := time.Now()
	err = s.Storage.Insert(ctx, row)
	s.observe("insert", start, err)
	return err
}

func (s *instrumented) ScanOne(ctx context.Context, tableName string) (row *model.Row, err error) {
	start := time.Now()
	row, err = s.Storage.ScanOne(ctx, tableName)
	s.observe("scan_one", start, err)
	return row, err
}

func (s *instrumented) Scan(ctx context.Context, req *model.ScanReq) (rows []*model.Row, err error) {
	start := time.Now()
	rows, err = s.Storage.Scan(ctx, req)
	s.observe("scan", start, err)
	return rows, err
}

func (s *instrumented) Delete(ctx context.Context, tableName, identity string) (deleted bool, err error) {
	start := time.Now()
	deleted, err = s.Storage.Delete(ctx, tableName, identity)
	s.observe("delete", start, err)
	if err == nil && !deleted {
		metrics.lostRace.WithLabelValues(s.backend).Inc()
	}
	return deleted, err
}

func (s *instrumented) Count(ctx context.Context, tableName string) (count int64, err error) {
	start := time.Now()
	count, err = s.Storage.Count(ctx, tableName)
	s.observe("count", start, err)
	return count, err
}

func (s *instrumented) Clear(ctx context.Context, tableName string) (count int64, err error) {
	start := time.Now()
	count, err = s.Storage.Clear(ctx, tableName)
	s.observe("clear", start, err)
	return count, err
}
