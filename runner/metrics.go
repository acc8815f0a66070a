package runner

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains runner related metrics
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	exhausted     *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	activeWorkers *prometheus.GaugeVec
	workLeft      *prometheus.GaugeVec
}

var (
	metrics *Metrics
)

const (
	Namespace = "bert"
	Subsystem = "runner"
)

func setupMetrics() {
	cv := newCounterVecHelper
	gv := newGaugeVecHelper
	metrics = &Metrics{
		runs:          cv("job_runs"),
		failures:      cv("job_failures"),
		exhausted:     cv("job_retries_exhausted"),
		skipped:       cv("job_skipped_unsafe"),
		activeWorkers: gv("active_workers"),
		workLeft:      gv("work_left"),
	}
}

func newCounterVecHelper(name string, labels ...string) *prometheus.CounterVec {
	labels = append([]string{"job"}, labels...) // all metrics has this common field `job`
	opts := prometheus.CounterOpts{}
	opts.Namespace = Namespace
	opts.Subsystem = Subsystem
	opts.Name = name
	opts.Help = name
	counters := prometheus.NewCounterVec(opts, labels)
	prometheus.MustRegister(counters)
	return counters
}

func newGaugeVecHelper(name string, labels ...string) *prometheus.GaugeVec {
	labels = append([]string{"job"}, labels...)
	opts := prometheus.GaugeOpts{}
	opts.Namespace = Namespace
	opts.Subsystem = Subsystem
	opts.Name = name
	opts.Help = name
	gauges := prometheus.NewGaugeVec(opts, labels)
	prometheus.MustRegister(gauges)
	return gauges
}

func init() {
	setupMetrics()
}
