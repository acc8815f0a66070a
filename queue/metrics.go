package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains queue related metrics
type Metrics struct {
	puts      *prometheus.CounterVec
	gets      *prometheus.CounterVec
	empty     *prometheus.CounterVec
	lostRaces *prometheus.CounterVec
	unacked   *prometheus.CounterVec
}

var (
	metrics *Metrics
)

const (
	Namespace = "bert"
	Subsystem = "queue"
)

func setupMetrics() {
	cv := newCounterVecHelper
	metrics = &Metrics{
		puts:      cv("put_items"),
		gets:      cv("get_items"),
		empty:     cv("get_empty"),
		lostRaces: cv("get_lost_races"),
		unacked:   cv("unacked_items"),
	}
}

func newCounterVecHelper(name string, labels ...string) *prometheus.CounterVec {
	labels = append([]string{"kind", "queue"}, labels...) // all metrics has this common field `kind` and `queue`
	opts := prometheus.CounterOpts{}
	opts.Namespace = Namespace
	opts.Subsystem = Subsystem
	opts.Name = name
	opts.Help = name
	counters := prometheus.NewCounterVec(opts, labels)
	prometheus.MustRegister(counters)
	return counters
}

func init() {
	setupMetrics()
}
