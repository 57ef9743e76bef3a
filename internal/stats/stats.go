package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/duckmesh/wrappers/internal/fdw"
)

var (
	fdwStatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckmesh_fdw_stats_total",
			Help: "Wrapper telemetry counters by wrapper name and metric.",
		},
		[]string{"fdw", "metric"},
	)
	fdwErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckmesh_fdw_errors_total",
			Help: "Total number of failed wrapper operations by error kind.",
		},
		[]string{"fdw", "kind"},
	)
)

func init() {
	prometheus.MustRegister(
		fdwStatsTotal,
		fdwErrorsTotal,
	)
}

// Prometheus is the process-wide stats sink. Negative deltas are dropped.
type Prometheus struct{}

func (Prometheus) IncStats(fdwName string, metric fdw.Metric, delta int64) {
	if delta <= 0 {
		return
	}
	fdwStatsTotal.WithLabelValues(fdwName, metric.String()).Add(float64(delta))
}

func ObserveError(fdwName string, err error) {
	if err == nil {
		return
	}
	kind := string(fdw.KindOf(err))
	if kind == "" {
		kind = "other"
	}
	fdwErrorsTotal.WithLabelValues(fdwName, kind).Inc()
}

type Key struct {
	FDW    string
	Metric fdw.Metric
}

// Recorder keeps counters in memory and forwards them to Next.
type Recorder struct {
	Next fdw.StatsSink

	mu     sync.Mutex
	counts map[Key]int64
}

func NewRecorder(next fdw.StatsSink) *Recorder {
	return &Recorder{Next: next, counts: map[Key]int64{}}
}

func (r *Recorder) IncStats(fdwName string, metric fdw.Metric, delta int64) {
	r.mu.Lock()
	if r.counts == nil {
		r.counts = map[Key]int64{}
	}
	r.counts[Key{FDW: fdwName, Metric: metric}] += delta
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.IncStats(fdwName, metric, delta)
	}
}

func (r *Recorder) Get(fdwName string, metric fdw.Metric) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[Key{FDW: fdwName, Metric: metric}]
}

func (r *Recorder) Snapshot() map[Key]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Key]int64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}
