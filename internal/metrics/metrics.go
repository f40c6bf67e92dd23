// Package metrics exposes evaluation counters through a private Prometheus
// registry.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"quill/internal/util"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quill"

// Metrics holds the collectors updated by the runner.
type Metrics struct {
	registry *prometheus.Registry

	evaluations *prometheus.CounterVec
	accepted    prometheus.Counter
	timeouts    prometheus.Counter
	reward      prometheus.Histogram
	speedup     prometheus.Histogram
	queryTime   *prometheus.HistogramVec
	copiedRows  prometheus.Counter
	judge       *prometheus.CounterVec
	lastReward  prometheus.Gauge
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluations by outcome.",
		}, []string{"outcome"}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accepted_total",
			Help:      "Evaluations whose reward met the acceptance threshold.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "original_timeouts_total",
			Help:      "Evaluations where the original query hit the timeout.",
		}),
		reward: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reward",
			Help:      "Final reward per evaluation.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		speedup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speedup_ratio",
			Help:      "Original over optimized latency for successful evaluations.",
			Buckets:   []float64{0.5, 0.95, 1.1, 1.5, 2, 5, 10, 50},
		}),
		queryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_seconds",
			Help:      "Average measured latency per query role.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"role"}),
		copiedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_rows_copied_total",
			Help:      "Rows copied from the reference database into sandboxes.",
		}),
		judge: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_verdicts_total",
			Help:      "Readability verdicts by preference.",
		}, []string{"preference"}),
		lastReward: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reward",
			Help:      "Reward of the most recent evaluation.",
		}),
	}
	m.registry.MustRegister(
		m.evaluations,
		m.accepted,
		m.timeouts,
		m.reward,
		m.speedup,
		m.queryTime,
		m.copiedRows,
		m.judge,
		m.lastReward,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observation is the subset of an evaluation outcome recorded as metrics.
type Observation struct {
	Success          bool
	Accepted         bool
	Reward           float64
	Speedup          float64
	OriginalTime     time.Duration
	OptimizedTime    time.Duration
	OriginalTimedOut bool
	CopiedRows       int
	Preference       string
	Outcome          string
}

// Observe records one evaluation.
func (m *Metrics) Observe(o Observation) {
	if m == nil {
		return
	}
	outcome := o.Outcome
	if outcome == "" {
		outcome = "failed"
		if o.Success {
			outcome = "success"
		}
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	if o.Accepted {
		m.accepted.Inc()
	}
	if o.OriginalTimedOut {
		m.timeouts.Inc()
	}
	m.reward.Observe(o.Reward)
	m.lastReward.Set(o.Reward)
	if o.Success {
		m.speedup.Observe(o.Speedup)
	}
	if o.OriginalTime > 0 {
		m.queryTime.WithLabelValues("original").Observe(o.OriginalTime.Seconds())
	}
	if o.OptimizedTime > 0 {
		m.queryTime.WithLabelValues("optimized").Observe(o.OptimizedTime.Seconds())
	}
	if o.CopiedRows > 0 {
		m.copiedRows.Add(float64(o.CopiedRows))
	}
	if o.Preference != "" {
		m.judge.WithLabelValues(o.Preference).Inc()
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return m.serve(ctx, ln)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Warnf("metrics shutdown: %v", err)
		}
	}()
	util.Infof("metrics listening on %s", ln.Addr())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
