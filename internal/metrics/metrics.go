package metrics

import (
	"errors"
	log "log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_commands_total",
		Help: "Utterances handled, by resolved kind and outcome status",
	}, []string{"kind", "status"})

	PipelineSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vox_pipeline_seconds",
		Help:    "Time from utterance to outcome, confirmation wait included",
		Buckets: prometheus.DefBuckets,
	})

	ConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_confirmations_total",
		Help: "Confirmation prompts by answer (yes, no, timeout, unavailable)",
	}, []string{"answer"})

	ParserFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_parser_fallbacks_total",
		Help: "LLM decider results replaced by the rule parser",
	}, []string{"reason"})

	ExecSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vox_exec_seconds",
		Help:    "Latency of real effects",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	BusMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vox_bus_messages_total",
		Help: "Bus and protocol frames",
	}, []string{"kind", "direction"})
)

// ObserveSince records the elapsed time of a pipeline run.
func ObserveSince(start time.Time) {
	PipelineSeconds.Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until the listener fails. An empty addr disables it.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		log.Info("Serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics listener stopped", "err", err)
		}
	}()
}
