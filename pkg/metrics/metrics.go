package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registry is private so tests and embedders never collide with the default one.
var registry = prometheus.NewRegistry()

var (
	repliesTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "xiaoshouji_replies_total",
			Help: "Companion replies produced, partitioned by mode.",
		},
		[]string{"mode"},
	)
	replyFailures = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "xiaoshouji_reply_failures_total",
			Help: "Reply attempts that produced nothing, partitioned by reason.",
		},
		[]string{"reason"},
	)
	directivesDropped = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "xiaoshouji_directives_dropped_total",
			Help: "Malformed reply directives that were ignored.",
		},
	)
	bubblesEmitted = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "xiaoshouji_bubbles_emitted_total",
			Help: "Bubbles released by the reply pacer.",
		},
	)
	bubblesDiscarded = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "xiaoshouji_bubbles_discarded_total",
			Help: "Queued bubbles dropped by a pacer clear.",
		},
	)
	completionLatency = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xiaoshouji_completion_seconds",
			Help:    "Latency of chat completion requests.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)
	promptTokens = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "xiaoshouji_prompt_tokens_total",
			Help: "Estimated tokens sent as chat history.",
		},
	)
)

func IncReplies(mode string)        { repliesTotal.WithLabelValues(mode).Inc() }
func IncReplyFailure(reason string) { replyFailures.WithLabelValues(reason).Inc() }
func AddDirectivesDropped(n int)    { directivesDropped.Add(float64(n)) }
func IncBubblesEmitted()            { bubblesEmitted.Inc() }
func AddBubblesDiscarded(n int)     { bubblesDiscarded.Add(float64(n)) }
func AddPromptTokens(n int)         { promptTokens.Add(float64(n)) }

// ObserveCompletion records how long a completion request took.
func ObserveCompletion(d time.Duration) {
	completionLatency.Observe(d.Seconds())
}

// Handler serves the private registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
