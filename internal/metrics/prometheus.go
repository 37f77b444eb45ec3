package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "excelgpt_queries_total",
		Help: "Total queries processed, labelled by outcome.",
	}, []string{"status"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "excelgpt_query_duration_seconds",
		Help:    "End-to-end query processing latency.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"status"})

	regenerations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "excelgpt_spec_regenerations_total",
		Help: "Times a failed analysis spec was sent back to the model for correction.",
	})

	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "excelgpt_llm_requests_total",
		Help: "LLM API calls, labelled by provider, model and outcome.",
	}, []string{"provider", "model", "status"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "excelgpt_llm_request_duration_seconds",
		Help:    "LLM API call latency.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"provider", "model"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "excelgpt_llm_tokens_total",
		Help: "Tokens consumed by LLM calls.",
	}, []string{"provider", "model", "kind"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "excelgpt_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"name"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "excelgpt_cache_hits_total",
		Help: "Query result cache hits.",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "excelgpt_cache_misses_total",
		Help: "Query result cache misses.",
	})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "excelgpt_websocket_connections",
		Help: "Currently open WebSocket connections.",
	})

	datasetReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "excelgpt_dataset_reloads_total",
		Help: "Times the dataset was reloaded after a file change.",
	})
)

func RecordQuery(status string, duration time.Duration) {
	queryTotal.WithLabelValues(status).Inc()
	queryDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordRegeneration() {
	regenerations.Inc()
}

func RecordLLMRequest(provider, model, status string, duration time.Duration) {
	llmRequests.WithLabelValues(provider, model, status).Inc()
	llmLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

func RecordLLMTokens(provider, model string, promptTokens, completionTokens int) {
	llmTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	llmTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

func RecordBreakerState(name, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	breakerState.WithLabelValues(name).Set(v)
}

func RecordCacheHit()  { cacheHits.Inc() }
func RecordCacheMiss() { cacheMisses.Inc() }

func WSConnectionOpened() { wsConnections.Inc() }
func WSConnectionClosed() { wsConnections.Dec() }

func RecordDatasetReload() { datasetReloads.Inc() }

// Handler exposes the Prometheus scrape endpoint as a Fiber handler.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
