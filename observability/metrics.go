package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

func (c *MetricsConfig) setDefaults() {
	if c.Namespace == "" {
		c.Namespace = "orchestrix"
	}
}

// Metrics holds every Prometheus collector the orchestrator publishes.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	stepDuration *prometheus.HistogramVec
	stepRetries  *prometheus.CounterVec

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolDenied       *prometheus.CounterVec

	approvalsRequested *prometheus.CounterVec
	approvalLatency    prometheus.Histogram

	indexBuildDuration prometheus.Histogram
	indexChunksTotal   prometheus.Gauge
	searchLatency      prometheus.Histogram

	llmCalls          *prometheus.CounterVec
	llmTokensInput    *prometheus.CounterVec
	llmTokensOutput   *prometheus.CounterVec
	llmCallDuration   *prometheus.HistogramVec
}

// NewMetrics builds a Metrics instance, or returns (nil, nil) when
// disabled so callers can treat a nil *Metrics as a safe no-op sink.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.setDefaults()

	m := &Metrics{registry: prometheus.NewRegistry()}
	ns := cfg.Namespace

	m.runsStarted = counterVec(m.registry, ns, "run", "started_total", "Total runs started.", "mode")
	m.runsCompleted = counterVec(m.registry, ns, "run", "completed_total", "Total runs completed.", "status")
	m.runDuration = histogramVec(m.registry, ns, "run", "duration_seconds", "Run wall-clock duration.", prometheus.DefBuckets, "status")
	m.activeRuns = gauge(m.registry, ns, "run", "active", "Runs currently in progress.")

	m.stepDuration = histogramVec(m.registry, ns, "step", "duration_seconds", "Build-step duration.", prometheus.DefBuckets, "status")
	m.stepRetries = counterVec(m.registry, ns, "step", "retries_total", "Build-step retry attempts.", "step_name")

	m.toolCalls = counterVec(m.registry, ns, "tool", "calls_total", "Tool invocations.", "tool_name", "status")
	m.toolCallDuration = histogramVec(m.registry, ns, "tool", "call_duration_seconds", "Tool call duration.", prometheus.DefBuckets, "tool_name")
	m.toolDenied = counterVec(m.registry, ns, "tool", "denied_total", "Tool calls denied by policy.", "tool_name", "scope")

	m.approvalsRequested = counterVec(m.registry, ns, "approval", "requested_total", "Approval requests raised.", "reason")
	m.approvalLatency = histogram(m.registry, ns, "approval", "latency_seconds", "Time from approval request to resolution.", prometheus.ExponentialBuckets(1, 2, 12))

	m.indexBuildDuration = histogram(m.registry, ns, "index", "build_duration_seconds", "Workspace index build duration.", prometheus.DefBuckets)
	m.indexChunksTotal = gauge(m.registry, ns, "index", "chunks", "Chunks currently held in the workspace index.")
	m.searchLatency = histogram(m.registry, ns, "index", "search_latency_seconds", "Semantic search query latency.", prometheus.DefBuckets)

	m.llmCalls = counterVec(m.registry, ns, "llm", "calls_total", "Provider adapter calls.", "provider", "status")
	m.llmTokensInput = counterVec(m.registry, ns, "llm", "tokens_input_total", "Input tokens consumed.", "provider")
	m.llmTokensOutput = counterVec(m.registry, ns, "llm", "tokens_output_total", "Output tokens produced.", "provider")
	m.llmCallDuration = histogramVec(m.registry, ns, "llm", "call_duration_seconds", "Provider adapter round-trip duration.", prometheus.DefBuckets, "provider")

	return m, nil
}

func counterVec(reg *prometheus.Registry, ns, sub, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help}, labels)
	reg.MustRegister(c)
	return c
}

func histogramVec(reg *prometheus.Registry, ns, sub, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help, Buckets: buckets}, labels)
	reg.MustRegister(h)
	return h
}

func histogram(reg *prometheus.Registry, ns, sub, name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help, Buckets: buckets})
	reg.MustRegister(h)
	return h
}

func gauge(reg *prometheus.Registry, ns, sub, name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help})
	reg.MustRegister(g)
	return g
}

// Handler returns the http.Handler serving this registry's /metrics page,
// or nil if metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunStarted(mode string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
	m.activeRuns.Inc()
}

func (m *Metrics) RunCompleted(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(durationSeconds)
	m.activeRuns.Dec()
}

func (m *Metrics) StepFinished(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(status).Observe(durationSeconds)
}

func (m *Metrics) StepRetried(stepName string) {
	if m == nil {
		return
	}
	m.stepRetries.WithLabelValues(stepName).Inc()
}

func (m *Metrics) ToolCalled(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName, status).Inc()
	m.toolCallDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

func (m *Metrics) ToolDenied(toolName, scope string) {
	if m == nil {
		return
	}
	m.toolDenied.WithLabelValues(toolName, scope).Inc()
}

func (m *Metrics) ApprovalRequested(reason string) {
	if m == nil {
		return
	}
	m.approvalsRequested.WithLabelValues(reason).Inc()
}

func (m *Metrics) ApprovalResolved(latencySeconds float64) {
	if m == nil {
		return
	}
	m.approvalLatency.Observe(latencySeconds)
}

func (m *Metrics) IndexBuilt(durationSeconds float64, chunkCount int) {
	if m == nil {
		return
	}
	m.indexBuildDuration.Observe(durationSeconds)
	m.indexChunksTotal.Set(float64(chunkCount))
}

func (m *Metrics) SearchPerformed(latencySeconds float64) {
	if m == nil {
		return
	}
	m.searchLatency.Observe(latencySeconds)
}

func (m *Metrics) LLMCall(provider, status string, durationSeconds float64, tokensIn, tokensOut int) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, status).Inc()
	m.llmCallDuration.WithLabelValues(provider).Observe(durationSeconds)
	m.llmTokensInput.WithLabelValues(provider).Add(float64(tokensIn))
	m.llmTokensOutput.WithLabelValues(provider).Add(float64(tokensOut))
}
