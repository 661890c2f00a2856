package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Endpoint labels.
const (
	EndpointTranscription = "transcription"
	EndpointTranslation   = "translation"
)

// Metrics holds the streaming pipeline counters. All methods are safe on a
// nil receiver so components can run without instrumentation.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsStarted prometheus.Counter
	SessionsStopped *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram
	DoneTimeouts    prometheus.Counter

	FramesSent     *prometheus.CounterVec
	FramesQueued   *prometheus.CounterVec
	SendsDropped   *prometheus.CounterVec
	ProtocolErrors *prometheus.CounterVec
	CaptureDrops   prometheus.Counter

	TranslationRequests *prometheus.CounterVec
}

// New registers every metric on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_sessions_started_total",
			Help: "Total number of capture sessions started",
		}),
		SessionsStopped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_sessions_stopped_total",
			Help: "Total number of capture sessions stopped, by reason",
		}, []string{"reason"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livescribe_active_sessions",
			Help: "Current number of active capture sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "livescribe_session_duration_seconds",
			Help:    "Duration of capture sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		DoneTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_done_timeouts_total",
			Help: "Sessions whose transcription socket was force-closed without a done acknowledgment",
		}),

		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_socket_frames_sent_total",
			Help: "Frames written to a socket",
		}, []string{"endpoint"}),
		FramesQueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_socket_frames_queued_total",
			Help: "Frames queued while a socket was connecting",
		}, []string{"endpoint"}),
		SendsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_socket_sends_dropped_total",
			Help: "Sends dropped because the socket was not open",
		}, []string{"endpoint"}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_protocol_errors_total",
			Help: "Inbound messages rejected as malformed",
		}, []string{"endpoint"}),
		CaptureDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "livescribe_capture_quanta_dropped_total",
			Help: "Audio quanta dropped by the capture processor because its port was full",
		}),

		TranslationRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livescribe_translation_requests_total",
			Help: "Translate requests sent, by mode",
		}, []string{"mode"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionStopped(reason string, seconds float64) {
	if m == nil {
		return
	}
	m.SessionsStopped.WithLabelValues(reason).Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(seconds)
}

func (m *Metrics) DoneTimeout() {
	if m == nil {
		return
	}
	m.DoneTimeouts.Inc()
}

func (m *Metrics) FrameSent(endpoint string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) FrameQueued(endpoint string) {
	if m == nil {
		return
	}
	m.FramesQueued.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) SendDropped(endpoint string) {
	if m == nil {
		return
	}
	m.SendsDropped.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ProtocolError(endpoint string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) CaptureDropped() {
	if m == nil {
		return
	}
	m.CaptureDrops.Inc()
}

func (m *Metrics) TranslationRequest(mode string) {
	if m == nil {
		return
	}
	m.TranslationRequests.WithLabelValues(mode).Inc()
}

// Snapshot gathers the registry into flat samples keyed by metric name and
// labels, e.g. livescribe_socket_frames_sent_total{endpoint="translation"}.
// Histograms contribute their _count and _sum.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	out := map[string]float64{}
	if m == nil {
		return out, nil
	}
	families, err := m.Registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, family := range families {
		name := family.GetName()
		for _, metric := range family.GetMetric() {
			labels := labelString(metric.GetLabel())
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				out[name+labels] = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[name+labels] = metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[name+"_count"+labels] = float64(metric.GetHistogram().GetSampleCount())
				out[name+"_sum"+labels] = metric.GetHistogram().GetSampleSum()
			}
		}
	}
	return out, nil
}

func labelString(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		parts = append(parts, pair.GetName()+`="`+pair.GetValue()+`"`)
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
