package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// HistogramBuckets are millisecond buckets shared by request and job latencies.
var HistogramBuckets = []float64{
	5, 10, 25, 50, 75, 100, 150, 200, 300, 400, 500,
	750, 1000, 1500, 2000, 3000, 5000, 10000, 30000, 60000, 120000,
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "counter":
		return prometheus.NewCounter(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description})
	case "gauge_vec":
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "gauge":
		return prometheus.NewGauge(prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description})
	case "histogram_vec":
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets}, m.Args)
	case "histogram":
		return prometheus.NewHistogram(prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets})
	case "summary_vec":
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "summary":
		return prometheus.NewSummary(prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description})
	}
	return nil
}

const Subsystem = "membership"

var webhookEvents = &Metric{
	ID:          "webhookEvents",
	Name:        "webhook_events_total",
	Description: "Inbound billing webhook events by event type and outcome.",
	Type:        "counter_vec",
	Args:        []string{"type", "outcome"},
}

var transitions = &Metric{
	ID:          "transitions",
	Name:        "lifecycle_transitions_total",
	Description: "Applied membership lifecycle decisions by reason.",
	Type:        "counter_vec",
	Args:        []string{"reason"},
}

var sweepRecords = &Metric{
	ID:          "sweepRecords",
	Name:        "sweep_records_total",
	Description: "Records visited by the expiration sweep by kind and result.",
	Type:        "counter_vec",
	Args:        []string{"kind", "result"},
}

var notifications = &Metric{
	ID:          "notifications",
	Name:        "notifications_total",
	Description: "Notification queue activity by notification type and result.",
	Type:        "counter_vec",
	Args:        []string{"type", "result"},
}

var jobDur = &Metric{
	ID:          "jobDur",
	Name:        "job_dur_ms",
	Description: "Scheduled job cycle latency in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"job"},
}

// Recorder records domain metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	webhookEvents *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	sweepRecords  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	jobDur        *prometheus.HistogramVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Recorder{
		webhookEvents: register(reg, nil, webhookEvents, Subsystem).(*prometheus.CounterVec),
		transitions:   register(reg, nil, transitions, Subsystem).(*prometheus.CounterVec),
		sweepRecords:  register(reg, nil, sweepRecords, Subsystem).(*prometheus.CounterVec),
		notifications: register(reg, nil, notifications, Subsystem).(*prometheus.CounterVec),
		jobDur:        register(reg, nil, jobDur, Subsystem).(*prometheus.HistogramVec),
	}
}

func (r *Recorder) WebhookEvent(eventType, outcome string) {
	if r == nil {
		return
	}
	r.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (r *Recorder) Transition(reason string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(reason).Inc()
}

func (r *Recorder) SweepRecord(kind, result string) {
	if r == nil {
		return
	}
	r.sweepRecords.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) Notification(notificationType, result string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(notificationType, result).Inc()
}

func (r *Recorder) JobDuration(job string, ms float64) {
	if r == nil {
		return
	}
	r.jobDur.WithLabelValues(job).Observe(ms)
}

func newDefaultRecorder() *Recorder {
	return NewRecorder(prometheus.DefaultRegisterer)
}

var Module = fx.Options(
	fx.Provide(newDefaultRecorder),
)
