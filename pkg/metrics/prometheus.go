package metrics

// HTTP request metrics for gin, derived from github.com/zsais/go-gin-prometheus
// with push gateway and basic auth removed; the metrics listener is owned by the caller.

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var reqCnt = &Metric{
	ID:          "reqCnt",
	Name:        "req_total",
	Description: "How many HTTP requests processed, partitioned by status code and HTTP method.",
	Type:        "counter_vec",
	Args:        []string{"code", "method", "url"},
}

var reqDur = &Metric{
	ID:          "reqDur",
	Name:        "req_dur_ms",
	Description: "The HTTP request latencies in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"code", "method", "url"},
}

var reqSz = &Metric{
	ID:          "reqSz",
	Name:        "req_sz_bytes",
	Description: "The HTTP request sizes in bytes.",
	Type:        "summary_vec",
	Args:        []string{"code", "method", "url"},
}

const defaultMetricPath = "/metrics"

type Logger interface {
	Errorf(format string, v ...interface{})
}

// URLLabelFn maps a request to the "url" label; keep its cardinality bounded.
type URLLabelFn func(c *gin.Context) string

// Prometheus is a gin middleware recording request counts, latencies and sizes.
type Prometheus struct {
	reqCnt *prometheus.CounterVec
	reqDur *prometheus.HistogramVec
	reqSz  *prometheus.SummaryVec

	MetricsPath string
	urlLabel    URLLabelFn
}

type NewPrometheusOptions struct {
	Subsystem   string
	MetricsPath string
	URLLabelFn  URLLabelFn
	Registerer  prometheus.Registerer
	Logger      Logger
}

// RouteTemplate labels a request with its route template, e.g. /api/v1/admin/members/:id.
func RouteTemplate(c *gin.Context) string {
	if fp := c.FullPath(); fp != "" {
		return fp
	}
	return "unmatched"
}

func NewPrometheus(opts NewPrometheusOptions) *Prometheus {
	p := &Prometheus{MetricsPath: opts.MetricsPath, urlLabel: opts.URLLabelFn}
	if p.MetricsPath == "" {
		p.MetricsPath = defaultMetricPath
	}
	if p.urlLabel == nil {
		p.urlLabel = RouteTemplate
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p.reqCnt = register(reg, opts.Logger, reqCnt, opts.Subsystem).(*prometheus.CounterVec)
	p.reqDur = register(reg, opts.Logger, reqDur, opts.Subsystem).(*prometheus.HistogramVec)
	p.reqSz = register(reg, opts.Logger, reqSz, opts.Subsystem).(*prometheus.SummaryVec)
	return p
}

// register adds the collector to reg. An already registered collector is reused
// so that repeated construction (tests, one-shot CLI runs) stays harmless.
func register(reg prometheus.Registerer, log Logger, m *Metric, subsystem string) prometheus.Collector {
	c := NewMetric(m, subsystem)
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			c = are.ExistingCollector
		} else if log != nil {
			log.Errorf("%s could not be registered in Prometheus, err=%v", m.Name, err)
		}
	}
	m.MetricCollector = c
	return c
}

// Handler exposes the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFunc is the gin middleware.
func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.MetricsPath {
			c.Next()
			return
		}
		start := time.Now()
		size := computeApproximateRequestSize(c.Request)

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		url := p.urlLabel(c)
		p.reqDur.WithLabelValues(status, c.Request.Method, url).Observe(MillisecondsSince(start))
		p.reqCnt.WithLabelValues(status, c.Request.Method, url).Inc()
		p.reqSz.WithLabelValues(status, c.Request.Method, url).Observe(float64(size))
	}
}

// MillisecondsSince returns the elapsed time in fractional milliseconds.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func computeApproximateRequestSize(r *http.Request) int {
	s := 0
	if r.URL != nil {
		s = len(r.URL.Path)
	}
	s += len(r.Method) + len(r.Proto)
	for name, values := range r.Header {
		s += len(name)
		for _, v := range values {
			s += len(v)
		}
	}
	s += len(r.Host)
	if r.ContentLength != -1 {
		s += int(r.ContentLength)
	}
	return s
}
