package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printq",
			Subsystem: "scheduler",
			Name:      "transitions_total",
			Help:      "Job status transitions applied by the scheduler.",
		},
		[]string{"to"},
	)
	storeRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "printq",
			Subsystem: "scheduler",
			Name:      "store_retries_total",
			Help:      "Job store writes retried after a failure.",
		},
	)
	admittedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "printq",
			Subsystem: "queue",
			Name:      "admitted_jobs",
			Help:      "Jobs currently ranked in the queue.",
		},
	)
	printerBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "printq",
			Subsystem: "printer",
			Name:      "busy",
			Help:      "1 while a job holds the printer (awaiting confirmation or printing).",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "printq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		jobTransitionsTotal, storeRetriesTotal, admittedJobs, printerBusy,
		httpRequestsTotal, httpRequestDuration,
	)
}

func RecordTransition(to string) {
	jobTransitionsTotal.WithLabelValues(to).Inc()
}

func RecordStoreRetry() {
	storeRetriesTotal.Inc()
}

func SetAdmitted(n int) {
	admittedJobs.Set(float64(n))
}

func SetPrinterBusy(busy bool) {
	if busy {
		printerBusy.Set(1)
		return
	}
	printerBusy.Set(0)
}

// GinMiddleware records request count and latency keyed by the route pattern,
// so job ids never become label values.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, code).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
