package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outreach_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_deliveries_total",
			Help: "Delivery attempts by result",
		}, []string{"result"},
	)
	DeliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outreach_delivery_duration_seconds",
		Help:    "Wall time of one target, page load through submit",
		Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80},
	})
	CampaignRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outreach_campaign_running",
		Help: "1 while a campaign is running",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, DeliveriesTotal, DeliveryDuration, CampaignRunning)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

// ObserveDelivery records one finished target.
func ObserveDelivery(ok bool, took time.Duration) {
	result := "failure"
	if ok {
		result = "success"
	}
	DeliveriesTotal.WithLabelValues(result).Inc()
	DeliveryDuration.Observe(took.Seconds())
}

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working through the recorder.
func (r *rec) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
