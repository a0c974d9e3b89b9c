package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailbridge_console_requests_total", Help: "Console API requests"},
		[]string{"endpoint", "status"},
	)
	BackendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailbridge_backend_requests_total", Help: "Backend REST call outcomes"},
		[]string{"op", "http_status"},
	)
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "mailbridge_backend_latency_seconds", Help: "Backend REST call latency"},
		[]string{"op"},
	)
	PollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailbridge_poll_ticks_total", Help: "Status poller ticks"},
		[]string{"result"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailbridge_dispatch_total", Help: "Dispatch request outcomes"},
		[]string{"kind", "result"},
	)
	GuardRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailbridge_dispatch_rejected_total", Help: "Dispatch requests rejected locally"},
		[]string{"kind", "reason"},
	)
	UploadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailbridge_upload_rejected_total", Help: "Upload candidates rejected locally"},
		[]string{"reason"},
	)
	SentRegressions = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mailbridge_sent_flag_regressions_total", Help: "Polls that reported a sent record as unsent"},
	)
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailbridge_notifications_total", Help: "Operator notifications"},
		[]string{"level"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, BackendRequests, BackendLatency, PollTicks, Dispatches,
		GuardRejections, UploadRejections, SentRegressions, Notifications)
}
