package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	TasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_submitted_total",
			Help: "Total number of tasks accepted for execution",
		},
		[]string{"queue", "task_type"},
	)
	TasksProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_processing",
			Help: "Number of tasks currently processing",
		},
		[]string{"queue", "task_type"},
	)
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of tasks completed",
		},
		[]string{"queue", "task_type"},
	)
	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of tasks failed",
		},
		[]string{"queue", "task_type"},
	)
	TasksRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_retried_total",
			Help: "Total number of task retry attempts",
		},
		[]string{"queue", "task_type"},
	)
	TasksCancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_cancelled_total",
			Help: "Total number of tasks cancelled",
		},
		[]string{"queue", "task_type"},
	)
	TaskProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_processing_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"queue", "task_type"},
	)

	AlarmsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarms_triggered_total",
			Help: "Total number of alarms raised after dedup and cooldown",
		},
		[]string{"type", "severity"},
	)
	AlarmsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarms_suppressed_total",
			Help: "Total number of alarm events suppressed by cooldown",
		},
		[]string{"type"},
	)
	NotificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_failures_total",
			Help: "Total number of failed notification deliveries",
		},
		[]string{"channel"},
	)

	HealthTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "health_ticks_total",
			Help: "Total number of health evaluator iterations",
		},
		[]string{"loop", "outcome"},
	)
	HealthTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "health_tick_duration_seconds",
			Help:    "Health evaluator iteration duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
		[]string{"loop"},
	)
	ComponentHealthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "component_health_status",
			Help: "Component health (0=healthy, 1=degraded, 2=critical, 3=unknown)",
		},
		[]string{"component"},
	)
	QueueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_pending_tasks",
			Help: "Pending tasks per queue as of the last health tick",
		},
		[]string{"queue"},
	)
)

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TasksSubmittedTotal)
	prometheus.MustRegister(TasksProcessing)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(TasksRetriedTotal)
	prometheus.MustRegister(TasksCancelledTotal)
	prometheus.MustRegister(TaskProcessingDuration)
	prometheus.MustRegister(AlarmsTriggeredTotal)
	prometheus.MustRegister(AlarmsSuppressedTotal)
	prometheus.MustRegister(NotificationFailuresTotal)
	prometheus.MustRegister(HealthTicksTotal)
	prometheus.MustRegister(HealthTickDuration)
	prometheus.MustRegister(ComponentHealthGauge)
	prometheus.MustRegister(QueueDepthGauge)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// SubmitTask records a task accepted for execution.
func SubmitTask(queue, taskType string) {
	TasksSubmittedTotal.WithLabelValues(queue, taskType).Inc()
}

// StartProcessingTask records a handler starting.
func StartProcessingTask(queue, taskType string) {
	TasksProcessing.WithLabelValues(queue, taskType).Inc()
}

// CompleteTask records a successful handler run.
func CompleteTask(queue, taskType string, dur time.Duration) {
	TasksProcessing.WithLabelValues(queue, taskType).Dec()
	TasksCompletedTotal.WithLabelValues(queue, taskType).Inc()
	TaskProcessingDuration.WithLabelValues(queue, taskType).Observe(dur.Seconds())
}

// RetryTask records a retryable failure.
func RetryTask(queue, taskType string) {
	TasksProcessing.WithLabelValues(queue, taskType).Dec()
	TasksRetriedTotal.WithLabelValues(queue, taskType).Inc()
}

// FailTask records a terminal failure.
func FailTask(queue, taskType string, dur time.Duration) {
	TasksProcessing.WithLabelValues(queue, taskType).Dec()
	TasksFailedTotal.WithLabelValues(queue, taskType).Inc()
	TaskProcessingDuration.WithLabelValues(queue, taskType).Observe(dur.Seconds())
}

// CancelTask records a cancellation.
func CancelTask(queue, taskType string) {
	TasksCancelledTotal.WithLabelValues(queue, taskType).Inc()
}

// ObserveComponentHealth exports a component verdict as a gauge level.
func ObserveComponentHealth(component, status string) {
	var level float64
	switch status {
	case "healthy":
		level = 0
	case "degraded":
		level = 1
	case "critical":
		level = 2
	default:
		level = 3
	}
	ComponentHealthGauge.WithLabelValues(component).Set(level)
}
