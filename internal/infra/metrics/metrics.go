package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	UpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_updates_total",
		Help: "Полученные апдейты по типу",
	}, []string{"kind"})

	UpdateHandleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_update_handle_seconds",
		Help:    "Время обработки одного апдейта",
		Buckets: prometheus.DefBuckets,
	})

	FeedbackTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedback_transitions_total",
		Help: "Переходы заявок на отзыв",
	}, []string{"transition"})

	LedgerMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_mutations_total",
		Help: "Изменения журнала участников",
	}, []string{"op", "status"})

	StaffAlerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "staff_alerts_total",
		Help: "Уведомления, отправленные персоналу",
	}, []string{"kind"})

	UnauthorizedAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unauthorized_attempts_total",
		Help: "Попытки вызвать закрытые команды без прав",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		BotSendErrors,
		UpdatesTotal,
		UpdateHandleSeconds,
		FeedbackTransitions,
		LedgerMutations,
		StaffAlerts,
		UnauthorizedAttempts,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLedgerMutation учитывает изменение журнала.
func ObserveLedgerMutation(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LedgerMutations.WithLabelValues(op, status).Inc()
}

// IncTransition учитывает переход заявки.
func IncTransition(transition string) {
	FeedbackTransitions.WithLabelValues(transition).Inc()
}

// IncUpdate учитывает входящий апдейт.
func IncUpdate(kind string) {
	UpdatesTotal.WithLabelValues(kind).Inc()
}

// IncStaffAlert учитывает уведомление персоналу.
func IncStaffAlert(kind string) {
	StaffAlerts.WithLabelValues(kind).Inc()
}
