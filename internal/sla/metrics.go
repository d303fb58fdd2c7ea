package sla

import "github.com/prometheus/client_golang/prometheus"

var (
	TrackingsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_trackings_created_total",
		Help: "Number of SLA tracking rows created.",
	})
	BreachesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_breaches_total",
		Help: "Number of SLA legs transitioned to breached.",
	}, []string{"leg"})
	EscalationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_escalations_total",
		Help: "Number of escalation level advances.",
	}, []string{"level"})
	ConfigurationErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_configuration_errors_total",
		Help: "Number of SLA configuration errors encountered.",
	}, []string{"reason"})
	NotificationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_notification_failures_total",
		Help: "Number of notifications that failed to send.",
	}, []string{"kind"})
	WarningsPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sla_warnings_pending",
		Help: "Trackings within the warning lookahead at the last scan.",
	}, []string{"leg"})
	ScanDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sla_scan_duration_seconds",
		Help:    "Duration of SLA scans.",
		Buckets: prometheus.DefBuckets,
	}, []string{"scan"})
)

func init() {
	prometheus.MustRegister(
		TrackingsCreatedTotal,
		BreachesTotal,
		EscalationsTotal,
		ConfigurationErrorsTotal,
		NotificationFailuresTotal,
		WarningsPending,
		ScanDuration,
	)
}
