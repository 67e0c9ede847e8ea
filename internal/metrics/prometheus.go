package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct {
	onlineGauge    prometheus.Gauge
	pushCounter    prometheus.Counter
	pushLatency    prometheus.Summary
	eventLagGauge  prometheus.Gauge
	evaluationsVec *prometheus.CounterVec
}

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "togglr_online_clients",
		Help: "Number of connected stream clients",
	})
	pushCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "togglr_push_total",
		Help: "Total number of change events pushed to clients",
	})
	pushLatency = promauto.NewSummary(prometheus.SummaryOpts{
		Name:       "togglr_push_latency_seconds",
		Help:       "Latency of handing one event to one client channel",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
	eventLagGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "togglr_event_lag",
		Help: "Change events queued in the hub awaiting fan-out",
	})
	evaluationsVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "togglr_evaluations_total",
		Help: "Flag evaluations by feature, deciding tier and verdict",
	}, []string{"feature_key", "source", "enabled"})
)

func NewPrometheusObserver() Observer {
	return &prometheusObserver{
		onlineGauge:    onlineGauge,
		pushCounter:    pushCounter,
		pushLatency:    pushLatency,
		eventLagGauge:  eventLagGauge,
		evaluationsVec: evaluationsVec,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) IncOnline() {
	p.onlineGauge.Inc()
}

func (p *prometheusObserver) DecOnline() {
	p.onlineGauge.Dec()
}

func (p *prometheusObserver) RecordPush() {
	p.pushCounter.Inc()
}

func (p *prometheusObserver) ObservePushLatency(duration float64) {
	p.pushLatency.Observe(duration)
}

func (p *prometheusObserver) UpdateEventLag(lag int) {
	p.eventLagGauge.Set(float64(lag))
}

func (p *prometheusObserver) ObserveEvaluation(featureKey, source string, enabled bool) {
	p.evaluationsVec.WithLabelValues(featureKey, source, strconv.FormatBool(enabled)).Inc()
}
