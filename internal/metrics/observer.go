package metrics

// Observer aggregates every metric sink the server feeds: stream fan-out
// health and flag evaluation outcomes. Consumers depend on narrower
// interfaces; this is the one implementation wired up in main.
type Observer interface {
	IncOnline()
	DecOnline()
	RecordPush()
	ObservePushLatency(duration float64)
	UpdateEventLag(lag int)
	ObserveEvaluation(featureKey, source string, enabled bool)
}
