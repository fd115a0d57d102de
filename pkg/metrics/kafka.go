package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// KafkaMetrics counts produced and consumed messages per topic.
type KafkaMetrics struct {
	published *prometheus.CounterVec
	consumed  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func NewKafkaMetrics(reg prometheus.Registerer) *KafkaMetrics {
	m := &KafkaMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "published_total",
			Help:      "Messages published by topic and result",
		}, []string{"topic", "result"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "consumed_total",
			Help:      "Messages handled by topic and result",
		}, []string{"topic", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "operation_duration_seconds",
			Help:      "Publish and handle latency by topic",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic", "operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.published, m.consumed, m.latency)
	return m
}

func (m *KafkaMetrics) ObservePublish(topic string, err error, seconds float64) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic, result(err)).Inc()
	m.latency.WithLabelValues(topic, "publish").Observe(seconds)
}

func (m *KafkaMetrics) ObserveConsume(topic string, err error, seconds float64) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic, result(err)).Inc()
	m.latency.WithLabelValues(topic, "consume").Observe(seconds)
}
