// Package metrics holds the Prometheus collectors exported by the processor.
//
// A Collectors value is created once in main, registered on a Registerer and
// handed to the components that record into it. Tests build their own value
// on a private registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pitwall"

// Collectors groups every processor metric.
type Collectors struct {
	messagesReceived  prometheus.Counter
	messageSize       prometheus.Histogram
	processingLatency prometheus.Histogram
	anomaliesDetected *prometheus.CounterVec
	activeAnomalies   *prometheus.GaugeVec
	pitstopScore      *prometheus.GaugeVec
	recommendations   *prometheus.CounterVec
	outOfOrderSamples prometheus.Counter
	throughput        prometheus.Gauge
	avgLatencyMs      prometheus.Gauge
	persistWritten    *prometheus.CounterVec
	persistDropped    *prometheus.CounterVec
	decodeErrors      *prometheus.CounterVec
}

// New builds an unregistered set of collectors.
func New() *Collectors {
	return &Collectors{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of telemetry samples processed.",
		}),
		messageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_size_bytes",
			Help:      "Encoded size of received telemetry payloads.",
			Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		processingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_latency_seconds",
			Help:      "Time spent detecting and scoring one sample.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		anomaliesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Anomaly events emitted, partitioned by category and severity.",
		}, []string{"category", "severity"}),
		activeAnomalies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_anomalies",
			Help:      "Open detection windows per car.",
		}, []string{"car_id"}),
		pitstopScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pitstop_score",
			Help:      "Latest pit-stop urgency score per car (0-100).",
		}, []string{"car_id"}),
		recommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pitstop_recommendations_total",
			Help:      "High and critical pit-stop recommendations, partitioned by urgency.",
		}, []string{"urgency"}),
		outOfOrderSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "out_of_order_samples_total",
			Help:      "Detection windows reset by a sample older than the window's last reading.",
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_throughput_msg_per_sec",
			Help:      "Samples processed per second over the last measurement interval.",
		}),
		avgLatencyMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "avg_processing_latency_ms",
			Help:      "Mean processing latency over the most recent samples, in milliseconds.",
		}),
		persistWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_written_total",
			Help:      "Results written to a persistence sink.",
		}, []string{"sink"}),
		persistDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_dropped_total",
			Help:      "Results dropped before reaching a persistence sink.",
		}, []string{"sink"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Payloads rejected at the ingestion boundary, partitioned by transport.",
		}, []string{"transport"}),
	}
}

// Register attaches the collectors to reg. Collectors that are already
// registered are skipped.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.messagesReceived,
		c.messageSize,
		c.processingLatency,
		c.anomaliesDetected,
		c.activeAnomalies,
		c.pitstopScore,
		c.recommendations,
		c.outOfOrderSamples,
		c.throughput,
		c.avgLatencyMs,
		c.persistWritten,
		c.persistDropped,
		c.decodeErrors,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSample records one processed sample.
func (c *Collectors) ObserveSample(sizeBytes int, latency time.Duration) {
	c.messagesReceived.Inc()
	if sizeBytes > 0 {
		c.messageSize.Observe(float64(sizeBytes))
	}
	if latency < 0 {
		latency = 0
	}
	c.processingLatency.Observe(latency.Seconds())
}

// ObserveAnomaly counts one emitted anomaly event.
func (c *Collectors) ObserveAnomaly(category, severity string) {
	c.anomaliesDetected.WithLabelValues(category, severity).Inc()
}

// SetCar updates the per-car gauges.
func (c *Collectors) SetCar(carID string, active int, score float64) {
	c.activeAnomalies.WithLabelValues(carID).Set(float64(active))
	c.pitstopScore.WithLabelValues(carID).Set(score)
}

// SetActive updates only the open-window gauge of a car, e.g. after stale
// windows were evicted.
func (c *Collectors) SetActive(carID string, active int) {
	c.activeAnomalies.WithLabelValues(carID).Set(float64(active))
}

// DeleteCar drops the per-car series of an evicted car.
func (c *Collectors) DeleteCar(carID string) {
	c.activeAnomalies.DeleteLabelValues(carID)
	c.pitstopScore.DeleteLabelValues(carID)
}

// ObserveRecommendation counts one high or critical recommendation.
func (c *Collectors) ObserveRecommendation(urgency string) {
	c.recommendations.WithLabelValues(urgency).Inc()
}

// ObserveOutOfOrder counts window resets caused by late samples.
func (c *Collectors) ObserveOutOfOrder(n int) {
	c.outOfOrderSamples.Add(float64(n))
}

// SetThroughput sets the samples-per-second gauge.
func (c *Collectors) SetThroughput(msgPerSec float64) { c.throughput.Set(msgPerSec) }

// SetAvgLatency sets the mean-latency gauge.
func (c *Collectors) SetAvgLatency(ms float64) { c.avgLatencyMs.Set(ms) }

// ObservePersisted counts results written by sink.
func (c *Collectors) ObservePersisted(sink string, n int) {
	c.persistWritten.WithLabelValues(sink).Add(float64(n))
}

// ObservePersistDropped counts results that sink lost.
func (c *Collectors) ObservePersistDropped(sink string, n int) {
	c.persistDropped.WithLabelValues(sink).Add(float64(n))
}

// ObserveDecodeError counts one rejected payload on transport.
func (c *Collectors) ObserveDecodeError(transport string) {
	c.decodeErrors.WithLabelValues(transport).Inc()
}
