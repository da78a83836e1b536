/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "kestrel"

	// ActivityPub.
	activityPub                = "activitypub"
	apPostTimeMetric           = "outbox_post_time"
	apResolveInboxesTimeMetric = "outbox_resolve_inboxes_time"
	apInboxHandlerTimeMetric   = "inbox_handler_time"
	apInboxRejectedMetric      = "inbox_rejected_count"

	// Delivery.
	delivery                  = "delivery"
	deliveryTimeMetric        = "request_time"
	deliveryResultMetric      = "result_count"
	deliveryQueueDepthMetric  = "queue_depth"
	deliveryResultStatusLabel = "status"
)

// Metrics manages the metrics for Kestrel.
type Metrics struct {
	apOutboxPostTime           prometheus.Histogram
	apOutboxResolveInboxesTime prometheus.Histogram
	apInboxHandlerTime         prometheus.Histogram
	apInboxRejectedCount       prometheus.Counter

	deliveryTime        prometheus.Histogram
	deliveryResultCount *prometheus.CounterVec
	deliveryQueueDepth  prometheus.Gauge
}

//nolint:gochecknoglobals
var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics provider, creating and registering it on
// first use.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})

	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{
		apOutboxPostTime: newHistogram(
			activityPub, apPostTimeMetric,
			"The time (in seconds) that it takes to post an activity to the outbox",
		),
		apOutboxResolveInboxesTime: newHistogram(
			activityPub, apResolveInboxesTimeMetric,
			"The time (in seconds) that it takes to resolve the inboxes of the recipients when posting to the outbox",
		),
		apInboxHandlerTime: newHistogram(
			activityPub, apInboxHandlerTimeMetric,
			"The time (in seconds) that it takes to handle an activity posted to the inbox",
		),
		apInboxRejectedCount: newCounter(
			activityPub, apInboxRejectedMetric,
			"The number of inbox requests that were rejected before being queued",
		),
		deliveryTime: newHistogram(
			delivery, deliveryTimeMetric,
			"The time (in seconds) that it takes to post an activity to a remote inbox",
		),
		deliveryResultCount: newCounterVec(
			delivery, deliveryResultMetric,
			"The number of delivery attempts, partitioned by result status",
			deliveryResultStatusLabel,
		),
		deliveryQueueDepth: newGauge(
			delivery, deliveryQueueDepthMetric,
			"The number of deliveries that are pending or awaiting retry",
		),
	}

	prometheus.MustRegister(
		m.apOutboxPostTime,
		m.apOutboxResolveInboxesTime,
		m.apInboxHandlerTime,
		m.apInboxRejectedCount,
		m.deliveryTime,
		m.deliveryResultCount,
		m.deliveryQueueDepth,
	)

	return m
}

// OutboxPostTime records the time it takes to post an activity to the outbox.
func (m *Metrics) OutboxPostTime(value time.Duration) {
	m.apOutboxPostTime.Observe(value.Seconds())
}

// OutboxResolveInboxesTime records the time it takes to resolve recipient inboxes for an outbox post.
func (m *Metrics) OutboxResolveInboxesTime(value time.Duration) {
	m.apOutboxResolveInboxesTime.Observe(value.Seconds())
}

// InboxHandlerTime records the time it takes to handle an activity posted to the inbox.
func (m *Metrics) InboxHandlerTime(value time.Duration) {
	m.apInboxHandlerTime.Observe(value.Seconds())
}

// InboxRejected increments the count of inbox requests rejected before being queued.
func (m *Metrics) InboxRejected() {
	m.apInboxRejectedCount.Inc()
}

// DeliveryTime records the time it takes to post an activity to a remote inbox.
func (m *Metrics) DeliveryTime(value time.Duration) {
	m.deliveryTime.Observe(value.Seconds())
}

// DeliveryResult increments the count of delivery attempts with the given result status.
func (m *Metrics) DeliveryResult(status string) {
	m.deliveryResultCount.WithLabelValues(status).Inc()
}

// DeliveryQueueDepth sets the number of deliveries that are pending or awaiting retry.
func (m *Metrics) DeliveryQueueDepth(value int) {
	m.deliveryQueueDepth.Set(float64(value))
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newHistogram(subsystem, name, help string) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}
