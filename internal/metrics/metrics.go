// Package metrics owns the process-scoped counters for the messaging path.
// A Collector is created once in main and injected; nothing here is global.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orders"

// Publish outcomes.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

type Collector struct {
	processed    prometheus.Counter
	failed       prometheus.Counter
	requeued     prometheus.Counter
	deadLettered prometheus.Counter
	malformed    prometheus.Counter
	published    *prometheus.CounterVec
	duration     prometheus.Histogram

	processedTotal atomic.Int64
	lastActivity   atomic.Int64 // unix nanos
}

// New registers the collector's metrics on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_processed_total",
			Help: "Order messages processed and acknowledged.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_failed_total",
			Help: "Order messages whose processing returned an error.",
		}),
		requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_requeued_total",
			Help: "Order messages negatively acknowledged with requeue.",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dead_lettered_total",
			Help: "Order messages dropped after exhausting retries.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_malformed_total",
			Help: "Order messages that could not be decoded.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_total",
			Help: "Publish attempts by final outcome.",
		}, []string{"queue", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "processing_duration_seconds",
			Help:    "Time spent in the order processor per message.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(c.processed, c.failed, c.requeued, c.deadLettered, c.malformed, c.published, c.duration)
	}
	return c
}

func (c *Collector) MessageProcessed(d time.Duration) {
	c.processed.Inc()
	c.duration.Observe(d.Seconds())
	c.processedTotal.Add(1)
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Collector) MessageFailed(d time.Duration) {
	c.failed.Inc()
	c.duration.Observe(d.Seconds())
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Collector) MessageRequeued()     { c.requeued.Inc() }
func (c *Collector) MessageDeadLettered() { c.deadLettered.Inc() }
func (c *Collector) MessageMalformed()    { c.malformed.Inc() }

func (c *Collector) Published(queue, outcome string) {
	c.published.WithLabelValues(queue, outcome).Inc()
}

// Processed is the number of messages acknowledged since start.
func (c *Collector) Processed() int64 { return c.processedTotal.Load() }

// LastActivity is the zero time until the first message is handled.
func (c *Collector) LastActivity() time.Time {
	n := c.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
