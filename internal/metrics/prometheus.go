// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/fluxbroker/fluxmq>

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the broker's Prometheus collectors. One instance is created
// per process and threaded through the OwnershipRegistry, PersistenceGateway,
// SubscriptionManager and DeliveryManager at construction time.
type Metrics struct {
	ClaimsTotal    *prometheus.CounterVec
	ClaimDuration  prometheus.Histogram
	LeasesHeld     prometheus.Gauge
	RedirectsTotal *prometheus.CounterVec

	PublishesTotal    *prometheus.CounterVec
	PublishBytesTotal prometheus.Counter
	DeliveriesTotal   *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram

	ConsumePointerFlushesTotal prometheus.Counter
	CompactionRunsTotal        *prometheus.CounterVec
	CompactionBytesFreed       prometheus.Counter

	KVOperationsTotal   *prometheus.CounterVec
	KVOperationDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers every collector against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxmq_ownership_claims_total",
			Help: "Topic ownership claim attempts, labeled by outcome.",
		}, []string{"outcome"}),
		ClaimDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fluxmq_ownership_claim_duration_seconds",
			Help:    "Latency of a topic ownership claim attempt.",
			Buckets: prometheus.DefBuckets,
		}),
		LeasesHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fluxmq_ownership_leases_held",
			Help: "Number of topic leases currently held by this node.",
		}),
		RedirectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxmq_redirects_total",
			Help: "Client connections redirected to a topic's owning node.",
		}, []string{"reason"}),

		PublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxmq_publishes_total",
			Help: "Messages accepted by the persistence gateway's Append, labeled by outcome.",
		}, []string{"outcome"}),
		PublishBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fluxmq_publish_bytes_total",
			Help: "Total payload bytes accepted by the persistence gateway's Append.",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxmq_deliveries_total",
			Help: "Messages handed to a subscriber session, labeled by delivery path.",
		}, []string{"path"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fluxmq_delivery_latency_seconds",
			Help:    "Time from publish acceptance to subscriber delivery.",
			Buckets: prometheus.DefBuckets,
		}),

		ConsumePointerFlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fluxmq_consume_pointer_flushes_total",
			Help: "Lazy consume-pointer persistence flushes to the metadata store.",
		}),
		CompactionRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxmq_compaction_runs_total",
			Help: "PersistenceGateway compaction sweeps, labeled by outcome.",
		}, []string{"outcome"}),
		CompactionBytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fluxmq_compaction_bytes_freed_total",
			Help: "Approximate payload bytes reclaimed by compaction.",
		}),

		KVOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fluxmq_kv_operations_total",
			Help: "Metadata store operations, labeled by operation and status.",
		}, []string{"operation", "status"}),
		KVOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fluxmq_kv_operation_duration_seconds",
			Help:    "Duration of metadata store operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	prometheus.MustRegister(
		m.ClaimsTotal,
		m.ClaimDuration,
		m.LeasesHeld,
		m.RedirectsTotal,
		m.PublishesTotal,
		m.PublishBytesTotal,
		m.DeliveriesTotal,
		m.DeliveryLatency,
		m.ConsumePointerFlushesTotal,
		m.CompactionRunsTotal,
		m.CompactionBytesFreed,
		m.KVOperationsTotal,
		m.KVOperationDuration,
	)
}

// RecordClaim records the outcome and latency of a topic ownership claim.
func (m *Metrics) RecordClaim(outcome string, seconds float64) {
	m.ClaimsTotal.WithLabelValues(outcome).Inc()
	m.ClaimDuration.Observe(seconds)
}

// RecordRedirect records a client being pointed at a topic's owning node.
func (m *Metrics) RecordRedirect(reason string) {
	m.RedirectsTotal.WithLabelValues(reason).Inc()
}

// RecordPublish records an accepted or rejected publish.
func (m *Metrics) RecordPublish(outcome string, payloadBytes int) {
	m.PublishesTotal.WithLabelValues(outcome).Inc()
	if outcome == "accepted" {
		m.PublishBytesTotal.Add(float64(payloadBytes))
	}
}

// RecordDelivery records a message handed to a subscriber over path
// ("local" for a DeliveryManager session write, "federated" for a message
// the Federator republished from a peer region).
func (m *Metrics) RecordDelivery(path string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(path).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordConsumePointerFlush records a consume-pointer write-back.
func (m *Metrics) RecordConsumePointerFlush() {
	m.ConsumePointerFlushesTotal.Inc()
}

// RecordCompaction records a PersistenceGateway compaction sweep.
func (m *Metrics) RecordCompaction(outcome string, bytesFreed int64) {
	m.CompactionRunsTotal.WithLabelValues(outcome).Inc()
	if bytesFreed > 0 {
		m.CompactionBytesFreed.Add(float64(bytesFreed))
	}
}

// RecordKVOperation records a metadata store call.
func (m *Metrics) RecordKVOperation(operation, status string, seconds float64) {
	m.KVOperationsTotal.WithLabelValues(operation, status).Inc()
	m.KVOperationDuration.WithLabelValues(operation).Observe(seconds)
}
