// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for coapgw.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for coapgw.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Responder metrics
	ActiveResponders prometheus.Gauge
	RespondersTotal  *prometheus.CounterVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     prometheus.Histogram
	ResponseSize    prometheus.Histogram

	// Observe metrics
	ObserveTransitions *prometheus.CounterVec
	Notifications      *prometheus.CounterVec

	// Mailbox metrics
	DroppedEvents *prometheus.CounterVec

	// Transport metrics
	Datagrams *prometheus.CounterVec
}

// New creates a new Metrics instance registered with reg.
// A nil reg registers with the default Prometheus registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "coapgw"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of currently active CoAP sessions",
			},
		),
		SessionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of CoAP sessions by termination reason",
			},
			[]string{"reason"},
		),
		SessionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration in seconds",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600, 3600},
			},
		),
		ActiveResponders: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_responders",
				Help:      "Number of live resource responders",
			},
		),
		RespondersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responders_total",
				Help:      "Total number of responder creation attempts",
			},
			[]string{"status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests answered",
			},
			[]string{"method", "code"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent in a responder per request",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RequestSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_size_bytes",
				Help:      "Request payload size in bytes",
				Buckets:   []float64{16, 64, 256, 1024, 4096, 16384, 65536},
			},
		),
		ResponseSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Response payload size in bytes",
				Buckets:   []float64{16, 64, 256, 1024, 4096, 16384, 65536},
			},
		),
		ObserveTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observe_transitions_total",
				Help:      "Observe registrations and deregistrations by result",
			},
			[]string{"op", "result"},
		),
		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Asynchronous events by outcome",
			},
			[]string{"result"},
		),
		DroppedEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_events_total",
				Help:      "Events dropped because a responder mailbox was full or closed",
			},
			[]string{"kind", "reason"},
		),
		Datagrams: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datagrams_total",
				Help:      "Total number of UDP datagrams",
			},
			[]string{"direction", "status"},
		),
	}
}

// ObserveRequest records an answered request.
func (m *Metrics) ObserveRequest(method, code string, payloadSize int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, code).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
	m.RequestSize.Observe(float64(payloadSize))
}

// ObserveResponse records the payload size of an outgoing message.
func (m *Metrics) ObserveResponse(payloadSize int) {
	if m == nil {
		return
	}
	m.ResponseSize.Observe(float64(payloadSize))
}

// Transition records an observe state machine edge.
func (m *Metrics) Transition(op, result string) {
	if m == nil {
		return
	}
	m.ObserveTransitions.WithLabelValues(op, result).Inc()
}

// Notification records the outcome of an asynchronous event.
func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// Dropped records an event that never reached a responder.
func (m *Metrics) Dropped(kind, reason string) {
	if m == nil {
		return
	}
	m.DroppedEvents.WithLabelValues(kind, reason).Inc()
}

// ResponderStarted records a responder creation attempt.
func (m *Metrics) ResponderStarted(status string) {
	if m == nil {
		return
	}
	m.RespondersTotal.WithLabelValues(status).Inc()
	if status == "created" {
		m.ActiveResponders.Inc()
	}
}

// ResponderStopped records a responder termination.
func (m *Metrics) ResponderStopped() {
	if m == nil {
		return
	}
	m.ActiveResponders.Dec()
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionClosed records a session termination and its lifetime.
func (m *Metrics) SessionClosed(reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(lifetime.Seconds())
	m.SessionsTotal.WithLabelValues(reason).Inc()
}

// Datagram records a datagram read or written by the transport.
func (m *Metrics) Datagram(direction, status string) {
	if m == nil {
		return
	}
	m.Datagrams.WithLabelValues(direction, status).Inc()
}
