// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for tutorchat.
//
// # Description
//
// Metrics cover the streaming chat pipeline:
//   - Request counters (by endpoint, status)
//   - Latency histograms (time to first token, total stream duration)
//   - Active stream gauge
//   - Error counters by category
//   - Retrieval fallback counter (vector path failed, keyword path used)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tutorchat"

const chatSubsystem = "chat"

// ChatMetrics holds all Prometheus metrics for the chat pipeline.
// Initialize once at startup via InitMetrics().
type ChatMetrics struct {
	// RequestsTotal counts chat requests by endpoint and status.
	// Labels: endpoint (chat_stream, conversations, history), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to first streamed byte.
	TimeToFirstTokenSeconds prometheus.Histogram

	// StreamDurationSeconds measures total stream duration.
	// Labels: status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming responses.
	ActiveStreams prometheus.Gauge

	// ErrorsTotal counts errors by category.
	// Labels: endpoint, error_code (validation, rate_limited, llm_error, ...)
	ErrorsTotal *prometheus.CounterVec

	// RetrievalFallbacksTotal counts retrievals that fell back from the
	// vector path to the keyword path.
	RetrievalFallbacksTotal prometheus.Counter

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	ClientDisconnectsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of ChatMetrics.
// Initialized by InitMetrics(). Call sites nil-check it so tests that never
// initialize metrics still run.
var DefaultMetrics *ChatMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *ChatMetrics {
	DefaultMetrics = &ChatMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total number of requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first streamed byte in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming responses",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and category",
			},
			[]string{"endpoint", "error_code"},
		),

		RetrievalFallbacksTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "retrieval_fallbacks_total",
				Help:      "Retrievals that fell back from vector to keyword search",
			},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Client disconnections during streaming",
			},
		),
	}

	return DefaultMetrics
}

// ErrorCode categorizes an error for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeUnauthorized indicates a missing or invalid session/key.
	ErrorCodeUnauthorized ErrorCode = "unauthorized"

	// ErrorCodeRateLimited indicates the fixed-window limiter rejected the request.
	ErrorCodeRateLimited ErrorCode = "rate_limited"

	// ErrorCodeLLMError indicates a provider API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout indicates the generation deadline elapsed.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeStorage indicates a store read/write failure.
	ErrorCodeStorage ErrorCode = "storage"

	// ErrorCodeInternal indicates any other internal failure.
	ErrorCodeInternal ErrorCode = "internal"
)

// Endpoint labels for metrics.
type Endpoint string

const (
	// EndpointChatStream is the streaming chat endpoint.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointConversations covers the conversation management endpoints.
	EndpointConversations Endpoint = "conversations"

	// EndpointHistory is the message history endpoint.
	EndpointHistory Endpoint = "history"

	// EndpointSearch is the conversation/message search endpoint.
	EndpointSearch Endpoint = "search"
)

// RecordRequest records a completed request.
func (m *ChatMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records a categorized error.
func (m *ChatMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *ChatMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *ChatMetrics) StreamEnded() {
	m.ActiveStreams.Dec()
}

// RecordTimeToFirstToken records latency to the first streamed byte.
func (m *ChatMetrics) RecordTimeToFirstToken(seconds float64) {
	m.TimeToFirstTokenSeconds.Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *ChatMetrics) RecordStreamDuration(seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordRetrievalFallback increments the keyword-fallback counter.
func (m *ChatMetrics) RecordRetrievalFallback() {
	m.RetrievalFallbacksTotal.Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *ChatMetrics) RecordClientDisconnect() {
	m.ClientDisconnectsTotal.Inc()
}
