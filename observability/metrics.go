// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the DataHub BFF.
//
// Metrics cover the request surface (by endpoint and status), the upstream
// scatter fetches (duration and errors by source), and the export volume
// (bytes by format). Exposed on /metrics; all operations are thread-safe
// via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "datahub"

const bffSubsystem = "bff"

// Endpoint labels for request metrics.
type Endpoint string

const (
	EndpointEntities   Endpoint = "entities"
	EndpointData       Endpoint = "data"
	EndpointAlign      Endpoint = "align"
	EndpointExport     Endpoint = "export"
	EndpointWorkspaces Endpoint = "workspaces"
)

// Metrics holds the BFF's Prometheus collectors. Initialize once at startup
// via Init(); helper methods are nil-safe so unit tests can pass a nil
// receiver.
type Metrics struct {
	// RequestsTotal counts handled requests.
	// Labels: endpoint, status (success, error)
	RequestsTotal *prometheus.CounterVec

	// UpstreamFetchSeconds measures one scatter fetch against an adapter
	// or the platform. Labels: source
	UpstreamFetchSeconds *prometheus.HistogramVec

	// UpstreamErrorsTotal counts failed scatter fetches. Labels: source
	UpstreamErrorsTotal *prometheus.CounterVec

	// ExportBytesTotal counts bytes serialized for export.
	// Labels: format (arrow, csv, parquet)
	ExportBytesTotal *prometheus.CounterVec
}

// Default is the singleton instance, set by Init().
var Default *Metrics

// Init registers the collectors on the default registry. Calling it twice
// returns the existing instance.
func Init() *Metrics {
	if Default != nil {
		return Default
	}
	Default = &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bffSubsystem,
				Name:      "requests_total",
				Help:      "Total requests handled by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		UpstreamFetchSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: bffSubsystem,
				Name:      "upstream_fetch_seconds",
				Help:      "Duration of one upstream scatter fetch",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"source"},
		),
		UpstreamErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bffSubsystem,
				Name:      "upstream_errors_total",
				Help:      "Failed upstream scatter fetches by source",
			},
			[]string{"source"},
		),
		ExportBytesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: bffSubsystem,
				Name:      "export_bytes_total",
				Help:      "Bytes serialized for export by format",
			},
			[]string{"format"},
		),
	}
	return Default
}

// RecordRequest records a handled request.
func (m *Metrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordFetch records the duration of one upstream fetch.
func (m *Metrics) RecordFetch(source string, seconds float64) {
	if m == nil {
		return
	}
	m.UpstreamFetchSeconds.WithLabelValues(source).Observe(seconds)
}

// RecordFetchError records a failed upstream fetch.
func (m *Metrics) RecordFetchError(source string) {
	if m == nil {
		return
	}
	m.UpstreamErrorsTotal.WithLabelValues(source).Inc()
}

// RecordExportBytes records serialized export volume.
func (m *Metrics) RecordExportBytes(format string, n int) {
	if m == nil {
		return
	}
	m.ExportBytesTotal.WithLabelValues(format).Add(float64(n))
}
