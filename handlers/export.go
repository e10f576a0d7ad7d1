// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/nekazari/datahub-bff/arrowframe"
	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/datatypes"
	"github.com/nekazari/datahub-bff/export"
	"github.com/nekazari/datahub-bff/middleware"
	"github.com/nekazari/datahub-bff/observability"
	"github.com/nekazari/datahub-bff/upstream"
)

var exportTracer = otel.Tracer("nekazari.datahub.handlers")

// Proxied exports cover the platform's own CSV/Parquet generation.
var exportProxyClient = &http.Client{Timeout: 120 * time.Second}

// UploaderFactory builds the Parquet uploader per request; tests substitute
// a fake. The real factory fails with export.ErrMissingCredentials when the
// S3 pair is absent.
type UploaderFactory func(c *gin.Context) (export.Uploader, error)

// NewUploaderFactory returns the production factory over the object store.
func NewUploaderFactory(cfg *config.Config) UploaderFactory {
	return func(c *gin.Context) (export.Uploader, error) {
		return export.NewObjectStore(c.Request.Context(), cfg)
	}
}

// Export serves POST /export. Route A forwards to the platform export
// endpoint; Route B gathers per-descriptor Arrow buffers, aligns them on a
// time grid with LOCF, and streams CSV or uploads Parquet to object storage.
func Export(cfg *config.Config, coord *upstream.Coordinator, uploaders UploaderFactory) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := exportTracer.Start(c.Request.Context(), "Export")
		defer span.End()

		var req datatypes.ExportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
			return
		}
		format := strings.ToLower(strings.TrimSpace(req.Format))
		if format == "" {
			format = "csv"
		}
		aggregation := strings.ToLower(strings.TrimSpace(req.Aggregation))
		if aggregation == "" {
			aggregation = "1 hour"
		}
		if format != "csv" && format != "parquet" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or parquet"})
			return
		}
		if req.StartTime == "" || req.EndTime == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_time and end_time required"})
			return
		}
		if len(req.Series) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "series must be a non-empty array"})
			return
		}
		series, err := datatypes.ParseSeries(req.Series)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tc := middleware.GetTenant(c)

		if coord.RouteA(series) {
			proxyExport(c, cfg, coord.Resolver(), series, req, format, aggregation, tc)
			return
		}

		// Route B: per-descriptor gather, grid+LOCF alignment in the BFF.
		startTS, endTS, err := datatypes.ParseTimeRange(req.StartTime, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resolution := datatypes.ResolutionFromAggregation(startTS, endTS, aggregation)

		resolved, err := coord.Resolver().ResolveSeries(ctx, series, tc)
		if err != nil {
			respondGatherError(c, observability.EndpointExport, err)
			return
		}

		w := upstream.Window{StartTime: req.StartTime, EndTime: req.EndTime, Resolution: resolution}
		bodies, err := coord.GatherExport(ctx, resolved, w, tc)
		if err != nil {
			observability.Default.RecordRequest(observability.EndpointExport, false)
			c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Adapter fetch failed: %s", err)})
			return
		}

		frame := arrowframe.AlignGrid(startTS, endTS, resolution, bodies)

		if format == "csv" {
			streamCSVExport(c, frame)
			return
		}
		uploadParquetExport(c, uploaders, frame, tc)
	}
}

// streamCSVExport yields the aligned frame as chunked text/csv; streaming
// stops at the next chunk boundary when the client goes away.
func streamCSVExport(c *gin.Context, frame *arrowframe.Frame) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.CSVFilename))
	c.Status(http.StatusOK)

	total := 0
	err := export.StreamCSV(frame, export.CSVChunkRows, func(chunk []byte) error {
		if c.Request.Context().Err() != nil {
			return c.Request.Context().Err()
		}
		if _, err := c.Writer.Write(chunk); err != nil {
			return err
		}
		c.Writer.Flush()
		total += len(chunk)
		return nil
	})
	if err != nil {
		// Headers are gone; just account for the aborted stream.
		slog.Warn("CSV export stream aborted", "error", err)
		observability.Default.RecordRequest(observability.EndpointExport, false)
		return
	}
	observability.Default.RecordExportBytes("csv", total)
	observability.Default.RecordRequest(observability.EndpointExport, true)
}

// uploadParquetExport writes the frame to object storage and answers with
// the presigned download URL.
func uploadParquetExport(c *gin.Context, uploaders UploaderFactory, frame *arrowframe.Frame, tc datatypes.TenantContext) {
	store, err := uploaders(c)
	if err != nil {
		observability.Default.RecordRequest(observability.EndpointExport, false)
		if errors.Is(err, export.ErrMissingCredentials) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	url, err := store.UploadParquet(c.Request.Context(), tc.Tenant(), frame)
	if err != nil {
		observability.Default.RecordRequest(observability.EndpointExport, false)
		if errors.Is(err, export.ErrMissingCredentials) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	observability.Default.RecordRequest(observability.EndpointExport, true)
	c.JSON(http.StatusOK, gin.H{"download_url": url, "expires_in": 3600, "format": "parquet"})
}

// proxyExport is Route A: resolve every URN (404 when one has no
// timeseries location), forward to the platform export endpoint, and pass
// CSV bodies through with their headers.
func proxyExport(c *gin.Context, cfg *config.Config, resolver *upstream.Resolver, series []datatypes.SeriesDescriptor, req datatypes.ExportRequest, format, aggregation string, tc datatypes.TenantContext) {
	ctx := c.Request.Context()

	resolved, err := resolver.ResolveSeries(ctx, series, tc)
	if err != nil {
		observability.Default.RecordRequest(observability.EndpointExport, false)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	proxySeries := make([]map[string]string, len(resolved))
	for i, d := range resolved {
		proxySeries[i] = map[string]string{"entity_id": d.EntityID, "attribute": d.Attribute}
	}
	body, err := json.Marshal(map[string]any{
		"start_time":  req.StartTime,
		"end_time":    req.EndTime,
		"series":      proxySeries,
		"format":      format,
		"aggregation": aggregation,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.PlatformAPIURL+"/api/timeseries/export", bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
		return
	}
	tc.Apply(httpReq.Header)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := exportProxyClient.Do(httpReq)
	if err != nil {
		observability.Default.RecordRequest(observability.EndpointExport, false)
		slog.Error("platform export proxy failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Upstream request failed: %s", err)})
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.Default.RecordRequest(observability.EndpointExport, false)
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Upstream read failed: %s", err)})
		return
	}
	if resp.StatusCode >= 400 {
		observability.Default.RecordRequest(observability.EndpointExport, false)
		c.JSON(resp.StatusCode, upstreamErrorBody(respBody, resp.StatusCode))
		return
	}

	observability.Default.RecordRequest(observability.EndpointExport, true)
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/csv") {
		if cd := resp.Header.Get("Content-Disposition"); cd != "" {
			c.Header("Content-Disposition", cd)
		}
		c.Data(http.StatusOK, "text/csv", respBody)
		return
	}
	var parsed any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.Data(http.StatusOK, contentType, respBody)
		return
	}
	c.JSON(http.StatusOK, parsed)
}
