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
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/nekazari/datahub-bff/arrowframe"
	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/datatypes"
	"github.com/nekazari/datahub-bff/middleware"
	"github.com/nekazari/datahub-bff/observability"
	"github.com/nekazari/datahub-bff/upstream"
)

var timeseriesTracer = otel.Tracer("nekazari.datahub.handlers")

var dataProxyClient = &http.Client{Timeout: 60 * time.Second}

// EntityData serves GET /timeseries/entities/{id}/data as a transparent
// proxy: resolve the URN, forward the query string and auth headers, and
// pass the upstream body, content type, and status through. An entity with
// no timeseries location answers 204.
func EntityData(cfg *config.Config, resolver *upstream.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := timeseriesTracer.Start(c.Request.Context(), "EntityData")
		defer span.End()

		if cfg.PlatformAPIURL == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "PLATFORM_API_URL not configured"})
			return
		}

		tc := middleware.GetTenant(c)
		resolved, ok := resolver.Resolve(ctx, c.Param("entityId"), tc)
		if !ok {
			observability.Default.RecordRequest(observability.EndpointData, true)
			c.Status(http.StatusNoContent)
			return
		}

		target := fmt.Sprintf("%s/api/timeseries/entities/%s/data",
			cfg.PlatformAPIURL, url.PathEscape(resolved))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
			return
		}
		req.URL.RawQuery = c.Request.URL.RawQuery
		tc.Apply(req.Header)

		resp, err := dataProxyClient.Do(req)
		if err != nil {
			span.RecordError(err)
			observability.Default.RecordRequest(observability.EndpointData, false)
			slog.Error("platform data fetch failed", "entity_id", resolved, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Upstream request failed: %s", err)})
			return
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.Default.RecordRequest(observability.EndpointData, false)
			c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Upstream read failed: %s", err)})
			return
		}
		if resp.StatusCode >= 400 {
			observability.Default.RecordRequest(observability.EndpointData, false)
			c.JSON(resp.StatusCode, upstreamErrorBody(body, resp.StatusCode))
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		observability.Default.RecordRequest(observability.EndpointData, true)
		c.Data(resp.StatusCode, contentType, body)
	}
}

// Align serves POST /timeseries/align. Route A (every series timescale,
// platform configured) forwards to the platform align endpoint after URN
// resolution; Route B scatter-gathers per source, outer-joins the Arrow
// buffers, and returns the merged frame as Arrow IPC.
func Align(cfg *config.Config, coord *upstream.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := timeseriesTracer.Start(c.Request.Context(), "Align")
		defer span.End()

		var req datatypes.AlignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
			return
		}
		if req.StartTime == "" || req.EndTime == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_time and end_time required"})
			return
		}
		if len(req.Series) < 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "series must be an array of at least 2 items"})
			return
		}
		series, err := datatypes.ParseSeries(req.Series)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resolution := req.Resolution
		if resolution == 0 {
			resolution = 1000
		}

		tc := middleware.GetTenant(c)
		w := upstream.Window{StartTime: req.StartTime, EndTime: req.EndTime, Resolution: resolution}

		if coord.RouteA(series) {
			proxyAlign(c, cfg, coord.Resolver(), series, w, tc)
			return
		}

		// Route B: scatter-gather by source, merge in the BFF.
		w.Resolution = datatypes.ClampResolution(resolution, 100, 10000)
		frame, err := coord.GatherAlign(ctx, series, w, tc)
		if err != nil {
			respondGatherError(c, observability.EndpointAlign, err)
			return
		}
		out, err := arrowframe.Encode(frame)
		if err != nil {
			observability.Default.RecordRequest(observability.EndpointAlign, false)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		observability.Default.RecordRequest(observability.EndpointAlign, true)
		observability.Default.RecordExportBytes("arrow", len(out))
		c.Header("Content-Length", strconv.Itoa(len(out)))
		c.Data(http.StatusOK, upstream.ArrowStreamType, out)
	}
}

// proxyAlign is Route A: resolve every URN (404 when an entity has no
// timeseries location), then forward the align request to the platform.
func proxyAlign(c *gin.Context, cfg *config.Config, resolver *upstream.Resolver, series []datatypes.SeriesDescriptor, w upstream.Window, tc datatypes.TenantContext) {
	ctx := c.Request.Context()

	resolved, err := resolver.ResolveSeries(ctx, series, tc)
	if err != nil {
		observability.Default.RecordRequest(observability.EndpointAlign, false)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	proxySeries := make([]map[string]string, len(resolved))
	for i, d := range resolved {
		proxySeries[i] = map[string]string{"entity_id": d.EntityID, "attribute": d.Attribute}
	}
	body, err := json.Marshal(map[string]any{
		"start_time": w.StartTime,
		"end_time":   w.EndTime,
		"resolution": datatypes.ClampResolution(w.Resolution, 100, 10000),
		"series":     proxySeries,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.PlatformAPIURL+"/api/timeseries/align", bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
		return
	}
	tc.Apply(req.Header)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", upstream.ArrowStreamType)

	resp, err := dataProxyClient.Do(req)
	if err != nil {
		observability.Default.RecordRequest(observability.EndpointAlign, false)
		slog.Error("platform align proxy failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Upstream request failed: %s", err)})
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.Default.RecordRequest(observability.EndpointAlign, false)
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Upstream read failed: %s", err)})
		return
	}
	if resp.StatusCode >= 400 {
		observability.Default.RecordRequest(observability.EndpointAlign, false)
		c.JSON(resp.StatusCode, upstreamErrorBody(respBody, resp.StatusCode))
		return
	}
	observability.Default.RecordRequest(observability.EndpointAlign, true)
	c.Data(http.StatusOK, upstream.ArrowStreamType, respBody)
}

// respondGatherError maps coordinator failures onto the error taxonomy:
// unresolved URNs are 404, everything else (fetch, decode, merge) is 502
// naming the offending source when known.
func respondGatherError(c *gin.Context, endpoint observability.Endpoint, err error) {
	observability.Default.RecordRequest(endpoint, false)

	var notFound *upstream.NoTimeseriesLocationError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

// upstreamErrorBody derives the JSON error body forwarded for an upstream
// 4xx/5xx: the upstream's own JSON when parseable, a synthesized one
// otherwise.
func upstreamErrorBody(body []byte, status int) any {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil && parsed != nil {
		return parsed
	}
	msg := string(bytes.TrimSpace(body))
	if msg == "" {
		msg = fmt.Sprintf("Upstream %d", status)
	}
	return gin.H{"error": msg}
}
