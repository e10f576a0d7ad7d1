// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/datatypes"
)

var resolveClient = &http.Client{Timeout: 10 * time.Second}

// Resolver translates URN-shaped entity identifiers into the platform's
// internal timeseries ids via GET /api/entities/{id}/timeseries-location.
// Nothing is cached.
type Resolver struct {
	cfg *config.Config
}

// NewResolver returns a resolver against the loaded configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve maps an entity id to the platform timeseries id. Non-URN ids and
// ids on an unconfigured platform are returned verbatim. ok=false means the
// entity has no timeseries location (upstream 204/404); any other upstream
// problem falls back to the original id, best-effort.
func (r *Resolver) Resolve(ctx context.Context, entityID string, tc datatypes.TenantContext) (id string, ok bool) {
	eid := strings.TrimSpace(entityID)
	if r.cfg.PlatformAPIURL == "" || eid == "" || !strings.HasPrefix(strings.ToLower(eid), "urn:") {
		return eid, true
	}

	target := fmt.Sprintf("%s/api/entities/%s/timeseries-location",
		r.cfg.PlatformAPIURL, url.PathEscape(eid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return eid, true
	}
	tc.Apply(req.Header)

	resp, err := resolveClient.Do(req)
	if err != nil {
		slog.Warn("timeseries-location lookup failed, keeping original id",
			"entity_id", eid, "error", err)
		return eid, true
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			TimeseriesEntityID string `json:"timeseries_entity_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.TimeseriesEntityID == "" {
			return eid, true
		}
		return body.TimeseriesEntityID, true
	case http.StatusNoContent, http.StatusNotFound:
		return "", false
	default:
		slog.Warn("timeseries-location lookup returned unexpected status, keeping original id",
			"entity_id", eid, "status", resp.StatusCode)
		return eid, true
	}
}

// ResolveSeries pre-resolves every timescale descriptor in place. It fails
// with NoTimeseriesLocationError naming the first entity that has no
// timeseries location.
func (r *Resolver) ResolveSeries(ctx context.Context, series []datatypes.SeriesDescriptor, tc datatypes.TenantContext) ([]datatypes.SeriesDescriptor, error) {
	out := make([]datatypes.SeriesDescriptor, len(series))
	copy(out, series)
	if r.cfg.PlatformAPIURL == "" {
		return out, nil
	}
	for i, d := range out {
		if d.Source != config.SourceTimescale {
			continue
		}
		id, ok := r.Resolve(ctx, d.EntityID, tc)
		if !ok {
			return nil, &NoTimeseriesLocationError{EntityID: d.EntityID}
		}
		out[i].EntityID = id
	}
	return out, nil
}
