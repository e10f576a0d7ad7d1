// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/datatypes"
)

// ArrowStreamType is the media type of Arrow IPC payloads.
const ArrowStreamType = "application/vnd.apache.arrow.stream"

// Platform fetches (data, align) get the longer budget; adapter POSTs are
// expected to answer faster.
var (
	platformClient = &http.Client{Timeout: 60 * time.Second}
	adapterClient  = &http.Client{Timeout: 30 * time.Second}
)

// Window is the time range and point count shared by every fetch of one
// request.
type Window struct {
	StartTime  string
	EndTime    string
	Resolution int
}

// FetchEntityData fetches one entity's series as an Arrow IPC buffer from
// GET {base}/api/timeseries/entities/{id}/data.
func FetchEntityData(ctx context.Context, base string, d datatypes.SeriesDescriptor, w Window, tc datatypes.TenantContext) ([]byte, error) {
	target := fmt.Sprintf("%s/api/timeseries/entities/%s/data", base, url.PathEscape(d.EntityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("start_time", w.StartTime)
	q.Set("end_time", w.EndTime)
	q.Set("resolution", strconv.Itoa(w.Resolution))
	q.Set("attribute", d.Attribute)
	q.Set("format", "arrow")
	req.URL.RawQuery = q.Encode()
	tc.Apply(req.Header)
	req.Header.Set("Accept", ArrowStreamType)

	resp, err := platformClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, snippet(resp.Body))
	}
	return io.ReadAll(resp.Body)
}

// fetchTimescaleGroup fetches one Arrow buffer for a group of timescale
// series: a single series goes through the /data GET, several through the
// platform align POST with the resolution bounded to [100, 10000].
func fetchTimescaleGroup(ctx context.Context, cfg *config.Config, group []datatypes.SeriesDescriptor, w Window, tc datatypes.TenantContext) ([]byte, error) {
	base := cfg.PlatformAPIURL
	if base == "" {
		return nil, fmt.Errorf("PLATFORM_API_URL not configured")
	}
	if len(group) == 1 {
		return FetchEntityData(ctx, base, group[0], w, tc)
	}

	series := make([]map[string]string, len(group))
	for i, d := range group {
		series[i] = map[string]string{"entity_id": d.EntityID, "attribute": d.Attribute}
	}
	body, err := json.Marshal(map[string]any{
		"start_time": w.StartTime,
		"end_time":   w.EndTime,
		"resolution": datatypes.ClampResolution(w.Resolution, 100, 10000),
		"series":     series,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/timeseries/align", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	tc.Apply(req.Header)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ArrowStreamType)

	resp, err := platformClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("platform align returned %d: %s", resp.StatusCode, snippet(resp.Body))
	}
	return io.ReadAll(resp.Body)
}

// fetchAdapterGroup POSTs a source group to the adapter's internal
// multi-series endpoint and returns the Arrow buffer.
func fetchAdapterGroup(ctx context.Context, base, source string, group []datatypes.SeriesDescriptor, w Window, tc datatypes.TenantContext) ([]byte, error) {
	if base == "" {
		return nil, fmt.Errorf("no adapter URL for source: %s", source)
	}
	series := make([]map[string]string, len(group))
	for i, d := range group {
		src := d.Source
		if src == "" {
			src = source
		}
		series[i] = map[string]string{"entity_id": d.EntityID, "attribute": d.Attribute, "source": src}
	}
	body, err := json.Marshal(map[string]any{
		"series":     series,
		"start_time": w.StartTime,
		"end_time":   w.EndTime,
		"resolution": w.Resolution,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/internal/timeseries/export-arrow", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ArrowStreamType)
	if tc.Authorization != "" {
		req.Header.Set("Authorization", tc.Authorization)
	}

	resp, err := adapterClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("module %s returned %d: %s", source, resp.StatusCode, snippet(resp.Body))
	}
	return io.ReadAll(resp.Body)
}

// snippet reads at most 500 bytes of an error body.
func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 500))
	return string(b)
}
