// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the request and upstream payload shapes shared
// by the handlers and the upstream fetch layer.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nekazari/datahub-bff/config"
)

// SeriesDescriptor is one requested series: an entity, one of its timeseries
// attributes, and the source that serves it.
type SeriesDescriptor struct {
	EntityID  string `json:"entity_id"`
	Attribute string `json:"attribute"`
	Source    string `json:"source,omitempty"`
}

// Normalize lowercases and trims the source, defaulting to timescale.
// Normalizing an already-normalized descriptor is a no-op.
func (d SeriesDescriptor) Normalize() SeriesDescriptor {
	s := strings.ToLower(strings.TrimSpace(d.Source))
	if s == "" {
		s = config.SourceTimescale
	}
	d.Source = s
	return d
}

// IsURN reports whether the entity id needs resolution against the platform
// timeseries-location endpoint.
func (d SeriesDescriptor) IsURN() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(d.EntityID)), "urn:")
}

// AlignRequest is the body of POST /timeseries/align. Series elements stay
// raw until ParseSeries so a non-object element can be reported by index.
type AlignRequest struct {
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	Resolution int               `json:"resolution"`
	Series     []json.RawMessage `json:"series"`
}

// ExportRequest is the body of POST /export.
type ExportRequest struct {
	StartTime   string            `json:"start_time"`
	EndTime     string            `json:"end_time"`
	Resolution  int               `json:"resolution"`
	Series      []json.RawMessage `json:"series"`
	Format      string            `json:"format"`
	Aggregation string            `json:"aggregation"`
}

// ValidationError carries the exact user-visible message for a 400 response.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ParseSeries validates and normalizes the raw series array. Each element
// must be a JSON object with entity_id and attribute; source defaults to
// timescale. Descriptor order is preserved.
func ParseSeries(raw []json.RawMessage) ([]SeriesDescriptor, error) {
	series := make([]SeriesDescriptor, 0, len(raw))
	for i, item := range raw {
		var m map[string]any
		if err := json.Unmarshal(item, &m); err != nil || m == nil {
			return nil, &ValidationError{Msg: fmt.Sprintf("series[%d] must be an object", i)}
		}
		eid := asString(m["entity_id"])
		attr := asString(m["attribute"])
		if eid == "" || attr == "" {
			return nil, &ValidationError{Msg: fmt.Sprintf("series[%d] must have entity_id and attribute", i)}
		}
		d := SeriesDescriptor{EntityID: eid, Attribute: attr, Source: asString(m["source"])}
		series = append(series, d.Normalize())
	}
	return series, nil
}

// Sources returns the set of distinct sources across the descriptors.
func Sources(series []SeriesDescriptor) map[string]struct{} {
	set := make(map[string]struct{}, len(series))
	for _, d := range series {
		set[d.Source] = struct{}{}
	}
	return set
}

// ParseTimeRange parses the ISO-8601 window and requires start < end
// strictly. Returned values are epoch seconds.
func ParseTimeRange(startTime, endTime string) (startTS, endTS float64, err error) {
	start, err := parseISO(startTime)
	if err != nil {
		return 0, 0, &ValidationError{Msg: "Invalid start_time or end_time format"}
	}
	end, err := parseISO(endTime)
	if err != nil {
		return 0, 0, &ValidationError{Msg: "Invalid start_time or end_time format"}
	}
	startTS = float64(start.UnixNano()) / 1e9
	endTS = float64(end.UnixNano()) / 1e9
	if startTS >= endTS {
		return 0, 0, &ValidationError{Msg: "start_time must be before end_time"}
	}
	return startTS, endTS, nil
}

func parseISO(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	// Accept a bare local datetime the way fromisoformat does.
	return time.Parse("2006-01-02T15:04:05", s)
}

// ResolutionFromAggregation translates an export aggregation granularity to
// a grid point count over the given window. Unknown tokens behave as 1 hour.
func ResolutionFromAggregation(startTS, endTS float64, aggregation string) int {
	delta := endTS - startTS
	if delta <= 0 {
		return 1000
	}
	switch strings.ToLower(strings.TrimSpace(aggregation)) {
	case "raw":
		return clampInt(int(delta/60), 1000, 10000)
	case "1 day":
		return clampInt(int(delta/86400), 100, 10000)
	default: // "1 hour" and anything else
		return clampInt(int(delta/3600), 100, 10000)
	}
}

// ClampResolution bounds a requested point count.
func ClampResolution(resolution, lo, hi int) int {
	return clampInt(resolution, lo, hi)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
