// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Tests for gather.go scatter-gather coordination

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nekazari/datahub-bff/arrowframe"
	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/datatypes"
)

func newTestCoordinator(cfg *config.Config) *Coordinator {
	return NewCoordinator(cfg, NewRegistry(cfg), NewResolver(cfg), nil)
}

// arrowFixture encodes a single-column frame the way an adapter answers.
func arrowFixture(t *testing.T, timestamps, values []float64) []byte {
	t.Helper()
	valid := make([]bool, len(values))
	for i := range valid {
		valid[i] = true
	}
	buf, err := arrowframe.Encode(&arrowframe.Frame{
		Timestamps: timestamps,
		Columns:    []arrowframe.Column{{Name: "value", Values: values, Valid: valid}},
	})
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf
}

// =============================================================================
// Grouping and Routing Tests
// =============================================================================

func TestGroupBySource(t *testing.T) {
	series := []datatypes.SeriesDescriptor{
		{EntityID: "e0", Source: "weather"},
		{EntityID: "e1", Source: "timescale"},
		{EntityID: "e2", Source: "weather"},
	}
	groups := groupBySource(series)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].source != "weather" || groups[1].source != "timescale" {
		t.Errorf("first-seen order lost: %q, %q", groups[0].source, groups[1].source)
	}
	if groups[0].indices[0] != 0 || groups[0].indices[1] != 2 {
		t.Errorf("weather indices = %v", groups[0].indices)
	}
	if groups[1].indices[0] != 1 {
		t.Errorf("timescale indices = %v", groups[1].indices)
	}
}

func TestRouteA(t *testing.T) {
	withPlatform := &config.Config{PlatformAPIURL: "http://platform:8000"}
	withoutPlatform := &config.Config{}

	timescaleOnly := []datatypes.SeriesDescriptor{
		{EntityID: "e0", Source: "timescale"},
		{EntityID: "e1", Source: "timescale"},
	}
	mixed := []datatypes.SeriesDescriptor{
		{EntityID: "e0", Source: "timescale"},
		{EntityID: "e1", Source: "weather"},
	}

	if !newTestCoordinator(withPlatform).RouteA(timescaleOnly) {
		t.Error("all-timescale with platform should take Route A")
	}
	if newTestCoordinator(withPlatform).RouteA(mixed) {
		t.Error("mixed sources must take Route B")
	}
	if newTestCoordinator(withoutPlatform).RouteA(timescaleOnly) {
		t.Error("no platform means Route B regardless of sources")
	}
}

// =============================================================================
// GatherAlign Tests
// =============================================================================

func TestGatherAlign_MultiSource(t *testing.T) {
	weather := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/internal/timeseries/export-arrow" {
			t.Errorf("weather adapter got path %q", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if n := len(body["series"].([]any)); n != 1 {
			t.Errorf("weather group size = %d", n)
		}
		w.Write(arrowFixture(t, []float64{1, 2}, []float64{10, 20}))
	}))
	defer weather.Close()
	soil := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(arrowFixture(t, []float64{2, 3}, []float64{200, 300}))
	}))
	defer soil.Close()

	cfg := &config.Config{AdapterURLs: map[string]string{
		"weather": weather.URL,
		"soil":    soil.URL,
	}}
	coord := newTestCoordinator(cfg)

	series := []datatypes.SeriesDescriptor{
		{EntityID: "e0", Attribute: "temp", Source: "weather"},
		{EntityID: "e1", Attribute: "moisture", Source: "soil"},
	}
	w := Window{StartTime: "2024-01-01T00:00:00Z", EndTime: "2024-01-02T00:00:00Z", Resolution: 1000}
	frame, err := coord.GatherAlign(context.Background(), series, w, datatypes.TenantContext{})
	if err != nil {
		t.Fatalf("GatherAlign returned error: %v", err)
	}

	if len(frame.Timestamps) != 3 {
		t.Fatalf("timestamp union = %v", frame.Timestamps)
	}
	if len(frame.Columns) != 2 {
		t.Fatalf("expected 2 value columns, got %d", len(frame.Columns))
	}
	if frame.Columns[0].Name != "value_0" || frame.Columns[1].Name != "value_1" {
		t.Errorf("columns named %q, %q", frame.Columns[0].Name, frame.Columns[1].Name)
	}
	// value_0 must be the weather series regardless of which fetch won.
	if frame.Columns[0].Values[0] != 10 {
		t.Errorf("value_0[0] = %f, expected the weather series", frame.Columns[0].Values[0])
	}
	if frame.Columns[1].Values[1] != 200 {
		t.Errorf("value_1[1] = %f, expected the soil series", frame.Columns[1].Values[1])
	}
}

func TestGatherAlign_ColumnOrderAcrossGroups(t *testing.T) {
	// Interleaved sources: descriptor order 0=weather 1=soil 2=weather.
	weather := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, err := arrowframe.Encode(&arrowframe.Frame{
			Timestamps: []float64{1},
			Columns: []arrowframe.Column{
				{Name: "value_0", Values: []float64{100}, Valid: []bool{true}},
				{Name: "value_1", Values: []float64{102}, Valid: []bool{true}},
			},
		})
		if err != nil {
			t.Errorf("encode fixture: %v", err)
		}
		w.Write(buf)
	}))
	defer weather.Close()
	soil := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(arrowFixture(t, []float64{1}, []float64{999}))
	}))
	defer soil.Close()

	cfg := &config.Config{AdapterURLs: map[string]string{
		"weather": weather.URL,
		"soil":    soil.URL,
	}}
	series := []datatypes.SeriesDescriptor{
		{EntityID: "e0", Attribute: "a", Source: "weather"},
		{EntityID: "e1", Attribute: "b", Source: "soil"},
		{EntityID: "e2", Attribute: "c", Source: "weather"},
	}
	w := Window{StartTime: "2024-01-01T00:00:00Z", EndTime: "2024-01-02T00:00:00Z", Resolution: 100}
	frame, err := newTestCoordinator(cfg).GatherAlign(context.Background(), series, w, datatypes.TenantContext{})
	if err != nil {
		t.Fatalf("GatherAlign returned error: %v", err)
	}

	// Merged group order is weather(0,2), soil(1); the reorder must put the
	// soil series back at value_1.
	if frame.Columns[1].Values[0] != 999 {
		t.Errorf("value_1[0] = %f, expected the soil series", frame.Columns[1].Values[0])
	}
	if frame.Columns[0].Values[0] != 100 || frame.Columns[2].Values[0] != 102 {
		t.Errorf("weather columns misplaced: %f, %f",
			frame.Columns[0].Values[0], frame.Columns[2].Values[0])
	}
}

func TestGatherAlign_SourceFailureFailsRequest(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(arrowFixture(t, []float64{1}, []float64{1}))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	cfg := &config.Config{AdapterURLs: map[string]string{
		"weather": good.URL,
		"soil":    bad.URL,
	}}
	series := []datatypes.SeriesDescriptor{
		{EntityID: "e0", Attribute: "a", Source: "weather"},
		{EntityID: "e1", Attribute: "b", Source: "soil"},
	}
	w := Window{StartTime: "2024-01-01T00:00:00Z", EndTime: "2024-01-02T00:00:00Z", Resolution: 100}
	_, err := newTestCoordinator(cfg).GatherAlign(context.Background(), series, w, datatypes.TenantContext{})
	if err == nil {
		t.Fatal("expected a SourceError")
	}
	if !strings.HasPrefix(err.Error(), "Error obteniendo datos de soil:") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestGatherAlign_AllEmptyBuffers(t *testing.T) {
	adapter := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(arrowFixture(t, []float64{}, []float64{}))
	}))
	defer adapter.Close()

	cfg := &config.Config{AdapterURLs: map[string]string{"weather": adapter.URL}}
	series := []datatypes.SeriesDescriptor{
		{EntityID: "e0", Attribute: "a", Source: "weather"},
		{EntityID: "e1", Attribute: "b", Source: "weather"},
	}
	w := Window{StartTime: "2024-01-01T00:00:00Z", EndTime: "2024-01-02T00:00:00Z", Resolution: 100}
	_, err := newTestCoordinator(cfg).GatherAlign(context.Background(), series, w, datatypes.TenantContext{})
	if err == nil {
		t.Fatal("expected an error when every buffer is empty")
	}
	if err.Error() != "No se obtuvieron datos de ningún origen" {
		t.Errorf("error = %q", err.Error())
	}
}

// =============================================================================
// GatherExport Tests
// =============================================================================

func TestGatherExport_OrderedResults(t *testing.T) {
	adapter := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/data") {
			t.Errorf("export fetch path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("format") != "arrow" {
			t.Errorf("format query = %q", r.URL.Query().Get("format"))
		}
		// Echo the entity id through the value so order is checkable.
		v := 1.0
		if strings.Contains(r.URL.Path, "e1") {
			v = 2.0
		}
		w.Write(arrowFixture(t, []float64{1}, []float64{v}))
	}))
	defer adapter.Close()

	cfg := &config.Config{AdapterURLs: map[string]string{"weather": adapter.URL}}
	series := []datatypes.SeriesDescriptor{
		{EntityID: "e0", Attribute: "a", Source: "weather"},
		{EntityID: "e1", Attribute: "b", Source: "weather"},
	}
	w := Window{StartTime: "2024-01-01T00:00:00Z", EndTime: "2024-01-02T00:00:00Z", Resolution: 100}
	bodies, err := newTestCoordinator(cfg).GatherExport(context.Background(), series, w, datatypes.TenantContext{})
	if err != nil {
		t.Fatalf("GatherExport returned error: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 bodies, got %d", len(bodies))
	}
	for i, expected := range []float64{1, 2} {
		frame, err := arrowframe.Decode(bodies[i])
		if err != nil {
			t.Fatalf("decode body %d: %v", i, err)
		}
		if frame.Column("value").Values[0] != expected {
			t.Errorf("bodies[%d] holds value %f, expected %f", i, frame.Column("value").Values[0], expected)
		}
	}
}

func TestGatherExport_FetchFailure(t *testing.T) {
	adapter := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer adapter.Close()

	cfg := &config.Config{AdapterURLs: map[string]string{"weather": adapter.URL}}
	series := []datatypes.SeriesDescriptor{{EntityID: "e0", Attribute: "a", Source: "weather"}}
	w := Window{StartTime: "2024-01-01T00:00:00Z", EndTime: "2024-01-02T00:00:00Z", Resolution: 100}
	_, err := newTestCoordinator(cfg).GatherExport(context.Background(), series, w, datatypes.TenantContext{})
	if err == nil {
		t.Fatal("expected a SourceError")
	}
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.Source != "weather" {
		t.Errorf("error should be a SourceError naming weather: %v", err)
	}
}
