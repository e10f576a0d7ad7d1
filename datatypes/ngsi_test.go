// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Tests for ngsi.go entity normalization

package datatypes

import (
	"reflect"
	"testing"
)

// =============================================================================
// UnwrapValue Tests
// =============================================================================

func TestUnwrapValue_OneLevelOnly(t *testing.T) {
	nested := map[string]any{"value": map[string]any{"value": 3.5}}
	got := UnwrapValue(nested)
	inner, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected inner wrapper to survive, got %T", got)
	}
	if inner["value"] != 3.5 {
		t.Errorf("inner wrapper was unwrapped too: %v", inner)
	}
}

func TestUnwrapValue_Passthrough(t *testing.T) {
	testCases := []struct {
		name string
		in   any
	}{
		{"scalar", 42.0},
		{"string", "plain"},
		{"nil", nil},
		{"object without value", map[string]any{"type": "Property"}},
	}
	for _, tc := range testCases {
		if got := UnwrapValue(tc.in); !reflect.DeepEqual(got, tc.in) {
			t.Errorf("%s: UnwrapValue(%v) = %v", tc.name, tc.in, got)
		}
	}
}

// =============================================================================
// NormalizeEntity Tests
// =============================================================================

func TestNormalizeEntity_AttributeDiscovery(t *testing.T) {
	raw := map[string]any{
		"id":   "urn:ngsi-ld:AgriParcel:p1",
		"type": "AgriParcel",
		"name": map[string]any{"type": "Property", "value": "Parcel One"},
		"soilMoisture": map[string]any{
			"type": "Property", "value": 0.31,
		},
		"temperature": map[string]any{
			"type": "Property", "value": 18.2,
			"source": map[string]any{"type": "Property", "value": "Weather"},
		},
		"refDevice":   map[string]any{"type": "Relationship", "object": "urn:d:1"},
		"location":    map[string]any{"type": "GeoProperty", "value": map[string]any{}},
		"emptyProp":   map[string]any{"type": "Property", "value": nil},
		"description": "plain string",
		"battery":     42.0,
	}

	e := NormalizeEntity(raw, "AgriParcel")
	if e.ID != "urn:ngsi-ld:AgriParcel:p1" {
		t.Errorf("id = %q", e.ID)
	}
	if e.Name != "Parcel One" {
		t.Errorf("name = %q", e.Name)
	}
	if e.Source != "timescale" {
		t.Errorf("entity source should default to timescale, got %q", e.Source)
	}

	expected := []AttributeDescriptor{
		{Name: "soilMoisture", Source: "timescale"},
		{Name: "temperature", Source: "weather"},
	}
	if !reflect.DeepEqual(e.Attributes, expected) {
		t.Errorf("attributes = %+v, expected %+v", e.Attributes, expected)
	}
}

func TestNormalizeEntity_EntityLevelSource(t *testing.T) {
	raw := map[string]any{
		"id":     "dev-1",
		"type":   "Device",
		"source": map[string]any{"type": "Property", "value": "Sentinel"},
		"ndvi":   map[string]any{"type": "Property", "value": 0.7},
	}
	e := NormalizeEntity(raw, "Device")
	if e.Source != "sentinel" {
		t.Errorf("entity source = %q, expected sentinel", e.Source)
	}
	if len(e.Attributes) != 1 || e.Attributes[0].Source != "sentinel" {
		t.Errorf("attribute should inherit the entity source: %+v", e.Attributes)
	}
}

func TestNormalizeEntity_ProviderFallback(t *testing.T) {
	raw := map[string]any{
		"id":       "dev-2",
		"type":     "Device",
		"provider": map[string]any{"type": "Property", "value": "openmeteo"},
	}
	e := NormalizeEntity(raw, "Device")
	if e.Source != "openmeteo" {
		t.Errorf("provider should back the entity source, got %q", e.Source)
	}
}

func TestNormalizeEntity_Defaults(t *testing.T) {
	e := NormalizeEntity(map[string]any{"id": "x"}, "Device")
	if e.Name != "Unknown" {
		t.Errorf("missing name should default to Unknown, got %q", e.Name)
	}
	if e.Attributes == nil || len(e.Attributes) != 0 {
		t.Errorf("attributes should be an empty slice, got %v", e.Attributes)
	}
}

func TestNormalizeEntity_WrappedID(t *testing.T) {
	e := NormalizeEntity(map[string]any{
		"id": map[string]any{"value": "wrapped-id"},
	}, "Device")
	if e.ID != "wrapped-id" {
		t.Errorf("wrapped id = %q", e.ID)
	}
}
