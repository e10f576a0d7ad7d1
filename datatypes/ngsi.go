// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"sort"
	"strings"

	"github.com/nekazari/datahub-bff/config"
)

// ngsiSystemKeys are NGSI-LD keys that are never timeseries attributes.
var ngsiSystemKeys = map[string]struct{}{
	"id": {}, "type": {}, "@context": {}, "location": {}, "name": {},
	"description": {}, "address": {}, "source": {}, "provider": {},
	"dateCreated": {}, "dateModified": {}, "refAgriParcel": {},
	"refDevice": {}, "refWeatherStation": {},
}

// AttributeDescriptor is one discoverable timeseries attribute with its
// serving source, which may differ from the entity-level default.
type AttributeDescriptor struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Entity is the normalized shape served by GET /entities.
type Entity struct {
	ID         string                `json:"id"`
	Type       string                `json:"type"`
	Name       string                `json:"name"`
	Source     string                `json:"source"`
	Attributes []AttributeDescriptor `json:"attributes"`
}

// UnwrapValue extracts V from an NGSI-LD {value: V} wrapper. Exactly one
// level; a nested {value: {value: x}} keeps its inner wrapper.
func UnwrapValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		if inner, present := m["value"]; present {
			return inner
		}
	}
	return v
}

// NormalizeEntity derives the DataHub entity record from a raw NGSI-LD
// entity object. Attribute discovery:
//  1. skip system keys and non-object values,
//  2. skip Relationship and GeoProperty properties,
//  3. skip properties whose unwrapped value is null,
//  4. per-attribute source comes from the nested "source" sub-property when
//     it is a non-empty string, else the entity-level source.
//
// An attribute PATCHed onto an entity with source="my_module" therefore
// shows up in the UI without any BFF change.
func NormalizeEntity(e map[string]any, etype string) Entity {
	id := ""
	switch v := e["id"].(type) {
	case string:
		id = v
	case map[string]any:
		if s, ok := v["value"].(string); ok {
			id = s
		}
	}

	name := "Unknown"
	if raw := UnwrapValue(e["name"]); raw != nil {
		if s, ok := raw.(string); ok {
			name = s
		}
	}

	entitySource := config.SourceTimescale
	if s := stringValue(UnwrapValue(e["source"])); s != "" {
		entitySource = s
	} else if s := stringValue(UnwrapValue(e["provider"])); s != "" {
		entitySource = s
	}

	// Map iteration order is random; sort keys so the attribute list is stable.
	keys := make([]string, 0, len(e))
	for key := range e {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	attributes := []AttributeDescriptor{}
	for _, key := range keys {
		val := e[key]
		if _, reserved := ngsiSystemKeys[key]; reserved {
			continue
		}
		obj, ok := val.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := obj["type"].(string); t == "Relationship" || t == "GeoProperty" {
			continue
		}
		if UnwrapValue(obj) == nil {
			continue
		}
		source := attrSource(obj)
		if source == "" {
			source = entitySource
		}
		attributes = append(attributes, AttributeDescriptor{Name: key, Source: source})
	}

	return Entity{ID: id, Type: etype, Name: name, Source: entitySource, Attributes: attributes}
}

// attrSource reads the optional nested "source" metadata of an attribute
// object, lowercased; "" when absent or not a usable string.
func attrSource(obj map[string]any) string {
	raw, present := obj["source"]
	if !present || raw == nil {
		return ""
	}
	return stringValue(UnwrapValue(raw))
}

func stringValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s))
}
