// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Tests for entities.go NGSI-LD discovery

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/middleware"
)

func entitiesRouter(cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Tenant())
	router.GET("/api/datahub/entities", ListEntities(cfg))
	return router
}

func getEntities(router *gin.Engine, query string) (*httptest.ResponseRecorder, []map[string]any) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/datahub/entities"+query, nil)
	router.ServeHTTP(w, req)
	var body struct {
		Entities []map[string]any `json:"entities"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	return w, body.Entities
}

func TestListEntities_UnconfiguredPlatform(t *testing.T) {
	w, entities := getEntities(entitiesRouter(&config.Config{}), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if entities == nil || len(entities) != 0 {
		t.Errorf("expected an empty entities array, got %v", entities)
	}
}

func TestListEntities_ScansTypesAndNormalizes(t *testing.T) {
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		etype := r.URL.Query().Get("type")
		switch etype {
		case "AgriParcel":
			fmt.Fprint(w, `[{"id": "p1", "type": "AgriParcel",
				"name": {"type": "Property", "value": "North Field"},
				"soilMoisture": {"type": "Property", "value": 0.3}}]`)
		case "WeatherObserved":
			// One failing type must not hide the others.
			http.Error(w, "broker down", http.StatusInternalServerError)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer platform.Close()

	w, entities := getEntities(entitiesRouter(&config.Config{PlatformAPIURL: platform.URL}), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(entities) != 1 {
		t.Fatalf("entities = %v", entities)
	}
	if entities[0]["name"] != "North Field" || entities[0]["type"] != "AgriParcel" {
		t.Errorf("normalized entity = %v", entities[0])
	}
	attrs := entities[0]["attributes"].([]any)
	if len(attrs) != 1 {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestListEntities_SearchFilter(t *testing.T) {
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "AgriParcel" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[
			{"id": "p1", "type": "AgriParcel", "name": {"type": "Property", "value": "North Field"}},
			{"id": "p2", "type": "AgriParcel", "name": {"type": "Property", "value": "South Field"}}
		]`)
	}))
	defer platform.Close()

	router := entitiesRouter(&config.Config{PlatformAPIURL: platform.URL})

	_, all := getEntities(router, "")
	if len(all) != 2 {
		t.Fatalf("unfiltered = %d entities", len(all))
	}

	// Case-insensitive match on name.
	_, filtered := getEntities(router, "?search=NORTH")
	if len(filtered) != 1 || filtered[0]["id"] != "p1" {
		t.Errorf("filtered = %v", filtered)
	}

	// Match on id.
	_, byID := getEntities(router, "?search=p2")
	if len(byID) != 1 || byID[0]["id"] != "p2" {
		t.Errorf("byID = %v", byID)
	}

	_, none := getEntities(router, "?search=nomatch")
	if len(none) != 0 {
		t.Errorf("none = %v", none)
	}
}
