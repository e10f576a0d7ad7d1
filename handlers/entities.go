// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/datatypes"
	"github.com/nekazari/datahub-bff/middleware"
	"github.com/nekazari/datahub-bff/observability"
)

var entityTracer = otel.Tracer("nekazari.datahub.handlers")

var brokerClient = &http.Client{Timeout: 15 * time.Second}

// ListEntities serves GET /entities: scan the configured NGSI-LD entity
// types on the platform, derive each entity's timeseries-capable attributes
// with per-attribute source tags, and filter by the search query. A failed
// type fetch is skipped so one bad type does not hide the others.
func ListEntities(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := entityTracer.Start(c.Request.Context(), "ListEntities")
		defer span.End()

		if cfg.PlatformAPIURL == "" {
			c.JSON(http.StatusOK, gin.H{"entities": []datatypes.Entity{}})
			return
		}

		tc := middleware.GetTenant(c)
		search := strings.ToLower(c.Query("search"))

		entities := []datatypes.Entity{}
		for _, etype := range config.EntityTypes {
			raw, err := fetchNGSIEntities(ctx, cfg.PlatformAPIURL, etype, tc)
			if err != nil {
				span.RecordError(err)
				slog.Warn("entity type fetch failed, skipping", "type", etype, "error", err)
				continue
			}
			for _, e := range raw {
				rec := datatypes.NormalizeEntity(e, etype)
				if search != "" &&
					!strings.Contains(strings.ToLower(rec.Name), search) &&
					!strings.Contains(strings.ToLower(rec.ID), search) {
					continue
				}
				entities = append(entities, rec)
			}
		}

		observability.Default.RecordRequest(observability.EndpointEntities, true)
		c.JSON(http.StatusOK, gin.H{"entities": entities})
	}
}

// fetchNGSIEntities lists one entity type from the platform NGSI-LD API.
func fetchNGSIEntities(ctx context.Context, base, etype string, tc datatypes.TenantContext) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/ngsi-ld/v1/entities", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("type", etype)
	req.URL.RawQuery = q.Encode()
	tc.Apply(req.Header)
	req.Header.Set("Accept", "application/ld+json")

	resp, err := brokerClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ngsi-ld entities returned %d", resp.StatusCode)
	}

	var data []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		// A non-array body means no usable entities for this type.
		return nil, nil
	}
	return data, nil
}
