// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/datatypes"
	"github.com/nekazari/datahub-bff/middleware"
	"github.com/nekazari/datahub-bff/observability"
)

// workspaceType is the only NGSI-LD entity type persisted here.
const workspaceType = "DataHubWorkspace"

// workspacePatchKeys is the attribute subset a 409 conflict degrades to
// PATCHing.
var workspacePatchKeys = []string{"name", "timeContext", "layout"}

func orionHeaders(tc datatypes.TenantContext, tenant string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/ld+json")
	h.Set("Accept", "application/ld+json")
	if tc.Authorization != "" {
		h.Set("Authorization", tc.Authorization)
	}
	if tenant != "" {
		h.Set("Fiware-Service", tenant)
		h.Set("Fiware-ServicePath", "/")
	}
	return h
}

// orionSend issues one JSON request against the context broker and returns
// the response status plus the drained body.
func orionSend(ctx context.Context, method, target string, payload any, headers http.Header) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := brokerClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func clampUpstreamStatus(status int) int {
	if status >= 400 && status < 600 {
		return status
	}
	return http.StatusBadGateway
}

// SaveWorkspace serves POST /workspaces: forward the NGSI-LD payload to the
// context broker, degrading a 409 conflict to a PATCH of the whitelisted
// attribute subset.
func SaveWorkspace(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
			return
		}
		if body == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Body must be a JSON object"})
			return
		}

		base := cfg.OrionBase()
		if base == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ORION_URL or PLATFORM_API_URL not configured"})
			return
		}
		tc := middleware.GetTenant(c)
		tenant := tc.BrokerTenant()
		if tenant == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Fiware-Service or X-Tenant-ID required for multitenancy"})
			return
		}

		entityID, _ := body["id"].(string)
		if entityID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
			return
		}
		if t, _ := body["type"].(string); t != workspaceType {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be " + workspaceType})
			return
		}

		ctx := c.Request.Context()
		headers := orionHeaders(tc, tenant)

		status, respBody, err := orionSend(ctx, http.MethodPost, base+"/ngsi-ld/v1/entities", body, headers)
		if err != nil {
			observability.Default.RecordRequest(observability.EndpointWorkspaces, false)
			c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Orion request failed: %s", err)})
			return
		}

		switch status {
		case http.StatusCreated:
			observability.Default.RecordRequest(observability.EndpointWorkspaces, true)
			c.JSON(http.StatusCreated, gin.H{"id": entityID, "status": "created"})
		case http.StatusConflict:
			patchWorkspace(c, ctx, base, entityID, body, headers)
		default:
			observability.Default.RecordRequest(observability.EndpointWorkspaces, false)
			msg := string(bytes.TrimSpace(respBody))
			if msg == "" {
				msg = "Orion rejected the request"
			}
			c.JSON(clampUpstreamStatus(status), gin.H{"error": msg})
		}
	}
}

// patchWorkspace handles the 409 path: PATCH only the whitelisted subset of
// attributes onto the existing entity.
func patchWorkspace(c *gin.Context, ctx context.Context, base, entityID string, body map[string]any, headers http.Header) {
	patch := map[string]any{}
	for _, key := range workspacePatchKeys {
		if v, ok := body[key]; ok {
			patch[key] = v
		}
	}
	if len(patch) == 0 {
		observability.Default.RecordRequest(observability.EndpointWorkspaces, true)
		c.JSON(http.StatusOK, gin.H{"id": entityID, "status": "exists"})
		return
	}

	target := fmt.Sprintf("%s/ngsi-ld/v1/entities/%s/attrs", base, url.PathEscape(entityID))
	status, respBody, err := orionSend(ctx, http.MethodPatch, target, patch, headers)
	if err != nil {
		observability.Default.RecordRequest(observability.EndpointWorkspaces, false)
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Orion PATCH failed: %s", err)})
		return
	}
	if status == http.StatusOK || status == http.StatusNoContent {
		observability.Default.RecordRequest(observability.EndpointWorkspaces, true)
		c.JSON(http.StatusOK, gin.H{"id": entityID, "status": "updated"})
		return
	}

	observability.Default.RecordRequest(observability.EndpointWorkspaces, false)
	msg := string(bytes.TrimSpace(respBody))
	if msg == "" {
		msg = "PATCH failed"
	}
	slog.Warn("workspace PATCH rejected", "entity_id", entityID, "status", status)
	c.JSON(http.StatusBadGateway, gin.H{"error": msg, "status": status})
}

// ListWorkspaces serves GET /workspaces: list the tenant's workspace
// entities from the context broker. Non-array upstream bodies degrade to an
// empty list.
func ListWorkspaces(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		base := cfg.OrionBase()
		if base == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ORION_URL or PLATFORM_API_URL not configured"})
			return
		}
		tc := middleware.GetTenant(c)
		tenant := tc.BrokerTenant()
		if tenant == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Fiware-Service or X-Tenant-ID required for multitenancy"})
			return
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, base+"/ngsi-ld/v1/entities", nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
			return
		}
		q := req.URL.Query()
		q.Set("type", workspaceType)
		req.URL.RawQuery = q.Encode()
		for k, vs := range orionHeaders(tc, tenant) {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := brokerClient.Do(req)
		if err != nil {
			observability.Default.RecordRequest(observability.EndpointWorkspaces, false)
			c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Orion request failed: %s", err)})
			return
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.Default.RecordRequest(observability.EndpointWorkspaces, false)
			c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Orion read failed: %s", err)})
			return
		}

		if resp.StatusCode != http.StatusOK {
			observability.Default.RecordRequest(observability.EndpointWorkspaces, false)
			msg := string(bytes.TrimSpace(respBody))
			if msg == "" {
				msg = "Orion error"
			}
			c.JSON(clampUpstreamStatus(resp.StatusCode), gin.H{"error": msg})
			return
		}

		var list []any
		if err := json.Unmarshal(respBody, &list); err != nil || list == nil {
			list = []any{}
		}
		observability.Default.RecordRequest(observability.EndpointWorkspaces, true)
		c.JSON(http.StatusOK, list)
	}
}
