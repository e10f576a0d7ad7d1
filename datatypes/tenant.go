// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"net/http"
	"strings"
)

// TenantContext is the opaque auth/tenant pair lifted from the incoming
// request and forwarded unchanged to every upstream. The BFF never inspects
// the token.
type TenantContext struct {
	Authorization string
	TenantID      string
	FiwareService string
}

// Apply copies the forwarded headers onto an outbound request.
func (t TenantContext) Apply(h http.Header) {
	if t.Authorization != "" {
		h.Set("Authorization", t.Authorization)
	}
	if t.TenantID != "" {
		h.Set("X-Tenant-ID", t.TenantID)
	}
}

// Tenant returns the effective tenant for object-store keys:
// X-Tenant-ID when present, else "default".
func (t TenantContext) Tenant() string {
	if s := strings.TrimSpace(t.TenantID); s != "" {
		return s
	}
	return "default"
}

// BrokerTenant returns the multitenancy scope for context-broker calls:
// Fiware-Service first, then X-Tenant-ID; "" when neither is present.
func (t TenantContext) BrokerTenant() string {
	if s := strings.TrimSpace(t.FiwareService); s != "" {
		return s
	}
	return strings.TrimSpace(t.TenantID)
}
