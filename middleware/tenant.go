// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the DataHub BFF.
//
// The tenant middleware lifts the opaque auth/tenant headers off every
// request and stores them in the Gin context so handlers and the upstream
// layer can forward them unchanged. The BFF never validates the token; the
// platform does.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/nekazari/datahub-bff/datatypes"
)

const tenantContextKey = "datahub.tenant"

// Tenant extracts Authorization, X-Tenant-ID, and Fiware-Service into a
// TenantContext stored on the Gin context.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(tenantContextKey, datatypes.TenantContext{
			Authorization: c.GetHeader("Authorization"),
			TenantID:      c.GetHeader("X-Tenant-ID"),
			FiwareService: c.GetHeader("Fiware-Service"),
		})
		c.Next()
	}
}

// GetTenant returns the TenantContext stored by Tenant(); a zero value when
// the middleware did not run.
func GetTenant(c *gin.Context) datatypes.TenantContext {
	if v, ok := c.Get(tenantContextKey); ok {
		if tc, ok := v.(datatypes.TenantContext); ok {
			return tc
		}
	}
	return datatypes.TenantContext{}
}
