// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package upstream talks to the platform and the per-source timeseries
// adapters: base-URL resolution, URN resolution, the scatter fetches, and
// the gather coordinator.
package upstream

import (
	"github.com/nekazari/datahub-bff/config"
)

// Registry resolves a series source to the base URL of its Arrow-capable
// adapter. Lookup never fails; an unresolvable timescale source surfaces
// later as a 502 at the coordinator.
type Registry struct {
	cfg *config.Config
}

// NewRegistry returns a registry over the loaded configuration.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{cfg: cfg}
}

// BaseURL returns the adapter base for a source, or "" when the platform
// base is required but not configured.
func (r *Registry) BaseURL(source string) string {
	return r.cfg.AdapterBaseURL(source)
}
