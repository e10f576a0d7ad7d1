// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the BFF configuration from the environment once at
// startup. Handlers and upstream clients receive a *Config instead of
// reading os.Getenv themselves, so tests can inject their own values.
package config

import (
	"fmt"
	"os"
	"strings"
)

// SourceTimescale is the platform-backed default source for every series
// descriptor that does not name one.
const SourceTimescale = "timescale"

// adapterEnvPrefix/adapterEnvSuffix frame the per-source adapter override,
// e.g. TIMESERIES_ADAPTER_WEATHER_URL for source "weather".
const (
	adapterEnvPrefix = "TIMESERIES_ADAPTER_"
	adapterEnvSuffix = "_URL"
)

// EntityTypes are the NGSI-LD entity types that typically carry timeseries
// data and are scanned by GET /entities.
var EntityTypes = []string{
	"AgriParcel",
	"WeatherObserved",
	"Device",
	"AgriSensor",
}

// Config holds every environment-derived option the BFF consumes.
type Config struct {
	// PlatformAPIURL enables all timescale routes and URN resolution.
	// Trailing slash stripped; empty means "platform not configured".
	PlatformAPIURL string

	// OrionURL is the direct context-broker base; preferred over
	// PlatformAPIURL for workspace persistence.
	OrionURL string

	// AdapterURLs maps a lowercase source name to its adapter base URL,
	// snapshotted from TIMESERIES_ADAPTER_{SOURCE}_URL variables.
	AdapterURLs map[string]string

	S3Bucket    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
}

// Load reads the environment once and returns the resulting Config.
func Load() *Config {
	cfg := &Config{
		PlatformAPIURL: strings.TrimRight(os.Getenv("PLATFORM_API_URL"), "/"),
		OrionURL:       strings.TrimRight(os.Getenv("ORION_URL"), "/"),
		AdapterURLs:    map[string]string{},
		S3Bucket:       envOr("S3_BUCKET", "nekazari-frontend"),
		S3Endpoint:     envOr("S3_ENDPOINT_URL", "http://minio-service:9000"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Region:       envOr("S3_REGION", "us-east-1"),
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, adapterEnvPrefix) || !strings.HasSuffix(k, adapterEnvSuffix) {
			continue
		}
		source := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(k, adapterEnvPrefix), adapterEnvSuffix))
		if source == "" || v == "" {
			continue
		}
		cfg.AdapterURLs[source] = strings.TrimRight(v, "/")
	}
	return cfg
}

// AdapterBaseURL resolves a source name to its adapter base URL. The
// timescale source maps to the platform; any other source resolves env-first,
// then falls back to the in-cluster DNS convention http://{source}:8000.
// An unresolvable timescale source returns "" (lookup never fails).
func (c *Config) AdapterBaseURL(source string) string {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" || s == SourceTimescale {
		return c.PlatformAPIURL
	}
	if url, ok := c.AdapterURLs[s]; ok {
		return url
	}
	return fmt.Sprintf("http://%s:8000", s)
}

// OrionBase returns the context-broker base URL for workspace persistence:
// ORION_URL when set, else the platform gateway, else "".
func (c *Config) OrionBase() string {
	if c.OrionURL != "" {
		return c.OrionURL
	}
	return c.PlatformAPIURL
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
