// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package upstream

import "fmt"

// NoTimeseriesLocationError means URN resolution returned "no location" for
// an entity; the request fails with 404.
type NoTimeseriesLocationError struct {
	EntityID string
}

func (e *NoTimeseriesLocationError) Error() string {
	return fmt.Sprintf("Entity %s has no timeseries location", e.EntityID)
}

// SourceError wraps a failed scatter fetch with the offending source so the
// 502 body can name it.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("Error obteniendo datos de %s: %s", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func errNoAdapterURL(source string) error {
	return fmt.Errorf("no adapter URL for source: %s", source)
}
