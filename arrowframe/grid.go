// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package arrowframe

const (
	gridMinResolution = 2
	gridMaxResolution = 10000
)

// BuildGrid returns `resolution` uniformly spaced timestamps covering
// [startTS, endTS], endpoints included exactly. Resolution is clamped to
// [2, 10000].
func BuildGrid(startTS, endTS float64, resolution int) []float64 {
	if resolution < gridMinResolution {
		resolution = gridMinResolution
	}
	if resolution > gridMaxResolution {
		resolution = gridMaxResolution
	}
	grid := make([]float64, resolution)
	span := endTS - startTS
	for i := range grid {
		grid[i] = startTS + span*float64(i)/float64(resolution-1)
	}
	// Guard the right endpoint against rounding drift.
	grid[resolution-1] = endTS
	return grid
}
