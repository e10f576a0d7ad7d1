// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package arrowframe

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoData means every gathered buffer decoded to zero rows.
var ErrNoData = errors.New("no non-empty Arrow tables after parsing")

// AlignGrid is the grid/LOCF mode used by exports: decode each buffer,
// backward as-of join its "value" column onto a uniform time grid, and emit
// one value_i column per input buffer, in input order. A buffer that fails
// to decode, is empty, or lacks the required columns yields an all-null
// column; the others are unaffected.
func AlignGrid(startTS, endTS float64, resolution int, bodies [][]byte) *Frame {
	grid := BuildGrid(startTS, endTS, resolution)
	out := &Frame{Timestamps: grid}
	for i, body := range bodies {
		name := fmt.Sprintf("value_%d", i)
		frame, err := Decode(body)
		if err != nil || frame.NumRows() == 0 || frame.Timestamps == nil || frame.Column("value") == nil {
			out.Columns = append(out.Columns, NullColumn(name, len(grid)))
			continue
		}
		out.Columns = append(out.Columns, locfJoin(grid, frame.Timestamps, *frame.Column("value"), name))
	}
	return out
}

// locfJoin performs a backward as-of join of one series onto the grid: for
// each grid timestamp t, the value at the largest series timestamp <= t,
// null when no such row exists. Rows sharing a timestamp keep the last one
// after a stable sort.
func locfJoin(grid, timestamps []float64, values Column, name string) Column {
	order := make([]int, len(timestamps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return timestamps[order[a]] < timestamps[order[b]]
	})

	out := NullColumn(name, len(grid))
	j := -1
	for gi, t := range grid {
		for j+1 < len(order) && timestamps[order[j+1]] <= t {
			j++
		}
		if j < 0 {
			continue
		}
		src := order[j]
		out.Values[gi] = values.Values[src]
		out.Valid[gi] = values.Valid[src]
	}
	return out
}

// MergeOuter is the outer-join mode used by the align endpoint, where each
// buffer may already carry several aligned value columns. Value columns are
// renamed sequentially across buffers (value_0, value_1, ...), frames are
// full-outer-joined on the coalesced timestamp key, and the result is
// sorted ascending. Empty buffers are skipped; a buffer that cannot be
// parsed or lacks the required columns aborts the merge.
func MergeOuter(bodies [][]byte) (*Frame, error) {
	if len(bodies) == 0 {
		return nil, fmt.Errorf("no Arrow buffers to merge")
	}

	type accepted struct {
		timestamps []float64
		columns    []Column
	}
	var frames []accepted
	for _, body := range bodies {
		frame, err := Decode(body)
		if err != nil {
			return nil, err
		}
		if frame.NumRows() == 0 {
			continue
		}
		if frame.Timestamps == nil {
			return nil, fmt.Errorf("%w: Arrow table must have 'timestamp' column", ErrInvalidArrow)
		}
		cols := frame.ValueColumns()
		if len(cols) == 0 {
			return nil, fmt.Errorf("%w: Arrow table must have at least one value column", ErrInvalidArrow)
		}
		frames = append(frames, accepted{timestamps: frame.Timestamps, columns: cols})
	}
	if len(frames) == 0 {
		return nil, ErrNoData
	}

	// Union of timestamps, each exactly once, ascending.
	seen := map[float64]struct{}{}
	var union []float64
	for _, f := range frames {
		for _, t := range f.timestamps {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				union = append(union, t)
			}
		}
	}
	sort.Float64s(union)
	row := make(map[float64]int, len(union))
	for i, t := range union {
		row[t] = i
	}

	out := &Frame{Timestamps: union}
	next := 0
	for _, f := range frames {
		for _, col := range f.columns {
			merged := NullColumn(fmt.Sprintf("value_%d", next), len(union))
			next++
			// Duplicate timestamps within a buffer: last row wins.
			for ri, t := range f.timestamps {
				oi := row[t]
				merged.Values[oi] = col.Values[ri]
				merged.Valid[oi] = col.Valid[ri]
			}
			out.Columns = append(out.Columns, merged)
		}
	}
	return out, nil
}

// ReorderColumns permutes and renames the merged value columns back into
// the original request's descriptor order. indices[j] is the original
// descriptor index of merged column j; when the counts do not line up
// (an upstream returned extra columns) the frame is left as-is.
func ReorderColumns(f *Frame, indices []int) *Frame {
	if len(indices) != len(f.Columns) {
		return f
	}
	cols := make([]Column, len(f.Columns))
	for j, orig := range indices {
		c := f.Columns[j]
		c.Name = fmt.Sprintf("value_%d", orig)
		cols[orig] = c
	}
	return &Frame{Timestamps: f.Timestamps, Columns: cols}
}
