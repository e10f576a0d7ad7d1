// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package arrowframe implements the columnar core of the hybrid
// orchestrator: Arrow IPC decode/encode, time-grid construction, and the
// two alignment modes (grid/LOCF and outer-join on the timestamp union).
//
// Frames carry timestamps as float64 epoch seconds and values as nullable
// float64 columns, matching the wire representation the adapters emit.
package arrowframe

import "strings"

// TimestampColumn is the required key column of every series frame.
const TimestampColumn = "timestamp"

// Column is one nullable float64 value column.
type Column struct {
	Name   string
	Values []float64
	Valid  []bool
}

// NullColumn returns a column of n nulls.
func NullColumn(name string, n int) Column {
	return Column{Name: name, Values: make([]float64, n), Valid: make([]bool, n)}
}

// Frame is a lightweight columnar table: an optional timestamp column plus
// zero or more value columns of equal length.
type Frame struct {
	// Timestamps is nil when the decoded stream had no timestamp column.
	Timestamps []float64
	Columns    []Column
}

// NumRows returns the row count.
func (f *Frame) NumRows() int {
	if f.Timestamps != nil {
		return len(f.Timestamps)
	}
	if len(f.Columns) > 0 {
		return len(f.Columns[0].Values)
	}
	return 0
}

// ValueColumns returns the columns named "value" or "value_*", in frame
// order. Other columns (units, quality flags) are ignored by alignment.
func (f *Frame) ValueColumns() []Column {
	var cols []Column
	for _, c := range f.Columns {
		if c.Name == "value" || strings.HasPrefix(c.Name, "value_") {
			cols = append(cols, c)
		}
	}
	return cols
}

// Column returns the named column, or nil.
func (f *Frame) Column(name string) *Column {
	for i := range f.Columns {
		if f.Columns[i].Name == name {
			return &f.Columns[i]
		}
	}
	return nil
}

// ColumnNames lists the output column order: timestamp first, then values.
func (f *Frame) ColumnNames() []string {
	names := make([]string, 0, len(f.Columns)+1)
	if f.Timestamps != nil {
		names = append(names, TimestampColumn)
	}
	for _, c := range f.Columns {
		names = append(names, c.Name)
	}
	return names
}
