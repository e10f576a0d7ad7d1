// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package arrowframe

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
)

// ErrInvalidArrow marks a payload that could not be read as an Arrow IPC
// stream or lacks the columns alignment needs.
var ErrInvalidArrow = errors.New("invalid Arrow IPC")

// Decode reads one Arrow IPC stream into a Frame. Numeric columns are
// widened to float64; timestamp-typed columns are converted to epoch
// seconds; non-numeric columns are dropped. An empty stream decodes to an
// empty Frame.
func Decode(buf []byte) (*Frame, error) {
	reader, err := ipc.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArrow, err)
	}
	defer reader.Release()

	frame := &Frame{}
	first := true
	for reader.Next() {
		rec := reader.Record()
		if first {
			initFrame(frame, rec.Schema())
			first = false
		}
		if err := appendRecord(frame, rec); err != nil {
			return nil, err
		}
	}
	if reader.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArrow, reader.Err())
	}
	return frame, nil
}

// Encode writes the frame to an Arrow IPC stream, column order
// timestamp, value_0, value_1, ... Value columns are nullable float64.
func Encode(f *Frame) ([]byte, error) {
	fields := make([]arrow.Field, 0, len(f.Columns)+1)
	if f.Timestamps != nil {
		fields = append(fields, arrow.Field{Name: TimestampColumn, Type: arrow.PrimitiveTypes.Float64})
	}
	for _, c := range f.Columns {
		fields = append(fields, arrow.Field{Name: c.Name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	mem := memory.DefaultAllocator
	arrays := make([]arrow.Array, 0, len(fields))
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	if f.Timestamps != nil {
		b := array.NewFloat64Builder(mem)
		b.AppendValues(f.Timestamps, nil)
		arrays = append(arrays, b.NewArray())
		b.Release()
	}
	for _, c := range f.Columns {
		b := array.NewFloat64Builder(mem)
		for i, v := range c.Values {
			if c.Valid[i] {
				b.Append(v)
			} else {
				b.AppendNull()
			}
		}
		arrays = append(arrays, b.NewArray())
		b.Release()
	}

	rec := array.NewRecord(schema, arrays, int64(f.NumRows()))
	defer rec.Release()

	var out bytes.Buffer
	w := ipc.NewWriter(&out, ipc.WithSchema(schema))
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("write Arrow record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close Arrow writer: %w", err)
	}
	return out.Bytes(), nil
}

// Table materializes the frame as an arrow.Table for the Parquet writer.
// The caller releases it.
func Table(f *Frame) (arrow.Table, error) {
	raw, err := Encode(f)
	if err != nil {
		return nil, err
	}
	reader, err := ipc.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("reread Arrow stream: %w", err)
	}
	defer reader.Release()
	var recs []arrow.Record
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if reader.Err() != nil {
		return nil, fmt.Errorf("reread Arrow stream: %w", reader.Err())
	}
	tbl := array.NewTableFromRecords(reader.Schema(), recs)
	for _, rec := range recs {
		rec.Release()
	}
	return tbl, nil
}

func initFrame(frame *Frame, schema *arrow.Schema) {
	for _, field := range schema.Fields() {
		if field.Name == TimestampColumn {
			frame.Timestamps = []float64{}
			continue
		}
		if !convertible(field.Type.ID()) {
			continue
		}
		frame.Columns = append(frame.Columns, Column{Name: field.Name})
	}
}

func appendRecord(frame *Frame, rec arrow.Record) error {
	schema := rec.Schema()
	for i := 0; i < int(rec.NumCols()); i++ {
		name := schema.Field(i).Name
		col := rec.Column(i)
		if name == TimestampColumn {
			ts, _, err := toFloat64s(col)
			if err != nil {
				return err
			}
			frame.Timestamps = append(frame.Timestamps, ts...)
			continue
		}
		dst := frame.Column(name)
		if dst == nil {
			continue // non-numeric, dropped at schema time
		}
		values, valid, err := toFloat64s(col)
		if err != nil {
			return err
		}
		dst.Values = append(dst.Values, values...)
		dst.Valid = append(dst.Valid, valid...)
	}
	return nil
}

func convertible(id arrow.Type) bool {
	switch id {
	case arrow.FLOAT64, arrow.FLOAT32,
		arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.TIMESTAMP:
		return true
	default:
		return false
	}
}

// toFloat64s widens one Arrow column to float64 plus a validity mask.
// Timestamps become epoch seconds according to their unit.
func toFloat64s(col arrow.Array) ([]float64, []bool, error) {
	switch col.DataType().ID() {
	case arrow.FLOAT64:
		return collect[float64](col.(*array.Float64))
	case arrow.FLOAT32:
		return collect[float32](col.(*array.Float32))
	case arrow.INT8:
		return collect[int8](col.(*array.Int8))
	case arrow.INT16:
		return collect[int16](col.(*array.Int16))
	case arrow.INT32:
		return collect[int32](col.(*array.Int32))
	case arrow.INT64:
		return collect[int64](col.(*array.Int64))
	case arrow.UINT8:
		return collect[uint8](col.(*array.Uint8))
	case arrow.UINT16:
		return collect[uint16](col.(*array.Uint16))
	case arrow.UINT32:
		return collect[uint32](col.(*array.Uint32))
	case arrow.UINT64:
		return collect[uint64](col.(*array.Uint64))
	case arrow.TIMESTAMP:
		return collectTimestamps(col.(*array.Timestamp))
	default:
		return nil, nil, fmt.Errorf("%w: unsupported column type %s", ErrInvalidArrow, col.DataType())
	}
}

// numericArray mirrors the accessor surface shared by Arrow numeric arrays.
type numericArray[T any] interface {
	IsNull(int) bool
	Value(int) T
	Len() int
}

func collect[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64, A numericArray[T]](arr A) ([]float64, []bool, error) {
	values := make([]float64, arr.Len())
	valid := make([]bool, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		values[i] = float64(arr.Value(i))
		valid[i] = true
	}
	return values, valid, nil
}

func collectTimestamps(arr *array.Timestamp) ([]float64, []bool, error) {
	unit := arr.DataType().(*arrow.TimestampType).Unit
	values := make([]float64, arr.Len())
	valid := make([]bool, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		t := arr.Value(i).ToTime(unit)
		values[i] = float64(t.UnixNano()) / 1e9
		valid[i] = true
	}
	return values, valid, nil
}
