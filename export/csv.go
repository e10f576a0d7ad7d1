// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package export serializes aligned frames: chunked CSV streaming and
// Parquet-to-object-store with a presigned download URL.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/nekazari/datahub-bff/arrowframe"
)

// CSVChunkRows is the row-slice size of one streamed CSV chunk.
const CSVChunkRows = 10000

// CSVFilename is the attachment name of streamed exports.
const CSVFilename = "hybrid_export.csv"

// StreamCSV serializes the frame in row slices of chunkRows, calling emit
// once per slice. The first slice carries the header row; subsequent slices
// do not. Emit errors (client disconnects) stop the stream at the next
// chunk boundary.
func StreamCSV(f *arrowframe.Frame, chunkRows int, emit func([]byte) error) error {
	if chunkRows <= 0 {
		chunkRows = CSVChunkRows
	}
	rows := f.NumRows()
	header := f.ColumnNames()

	for offset := 0; offset < rows || offset == 0; offset += chunkRows {
		end := offset + chunkRows
		if end > rows {
			end = rows
		}
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if offset == 0 {
			if err := w.Write(header); err != nil {
				return err
			}
		}
		record := make([]string, len(header))
		for row := offset; row < end; row++ {
			k := 0
			if f.Timestamps != nil {
				record[k] = formatFloat(f.Timestamps[row])
				k++
			}
			for _, c := range f.Columns {
				if c.Valid[row] {
					record[k] = formatFloat(c.Values[row])
				} else {
					record[k] = ""
				}
				k++
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("serialize CSV chunk: %w", err)
		}
		if err := emit(buf.Bytes()); err != nil {
			return err
		}
		if rows == 0 {
			break
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
