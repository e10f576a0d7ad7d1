// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package export

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/nekazari/datahub-bff/arrowframe"
)

// WriteParquet serializes the aligned frame to Snappy-compressed Parquet.
func WriteParquet(f *arrowframe.Frame, w io.Writer) error {
	tbl, err := arrowframe.Table(f)
	if err != nil {
		return fmt.Errorf("build Arrow table: %w", err)
	}
	defer tbl.Release()

	chunk := tbl.NumRows()
	if chunk == 0 {
		chunk = 1
	}
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	if err := pqarrow.WriteTable(tbl, w, chunk, props, pqarrow.DefaultWriterProps()); err != nil {
		return fmt.Errorf("write Parquet: %w", err)
	}
	return nil
}
