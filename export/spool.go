// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// spoolMaxMemory is how much Parquet output stays in memory before the
// spool spills to a temp file.
const spoolMaxMemory = 25 << 20 // 25 MiB

// Spool buffers writes in memory up to a threshold and spills to a
// temporary file beyond it. Close removes the backing file.
type Spool struct {
	max  int
	buf  bytes.Buffer
	file *os.File
	size int64
}

// NewSpool returns a spool with the default 25 MiB memory threshold.
func NewSpool() *Spool {
	return &Spool{max: spoolMaxMemory}
}

// Write implements io.Writer.
func (s *Spool) Write(p []byte) (int, error) {
	if s.file == nil && s.buf.Len()+len(p) > s.max {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	s.size += int64(len(p))
	if s.file != nil {
		return s.file.Write(p)
	}
	return s.buf.Write(p)
}

func (s *Spool) spill() error {
	f, err := os.CreateTemp("", "datahub-export-*.parquet")
	if err != nil {
		return fmt.Errorf("spill export spool: %w", err)
	}
	if _, err := f.Write(s.buf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("spill export spool: %w", err)
	}
	s.buf.Reset()
	s.file = f
	return nil
}

// Size returns the number of bytes written.
func (s *Spool) Size() int64 { return s.size }

// Reader rewinds the spool and returns a reader over its full contents.
func (s *Spool) Reader() (io.Reader, error) {
	if s.file != nil {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return s.file, nil
	}
	return bytes.NewReader(s.buf.Bytes()), nil
}

// Close releases the backing file, if any.
func (s *Spool) Close() error {
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	s.file = nil
	return err
}
