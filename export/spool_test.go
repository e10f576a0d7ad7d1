// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package export

import (
	"bytes"
	"io"
	"os"
	"testing"
)

func TestSpool_InMemory(t *testing.T) {
	s := NewSpool()
	defer s.Close()

	payload := []byte("small payload")
	if _, err := s.Write(payload); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if s.file != nil {
		t.Error("small write should stay in memory")
	}
	if s.Size() != int64(len(payload)) {
		t.Errorf("Size = %d", s.Size())
	}

	r, err := s.Reader()
	if err != nil {
		t.Fatalf("Reader returned error: %v", err)
	}
	got, _ := io.ReadAll(r)
	if !bytes.Equal(got, payload) {
		t.Errorf("read back %q", got)
	}
}

func TestSpool_SpillsToDisk(t *testing.T) {
	s := &Spool{max: 16}
	defer s.Close()

	first := bytes.Repeat([]byte("a"), 10)
	second := bytes.Repeat([]byte("b"), 10)
	if _, err := s.Write(first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if s.file != nil {
		t.Fatal("spilled before crossing the threshold")
	}
	if _, err := s.Write(second); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if s.file == nil {
		t.Fatal("expected a spill to disk")
	}

	r, err := s.Reader()
	if err != nil {
		t.Fatalf("Reader returned error: %v", err)
	}
	got, _ := io.ReadAll(r)
	if !bytes.Equal(got, append(first, second...)) {
		t.Errorf("spilled content mismatch, read %d bytes", len(got))
	}
	if s.Size() != 20 {
		t.Errorf("Size = %d, expected 20", s.Size())
	}
}

func TestSpool_CloseRemovesFile(t *testing.T) {
	s := &Spool{max: 1}
	if _, err := s.Write([]byte("spill me")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	name := s.file.Name()
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Errorf("backing file %q still exists", name)
	}
	// Double close is a no-op.
	if err := s.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
}
