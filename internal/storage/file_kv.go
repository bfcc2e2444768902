// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/cleanllm/internal/util"
)

const (
	recordExt = ".json"
	filePerm  = 0600
)

// FileKV keeps one JSON file per record in a directory.
type FileKV struct {
	dir string
}

// NewFileKV creates the directory if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, util.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

// Dir returns the data directory.
func (f *FileKV) Dir() string { return f.dir }

func (f *FileKV) path(id string) string {
	return filepath.Join(f.dir, id+recordExt)
}

// Get reads the record for id. An id that could never be stored is
// reported as not found.
func (f *FileKV) Get(id string) ([]byte, error) {
	if validateID(id) != nil {
		return nil, ErrKeyNotFound
	}
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyNotFound
	}
	return data, err
}

// Put writes the record with fsync and an atomic rename.
func (f *FileKV) Put(id string, data []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	return util.AtomicWriteFileWithDir(f.path(id), data, filePerm, util.DefaultDirPerm)
}

// List returns the ids of all records. Temporary files are ignored.
func (f *FileKV) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if id, ok := recordID(entry.Name()); ok && !entry.IsDir() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete removes the record for id.
func (f *FileKV) Delete(id string) error {
	if validateID(id) != nil {
		return ErrKeyNotFound
	}
	err := os.Remove(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrKeyNotFound
	}
	return err
}

// Close is a no-op.
func (f *FileKV) Close() error { return nil }

// recordID extracts the id from a record file name.
func recordID(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, recordExt)
	return id, validateID(id) == nil
}
