// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKeyNotFound is returned by KV.Get and KV.Delete for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// KV stores opaque records by id.
type KV interface {
	Get(id string) ([]byte, error)
	// Put replaces the record atomically.
	Put(id string, data []byte) error
	List() ([]string, error)
	Delete(id string) error
	Close() error
}

// SECURITY: ids become file names, so reject anything that could escape
// the data directory.
func validateID(id string) error {
	if id == "" {
		return errors.New("empty id")
	}
	if len(id) > 128 {
		return fmt.Errorf("id too long: %d bytes", len(id))
	}
	if strings.ContainsAny(id, `/\:`) || strings.Contains(id, "..") || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid id %q", id)
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("invalid id %q", id)
		}
	}
	return nil
}
