// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package persistentcache stores small values which need to survive
// restarts, one file per key under the configured run path.
package persistentcache

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/aquaops/aquaops-agent/pkg/config"
)

func cachePath(key string) string {
	parent := config.Aquaops.GetString("run_path")
	// Keys may contain a namespace separator; everything else unsafe is
	// flattened.
	cleaned := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(parent, "cache", cleaned)
}

// Write stores value for key, creating the cache directory on first
// use.
func Write(key, value string) error {
	path := cachePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read returns the stored value for key. A missing key is an empty
// string, not an error.
func Read(key string) (string, error) {
	content, err := os.ReadFile(cachePath(key))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(content), nil
}
