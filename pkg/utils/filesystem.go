// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package utils provides filesystem helpers shared across the orchestrator.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureStateDir ensures the .taskforge directory exists at the given base
// path. If basePath is empty or ".", it creates ./.taskforge in the current
// directory. Otherwise, it creates {basePath}/.taskforge.
//
// It creates only the .taskforge directory itself, no subdirectories. No
// package in this module calls it; checkpoints and memory stores keep their
// state in process.
//
// Returns the full path to the directory and any error.
func EnsureStateDir(basePath string) (string, error) {
	var dir string
	if basePath == "" || basePath == "." {
		dir = ".taskforge"
	} else {
		dir = filepath.Join(basePath, ".taskforge")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory at '%s': %w", dir, err)
	}

	return dir, nil
}
