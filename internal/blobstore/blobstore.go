// Copyright 2025 shiioo
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

// Package blobstore is the content-addressed byte store. Every blob is
// named by the SHA-256 hex of its contents and sharded by the first two
// hex characters so no single directory accumulates every blob in the
// store.
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/shiioo-io/controlplane/shared/logger"
)

// Store is a content-addressed blob store rooted at a directory.
type Store struct {
	root string
	log  *logger.Logger
}

// New returns a Store rooted at root. The root directory is created if it
// does not exist.
func New(root string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apierr.Newf(apierr.StorageError, "create blob root: %v", err)
	}
	return &Store{root: root, log: log}, nil
}

func (s *Store) pathFor(hash string) (string, error) {
	if len(hash) < 2 {
		return "", apierr.New(apierr.InvalidInput, "blob hash too short")
	}
	return filepath.Join(s.root, hash[0:2], hash), nil
}

// Put stores bytes and returns their content hash. Idempotent: if the
// shard path already holds a file for this hash, Put does not rewrite it.
func (s *Store) Put(b []byte) (string, error) {
	hash := ids.HashBytes(b)
	path, err := s.pathFor(hash)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apierr.Newf(apierr.StorageError, "create shard dir: %v", err)
	}

	tmp := path + fmt.Sprintf(".tmp-%s", ids.New())
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", apierr.Newf(apierr.StorageError, "write blob: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", apierr.Newf(apierr.StorageError, "finalize blob: %v", err)
	}

	if s.log != nil {
		s.log.Debug(logger.Ctx{}, "blob stored", map[string]interface{}{"hash": hash, "size": len(b)})
	}
	return hash, nil
}

// Get returns the bytes for hash, or (nil, false) if no blob exists for it.
func (s *Store) Get(hash string) ([]byte, bool, error) {
	path, err := s.pathFor(hash)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apierr.Newf(apierr.StorageError, "read blob: %v", err)
	}
	return b, true, nil
}

// Exists reports whether hash names a stored blob.
func (s *Store) Exists(hash string) (bool, error) {
	path, err := s.pathFor(hash)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return false, nil
	}
	if statErr != nil {
		return false, apierr.Newf(apierr.StorageError, "stat blob: %v", statErr)
	}
	return true, nil
}

// Delete removes the blob for hash. Deleting a non-existent blob is not an
// error.
func (s *Store) Delete(hash string) error {
	path, err := s.pathFor(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apierr.Newf(apierr.StorageError, "delete blob: %v", err)
	}
	return nil
}
