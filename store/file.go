// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sys/unix"
)

// FileStore keeps all keys in one CBOR-encoded map on disk. Readers
// and writers in different processes serialize on an flock of a
// sibling ".lock" file; writes replace the data file by rename, so a
// reader never sees a partial file.
type FileStore struct {
	path     string
	lockPath string
}

// fileEncoding sorts map keys so identical contents produce identical
// files.
var fileEncoding = mustEncMode()

func mustEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	return mode
}

// NewFileStore returns a store backed by path, creating its directory.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("store: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating directory for %s: %w", path, err)
	}
	return &FileStore{path: path, lockPath: path + ".lock"}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("get", key, err)
	}
	var value string
	err := s.withLock(unix.LOCK_SH, func() error {
		values, err := s.read()
		if err != nil {
			return err
		}
		value = values[key]
		return nil
	})
	if err != nil {
		return "", unavailable("get", key, err)
	}
	return value, nil
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("set", key, err)
	}
	err := s.withLock(unix.LOCK_EX, func() error {
		values, err := s.read()
		if err != nil {
			return err
		}
		if value == "" {
			delete(values, key)
		} else {
			values[key] = value
		}
		return s.write(values)
	})
	if err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (s *FileStore) withLock(how int, fn func() error) error {
	lock, err := os.OpenFile(s.lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), how); err != nil {
		return fmt.Errorf("locking %s: %w", s.lockPath, err)
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN) //nolint:errcheck // released on close regardless
	return fn()
}

func (s *FileStore) read() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := cbor.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	return values, nil
}

func (s *FileStore) write(values map[string]string) error {
	data, err := fileEncoding.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	temp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}
