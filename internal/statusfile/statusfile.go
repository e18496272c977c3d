// Package statusfile writes and reads the bridge's JSON status snapshot.
//
// Writes are atomic: readers such as `qnetctl status` never observe a
// partially written file.
package statusfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var ErrEmptyPath = errors.New("statusfile: empty path")

// Write encodes v as indented JSON into path via a temp file and rename.
func Write(path string, v any) error {
	if path == "" {
		return ErrEmptyPath
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("statusfile: encode: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statusfile: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("statusfile: temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("statusfile: write: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("statusfile: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("statusfile: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("statusfile: rename: %w", err)
	}
	return nil
}

// Read decodes the snapshot at path into out.
func Read(path string, out any) error {
	if path == "" {
		return ErrEmptyPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("statusfile: read: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("statusfile: decode %s: %w", path, err)
	}
	return nil
}

// Age reports how long ago path was last written.
func Age(path string, now time.Time) (time.Duration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("statusfile: stat: %w", err)
	}
	return now.Sub(info.ModTime()), nil
}
