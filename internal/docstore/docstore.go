// Package docstore provides atomic whole-document JSON I/O. Every state
// document Overseer owns is read, modified, and rewritten as a unit; there
// is no field-level locking anywhere.
package docstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Write marshals data and atomically replaces the document at path.
func Write(path string, data any) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return WriteRaw(path, append(content, '\n'))
}

// WriteRaw atomically replaces the document at path with content. The write
// goes to a temp file in the same directory, is synced, re-read and
// validated as JSON, then renamed over the target. An existing document is
// preserved as <path>.bak first.
func WriteRaw(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".overseer-tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		// Clean up temp file on any failure
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Validate written content by re-reading the temp file.
	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read temp file for validation: %w", err)
	}
	if !json.Valid(written) {
		return fmt.Errorf("written document is not valid JSON: %s", path)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// Load reads the document at path into out. A missing document leaves out
// untouched and returns os.ErrNotExist.
func Load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Update performs a whole-document read-modify-write: the existing document
// (or the zero value when none exists) is decoded, mutated by fn, and
// atomically rewritten. Fields fn does not touch are preserved, which gives
// merge-not-replace semantics for free.
func Update[T any](path string, fn func(*T) error) (T, error) {
	var doc T
	if err := Load(path, &doc); err != nil && !os.IsNotExist(err) {
		return doc, err
	}
	if err := fn(&doc); err != nil {
		return doc, err
	}
	if err := Write(path, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
