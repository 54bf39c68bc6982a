// Package document reads the target document and writes it back atomically.
package document

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/naka-gawa/contrib-counter/internal/apperr"
)

const defaultPerm fs.FileMode = 0o644

// Read returns the whole content of path.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeIO, err, "failed to read %s", path)
	}
	return string(data), nil
}

// WriteAtomic replaces path with text. The content is written to a temporary
// file in the same directory and renamed over path, so readers either see
// the old document or the new one, never a truncated file.
func WriteAtomic(path, text string) (err error) {
	perm := defaultPerm
	if info, statErr := os.Stat(path); statErr == nil {
		perm = info.Mode().Perm()
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return apperr.Wrap(apperr.CodeIO, statErr, "failed to stat %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.CodeIO, err, "failed to create temporary file for %s", path)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.WriteString(text); err != nil {
		return apperr.Wrap(apperr.CodeIO, err, "failed to write %s", tmp.Name())
	}
	if err = tmp.Sync(); err != nil {
		return apperr.Wrap(apperr.CodeIO, err, "failed to sync %s", tmp.Name())
	}
	if err = tmp.Chmod(perm); err != nil {
		return apperr.Wrap(apperr.CodeIO, err, "failed to set permissions on %s", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		return apperr.Wrap(apperr.CodeIO, err, "failed to close %s", tmp.Name())
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return apperr.Wrap(apperr.CodeIO, err, "failed to replace %s", path)
	}
	return nil
}
