// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio writes files atomically, keeping a few timestamped backups
// of previous versions.
package atomicio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const backupTimeFormat = "20060102150405.000000000"

// now is mocked in tests.
var now = time.Now

// WriteFile replaces the contents of name with data so that readers observe
// either the old or the new version, never a partial one. If name already
// exists, its previous contents are kept as name.<timestamp>.bak and at most
// keep such backups are retained. keep = 0 disables backups.
func WriteFile(name string, data []byte, perm fs.FileMode, keep int) (err error) {
	// Same directory, so the final rename doesn't cross filesystems.
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if keep > 0 {
		if err := backup(name); err != nil {
			return err
		}
	}

	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}

	if keep > 0 {
		return prune(name, keep)
	}
	return nil
}

// Backups returns the backups of name, oldest first.
func Backups(name string) ([]string, error) {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return nil, err
	}
	slices.Sort(backups)
	return backups, nil
}

func backup(name string) error {
	bak := name + "." + now().UTC().Format(backupTimeFormat) + ".bak"
	// A hard link keeps name in place until the rename replaces it.
	err := os.Link(name, bak)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil {
		return nil
	}
	// Some filesystems don't support hard links.
	b, rerr := os.ReadFile(name)
	if rerr != nil {
		return errors.Join(err, rerr)
	}
	return os.WriteFile(bak, b, 0o600)
}

func prune(name string, keep int) error {
	backups, err := Backups(name)
	if err != nil {
		return err
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		backups = backups[1:]
	}
	return nil
}
