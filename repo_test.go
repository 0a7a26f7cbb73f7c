// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package gptbot

import (
	"bytes"
	"go/format"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const copyrightPrefix = "// © "

const licenseLines = `// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.
`

// goFiles returns every Go file of the module, skipping directories the Go
// tool ignores.
func goFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != "." && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".go" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no Go files found")
	}
	return files
}

func TestGofmt(t *testing.T) {
	t.Parallel()

	for _, path := range goFiles(t) {
		src, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		formatted, err := format.Source(src)
		if err != nil {
			t.Errorf("%s: %v", path, err)
			continue
		}
		if !bytes.Equal(src, formatted) {
			t.Errorf("%s is not formatted, run gofmt -w on it", path)
		}
	}
}

func TestCopyrightHeader(t *testing.T) {
	t.Parallel()

	for _, path := range goFiles(t) {
		src, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		first, rest, _ := bytes.Cut(src, []byte("\n"))
		if !bytes.HasPrefix(first, []byte(copyrightPrefix)) || !bytes.HasPrefix(rest, []byte(licenseLines)) {
			t.Errorf("%s doesn't start with the copyright header", path)
		}
	}
}
