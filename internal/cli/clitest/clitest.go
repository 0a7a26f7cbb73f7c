// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest runs table tests against a [cli.App].
package clitest

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.astrophena.name/gptbot/internal/cli"
	"go.astrophena.name/gptbot/internal/logger"
)

// DirVar is replaced with the case's temporary directory in Args and Env
// values.
const DirVar = "$DIR"

// Case is one run of the application.
type Case[App cli.App] struct {
	// Args are the command-line arguments.
	Args []string
	// Env is the whole environment; variables not in it are empty.
	Env map[string]string
	// Files are written into the case's temporary directory before the run,
	// keyed by name relative to it. Refer to them as $DIR/name.
	Files map[string]string
	// WantErr is matched with errors.Is. If nil, the run must succeed unless
	// AnyErr is set.
	WantErr error
	// AnyErr accepts any outcome of the run. Use it for cases that only check
	// side effects.
	AnyErr bool
	// WantNothingPrinted requires stdout and stderr to be empty.
	WantNothingPrinted bool
	// WantInStdout and WantInStderr are substrings the outputs must contain.
	WantInStdout string
	WantInStderr string
	// WantInLogs is a substring of a line logged through the context logger.
	WantInLogs string
	// CheckFunc, if set, is called after the run.
	CheckFunc func(*testing.T, *Result[App])
}

// Result is what a run left behind.
type Result[App cli.App] struct {
	App    App
	Err    error
	Dir    string
	Stdout string
	Stderr string
	// Logs holds the lines written through the context logger.
	Logs logger.Streamer
}

const logLines = 100

// Run runs every case in parallel, each with a fresh app made by setup.
func Run[App cli.App](t *testing.T, setup func(*testing.T) App, cases map[string]Case[App]) {
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			for name, content := range tc.Files {
				path := filepath.Join(dir, name)
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			expand := func(s string) string { return strings.ReplaceAll(s, DirVar, dir) }

			args := make([]string, len(tc.Args))
			for i, arg := range tc.Args {
				args[i] = expand(arg)
			}
			vars := make(map[string]string, len(tc.Env))
			for k, v := range tc.Env {
				vars[k] = expand(v)
			}

			var stdout, stderr bytes.Buffer
			res := &Result[App]{App: setup(t), Dir: dir, Logs: logger.NewStreamer(logLines)}
			env := &cli.Env{
				Args:   args,
				Getenv: func(name string) string { return vars[name] },
				Stdin:  strings.NewReader(""),
				Stdout: &stdout,
				Stderr: &stderr,
			}
			ctx := cli.WithEnv(t.Context(), env)
			ctx = logger.Put(ctx, logger.New(res.Logs))
			res.Err = cli.Run(ctx, res.App)
			res.Stdout, res.Stderr = stdout.String(), stderr.String()

			switch {
			case tc.AnyErr:
			case tc.WantErr == nil && res.Err != nil:
				t.Fatalf("unexpected error: %v", res.Err)
			case tc.WantErr != nil && !errors.Is(res.Err, tc.WantErr):
				t.Fatalf("want error %v, got %v", tc.WantErr, res.Err)
			}

			if tc.WantNothingPrinted && (res.Stdout != "" || res.Stderr != "") {
				t.Errorf("want no output, got stdout %q and stderr %q", res.Stdout, res.Stderr)
			}
			if tc.WantInStdout != "" && !strings.Contains(res.Stdout, tc.WantInStdout) {
				t.Errorf("stdout must contain %q, got: %q", tc.WantInStdout, res.Stdout)
			}
			if tc.WantInStderr != "" && !strings.Contains(res.Stderr, tc.WantInStderr) {
				t.Errorf("stderr must contain %q, got: %q", tc.WantInStderr, res.Stderr)
			}
			if tc.WantInLogs != "" && !strings.Contains(strings.Join(res.Logs.Lines(), "\n"), tc.WantInLogs) {
				t.Errorf("logs must contain %q, got: %q", tc.WantInLogs, res.Logs.Lines())
			}

			if tc.CheckFunc != nil {
				tc.CheckFunc(t, res)
			}
		})
	}
}
