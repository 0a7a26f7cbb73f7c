// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package filelock

import (
	"path/filepath"
	"strings"
	"testing"

	"go.astrophena.name/gptbot/internal/testutil"
)

func TestAcquireConflict(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gptbot.lock")
	first, err := Acquire(path, "pid=123")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := first.Release(); err != nil {
			t.Fatal(err)
		}
	})

	_, err = Acquire(path, "pid=456")
	testutil.AssertErrorIs(t, err, ErrAlreadyLocked)
	if !strings.Contains(err.Error(), "pid=123") {
		t.Fatalf("error %q doesn't mention the holder", err)
	}

	holder, err := Holder(path)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, holder, "pid=123")
}

func TestAcquireReplacesPayload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gptbot.lock")
	for _, payload := range []string{"pid=1000000", "pid=7"} {
		l, err := Acquire(path, payload)
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Release(); err != nil {
			t.Fatal(err)
		}
	}
	holder, err := Holder(path)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, holder, "pid=7")
}

func TestIsLockedLifecycle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gptbot.lock")
	if IsLocked(path) {
		t.Fatal("missing file reported as locked")
	}

	lock, err := Acquire(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if !IsLocked(path) {
		t.Fatal("held lock reported as free")
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	if IsLocked(path) {
		t.Fatal("released lock reported as held")
	}
}
