// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package systemd

import (
	"context"
	"net"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.astrophena.name/gptbot/internal/testutil"
)

func listen(t *testing.T) (*net.UnixConn, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unixgram sockets are not supported on Windows")
	}
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, path
}

func read(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 512)
	n, _, err := conn.ReadFromUnix(buf)
	if err != nil {
		t.Fatal(err)
	}
	return string(buf[:n])
}

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestNotify(t *testing.T) {
	t.Parallel()

	conn, path := listen(t)
	n, err := New(env(map[string]string{"NOTIFY_SOCKET": path}), nil)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n.Enabled(), true)

	n.Notify(Ready, Status("polling as @%s", "gptbot"))
	testutil.AssertEqual(t, read(t, conn), "READY=1\nSTATUS=polling as @gptbot")
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()

	n, err := New(env(nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n.Enabled(), false)
	// Doesn't panic or block.
	n.Notify(Ready)
	n.WatchdogLoop(context.Background())

	var zero *Notifier
	zero.Notify(Stopping)
}

func TestWatchdogLoop(t *testing.T) {
	t.Parallel()

	conn, path := listen(t)
	n, err := New(env(map[string]string{
		"NOTIFY_SOCKET": path,
		"WATCHDOG_USEC": "100000",
	}), nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.WatchdogLoop(ctx)
		close(done)
	}()

	testutil.AssertEqual(t, read(t, conn), "WATCHDOG=1")
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WatchdogLoop didn't return after cancellation")
	}
}

func TestWatchdogInterval(t *testing.T) {
	t.Parallel()

	for _, usec := range []string{"soon", "0", "-5"} {
		if _, err := New(env(map[string]string{"WATCHDOG_USEC": usec}), nil); err == nil {
			t.Errorf("WATCHDOG_USEC=%q: want error", usec)
		}
	}
	d, err := watchdogInterval("2500000")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, d, 2500*time.Millisecond)
}
