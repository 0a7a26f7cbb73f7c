// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package systemd implements the parts of the sd_notify protocol a
// long-running service needs: readiness, status and watchdog updates.
//
// See https://www.freedesktop.org/software/systemd/man/sd_notify.html.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// State is a sd_notify protocol state.
type State string

const (
	// Ready tells the service manager that startup is finished.
	Ready State = "READY=1"
	// Stopping tells the service manager that the service is shutting down.
	Stopping State = "STOPPING=1"
	// Watchdog updates the watchdog timestamp.
	Watchdog State = "WATCHDOG=1"
)

// Status returns a state that sets the status line shown by systemctl.
func Status(format string, args ...any) State {
	return State("STATUS=" + fmt.Sprintf(format, args...))
}

// Notifier sends notifications to the socket named by NOTIFY_SOCKET. The zero
// value does nothing.
type Notifier struct {
	socket   string
	interval time.Duration
	logger   *slog.Logger
}

// New returns a Notifier configured from the environment. If the service is
// not run by systemd, the returned Notifier does nothing.
func New(getenv func(string) string, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{socket: getenv("NOTIFY_SOCKET"), logger: logger}
	if usec := getenv("WATCHDOG_USEC"); usec != "" {
		var err error
		if n.interval, err = watchdogInterval(usec); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Enabled reports whether notifications go anywhere.
func (n *Notifier) Enabled() bool { return n != nil && n.socket != "" }

// Notify sends the states in one datagram. Failures are logged.
func (n *Notifier) Notify(states ...State) {
	if !n.Enabled() || len(states) == 0 {
		return
	}
	var msg []byte
	for i, s := range states {
		if i > 0 {
			msg = append(msg, '\n')
		}
		msg = append(msg, s...)
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Net: "unixgram", Name: n.socket})
	if err != nil {
		n.logger.Warn("systemd: notifying", "err", err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write(msg); err != nil {
		n.logger.Warn("systemd: notifying", "err", err)
	}
}

// WatchdogLoop updates the watchdog timestamp at half the interval systemd
// asked for, until ctx is done. It returns at once if the watchdog is off.
func (n *Notifier) WatchdogLoop(ctx context.Context) {
	if !n.Enabled() || n.interval == 0 {
		return
	}
	ticker := time.NewTicker(n.interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Notify(Watchdog)
		case <-ctx.Done():
			return
		}
	}
}

func watchdogInterval(usec string) (time.Duration, error) {
	v, err := strconv.ParseInt(usec, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("systemd: parsing WATCHDOG_USEC: %w", err)
	}
	if v <= 0 {
		return 0, errors.New("systemd: WATCHDOG_USEC must be positive")
	}
	return time.Duration(v) * time.Microsecond, nil
}
