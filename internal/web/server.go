// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package web contains the small HTTP toolkit behind the gptbot admin server.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ListenAndServeConfig configures [ListenAndServe]. Fields must not be
// modified after ListenAndServe is called.
type ListenAndServeConfig struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Mux is the handler to serve. /health is registered on it.
	Mux *http.ServeMux
	// Logger is used for server errors. If nil, slog.Default is used.
	Logger *slog.Logger
	// Ready, if not nil, is called with the listening address once the
	// server accepts connections.
	Ready func(addr string)
}

var (
	errNoAddr = errors.New("c.Addr is empty")
	errNilMux = errors.New("c.Mux is nil")
)

const shutdownTimeout = 10 * time.Second

// ListenAndServe serves c.Mux on c.Addr until ctx is done and then shuts the
// server down gracefully.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	if c.Addr == "" {
		return errNoAddr
	}
	if c.Mux == nil {
		return errNilMux
	}
	l := c.Logger
	if l == nil {
		l = slog.Default()
	}

	ln, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer ln.Close()
	l.Info("admin server listening", "addr", ln.Addr().String())

	Health(c.Mux)
	s := &http.Server{
		Handler:           c.Mux,
		ErrorLog:          slog.NewLogLogger(l.Handler(), slog.LevelError),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if c.Ready != nil {
		c.Ready(ln.Addr().String())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		l.Info("admin server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}
