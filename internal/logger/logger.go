// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package logger sets up structured logging for gptbot and provides a log
// line buffer that can be streamed over HTTP.
package logger

import (
	"context"
	"io"
	"log/slog"
)

// Logf is the basic logger type: a printf-like func. Like [log.Printf], the
// format need not end in a newline. Logf functions must be safe for concurrent
// use.
type Logf func(format string, args ...any)

// Write implements the [io.Writer] interface.
func (f Logf) Write(p []byte) (n int, err error) {
	f("%s", p)
	return len(p), nil
}

// Logger is a [slog.Logger] together with the level variable that controls it.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
}

// New returns a Logger that writes text records to w at the info level.
func New(w io.Writer) *Logger {
	lvl := new(slog.LevelVar)
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})),
		Level:  lvl,
	}
}

type ctxKey struct{}

// Put returns a copy of ctx carrying l.
func Put(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Get returns the Logger stored in ctx by [Put]. If there is none, it returns
// a Logger wrapping [slog.Default].
func Get(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{Logger: slog.Default(), Level: new(slog.LevelVar)}
}

// Secret returns a [slog.Attr] for key that hides everything but the last
// four characters of val.
func Secret(key, val string) slog.Attr {
	if len(val) <= 4 {
		return slog.String(key, "[EXPUNGED]")
	}
	return slog.String(key, "…"+val[len(val)-4:])
}
