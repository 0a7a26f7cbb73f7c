// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides an http.RoundTripper that logs outgoing
// requests at debug level.
package httplogger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// New returns a RoundTripper that logs every request made through t. URLs and
// errors are passed through scrubber, if not nil, before being logged, since
// some APIs carry credentials in the path.
func New(t http.RoundTripper, logger *slog.Logger, scrubber *strings.Replacer) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingTransport{transport: t, logger: logger, scrubber: scrubber}
}

type loggingTransport struct {
	transport http.RoundTripper
	logger    *slog.Logger
	scrubber  *strings.Replacer
}

func (t *loggingTransport) scrub(s string) string {
	if t.scrubber == nil {
		return s
	}
	return t.scrubber.Replace(s)
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	if !t.logger.Enabled(ctx, slog.LevelDebug) {
		return t.transport.RoundTrip(r)
	}

	start := time.Now()
	resp, err := t.transport.RoundTrip(r)
	attrs := []any{
		"method", r.Method,
		"url", t.scrub(r.URL.Redacted()),
		"duration", time.Since(start).Round(time.Millisecond),
	}
	if resp != nil {
		attrs = append(attrs, "status", resp.StatusCode)
	}
	if err != nil {
		attrs = append(attrs, "err", t.scrub(err.Error()))
	}
	t.logger.DebugContext(ctx, "HTTP request", attrs...)
	return resp, err
}
