// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.astrophena.name/gptbot/internal/syncx"
)

// Health returns the [HealthHandler] registered on mux at /health, creating it
// if necessary.
func Health(mux *http.ServeMux) *HealthHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/health"}})
	if hh, ok := h.(*HealthHandler); ok && pat != "" {
		return hh
	}
	hh := &HealthHandler{checks: syncx.Protect(make(checksMap))}
	mux.Handle("GET /health", hh)
	return hh
}

// HealthHandler reports the health of the subsystems registered with it.
type HealthHandler struct{ checks *syncx.Protected[checksMap] }

type checksMap = map[string]HealthFunc

// HealthFunc checks a subsystem. It must be safe for concurrent use and should
// return promptly once ctx is done.
type HealthFunc func(ctx context.Context) (status string, ok bool)

// RegisterFunc registers the check f under name. It panics if name is already
// registered.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.Access(func(checks checksMap) {
		if _, dup := checks[name]; dup {
			panic("web: health check " + name + " already registered")
		}
		checks[name] = f
	})
}

// HealthResponse is the body of the /health response.
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Checks map[string]CheckResponse `json:"checks"`
}

// CheckResponse is the result of an individual check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

const healthTimeout = 5 * time.Second

// ServeHTTP implements the [http.Handler] interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	hr := &HealthResponse{OK: true, Checks: make(map[string]CheckResponse)}
	h.checks.RAccess(func(checks checksMap) {
		for name, f := range checks {
			status, ok := f(ctx)
			hr.OK = hr.OK && ok
			hr.Checks[name] = CheckResponse{Status: status, OK: ok}
		}
	})

	status := http.StatusOK
	if !hr.OK {
		status = http.StatusServiceUnavailable
	}
	RespondJSONStatus(w, status, hr)
}
