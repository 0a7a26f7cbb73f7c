// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// StatusErr is an error that maps to an HTTP status code.
type StatusErr int

// Error implements the error interface.
func (se StatusErr) Error() string { return strings.ToLower(http.StatusText(int(se))) }

const (
	// ErrBadRequest represents a bad request error (HTTP 400).
	ErrBadRequest StatusErr = http.StatusBadRequest
	// ErrNotFound represents a not found error (HTTP 404).
	ErrNotFound StatusErr = http.StatusNotFound
	// ErrMethodNotAllowed represents a method not allowed error (HTTP 405).
	ErrMethodNotAllowed StatusErr = http.StatusMethodNotAllowed
	// ErrInternalServerError represents an internal server error (HTTP 500).
	ErrInternalServerError StatusErr = http.StatusInternalServerError
)

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// RespondJSON writes response as indented JSON with status 200.
func RespondJSON(w http.ResponseWriter, response any) {
	RespondJSONStatus(w, http.StatusOK, response)
}

// RespondJSONStatus writes response as indented JSON with the given status.
func RespondJSONStatus(w http.ResponseWriter, status int, response any) {
	b, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		status = http.StatusInternalServerError
		b, _ = json.Marshal(&errorResponse{Status: "error", Error: "JSON marshal error: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
	w.Write([]byte("\n"))
}

// RespondJSONError writes err as a JSON error response. The status code is
// taken from a wrapped [StatusErr], defaulting to 500. Internal errors are
// logged with l.
//
//	web.RespondJSONError(l, w, fmt.Errorf("month %q %w", m, web.ErrNotFound))
func RespondJSONError(l *slog.Logger, w http.ResponseWriter, err error) {
	var se StatusErr
	if !errors.As(err, &se) {
		se = ErrInternalServerError
	}
	if se == ErrInternalServerError && l != nil {
		l.Error("internal server error", "err", err)
	}
	RespondJSONStatus(w, int(se), &errorResponse{Status: "error", Error: err.Error()})
}
