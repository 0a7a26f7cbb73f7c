// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/ledger"
	"go.astrophena.name/gptbot/internal/version"
	"go.astrophena.name/gptbot/internal/web"
)

// pollStaleAfter is how long the poller may go without a successful
// getUpdates call before /health reports it.
const pollStaleAfter = 5 * time.Minute

func (e *engine) adminMux() *http.ServeMux {
	mux := http.NewServeMux()

	health := web.Health(mux)
	health.RegisterFunc("settings", func(ctx context.Context) (string, bool) {
		if err := e.settings.Ping(ctx); err != nil {
			return e.scrubErr(err).Error(), false
		}
		return "ok", true
	})
	health.RegisterFunc("telegram", func(context.Context) (string, bool) {
		last := e.tg.LastPoll()
		if last.IsZero() {
			return "waiting for the first poll", true
		}
		if since := time.Since(last); since > pollStaleAfter {
			return fmt.Sprintf("last successful poll %s ago", since.Round(time.Second)), false
		}
		return "ok", true
	})

	mux.Handle("GET /debug/logs", e.logStream)
	mux.HandleFunc("GET /api/usage", e.handleUsage)
	mux.HandleFunc("GET /api/settings", e.handleSettings)
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		web.RespondJSON(w, version.Version())
	})
	return mux
}

func (e *engine) serveAdmin(ctx context.Context) error {
	return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
		Addr:   e.adminAddr,
		Mux:    e.adminMux(),
		Logger: e.slog,
		Ready:  e.ready,
	})
}

type usageResponse struct {
	Months  []ledger.MonthCost `json:"months"`
	Current float64            `json:"current"`
}

func (e *engine) handleUsage(w http.ResponseWriter, r *http.Request) {
	// Slot back-fills the months since the last post, so the history
	// ends with the current one.
	_, current, err := e.ledger.Slot(r.Context())
	if err != nil {
		web.RespondJSONError(e.slog, w, e.scrubErr(err))
		return
	}
	months, err := e.ledger.History()
	if err != nil {
		web.RespondJSONError(e.slog, w, err)
		return
	}
	web.RespondJSON(w, usageResponse{Months: months, Current: current})
}

type settingsResponse struct {
	Language       string  `json:"language"`
	Speed          float64 `json:"speed"`
	WhitelistedIDs []int64 `json:"whitelisted_ids"`
	BlacklistedIDs []int64 `json:"blacklisted_ids"`
	LedgerEpoch    string  `json:"ledger_epoch"`
	Model          string  `json:"model"`
	VoiceToChat    bool    `json:"voice_to_chat"`
	Sessions       int     `json:"sessions"`
}

func (e *engine) handleSettings(w http.ResponseWriter, r *http.Request) {
	s := e.settings.Snapshot()
	resp := settingsResponse{
		Language:       s.Language,
		Speed:          s.Speed,
		WhitelistedIDs: s.WhitelistedIDs,
		BlacklistedIDs: s.BlacklistedIDs,
		LedgerEpoch:    s.LedgerEpoch,
		Model:          e.model,
		VoiceToChat:    e.voiceToChat,
		Sessions:       e.bot.Sessions().Users(),
	}
	web.RespondJSON(w, resp)
}
