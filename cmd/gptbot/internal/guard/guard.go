// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package guard decides whether a Telegram user may talk to the bot.
//
// Users on the whitelist pass, users on the blacklist are dropped without a
// word. Everybody else has [MaxAttempts] tries to send the password with the
// [PasswordCommand]; one more failure puts them on the blacklist for good.
package guard

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/settings"
)

const (
	// MaxAttempts is the number of wrong passwords a user may send before
	// being blacklisted on the next one.
	MaxAttempts = 5
	// PasswordCommand marks the password in a message. The secret follows it
	// after a single space.
	PasswordCommand = "/password"
	// NoText stands in for the text of events that have none. It never
	// matches a password.
	NoText = "\x00"
)

// Verdict is the outcome of a check.
type Verdict int

const (
	// Reject stops processing of the event.
	Reject Verdict = iota
	// Allow lets the event through.
	Allow
	// Halt means the event was consumed by the guard: the notice and the
	// trigger deletion should happen, but nothing else.
	Halt
)

func (v Verdict) String() string {
	switch v {
	case Reject:
		return "reject"
	case Allow:
		return "allow"
	case Halt:
		return "halt"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Reason explains a [Decision].
type Reason string

const (
	Blacklisted      Reason = "blacklisted"
	Whitelisted      Reason = "whitelisted"
	PasswordAccepted Reason = "password_accepted"
	PasswordRejected Reason = "password_rejected"
	Blocked          Reason = "blocked"
	Exhausted        Reason = "exhausted"
	NotSaved         Reason = "not_saved"
)

// NotSavedNotice is sent instead of the welcome when the whitelist couldn't
// be saved.
const NotSavedNotice = "Something went wrong, please try again later."

// Request is the part of an inbound event the guard looks at.
type Request struct {
	UserID    int64
	FirstName string
	Text      string
	// HasText is false for events without text, like voice messages.
	HasText bool
}

// Decision is the result of [Guard.Check].
type Decision struct {
	Verdict Verdict
	Reason  Reason
	// Notice, if not empty, should be sent to the user.
	Notice string
	// DeleteTrigger asks for the message that triggered the check to be
	// deleted, so the password doesn't stay in the chat.
	DeleteTrigger bool
}

// Guard is the access guard. It is safe for concurrent use.
type Guard struct {
	settings *settings.Manager
	password string
	logger   *slog.Logger

	mu       sync.Mutex
	attempts map[int64]int
}

// Config configures a [Guard].
type Config struct {
	// Settings holds the whitelist and the blacklist.
	Settings *settings.Manager
	// Password is the secret. If empty, nobody can get in with a password.
	Password string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// New returns a Guard.
func New(c Config) *Guard {
	g := &Guard{
		settings: c.Settings,
		password: c.Password,
		logger:   c.Logger,
		attempts: make(map[int64]int),
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Attempts returns the number of failed attempts of the user since the
// process started.
func (g *Guard) Attempts(userID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts[userID]
}

// Check decides on the request. The returned error is non-nil only if saving
// the settings failed; the decision and the attempt counter are still valid in
// that case. A user whose whitelisting wasn't saved is rejected.
func (g *Guard) Check(ctx context.Context, req Request) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := g.settings.Snapshot()
	switch {
	case snap.IsBlacklisted(req.UserID):
		return Decision{Verdict: Reject, Reason: Blacklisted}, nil
	case snap.IsWhitelisted(req.UserID):
		return Decision{Verdict: Allow, Reason: Whitelisted}, nil
	}

	text := req.Text
	if !req.HasText {
		text = NoText
	}
	log := g.logger.With("user_id", req.UserID)
	count := g.attempts[req.UserID]

	switch {
	case count < MaxAttempts && g.passwordMatches(text):
		d := Decision{
			Verdict:       Halt,
			Reason:        PasswordAccepted,
			Notice:        fmt.Sprintf("Welcome %s! Your user_id %d has been whitelisted.", req.FirstName, req.UserID),
			DeleteTrigger: true,
		}
		err := g.settings.Update(ctx, func(s *settings.Settings) error {
			if !s.AddWhitelisted(req.UserID) {
				return settings.ErrUnchanged
			}
			return nil
		})
		if err != nil {
			// Nothing was saved, so the user isn't in. The attempt isn't
			// counted either.
			return Decision{Verdict: Reject, Reason: NotSaved, Notice: NotSavedNotice},
				fmt.Errorf("whitelisting user %d: %w", req.UserID, err)
		}
		log.Info("user whitelisted")
		return d, nil

	case count < MaxAttempts:
		g.attempts[req.UserID] = count + 1
		left := MaxAttempts - count
		plural := ""
		if left > 1 {
			plural = "s"
		}
		log.Info("wrong password", "attempt", count+1)
		return Decision{
			Verdict: Reject,
			Reason:  PasswordRejected,
			Notice:  fmt.Sprintf("This is a private bot. Please enter the correct password! You have %d attempt%s left.", left, plural),
		}, nil

	case count == MaxAttempts:
		g.attempts[req.UserID] = count + 1
		d := Decision{
			Verdict: Reject,
			Reason:  Blocked,
			Notice:  "🛑 You have been permanently blocked by this bot. 🛑",
		}
		err := g.settings.Update(ctx, func(s *settings.Settings) error {
			if !s.AddBlacklisted(req.UserID) {
				return settings.ErrUnchanged
			}
			return nil
		})
		if err != nil {
			return d, fmt.Errorf("blacklisting user %d: %w", req.UserID, err)
		}
		log.Warn("user blacklisted")
		return d, nil

	default:
		return Decision{Verdict: Reject, Reason: Exhausted}, nil
	}
}

// passwordMatches reports whether text carries the password marker followed
// by exactly the configured secret. Only the part up to a repeated marker is
// compared.
func (g *Guard) passwordMatches(text string) bool {
	if g.password == "" {
		return false
	}
	const marker = PasswordCommand + " "
	_, arg, ok := strings.Cut(text, marker)
	if !ok {
		return false
	}
	arg, _, _ = strings.Cut(arg, marker)
	return subtle.ConstantTimeCompare([]byte(arg), []byte(g.password)) == 1
}
