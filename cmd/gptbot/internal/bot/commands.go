// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"context"
	"fmt"
	"strings"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/guard"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/prefs"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/settings"
	"go.astrophena.name/gptbot/cmd/gptbot/internal/telegram"
	"go.astrophena.name/gptbot/internal/logger"
)

// Commands is the command menu of the bot. /start and /password are not
// listed.
var Commands = []telegram.Command{
	{Name: "help", Description: "Show what the bot can do"},
	{Name: "reset", Description: "Clear the conversation history"},
	{Name: "language", Description: "Set the speech language, like /language de"},
	{Name: "speed", Description: "Set the audio speed, from 0.8 to 1.8"},
	{Name: "info", Description: "Show this month's usage cost and the settings"},
	{Name: "add_cost", Description: "Add a cost to this month's usage"},
}

func helpText() string {
	var sb strings.Builder
	sb.WriteString("Send me a message and I'll pass it on to the model. Voice messages, audio and video are transcribed.\n\n")
	for _, c := range Commands {
		fmt.Fprintf(&sb, "/%s: %s\n", c.Name, c.Description)
	}
	return strings.TrimSpace(sb.String())
}

func (b *Bot) command(ctx context.Context, ev telegram.Event) error {
	log := logger.Get(ctx)
	switch ev.Command {
	case "start":
		b.send(ctx, ev.ChatID, fmt.Sprintf("Hi %s!\n\n%s", ev.FirstName, helpText()))

	case "reset":
		b.sessions.Clear(ev.UserID)
		log.Info("history cleared")
		b.send(ctx, ev.ChatID, "Messages history cleared.")

	case "language":
		lang := prefs.ValidateLanguage(ev.Args)
		if err := b.update(ctx, func(s *settings.Settings) error {
			if s.Language == lang {
				return settings.ErrUnchanged
			}
			s.Language = lang
			return nil
		}); err != nil {
			return err
		}
		log.Info("speech language set", "language", lang)
		b.send(ctx, ev.ChatID, fmt.Sprintf("Speech language set to '%s'.", lang))

	case "speed":
		speed := prefs.ValidateSpeed(ev.Args)
		if err := b.update(ctx, func(s *settings.Settings) error {
			if s.Speed == speed {
				return settings.ErrUnchanged
			}
			s.Speed = speed
			return nil
		}); err != nil {
			return err
		}
		log.Info("audio speed set", "speed", speed)
		b.send(ctx, ev.ChatID, fmt.Sprintf("Audio speed set to '%sx'.", prefs.FormatFloat(speed)))

	case "info":
		cctx, cancel := context.WithTimeout(ctx, b.apiTimeout)
		defer cancel()
		total, err := b.ledger.CurrentTotal(cctx)
		if err != nil {
			return fmt.Errorf("reading usage cost: %w", err)
		}
		snap := b.settings.Snapshot()
		b.send(ctx, ev.ChatID, fmt.Sprintf("Total usage cost this month: %s$\nSpeech language: %s\nAudio speed: %sx",
			prefs.FormatCost(total), snap.Language, prefs.FormatFloat(snap.Speed)))

	case "add_cost":
		cctx, cancel := context.WithTimeout(ctx, b.apiTimeout)
		defer cancel()
		added, total, err := b.ledger.AddManual(cctx, ev.Args)
		if err != nil {
			return fmt.Errorf("adding usage cost: %w", err)
		}
		if added == 0 {
			return nil
		}
		log.Info("manual cost added", "cost", added, "month_total", total)
		b.send(ctx, ev.ChatID, fmt.Sprintf("Added %s$ to the usage of this month. Total: %s$.",
			prefs.FormatFloat(added), prefs.FormatCost(total)))

	case strings.TrimPrefix(guard.PasswordCommand, "/"):
		// Already let in.
		log.Debug("ignoring password from a whitelisted user")

	default:
		b.send(ctx, ev.ChatID, helpText())
	}
	return nil
}

func (b *Bot) update(ctx context.Context, fn func(*settings.Settings) error) error {
	uctx, cancel := context.WithTimeout(ctx, b.apiTimeout)
	defer cancel()
	if err := b.settings.Update(uctx, fn); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
