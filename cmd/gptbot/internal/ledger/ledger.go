// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package ledger accumulates API usage cost per calendar month.
//
// Costs live in the settings record as a slice whose index 0 is the ledger
// epoch, the month the ledger was first initialized. Months the bot didn't
// run are back-filled with zeros before anything is added, so an index always
// maps to the same month.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/settings"
)

// ErrInvalidCost is returned by [Ledger.Post] for negative or non-finite
// costs.
var ErrInvalidCost = errors.New("cost must be a finite non-negative number")

// Config configures a [Ledger].
type Config struct {
	// Settings holds the ledger.
	Settings *settings.Manager
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Ledger is the monthly usage-cost ledger.
type Ledger struct {
	settings *settings.Manager
	now      func() time.Time
	logger   *slog.Logger
}

// New returns a Ledger.
func New(c Config) *Ledger {
	l := &Ledger{settings: c.Settings, now: c.Now, logger: c.Logger}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Init sets the ledger epoch to the current month unless it is already set.
func (l *Ledger) Init(ctx context.Context) error {
	return l.settings.Update(ctx, func(s *settings.Settings) error {
		if s.LedgerEpoch != "" {
			if _, err := ParseMonth(s.LedgerEpoch); err != nil {
				return fmt.Errorf("ledger epoch: %w", err)
			}
			return settings.ErrUnchanged
		}
		s.LedgerEpoch = MonthOf(l.now()).String()
		l.logger.Info("ledger initialized", "epoch", s.LedgerEpoch)
		return nil
	})
}

// slot resolves the slot of the current month in s, back-filling missing
// months. It reports whether s was modified.
func (l *Ledger) slot(s *settings.Settings) (index int, changed bool, err error) {
	cur := MonthOf(l.now())
	if s.LedgerEpoch == "" {
		s.LedgerEpoch = cur.String()
		changed = true
	}
	epoch, err := ParseMonth(s.LedgerEpoch)
	if err != nil {
		return 0, false, fmt.Errorf("ledger epoch: %w", err)
	}

	index = MonthsBetween(epoch, cur)
	if index < 0 {
		l.logger.Warn("clock is before the ledger epoch, using the first slot",
			"epoch", epoch.String(), "month", cur.String())
		index = 0
	}

	n := len(s.UsageCost)
	s.UsageCost = Backfill(s.UsageCost, index)
	return index, changed || len(s.UsageCost) != n, nil
}

// Slot returns the index and total of the current month, persisting any
// back-filled months.
func (l *Ledger) Slot(ctx context.Context) (index int, total float64, err error) {
	err = l.settings.Update(ctx, func(s *settings.Settings) error {
		i, changed, err := l.slot(s)
		if err != nil {
			return err
		}
		index, total = i, s.UsageCost[i]
		if !changed {
			return settings.ErrUnchanged
		}
		return nil
	})
	return index, total, err
}

// CurrentTotal returns the cost accumulated in the current month.
func (l *Ledger) CurrentTotal(ctx context.Context) (float64, error) {
	_, total, err := l.Slot(ctx)
	return total, err
}

// Post adds cost to the current month and returns the new month total. The
// back-fill and the addition are saved together.
func (l *Ledger) Post(ctx context.Context, cost float64) (total float64, err error) {
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}
	err = l.settings.Update(ctx, func(s *settings.Settings) error {
		i, changed, err := l.slot(s)
		if err != nil {
			return err
		}
		total = s.UsageCost[i]
		if cost == 0 && !changed {
			return settings.ErrUnchanged
		}
		s.UsageCost[i] += cost
		total = s.UsageCost[i]
		return nil
	})
	return total, err
}

// ParseManualCost parses an administrator-entered cost. Anything that isn't a
// finite non-negative number yields 0.
func ParseManualCost(raw string) float64 {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "$"))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// AddManual posts an administrator-entered cost. Input that parses to zero,
// including invalid and negative input, is dropped without touching the
// ledger; in that case added is 0.
func (l *Ledger) AddManual(ctx context.Context, raw string) (added, total float64, err error) {
	added = ParseManualCost(raw)
	if added == 0 {
		l.logger.Info("ignoring manual cost", "input", raw)
		return 0, 0, nil
	}
	total, err = l.Post(ctx, added)
	if err != nil {
		return 0, 0, err
	}
	return added, total, nil
}

// MonthCost is the cost of one month.
type MonthCost struct {
	Month string  `json:"month"`
	Cost  float64 `json:"cost"`
}

// History returns the cost of every month since the epoch, oldest first.
func (l *Ledger) History() ([]MonthCost, error) {
	s := l.settings.Snapshot()
	if s.LedgerEpoch == "" {
		return nil, nil
	}
	epoch, err := ParseMonth(s.LedgerEpoch)
	if err != nil {
		return nil, fmt.Errorf("ledger epoch: %w", err)
	}
	out := make([]MonthCost, len(s.UsageCost))
	for i, c := range s.UsageCost {
		out[i] = MonthCost{Month: epoch.AddMonths(i).String(), Cost: c}
	}
	return out, nil
}
