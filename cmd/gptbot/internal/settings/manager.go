// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultName is the key the settings record is stored under.
const DefaultName = "gptbot.settings"

// ErrUnchanged can be returned by an [Manager.Update] callback to report that
// it didn't modify the record, so nothing needs to be saved.
var ErrUnchanged = errors.New("settings unchanged")

// Manager owns the settings record of a deployment. Every mutation goes
// through [Manager.Update], which persists the record before making it visible.
type Manager struct {
	store  Store
	name   string
	logger *slog.Logger

	mu  sync.Mutex
	cur *Settings
}

// Open loads the record stored under name, or initializes and saves a default
// one if there is none.
func Open(ctx context.Context, store Store, name string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{store: store, name: name, logger: logger}

	b, err := store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading settings %q: %w", name, err)
	}
	if b == nil {
		logger.Info("initializing settings", "name", name)
		m.cur = Default()
		if err := m.save(ctx, m.cur); err != nil {
			return nil, err
		}
		return m, nil
	}

	s := Default()
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("parsing settings %q: %w", name, err)
	}
	s.Normalize()
	m.cur = s
	logger.Debug("loaded settings", "name", name,
		"whitelisted", len(s.WhitelistedIDs),
		"blacklisted", len(s.BlacklistedIDs),
		"ledger_months", len(s.UsageCost),
	)
	return m, nil
}

// Snapshot returns a copy of the current record.
func (m *Manager) Snapshot() *Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.Clone()
}

// Update calls fn with a copy of the current record and saves the result.
// The new record replaces the current one only if fn and the save both
// succeed. Updates are serialized, so fn observes the effects of all earlier
// updates.
func (m *Manager) Update(ctx context.Context, fn func(*Settings) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}
	if err := m.save(ctx, next); err != nil {
		return err
	}
	m.cur = next
	return nil
}

// SeedWhitelist whitelists id unless it already is. It reports whether the
// record changed.
func (m *Manager) SeedWhitelist(ctx context.Context, id int64) (bool, error) {
	var changed bool
	err := m.Update(ctx, func(s *Settings) error {
		if s.IsWhitelisted(id) {
			return ErrUnchanged
		}
		changed = s.AddWhitelisted(id)
		return nil
	})
	return changed, err
}

// Ping checks that the underlying store is reachable, if it can tell.
func (m *Manager) Ping(ctx context.Context) error {
	if p, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (m *Manager) save(ctx context.Context, s *Settings) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, m.name, b); err != nil {
		return fmt.Errorf("saving settings %q: %w", m.name, err)
	}
	return nil
}
