// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package settings holds the persisted gptbot settings record and the stores
// it can be kept in.
package settings

import (
	"slices"
)

// Defaults for a freshly initialized record.
const (
	DefaultLanguage = "auto"
	DefaultSpeed    = 1.2
)

// Settings is the single settings record of a gptbot deployment.
type Settings struct {
	// Language is the transcription language code, or "auto".
	Language string `json:"language"`
	// Speed is the tempo multiplier applied to audio before transcription.
	Speed float64 `json:"speed"`
	// WhitelistedIDs are users allowed to talk to the bot, in the order they
	// were added.
	WhitelistedIDs []int64 `json:"whitelisted_ids"`
	// BlacklistedIDs are users permanently blocked, in the order they were
	// added.
	BlacklistedIDs []int64 `json:"blacklisted_ids"`
	// UsageCost holds the accumulated cost per month. Index 0 is LedgerEpoch.
	UsageCost []float64 `json:"usage_cost"`
	// LedgerEpoch is the month of UsageCost[0] formatted as "2006-01". It is
	// set once and never changed.
	LedgerEpoch string `json:"ledger_epoch,omitempty"`
}

// Default returns a record with default values.
func Default() *Settings {
	return &Settings{
		Language: DefaultLanguage,
		Speed:    DefaultSpeed,
	}
}

// Clone returns a deep copy of s.
func (s *Settings) Clone() *Settings {
	c := *s
	c.WhitelistedIDs = slices.Clone(s.WhitelistedIDs)
	c.BlacklistedIDs = slices.Clone(s.BlacklistedIDs)
	c.UsageCost = slices.Clone(s.UsageCost)
	return &c
}

// Normalize repairs a record loaded from storage: it fills in missing
// defaults, removes duplicate IDs keeping the first occurrence, drops
// whitelisted IDs that are also blacklisted, and replaces negative costs with
// zero.
func (s *Settings) Normalize() {
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	if s.Speed <= 0 {
		s.Speed = DefaultSpeed
	}
	s.WhitelistedIDs = dedup(s.WhitelistedIDs)
	s.BlacklistedIDs = dedup(s.BlacklistedIDs)
	s.WhitelistedIDs = slices.DeleteFunc(s.WhitelistedIDs, s.IsBlacklisted)
	for i, c := range s.UsageCost {
		if c < 0 {
			s.UsageCost[i] = 0
		}
	}
}

func dedup(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	return slices.DeleteFunc(ids, func(id int64) bool {
		if seen[id] {
			return true
		}
		seen[id] = true
		return false
	})
}

// IsWhitelisted reports whether id is whitelisted.
func (s *Settings) IsWhitelisted(id int64) bool { return slices.Contains(s.WhitelistedIDs, id) }

// IsBlacklisted reports whether id is blacklisted.
func (s *Settings) IsBlacklisted(id int64) bool { return slices.Contains(s.BlacklistedIDs, id) }

// AddWhitelisted appends id to the whitelist and removes it from the
// blacklist. It reports whether the record changed.
func (s *Settings) AddWhitelisted(id int64) bool {
	return add(&s.WhitelistedIDs, &s.BlacklistedIDs, id)
}

// AddBlacklisted appends id to the blacklist and removes it from the
// whitelist. It reports whether the record changed.
func (s *Settings) AddBlacklisted(id int64) bool {
	return add(&s.BlacklistedIDs, &s.WhitelistedIDs, id)
}

func add(to, from *[]int64, id int64) bool {
	changed := false
	if i := slices.Index(*from, id); i >= 0 {
		*from = slices.Delete(*from, i, i+1)
		changed = true
	}
	if !slices.Contains(*to, id) {
		*to = append(*to, id)
		changed = true
	}
	return changed
}
