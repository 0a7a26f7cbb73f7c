// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package settings

import (
	"context"
	"errors"
	"testing"

	"go.astrophena.name/gptbot/internal/testutil"
)

func TestOpenInitializes(t *testing.T) {
	t.Parallel()

	store := NewMemStore()
	m, err := Open(t.Context(), store, DefaultName, nil)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, m.Snapshot(), Default())

	b, err := store.Get(t.Context(), DefaultName)
	if err != nil {
		t.Fatal(err)
	}
	if b == nil {
		t.Fatal("default settings weren't saved")
	}
}

func TestOpenLoadsExisting(t *testing.T) {
	t.Parallel()

	store := NewMemStore()
	store.Set(t.Context(), "custom", []byte(`{
		"language": "de",
		"speed": 1.5,
		"whitelisted_ids": [1, 1, 2],
		"blacklisted_ids": [3],
		"usage_cost": [0.5, 1.25],
		"ledger_epoch": "2024-01"
	}`))

	m, err := Open(t.Context(), store, "custom", nil)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, m.Snapshot(), &Settings{
		Language:       "de",
		Speed:          1.5,
		WhitelistedIDs: []int64{1, 2},
		BlacklistedIDs: []int64{3},
		UsageCost:      []float64{0.5, 1.25},
		LedgerEpoch:    "2024-01",
	})
}

func TestOpenLoadsOlderRecord(t *testing.T) {
	t.Parallel()

	// Records written before the ledger existed lack cost fields.
	store := NewMemStore()
	store.Set(t.Context(), DefaultName, []byte(`{"language":"auto","speed":1.0,"whitelisted_ids":[7],"blacklisted_ids":[]}`))

	m, err := Open(t.Context(), store, DefaultName, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := m.Snapshot()
	testutil.AssertEqual(t, s.Speed, 1.0)
	testutil.AssertEqual(t, s.WhitelistedIDs, []int64{7})
	testutil.AssertEqual(t, len(s.UsageCost), 0)
	testutil.AssertEqual(t, s.LedgerEpoch, "")
}

type failingStore struct {
	*MemStore
	fail bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if s.fail {
		return errDiskFull
	}
	return s.MemStore.Set(ctx, key, value)
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	store := &failingStore{MemStore: NewMemStore()}
	m, err := Open(t.Context(), store, DefaultName, nil)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("commits on success", func(t *testing.T) {
		if err := m.Update(t.Context(), func(s *Settings) error {
			s.Language = "fr"
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, m.Snapshot().Language, "fr")

		// And it's persisted.
		m2, err := Open(t.Context(), store, DefaultName, nil)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, m2.Snapshot().Language, "fr")
	})

	t.Run("rolls back when save fails", func(t *testing.T) {
		store.fail = true
		defer func() { store.fail = false }()

		err := m.Update(t.Context(), func(s *Settings) error {
			s.Language = "es"
			s.AddBlacklisted(42)
			return nil
		})
		testutil.AssertErrorIs(t, err, errDiskFull)
		got := m.Snapshot()
		testutil.AssertEqual(t, got.Language, "fr")
		testutil.AssertEqual(t, got.IsBlacklisted(42), false)
	})

	t.Run("callback error discards changes", func(t *testing.T) {
		wantErr := errors.New("nope")
		err := m.Update(t.Context(), func(s *Settings) error {
			s.Language = "it"
			return wantErr
		})
		testutil.AssertErrorIs(t, err, wantErr)
		testutil.AssertEqual(t, m.Snapshot().Language, "fr")
	})

	t.Run("unchanged skips save", func(t *testing.T) {
		store.fail = true
		defer func() { store.fail = false }()

		err := m.Update(t.Context(), func(*Settings) error { return ErrUnchanged })
		if err != nil {
			t.Fatalf("Update returned %v, want nil", err)
		}
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		s := m.Snapshot()
		s.Language = "xx"
		testutil.AssertEqual(t, m.Snapshot().Language, "fr")
	})
}

func TestSeedWhitelist(t *testing.T) {
	t.Parallel()

	m, err := Open(t.Context(), NewMemStore(), DefaultName, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()
	if err := m.Update(ctx, func(s *Settings) error {
		s.AddBlacklisted(100)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	for i, want := range []bool{true, false, false} {
		changed, err := m.SeedWhitelist(ctx, 100)
		if err != nil {
			t.Fatal(err)
		}
		if changed != want {
			t.Errorf("SeedWhitelist call %d changed = %v, want %v", i, changed, want)
		}
	}

	s := m.Snapshot()
	testutil.AssertEqual(t, s.WhitelistedIDs, []int64{100})
	testutil.AssertEqual(t, s.IsBlacklisted(100), false)
}
