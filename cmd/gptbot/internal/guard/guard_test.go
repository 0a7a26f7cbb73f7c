// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package guard

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"go.astrophena.name/gptbot/cmd/gptbot/internal/settings"
	"go.astrophena.name/gptbot/internal/testutil"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const secret = "hunter2"

type countingStore struct {
	*settings.MemStore
	sets atomic.Int32
	fail atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (s *countingStore) Set(ctx context.Context, key string, value []byte) error {
	if s.fail.Load() {
		return errDiskFull
	}
	s.sets.Add(1)
	return s.MemStore.Set(ctx, key, value)
}

func newTestGuard(t *testing.T, password string, seed func(*settings.Settings)) (*Guard, *settings.Manager, *countingStore) {
	t.Helper()
	store := &countingStore{MemStore: settings.NewMemStore()}
	m, err := settings.Open(context.Background(), store, settings.DefaultName, nil)
	if err != nil {
		t.Fatal(err)
	}
	if seed != nil {
		if err := m.Update(context.Background(), func(s *settings.Settings) error {
			seed(s)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	store.sets.Store(0)
	return New(Config{Settings: m, Password: password}), m, store
}

func text(userID int64, s string) Request {
	return Request{UserID: userID, FirstName: "Ann", Text: s, HasText: true}
}

func check(t *testing.T, g *Guard, req Request) Decision {
	t.Helper()
	d, err := g.Check(t.Context(), req)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestBlacklistedIsRejectedSilently(t *testing.T) {
	t.Parallel()

	g, m, store := newTestGuard(t, secret, func(s *settings.Settings) { s.AddBlacklisted(1) })
	for _, s := range []string{"hello", "/password " + secret, "/start", ""} {
		d := check(t, g, text(1, s))
		testutil.AssertEqual(t, d, Decision{Verdict: Reject, Reason: Blacklisted})
	}
	testutil.AssertEqual(t, g.Attempts(1), 0)
	testutil.AssertEqual(t, store.sets.Load(), int32(0))
	testutil.AssertEqual(t, m.Snapshot().BlacklistedIDs, []int64{1})
}

func TestWhitelistedIsAllowed(t *testing.T) {
	t.Parallel()

	g, _, store := newTestGuard(t, secret, func(s *settings.Settings) { s.AddWhitelisted(7) })
	d := check(t, g, text(7, "hello"))
	testutil.AssertEqual(t, d, Decision{Verdict: Allow, Reason: Whitelisted})
	d = check(t, g, Request{UserID: 7})
	testutil.AssertEqual(t, d.Verdict, Allow)
	testutil.AssertEqual(t, store.sets.Load(), int32(0))
}

func TestPasswordAccepted(t *testing.T) {
	t.Parallel()

	g, m, store := newTestGuard(t, secret, nil)

	// Two failures first; the counter doesn't get in the way.
	check(t, g, text(3, "hello"))
	check(t, g, text(3, "/password wrong"))

	d := check(t, g, Request{UserID: 3, FirstName: "Bob", Text: "/password " + secret, HasText: true})
	testutil.AssertEqual(t, d, Decision{
		Verdict:       Halt,
		Reason:        PasswordAccepted,
		Notice:        "Welcome Bob! Your user_id 3 has been whitelisted.",
		DeleteTrigger: true,
	})
	testutil.AssertEqual(t, m.Snapshot().WhitelistedIDs, []int64{3})
	testutil.AssertEqual(t, store.sets.Load(), int32(1))

	d = check(t, g, text(3, "hello"))
	testutil.AssertEqual(t, d.Verdict, Allow)
}

func TestRetryThenBlock(t *testing.T) {
	t.Parallel()

	g, m, _ := newTestGuard(t, secret, nil)

	wantNotices := []string{
		"This is a private bot. Please enter the correct password! You have 5 attempts left.",
		"This is a private bot. Please enter the correct password! You have 4 attempts left.",
		"This is a private bot. Please enter the correct password! You have 3 attempts left.",
		"This is a private bot. Please enter the correct password! You have 2 attempts left.",
		"This is a private bot. Please enter the correct password! You have 1 attempt left.",
	}
	for i, want := range wantNotices {
		d := check(t, g, text(9, fmt.Sprintf("try %d", i)))
		testutil.AssertEqual(t, d, Decision{Verdict: Reject, Reason: PasswordRejected, Notice: want})
		testutil.AssertEqual(t, g.Attempts(9), i+1)
		testutil.AssertEqual(t, m.Snapshot().IsBlacklisted(9), false)
	}

	// The correct password is too late now.
	d := check(t, g, text(9, "/password "+secret))
	testutil.AssertEqual(t, d, Decision{
		Verdict: Reject,
		Reason:  Blocked,
		Notice:  "🛑 You have been permanently blocked by this bot. 🛑",
	})
	testutil.AssertEqual(t, g.Attempts(9), MaxAttempts+1)
	testutil.AssertEqual(t, m.Snapshot().BlacklistedIDs, []int64{9})

	d = check(t, g, text(9, "/password "+secret))
	testutil.AssertEqual(t, d, Decision{Verdict: Reject, Reason: Blacklisted})
}

func TestExhaustedWhenBlacklistNotSaved(t *testing.T) {
	t.Parallel()

	g, m, store := newTestGuard(t, secret, nil)
	for range MaxAttempts {
		check(t, g, text(4, "nope"))
	}

	store.fail.Store(true)
	d, err := g.Check(t.Context(), text(4, "nope"))
	testutil.AssertErrorIs(t, err, errDiskFull)
	testutil.AssertEqual(t, d.Reason, Blocked)
	testutil.AssertEqual(t, m.Snapshot().IsBlacklisted(4), false)

	d = check(t, g, text(4, "/password "+secret))
	testutil.AssertEqual(t, d, Decision{Verdict: Reject, Reason: Exhausted})
}

func TestPasswordAcceptedButNotSaved(t *testing.T) {
	t.Parallel()

	g, m, store := newTestGuard(t, secret, nil)
	check(t, g, text(3, "hello"))

	store.fail.Store(true)
	d, err := g.Check(t.Context(), text(3, "/password "+secret))
	testutil.AssertErrorIs(t, err, errDiskFull)
	testutil.AssertEqual(t, d, Decision{Verdict: Reject, Reason: NotSaved, Notice: NotSavedNotice})
	testutil.AssertEqual(t, m.Snapshot().IsWhitelisted(3), false)
	testutil.AssertEqual(t, g.Attempts(3), 1)

	// Once the store recovers, the same password works.
	store.fail.Store(false)
	d = check(t, g, text(3, "/password "+secret))
	testutil.AssertEqual(t, d.Reason, PasswordAccepted)
	testutil.AssertEqual(t, m.Snapshot().WhitelistedIDs, []int64{3})
}

func TestPasswordMatching(t *testing.T) {
	t.Parallel()

	cases := []struct {
		password string
		req      Request
		want     Reason
	}{
		{secret, text(1, "/password "+secret), PasswordAccepted},
		{secret, text(1, "please /password "+secret), PasswordAccepted},
		{secret, text(1, "/password "+secret+" "), PasswordRejected},
		{secret, text(1, "/password  "+secret), PasswordRejected},
		{secret, text(1, "/password"+secret), PasswordRejected},
		{secret, text(1, "/password "+secret+"/password x"), PasswordAccepted},
		{secret, text(1, "/password HUNTER2"), PasswordRejected},
		{secret, Request{UserID: 1, Text: "/password " + secret}, PasswordRejected},
		{"", text(1, "/password "), PasswordRejected},
		{"", text(1, "/password"), PasswordRejected},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q/%q", tc.password, tc.req.Text), func(t *testing.T) {
			g, _, _ := newTestGuard(t, tc.password, nil)
			d := check(t, g, tc.req)
			testutil.AssertEqual(t, d.Reason, tc.want)
		})
	}
}

func TestGuardProperties(t *testing.T) {
	t.Parallel()

	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("blacklisted users never pass nor change state", prop.ForAll(
		func(id int64, msg string, hasText bool) bool {
			g, m, store := newTestGuard(t, secret, func(s *settings.Settings) { s.AddBlacklisted(id) })
			d, err := g.Check(context.Background(), Request{UserID: id, Text: msg, HasText: hasText})
			return err == nil &&
				d == Decision{Verdict: Reject, Reason: Blacklisted} &&
				store.sets.Load() == 0 &&
				g.Attempts(id) == 0 &&
				!m.Snapshot().IsWhitelisted(id)
		},
		gen.Int64(), gen.AnyString(), gen.Bool(),
	))

	properties.Property("exactly MaxAttempts+1 failures blacklist", prop.ForAll(
		func(id int64, msgs []string) bool {
			g, m, _ := newTestGuard(t, secret, nil)
			for i := range MaxAttempts + 1 {
				msg := "wrong"
				if i < len(msgs) {
					msg = msgs[i]
				}
				if m.Snapshot().IsBlacklisted(id) {
					return false
				}
				d, err := g.Check(context.Background(), text(id, msg))
				if err != nil || d.Verdict != Reject {
					return false
				}
				wantBlocked := i == MaxAttempts
				if (d.Reason == Blocked) != wantBlocked {
					return false
				}
			}
			return m.Snapshot().IsBlacklisted(id) && !m.Snapshot().IsWhitelisted(id)
		},
		gen.Int64(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("correct password before the limit whitelists and halts", prop.ForAll(
		func(id int64, failures int) bool {
			g, m, _ := newTestGuard(t, secret, nil)
			for range failures {
				g.Check(context.Background(), text(id, "wrong"))
			}
			d, err := g.Check(context.Background(), text(id, "/password "+secret))
			return err == nil &&
				d.Verdict == Halt &&
				d.DeleteTrigger &&
				m.Snapshot().IsWhitelisted(id) &&
				!m.Snapshot().IsBlacklisted(id)
		},
		gen.Int64(), gen.IntRange(0, MaxAttempts-1),
	))

	properties.TestingRun(t)
}
