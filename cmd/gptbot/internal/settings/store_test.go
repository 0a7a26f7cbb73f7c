// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.astrophena.name/gptbot/internal/testutil"

	"github.com/alicebob/miniredis/v2"
)

func TestMemStore(t *testing.T) {
	t.Parallel()
	testStore(t, NewMemStore())
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "settings.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)

	// A fresh store sees what the previous one wrote.
	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	v, err := reopened.Get(t.Context(), "key1")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(v), `{"a":1}`)

	if err := s.Set(t.Context(), "bad", []byte("{not json")); err == nil {
		t.Fatal("Set accepted invalid JSON")
	}
}

func TestFileStoreCorrupted(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Fatal("NewFileStore accepted a corrupted file")
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.db")
	s, err := NewSQLiteStore(t.Context(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStore(t, s)
	if err := s.Ping(t.Context()); err != nil {
		t.Fatal(err)
	}
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s, err := NewRedisStore(t.Context(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStore(t, s)

	if !mr.Exists(redisKeyPrefix + "key1") {
		t.Fatalf("key %q not found in Redis", redisKeyPrefix+"key1")
	}
	testutil.AssertEqual(t, mr.TTL(redisKeyPrefix+"key1").Seconds(), float64(0))
}

func TestPostgresStore(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.pool.Exec(ctx, "DELETE FROM settings"); err != nil {
		t.Fatal(err)
	}

	testStore(t, s)
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := t.Context()

	if err := s.Set(ctx, "key1", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "key2", []byte(`[1,2,3]`)); err != nil {
		t.Fatal(err)
	}

	v, err := s.Get(ctx, "key1")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(v), `{"a":1}`)

	// Overwrite.
	if err := s.Set(ctx, "key2", []byte(`[4]`)); err != nil {
		t.Fatal(err)
	}
	v, err = s.Get(ctx, "key2")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(v), `[4]`)

	v, err = s.Get(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatalf("Get(missing) = %q, want nil", v)
	}
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cases := map[string]struct {
		dsn     string
		want    string
		wantErr error
	}{
		"mem":         {dsn: "mem:", want: "*settings.MemStore"},
		"file":        {dsn: filepath.Join(dir, "a.json"), want: "*settings.FileStore"},
		"file scheme": {dsn: "file://" + filepath.Join(dir, "b.json"), want: "*settings.FileStore"},
		"sqlite":      {dsn: "sqlite:" + filepath.Join(dir, "c.db"), want: "*settings.SQLiteStore"},
		"unknown":     {dsn: "etcd://localhost:2379", wantErr: ErrUnknownBackend},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := OpenStore(t.Context(), tc.dsn)
			if tc.wantErr != nil {
				testutil.AssertErrorIs(t, err, tc.wantErr)
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()
			testutil.AssertEqual(t, typeName(s), tc.want)
		})
	}
}

func TestBackend(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"/var/lib/gptbot/settings.json":      "file",
		"settings.json":                      "file",
		"file:///tmp/settings.json":          "file",
		"sqlite:/var/lib/gptbot/settings.db": "sqlite",
		"postgres://user:secret@db/gptbot":   "postgres",
		"redis://:secret@localhost:6379/0":   "redis",
		"mem:":                               "mem",
	}
	for dsn, want := range cases {
		testutil.AssertEqual(t, Backend(dsn), want)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *MemStore:
		return "*settings.MemStore"
	case *FileStore:
		return "*settings.FileStore"
	case *SQLiteStore:
		return "*settings.SQLiteStore"
	case *RedisStore:
		return "*settings.RedisStore"
	case *PostgresStore:
		return "*settings.PostgresStore"
	}
	return "unknown"
}
