// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store is a key-value store that persists settings records.
type Store interface {
	// Get retrieves a value for a given key.
	// It must return (nil, nil) if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value for a given key.
	Set(ctx context.Context, key string, value []byte) error
	// Close closes the store and releases any resources.
	Close() error
}

// ErrUnknownBackend is returned by [OpenStore] for a DSN with an unsupported
// scheme.
var ErrUnknownBackend = errors.New("unknown settings backend")

// OpenStore opens the store described by dsn:
//
//   - "mem:" keeps values in memory;
//   - "sqlite:<path>" uses a SQLite database at path;
//   - "postgres://..." or "postgresql://..." uses a PostgreSQL database;
//   - "redis://..." or "rediss://..." uses a Redis server;
//   - anything else is a path to a JSON file.
func OpenStore(ctx context.Context, dsn string) (Store, error) {
	scheme, rest, hasScheme := strings.Cut(dsn, ":")
	if !hasScheme || strings.ContainsAny(scheme, `/\.`) || len(scheme) == 1 {
		// Plain path, possibly a Windows drive letter.
		return NewFileStore(dsn)
	}
	switch scheme {
	case "mem":
		return NewMemStore(), nil
	case "sqlite":
		return NewSQLiteStore(ctx, strings.TrimPrefix(rest, "//"))
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, dsn)
	case "redis", "rediss":
		return NewRedisStore(ctx, dsn)
	case "file":
		return NewFileStore(strings.TrimPrefix(rest, "//"))
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownBackend, scheme)
}

// Backend returns the backend name of dsn for logging, without credentials.
func Backend(dsn string) string {
	scheme, _, ok := strings.Cut(dsn, ":")
	if !ok || strings.ContainsAny(scheme, `/\.`) || len(scheme) == 1 || scheme == "file" {
		return "file"
	}
	return scheme
}
