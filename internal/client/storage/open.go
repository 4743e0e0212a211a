package storage

import (
	"context"
	"fmt"

	"github.com/atinyakov/koracockpit/internal/db"
	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Path      string
	RedisAddr string
	DSN       string
	Profile   string
}

// Open builds the configured backend. The returned close func releases
// any connection held by the backend.
func Open(ctx context.Context, opts Options) (Storage, func() error, error) {
	noop := func() error { return nil }

	switch opts.Backend {
	case "", BackendFile:
		fs, err := OpenFile(opts.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, noop, nil
	case BackendMemory:
		return NewMemory(nil), noop, nil
	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedis(rdb, opts.Profile), rdb.Close, nil
	case BackendPostgres:
		conn, err := db.InitPostgres(opts.DSN)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgres(conn, opts.Profile), conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
