// Package redis provides Redis implementations of the storage ports.
//
// The ledger keeps one hash per entry plus one set per identity key that
// lists the entries carrying it:
//
//	{prefix}entry:{id}      device_id, ip, user_id, updated_at, records
//	{prefix}user:{userID}   entry ids
//	{prefix}device:{id}     entry ids
//	{prefix}ip:{addr}       entry ids
//	{prefix}entries         zset of entry ids scored by updated_at
//
// Every ledger operation runs as one Lua script so lookup, admission and
// append happen atomically on the server. Entry keys are derived inside the
// script, so the store targets a single Redis node rather than a cluster.
package redis

import (
	"context"
	_ "embed"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed ledger.lua
var ledgerLua string

var ledgerScript = redis.NewScript(ledgerLua)

// DefaultPrefix namespaces every key written by the stores.
const DefaultPrefix = "xancrypt:"

type options struct {
	prefix  string
	timeout time.Duration
}

// Option configures a store.
type Option func(*options)

// WithPrefix sets the key prefix (default "xancrypt:").
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout bounds every Redis round trip (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func newOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Connect parses a redis:// URL, opens a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
