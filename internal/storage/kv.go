package storage

import (
	"context"
	"time"
)

// KeyValue is the shared key-value capability set used for ephemeral state
// (presence and the waiting queue). It is backed by Redis in production and
// by MemoryKV in tests.
type KeyValue interface {
	// Get returns the value stored at key. ok is false if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// SetEx stores value at key. A zero ttl means no expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	// SPop removes and returns a random member. ok is false if the set is empty.
	SPop(ctx context.Context, key string) (member string, ok bool, err error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// SPopOtherOrAdd atomically removes and returns a random member different
	// from member. If there is none, member is added to the set and ok is false.
	SPopOtherOrAdd(ctx context.Context, key, member string) (other string, ok bool, err error)

	// ReleaseIfOwner atomically deletes key and removes member from setKey,
	// provided key is absent or still holds owner. It reports whether the
	// release happened.
	ReleaseIfOwner(ctx context.Context, key, owner, setKey, member string) (bool, error)
}
