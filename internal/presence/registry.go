// Package presence maps users to their live connection handles through the
// shared key-value store, so every service instance sees the same view.
package presence

import (
	"context"
	"fmt"
	"time"

	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/storage"
)

// Registry owns the presence entries: user:<id> -> connection handle,
// socket:<conn> -> user id, and membership in the online set.
type Registry struct {
	kv  storage.KeyValue
	ttl time.Duration
}

// NewRegistry creates a Registry. ttl bounds how long an entry survives
// without being re-registered; zero keeps entries until Unregister.
func NewRegistry(kv storage.KeyValue, ttl time.Duration) *Registry {
	return &Registry{kv: kv, ttl: ttl}
}

func userKey(userID string) string   { return config.UserKeyPrefix + userID }
func socketKey(connID string) string { return config.SocketKeyPrefix + connID }

// RegisterConnection records the mapping in both directions and marks the
// user online. Re-registering overwrites the previous handle.
func (r *Registry) RegisterConnection(ctx context.Context, userID, connID string) error {
	if err := r.kv.SetEx(ctx, socketKey(connID), userID, r.ttl); err != nil {
		return fmt.Errorf("presence: set socket entry: %w", err)
	}
	if err := r.kv.SetEx(ctx, userKey(userID), connID, r.ttl); err != nil {
		return fmt.Errorf("presence: set user entry: %w", err)
	}
	if err := r.kv.SAdd(ctx, config.OnlineUsersKey, userID); err != nil {
		return fmt.Errorf("presence: add online: %w", err)
	}
	return nil
}

// LookupConnection returns the live connection handle of a user.
// ok is false when the user has no registered connection.
func (r *Registry) LookupConnection(ctx context.Context, userID string) (connID string, ok bool, err error) {
	if userID == "" {
		return "", false, nil
	}
	return r.kv.Get(ctx, userKey(userID))
}

// LookupUser returns the user that owns a connection handle.
func (r *Registry) LookupUser(ctx context.Context, connID string) (userID string, ok bool, err error) {
	if connID == "" {
		return "", false, nil
	}
	return r.kv.Get(ctx, socketKey(connID))
}

// Unregister removes the presence entries of a connection. Missing entries
// are not an error. The user entry and online membership are only dropped
// while they still belong to connID, so cleanup of a replaced connection
// leaves the newer one registered.
func (r *Registry) Unregister(ctx context.Context, userID, connID string) error {
	if err := r.kv.Del(ctx, socketKey(connID)); err != nil {
		return fmt.Errorf("presence: delete socket entry: %w", err)
	}

	if _, err := r.kv.ReleaseIfOwner(ctx, userKey(userID), connID, config.OnlineUsersKey, userID); err != nil {
		return fmt.Errorf("presence: release user entry: %w", err)
	}
	return nil
}

// Online reports whether the user is in the online set.
func (r *Registry) Online(ctx context.Context, userID string) (bool, error) {
	return r.kv.SIsMember(ctx, config.OnlineUsersKey, userID)
}

// OnlineUsers lists every user in the online set.
func (r *Registry) OnlineUsers(ctx context.Context) ([]string, error) {
	return r.kv.SMembers(ctx, config.OnlineUsersKey)
}
