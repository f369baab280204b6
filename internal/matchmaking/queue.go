// Package matchmaking holds the shared set of users waiting for a partner.
package matchmaking

import (
	"context"
	"fmt"

	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/storage"
)

// pushBackAttempts bounds retries when returning a popped caller to the set.
const pushBackAttempts = 3

// Queue is the waiting set. A user is only queued while it holds no active
// room; entries leave the set when matched, skipped or disconnected.
type Queue struct {
	kv  storage.KeyValue
	key string
}

func NewQueue(kv storage.KeyValue) *Queue {
	return &Queue{kv: kv, key: config.WaitingUsersKey}
}

// Enqueue adds the user to the waiting set. No-op if already present.
func (q *Queue) Enqueue(ctx context.Context, userID string) error {
	if err := q.kv.SAdd(ctx, q.key, userID); err != nil {
		return fmt.Errorf("matchmaking: enqueue %s: %w", userID, err)
	}
	return nil
}

// Remove drops the user from the waiting set if present.
func (q *Queue) Remove(ctx context.Context, userID string) error {
	if err := q.kv.SRem(ctx, q.key, userID); err != nil {
		return fmt.Errorf("matchmaking: remove %s: %w", userID, err)
	}
	return nil
}

// DequeueAny atomically takes an arbitrary waiting user other than
// excluding. If the pop returns the caller itself, one more pop is tried
// while the caller's entry is out of the set; when that finds nobody the
// caller is put back before returning, so its entry is never lost.
func (q *Queue) DequeueAny(ctx context.Context, excluding string) (string, bool, error) {
	first, ok, err := q.kv.SPop(ctx, q.key)
	if err != nil || !ok {
		return "", false, err
	}
	if first != excluding {
		return first, true, nil
	}

	second, ok, err := q.kv.SPop(ctx, q.key)
	if err == nil && ok {
		return second, true, nil
	}
	if perr := q.pushBack(ctx, excluding); perr != nil {
		return "", false, perr
	}
	return "", false, err
}

func (q *Queue) pushBack(ctx context.Context, userID string) error {
	var err error
	for i := 0; i < pushBackAttempts; i++ {
		if err = q.kv.SAdd(ctx, q.key, userID); err == nil {
			return nil
		}
	}
	return fmt.Errorf("matchmaking: push back %s: %w", userID, err)
}

// MatchOrEnqueue is DequeueAny followed by Enqueue as one atomic store
// operation: either a waiting partner is taken, or the caller is queued.
// Two concurrent callers can therefore never both end up waiting on an
// otherwise empty queue, nor both take the same partner.
func (q *Queue) MatchOrEnqueue(ctx context.Context, userID string) (partner string, matched bool, err error) {
	partner, matched, err = q.kv.SPopOtherOrAdd(ctx, q.key, userID)
	if err != nil {
		return "", false, fmt.Errorf("matchmaking: match %s: %w", userID, err)
	}
	return partner, matched, nil
}

// Contains reports whether the user is waiting.
func (q *Queue) Contains(ctx context.Context, userID string) (bool, error) {
	return q.kv.SIsMember(ctx, q.key, userID)
}

// Waiting lists the users currently queued.
func (q *Queue) Waiting(ctx context.Context) ([]string, error) {
	return q.kv.SMembers(ctx, q.key)
}
