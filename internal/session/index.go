package session

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Getter is the read side of Store used by the index to validate entries.
type Getter interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
}

// Index keeps, per user, a pointer to the current session and the list of
// sessions the user takes part in. Entries pointing at missing or closed
// sessions are filtered out on read.
type Index struct {
	client   *redis.Client
	sessions Getter
	cfg      Config
}

func NewIndex(client *redis.Client, sessions Getter, cfg Config) *Index {
	return &Index{client: client, sessions: sessions, cfg: cfg.withDefaults()}
}

func (ix *Index) SetCurrent(ctx context.Context, userID, sessionID string) error {
	if err := ix.client.Set(ctx, ix.cfg.currentKey(userID), sessionID, ix.cfg.TTL).Err(); err != nil {
		return storageErr("set_current", err)
	}
	return nil
}

// Current returns the user's current session id. A pointer to a session
// that is gone or no longer ACTIVE is removed and reported as ErrNotFound.
func (ix *Index) Current(ctx context.Context, userID string) (string, error) {
	id, err := ix.client.Get(ctx, ix.cfg.currentKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storageErr("get_current", err)
	}

	s, err := ix.sessions.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if s == nil || !s.Active() {
		if err := ix.ClearCurrent(ctx, userID); err != nil {
			return "", err
		}
		return "", ErrNotFound
	}
	return id, nil
}

func (ix *Index) ClearCurrent(ctx context.Context, userID string) error {
	if err := ix.client.Del(ctx, ix.cfg.currentKey(userID)).Err(); err != nil {
		return storageErr("clear_current", err)
	}
	return nil
}

// ClearCurrentIf removes the user's current pointer only when it still
// points at sessionID.
func (ix *Index) ClearCurrentIf(ctx context.Context, userID, sessionID string) error {
	id, err := ix.client.Get(ctx, ix.cfg.currentKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return storageErr("get_current", err)
	}
	if id != sessionID {
		return nil
	}
	return ix.ClearCurrent(ctx, userID)
}

// AddActive appends sessionID to the user's list, dropping any earlier
// occurrence, and refreshes the list expiry.
func (ix *Index) AddActive(ctx context.Context, userID, sessionID string) error {
	key := ix.cfg.activeKey(userID)
	_, err := ix.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, key, 0, sessionID)
		pipe.RPush(ctx, key, sessionID)
		pipe.Expire(ctx, key, ix.cfg.TTL)
		return nil
	})
	if err != nil {
		return storageErr("add_active", err)
	}
	return nil
}

func (ix *Index) RemoveActive(ctx context.Context, userID, sessionID string) error {
	if err := ix.client.LRem(ctx, ix.cfg.activeKey(userID), 0, sessionID).Err(); err != nil {
		return storageErr("remove_active", err)
	}
	return nil
}

// ListActive returns the ids of the user's ACTIVE sessions in insertion order.
func (ix *Index) ListActive(ctx context.Context, userID string) ([]string, error) {
	sessions, err := ix.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// ActiveSessions is ListActive returning the loaded records.
func (ix *Index) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := ix.client.LRange(ctx, ix.cfg.activeKey(userID), 0, -1).Result()
	if err != nil {
		return nil, storageErr("list_active", err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := ix.sessions.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.Active() {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}
