package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/susu3304/anonchat/internal/metrics"
)

const DefaultTTL = 7 * 24 * time.Hour

// Config carries the key namespace and expiry shared by the store and the
// per-user index.
type Config struct {
	Namespace string
	TTL       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "anonchat"
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	return c
}

func (c Config) sessionKey(id string) string   { return c.Namespace + ":session:" + id }
// orderKey points at the newest session for one pair on an order. The pair
// is sorted so both participant orders share the key.
func (c Config) orderKey(orderID, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return c.Namespace + ":order:" + orderID + ":" + a + ":" + b
}
func (c Config) currentKey(userID string) string {
	return c.Namespace + ":user:current:" + userID
}
func (c Config) activeKey(userID string) string {
	return c.Namespace + ":user:active:" + userID
}

// Store persists sessions. Save is a versioned write: it succeeds only when
// the stored version still equals the record's version.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, s *Session) (*Session, error)
	FindByOrder(ctx context.Context, orderID, participantA, participantB string) (*Session, error)
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type RedisStore struct {
	client *redis.Client
	cfg    Config
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, cfg Config) *RedisStore {
	return &RedisStore{client: client, cfg: cfg.withDefaults()}
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}
	return r.load(ctx, r.client, r.cfg.sessionKey(sessionID))
}

// FindByOrder returns the latest session between the pair on orderID.
func (r *RedisStore) FindByOrder(ctx context.Context, orderID, participantA, participantB string) (*Session, error) {
	if orderID == "" {
		return nil, ErrNotFound
	}
	id, err := r.client.Get(ctx, r.cfg.orderKey(orderID, participantA, participantB)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("find_by_order", err)
	}
	return r.Get(ctx, id)
}

// Save writes s and returns the stored copy with its version advanced.
// A zero version marks a new record. A new record for an order that already
// has an ACTIVE session between the same pair is rejected with ErrConflict.
// Other pairs on the same order are tracked independently.
func (r *RedisStore) Save(ctx context.Context, s *Session) (*Session, error) {
	if s == nil || s.ID == "" {
		return nil, fmt.Errorf("session: missing session_id")
	}

	next := s.Clone()
	next.Version = s.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return nil, storageErr("encode", err)
	}

	key := r.cfg.sessionKey(s.ID)
	orderKey := r.cfg.orderKey(s.OrderID, s.ParticipantA, s.ParticipantB)
	keys := []string{key}
	if s.OrderID != "" {
		keys = append(keys, orderKey)
	}

	txf := func(tx *redis.Tx) error {
		current, err := r.load(ctx, tx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			if s.Version != 0 {
				return ErrNotFound
			}
		case err != nil:
			return err
		case current.Version != s.Version:
			return ErrConflict
		}

		if s.Version == 0 && s.OrderID != "" {
			if err := r.checkOrderFree(ctx, tx, orderKey, s); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.cfg.TTL)
			if s.OrderID != "" {
				pipe.Set(ctx, orderKey, s.ID, r.cfg.TTL)
			}
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txf, keys...)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrConflict):
		metrics.StoreConflicts.Inc()
		return nil, ErrConflict
	case errors.Is(err, ErrNotFound), IsStorage(err):
		return nil, err
	default:
		return nil, storageErr("save", err)
	}
}

// checkOrderFree rejects a new session when the pair already has an ACTIVE
// one on the order. The existing record is watched so a concurrent close or
// expiry aborts the transaction instead of being missed.
func (r *RedisStore) checkOrderFree(ctx context.Context, tx *redis.Tx, orderKey string, s *Session) error {
	existingID, err := tx.Get(ctx, orderKey).Result()
	if errors.Is(err, redis.Nil) || existingID == s.ID {
		return nil
	}
	if err != nil {
		return storageErr("find_by_order", err)
	}
	existingKey := r.cfg.sessionKey(existingID)
	if err := tx.Watch(ctx, existingKey).Err(); err != nil {
		return storageErr("watch", err)
	}
	existing, err := r.load(ctx, tx, existingKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Active() && existing.SamePair(s.ParticipantA, s.ParticipantB) {
		return ErrConflict
	}
	return nil
}

func (r *RedisStore) load(ctx context.Context, c stringGetter, key string) (*Session, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, storageErr("decode", err)
	}
	return &s, nil
}

func storageErr(op string, err error) error {
	metrics.StorageErrors.WithLabelValues(op).Inc()
	return &StorageError{Op: op, Err: err}
}
