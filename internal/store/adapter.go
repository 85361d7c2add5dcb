package store

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
)

// Persisted keys.
const (
	KeyTokens      = "tokens"
	KeyUser        = "user"
	KeyCredentials = "credentials"
	KeyFriendList  = "friendList"
)

// MessagesKey is the key of one conversation's history.
func MessagesKey(id model.ID) string {
	return "messages_" + string(id)
}

// KV is the JSON key-value view over DB used by the rest of the core.
// Its methods never return errors: failures are logged and counted, and a
// failed read reports false so callers keep their empty defaults.
type KV struct {
	db      *DB
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewKV creates a KV over db.
func NewKV(db *DB, log *zap.Logger, m *metrics.Metrics) *KV {
	if log == nil {
		log = zap.NewNop()
	}
	return &KV{db: db, log: log, metrics: m}
}

// Save stores v as JSON under key.
func (kv *KV) Save(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		kv.fail("encode", key, err)
		return
	}
	if err := kv.db.Put(context.Background(), key, string(data)); err != nil {
		kv.fail("save", key, err)
	}
}

// Load decodes the value under key into v. It reports false when the key is
// missing or unreadable; callers then keep their own defaults.
func (kv *KV) Load(key string, v any) bool {
	raw, ok, err := kv.db.Get(context.Background(), key)
	if err != nil {
		kv.fail("load", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		kv.fail("decode", key, err)
		return false
	}
	return true
}

// Delete removes keys.
func (kv *KV) Delete(keys ...string) {
	if err := kv.db.Delete(context.Background(), keys...); err != nil {
		kv.fail("delete", "", err)
	}
}

func (kv *KV) fail(op, key string, err error) {
	kv.metrics.PersistError(op)
	kv.log.Warn("persistence failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
}
