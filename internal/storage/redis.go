package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"l9alerts/internal/event"
	logx "l9alerts/pkg/logx"
)

// redisStore keys, all under KeyPrefix:
//   - events             JSON array
//   - settings           hash {reminder_channel_id, mention_role_id}
//   - audit              list, newest first, capped at AuditMax
//   - dedup:<key>        unix milli, expiring at the mark
type redisStore struct {
	client   *redis.Client
	prefix   string
	auditMax int64
	log      logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.RedisURL)
	if url == "" {
		return nil, errors.New("storage.redis_url is required for redis")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "l9alerts:"
	}
	auditMax := cfg.AuditMax
	if auditMax <= 0 {
		auditMax = 5000
	}
	return &redisStore{client: client, prefix: prefix, auditMax: int64(auditMax), log: log}, nil
}

func (s *redisStore) key(parts ...string) string { return s.prefix + strings.Join(parts, ":") }

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) LoadEvents(ctx context.Context) ([]event.Definition, bool, error) {
	b, err := s.client.Get(ctx, s.key("events")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var evs []event.Definition
	if err := json.Unmarshal(b, &evs); err != nil {
		return nil, false, err
	}
	return evs, true, nil
}

func (s *redisStore) SaveEvents(ctx context.Context, evs []event.Definition) error {
	b, err := json.Marshal(evs)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("events"), b, 0).Err()
}

func (s *redisStore) LoadSettings(ctx context.Context) (Settings, error) {
	m, err := s.client.HGetAll(ctx, s.key("settings")).Result()
	if err != nil {
		return Settings{}, err
	}
	var st Settings
	if v := m["reminder_channel_id"]; v != "" {
		if st.ReminderChannelID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Settings{}, err
		}
	}
	if v := m["mention_role_id"]; v != "" {
		if st.MentionRoleID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Settings{}, err
		}
	}
	return st, nil
}

func (s *redisStore) SaveSettings(ctx context.Context, st Settings) error {
	return s.client.HSet(ctx, s.key("settings"),
		"reminder_channel_id", st.ReminderChannelID,
		"mention_role_id", st.MentionRoleID,
	).Err()
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key("audit"), b)
	pipe.LTrim(ctx, s.key("audit"), 0, s.auditMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key("dedup", key), until.UnixMilli(), ttl).Err()
}

func (s *redisStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, s.key("dedup", key)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// PruneDedup is a no-op: marks carry their own TTL.
func (s *redisStore) PruneDedup(context.Context, time.Time) (int, error) { return 0, nil }
