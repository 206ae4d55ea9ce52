package field

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veyra-labs/fieldledger/internal/ledger"
)

const (
	keyEvent     = "ev:"
	keyActiveSet = "active"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	KeyPrefix string
}

// RedisStore keeps resonance events as JSON records with a set index over
// the active ones.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests backed by
// miniredis.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(parts ...string) string {
	result := s.keyPrefix
	for _, p := range parts {
		result += p
	}
	return result
}

func (s *RedisStore) CreateEvent(ctx context.Context, ev *ledger.FieldResonanceEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.Active = true
	ev.ResolvedAt = nil

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(keyEvent, ev.ID), data, 0)
	pipe.SAdd(ctx, s.key(keyActiveSet), ev.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create event pipeline: %w", err)
	}

	return nil
}

func (s *RedisStore) GetEvent(ctx context.Context, id string) (*ledger.FieldResonanceEvent, error) {
	data, err := s.client.Get(ctx, s.key(keyEvent, id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	var ev ledger.FieldResonanceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	return &ev, nil
}

func (s *RedisStore) ActiveEvents(ctx context.Context) ([]ledger.FieldResonanceEvent, error) {
	ids, err := s.client.SMembers(ctx, s.key(keyActiveSet)).Result()
	if err != nil {
		return nil, fmt.Errorf("list active ids: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(keyEvent, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	events := make([]ledger.FieldResonanceEvent, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}

		var ev ledger.FieldResonanceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		if ev.Active {
			events = append(events, ev)
		}
	}

	return events, nil
}

func (s *RedisStore) ResolveEvent(ctx context.Context, id string) (*ledger.FieldResonanceEvent, error) {
	ev, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	if !ev.Active || ev.ResolvedAt != nil {
		return nil, ErrAlreadyResolved
	}

	now := time.Now().UTC()
	ev.Active = false
	ev.ResolvedAt = &now

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(keyEvent, id), data, 0)
	pipe.SRem(ctx, s.key(keyActiveSet), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("resolve event pipeline: %w", err)
	}

	return ev, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
