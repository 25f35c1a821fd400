package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/redis/go-redis/v9"
)

// RedisSaver persists checkpoints to Redis. Each checkpoint is a hash;
// a sorted set per thread indexes checkpoint ids, and a set tracks threads.
// Suitable for multi-process deployments sharing one Redis.
type RedisSaver struct {
	IncrementVersions

	client     redis.UniversalClient
	keyPrefix  string
	serializer Serializer
}

// RedisOption configures a RedisSaver.
type RedisOption func(*RedisSaver)

// WithKeyPrefix sets the prefix of every key. The default is "flowcore:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisSaver) {
		s.keyPrefix = prefix
	}
}

// WithRedisSerializer sets the serializer for checkpoint and metadata blobs.
// The default is JSONSerializer.
func WithRedisSerializer(ser Serializer) RedisOption {
	return func(s *RedisSaver) {
		s.serializer = ser
	}
}

// NewRedisSaver creates a saver on client. The caller owns client.
func NewRedisSaver(client redis.UniversalClient, opts ...RedisOption) *RedisSaver {
	s := &RedisSaver{
		client:     client,
		keyPrefix:  "flowcore:",
		serializer: JSONSerializer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks if Redis is reachable.
func (s *RedisSaver) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// threadsKey returns the key of the set of thread ids.
func (s *RedisSaver) threadsKey() string {
	return s.keyPrefix + "threads"
}

// threadKey returns the key of a thread's checkpoint index.
func (s *RedisSaver) threadKey(threadID string) string {
	return s.keyPrefix + "thread:" + threadID
}

// checkpointKey returns the key of one checkpoint hash.
func (s *RedisSaver) checkpointKey(threadID, threadTS string) string {
	return s.keyPrefix + "checkpoint:" + threadID + ":" + threadTS
}

// Get implements Saver.
func (s *RedisSaver) Get(ctx context.Context, cfg Config) (*Saved, error) {
	threadTS := cfg.ThreadTS
	if threadTS == "" {
		// Every member has score 0, so the index is ordered by id.
		ids, err := s.client.ZRevRange(ctx, s.threadKey(cfg.ThreadID), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("load checkpoint index: %w", err)
		}
		if len(ids) == 0 {
			return nil, ErrNotFound
		}
		threadTS = ids[0]
	}
	return s.load(ctx, cfg.ThreadID, threadTS)
}

func (s *RedisSaver) load(ctx context.Context, threadID, threadTS string) (*Saved, error) {
	fields, err := s.client.HGetAll(ctx, s.checkpointKey(threadID, threadTS)).Result()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeSaved(s.serializer, threadID, threadTS, fields["parent_ts"],
		[]byte(fields["checkpoint"]), []byte(fields["metadata"]))
}

// List implements Saver. Checkpoint bodies are fetched lazily as the
// sequence is consumed.
func (s *RedisSaver) List(ctx context.Context, cfg Config, f Filter) iter.Seq2[*Saved, error] {
	return func(yield func(*Saved, error) bool) {
		threads := []string{cfg.ThreadID}
		if cfg.ThreadID == "" {
			all, err := s.client.SMembers(ctx, s.threadsKey()).Result()
			if err != nil {
				yield(nil, fmt.Errorf("list threads: %w", err))
				return
			}
			threads = all
		}

		type ref struct{ thread, ts string }
		var refs []ref
		for _, thread := range threads {
			ids, err := s.client.ZRange(ctx, s.threadKey(thread), 0, -1).Result()
			if err != nil {
				yield(nil, fmt.Errorf("load checkpoint index: %w", err))
				return
			}
			for _, id := range ids {
				if f.Before == "" || id < f.Before {
					refs = append(refs, ref{thread: thread, ts: id})
				}
			}
		}
		slices.SortFunc(refs, func(a, b ref) int {
			switch {
			case a.ts > b.ts:
				return -1
			case a.ts < b.ts:
				return 1
			}
			return 0
		})

		n := 0
		for _, r := range refs {
			saved, err := s.load(ctx, r.thread, r.ts)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !f.Match(saved) {
				continue
			}
			if !yield(saved, nil) {
				return
			}
			n++
			if f.Limit > 0 && n >= f.Limit {
				return
			}
		}
	}
}

// Put implements Saver. The record and its index entries are written in
// one MULTI/EXEC transaction.
func (s *RedisSaver) Put(ctx context.Context, cfg Config, cp *Checkpoint, md Metadata) (Config, error) {
	if cfg.ThreadID == "" {
		return Config{}, ErrThreadRequired
	}

	cpBlob, mdBlob, err := encodeSaved(s.serializer, cp, md)
	if err != nil {
		return Config{}, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.checkpointKey(cfg.ThreadID, cp.ID),
			"parent_ts", cfg.ThreadTS,
			"checkpoint", cpBlob,
			"metadata", mdBlob,
		)
		pipe.ZAdd(ctx, s.threadKey(cfg.ThreadID), redis.Z{Score: 0, Member: cp.ID})
		pipe.SAdd(ctx, s.threadsKey(), cfg.ThreadID)
		return nil
	})
	if err != nil {
		return Config{}, fmt.Errorf("save checkpoint: %w", err)
	}
	return Config{ThreadID: cfg.ThreadID, ThreadTS: cp.ID}, nil
}

// DeleteThread removes every checkpoint of a thread.
// Returns nil if the thread has no checkpoints.
func (s *RedisSaver) DeleteThread(ctx context.Context, threadID string) error {
	ids, err := s.client.ZRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("load checkpoint index: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.checkpointKey(threadID, id))
	}
	keys = append(keys, s.threadKey(threadID))

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, s.threadsKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}
