package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/player"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKey is the hash that holds the playback record
const DefaultRedisKey = "nowplaying:playback"

// maxUpdateAttempts bounds optimistic retries when another writer changes
// the hash mid-update
const maxUpdateAttempts = 20

// RedisOptions configures the Redis backend
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Redis keeps the record in a Redis hash so several server processes can
// share one session
type Redis struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

// NewRedis connects and pings the server
func NewRedis(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisWithClient(client, opts.Key, logger), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, key string, logger zerolog.Logger) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{
		client: client,
		key:    key,
		logger: logger.With().Str("component", "store").Str("key", key).Logger(),
	}
}

// Load reads the hash. An empty hash means no state yet; an undecodable one
// is logged and treated the same, like an unreadable state file.
func (r *Redis) Load(ctx context.Context) (player.Record, bool, error) {
	return r.load(ctx, r.client)
}

// hashReader is satisfied by both *redis.Client and *redis.Tx
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (r *Redis) load(ctx context.Context, c hashReader) (player.Record, bool, error) {
	fields, err := c.HGetAll(ctx, r.key).Result()
	if err != nil {
		return player.Record{}, false, fmt.Errorf("failed to read playback hash: %w", err)
	}
	if len(fields) == 0 {
		return player.Record{}, false, nil
	}

	rec, err := decodeFields(fields)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Ignoring unreadable playback hash")
		return player.Record{}, false, nil
	}
	return rec, true, nil
}

// Save writes every field of the record in one HSET
func (r *Redis) Save(ctx context.Context, rec player.Record) error {
	fields, err := encodeFields(rec)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write playback hash: %w", err)
	}
	return nil
}

// Update runs fn inside a WATCH on the hash. If another writer changes it
// before the write commits, fn runs again against the new contents.
func (r *Redis) Update(ctx context.Context, fn player.UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		rec, ok, err := r.load(ctx, tx)
		if err != nil {
			return err
		}
		next, write, err := fn(rec, ok)
		if err != nil || !write {
			return err
		}
		fields, err := encodeFields(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key, fields)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, r.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		r.logger.Debug().Int("attempt", attempt).Msg("Playback hash changed during update, retrying")
	}
	return fmt.Errorf("failed to write playback hash: still contended after %d attempts", maxUpdateAttempts)
}

// Close closes the client
func (r *Redis) Close() error {
	return r.client.Close()
}

func encodeFields(rec player.Record) (map[string]any, error) {
	song := ""
	if rec.Song != nil {
		data, err := json.Marshal(rec.Song)
		if err != nil {
			return nil, fmt.Errorf("failed to encode song: %w", err)
		}
		song = string(data)
	}

	return map[string]any{
		"song":          song,
		"current_index": rec.Index,
		"current_time":  rec.Elapsed,
		"is_playing":    strconv.FormatBool(rec.Playing),
		"reconciled_at": rec.ReconciledAt.UnixNano(),
		"remainder":     int64(rec.Remainder),
	}, nil
}

func decodeFields(fields map[string]string) (player.Record, error) {
	var rec player.Record

	if v := fields["song"]; v != "" {
		var t catalog.Track
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return player.Record{}, fmt.Errorf("failed to decode song: %w", err)
		}
		rec.Song = &t
	}

	var err error
	if rec.Index, err = intField(fields, "current_index"); err != nil {
		return player.Record{}, err
	}
	if rec.Elapsed, err = intField(fields, "current_time"); err != nil {
		return player.Record{}, err
	}
	rec.Playing = fields["is_playing"] == "1" || fields["is_playing"] == "true"

	ns, err := int64Field(fields, "reconciled_at")
	if err != nil {
		return player.Record{}, err
	}
	if ns > 0 {
		rec.ReconciledAt = time.Unix(0, ns)
	}
	remainder, err := int64Field(fields, "remainder")
	if err != nil {
		return player.Record{}, err
	}
	rec.Remainder = time.Duration(remainder)

	return rec, nil
}

// intField parses an integer field. A missing or empty field is 0.
func intField(fields map[string]string, key string) (int, error) {
	n, err := int64Field(fields, key)
	return int(n), err
}

func int64Field(fields map[string]string, key string) (int64, error) {
	v := fields[key]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
