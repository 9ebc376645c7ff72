package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/klauspost/compress/zlib"
	"github.com/redis/go-redis/v9"
)

// Payload header bytes
const (
	encodingRaw  byte = 0
	encodingZlib byte = 1
)

var _ interfaces.IExternalCache = (*RedisTier)(nil)

// -----------------------------------------------------------------------------
// RedisTier
// -----------------------------------------------------------------------------

// RedisTier is the shared cache tier. Values larger than the threshold are zlib compressed.
type RedisTier struct {
	client            *redis.Client
	prefix            string
	opTimeout         time.Duration
	compressThreshold int
	available         atomic.Bool
	Logger            *logger.Logger
}

// -----------------------------------------------------------------------------

func NewRedisTier(cfg models.MRedisConfig, l *logger.Logger) *RedisTier {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout(),
		ReadTimeout:  cfg.OpTimeout(),
		WriteTimeout: cfg.OpTimeout(),
		MaxRetries:   1,
	})

	return &RedisTier{
		client:            client,
		prefix:            cfg.KeyPrefix,
		opTimeout:         cfg.OpTimeout(),
		compressThreshold: cfg.CompressThreshold,
		Logger:            l,
	}
}

// -----------------------------------------------------------------------------

// Connect pings the server and marks the tier available on success.
func (r *RedisTier) Connect(ctx context.Context) error {
	if err := r.ping(ctx); err != nil {
		r.available.Store(false)
		return helpers.NewCacheError("redis unreachable", err)
	}
	r.available.Store(true)
	r.Logger.Info("Redis tier connected at %s", r.client.Options().Addr)
	return nil
}

// -----------------------------------------------------------------------------

// Monitor re-pings the server every interval until ctx is done and flips availability.
func (r *RedisTier) Monitor(ctx context.Context, interval time.Duration) {
	defer r.Logger.RecoverPanic("redis monitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.ping(ctx)
			was := r.available.Load()
			r.available.Store(err == nil)
			switch {
			case err != nil && was:
				r.Logger.Warning("Redis tier lost, serving from memory only: %v", err)
			case err == nil && !was:
				r.Logger.Info("Redis tier restored")
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (r *RedisTier) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// -----------------------------------------------------------------------------

func (r *RedisTier) Available() bool {
	return r.available.Load()
}

// -----------------------------------------------------------------------------

// Get reads the value and its remaining lifetime in one round trip.
func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, r.prefix+key)
	ttlCmd := pipe.PTTL(ctx, r.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, helpers.NewCacheError(fmt.Sprintf("redis get %s", key), err)
	}

	raw, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, helpers.NewCacheError(fmt.Sprintf("redis get %s", key), err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		// -1 means no expiry, -2 means gone between the two commands
		return nil, 0, false, nil
	}

	value, err := decodePayload(raw)
	if err != nil {
		return nil, 0, false, helpers.NewCacheError(fmt.Sprintf("redis decode %s", key), err)
	}
	return value, ttl, true, nil
}

// -----------------------------------------------------------------------------

func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	payload, err := encodePayload(value, r.compressThreshold)
	if err != nil {
		return helpers.NewCacheError(fmt.Sprintf("redis encode %s", key), err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+key, payload, ttl).Err(); err != nil {
		return helpers.NewCacheError(fmt.Sprintf("redis set %s", key), err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (r *RedisTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.prefix + k
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, prefixed...).Err(); err != nil {
		return helpers.NewCacheError("redis delete", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (r *RedisTier) Close() error {
	r.available.Store(false)
	return r.client.Close()
}

// -----------------------------------------------------------------------------
// Payload codec
// -----------------------------------------------------------------------------

func encodePayload(value []byte, threshold int) ([]byte, error) {
	if threshold <= 0 || len(value) <= threshold {
		return append([]byte{encodingRaw}, value...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(encodingZlib)
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(value); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// -----------------------------------------------------------------------------

func decodePayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	switch payload[0] {
	case encodingRaw:
		return payload[1:], nil
	case encodingZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload[1:]))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unknown payload encoding %d", payload[0])
	}
}
