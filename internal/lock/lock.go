// Package lock — блокировка сборки архитектуры в Redis.
//
// Одно и то же задание build.arch может быть доставлено дважды
// (redelivery после обрыва соединения). Блокировка по ключу
// запрос+архитектура не даёт двум воркерам собирать и пушить
// один и тот же образ одновременно.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 3 * time.Hour
	keyPrefix  = "iib:lock:build"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Key — ключ блокировки для запроса и архитектуры.
func Key(requestID int64, arch string) string {
	return fmt.Sprintf("%s:%d:%s", keyPrefix, requestID, arch)
}

// ArchLock — блокировки SET NX PX с токеном владельца.
type ArchLock struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewClient создаёт клиента Redis по URL и проверяет соединение.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New создаёт ArchLock. ttl <= 0 — значение по умолчанию (3h).
func New(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *ArchLock {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchLock{client: client, ttl: ttl, logger: logger}
}

// TTL возвращает время жизни блокировки.
func (l *ArchLock) TTL() time.Duration {
	return l.ttl
}

// Acquire захватывает блокировку сборки requestID на arch.
// Возвращает функцию освобождения или ErrLocked, если блокировка занята.
func (l *ArchLock) Acquire(ctx context.Context, requestID int64, arch string) (func(context.Context) error, error) {
	key := Key(requestID, arch)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}

	l.logger.Debug("arch lock acquired", "key", key, "ttl", l.ttl)

	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
