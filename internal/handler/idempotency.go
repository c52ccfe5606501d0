package handler

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"savingsvault/pkg/response"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyHit    = "X-Idempotency-Hit"
	inFlightMarker    = "\x00processing"
)

// IdempotencyStore 保存已完成请求的响应体。
// Reserve 用于占位，防止同一个键的两个请求同时执行。
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, body []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, inFlightMarker, ttl).Result()
}

func (s *RedisIdempotencyStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, body, ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// MemoryIdempotencyStore 单实例部署和测试用
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return false, nil
	}
	s.entries[key] = memoryEntry{body: []byte(inFlightMarker), expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryIdempotencyStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.body, true, nil
}

func (s *MemoryIdempotencyStore) Save(_ context.Context, key string, body []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{body: append([]byte(nil), body...), expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware 带 Idempotency-Key 的请求：
//   - 已完成过：原样返回缓存的响应
//   - 正在执行：返回 CodeDuplicateRequest
//   - 首次：执行并缓存响应（只缓存 HTTP 200）
//
// 键按调用方隔离。
func IdempotencyMiddleware(store IdempotencyStore, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		storeKey := "savings:idem:" + callerOf(c) + ":" + c.FullPath() + ":" + key

		cached, found, err := store.Load(ctx, storeKey)
		if err != nil {
			response.Abort(c, http.StatusServiceUnavailable, response.CodeServerError, "幂等存储不可用")
			return
		}
		if found {
			if string(cached) == inFlightMarker {
				response.Abort(c, http.StatusConflict, response.CodeDuplicateRequest, "相同请求正在处理")
				return
			}
			c.Header(idempotencyHit, "true")
			c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
			c.Abort()
			return
		}

		ok, err := store.Reserve(ctx, storeKey, ttl)
		if err != nil {
			response.Abort(c, http.StatusServiceUnavailable, response.CodeServerError, "幂等存储不可用")
			return
		}
		if !ok {
			response.Abort(c, http.StatusConflict, response.CodeDuplicateRequest, "相同请求正在处理")
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if rec.Status() != http.StatusOK {
			if err := store.Release(context.Background(), storeKey); err != nil {
				logrus.WithError(err).WithField("key", storeKey).Warn("释放幂等键失败")
			}
			return
		}
		if err := store.Save(context.Background(), storeKey, rec.body.Bytes(), ttl); err != nil {
			logrus.WithError(err).WithField("key", storeKey).Warn("保存幂等响应失败")
		}
	}
}
