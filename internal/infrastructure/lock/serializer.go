package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HostLockKey 所有写操作共用的一把锁：同一时刻只有一个写操作在执行
const HostLockKey = "savings:lock:host"

// Serializer 串行化所有改状态的调用。
// 进程内用互斥锁；配置了 redis 时再叠加一把分布式锁，多实例部署也只有一个写者。
type Serializer struct {
	mu            sync.Mutex
	client        Client
	key           string
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

type Option func(*Serializer)

func WithRetry(interval time.Duration, maxRetries int) Option {
	return func(s *Serializer) {
		s.retryInterval = interval
		s.maxRetries = maxRetries
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Serializer) { s.ttl = ttl }
}

// NewSerializer client 可以为 nil，此时只在进程内串行
func NewSerializer(client Client, opts ...Option) *Serializer {
	s := &Serializer{
		client:        client,
		key:           HostLockKey,
		ttl:           30 * time.Second,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Serializer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return fn(ctx)
	}

	l := NewDistributedLock(s.client, s.key, uuid.NewString(), s.ttl)
	if err := l.Lock(ctx, s.retryInterval, s.maxRetries); err != nil {
		return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer func() {
		if err := l.Unlock(context.Background()); err != nil {
			logrus.WithError(err).WithField("key", s.key).Warn("释放分布式锁失败")
		}
	}()

	return fn(ctx)
}
