package storage

import (
	"context"
	"sync"

	"savingsvault/internal/model"
)

// MemoryBackend 进程内后端，用于开发环境和测试
type MemoryBackend struct {
	mu       sync.RWMutex
	data     map[string][]byte
	messages []*model.OutboxMessage
	nextID   int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (m *MemoryBackend) Commit(_ context.Context, batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range batch.Writes {
		m.data[w.Key] = append([]byte(nil), w.Value...)
	}
	for _, msg := range batch.Messages {
		m.nextID++
		stored := *msg
		stored.ID = m.nextID
		m.messages = append(m.messages, &stored)
	}
	return nil
}

// Messages 返回已提交的 outbox 消息副本
func (m *MemoryBackend) Messages() []*model.OutboxMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.OutboxMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		c := *msg
		out = append(out, &c)
	}
	return out
}

// Len 已存储的键数量
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// 以下方法让内存后端也能作为 OutboxSender 的消息源

func (m *MemoryBackend) GetPendingMessages(_ context.Context, limit int) ([]*model.OutboxMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.OutboxMessage, 0)
	for _, msg := range m.messages {
		if msg.Status != model.OutboxStatusPending {
			continue
		}
		c := *msg
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryBackend) UpdateStatus(_ context.Context, id int64, status string) error {
	return m.update(id, func(msg *model.OutboxMessage) { msg.Status = status })
}

func (m *MemoryBackend) IncrementRetryCount(_ context.Context, id int64) error {
	return m.update(id, func(msg *model.OutboxMessage) { msg.RetryCount++ })
}

func (m *MemoryBackend) MarkAsFailed(_ context.Context, id int64) error {
	return m.update(id, func(msg *model.OutboxMessage) {
		msg.Status = model.OutboxStatusFailed
		msg.RetryCount++
	})
}

func (m *MemoryBackend) update(id int64, fn func(msg *model.OutboxMessage)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.ID == id {
			fn(msg)
			return nil
		}
	}
	return ErrNotFound
}
