package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"savingsvault/internal/model"
)

var (
	ErrNotFound = errors.New("storage: 键不存在")
	ErrReadOnly = errors.New("storage: 只读事务不能写入")
)

// Backend 持久化后端。Commit 必须整体成功或整体失败。
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Commit(ctx context.Context, batch *Batch) error
}

type Write struct {
	Key   string
	Value []byte
}

// Batch 一次调用产生的全部写入和待投递消息
type Batch struct {
	Writes   []Write
	Messages []*model.OutboxMessage
}

type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Update 在一个工作单元内执行 fn：fn 返回 nil 才提交，否则丢弃所有暂存的写入
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx := newTx(ctx, s.backend, false)
	if err := fn(tx); err != nil {
		return err
	}
	if tx.empty() {
		return nil
	}
	if err := s.backend.Commit(ctx, tx.batch()); err != nil {
		return fmt.Errorf("提交存储事务失败: %w", err)
	}
	return nil
}

// View 只读访问
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return fn(newTx(ctx, s.backend, true))
}

// Tx 工作单元：写入先暂存，读取优先命中暂存值
type Tx struct {
	ctx      context.Context
	backend  Backend
	readOnly bool
	staged   map[string][]byte
	order    []string
	messages []*model.OutboxMessage
}

func newTx(ctx context.Context, backend Backend, readOnly bool) *Tx {
	return &Tx{
		ctx:      ctx,
		backend:  backend,
		readOnly: readOnly,
		staged:   make(map[string][]byte),
	}
}

func (t *Tx) Context() context.Context {
	return t.ctx
}

// Get 读取并解码；键不存在时返回 (false, nil)
func (t *Tx) Get(key Key, dst any) (bool, error) {
	name := key.String()
	raw, ok := t.staged[name]
	if !ok {
		var err error
		raw, err = t.backend.Get(t.ctx, name)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("读取 %s 失败: %w", name, err)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("解码 %s 失败: %w", name, err)
	}
	return true, nil
}

func (t *Tx) Has(key Key) (bool, error) {
	var raw json.RawMessage
	return t.Get(key, &raw)
}

func (t *Tx) Set(key Key, value any) error {
	if t.readOnly {
		return ErrReadOnly
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("编码 %s 失败: %w", key, err)
	}
	name := key.String()
	if _, ok := t.staged[name]; !ok {
		t.order = append(t.order, name)
	}
	t.staged[name] = raw
	return nil
}

// Emit 暂存一条 outbox 消息，随本次提交一起落库
func (t *Tx) Emit(msg *model.OutboxMessage) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	t.messages = append(t.messages, msg)
	return nil
}

// Messages 本工作单元中已暂存的消息
func (t *Tx) Messages() []*model.OutboxMessage {
	return t.messages
}

func (t *Tx) empty() bool {
	return len(t.order) == 0 && len(t.messages) == 0
}

func (t *Tx) batch() *Batch {
	b := &Batch{
		Writes:   make([]Write, 0, len(t.order)),
		Messages: t.messages,
	}
	for _, name := range t.order {
		b.Writes = append(b.Writes, Write{Key: name, Value: t.staged[name]})
	}
	return b
}
