package job

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"savingsvault/internal/infrastructure/metrics"
	"savingsvault/internal/model"
)

// OutboxStore storage.MemoryBackend 和 repository.OutboxRepository 都实现了它
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

type Publisher interface {
	SendMessage(topic, key, value string) error
}

type OutboxSender struct {
	store         OutboxStore
	publisher     Publisher
	metrics       *metrics.Metrics
	maxRetryCount int
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
}

func NewOutboxSender(store OutboxStore, publisher Publisher, m *metrics.Metrics, maxRetryCount int) *OutboxSender {
	if maxRetryCount <= 0 {
		maxRetryCount = 5
	}
	return &OutboxSender{
		store:         store,
		publisher:     publisher,
		metrics:       m,
		maxRetryCount: maxRetryCount,
		stopCh:        make(chan struct{}),
		interval:      100 * time.Millisecond,
		batchSize:     100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logrus.Info("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			logrus.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 投递一批待发送消息，返回成功条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logrus.WithError(err).Error("[OutboxSender] 查询消息失败")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	entry := logrus.WithFields(logrus.Fields{"id": msg.ID, "topic": msg.Topic, "key": msg.MessageKey})

	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		s.metrics.ObserveOutbox(model.OutboxStatusSent)
		if updateErr := s.store.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			entry.WithError(updateErr).Error("[OutboxSender] 更新消息状态失败")
			return false
		}
		entry.Debug("[OutboxSender] 消息发送成功")
		return true
	}

	entry.WithError(err).Warn("[OutboxSender] 消息发送失败")
	s.metrics.ObserveOutbox("retry")

	if err := s.store.IncrementRetryCount(ctx, msg.ID); err != nil {
		entry.WithError(err).Error("[OutboxSender] 增加重试次数失败")
	}

	if msg.RetryCount+1 >= s.maxRetryCount {
		if err := s.store.MarkAsFailed(ctx, msg.ID); err != nil {
			entry.WithError(err).Error("[OutboxSender] 标记消息失败状态失败")
		} else {
			s.metrics.ObserveOutbox(model.OutboxStatusFailed)
			entry.Error("[OutboxSender] 消息超过最大重试次数，标记为失败")
		}
	}
	return false
}
