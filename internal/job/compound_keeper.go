package job

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Compounder 由 service.SavingsService 实现
type Compounder interface {
	CompoundActiveGoals(ctx context.Context, cursor uint64, limit int) (uint64, int, error)
}

// CompoundKeeper 定期给活跃目标结息，每轮最多 batchSize 个，下一轮从上次停下的位置继续
type CompoundKeeper struct {
	svc       Compounder
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	cursor    uint64
}

func NewCompoundKeeper(svc Compounder, interval time.Duration, batchSize int) *CompoundKeeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &CompoundKeeper{
		svc:       svc,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: batchSize,
	}
}

func (k *CompoundKeeper) Start(ctx context.Context) {
	logrus.WithField("interval", k.interval).Info("[CompoundKeeper] 定期结息任务启动")

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("[CompoundKeeper] 收到停止信号，任务退出")
			return
		case <-k.stopCh:
			logrus.Info("[CompoundKeeper] 任务停止")
			return
		case <-ticker.C:
			k.runOnce(ctx)
		}
	}
}

func (k *CompoundKeeper) Stop() {
	close(k.stopCh)
}

func (k *CompoundKeeper) runOnce(ctx context.Context) int {
	next, n, err := k.svc.CompoundActiveGoals(ctx, k.cursor, k.batchSize)
	entry := logrus.WithFields(logrus.Fields{"from": k.cursor, "next": next, "compounded": n})
	k.cursor = next
	if err != nil {
		entry.WithError(err).Error("[CompoundKeeper] 结息失败")
		return n
	}
	if n > 0 {
		entry.Info("[CompoundKeeper] 本轮结息完成")
	}
	return n
}
