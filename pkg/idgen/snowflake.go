package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花 ID
// ============================================================================
//
//   0 | 41 位毫秒时间戳 | 10 位节点号 | 12 位序列号
//
// 账本流水号和 outbox 消息键都取自这里。goal_id 不走雪花，
// 它来自存储里的全局计数器，必须连续。
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	nodeBits       = 10
	sequenceBits   = 12
	MaxNodeID      = -1 ^ (-1 << nodeBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

type Snowflake struct {
	mu       sync.Mutex
	lastMs   int64
	nodeID   int64
	sequence int64
	now      func() int64
}

func NewSnowflake(nodeID int64) (*Snowflake, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, fmt.Errorf("节点号必须在 0-%d 之间: %d", MaxNodeID, nodeID)
	}
	return &Snowflake{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

var (
	mu               sync.Mutex
	defaultGenerator *Snowflake
)

// Init 设置默认生成器的节点号，可重复调用
func Init(nodeID int64) error {
	s, err := NewSnowflake(nodeID)
	if err != nil {
		return err
	}
	mu.Lock()
	defaultGenerator = s
	mu.Unlock()
	return nil
}

func generator() *Snowflake {
	mu.Lock()
	defer mu.Unlock()
	if defaultGenerator == nil {
		defaultGenerator, _ = NewSnowflake(1)
	}
	return defaultGenerator
}

func NextID() int64 {
	return generator().Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now()
	if ms < s.lastMs {
		// 系统时钟回拨：沿用上一毫秒继续发号
		ms = s.lastMs
	}

	if ms == s.lastMs {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for ms <= s.lastMs {
				ms = s.now()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMs = ms

	return ((ms - epoch) << timestampShift) | (s.nodeID << nodeShift) | s.sequence
}

// GenerateTransferNo 账本流水号，例如 TRF20240115143052_12345678
func GenerateTransferNo() string {
	return prefixed("TRF")
}

// GenerateMessageKey outbox 消息键
func GenerateMessageKey() string {
	return prefixed("EVT")
}

func prefixed(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s_%08d", prefix, time.Now().Format("20060102150405"), id%100000000)
}
