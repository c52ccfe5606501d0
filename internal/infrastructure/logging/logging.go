package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"savingsvault/internal/config"
)

// Init 设置全局 logrus 的级别和输出格式
func Init(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("日志级别无效 %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	default:
		return fmt.Errorf("日志格式无效: %q", cfg.Format)
	}
	return nil
}
