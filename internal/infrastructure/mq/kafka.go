package mq

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"savingsvault/internal/config"
)

// Producer 对 sarama.SyncProducer 的薄封装，OutboxSender 通过它投递
type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

func InitKafka(cfg *config.KafkaConfig) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1
	kafkaConfig.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}

	logrus.WithField("brokers", cfg.Brokers).Info("Kafka 生产者创建成功")
	return NewProducer(producer), nil
}

func (p *Producer) SendMessage(topic, key, value string) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	})
	return err
}

func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
