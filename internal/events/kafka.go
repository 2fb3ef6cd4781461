package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"gudang/backend/internal/logger"
)

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers string, topic string, log *zap.Logger) *KafkaPublisher {
	addrs := make([]string, 0)
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			addrs = append(addrs, broker)
		}
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, logger: logger.Named(log, "kafka")}
}

// Publish keys messages by transaction so events for one document stay
// ordered on a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event LedgerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.String("event_id", event.EventID), zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("event_id", event.EventID),
			zap.String("type", event.Type),
			zap.Error(err))
		return err
	}

	p.logger.Debug("event published",
		zap.String("event_id", event.EventID),
		zap.String("type", event.Type),
		zap.String("transaction_id", event.TransactionID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
