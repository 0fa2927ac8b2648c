package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AlertPublisher writes alerts to a topic keyed by instrument, so one
// instrument's alerts stay ordered on a partition.
type AlertPublisher struct {
	writer messageWriter
	logger *zap.SugaredLogger
}

func NewAlertPublisher(brokers []string, topic string, logger *zap.Logger) *AlertPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: time.Second,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}
	return newAlertPublisher(writer, logger)
}

func newAlertPublisher(writer messageWriter, logger *zap.Logger) *AlertPublisher {
	return &AlertPublisher{writer: writer, logger: logger.Named("kafka").Sugar()}
}

func (p *AlertPublisher) Name() string { return "kafka" }

func (p *AlertPublisher) Deliver(ctx context.Context, alert surveillance.Alert) error {
	data, err := sonnet.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(alert.Instrument),
		Value: data,
		Time:  alert.DetectedAt,
		Headers: []kafka.Header{
			{Key: "pattern", Value: []byte(alert.Pattern)},
			{Key: "severity", Value: []byte(alert.Severity.String())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.ID, err)
	}
	return nil
}

func (p *AlertPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Errorw("Failed to close alert writer", "error", err)
		return err
	}
	return nil
}
