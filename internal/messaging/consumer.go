// Package messaging connects the surveillance engine to Kafka: trades in,
// alerts out.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

// Submitter accepts trades without blocking and says why it refused one.
type Submitter interface {
	TrySubmit(ev surveillance.TradeEvent) error
}

const (
	minSubmitBackoff = time.Millisecond
	maxSubmitBackoff = 100 * time.Millisecond
)

// ConsumerConfig configures the trade reader.
type ConsumerConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts what the consumer has seen.
type ConsumerStats struct {
	Received    uint64
	Submitted   uint64
	Rejected    uint64
	Undecodable uint64
	Retries     uint64
}

// TradeConsumer reads JSON trades from a topic and submits them to the
// engine. A trade refused for capacity is retried with backoff until the
// engine takes it, so the offset is only committed once the trade is in the
// engine or known to be invalid or undecodable.
type TradeConsumer struct {
	reader  messageReader
	engine  Submitter
	logger  *zap.SugaredLogger
	dropLog *zap.SugaredLogger

	received    atomic.Uint64
	submitted   atomic.Uint64
	rejected    atomic.Uint64
	undecodable atomic.Uint64
	retries     atomic.Uint64

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewTradeConsumer(cfg ConsumerConfig, engine Submitter, logger *zap.Logger) *TradeConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	})
	return newTradeConsumer(reader, engine, logger)
}

func newTradeConsumer(reader messageReader, engine Submitter, logger *zap.Logger) *TradeConsumer {
	logger = logger.Named("kafka")
	sampled := logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, time.Second, 10, 0)
	}))
	return &TradeConsumer{
		reader:     reader,
		engine:     engine,
		logger:     logger.Sugar(),
		dropLog:    sampled.Sugar(),
		minBackoff: minSubmitBackoff,
		maxBackoff: maxSubmitBackoff,
	}
}

// Run consumes until ctx is cancelled or the reader is closed.
func (c *TradeConsumer) Run(ctx context.Context) error {
	c.logger.Infow("Trade consumer started")
	defer c.logger.Infow("Trade consumer stopped", "received", c.received.Load(), "submitted", c.submitted.Load())

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Errorw("Failed to fetch trade message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if !c.handle(ctx, msg) {
			// cancelled while the engine was full; leave the offset for redelivery
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Errorw("Failed to commit trade offset", "error", err, "partition", msg.Partition, "offset", msg.Offset)
		}
	}
}

// handle reports false only when ctx ended before the engine accepted the
// trade.
func (c *TradeConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	c.received.Add(1)
	ev, err := DecodeTrade(msg)
	if err != nil {
		c.undecodable.Add(1)
		c.dropLog.Warnw("Skipping undecodable trade message", "error", err, "partition", msg.Partition, "offset", msg.Offset)
		return true
	}

	backoff := c.minBackoff
	for {
		err := c.engine.TrySubmit(ev)
		if err == nil {
			c.submitted.Add(1)
			return true
		}
		if errors.Is(err, surveillance.ErrInvalidTrade) {
			c.rejected.Add(1)
			c.dropLog.Warnw("Engine rejected invalid trade", "trade_id", ev.ID, "offset", msg.Offset, "error", err)
			return true
		}

		c.retries.Add(1)
		c.dropLog.Warnw("Engine busy, retrying trade", "trade_id", ev.ID, "offset", msg.Offset, "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func (c *TradeConsumer) Stats() ConsumerStats {
	return ConsumerStats{
		Received:    c.received.Load(),
		Submitted:   c.submitted.Load(),
		Rejected:    c.rejected.Load(),
		Undecodable: c.undecodable.Load(),
		Retries:     c.retries.Load(),
	}
}

func (c *TradeConsumer) Close() error {
	return c.reader.Close()
}

// DecodeTrade parses a JSON trade. A missing id falls back to the message key
// and then to a random id; a missing timestamp falls back to the broker time.
func DecodeTrade(msg kafka.Message) (surveillance.TradeEvent, error) {
	var ev surveillance.TradeEvent
	if err := sonnet.Unmarshal(msg.Value, &ev); err != nil {
		return ev, fmt.Errorf("decode trade: %w", err)
	}
	if ev.ID == "" {
		if len(msg.Key) > 0 {
			ev.ID = string(msg.Key)
		} else {
			ev.ID = uuid.NewString()
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = msg.Time
	}
	return ev, nil
}
