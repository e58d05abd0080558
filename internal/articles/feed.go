package articles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/models"
)

// IngestFunc receives articles decoded from one feed message.
type IngestFunc func(ctx context.Context, arts []models.Article) error

// MessageReader is the part of *kafka.Reader the feed uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Feed consumes article records pushed by the source jobs onto a Kafka
// topic. A message carries the same JSON accepted by the file loader.
// Offsets are committed once the batch has been ingested, so a failed
// ingest is redelivered.
type Feed struct {
	reader  MessageReader
	ingest  IngestFunc
	logger  *zap.Logger
	backoff time.Duration
}

func NewKafkaReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
}

func NewFeed(reader MessageReader, ingest IngestFunc, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{reader: reader, ingest: ingest, logger: logger.Named("feed"), backoff: time.Second}
}

// Run consumes until ctx is cancelled, then closes the reader.
func (f *Feed) Run(ctx context.Context) error {
	defer func() {
		if err := f.reader.Close(); err != nil {
			f.logger.Warn("close feed reader", zap.Error(err))
		}
	}()
	for {
		msg, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			f.logger.Warn("fetch message", zap.Error(err))
			if !sleep(ctx, f.backoff) {
				return nil
			}
			continue
		}
		if err := f.Handle(ctx, msg); err != nil {
			f.logger.Error("ingest feed message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if !sleep(ctx, f.backoff) {
				return nil
			}
			continue
		}
		if err := f.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			f.logger.Warn("commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Handle decodes and ingests one message. Malformed payloads and invalid
// records are logged and skipped rather than retried.
func (f *Feed) Handle(ctx context.Context, msg kafka.Message) error {
	raws, envWeek, err := DecodeRecords(msg.Value)
	if err != nil {
		f.logger.Warn("skip malformed message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	fallback := msg.Time
	if envWeek != "" {
		if d := fileFallbackDate("", envWeek); !d.IsZero() {
			fallback = d
		}
	}
	arts := make([]models.Article, 0, len(raws))
	for i, raw := range raws {
		a, err := Normalize(raw, fallback)
		if err != nil {
			f.logger.Warn("reject record", zap.Int64("offset", msg.Offset), zap.Int("record", i), zap.Error(err))
			continue
		}
		arts = append(arts, a)
	}
	if len(arts) == 0 {
		return nil
	}
	if err := f.ingest(ctx, arts); err != nil {
		return fmt.Errorf("ingest %d articles: %w", len(arts), err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
