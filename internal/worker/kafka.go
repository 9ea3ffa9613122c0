package worker

import (
	"context"
	"errors"
	"time"

	"chargeline/internal/repository"
	"chargeline/internal/service"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	readRetryDelay   = time.Second
	minRecordBackoff = 100 * time.Millisecond
	maxRecordBackoff = 10 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChargeWorker consumes the charge topic as a member of the audit
// consumer group. An offset is committed only once the event is recorded.
type KafkaChargeWorker struct {
	recorder service.ChargeRecorder
	reader   messageReader
	logger   *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewKafkaChargeWorker(recorder service.ChargeRecorder, brokers []string, logger *zap.Logger) *KafkaChargeWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   repository.TopicChargeAuthorized,
		GroupID: repository.ChargeWorkerGroup,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Sugar().Errorf(msg, args...)
		}),
	})
	return newKafkaChargeWorker(recorder, reader, logger)
}

func newKafkaChargeWorker(recorder service.ChargeRecorder, reader messageReader, logger *zap.Logger) *KafkaChargeWorker {
	return &KafkaChargeWorker{
		recorder:   recorder,
		reader:     reader,
		logger:     logger,
		minBackoff: minRecordBackoff,
		maxBackoff: maxRecordBackoff,
	}
}

// Run reads until ctx is cancelled. Messages are handled strictly in order:
// a message whose event cannot be recorded is retried with backoff and the
// next one is not fetched until it succeeds, because committing a later
// offset would acknowledge it. Undecodable payloads are logged and skipped.
func (w *KafkaChargeWorker) Run(ctx context.Context) error {
	w.logger.Info("kafka charge worker is running", zap.String("topic", repository.TopicChargeAuthorized))
	defer func() { _ = w.reader.Close() }()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				w.logger.Info("kafka charge worker stopped")
				return nil
			}
			w.logger.Error("worker: failed to fetch kafka message", zap.Error(err))
			if !sleep(ctx, readRetryDelay) {
				return nil
			}
			continue
		}

		if !w.record(ctx, msg) {
			w.logger.Info("kafka charge worker stopped", zap.Int64("uncommitted_offset", msg.Offset))
			return nil
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Warn("worker: failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// record reports whether msg may be committed. It returns false only when
// ctx ends before the event was recorded.
func (w *KafkaChargeWorker) record(ctx context.Context, msg kafka.Message) bool {
	backoff := w.minBackoff
	for {
		err := recordEvent(ctx, w.recorder, w.logger, msg.Value)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrMalformedEvent) {
			w.logger.Error("worker: skipping malformed charge event",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return true
		}

		w.logger.Error("worker: failed to record charge, retrying",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, w.maxBackoff)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *KafkaChargeWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

func (w *KafkaChargeWorker) Stop(ctx context.Context) error {
	return nil
}
