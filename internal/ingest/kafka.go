package ingest

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"statereport/internal/config"
	"statereport/internal/model"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource collects messages into batches of at most ingest.batch_size
// samples, closing a batch early once ingest.batch_timeout elapses.
// Malformed messages are logged and skipped.
type KafkaSource struct {
	cfg    *config.Manager
	reader messageReader
	parser *Parser
	logger *slog.Logger
}

func NewKafkaSource(cfg *config.Manager, logger *slog.Logger) *KafkaSource {
	current := cfg.Get().Ingest.Kafka
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return newKafkaSource(cfg, reader, logger)
}

func newKafkaSource(cfg *config.Manager, reader messageReader, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{cfg: cfg, reader: reader, parser: NewParser(), logger: logger}
}

func (s *KafkaSource) Next(ctx context.Context) ([]model.Sample, error) {
	cfg := s.cfg.Get()
	batchCtx, cancel := context.WithTimeout(ctx, cfg.Ingest.BatchTimeout)
	defer cancel()
	batch := make([]model.Sample, 0)
	for len(batch) < cfg.Ingest.BatchSize {
		m, err := s.reader.ReadMessage(batchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if batchCtx.Err() != nil {
				break
			}
			if err == io.EOF {
				if len(batch) == 0 {
					return nil, io.EOF
				}
				break
			}
			if s.logger != nil {
				s.logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(batchCtx, 500*time.Millisecond) {
				break
			}
			continue
		}
		samples, err := DecodeSamples(s.parser, m.Value, cfg)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("kafka message rejected", "partition", m.Partition, "offset", m.Offset, "err", err)
			}
			continue
		}
		batch = append(batch, samples...)
	}
	return batch, nil
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
