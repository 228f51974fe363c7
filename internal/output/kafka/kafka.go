// Package kafka publishes audit lines to a Kafka topic, one message per line.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/crimson-sun/auditfwd/internal/config"
	"github.com/crimson-sun/auditfwd/internal/linetime"
	"github.com/crimson-sun/auditfwd/internal/model"
	"github.com/crimson-sun/auditfwd/internal/output"
)

// BatchIDHeader tags every message of one forwarded batch.
const BatchIDHeader = "batch_id"

func init() {
	output.Register(config.SinkKafka, func(cfg config.Config, deps output.Deps) (output.Sink, error) {
		w, err := NewWriter(cfg.Kafka, cfg.HTTPTimeout, deps.Logger)
		if err != nil {
			return nil, err
		}
		return New(w, deps.Extractor, deps.Logger), nil
	})
}

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a synchronous kafka.Writer from cfg.
func NewWriter(cfg config.KafkaConfig, timeout time.Duration, logger *slog.Logger) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka sink: both brokers and topic are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var acks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case "none":
		acks = kafka.RequireNone
	case "one":
		acks = kafka.RequireOne
	default:
		acks = kafka.RequireAll
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: acks,
		Async:        false, // Send must know whether the batch landed
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: timeout,
		ReadTimeout:  timeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("kafka writer: " + fmt.Sprintf(msg, args...))
		}),
	}, nil
}

// Sink writes each audit line as one message.
type Sink struct {
	writer    MessageWriter
	extractor *linetime.Extractor
	logger    *slog.Logger
}

// New creates a Kafka sink over w.
func New(w MessageWriter, extractor *linetime.Extractor, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = linetime.New(linetime.WithLogger(logger))
	}
	return &Sink{writer: w, extractor: extractor, logger: logger}
}

func (s *Sink) Name() string { return config.SinkKafka }

// Send publishes all lines in one synchronous WriteMessages call.
func (s *Sink) Send(ctx context.Context, batch model.Batch) error {
	lines := batch.Lines()
	if len(lines) == 0 {
		return nil
	}

	batchID := []byte(uuid.NewString())
	msgs := make([]kafka.Message, len(lines))
	for i, line := range lines {
		msgs[i] = kafka.Message{
			Value:   []byte(line),
			Time:    time.UnixMilli(s.extractor.Millis(line)),
			Headers: []kafka.Header{{Key: BatchIDHeader, Value: batchID}},
		}
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka sink: write %d messages: %w", len(msgs), err)
	}
	s.logger.Info("audit batch published", "messages", len(msgs), "batch_id", string(batchID))
	return nil
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
