// Package kafka publishes committed batch events to Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/blockimport/internal/indexing/importer"
	"github.com/vietddude/blockimport/internal/infra/telemetry"
)

// Config holds producer settings. No brokers disables the producer.
type Config struct {
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
}

// Producer implements importer.Notifier by writing one event per committed batch
// to the topic <prefix>-<chain>, keyed by chain so events stay ordered within a partition.
type Producer struct {
	writer *kafka.Writer
	topic  string
	chain  string
	logger *slog.Logger
}

var _ importer.Notifier = (*Producer)(nil)

func NewProducer(cfg Config, chain string, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		cfg.TopicPrefix = "blockimport-batches"
	}
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{
		writer: writer,
		topic:  TopicFor(cfg.TopicPrefix, chain),
		chain:  chain,
		logger: logger.With("component", "kafka-producer", "chain", chain),
	}, nil
}

// TopicFor returns the topic batch events of chain are written to.
func TopicFor(prefix, chain string) string {
	return fmt.Sprintf("%s-%s", prefix, chain)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Notify publishes the batch event. Empty results are skipped.
func (p *Producer) Notify(ctx context.Context, result *importer.Result) error {
	if result.Empty() {
		return nil
	}

	ctx, span := otel.Tracer("blockimport/kafka").Start(ctx, "kafka.publish_batch",
		trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("chain", p.chain),
		attribute.String("batch.id", result.BatchID),
		attribute.String("messaging.destination", p.topic),
	)

	msg, err := buildMessage(p.chain, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	telemetry.InjectKafkaHeaders(ctx, &msg.Headers)
	msg.Topic = p.topic

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to publish batch %s: %w", result.BatchID, err)
	}
	p.logger.Debug("Published batch event", "batch_id", result.BatchID, "topic", p.topic)
	return nil
}

// BatchEvent is the message value written for a committed batch.
type BatchEvent struct {
	Chain              string                `json:"chain"`
	BatchID            string                `json:"batch_id"`
	LostConsensus      []BlockRef            `json:"lost_consensus,omitempty"`
	Canonical          []BlockRef            `json:"canonical,omitempty"`
	MissingRanges      importer.RangeChanges `json:"missing_ranges"`
	PendingOperations  []BlockRef            `json:"pending_operations,omitempty"`
	DroppedOperations  []BlockRef            `json:"dropped_operations,omitempty"`
	OwnerRepairs       int                   `json:"owner_repairs"`
	HolderCountUpdates int                   `json:"holder_count_updates"`
}

// BlockRef identifies a block.
type BlockRef struct {
	Hash   string `json:"hash"`
	Number int64  `json:"number"`
}

func buildMessage(chain string, result *importer.Result) (kafka.Message, error) {
	event := BatchEvent{
		Chain:              chain,
		BatchID:            result.BatchID,
		MissingRanges:      result.MissingRanges,
		OwnerRepairs:       len(result.TokenInstances),
		HolderCountUpdates: len(result.Tokens),
	}
	for _, lc := range result.LostConsensus {
		event.LostConsensus = append(event.LostConsensus, BlockRef{Hash: lc.Hash, Number: lc.Number})
	}
	for _, b := range result.Blocks {
		if b.Consensus {
			event.Canonical = append(event.Canonical, BlockRef{Hash: b.Hash, Number: b.Number})
		}
	}
	for _, op := range result.PendingOperations {
		event.PendingOperations = append(event.PendingOperations, BlockRef{Hash: op.BlockHash, Number: op.BlockNumber})
	}
	for _, op := range result.DeletedPendingOperations {
		event.DroppedOperations = append(event.DroppedOperations, BlockRef{Hash: op.BlockHash, Number: op.BlockNumber})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode batch event: %w", err)
	}
	return kafka.Message{
		Key:     []byte(chain),
		Value:   payload,
		Headers: make([]kafka.Header, 0, 2),
	}, nil
}
