package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"chainsettle/internal/domain"
	"chainsettle/internal/infrastructure/telemetry"
	"chainsettle/internal/streaming"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes settlement events. Messages are keyed by recipient or
// transaction hash so one party's events stay ordered within a partition.
type Producer struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "chainsettle-events"
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           500 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newProducer(writer, cfg.Topic), nil
}

func newProducer(writer messageWriter, topic string) *Producer {
	return &Producer{writer: writer, topic: topic, now: time.Now}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishRewardResult(ctx context.Context, recipient string, result domain.RewardResult) error {
	transfers := make([]streaming.Transfer, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		transfers = append(transfers, streaming.Transfer{
			Symbol: outcome.Symbol,
			Amount: outcome.Amount,
			TxHash: outcome.TxHash,
			Status: string(outcome.Status),
		})
	}
	recipient = strings.ToLower(recipient)
	return p.publish(ctx, "settlement.publish_reward", recipient, streaming.Message{
		Type:      streaming.MessageTypeRewardResult,
		Network:   string(result.Network),
		Recipient: recipient,
		Transfers: transfers,
	}, attribute.String("recipient", recipient))
}

func (p *Producer) PublishPurchaseGrant(ctx context.Context, grant domain.PurchaseGrant) error {
	return p.publish(ctx, "settlement.publish_purchase", grant.TxHash, streaming.Message{
		Type:           streaming.MessageTypePurchaseGrant,
		Network:        string(grant.Network),
		TxHash:         grant.TxHash,
		Asset:          string(grant.Asset),
		From:           grant.From,
		To:             grant.To,
		OnChainAmount:  grant.OnChainAmount,
		ExpectedAmount: grant.ExpectedAmount,
	}, attribute.String("tx.hash", grant.TxHash))
}

func (p *Producer) publish(ctx context.Context, spanName, key string, msg streaming.Message, attrs ...attribute.KeyValue) error {
	ctx, span := otel.Tracer("chainsettle/kafka").Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(append(attrs,
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination.name", p.topic),
		attribute.String("network", msg.Network),
	)...)

	msg.EventID = uuid.NewString()
	msg.TraceID = telemetry.TraceID(ctx)
	msg.OccurredAt = p.now().UTC()
	payload, err := streaming.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: telemetry.EventHeaders(ctx, kafka.Header{Key: "event-type", Value: []byte(msg.Type)}),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
