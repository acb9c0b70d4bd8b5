package alerts

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"evguard/internal/config"
	"evguard/internal/model"
)

// KafkaForwarder publishes alerts to a topic, keyed by the alert key so one entity's alerts
// land on one partition in order.
type KafkaForwarder struct {
	writer *kafka.Writer
}

func NewKafkaForwarder(cfg config.KafkaEgressConfig) *KafkaForwarder {
	return &KafkaForwarder{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (k *KafkaForwarder) Name() string {
	return "kafka"
}

func (k *KafkaForwarder) Forward(ctx context.Context, alert model.AlertRecord) error {
	msg, err := alertMessage(alert)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaForwarder) Close() error {
	return k.writer.Close()
}

func alertMessage(alert model.AlertRecord) (kafka.Message, error) {
	payload, err := json.Marshal(alertEnvelope{AlertRecord: alert, Text: alert.String()})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(alert.Key),
		Value: payload,
		Time:  alert.ObservedAt,
		Headers: []kafka.Header{
			{Key: "rule_id", Value: []byte(alert.RuleID)},
			{Key: "stream", Value: []byte(alert.Stream())},
		},
	}, nil
}

type alertEnvelope struct {
	model.AlertRecord
	Text string `json:"text"`
}
