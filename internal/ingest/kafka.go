package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"evguard/internal/config"
)

// StartKafka consumes session-start messages published by the charging-station transport. The
// message key, when present, is the sender identity.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, in *Ingress, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("session kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("session kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("session kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, 0) {
					return
				}
				continue
			}
			_ = in.HandleSession(ctx, m.Value, string(m.Key), "kafka")
		}
	}()
}
