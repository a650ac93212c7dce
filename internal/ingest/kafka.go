package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Subtalime/vintel-sub001/internal/config"
)

const SourceKafka = "kafka"

// StartKafka consumes chat lines from a topic. The message key names the
// room; a JSON object value is decoded as a Message, anything else is
// taken as one raw log line. With a group id, offsets are committed only
// after the message was handed on or dropped as malformed.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, h *Handler, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			if !handleKafkaMessage(ctx, h, cfg.DefaultRoom, m, logger) {
				return
			}
			if cfg.GroupID == "" {
				continue
			}
			if err := reader.CommitMessages(ctx, m); err != nil && logger != nil {
				logger.Warn("kafka commit error", "offset", m.Offset, "err", err)
			}
		}
	}()
}

// handleKafkaMessage reports false when m could not be handed on because
// ingest is stopping; m must then stay uncommitted.
func handleKafkaMessage(ctx context.Context, h *Handler, defaultRoom string, m kafka.Message, logger *slog.Logger) bool {
	room := string(m.Key)
	if room == "" {
		room = defaultRoom
	}
	value := bytes.TrimSpace(m.Value)
	if len(value) > 0 && value[0] == '{' {
		var msg Message
		if err := json.Unmarshal(value, &msg); err == nil {
			err := h.HandleMessage(ctx, SourceKafka, room, msg)
			if errors.Is(err, ErrStopped) {
				return false
			}
			if err != nil && logger != nil {
				logger.Debug("kafka message rejected", "room", room, "offset", m.Offset, "err", err)
			}
			return true
		}
	}
	if h.HandleLine(ctx, SourceKafka, room, string(m.Value)) {
		return true
	}
	return ctx.Err() == nil
}
