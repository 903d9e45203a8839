// Package events relays outbox rows written by game.Service to a message
// broker.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"trainbank/internal/game"
)

type Publisher interface {
	Publish(ctx context.Context, events []game.OutboxEvent) error
	Close() error
}

// Message is the broker payload for one outbox row.
type Message struct {
	EventID int64           `json:"event_id"`
	GameID  int64           `json:"game_id"`
	Kind    game.EventKind  `json:"kind"`
	Entry   json.RawMessage `json:"entry"`
}

func newMessage(ev game.OutboxEvent) Message {
	return Message{EventID: ev.ID, GameID: ev.GameID, Kind: ev.Kind, Entry: ev.Payload}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per event, keyed by game id so a
// game's events keep their order within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events []game.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(newMessage(ev))
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(ev.GameID, 10)),
			Value: data,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(ev.Kind)},
			},
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to a logger. Used when no brokers are set.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, events []game.OutboxEvent) error {
	for _, ev := range events {
		p.log.InfoContext(ctx, "ledger event", "event_id", ev.ID, "game_id", ev.GameID, "kind", ev.Kind, "entry", string(ev.Payload))
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
