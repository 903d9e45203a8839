package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"trainbank/internal/game"
	"trainbank/internal/storage/memory"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func seedGame(t *testing.T, store *memory.Store) int64 {
	t.Helper()
	ctx := context.Background()
	svc := game.NewService(store, nil)
	state, err := svc.CreateGame(ctx, game.CreateGameInput{Name: "1830", BankCash: 1000})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	p, err := svc.AddPlayer(ctx, game.AddPlayerInput{GameID: state.Game.ID, Name: "Alice"})
	if err != nil {
		t.Fatalf("add player: %v", err)
	}
	if _, err := svc.TransferMoney(ctx, game.TransferMoneyInput{
		GameID:   state.Game.ID,
		Sender:   game.BankParty(),
		Receiver: game.PlayerParty(p.ID),
		Amount:   10,
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := svc.Undo(ctx, state.Game.ID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	return state.Game.ID
}

func TestRelayPublishesToKafkaAndMarks(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	gameID := seedGame(t, store)

	w := &fakeWriter{}
	relay := NewRelay(store, &KafkaPublisher{writer: w}, 1, nil)
	n, err := relay.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 2 || len(w.msgs) != 2 {
		t.Fatalf("expected 2 events relayed, got n=%d msgs=%d", n, len(w.msgs))
	}

	var first, second Message
	if err := json.Unmarshal(w.msgs[0].Value, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(w.msgs[1].Value, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Kind != game.EventAction || second.Kind != game.EventUndo {
		t.Fatalf("unexpected kinds %q, %q", first.Kind, second.Kind)
	}
	if first.GameID != gameID || string(w.msgs[0].Key) != string(w.msgs[1].Key) {
		t.Fatalf("messages should be keyed by game id")
	}
	var entry game.LogEntry
	if err := json.Unmarshal(first.Entry, &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Action != game.ActionTransferMoney || entry.Amount != 10 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	pending, _ := store.PendingEvents(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected outbox drained, %d left", len(pending))
	}
}

func TestRelayKeepsEventsWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedGame(t, store)

	relay := NewRelay(store, &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}}, 10, nil)
	if _, err := relay.RunOnce(ctx); err == nil {
		t.Fatalf("expected publish error")
	}
	pending, _ := store.PendingEvents(ctx, 10)
	if len(pending) != 2 {
		t.Fatalf("expected events kept for retry, got %d", len(pending))
	}

	relay = NewRelay(store, NewLogPublisher(nil), 10, nil)
	if n, err := relay.RunOnce(ctx); err != nil || n != 2 {
		t.Fatalf("log publisher relay: n=%d err=%v", n, err)
	}
}

func TestKafkaPublisherClose(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close should reach the writer")
	}
	if err := p.Publish(context.Background(), nil); err != nil {
		t.Fatalf("empty publish: %v", err)
	}
}
