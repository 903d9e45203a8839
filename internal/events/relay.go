package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trainbank/internal/game"
)

// Outbox is the part of game.Store the relay reads from.
type Outbox interface {
	PendingEvents(ctx context.Context, limit int) ([]game.OutboxEvent, error)
	MarkEventsPublished(ctx context.Context, ids []int64) error
}

// Relay moves unpublished outbox rows to a Publisher. Delivery is at least
// once: a crash between Publish and MarkEventsPublished resends the batch.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	batch     int
	log       *slog.Logger
}

func NewRelay(outbox Outbox, publisher Publisher, batch int, logger *slog.Logger) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{outbox: outbox, publisher: publisher, batch: batch, log: logger}
}

// RunOnce relays one batch and returns how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.outbox.PendingEvents(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := r.publisher.Publish(ctx, pending); err != nil {
		return 0, fmt.Errorf("publish events: %w", err)
	}
	ids := make([]int64, 0, len(pending))
	for _, ev := range pending {
		ids = append(ids, ev.ID)
	}
	if err := r.outbox.MarkEventsPublished(ctx, ids); err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}
	return len(pending), nil
}

// Drain relays batches until the outbox is empty.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.RunOnce(ctx)
		total += n
		if err != nil || n < r.batch {
			return total, err
		}
	}
}

// Run drains the outbox every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	r.log.Info("relay started", "poll_every", every.String(), "batch", r.batch)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay shutdown")
			return
		case <-ticker.C:
			n, err := r.Drain(ctx)
			if err != nil {
				r.log.Error("relay failed", "err", err)
				continue
			}
			if n > 0 {
				r.log.Info("events relayed", "count", n)
			}
		}
	}
}
