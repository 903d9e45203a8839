package game

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the entity store. Every top-level operation runs inside one
// WithinTx call; fn's error rolls the transaction back.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
	PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEventsPublished(ctx context.Context, ids []int64) error
}

// Tx is the view of the store inside a transaction. Lookups by id return
// ErrNotFound when the row does not exist.
type Tx interface {
	CreateGame(ctx context.Context, g Game) (Game, error)
	// LockGame loads the game and holds it until the transaction ends, so
	// operations on one game are serialized.
	LockGame(ctx context.Context, id int64) (Game, error)
	Game(ctx context.Context, id int64) (Game, error)
	SaveGame(ctx context.Context, g Game) error
	SetLogCursor(ctx context.Context, gameID, entryID int64) error

	CreatePlayer(ctx context.Context, p Player) (Player, error)
	Player(ctx context.Context, id int64) (Player, error)
	SavePlayer(ctx context.Context, p Player) error
	PlayersByGame(ctx context.Context, gameID int64) ([]Player, error)

	CreateCompany(ctx context.Context, c Company) (Company, error)
	Company(ctx context.Context, id int64) (Company, error)
	SaveCompany(ctx context.Context, c Company) error
	CompaniesByGame(ctx context.Context, gameID int64) ([]Company, error)

	// Share finds the holding of companyID owned by owner; ok is false when
	// none was ever created.
	Share(ctx context.Context, owner Party, companyID int64) (s Share, ok bool, err error)
	ShareByID(ctx context.Context, id int64) (Share, error)
	CreateShare(ctx context.Context, s Share) (Share, error)
	SaveShare(ctx context.Context, s Share) error
	// SharesOfCompany lists every holding of companyID ordered by id.
	SharesOfCompany(ctx context.Context, companyID int64) ([]Share, error)
	SharesByGame(ctx context.Context, gameID int64) ([]Share, error)

	InsertLogEntry(ctx context.Context, e LogEntry) (LogEntry, error)
	LogEntry(ctx context.Context, id int64) (LogEntry, error)
	LogEntries(ctx context.Context, gameID int64) ([]LogEntry, error)
	// LogEntryBefore and LogEntryAfter return the neighbours of seq in the
	// game's chain.
	LogEntryBefore(ctx context.Context, gameID, seq int64) (LogEntry, bool, error)
	LogEntryAfter(ctx context.Context, gameID, seq int64) (LogEntry, bool, error)
	DeleteLogEntriesAfter(ctx context.Context, gameID, seq int64) error

	// ClaimIdempotencyKey returns ErrDuplicateIdempotency when key was
	// already used for gameID.
	ClaimIdempotencyKey(ctx context.Context, gameID int64, key, action string) error
	EnqueueEvent(ctx context.Context, ev OutboxEvent) error
}

type EventKind string

const (
	EventAction EventKind = "action"
	EventUndo   EventKind = "undo"
	EventRedo   EventKind = "redo"
)

// OutboxEvent is written in the same transaction as the ledger change it
// describes and relayed later.
type OutboxEvent struct {
	ID          int64           `json:"id"`
	GameID      int64           `json:"game_id"`
	Kind        EventKind       `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

func newEntryEvent(kind EventKind, e LogEntry) (OutboxEvent, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{GameID: e.GameID, Kind: kind, Payload: raw}, nil
}
