package game

import (
	"context"
	"fmt"
)

// Undo reverses the entry under the cursor and returns the cursor moved to
// its predecessor. The entry stays in the chain for Redo.
func Undo(ctx context.Context, tx Tx, cur Cursor) (Cursor, Affected, error) {
	if cur.EntryID == 0 {
		return cur, Affected{}, ErrNothingToUndo
	}
	e, err := tx.LogEntry(ctx, cur.EntryID)
	if err != nil {
		return cur, Affected{}, err
	}
	if e.Action == ActionNone {
		return cur, Affected{}, ErrNothingToUndo
	}
	prev, ok, err := tx.LogEntryBefore(ctx, cur.GameID, e.Seq)
	if err != nil {
		return cur, Affected{}, err
	}
	if !ok {
		return cur, Affected{}, fmt.Errorf("log entry %d has no predecessor", e.ID)
	}

	ch := newChanges(cur.GameID)
	if err := replay(ctx, tx, e, -1, ch); err != nil {
		return cur, Affected{}, fmt.Errorf("undo log entry %d: %w", e.ID, err)
	}
	out, err := ch.load(ctx, tx)
	if err != nil {
		return cur, Affected{}, err
	}
	return Cursor{GameID: cur.GameID, EntryID: prev.ID, Seq: prev.Seq}, out, nil
}

// Redo re-applies the entry after the cursor and moves the cursor onto it.
func Redo(ctx context.Context, tx Tx, cur Cursor) (Cursor, Affected, error) {
	next, ok, err := tx.LogEntryAfter(ctx, cur.GameID, cur.Seq)
	if err != nil {
		return cur, Affected{}, err
	}
	if !ok {
		return cur, Affected{}, ErrNothingToRedo
	}

	ch := newChanges(cur.GameID)
	if err := replay(ctx, tx, next, 1, ch); err != nil {
		return cur, Affected{}, fmt.Errorf("redo log entry %d: %w", next.ID, err)
	}
	out, err := ch.load(ctx, tx)
	if err != nil {
		return cur, Affected{}, err
	}
	out.Log = &next
	return Cursor{GameID: cur.GameID, EntryID: next.ID, Seq: next.Seq}, out, nil
}

// replay applies e with its quantity multiplied by sign: 1 for redo, -1
// for undo. Participants, price and mode are always the recorded ones.
func replay(ctx context.Context, tx Tx, e LogEntry, sign int64, ch *changes) error {
	switch e.Action {
	case ActionTransferMoney:
		t := e.Transfer()
		t.Amount *= sign
		return transferMoney(ctx, tx, e.GameID, t, ch)
	case ActionTransferShare:
		t, err := e.Trade()
		if err != nil {
			return err
		}
		t.Shares *= sign
		return buyShare(ctx, tx, t, ch)
	case ActionOperate:
		d := e.Dividend()
		d.Revenue *= sign
		return operate(ctx, tx, d, ch)
	default:
		return fmt.Errorf("cannot replay action %q", e.Action)
	}
}
