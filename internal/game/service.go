package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Service runs ledger operations as single store transactions: the
// operation, its log entry, the idempotency claim and the outbox event
// commit or roll back together.
type Service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger}
}

func (s *Service) CreateGame(ctx context.Context, in CreateGameInput) (GameState, error) {
	var out GameState
	name, err := validateName(in.Name)
	if err != nil {
		return out, err
	}
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		g, err := tx.CreateGame(ctx, Game{Name: name, Cash: in.BankCash})
		if err != nil {
			return err
		}
		_, sentinel, err := Record(ctx, tx, Cursor{GameID: g.ID}, NewSentinelEntry(g.ID))
		if err != nil {
			return err
		}
		if err := tx.SetLogCursor(ctx, g.ID, sentinel.ID); err != nil {
			return err
		}
		out, err = loadState(ctx, tx, g.ID)
		return err
	})
	if err != nil {
		return GameState{}, err
	}
	s.log.Info("game created", "game_id", out.Game.ID, "name", out.Game.Name)
	return out, nil
}

func (s *Service) AddPlayer(ctx context.Context, in AddPlayerInput) (Player, error) {
	var out Player
	name, err := validateName(in.Name)
	if err != nil {
		return out, err
	}
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.LockGame(ctx, in.GameID); err != nil {
			return err
		}
		out, err = tx.CreatePlayer(ctx, Player{GameID: in.GameID, Name: name, Cash: in.Cash})
		return err
	})
	return out, err
}

func (s *Service) AddCompany(ctx context.Context, in AddCompanyInput) (Company, error) {
	var out Company
	name, err := validateName(in.Name)
	if err != nil {
		return out, err
	}
	if in.ShareCount <= 0 {
		return out, fmt.Errorf("%w: share count must be > 0", ErrInvalidInput)
	}
	ipo := in.ShareCount
	if in.IPOShares != nil {
		ipo = *in.IPOShares
	}
	if ipo < 0 || ipo > in.ShareCount {
		return out, fmt.Errorf("%w: ipo shares must be between 0 and %d", ErrInvalidInput, in.ShareCount)
	}
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.LockGame(ctx, in.GameID); err != nil {
			return err
		}
		out, err = tx.CreateCompany(ctx, Company{
			GameID:     in.GameID,
			Name:       name,
			Cash:       in.Cash,
			ShareCount: in.ShareCount,
			IPOShares:  ipo,
		})
		return err
	})
	return out, err
}

func (s *Service) TransferMoney(ctx context.Context, in TransferMoneyInput) (Affected, error) {
	t := MoneyTransfer{Sender: in.Sender, Receiver: in.Receiver, Amount: in.Amount}
	for _, p := range []Party{t.Sender, t.Receiver} {
		if p.Kind != KindBank && !p.IsEntity() {
			return Affected{}, fmt.Errorf("%w: %s cannot transfer money", ErrInvalidInput, p)
		}
	}
	return s.apply(ctx, in.GameID, in.IdempotencyKey, ActionTransferMoney, func(tx Tx) (LogEntry, *changes, error) {
		text, err := textOr(in.Text, func() (string, error) { return describeTransfer(ctx, tx, t) })
		if err != nil {
			return LogEntry{}, nil, err
		}
		ch := newChanges(in.GameID)
		if err := transferMoney(ctx, tx, in.GameID, t, ch); err != nil {
			return LogEntry{}, nil, err
		}
		return NewTransferEntry(in.GameID, t, text), ch, nil
	})
}

func (s *Service) TradeShare(ctx context.Context, in TradeShareInput) (Affected, error) {
	t := ShareTrade{
		Buyer:     in.Buyer,
		Source:    in.Source,
		CompanyID: in.CompanyID,
		Price:     in.Price,
		Shares:    in.Shares,
	}
	return s.apply(ctx, in.GameID, in.IdempotencyKey, ActionTransferShare, func(tx Tx) (LogEntry, *changes, error) {
		held, err := tx.Company(ctx, t.CompanyID)
		if err != nil {
			return LogEntry{}, nil, err
		}
		if held.GameID != in.GameID {
			return LogEntry{}, nil, ErrDifferentGame
		}
		text, err := textOr(in.Text, func() (string, error) { return describeTrade(ctx, tx, t) })
		if err != nil {
			return LogEntry{}, nil, err
		}
		ch := newChanges(in.GameID)
		if err := buyShare(ctx, tx, t, ch); err != nil {
			return LogEntry{}, nil, err
		}
		return NewShareEntry(in.GameID, t, text), ch, nil
	})
}

func (s *Service) Operate(ctx context.Context, in OperateInput) (Affected, error) {
	d := Dividend{CompanyID: in.CompanyID, Revenue: in.Revenue, Mode: in.Mode}
	if _, err := ParsePayoutMode(string(d.Mode)); err != nil {
		return Affected{}, err
	}
	return s.apply(ctx, in.GameID, in.IdempotencyKey, ActionOperate, func(tx Tx) (LogEntry, *changes, error) {
		co, err := tx.Company(ctx, d.CompanyID)
		if err != nil {
			return LogEntry{}, nil, err
		}
		if co.GameID != in.GameID {
			return LogEntry{}, nil, crossGameError{party: CompanyParty(co.ID), gameID: in.GameID}
		}
		text, err := textOr(in.Text, func() (string, error) { return describeDividend(ctx, tx, d) })
		if err != nil {
			return LogEntry{}, nil, err
		}
		ch := newChanges(in.GameID)
		if err := operate(ctx, tx, d, ch); err != nil {
			return LogEntry{}, nil, err
		}
		return NewOperateEntry(in.GameID, d, text), ch, nil
	})
}

func (s *Service) Undo(ctx context.Context, gameID int64) (Affected, error) {
	var out Affected
	var undone LogEntry
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		g, err := tx.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		cur, err := cursorOf(ctx, tx, g)
		if err != nil {
			return err
		}
		prev, affected, err := Undo(ctx, tx, cur)
		if err != nil {
			return err
		}
		if err := tx.SetLogCursor(ctx, gameID, prev.EntryID); err != nil {
			return err
		}
		if err := refreshGame(ctx, tx, &affected); err != nil {
			return err
		}
		if undone, err = tx.LogEntry(ctx, cur.EntryID); err != nil {
			return err
		}
		if err := enqueue(ctx, tx, EventUndo, undone); err != nil {
			return err
		}
		out = affected
		return nil
	})
	if err != nil {
		return Affected{}, err
	}
	s.log.Info("ledger action undone", "game_id", gameID, "action", undone.Action, "entry_id", undone.ID)
	return out, nil
}

func (s *Service) Redo(ctx context.Context, gameID int64) (Affected, error) {
	var out Affected
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		g, err := tx.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		cur, err := cursorOf(ctx, tx, g)
		if err != nil {
			return err
		}
		next, affected, err := Redo(ctx, tx, cur)
		if err != nil {
			return err
		}
		if err := tx.SetLogCursor(ctx, gameID, next.EntryID); err != nil {
			return err
		}
		if err := refreshGame(ctx, tx, &affected); err != nil {
			return err
		}
		if err := enqueue(ctx, tx, EventRedo, *affected.Log); err != nil {
			return err
		}
		out = affected
		return nil
	})
	if err != nil {
		return Affected{}, err
	}
	s.log.Info("ledger action redone", "game_id", gameID, "action", out.Log.Action, "entry_id", out.Log.ID)
	return out, nil
}

func (s *Service) State(ctx context.Context, gameID int64) (GameState, error) {
	var out GameState
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		out, err = loadState(ctx, tx, gameID)
		return err
	})
	return out, err
}

func (s *Service) History(ctx context.Context, gameID int64) (History, error) {
	var out History
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		g, err := tx.Game(ctx, gameID)
		if err != nil {
			return err
		}
		entries, err := tx.LogEntries(ctx, gameID)
		if err != nil {
			return err
		}
		out = History{Entries: entries, Cursor: g.LogCursor}
		return nil
	})
	return out, err
}

// apply locks the game, runs one action and records it after the cursor.
func (s *Service) apply(ctx context.Context, gameID int64, idem string, action Action, run func(Tx) (LogEntry, *changes, error)) (Affected, error) {
	var out Affected
	var recorded LogEntry
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		g, err := tx.LockGame(ctx, gameID)
		if err != nil {
			return err
		}
		if key := strings.TrimSpace(idem); key != "" {
			if err := tx.ClaimIdempotencyKey(ctx, gameID, key, string(action)); err != nil {
				return err
			}
		}
		cur, err := cursorOf(ctx, tx, g)
		if err != nil {
			return err
		}
		entry, ch, err := run(tx)
		if err != nil {
			return err
		}
		_, recorded, err = Record(ctx, tx, cur, entry)
		if err != nil {
			return err
		}
		if err := tx.SetLogCursor(ctx, gameID, recorded.ID); err != nil {
			return err
		}
		if err := enqueue(ctx, tx, EventAction, recorded); err != nil {
			return err
		}
		out, err = ch.load(ctx, tx)
		return err
	})
	if err != nil {
		return Affected{}, err
	}
	s.log.Info("ledger action applied", "game_id", gameID, "action", recorded.Action, "entry_id", recorded.ID)
	return out, nil
}

// refreshGame reloads the bank row of a result after the cursor moved.
func refreshGame(ctx context.Context, tx Tx, a *Affected) error {
	if a.Game == nil {
		return nil
	}
	g, err := tx.Game(ctx, a.Game.ID)
	if err != nil {
		return err
	}
	a.Game = &g
	return nil
}

func cursorOf(ctx context.Context, tx Tx, g Game) (Cursor, error) {
	if g.LogCursor == 0 {
		return Cursor{GameID: g.ID}, nil
	}
	e, err := tx.LogEntry(ctx, g.LogCursor)
	if err != nil {
		return Cursor{}, fmt.Errorf("load log cursor: %w", err)
	}
	return Cursor{GameID: g.ID, EntryID: e.ID, Seq: e.Seq}, nil
}

func enqueue(ctx context.Context, tx Tx, kind EventKind, e LogEntry) error {
	ev, err := newEntryEvent(kind, e)
	if err != nil {
		return err
	}
	return tx.EnqueueEvent(ctx, ev)
}

func loadState(ctx context.Context, tx Tx, gameID int64) (GameState, error) {
	var out GameState
	var err error
	if out.Game, err = tx.Game(ctx, gameID); err != nil {
		return out, err
	}
	if out.Players, err = tx.PlayersByGame(ctx, gameID); err != nil {
		return out, err
	}
	if out.Companies, err = tx.CompaniesByGame(ctx, gameID); err != nil {
		return out, err
	}
	out.Shares, err = tx.SharesByGame(ctx, gameID)
	return out, err
}

func textOr(text string, fallback func() (string, error)) (string, error) {
	if t := strings.TrimSpace(text); t != "" {
		return t, nil
	}
	return fallback()
}
