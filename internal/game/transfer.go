package game

import (
	"context"
	"fmt"
)

// TransferMoney moves t.Amount from t.Sender to t.Receiver within gameID.
// Overdrafts are allowed and the amount may be zero or negative.
func TransferMoney(ctx context.Context, tx Tx, gameID int64, t MoneyTransfer) (Affected, error) {
	ch := newChanges(gameID)
	if err := transferMoney(ctx, tx, gameID, t, ch); err != nil {
		return Affected{}, err
	}
	return ch.load(ctx, tx)
}

func transferMoney(ctx context.Context, tx Tx, gameID int64, t MoneyTransfer, ch *changes) error {
	from, to := t.Sender.Money(), t.Receiver.Money()
	if from.Equal(to) {
		return ErrSameEntity
	}
	if err := adjustCash(ctx, tx, gameID, from, -t.Amount); err != nil {
		return err
	}
	if err := adjustCash(ctx, tx, gameID, to, t.Amount); err != nil {
		return err
	}
	ch.party(from)
	ch.party(to)
	return nil
}

func adjustCash(ctx context.Context, tx Tx, gameID int64, p Party, delta int64) error {
	switch p.Kind {
	case KindBank:
		g, err := tx.Game(ctx, gameID)
		if err != nil {
			return err
		}
		g.Cash += delta
		return tx.SaveGame(ctx, g)
	case KindPlayer:
		pl, err := tx.Player(ctx, p.ID)
		if err != nil {
			return err
		}
		if pl.GameID != gameID {
			return crossGameError{party: p, gameID: gameID}
		}
		pl.Cash += delta
		return tx.SavePlayer(ctx, pl)
	case KindCompany:
		co, err := tx.Company(ctx, p.ID)
		if err != nil {
			return err
		}
		if co.GameID != gameID {
			return crossGameError{party: p, gameID: gameID}
		}
		co.Cash += delta
		return tx.SaveCompany(ctx, co)
	default:
		return fmt.Errorf("%w: %s cannot hold cash", ErrInvalidInput, p)
	}
}
