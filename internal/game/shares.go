package game

import (
	"context"
	"fmt"
)

// BuyShare moves t.Shares of t.CompanyID from t.Source to t.Buyer and pays
// t.Price per share from buyer to source. Pools pay and get paid through
// the bank. A negative share count runs the same arithmetic backwards.
func BuyShare(ctx context.Context, tx Tx, t ShareTrade) (Affected, error) {
	held, err := tx.Company(ctx, t.CompanyID)
	if err != nil {
		return Affected{}, err
	}
	ch := newChanges(held.GameID)
	if err := buyShare(ctx, tx, t, ch); err != nil {
		return Affected{}, err
	}
	return ch.load(ctx, tx)
}

func buyShare(ctx context.Context, tx Tx, t ShareTrade, ch *changes) error {
	if !isShareParty(t.Buyer) {
		return fmt.Errorf("%w: %s cannot buy shares", ErrInvalidInput, t.Buyer)
	}
	if !isShareParty(t.Source) {
		return fmt.Errorf("%w: %s cannot sell shares", ErrInvalidInput, t.Source)
	}
	held, err := tx.Company(ctx, t.CompanyID)
	if err != nil {
		return err
	}
	if err := checkAvailable(ctx, tx, held, t.Source, t.Shares); err != nil {
		return err
	}
	for _, p := range []Party{t.Source, t.Buyer} {
		if err := checkSameGame(ctx, tx, held.GameID, p); err != nil {
			return err
		}
	}

	if err := adjustHolding(ctx, tx, t.Buyer, held.ID, t.Shares, ch); err != nil {
		return err
	}
	if err := adjustHolding(ctx, tx, t.Source, held.ID, -t.Shares, ch); err != nil {
		return err
	}
	return transferMoney(ctx, tx, held.GameID, MoneyTransfer{
		Sender:   t.Buyer.Money(),
		Receiver: t.Source.Money(),
		Amount:   t.Price * t.Shares,
	}, ch)
}

func isShareParty(p Party) bool {
	switch p.Kind {
	case KindIPO, KindBankPool, KindPlayer, KindCompany:
		return true
	default:
		return false
	}
}

// checkAvailable rejects a sale the source cannot cover. A player with no
// holding record may sell short; a company with no record may not.
// TODO: decide with the rules owners whether companies should be allowed to short like players.
func checkAvailable(ctx context.Context, tx Tx, held Company, source Party, n int64) error {
	switch source.Kind {
	case KindIPO:
		if held.IPOShares < n {
			return errNoSharesAvailable
		}
	case KindBankPool:
		if held.BankShares < n {
			return errNoSharesAvailable
		}
	case KindPlayer, KindCompany:
		s, ok, err := tx.Share(ctx, source, held.ID)
		if err != nil {
			return err
		}
		if !ok {
			if source.Kind == KindCompany {
				return errNoSharesAvailable
			}
			return nil
		}
		if s.Shares < n {
			return errNoSharesAvailable
		}
	}
	return nil
}

func checkSameGame(ctx context.Context, tx Tx, gameID int64, p Party) error {
	var owner int64
	switch p.Kind {
	case KindPlayer:
		pl, err := tx.Player(ctx, p.ID)
		if err != nil {
			return err
		}
		owner = pl.GameID
	case KindCompany:
		co, err := tx.Company(ctx, p.ID)
		if err != nil {
			return err
		}
		owner = co.GameID
	default:
		return nil
	}
	if owner != gameID {
		return ErrDifferentGame
	}
	return nil
}

// adjustHolding re-reads whatever it mutates, so a company trading in its
// own stock never writes back stale pool counters.
func adjustHolding(ctx context.Context, tx Tx, p Party, companyID, delta int64, ch *changes) error {
	if p.IsPool() {
		co, err := tx.Company(ctx, companyID)
		if err != nil {
			return err
		}
		if p.Kind == KindIPO {
			co.IPOShares += delta
		} else {
			co.BankShares += delta
		}
		if err := tx.SaveCompany(ctx, co); err != nil {
			return err
		}
		ch.companies = addID(ch.companies, co.ID)
		return nil
	}

	s, ok, err := tx.Share(ctx, p, companyID)
	if err != nil {
		return err
	}
	if !ok {
		s, err = tx.CreateShare(ctx, newShare(p, companyID))
		if err != nil {
			return fmt.Errorf("create share: %w", err)
		}
	}
	s.Shares += delta
	if err := tx.SaveShare(ctx, s); err != nil {
		return err
	}
	ch.share(s.ID)
	return nil
}
