package game

import (
	"context"
	"fmt"
)

func partyName(ctx context.Context, tx Tx, p Party) (string, error) {
	switch p.Kind {
	case KindBank:
		return "the bank", nil
	case KindIPO:
		return "the IPO", nil
	case KindBankPool:
		return "the bank pool", nil
	case KindPlayer:
		pl, err := tx.Player(ctx, p.ID)
		if err != nil {
			return "", err
		}
		return pl.Name, nil
	case KindCompany:
		co, err := tx.Company(ctx, p.ID)
		if err != nil {
			return "", err
		}
		return co.Name, nil
	default:
		return "", fmt.Errorf("%w: unknown party", ErrInvalidInput)
	}
}

func describeTransfer(ctx context.Context, tx Tx, t MoneyTransfer) (string, error) {
	from, err := partyName(ctx, tx, t.Sender)
	if err != nil {
		return "", err
	}
	to, err := partyName(ctx, tx, t.Receiver)
	if err != nil {
		return "", err
	}
	return capitalize(fmt.Sprintf("%s paid %d to %s", from, t.Amount, to)), nil
}

func describeTrade(ctx context.Context, tx Tx, t ShareTrade) (string, error) {
	buyer, err := partyName(ctx, tx, t.Buyer)
	if err != nil {
		return "", err
	}
	source, err := partyName(ctx, tx, t.Source)
	if err != nil {
		return "", err
	}
	held, err := tx.Company(ctx, t.CompanyID)
	if err != nil {
		return "", err
	}
	verb, prep, n := "bought", "from", t.Shares
	if n < 0 {
		verb, prep, n = "sold", "to", -n
	}
	noun := "shares"
	if n == 1 {
		noun = "share"
	}
	return capitalize(fmt.Sprintf("%s %s %d %s of %s %s %s for %d each", buyer, verb, n, noun, held.Name, prep, source, t.Price)), nil
}

func describeDividend(ctx context.Context, tx Tx, d Dividend) (string, error) {
	co, err := tx.Company(ctx, d.CompanyID)
	if err != nil {
		return "", err
	}
	switch d.Mode {
	case PayoutWithhold:
		return fmt.Sprintf("%s withheld %d", co.Name, d.Revenue), nil
	case PayoutHalf:
		return fmt.Sprintf("%s paid half of %d", co.Name, d.Revenue), nil
	default:
		return fmt.Sprintf("%s paid out %d", co.Name, d.Revenue), nil
	}
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
