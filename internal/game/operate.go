package game

import (
	"context"
	"fmt"
)

// Operate pays out d.Revenue for company d.CompanyID.
//
//   - withhold: the whole revenue goes from the bank to the company.
//   - full: each holder of the company's shares, treasury included, gets
//     revenue/share_count per share from the bank, truncated per holder.
//     Short positions pay instead of receive.
//   - half: SplitHalfPayout decides the withheld and distributed parts,
//     then withhold and full run in that order.
//
// Holders whose payout truncates to zero are paid nothing and are not
// reported as affected.
func Operate(ctx context.Context, tx Tx, d Dividend) (Affected, error) {
	co, err := tx.Company(ctx, d.CompanyID)
	if err != nil {
		return Affected{}, err
	}
	ch := newChanges(co.GameID)
	if err := operate(ctx, tx, d, ch); err != nil {
		return Affected{}, err
	}
	return ch.load(ctx, tx)
}

func operate(ctx context.Context, tx Tx, d Dividend, ch *changes) error {
	co, err := tx.Company(ctx, d.CompanyID)
	if err != nil {
		return err
	}
	switch d.Mode {
	case PayoutWithhold:
		return transferMoney(ctx, tx, co.GameID, MoneyTransfer{
			Sender:   BankParty(),
			Receiver: CompanyParty(co.ID),
			Amount:   d.Revenue,
		}, ch)
	case PayoutFull:
		return payFull(ctx, tx, co, d.Revenue, ch)
	case PayoutHalf:
		if co.ShareCount <= 0 {
			return fmt.Errorf("%w: %s", ErrNoShares, co.Name)
		}
		withheld, distributed := SplitHalfPayout(d.Revenue, co.ShareCount)
		kept := newChanges(co.GameID)
		if err := operate(ctx, tx, Dividend{CompanyID: co.ID, Revenue: withheld, Mode: PayoutWithhold}, kept); err != nil {
			return err
		}
		paid := newChanges(co.GameID)
		if err := operate(ctx, tx, Dividend{CompanyID: co.ID, Revenue: distributed, Mode: PayoutFull}, paid); err != nil {
			return err
		}
		ch.merge(kept)
		ch.merge(paid)
		return nil
	default:
		return fmt.Errorf("%w: unknown payout mode %q", ErrInvalidInput, d.Mode)
	}
}

func payFull(ctx context.Context, tx Tx, co Company, revenue int64, ch *changes) error {
	if co.ShareCount <= 0 {
		return fmt.Errorf("%w: %s", ErrNoShares, co.Name)
	}
	perShare := float64(revenue) / float64(co.ShareCount)
	holdings, err := tx.SharesOfCompany(ctx, co.ID)
	if err != nil {
		return err
	}
	for _, s := range holdings {
		amount := HolderPayout(perShare, s.Shares)
		target := ch
		if amount == 0 {
			target = newChanges(co.GameID)
		}
		if err := transferMoney(ctx, tx, co.GameID, MoneyTransfer{
			Sender:   BankParty(),
			Receiver: s.Owner(),
			Amount:   amount,
		}, target); err != nil {
			return err
		}
	}
	return nil
}

// HolderPayout is the dividend for one holding: the fractional per-share
// amount times the holding, truncated toward zero. Truncating per holder
// rather than per share matters: 15.7 * 3 pays 47, not 45.
func HolderPayout(perShare float64, shares int64) int64 {
	return int64(perShare * float64(shares))
}

// SplitHalfPayout splits revenue for a half payout. The distributed part is
// the smallest multiple of shareCount that covers half the revenue, so
// rounding favours shareholders and the withheld part may shrink below
// half, or below zero. Signs are symmetric: split(-r) == -split(r).
func SplitHalfPayout(revenue, shareCount int64) (withheld, distributed int64) {
	if shareCount <= 0 {
		return revenue, 0
	}
	abs, sign := revenue, int64(1)
	if revenue < 0 {
		abs, sign = -revenue, -1
	}
	half := (abs + 1) / 2
	units := (half + shareCount - 1) / shareCount
	distributed = sign * units * shareCount
	return revenue - distributed, distributed
}
