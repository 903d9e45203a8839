package game_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"trainbank/internal/game"
	"trainbank/internal/storage/memory"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	svc    *game.Service
	gameID int64
}

func newFixture(t *testing.T, bankCash int64) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	svc := game.NewService(store, nil)
	state, err := svc.CreateGame(ctx, game.CreateGameInput{Name: "1830", BankCash: bankCash})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	return &fixture{t: t, ctx: ctx, store: store, svc: svc, gameID: state.Game.ID}
}

func (f *fixture) player(name string, cash int64) game.Player {
	f.t.Helper()
	p, err := f.svc.AddPlayer(f.ctx, game.AddPlayerInput{GameID: f.gameID, Name: name, Cash: cash})
	if err != nil {
		f.t.Fatalf("add player %s: %v", name, err)
	}
	return p
}

func (f *fixture) company(name string, cash, shareCount int64) game.Company {
	f.t.Helper()
	c, err := f.svc.AddCompany(f.ctx, game.AddCompanyInput{GameID: f.gameID, Name: name, Cash: cash, ShareCount: shareCount})
	if err != nil {
		f.t.Fatalf("add company %s: %v", name, err)
	}
	return c
}

func (f *fixture) pay(from, to game.Party, amount int64) (game.Affected, error) {
	return f.svc.TransferMoney(f.ctx, game.TransferMoneyInput{GameID: f.gameID, Sender: from, Receiver: to, Amount: amount})
}

func (f *fixture) buy(buyer, source game.Party, companyID, price, shares int64) (game.Affected, error) {
	return f.svc.TradeShare(f.ctx, game.TradeShareInput{
		GameID:    f.gameID,
		Buyer:     buyer,
		Source:    source,
		CompanyID: companyID,
		Price:     price,
		Shares:    shares,
	})
}

func (f *fixture) mustBuy(buyer, source game.Party, companyID, price, shares int64) {
	f.t.Helper()
	if _, err := f.buy(buyer, source, companyID, price, shares); err != nil {
		f.t.Fatalf("buy %d of %d for %s from %s: %v", shares, companyID, buyer, source, err)
	}
}

func (f *fixture) operate(companyID, revenue int64, mode game.PayoutMode) (game.Affected, error) {
	return f.svc.Operate(f.ctx, game.OperateInput{GameID: f.gameID, CompanyID: companyID, Revenue: revenue, Mode: mode})
}

func (f *fixture) state() game.GameState {
	f.t.Helper()
	s, err := f.svc.State(f.ctx, f.gameID)
	if err != nil {
		f.t.Fatalf("state: %v", err)
	}
	return s
}

func (f *fixture) playerCash(id int64) int64 {
	f.t.Helper()
	for _, p := range f.state().Players {
		if p.ID == id {
			return p.Cash
		}
	}
	f.t.Fatalf("player %d not found", id)
	return 0
}

func (f *fixture) companyState(id int64) game.Company {
	f.t.Helper()
	for _, c := range f.state().Companies {
		if c.ID == id {
			return c
		}
	}
	f.t.Fatalf("company %d not found", id)
	return game.Company{}
}

func (f *fixture) holding(owner game.Party, companyID int64) int64 {
	f.t.Helper()
	for _, s := range f.state().Shares {
		if s.CompanyID == companyID && s.Owner().Equal(owner) {
			return s.Shares
		}
	}
	return 0
}

// snapshot is the observable ledger state with zero holdings dropped, so a
// holding record created by an undone trade compares equal to no record.
type snapshot struct {
	Cursor   int64
	Cash     map[string]int64
	Holdings map[string]int64
	Pools    map[string]int64
}

func (f *fixture) snapshot() snapshot {
	st := f.state()
	out := snapshot{
		Cursor:   st.Game.LogCursor,
		Cash:     map[string]int64{"bank": st.Game.Cash},
		Holdings: map[string]int64{},
		Pools:    map[string]int64{},
	}
	for _, p := range st.Players {
		out.Cash[fmt.Sprintf("player/%d", p.ID)] = p.Cash
	}
	for _, c := range st.Companies {
		out.Cash[fmt.Sprintf("company/%d", c.ID)] = c.Cash
		out.Pools[fmt.Sprintf("%d/ipo", c.ID)] = c.IPOShares
		out.Pools[fmt.Sprintf("%d/bank", c.ID)] = c.BankShares
	}
	for _, s := range st.Shares {
		if s.Shares != 0 {
			out.Holdings[fmt.Sprintf("%s/%d", s.Owner(), s.CompanyID)] = s.Shares
		}
	}
	return out
}

func totalCash(s snapshot) int64 {
	var sum int64
	for _, v := range s.Cash {
		sum += v
	}
	return sum
}

func TestTransferAndUndo(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	before := f.state()

	affected, err := f.pay(game.BankParty(), game.PlayerParty(alice.ID), 10)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if affected.Game == nil || affected.Game.Cash != 990 {
		t.Fatalf("expected bank 990, got %+v", affected.Game)
	}
	if len(affected.Players) != 1 || affected.Players[0].Cash != 10 {
		t.Fatalf("expected Alice 10, got %+v", affected.Players)
	}
	if affected.Companies != nil || affected.Shares != nil || affected.Log != nil {
		t.Fatalf("unexpected extra keys %+v", affected)
	}

	affected, err = f.svc.Undo(f.ctx, f.gameID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if affected.Game.Cash != 1000 || affected.Players[0].Cash != 0 {
		t.Fatalf("undo did not restore cash: %+v", affected)
	}
	after := f.state()
	if after.Game.LogCursor != before.Game.LogCursor {
		t.Fatalf("cursor should return to %d, got %d", before.Game.LogCursor, after.Game.LogCursor)
	}
	history, _ := f.svc.History(f.ctx, f.gameID)
	if len(history.Entries) != 2 {
		t.Fatalf("undo must keep the entry, got %d entries", len(history.Entries))
	}
	if history.Entries[1].Text != "The bank paid 10 to Alice" {
		t.Fatalf("unexpected generated text %q", history.Entries[1].Text)
	}
}

func TestUndoRedoResultCarriesCursor(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	if _, err := f.pay(game.BankParty(), game.PlayerParty(alice.ID), 10); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	for _, step := range []struct {
		name string
		run  func(context.Context, int64) (game.Affected, error)
	}{
		{name: "undo", run: f.svc.Undo},
		{name: "redo", run: f.svc.Redo},
	} {
		affected, err := step.run(f.ctx, f.gameID)
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		history, err := f.svc.History(f.ctx, f.gameID)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if affected.Game == nil || affected.Game.LogCursor != history.Cursor {
			t.Fatalf("%s returned game %+v, stored cursor %d", step.name, affected.Game, history.Cursor)
		}
	}
}

func TestTransferErrors(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 5)

	if _, err := f.pay(game.PlayerParty(alice.ID), game.PlayerParty(alice.ID), 1); !errors.Is(err, game.ErrSameEntity) {
		t.Fatalf("expected ErrSameEntity, got %v", err)
	}
	if _, err := f.pay(game.BankParty(), game.BankParty(), 1); !errors.Is(err, game.ErrSameEntity) {
		t.Fatalf("expected ErrSameEntity for bank to bank, got %v", err)
	}
	if _, err := f.pay(game.BankParty(), game.PlayerParty(999), 1); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// overdraft and negative amounts are allowed
	if _, err := f.pay(game.PlayerParty(alice.ID), game.BankParty(), 20); err != nil {
		t.Fatalf("overdraft: %v", err)
	}
	if _, err := f.pay(game.PlayerParty(alice.ID), game.BankParty(), -5); err != nil {
		t.Fatalf("negative amount: %v", err)
	}
	if got := f.playerCash(alice.ID); got != -10 {
		t.Fatalf("expected Alice -10, got %d", got)
	}

	history, _ := f.svc.History(f.ctx, f.gameID)
	if len(history.Entries) != 3 {
		t.Fatalf("failed transfers must not be logged, got %d entries", len(history.Entries))
	}
}

func TestCompanyBuysOwnSharesFromIPO(t *testing.T) {
	f := newFixture(t, 1000)
	prr := f.company("PRR", 100, 10)
	self := game.CompanyParty(prr.ID)

	affected, err := f.buy(self, game.IPOParty(), prr.ID, 1, 5)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if len(affected.Shares) != 1 || affected.Shares[0].Shares != 5 {
		t.Fatalf("expected treasury holding of 5, got %+v", affected.Shares)
	}
	if affected.Game == nil || affected.Game.Cash != 1005 {
		t.Fatalf("expected bank 1005, got %+v", affected.Game)
	}
	co := f.companyState(prr.ID)
	if co.IPOShares != 5 || co.Cash != 95 {
		t.Fatalf("expected ipo 5 cash 95, got %+v", co)
	}
	if affected.Log != nil {
		t.Fatalf("apply should not return the log key")
	}

	if _, err := f.svc.Undo(f.ctx, f.gameID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	co = f.companyState(prr.ID)
	if co.IPOShares != 10 || co.Cash != 100 || f.holding(self, prr.ID) != 0 {
		t.Fatalf("undo did not restore company %+v", co)
	}
}

func TestShareConservation(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 500)
	prr := f.company("PRR", 0, 10)
	a := game.PlayerParty(alice.ID)

	f.mustBuy(a, game.IPOParty(), prr.ID, 30, 3)
	if f.companyState(prr.ID).IPOShares != 7 || f.holding(a, prr.ID) != 3 {
		t.Fatalf("ipo purchase did not move shares")
	}
	if f.playerCash(alice.ID) != 410 {
		t.Fatalf("expected Alice 410, got %d", f.playerCash(alice.ID))
	}

	// selling to the pool is the pool buying from the player
	f.mustBuy(game.PoolParty(), a, prr.ID, 20, 2)
	co := f.companyState(prr.ID)
	if co.BankShares != 2 || f.holding(a, prr.ID) != 1 {
		t.Fatalf("pool sale did not move shares: %+v", co)
	}
	if f.playerCash(alice.ID) != 450 || f.state().Game.Cash != 1050 {
		t.Fatalf("pool sale cash mismatch")
	}

	if _, err := f.buy(a, game.PoolParty(), prr.ID, 20, 3); !errors.Is(err, game.ErrInvalidShareTransaction) {
		t.Fatalf("expected pool shortage to fail, got %v", err)
	}
	if _, err := f.buy(a, game.IPOParty(), prr.ID, 20, 8); !errors.Is(err, game.ErrInvalidShareTransaction) {
		t.Fatalf("expected ipo shortage to fail, got %v", err)
	}
	if _, err := f.buy(game.BankParty(), game.IPOParty(), prr.ID, 1, 1); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("the cash reserve cannot hold shares, got %v", err)
	}
}

func TestNegativeShareCountSellsBack(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 500)
	prr := f.company("PRR", 0, 10)
	a := game.PlayerParty(alice.ID)
	f.mustBuy(a, game.IPOParty(), prr.ID, 30, 3)

	affected, err := f.buy(a, game.IPOParty(), prr.ID, 30, -2)
	if err != nil {
		t.Fatalf("negative buy: %v", err)
	}
	if len(affected.Shares) != 1 || affected.Shares[0].Shares != 1 {
		t.Fatalf("expected Alice to hold 1, got %+v", affected.Shares)
	}
	if len(affected.Players) != 1 || affected.Players[0].Cash != 470 {
		t.Fatalf("expected Alice 470, got %+v", affected.Players)
	}
	if affected.Game == nil || affected.Game.Cash != 1030 {
		t.Fatalf("expected bank 1030, got %+v", affected.Game)
	}
	if got := f.companyState(prr.ID).IPOShares; got != 9 {
		t.Fatalf("expected ipo 9, got %d", got)
	}
}

func TestAvailabilityAsymmetry(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	bob := f.player("Bob", 100)
	prr := f.company("PRR", 0, 10)
	bo := f.company("B&O", 100, 10)

	// a player without a holding record may go short
	if _, err := f.buy(game.PlayerParty(bob.ID), game.PlayerParty(alice.ID), prr.ID, 10, 2); err != nil {
		t.Fatalf("player short sale should be allowed: %v", err)
	}
	if got := f.holding(game.PlayerParty(alice.ID), prr.ID); got != -2 {
		t.Fatalf("expected Alice short 2, got %d", got)
	}
	// once the record exists it is checked
	if _, err := f.buy(game.PlayerParty(bob.ID), game.PlayerParty(alice.ID), prr.ID, 10, 1); !errors.Is(err, game.ErrInvalidShareTransaction) {
		t.Fatalf("expected existing short record to be checked, got %v", err)
	}
	// a company without a record may not
	if _, err := f.buy(game.PlayerParty(bob.ID), game.CompanyParty(bo.ID), prr.ID, 10, 1); !errors.Is(err, game.ErrInvalidShareTransaction) {
		t.Fatalf("expected company without holding to be rejected, got %v", err)
	}
}

func TestShortHolderPaysDividend(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	bob := f.player("Bob", 0)
	prr := f.company("PRR", 0, 10)
	f.mustBuy(game.PlayerParty(bob.ID), game.PlayerParty(alice.ID), prr.ID, 0, 2)

	if _, err := f.operate(prr.ID, 100, game.PayoutFull); err != nil {
		t.Fatalf("operate: %v", err)
	}
	if f.playerCash(alice.ID) != -20 || f.playerCash(bob.ID) != 20 {
		t.Fatalf("expected Alice -20 Bob 20, got %d %d", f.playerCash(alice.ID), f.playerCash(bob.ID))
	}
}

func TestCrossGameTradeRejected(t *testing.T) {
	f := newFixture(t, 1000)
	prr := f.company("PRR", 0, 10)

	other, err := f.svc.CreateGame(f.ctx, game.CreateGameInput{Name: "1846", BankCash: 1000})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	stranger, err := f.svc.AddPlayer(f.ctx, game.AddPlayerInput{GameID: other.Game.ID, Name: "Eve", Cash: 100})
	if err != nil {
		t.Fatalf("add player: %v", err)
	}

	_, err = f.buy(game.PlayerParty(stranger.ID), game.IPOParty(), prr.ID, 10, 1)
	if !errors.Is(err, game.ErrDifferentGame) || !errors.Is(err, game.ErrInvalidShareTransaction) {
		t.Fatalf("expected ErrDifferentGame, got %v", err)
	}
	if f.companyState(prr.ID).IPOShares != 10 {
		t.Fatalf("rejected trade must not move shares")
	}

	_, err = f.pay(game.BankParty(), game.PlayerParty(stranger.ID), 1)
	if !errors.Is(err, game.ErrDifferentGame) {
		t.Fatalf("expected ErrDifferentGame for cross-game transfer, got %v", err)
	}
	if strings.Contains(err.Error(), "share") {
		t.Fatalf("cash transfer error should not mention shares: %q", err)
	}
	if _, err := f.svc.Operate(f.ctx, game.OperateInput{GameID: other.Game.ID, CompanyID: prr.ID, Revenue: 10, Mode: game.PayoutFull}); !errors.Is(err, game.ErrDifferentGame) {
		t.Fatalf("expected ErrDifferentGame for foreign company, got %v", err)
	}
}

func TestFullDividendTruncatesPerHolder(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	bob := f.player("Bob", 0)
	prr := f.company("PRR", 0, 10)
	f.mustBuy(game.PlayerParty(alice.ID), game.IPOParty(), prr.ID, 0, 3)
	f.mustBuy(game.PlayerParty(bob.ID), game.IPOParty(), prr.ID, 0, 1)
	f.mustBuy(game.CompanyParty(prr.ID), game.IPOParty(), prr.ID, 0, 1)

	affected, err := f.operate(prr.ID, 157, game.PayoutFull)
	if err != nil {
		t.Fatalf("operate: %v", err)
	}
	if f.playerCash(alice.ID) != 47 || f.playerCash(bob.ID) != 15 || f.companyState(prr.ID).Cash != 15 {
		t.Fatalf("expected 47/15/15, got %d/%d/%d", f.playerCash(alice.ID), f.playerCash(bob.ID), f.companyState(prr.ID).Cash)
	}
	if affected.Game.Cash != 1000-77 {
		t.Fatalf("bank should pay out 77, got %d", 1000-affected.Game.Cash)
	}
	if len(affected.Players) != 2 || len(affected.Companies) != 1 {
		t.Fatalf("unexpected affected %+v", affected)
	}
	if affected.Shares != nil {
		t.Fatalf("dividends do not touch holdings")
	}

	if _, err := f.svc.Undo(f.ctx, f.gameID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if f.playerCash(alice.ID) != 0 || f.playerCash(bob.ID) != 0 || f.state().Game.Cash != 1000 {
		t.Fatalf("undo of full payout is not exact")
	}
}

func TestFullDividendExact(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	nyc := f.company("NYC", 0, 4)
	f.mustBuy(game.PlayerParty(alice.ID), game.IPOParty(), nyc.ID, 0, 4)

	if _, err := f.operate(nyc.ID, 40, game.PayoutFull); err != nil {
		t.Fatalf("operate: %v", err)
	}
	if got := f.playerCash(alice.ID); got != 40 {
		t.Fatalf("expected 10 per share, got %d", got)
	}
}

func TestZeroPayoutHolderNotAffected(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	bob := f.player("Bob", 0)
	prr := f.company("PRR", 0, 10)
	f.mustBuy(game.PlayerParty(alice.ID), game.IPOParty(), prr.ID, 0, 1)
	f.mustBuy(game.PlayerParty(bob.ID), game.IPOParty(), prr.ID, 0, 1)
	f.mustBuy(game.IPOParty(), game.PlayerParty(bob.ID), prr.ID, 0, 1)

	affected, err := f.operate(prr.ID, 30, game.PayoutFull)
	if err != nil {
		t.Fatalf("operate: %v", err)
	}
	if len(affected.Players) != 1 || affected.Players[0].ID != alice.ID || affected.Players[0].Cash != 3 {
		t.Fatalf("only Alice should be affected, got %+v", affected.Players)
	}
}

func TestWithholdAndHalf(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	prr := f.company("PRR", 0, 10)
	self := game.CompanyParty(prr.ID)
	f.mustBuy(game.PlayerParty(alice.ID), game.IPOParty(), prr.ID, 0, 1)
	// treasury record with zero shares
	f.mustBuy(self, game.IPOParty(), prr.ID, 0, 1)
	f.mustBuy(game.IPOParty(), self, prr.ID, 0, 1)

	if _, err := f.operate(prr.ID, 50, game.PayoutWithhold); err != nil {
		t.Fatalf("withhold: %v", err)
	}
	if f.companyState(prr.ID).Cash != 50 || f.state().Game.Cash != 950 {
		t.Fatalf("withhold should move revenue from bank to company")
	}

	affected, err := f.operate(prr.ID, 70, game.PayoutHalf)
	if err != nil {
		t.Fatalf("half: %v", err)
	}
	withheld := f.companyState(prr.ID).Cash - 50
	if withheld != 30 || withheld >= 35 {
		t.Fatalf("expected 30 withheld in favour of holders, got %d", withheld)
	}
	if got := f.playerCash(alice.ID); got != 4 {
		t.Fatalf("expected Alice 4 from 40 distributed, got %d", got)
	}
	if affected.Game == nil || len(affected.Companies) != 1 || len(affected.Players) != 1 {
		t.Fatalf("unexpected affected %+v", affected)
	}

	if _, err := f.svc.Undo(f.ctx, f.gameID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if f.companyState(prr.ID).Cash != 50 || f.playerCash(alice.ID) != 0 {
		t.Fatalf("undo of half payout is not exact")
	}
}

func TestOperateWithoutSharesFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	err := store.WithinTx(ctx, func(tx game.Tx) error {
		g, err := tx.CreateGame(ctx, game.Game{Name: "broken"})
		if err != nil {
			return err
		}
		co, err := tx.CreateCompany(ctx, game.Company{GameID: g.ID, Name: "Ghost"})
		if err != nil {
			return err
		}
		if _, err := game.Operate(ctx, tx, game.Dividend{CompanyID: co.ID, Revenue: 10, Mode: game.PayoutFull}); !errors.Is(err, game.ErrNoShares) {
			t.Fatalf("expected ErrNoShares, got %v", err)
		}
		if _, err := game.Operate(ctx, tx, game.Dividend{CompanyID: co.ID, Revenue: 10, Mode: game.PayoutHalf}); !errors.Is(err, game.ErrNoShares) {
			t.Fatalf("expected ErrNoShares for half, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestUndoRedoBoundaries(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)

	if _, err := f.svc.Undo(f.ctx, f.gameID); !errors.Is(err, game.ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo on a new game, got %v", err)
	}
	if _, err := f.svc.Redo(f.ctx, f.gameID); !errors.Is(err, game.ErrNothingToRedo) {
		t.Fatalf("expected ErrNothingToRedo on a new game, got %v", err)
	}

	if _, err := f.pay(game.BankParty(), game.PlayerParty(alice.ID), 10); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	applied := f.snapshot()
	if _, err := f.svc.Undo(f.ctx, f.gameID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	affected, err := f.svc.Redo(f.ctx, f.gameID)
	if err != nil {
		t.Fatalf("redo: %v", err)
	}
	if affected.Log == nil || affected.Log.Action != game.ActionTransferMoney {
		t.Fatalf("redo should return the redone entry, got %+v", affected.Log)
	}
	if got := f.snapshot(); !reflect.DeepEqual(got, applied) {
		t.Fatalf("redo state %+v differs from applied %+v", got, applied)
	}
	if _, err := f.svc.Redo(f.ctx, f.gameID); !errors.Is(err, game.ErrNothingToRedo) {
		t.Fatalf("expected ErrNothingToRedo at the tail, got %v", err)
	}
}

func TestNewActionPrunesRedo(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	bob := f.player("Bob", 0)

	if _, err := f.pay(game.BankParty(), game.PlayerParty(alice.ID), 10); err != nil {
		t.Fatalf("transfer A: %v", err)
	}
	if _, err := f.svc.Undo(f.ctx, f.gameID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if _, err := f.pay(game.BankParty(), game.PlayerParty(bob.ID), 20); err != nil {
		t.Fatalf("transfer B: %v", err)
	}
	if _, err := f.svc.Redo(f.ctx, f.gameID); !errors.Is(err, game.ErrNothingToRedo) {
		t.Fatalf("expected pruned redo, got %v", err)
	}

	history, err := f.svc.History(f.ctx, f.gameID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history.Entries) != 2 {
		t.Fatalf("expected sentinel and B only, got %d entries", len(history.Entries))
	}
	b := history.Entries[1]
	if b.ReceivingPlayer == nil || *b.ReceivingPlayer != bob.ID || b.Seq != 2 {
		t.Fatalf("unexpected chain tail %+v", b)
	}
	if history.Cursor != b.ID {
		t.Fatalf("cursor should be on B")
	}
	if f.playerCash(alice.ID) != 0 || f.playerCash(bob.ID) != 20 {
		t.Fatalf("unexpected balances after prune")
	}
}

func TestUndoWalksBackToSentinel(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 100)
	prr := f.company("PRR", 0, 10)
	start := f.snapshot()

	f.mustBuy(game.PlayerParty(alice.ID), game.IPOParty(), prr.ID, 10, 3)
	if _, err := f.operate(prr.ID, 70, game.PayoutHalf); err != nil {
		t.Fatalf("operate: %v", err)
	}
	if _, err := f.pay(game.CompanyParty(prr.ID), game.PlayerParty(alice.ID), 5); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Undo(f.ctx, f.gameID); err != nil {
			t.Fatalf("undo %d: %v", i, err)
		}
	}
	if got := f.snapshot(); !reflect.DeepEqual(got, start) {
		t.Fatalf("state after undoing everything %+v differs from start %+v", got, start)
	}
	if _, err := f.svc.Undo(f.ctx, f.gameID); !errors.Is(err, game.ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo at the sentinel, got %v", err)
	}
}

func TestIdempotencyKey(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	in := game.TransferMoneyInput{
		GameID:         f.gameID,
		Sender:         game.BankParty(),
		Receiver:       game.PlayerParty(alice.ID),
		Amount:         10,
		IdempotencyKey: "k-1",
	}
	if _, err := f.svc.TransferMoney(f.ctx, in); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if _, err := f.svc.TransferMoney(f.ctx, in); !errors.Is(err, game.ErrDuplicateIdempotency) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if f.playerCash(alice.ID) != 10 {
		t.Fatalf("replay must not apply twice")
	}
}

func TestAddCompanyValidation(t *testing.T) {
	f := newFixture(t, 1000)
	ipo := int64(11)
	if _, err := f.svc.AddCompany(f.ctx, game.AddCompanyInput{GameID: f.gameID, Name: "PRR", ShareCount: 10, IPOShares: &ipo}); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("expected ipo bound error, got %v", err)
	}
	if _, err := f.svc.AddCompany(f.ctx, game.AddCompanyInput{GameID: f.gameID, Name: "PRR"}); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("expected share count error, got %v", err)
	}
	ipo = 6
	co, err := f.svc.AddCompany(f.ctx, game.AddCompanyInput{GameID: f.gameID, Name: "PRR", ShareCount: 10, IPOShares: &ipo})
	if err != nil || co.IPOShares != 6 || co.BankShares != 0 {
		t.Fatalf("unexpected company %+v err=%v", co, err)
	}
	if _, err := f.svc.AddCompany(f.ctx, game.AddCompanyInput{GameID: 999, Name: "B&O", ShareCount: 10}); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("expected unknown game, got %v", err)
	}
}

func TestOutboxEventsFollowActions(t *testing.T) {
	f := newFixture(t, 1000)
	alice := f.player("Alice", 0)
	if _, err := f.pay(game.BankParty(), game.PlayerParty(alice.ID), 10); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := f.svc.Undo(f.ctx, f.gameID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if _, err := f.svc.Redo(f.ctx, f.gameID); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if _, err := f.pay(game.PlayerParty(alice.ID), game.PlayerParty(alice.ID), 1); err == nil {
		t.Fatalf("expected failure")
	}

	events, err := f.store.PendingEvents(f.ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	var kinds []game.EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []game.EventKind{game.EventAction, game.EventUndo, game.EventRedo}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
}
