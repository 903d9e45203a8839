package game

import "context"

// Affected lists the entities an operation changed, loaded after the last
// mutation. Empty keys are omitted; renderers branch on their presence.
type Affected struct {
	Game      *Game     `json:"game,omitempty"`
	Players   []Player  `json:"players,omitempty"`
	Companies []Company `json:"companies,omitempty"`
	Shares    []Share   `json:"shares,omitempty"`
	Log       *LogEntry `json:"log,omitempty"`
}

// changes collects touched ids in first-touch order without duplicates.
type changes struct {
	gameID    int64
	bank      bool
	players   []int64
	companies []int64
	shares    []int64
}

func newChanges(gameID int64) *changes {
	return &changes{gameID: gameID}
}

func addID(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func (c *changes) party(p Party) {
	switch p.Money().Kind {
	case KindBank:
		c.bank = true
	case KindPlayer:
		c.players = addID(c.players, p.ID)
	case KindCompany:
		c.companies = addID(c.companies, p.ID)
	}
}

func (c *changes) share(id int64) {
	c.shares = addID(c.shares, id)
}

func (c *changes) merge(o *changes) {
	c.bank = c.bank || o.bank
	for _, id := range o.players {
		c.players = addID(c.players, id)
	}
	for _, id := range o.companies {
		c.companies = addID(c.companies, id)
	}
	for _, id := range o.shares {
		c.shares = addID(c.shares, id)
	}
}

func (c *changes) load(ctx context.Context, tx Tx) (Affected, error) {
	var out Affected
	if c.bank {
		g, err := tx.Game(ctx, c.gameID)
		if err != nil {
			return out, err
		}
		out.Game = &g
	}
	for _, id := range c.players {
		p, err := tx.Player(ctx, id)
		if err != nil {
			return out, err
		}
		out.Players = append(out.Players, p)
	}
	for _, id := range c.companies {
		co, err := tx.Company(ctx, id)
		if err != nil {
			return out, err
		}
		out.Companies = append(out.Companies, co)
	}
	for _, id := range c.shares {
		s, err := tx.ShareByID(ctx, id)
		if err != nil {
			return out, err
		}
		out.Shares = append(out.Shares, s)
	}
	return out, nil
}
