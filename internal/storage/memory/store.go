// Package memory is an in-memory game.Store. Transactions run one at a time
// on a copy of the data that replaces the live copy only on success.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"trainbank/internal/game"
)

type data struct {
	nextID    int64
	games     map[int64]game.Game
	players   map[int64]game.Player
	companies map[int64]game.Company
	shares    map[int64]game.Share
	entries   map[int64]game.LogEntry
	idem      map[string]string
	events    []game.OutboxEvent
}

func newData() *data {
	return &data{
		games:     make(map[int64]game.Game),
		players:   make(map[int64]game.Player),
		companies: make(map[int64]game.Company),
		shares:    make(map[int64]game.Share),
		entries:   make(map[int64]game.LogEntry),
		idem:      make(map[string]string),
	}
}

func (d *data) clone() *data {
	return &data{
		nextID:    d.nextID,
		games:     maps.Clone(d.games),
		players:   maps.Clone(d.players),
		companies: maps.Clone(d.companies),
		shares:    maps.Clone(d.shares),
		entries:   maps.Clone(d.entries),
		idem:      maps.Clone(d.idem),
		events:    slices.Clone(d.events),
	}
}

type Store struct {
	mu   sync.Mutex
	data *data
	now  func() time.Time
}

func New() *Store {
	return &Store{data: newData(), now: time.Now}
}

func (s *Store) WithinTx(ctx context.Context, fn func(game.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&tx{d: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) PendingEvents(ctx context.Context, limit int) ([]game.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []game.OutboxEvent
	for _, ev := range s.data.events {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) MarkEventsPublished(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Published events are dropped so later transactions stop copying them.
	s.data.events = slices.DeleteFunc(s.data.events, func(ev game.OutboxEvent) bool {
		return slices.Contains(ids, ev.ID)
	})
	return nil
}

type tx struct {
	d   *data
	now func() time.Time
}

func (t *tx) id() int64 {
	t.d.nextID++
	return t.d.nextID
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, game.ErrNotFound)
}

func (t *tx) CreateGame(ctx context.Context, g game.Game) (game.Game, error) {
	g.ID = t.id()
	g.CreatedAt = t.now().UTC()
	t.d.games[g.ID] = g
	return g, nil
}

func (t *tx) LockGame(ctx context.Context, id int64) (game.Game, error) {
	return t.Game(ctx, id)
}

func (t *tx) Game(ctx context.Context, id int64) (game.Game, error) {
	g, ok := t.d.games[id]
	if !ok {
		return game.Game{}, notFound("game", id)
	}
	return g, nil
}

func (t *tx) SaveGame(ctx context.Context, g game.Game) error {
	cur, ok := t.d.games[g.ID]
	if !ok {
		return notFound("game", g.ID)
	}
	cur.Name = g.Name
	cur.Cash = g.Cash
	t.d.games[g.ID] = cur
	return nil
}

func (t *tx) SetLogCursor(ctx context.Context, gameID, entryID int64) error {
	g, ok := t.d.games[gameID]
	if !ok {
		return notFound("game", gameID)
	}
	g.LogCursor = entryID
	t.d.games[gameID] = g
	return nil
}

func (t *tx) CreatePlayer(ctx context.Context, p game.Player) (game.Player, error) {
	for _, other := range t.d.players {
		if other.GameID == p.GameID && other.Name == p.Name {
			return game.Player{}, fmt.Errorf("player %q: %w", p.Name, game.ErrNameTaken)
		}
	}
	p.ID = t.id()
	t.d.players[p.ID] = p
	return p, nil
}

func (t *tx) Player(ctx context.Context, id int64) (game.Player, error) {
	p, ok := t.d.players[id]
	if !ok {
		return game.Player{}, notFound("player", id)
	}
	return p, nil
}

func (t *tx) SavePlayer(ctx context.Context, p game.Player) error {
	if _, ok := t.d.players[p.ID]; !ok {
		return notFound("player", p.ID)
	}
	t.d.players[p.ID] = p
	return nil
}

func (t *tx) PlayersByGame(ctx context.Context, gameID int64) ([]game.Player, error) {
	return collect(t.d.players, func(p game.Player) bool { return p.GameID == gameID }, func(p game.Player) int64 { return p.ID }), nil
}

func (t *tx) CreateCompany(ctx context.Context, c game.Company) (game.Company, error) {
	for _, other := range t.d.companies {
		if other.GameID == c.GameID && other.Name == c.Name {
			return game.Company{}, fmt.Errorf("company %q: %w", c.Name, game.ErrNameTaken)
		}
	}
	c.ID = t.id()
	t.d.companies[c.ID] = c
	return c, nil
}

func (t *tx) Company(ctx context.Context, id int64) (game.Company, error) {
	c, ok := t.d.companies[id]
	if !ok {
		return game.Company{}, notFound("company", id)
	}
	return c, nil
}

func (t *tx) SaveCompany(ctx context.Context, c game.Company) error {
	if _, ok := t.d.companies[c.ID]; !ok {
		return notFound("company", c.ID)
	}
	t.d.companies[c.ID] = c
	return nil
}

func (t *tx) CompaniesByGame(ctx context.Context, gameID int64) ([]game.Company, error) {
	return collect(t.d.companies, func(c game.Company) bool { return c.GameID == gameID }, func(c game.Company) int64 { return c.ID }), nil
}

func (t *tx) Share(ctx context.Context, owner game.Party, companyID int64) (game.Share, bool, error) {
	for _, s := range t.d.shares {
		if s.CompanyID == companyID && s.Owner().Equal(owner) {
			return s, true, nil
		}
	}
	return game.Share{}, false, nil
}

func (t *tx) ShareByID(ctx context.Context, id int64) (game.Share, error) {
	s, ok := t.d.shares[id]
	if !ok {
		return game.Share{}, notFound("share", id)
	}
	return s, nil
}

func (t *tx) CreateShare(ctx context.Context, s game.Share) (game.Share, error) {
	if _, ok, _ := t.Share(ctx, s.Owner(), s.CompanyID); ok {
		return game.Share{}, fmt.Errorf("share of company %d for %s already exists", s.CompanyID, s.Owner())
	}
	s.ID = t.id()
	t.d.shares[s.ID] = s
	return s, nil
}

func (t *tx) SaveShare(ctx context.Context, s game.Share) error {
	if _, ok := t.d.shares[s.ID]; !ok {
		return notFound("share", s.ID)
	}
	t.d.shares[s.ID] = s
	return nil
}

func (t *tx) SharesOfCompany(ctx context.Context, companyID int64) ([]game.Share, error) {
	return collect(t.d.shares, func(s game.Share) bool { return s.CompanyID == companyID }, func(s game.Share) int64 { return s.ID }), nil
}

func (t *tx) SharesByGame(ctx context.Context, gameID int64) ([]game.Share, error) {
	return collect(t.d.shares, func(s game.Share) bool {
		return t.d.companies[s.CompanyID].GameID == gameID
	}, func(s game.Share) int64 { return s.ID }), nil
}

func (t *tx) InsertLogEntry(ctx context.Context, e game.LogEntry) (game.LogEntry, error) {
	if _, ok := t.d.games[e.GameID]; !ok {
		return game.LogEntry{}, notFound("game", e.GameID)
	}
	e.ID = t.id()
	e.CreatedAt = t.now().UTC()
	t.d.entries[e.ID] = e
	return e, nil
}

func (t *tx) LogEntry(ctx context.Context, id int64) (game.LogEntry, error) {
	e, ok := t.d.entries[id]
	if !ok {
		return game.LogEntry{}, notFound("log entry", id)
	}
	return e, nil
}

func (t *tx) LogEntries(ctx context.Context, gameID int64) ([]game.LogEntry, error) {
	return collect(t.d.entries, func(e game.LogEntry) bool { return e.GameID == gameID }, func(e game.LogEntry) int64 { return e.Seq }), nil
}

func (t *tx) LogEntryBefore(ctx context.Context, gameID, seq int64) (game.LogEntry, bool, error) {
	var best game.LogEntry
	found := false
	for _, e := range t.d.entries {
		if e.GameID == gameID && e.Seq < seq && (!found || e.Seq > best.Seq) {
			best, found = e, true
		}
	}
	return best, found, nil
}

func (t *tx) LogEntryAfter(ctx context.Context, gameID, seq int64) (game.LogEntry, bool, error) {
	var best game.LogEntry
	found := false
	for _, e := range t.d.entries {
		if e.GameID == gameID && e.Seq > seq && (!found || e.Seq < best.Seq) {
			best, found = e, true
		}
	}
	return best, found, nil
}

func (t *tx) DeleteLogEntriesAfter(ctx context.Context, gameID, seq int64) error {
	maps.DeleteFunc(t.d.entries, func(_ int64, e game.LogEntry) bool {
		return e.GameID == gameID && e.Seq > seq
	})
	return nil
}

func (t *tx) ClaimIdempotencyKey(ctx context.Context, gameID int64, key, action string) error {
	k := fmt.Sprintf("%d/%s", gameID, key)
	if _, ok := t.d.idem[k]; ok {
		return game.ErrDuplicateIdempotency
	}
	t.d.idem[k] = action
	return nil
}

func (t *tx) EnqueueEvent(ctx context.Context, ev game.OutboxEvent) error {
	ev.ID = t.id()
	ev.CreatedAt = t.now().UTC()
	t.d.events = append(t.d.events, ev)
	return nil
}

func collect[T any](m map[int64]T, keep func(T) bool, key func(T) int64) []T {
	var out []T
	for _, v := range m {
		if keep(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b T) int {
		return cmpInt(key(a), key(b))
	})
	return out
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

var (
	_ game.Store = (*Store)(nil)
	_ game.Tx    = (*tx)(nil)
)
