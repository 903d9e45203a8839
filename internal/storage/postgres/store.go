// Package postgres is the PostgreSQL game.Store. Transactions run at
// serializable isolation and are retried on serialization failures.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trainbank/internal/game"
)

//go:embed schema.sql
var schemaSQL string

const (
	maxAttempts    = 8
	firstRetryWait = 75 * time.Millisecond
	maxRetryWait   = 1200 * time.Millisecond
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the ledger schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(game.Tx) error) error {
	retryDelay := firstRetryWait
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxRetryWait {
			retryDelay *= 2
		}
	}
	return game.ErrTxConflict
}

func (s *Store) runTx(ctx context.Context, fn func(game.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) PendingEvents(ctx context.Context, limit int) ([]game.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, game_id, kind, payload, created_at
		FROM ledger.outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.OutboxEvent
	for rows.Next() {
		var ev game.OutboxEvent
		var kind string
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.GameID, &kind, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = game.EventKind(kind)
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) MarkEventsPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE ledger.outbox
		SET published_at = now()
		WHERE id = ANY($1) AND published_at IS NULL
	`, ids)
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, game.ErrNotFound)
}

func (t *pgTx) CreateGame(ctx context.Context, g game.Game) (game.Game, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger.games (name, cash)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, g.Name, g.Cash).Scan(&g.ID, &g.CreatedAt)
	return g, err
}

func (t *pgTx) LockGame(ctx context.Context, id int64) (game.Game, error) {
	return t.game(ctx, id, "FOR UPDATE")
}

func (t *pgTx) Game(ctx context.Context, id int64) (game.Game, error) {
	return t.game(ctx, id, "")
}

func (t *pgTx) game(ctx context.Context, id int64, lock string) (game.Game, error) {
	var g game.Game
	var cursor *int64
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, cash, log_cursor, created_at
		FROM ledger.games
		WHERE id = $1
	`+lock, id).Scan(&g.ID, &g.Name, &g.Cash, &cursor, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return g, notFound("game", id)
	}
	if cursor != nil {
		g.LogCursor = *cursor
	}
	return g, err
}

func (t *pgTx) SaveGame(ctx context.Context, g game.Game) error {
	return t.update(ctx, "game", g.ID, `
		UPDATE ledger.games SET name = $2, cash = $3 WHERE id = $1
	`, g.ID, g.Name, g.Cash)
}

func (t *pgTx) SetLogCursor(ctx context.Context, gameID, entryID int64) error {
	return t.update(ctx, "game", gameID, `
		UPDATE ledger.games SET log_cursor = $2 WHERE id = $1
	`, gameID, entryID)
}

func (t *pgTx) CreatePlayer(ctx context.Context, p game.Player) (game.Player, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger.players (game_id, name, cash)
		VALUES ($1, $2, $3)
		RETURNING id
	`, p.GameID, p.Name, p.Cash).Scan(&p.ID)
	if isUniqueViolation(err) {
		return p, fmt.Errorf("player %q: %w", p.Name, game.ErrNameTaken)
	}
	return p, err
}

func (t *pgTx) Player(ctx context.Context, id int64) (game.Player, error) {
	var p game.Player
	err := t.tx.QueryRow(ctx, `
		SELECT id, game_id, name, cash FROM ledger.players WHERE id = $1
	`, id).Scan(&p.ID, &p.GameID, &p.Name, &p.Cash)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, notFound("player", id)
	}
	return p, err
}

func (t *pgTx) SavePlayer(ctx context.Context, p game.Player) error {
	return t.update(ctx, "player", p.ID, `
		UPDATE ledger.players SET name = $2, cash = $3 WHERE id = $1
	`, p.ID, p.Name, p.Cash)
}

func (t *pgTx) PlayersByGame(ctx context.Context, gameID int64) ([]game.Player, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, game_id, name, cash FROM ledger.players WHERE game_id = $1 ORDER BY id
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Player
	for rows.Next() {
		var p game.Player
		if err := rows.Scan(&p.ID, &p.GameID, &p.Name, &p.Cash); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const companyColumns = `id, game_id, name, cash, share_count, ipo_shares, bank_shares`

func scanCompany(row pgx.Row, c *game.Company) error {
	return row.Scan(&c.ID, &c.GameID, &c.Name, &c.Cash, &c.ShareCount, &c.IPOShares, &c.BankShares)
}

func (t *pgTx) CreateCompany(ctx context.Context, c game.Company) (game.Company, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger.companies (game_id, name, cash, share_count, ipo_shares, bank_shares)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, c.GameID, c.Name, c.Cash, c.ShareCount, c.IPOShares, c.BankShares).Scan(&c.ID)
	if isUniqueViolation(err) {
		return c, fmt.Errorf("company %q: %w", c.Name, game.ErrNameTaken)
	}
	return c, err
}

func (t *pgTx) Company(ctx context.Context, id int64) (game.Company, error) {
	var c game.Company
	err := scanCompany(t.tx.QueryRow(ctx, `SELECT `+companyColumns+` FROM ledger.companies WHERE id = $1`, id), &c)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, notFound("company", id)
	}
	return c, err
}

func (t *pgTx) SaveCompany(ctx context.Context, c game.Company) error {
	return t.update(ctx, "company", c.ID, `
		UPDATE ledger.companies
		SET name = $2, cash = $3, share_count = $4, ipo_shares = $5, bank_shares = $6
		WHERE id = $1
	`, c.ID, c.Name, c.Cash, c.ShareCount, c.IPOShares, c.BankShares)
}

func (t *pgTx) CompaniesByGame(ctx context.Context, gameID int64) ([]game.Company, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+companyColumns+` FROM ledger.companies WHERE game_id = $1 ORDER BY id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Company
	for rows.Next() {
		var c game.Company
		if err := scanCompany(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const shareColumns = `id, COALESCE(player_id, 0), COALESCE(owner_company_id, 0), company_id, shares`

func scanShare(row pgx.Row, s *game.Share) error {
	return row.Scan(&s.ID, &s.PlayerID, &s.OwnerCompanyID, &s.CompanyID, &s.Shares)
}

func (t *pgTx) Share(ctx context.Context, owner game.Party, companyID int64) (game.Share, bool, error) {
	column := "owner_company_id"
	if owner.Kind == game.KindPlayer {
		column = "player_id"
	}
	var s game.Share
	err := scanShare(t.tx.QueryRow(ctx, `
		SELECT `+shareColumns+`
		FROM ledger.shares
		WHERE `+column+` = $1 AND company_id = $2
	`, owner.ID, companyID), &s)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	return s, true, nil
}

func (t *pgTx) ShareByID(ctx context.Context, id int64) (game.Share, error) {
	var s game.Share
	err := scanShare(t.tx.QueryRow(ctx, `SELECT `+shareColumns+` FROM ledger.shares WHERE id = $1`, id), &s)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, notFound("share", id)
	}
	return s, err
}

func (t *pgTx) CreateShare(ctx context.Context, s game.Share) (game.Share, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger.shares (player_id, owner_company_id, company_id, shares)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, nullable(s.PlayerID), nullable(s.OwnerCompanyID), s.CompanyID, s.Shares).Scan(&s.ID)
	return s, err
}

func (t *pgTx) SaveShare(ctx context.Context, s game.Share) error {
	return t.update(ctx, "share", s.ID, `UPDATE ledger.shares SET shares = $2 WHERE id = $1`, s.ID, s.Shares)
}

func (t *pgTx) SharesOfCompany(ctx context.Context, companyID int64) ([]game.Share, error) {
	return t.shares(ctx, `SELECT `+shareColumns+` FROM ledger.shares WHERE company_id = $1 ORDER BY id`, companyID)
}

func (t *pgTx) SharesByGame(ctx context.Context, gameID int64) ([]game.Share, error) {
	return t.shares(ctx, `
		SELECT s.id, COALESCE(s.player_id, 0), COALESCE(s.owner_company_id, 0), s.company_id, s.shares
		FROM ledger.shares s
		JOIN ledger.companies c ON c.id = s.company_id
		WHERE c.game_id = $1
		ORDER BY s.id
	`, gameID)
}

func (t *pgTx) shares(ctx context.Context, query string, arg int64) ([]game.Share, error) {
	rows, err := t.tx.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.Share
	for rows.Next() {
		var s game.Share
		if err := scanShare(rows, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const entryColumns = `id, game_id, seq, action, text, amount, acting_player, acting_company,
	receiving_player, receiving_company, shares, price, buyer, player_buyer, company_buyer,
	source, player_source, company_source, company, mode, revenue, created_at`

func scanEntry(row pgx.Row, e *game.LogEntry) error {
	var action, mode string
	err := row.Scan(&e.ID, &e.GameID, &e.Seq, &action, &e.Text, &e.Amount,
		&e.ActingPlayer, &e.ActingCompany, &e.ReceivingPlayer, &e.ReceivingCompany,
		&e.Shares, &e.Price, &e.Buyer, &e.PlayerBuyer, &e.CompanyBuyer,
		&e.Source, &e.PlayerSource, &e.CompanySource, &e.Company, &mode, &e.Revenue, &e.CreatedAt)
	e.Action = game.Action(action)
	e.Mode = game.PayoutMode(mode)
	return err
}

func (t *pgTx) InsertLogEntry(ctx context.Context, e game.LogEntry) (game.LogEntry, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger.log_entries (
			game_id, seq, action, text, amount, acting_player, acting_company,
			receiving_player, receiving_company, shares, price, buyer, player_buyer, company_buyer,
			source, player_source, company_source, company, mode, revenue
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at
	`, e.GameID, e.Seq, string(e.Action), e.Text, e.Amount, e.ActingPlayer, e.ActingCompany,
		e.ReceivingPlayer, e.ReceivingCompany, e.Shares, e.Price, e.Buyer, e.PlayerBuyer, e.CompanyBuyer,
		e.Source, e.PlayerSource, e.CompanySource, e.Company, string(e.Mode), e.Revenue,
	).Scan(&e.ID, &e.CreatedAt)
	return e, err
}

func (t *pgTx) LogEntry(ctx context.Context, id int64) (game.LogEntry, error) {
	var e game.LogEntry
	err := scanEntry(t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger.log_entries WHERE id = $1`, id), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, notFound("log entry", id)
	}
	return e, err
}

func (t *pgTx) LogEntries(ctx context.Context, gameID int64) ([]game.LogEntry, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+entryColumns+` FROM ledger.log_entries WHERE game_id = $1 ORDER BY seq`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []game.LogEntry
	for rows.Next() {
		var e game.LogEntry
		if err := scanEntry(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) LogEntryBefore(ctx context.Context, gameID, seq int64) (game.LogEntry, bool, error) {
	return t.neighbour(ctx, `
		SELECT `+entryColumns+` FROM ledger.log_entries
		WHERE game_id = $1 AND seq < $2
		ORDER BY seq DESC
		LIMIT 1
	`, gameID, seq)
}

func (t *pgTx) LogEntryAfter(ctx context.Context, gameID, seq int64) (game.LogEntry, bool, error) {
	return t.neighbour(ctx, `
		SELECT `+entryColumns+` FROM ledger.log_entries
		WHERE game_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT 1
	`, gameID, seq)
}

func (t *pgTx) neighbour(ctx context.Context, query string, gameID, seq int64) (game.LogEntry, bool, error) {
	var e game.LogEntry
	err := scanEntry(t.tx.QueryRow(ctx, query, gameID, seq), &e)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.LogEntry{}, false, nil
	}
	if err != nil {
		return game.LogEntry{}, false, err
	}
	return e, true, nil
}

func (t *pgTx) DeleteLogEntriesAfter(ctx context.Context, gameID, seq int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM ledger.log_entries WHERE game_id = $1 AND seq > $2`, gameID, seq)
	return err
}

func (t *pgTx) ClaimIdempotencyKey(ctx context.Context, gameID int64, key, action string) error {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO ledger.idempotency_keys (game_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (game_id, key) DO NOTHING
	`, gameID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrDuplicateIdempotency
	}
	return nil
}

func (t *pgTx) EnqueueEvent(ctx context.Context, ev game.OutboxEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger.outbox (game_id, kind, payload)
		VALUES ($1, $2, $3::jsonb)
	`, ev.GameID, string(ev.Kind), string(ev.Payload))
	return err
}

func (t *pgTx) update(ctx context.Context, kind string, id int64, query string, args ...any) error {
	cmd, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return notFound(kind, id)
	}
	return nil
}

func nullable(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	_ game.Store = (*Store)(nil)
	_ game.Tx    = (*pgTx)(nil)
)
