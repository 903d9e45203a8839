package game

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxNameLength = 40

	NewGameText = "New game started"
)

var (
	ErrSameEntity              = errors.New("sender and receiver are the same party")
	ErrInvalidShareTransaction = errors.New("invalid share transaction")
	ErrDifferentGame           = fmt.Errorf("%w: entities belong to different games", ErrInvalidShareTransaction)
	ErrNoShares                = errors.New("company has no shares")
	ErrNothingToUndo           = errors.New("nothing to undo")
	ErrNothingToRedo           = errors.New("nothing to redo")
	ErrNotFound                = errors.New("not found")
	ErrNameTaken               = errors.New("name already taken in this game")
	ErrInvalidInput            = errors.New("invalid input")
	ErrDuplicateIdempotency    = errors.New("duplicate idempotency key")
	ErrTxConflict              = errors.New("transaction conflict, try again")
)

// errNoSharesAvailable is the user-facing availability rejection.
var errNoSharesAvailable = fmt.Errorf("%w: no shares available", ErrInvalidShareTransaction)

// crossGameError rejects a cash movement involving a party from another
// game. It matches ErrDifferentGame under errors.Is.
type crossGameError struct {
	party  Party
	gameID int64
}

func (e crossGameError) Error() string {
	return fmt.Sprintf("cannot move cash: %s is not part of game %d", e.party, e.gameID)
}

func (e crossGameError) Unwrap() error { return ErrDifferentGame }

type Game struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Cash      int64     `json:"cash"`
	LogCursor int64     `json:"log_cursor"`
	CreatedAt time.Time `json:"created_at"`
}

type Player struct {
	ID     int64  `json:"id"`
	GameID int64  `json:"game_id"`
	Name   string `json:"name"`
	Cash   int64  `json:"cash"`
}

type Company struct {
	ID         int64  `json:"id"`
	GameID     int64  `json:"game_id"`
	Name       string `json:"name"`
	Cash       int64  `json:"cash"`
	ShareCount int64  `json:"share_count"`
	IPOShares  int64  `json:"ipo_shares"`
	BankShares int64  `json:"bank_shares"`
}

// Share is a holding of CompanyID owned by either a player or a company.
// Exactly one of PlayerID and OwnerCompanyID is set.
type Share struct {
	ID             int64 `json:"id"`
	PlayerID       int64 `json:"player_id,omitempty"`
	OwnerCompanyID int64 `json:"owner_company_id,omitempty"`
	CompanyID      int64 `json:"company_id"`
	Shares         int64 `json:"shares"`
}

// Owner returns the party holding s.
func (s Share) Owner() Party {
	if s.PlayerID != 0 {
		return PlayerParty(s.PlayerID)
	}
	return CompanyParty(s.OwnerCompanyID)
}

func newShare(owner Party, companyID int64) Share {
	s := Share{CompanyID: companyID}
	if owner.Kind == KindPlayer {
		s.PlayerID = owner.ID
	} else {
		s.OwnerCompanyID = owner.ID
	}
	return s
}

// Cursor is the position of "now" in a game's log chain.
type Cursor struct {
	GameID  int64 `json:"game_id"`
	EntryID int64 `json:"entry_id"`
	Seq     int64 `json:"seq"`
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrInvalidInput, MaxNameLength)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: name contains control characters", ErrInvalidInput)
		}
	}
	return name, nil
}
