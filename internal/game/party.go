package game

import (
	"fmt"
	"strings"
)

// PartyKind enumerates who can hold cash or shares in a game.
type PartyKind uint8

const (
	// KindBank is the game's cash reserve.
	KindBank PartyKind = iota + 1
	// KindIPO is the pool of never-issued shares of a company.
	KindIPO
	// KindBankPool holds shares sold back to the bank.
	KindBankPool
	KindPlayer
	KindCompany
)

// Tags used for buyer/source roles in share transactions.
const (
	TagIPO     = "ipo"
	TagBank    = "bank"
	TagPlayer  = "player"
	TagCompany = "company"
)

// Party is a counterpart of a money transfer or share transaction. ID is
// only meaningful for players and companies.
type Party struct {
	Kind PartyKind `json:"kind"`
	ID   int64     `json:"id,omitempty"`
}

func BankParty() Party { return Party{Kind: KindBank} }
func IPOParty() Party { return Party{Kind: KindIPO} }
func PoolParty() Party { return Party{Kind: KindBankPool} }
func PlayerParty(id int64) Party { return Party{Kind: KindPlayer, ID: id} }
func CompanyParty(id int64) Party { return Party{Kind: KindCompany, ID: id} }
func (p Party) IsEntity() bool { return p.Kind == KindPlayer || p.Kind == KindCompany }
func (p Party) IsPool() bool { return p.Kind == KindIPO || p.Kind == KindBankPool }
func (p Party) Equal(o Party) bool { return p.Kind == o.Kind && p.ID == o.ID }

// Money resolves the party that pays or receives cash. Share pools have no
// cash of their own, so money flows to and from the bank instead.
func (p Party) Money() Party {
	if p.IsPool() {
		return BankParty()
	}
	return p
}

// Tag returns the share-role tag of p. The cash reserve has no tag.
func (p Party) Tag() string {
	switch p.Kind {
	case KindIPO:
		return TagIPO
	case KindBankPool:
		return TagBank
	case KindPlayer:
		return TagPlayer
	case KindCompany:
		return TagCompany
	default:
		return ""
	}
}

func (p Party) String() string {
	switch p.Kind {
	case KindBank:
		return "bank"
	case KindIPO:
		return "ipo"
	case KindBankPool:
		return "bank pool"
	case KindPlayer:
		return fmt.Sprintf("player %d", p.ID)
	case KindCompany:
		return fmt.Sprintf("company %d", p.ID)
	default:
		return "unknown party"
	}
}

// ParseShareParty builds a buyer or source party from its tag.
func ParseShareParty(tag string, id int64) (Party, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case TagIPO:
		return IPOParty(), nil
	case TagBank:
		return PoolParty(), nil
	case TagPlayer:
		if id <= 0 {
			return Party{}, fmt.Errorf("%w: player id is required", ErrInvalidInput)
		}
		return PlayerParty(id), nil
	case TagCompany:
		if id <= 0 {
			return Party{}, fmt.Errorf("%w: company id is required", ErrInvalidInput)
		}
		return CompanyParty(id), nil
	default:
		return Party{}, fmt.Errorf("%w: unknown party type %q", ErrInvalidInput, tag)
	}
}

// ParseMoneyParty builds a transfer participant. "bank" here is the cash
// reserve, not the share pool.
func ParseMoneyParty(tag string, id int64) (Party, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case TagBank, "":
		return BankParty(), nil
	case TagPlayer, TagCompany:
		return ParseShareParty(tag, id)
	default:
		return Party{}, fmt.Errorf("%w: unknown party type %q", ErrInvalidInput, tag)
	}
}
