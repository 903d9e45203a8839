package game

import (
	"context"
	"fmt"
	"time"
)

type Action string

const (
	ActionNone          Action = ""
	ActionTransferMoney Action = "transfer_money"
	ActionTransferShare Action = "transfer_share"
	ActionOperate       Action = "operate"
)

type PayoutMode string

const (
	PayoutFull     PayoutMode = "full"
	PayoutHalf     PayoutMode = "half"
	PayoutWithhold PayoutMode = "withhold"
)

func ParsePayoutMode(v string) (PayoutMode, error) {
	switch m := PayoutMode(v); m {
	case PayoutFull, PayoutHalf, PayoutWithhold:
		return m, nil
	default:
		return "", fmt.Errorf("%w: mode must be full, half or withhold", ErrInvalidInput)
	}
}

// MoneyTransfer moves Amount from Sender to Receiver.
type MoneyTransfer struct {
	Sender   Party
	Receiver Party
	Amount   int64
}

// ShareTrade moves Shares of CompanyID from Source to Buyer at Price each.
type ShareTrade struct {
	Buyer     Party
	Source    Party
	CompanyID int64
	Price     int64
	Shares    int64
}

// Dividend is one company operation.
type Dividend struct {
	CompanyID int64
	Revenue   int64
	Mode      PayoutMode
}

// LogEntry is one immutable record of a game's history. The nullable
// references carry only the fields of its Action.
type LogEntry struct {
	ID               int64      `json:"id"`
	GameID           int64      `json:"game_id"`
	Seq              int64      `json:"seq"`
	Action           Action     `json:"action,omitempty"`
	Text             string     `json:"text,omitempty"`
	Amount           int64      `json:"amount"`
	ActingPlayer     *int64     `json:"acting_player,omitempty"`
	ActingCompany    *int64     `json:"acting_company,omitempty"`
	ReceivingPlayer  *int64     `json:"receiving_player,omitempty"`
	ReceivingCompany *int64     `json:"receiving_company,omitempty"`
	Shares           int64      `json:"shares"`
	Price            int64      `json:"price"`
	Buyer            string     `json:"buyer,omitempty"`
	PlayerBuyer      *int64     `json:"player_buyer,omitempty"`
	CompanyBuyer     *int64     `json:"company_buyer,omitempty"`
	Source           string     `json:"source,omitempty"`
	PlayerSource     *int64     `json:"player_source,omitempty"`
	CompanySource    *int64     `json:"company_source,omitempty"`
	Company          *int64     `json:"company,omitempty"`
	Mode             PayoutMode `json:"mode,omitempty"`
	Revenue          int64      `json:"revenue"`
	CreatedAt        time.Time  `json:"created_at"`
}

func ref(id int64) *int64 { return &id }

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func NewSentinelEntry(gameID int64) LogEntry {
	return LogEntry{GameID: gameID, Text: NewGameText}
}

func NewTransferEntry(gameID int64, t MoneyTransfer, text string) LogEntry {
	e := LogEntry{GameID: gameID, Action: ActionTransferMoney, Text: text, Amount: t.Amount}
	switch s := t.Sender.Money(); s.Kind {
	case KindPlayer:
		e.ActingPlayer = ref(s.ID)
	case KindCompany:
		e.ActingCompany = ref(s.ID)
	}
	switch r := t.Receiver.Money(); r.Kind {
	case KindPlayer:
		e.ReceivingPlayer = ref(r.ID)
	case KindCompany:
		e.ReceivingCompany = ref(r.ID)
	}
	return e
}

func NewShareEntry(gameID int64, t ShareTrade, text string) LogEntry {
	e := LogEntry{
		GameID:  gameID,
		Action:  ActionTransferShare,
		Text:    text,
		Company: ref(t.CompanyID),
		Price:   t.Price,
		Shares:  t.Shares,
		Buyer:   t.Buyer.Tag(),
		Source:  t.Source.Tag(),
	}
	switch t.Buyer.Kind {
	case KindPlayer:
		e.PlayerBuyer = ref(t.Buyer.ID)
	case KindCompany:
		e.CompanyBuyer = ref(t.Buyer.ID)
		e.ActingCompany = ref(t.Buyer.ID)
	}
	switch t.Source.Kind {
	case KindPlayer:
		e.PlayerSource = ref(t.Source.ID)
	case KindCompany:
		e.CompanySource = ref(t.Source.ID)
	}
	return e
}

func NewOperateEntry(gameID int64, d Dividend, text string) LogEntry {
	return LogEntry{
		GameID:  gameID,
		Action:  ActionOperate,
		Text:    text,
		Company: ref(d.CompanyID),
		Mode:    d.Mode,
		Revenue: d.Revenue,
	}
}

// Transfer decodes a transfer_money entry.
func (e LogEntry) Transfer() MoneyTransfer {
	t := MoneyTransfer{Sender: BankParty(), Receiver: BankParty(), Amount: e.Amount}
	if e.ActingPlayer != nil {
		t.Sender = PlayerParty(*e.ActingPlayer)
	} else if e.ActingCompany != nil {
		t.Sender = CompanyParty(*e.ActingCompany)
	}
	if e.ReceivingPlayer != nil {
		t.Receiver = PlayerParty(*e.ReceivingPlayer)
	} else if e.ReceivingCompany != nil {
		t.Receiver = CompanyParty(*e.ReceivingCompany)
	}
	return t
}

// Trade decodes a transfer_share entry.
func (e LogEntry) Trade() (ShareTrade, error) {
	buyer, err := ParseShareParty(e.Buyer, deref(firstRef(e.PlayerBuyer, e.CompanyBuyer)))
	if err != nil {
		return ShareTrade{}, fmt.Errorf("log entry %d buyer: %w", e.ID, err)
	}
	source, err := ParseShareParty(e.Source, deref(firstRef(e.PlayerSource, e.CompanySource)))
	if err != nil {
		return ShareTrade{}, fmt.Errorf("log entry %d source: %w", e.ID, err)
	}
	return ShareTrade{
		Buyer:     buyer,
		Source:    source,
		CompanyID: deref(e.Company),
		Price:     e.Price,
		Shares:    e.Shares,
	}, nil
}

// Dividend decodes an operate entry.
func (e LogEntry) Dividend() Dividend {
	return Dividend{CompanyID: deref(e.Company), Revenue: e.Revenue, Mode: e.Mode}
}

func firstRef(refs ...*int64) *int64 {
	for _, r := range refs {
		if r != nil {
			return r
		}
	}
	return nil
}

// Record appends e after the cursor, discarding every entry that followed
// the cursor, and returns the cursor moved onto the new entry. It does not
// apply the action itself; callers persist the returned cursor.
func Record(ctx context.Context, tx Tx, cur Cursor, e LogEntry) (Cursor, LogEntry, error) {
	if e.GameID != cur.GameID {
		return cur, e, fmt.Errorf("record entry for game %d at cursor of game %d", e.GameID, cur.GameID)
	}
	if err := tx.DeleteLogEntriesAfter(ctx, cur.GameID, cur.Seq); err != nil {
		return cur, e, fmt.Errorf("prune redo history: %w", err)
	}
	e.Seq = cur.Seq + 1
	saved, err := tx.InsertLogEntry(ctx, e)
	if err != nil {
		return cur, e, fmt.Errorf("insert log entry: %w", err)
	}
	return Cursor{GameID: cur.GameID, EntryID: saved.ID, Seq: saved.Seq}, saved, nil
}
