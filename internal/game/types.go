package game

type CreateGameInput struct {
	Name     string
	BankCash int64
}

type AddPlayerInput struct {
	GameID int64
	Name   string
	Cash   int64
}

type AddCompanyInput struct {
	GameID     int64
	Name       string
	Cash       int64
	ShareCount int64
	// IPOShares defaults to ShareCount when nil.
	IPOShares *int64
}

type TransferMoneyInput struct {
	GameID         int64
	Sender         Party
	Receiver       Party
	Amount         int64
	Text           string
	IdempotencyKey string
}

type TradeShareInput struct {
	GameID         int64
	Buyer          Party
	Source         Party
	CompanyID      int64
	Price          int64
	Shares         int64
	Text           string
	IdempotencyKey string
}

type OperateInput struct {
	GameID         int64
	CompanyID      int64
	Revenue        int64
	Mode           PayoutMode
	Text           string
	IdempotencyKey string
}

type GameState struct {
	Game      Game      `json:"game"`
	Players   []Player  `json:"players"`
	Companies []Company `json:"companies"`
	Shares    []Share   `json:"shares"`
}

type History struct {
	Entries []LogEntry `json:"entries"`
	Cursor  int64      `json:"cursor"`
}
