package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trainbank/internal/game"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx answer from the ledger API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server rather than
// from the network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type TransferRequest struct {
	FromType string `json:"from_type"`
	FromID   int64  `json:"from_id,omitempty"`
	ToType   string `json:"to_type"`
	ToID     int64  `json:"to_id,omitempty"`
	Amount   int64  `json:"amount"`
	Text     string `json:"text,omitempty"`
}

type TradeRequest struct {
	BuyerType  string `json:"buyer_type"`
	BuyerID    int64  `json:"buyer_id,omitempty"`
	SourceType string `json:"source_type"`
	SourceID   int64  `json:"source_id,omitempty"`
	CompanyID  int64  `json:"company_id"`
	Price      int64  `json:"price"`
	Shares     int64  `json:"shares"`
	Text       string `json:"text,omitempty"`
}

type OperateRequest struct {
	CompanyID int64  `json:"company_id"`
	Revenue   int64  `json:"revenue"`
	Mode      string `json:"mode"`
	Text      string `json:"text,omitempty"`
}

func gamePath(gameID int64, suffix string) string {
	return fmt.Sprintf("/v1/games/%d%s", gameID, suffix)
}

func (c *Client) CreateGame(ctx context.Context, name string, bankCash int64) (game.GameState, error) {
	var out game.GameState
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/games", map[string]any{
		"name":      name,
		"bank_cash": bankCash,
	}, &out, "")
	return out, err
}

func (c *Client) GameState(ctx context.Context, gameID int64) (game.GameState, error) {
	var out game.GameState
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(gameID, ""), nil, &out, "")
	return out, err
}

func (c *Client) History(ctx context.Context, gameID int64) (game.History, error) {
	var out game.History
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(gameID, "/log"), nil, &out, "")
	return out, err
}

func (c *Client) AddPlayer(ctx context.Context, gameID int64, name string, cash int64) (game.Player, error) {
	var out game.Player
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(gameID, "/players"), map[string]any{
		"name": name,
		"cash": cash,
	}, &out, "")
	return out, err
}

func (c *Client) AddCompany(ctx context.Context, gameID int64, name string, cash, shareCount int64, ipoShares *int64) (game.Company, error) {
	body := map[string]any{
		"name":        name,
		"cash":        cash,
		"share_count": shareCount,
	}
	if ipoShares != nil {
		body["ipo_shares"] = *ipoShares
	}
	var out game.Company
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(gameID, "/companies"), body, &out, "")
	return out, err
}

func (c *Client) Transfer(ctx context.Context, gameID int64, in TransferRequest, idem string) (game.Affected, error) {
	var out game.Affected
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(gameID, "/transfers"), in, &out, idem)
	return out, err
}

func (c *Client) Trade(ctx context.Context, gameID int64, in TradeRequest, idem string) (game.Affected, error) {
	var out game.Affected
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(gameID, "/shares"), in, &out, idem)
	return out, err
}

func (c *Client) Operate(ctx context.Context, gameID int64, in OperateRequest, idem string) (game.Affected, error) {
	var out game.Affected
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(gameID, "/operate"), in, &out, idem)
	return out, err
}

func (c *Client) Undo(ctx context.Context, gameID int64) (game.Affected, error) {
	var out game.Affected
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(gameID, "/undo"), nil, &out, "")
	return out, err
}

func (c *Client) Redo(ctx context.Context, gameID int64) (game.Affected, error) {
	var out game.Affected
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(gameID, "/redo"), nil, &out, "")
	return out, err
}

// Do replays a raw request, used for queued offline writes.
func (c *Client) Do(ctx context.Context, method, path string, body json.RawMessage, idem string) (game.Affected, error) {
	var out game.Affected
	var in any
	if len(body) > 0 {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
