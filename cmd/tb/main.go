package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	cl "trainbank/internal/cli"
	"trainbank/internal/config"
	"trainbank/internal/game"
	"trainbank/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tb",
		Short:        "Train game bank ledger",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "ledger API base URL")

	root.AddCommand(
		newGameCmd(&apiBase),
		newPlayerCmd(&apiBase),
		newCompanyCmd(&apiBase),
		newPayCmd(&apiBase),
		newBuyCmd(&apiBase),
		newOperateCmd(&apiBase),
		newUndoCmd(&apiBase),
		newRedoCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newGameCmd(apiBase *string) *cobra.Command {
	g := &cobra.Command{
		Use:   "game",
		Short: "Create, inspect and switch games",
	}
	g.AddCommand(newGameNewCmd(apiBase))
	g.AddCommand(newGameShowCmd(apiBase))
	g.AddCommand(newGameLogCmd(apiBase))
	g.AddCommand(newGameUseCmd(apiBase))
	return g
}

func newGameNewCmd(apiBase *string) *cobra.Command {
	var bankCash int64
	cmd := &cobra.Command{
		Use:   "new [name]",
		Short: "Start a new game and make it current",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := argOrPrompt(args, 0, "Game name")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			state, err := newClient(apiBase).CreateGame(ctx, name, bankCash)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{GameID: state.Game.ID, GameName: state.Game.Name}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Game %q created (id %d).", state.Game.Name, state.Game.ID))
			renderGameState(state)
			return nil
		},
	}
	cmd.Flags().Int64Var(&bankCash, "bank-cash", 12000, "cash in the bank at the start")
	return cmd
}

func newGameShowCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current game",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			state, err := newClient(apiBase).GameState(ctx, sess.GameID)
			if err != nil {
				return err
			}
			renderGameState(state)
			return nil
		},
	}
}

func newGameLogCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Show the game log",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			history, err := newClient(apiBase).History(ctx, sess.GameID)
			if err != nil {
				return err
			}
			renderHistory(history)
			return nil
		},
	}
}

func newGameUseCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "use <game-id>",
		Short: "Switch the current game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "game id")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			state, err := newClient(apiBase).GameState(ctx, id)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{GameID: state.Game.ID, GameName: state.Game.Name}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Now playing %q.", state.Game.Name))
			return nil
		},
	}
}

func newPlayerCmd(apiBase *string) *cobra.Command {
	p := &cobra.Command{
		Use:   "player",
		Short: "Player commands",
	}
	var cash int64
	add := &cobra.Command{
		Use:   "add [name]",
		Short: "Seat a player in the current game",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			name, err := argOrPrompt(args, 0, "Player name")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			player, err := newClient(apiBase).AddPlayer(ctx, sess.GameID, name, cash)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Player %s seated (id %d, cash %s).", player.Name, player.ID, formatCash(player.Cash)))
			return nil
		},
	}
	add.Flags().Int64Var(&cash, "cash", 0, "starting cash")
	p.AddCommand(add)
	return p
}

func newCompanyCmd(apiBase *string) *cobra.Command {
	c := &cobra.Command{
		Use:     "company",
		Short:   "Company commands",
		Aliases: []string{"corp"},
	}
	var (
		cash       int64
		shareCount int64
		ipoShares  int64
	)
	add := &cobra.Command{
		Use:   "add [name]",
		Short: "Charter a company in the current game",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			name, err := argOrPrompt(args, 0, "Company name")
			if err != nil {
				return err
			}
			var ipo *int64
			if cmd.Flags().Changed("ipo") {
				ipo = &ipoShares
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			co, err := newClient(apiBase).AddCompany(ctx, sess.GameID, name, cash, shareCount, ipo)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Company %s chartered (id %d, %d shares in the IPO).", co.Name, co.ID, co.IPOShares))
			return nil
		},
	}
	add.Flags().Int64Var(&cash, "cash", 0, "starting treasury")
	add.Flags().Int64Var(&shareCount, "shares", 10, "total share count")
	add.Flags().Int64Var(&ipoShares, "ipo", 0, "shares placed in the IPO (defaults to --shares)")
	c.AddCommand(add)
	return c
}

func newPayCmd(apiBase *string) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "pay <from> <to> <amount>",
		Short: "Move cash between the bank, players and companies",
		Long:  "Parties are written as bank, player:<id> or company:<id>. A negative amount moves cash the other way; put -- before it.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			fromType, fromID, err := parsePartyArg(args[0])
			if err != nil {
				return err
			}
			toType, toID, err := parsePartyArg(args[1])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("amount must be a whole number")
			}
			in := cl.TransferRequest{
				FromType: fromType,
				FromID:   fromID,
				ToType:   toType,
				ToID:     toID,
				Amount:   amount,
				Text:     text,
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Transfer(ctx, sess.GameID, in, idem)
			if err != nil {
				return queueOnNetworkError(err, sess.GameID, "/transfers", in, idem)
			}
			renderAffected(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "log text instead of the generated description")
	return cmd
}

func newBuyCmd(apiBase *string) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "buy <buyer> <source> <company-id> <shares> <price>",
		Short: "Trade shares of a company",
		Long: "Buyer and source are ipo, bank (the pool), player:<id> or company:<id>. " +
			"Price is per share. A negative share count sells instead; put -- before it.",
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			buyerType, buyerID, err := parsePartyArg(args[0])
			if err != nil {
				return err
			}
			sourceType, sourceID, err := parsePartyArg(args[1])
			if err != nil {
				return err
			}
			companyID, err := parseID(args[2], "company id")
			if err != nil {
				return err
			}
			shares, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("shares must be a whole number")
			}
			price, err := strconv.ParseInt(args[4], 10, 64)
			if err != nil {
				return fmt.Errorf("price must be a whole number")
			}
			in := cl.TradeRequest{
				BuyerType:  buyerType,
				BuyerID:    buyerID,
				SourceType: sourceType,
				SourceID:   sourceID,
				CompanyID:  companyID,
				Price:      price,
				Shares:     shares,
				Text:       text,
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Trade(ctx, sess.GameID, in, idem)
			if err != nil {
				return queueOnNetworkError(err, sess.GameID, "/shares", in, idem)
			}
			renderAffected(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "log text instead of the generated description")
	return cmd
}

func newOperateCmd(apiBase *string) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "operate <company-id> <revenue> [full|half|withhold]",
		Short: "Run a company's revenue and pay dividends",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			companyID, err := parseID(args[0], "company id")
			if err != nil {
				return err
			}
			revenue, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("revenue must be a whole number")
			}
			var mode string
			if len(args) > 2 {
				mode = args[2]
			} else {
				mode, err = promptChoice("Payout", []string{"full", "half", "withhold"}, "full")
				if err != nil {
					return err
				}
			}
			parsed, err := game.ParsePayoutMode(strings.ToLower(strings.TrimSpace(mode)))
			if err != nil {
				return err
			}
			in := cl.OperateRequest{
				CompanyID: companyID,
				Revenue:   revenue,
				Mode:      string(parsed),
				Text:      text,
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Operate(ctx, sess.GameID, in, idem)
			if err != nil {
				return queueOnNetworkError(err, sess.GameID, "/operate", in, idem)
			}
			renderAffected(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "log text instead of the generated description")
	return cmd
}

func newUndoCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Undo the latest action",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Undo(ctx, sess.GameID)
			if err != nil {
				return err
			}
			renderAffected(out)
			return nil
		},
	}
}

func newRedoCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "redo",
		Short: "Reapply the last undone action",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Redo(ctx, sess.GameID)
			if err != nil {
				return err
			}
			renderAffected(out)
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay ledger writes queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			replayed := 0
			for i, q := range queue {
				_, err := client.Do(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				switch {
				case err == nil:
					replayed++
				case isDuplicate(err):
					printWarn(fmt.Sprintf("Already applied: %s %s", q.Method, q.Path))
				case cl.IsAPIError(err):
					printError(fmt.Sprintf("Rejected %s %s: %v", q.Method, q.Path, err))
				default:
					// Still offline: keep this write and everything after it in order.
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
					remaining = append(remaining, queue[i:]...)
				}
				if len(remaining) > 0 {
					break
				}
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", replayed, len(remaining)))
			return nil
		},
	}
}

// queueOnNetworkError keeps a write for `tb sync` when the API could not be
// reached. Errors the API answered with are returned as is.
func queueOnNetworkError(err error, gameID int64, suffix string, body any, idem string) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	raw, mErr := json.Marshal(body)
	if mErr != nil {
		return err
	}
	if qErr := syncq.Push(syncq.Command{
		GameID:         gameID,
		Method:         http.MethodPost,
		Path:           fmt.Sprintf("/v1/games/%d%s", gameID, suffix),
		Body:           raw,
		IdempotencyKey: idem,
	}); qErr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	printWarn("API unreachable, write queued. Run `tb sync` once it is back.")
	return nil
}

func isDuplicate(err error) bool {
	var apiErr *cl.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusConflict && strings.Contains(apiErr.Message, "idempotency")
}

// parsePartyArg splits "player:3" into its tag and id. Bare tags such as
// "bank" or "ipo" carry no id.
func parsePartyArg(s string) (string, int64, error) {
	tag, rawID, hasID := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	if tag == "pool" {
		tag = game.TagBank
	}
	if !hasID {
		return tag, 0, nil
	}
	id, err := parseID(rawID, tag+" id")
	if err != nil {
		return "", 0, err
	}
	return tag, id, nil
}

func parseID(s, label string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive number", label)
	}
	return id, nil
}

func argOrPrompt(args []string, i int, label string) (string, error) {
	if len(args) > i && strings.TrimSpace(args[i]) != "" {
		return strings.TrimSpace(args[i]), nil
	}
	return promptRequired(label)
}
