package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trainbank/internal/config"
	"trainbank/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	game *game.Service
	mux  *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:  cfg,
		log:  logger,
		game: gameSvc,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1/games", func(r chi.Router) {
		r.Post("/", s.handleCreateGame)
		r.Route("/{gameID}", func(r chi.Router) {
			r.Get("/", s.handleGameState)
			r.Get("/log", s.handleLog)
			r.Post("/players", s.handleAddPlayer)
			r.Post("/companies", s.handleAddCompany)
			r.Post("/transfers", s.handleTransfer)
			r.Post("/shares", s.handleShareTrade)
			r.Post("/operate", s.handleOperate)
			r.Post("/undo", s.handleUndo)
			r.Post("/redo", s.handleRedo)
		})
	})
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		BankCash int64  `json:"bank_cash"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.CreateGame(r.Context(), game.CreateGameInput{Name: in.Name, BankCash: in.BankCash})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGameState(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.game.State(r.Context(), gameID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.game.History(r.Context(), gameID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	var in struct {
		Name string `json:"name"`
		Cash int64  `json:"cash"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.AddPlayer(r.Context(), game.AddPlayerInput{GameID: gameID, Name: in.Name, Cash: in.Cash})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleAddCompany(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	var in struct {
		Name       string `json:"name"`
		Cash       int64  `json:"cash"`
		ShareCount int64  `json:"share_count"`
		IPOShares  *int64 `json:"ipo_shares"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.AddCompany(r.Context(), game.AddCompanyInput{
		GameID:     gameID,
		Name:       in.Name,
		Cash:       in.Cash,
		ShareCount: in.ShareCount,
		IPOShares:  in.IPOShares,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	var in struct {
		FromType string `json:"from_type"`
		FromID   int64  `json:"from_id"`
		ToType   string `json:"to_type"`
		ToID     int64  `json:"to_id"`
		Amount   int64  `json:"amount"`
		Text     string `json:"text"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sender, err := game.ParseMoneyParty(in.FromType, in.FromID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	receiver, err := game.ParseMoneyParty(in.ToType, in.ToID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.game.TransferMoney(r.Context(), game.TransferMoneyInput{
		GameID:         gameID,
		Sender:         sender,
		Receiver:       receiver,
		Amount:         in.Amount,
		Text:           in.Text,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShareTrade(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	var in struct {
		BuyerType  string `json:"buyer_type"`
		BuyerID    int64  `json:"buyer_id"`
		SourceType string `json:"source_type"`
		SourceID   int64  `json:"source_id"`
		CompanyID  int64  `json:"company_id"`
		Price      int64  `json:"price"`
		Shares     int64  `json:"shares"`
		Text       string `json:"text"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := game.ParseShareParty(in.BuyerType, in.BuyerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	source, err := game.ParseShareParty(in.SourceType, in.SourceID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.game.TradeShare(r.Context(), game.TradeShareInput{
		GameID:         gameID,
		Buyer:          buyer,
		Source:         source,
		CompanyID:      in.CompanyID,
		Price:          in.Price,
		Shares:         in.Shares,
		Text:           in.Text,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOperate(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	var in struct {
		CompanyID int64  `json:"company_id"`
		Revenue   int64  `json:"revenue"`
		Mode      string `json:"mode"`
		Text      string `json:"text"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := game.ParsePayoutMode(strings.ToLower(strings.TrimSpace(in.Mode)))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out, err := s.game.Operate(r.Context(), game.OperateInput{
		GameID:         gameID,
		CompanyID:      in.CompanyID,
		Revenue:        in.Revenue,
		Mode:           mode,
		Text:           in.Text,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.game.Undo(r.Context(), gameID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	gameID, ok := gameIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.game.Redo(r.Context(), gameID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func gameIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "gameID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return 0, false
	}
	return id, true
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrSameEntity),
		errors.Is(err, game.ErrInvalidShareTransaction),
		errors.Is(err, game.ErrNoShares),
		errors.Is(err, game.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrNothingToUndo),
		errors.Is(err, game.ErrNothingToRedo),
		errors.Is(err, game.ErrDuplicateIdempotency),
		errors.Is(err, game.ErrNameTaken),
		errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}
