// Package api provides the HTTP surface over the marketplace engine: item
// registration, the four trade modes, queries, withdrawals, and fee admin.
//
// Callers are identified by a stable account string carried in the request
// body; authentication happens upstream.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/market"
	"github.com/sfthub/marketplace-engine/internal/metrics"
	"github.com/sfthub/marketplace-engine/internal/model"
)

// Server wires the engine into chi handlers.
type Server struct {
	engine *market.Engine
	hub    *Hub // optional; nil disables the ws endpoint
}

// NewServer creates an API server around engine. Pass nil for hub if
// WebSocket broadcasting is not needed.
func NewServer(engine *market.Engine, hub *Hub) *Server {
	return &Server{engine: engine, hub: hub}
}

// Routes mounts all endpoints under /api/v1.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Post("/items", s.createItem)
		r.Get("/items", s.listItems)
		r.Get("/items/{itemID}", s.getItem)

		r.Get("/positions", s.listPositions)
		r.Get("/positions/{positionID}", s.getPosition)

		r.Post("/sales", s.putOnSale)
		r.Post("/sales/{positionID}/buy", s.buy)
		r.Delete("/sales/{positionID}", s.unlist)

		r.Post("/auctions", s.createAuction)
		r.Post("/auctions/{positionID}/bids", s.bid)
		r.Post("/auctions/{positionID}/end", s.endAuction)

		r.Post("/raffles", s.createRaffle)
		r.Post("/raffles/{positionID}/entries", s.enterRaffle)
		r.Post("/raffles/{positionID}/end", s.endRaffle)

		r.Post("/loans", s.createLoan)
		r.Post("/loans/{positionID}/fund", s.fundLoan)
		r.Post("/loans/{positionID}/repay", s.repayLoan)
		r.Post("/loans/{positionID}/liquidate", s.liquidate)
		r.Delete("/loans/{positionID}", s.unlistLoan)

		r.Post("/withdraw", s.withdraw)
		r.Get("/claimable/{account}", s.claimable)

		r.Get("/fee", s.getFee)
		r.Put("/fee", s.setFee)
	})
}

// --- Request types ---

type CreateItemRequest struct {
	Caller      string `json:"caller"`
	NFTContract string `json:"nft_contract"`
	TokenID     uint64 `json:"token_id"`
}

type PutOnSaleRequest struct {
	Caller string          `json:"caller"`
	ItemID uint64          `json:"item_id"`
	Units  uint64          `json:"units"`
	Price  decimal.Decimal `json:"price"` // per unit
}

type BuyRequest struct {
	Caller string          `json:"caller"`
	Units  uint64          `json:"units"`
	Value  decimal.Decimal `json:"value"` // must equal price × units
}

type CreateAuctionRequest struct {
	Caller          string          `json:"caller"`
	ItemID          uint64          `json:"item_id"`
	Units           uint64          `json:"units"`
	DurationMinutes uint64          `json:"duration_minutes"`
	MinBid          decimal.Decimal `json:"min_bid"`
}

type CreateRaffleRequest struct {
	Caller          string `json:"caller"`
	ItemID          uint64 `json:"item_id"`
	Units           uint64 `json:"units"`
	DurationMinutes uint64 `json:"duration_minutes"`
}

type CreateLoanRequest struct {
	Caller          string          `json:"caller"`
	ItemID          uint64          `json:"item_id"`
	TokenUnits      uint64          `json:"token_units"`
	LoanAmount      decimal.Decimal `json:"loan_amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	DurationMinutes uint64          `json:"duration_minutes"`
}

// ValueRequest carries a caller and a payable value (bid, entry, funding,
// repayment).
type ValueRequest struct {
	Caller string          `json:"caller"`
	Value  decimal.Decimal `json:"value"`
}

// CallerRequest carries only the caller account (unlist, liquidate,
// withdraw).
type CallerRequest struct {
	Caller string `json:"caller"`
}

type SetFeeRequest struct {
	Caller string `json:"caller"`
	FeeBP  int64  `json:"fee_bp"`
}

// --- Handlers ---

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}

	itemID, err := s.engine.CreateItem(r.Context(), req.Caller, req.NFTContract, req.TokenID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"item_id": itemID})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}
	view, err := s.engine.FetchItem(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	creator := r.URL.Query().Get("creator")
	if creator == "" {
		writeError(w, "creator query parameter is required", http.StatusBadRequest)
		return
	}
	items, err := s.engine.FetchItemsByCreator(r.Context(), creator)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	view, err := s.engine.FetchPosition(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	var (
		positions []model.Position
		err       error
	)
	switch {
	case r.URL.Query().Get("state") != "":
		positions, err = s.engine.FetchByState(r.Context(), model.PositionState(r.URL.Query().Get("state")))
	case r.URL.Query().Get("owner") != "":
		positions, err = s.engine.FetchByOwner(r.Context(), r.URL.Query().Get("owner"))
	default:
		writeError(w, "state or owner query parameter is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) putOnSale(w http.ResponseWriter, r *http.Request) {
	var req PutOnSaleRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	positionID, err := s.engine.PutOnSale(r.Context(), req.Caller, req.ItemID, req.Units, req.Price)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"position_id": positionID})
}

func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	var req BuyRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	receipt, err := s.engine.CreateSale(r.Context(), req.Caller, id, req.Units, req.Value)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.TradesTotal.WithLabelValues("sale").Inc()
	observeSettlement("sale", receipt)
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) unlist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	var req CallerRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	if err := s.engine.Unlist(r.Context(), req.Caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	positionID, err := s.engine.CreateAuction(r.Context(), req.Caller, req.ItemID, req.Units, req.DurationMinutes, req.MinBid)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"position_id": positionID})
}

func (s *Server) bid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	var req ValueRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	if err := s.engine.CreateBid(r.Context(), req.Caller, id, req.Value); err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.BidsTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) endAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	receipt, err := s.engine.EndAuction(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if receipt == nil {
		// No bids; units returned to the seller.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	metrics.TradesTotal.WithLabelValues("auction").Inc()
	observeSettlement("auction", receipt)
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) createRaffle(w http.ResponseWriter, r *http.Request) {
	var req CreateRaffleRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	positionID, err := s.engine.CreateRaffle(r.Context(), req.Caller, req.ItemID, req.Units, req.DurationMinutes)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"position_id": positionID})
}

func (s *Server) enterRaffle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	var req ValueRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	tickets, err := s.engine.EnterRaffle(r.Context(), req.Caller, id, req.Value)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.RaffleTicketsTotal.Add(float64(tickets))
	writeJSON(w, http.StatusOK, map[string]uint64{"tickets": tickets})
}

func (s *Server) endRaffle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	receipt, err := s.engine.EndRaffle(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if receipt == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	metrics.TradesTotal.WithLabelValues("raffle").Inc()
	observeSettlement("raffle", receipt)
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) createLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	positionID, err := s.engine.CreateLoan(r.Context(), req.Caller, req.ItemID, req.TokenUnits, req.LoanAmount, req.FeeAmount, req.DurationMinutes)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"position_id": positionID})
}

func (s *Server) fundLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	var req ValueRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	if err := s.engine.FundLoan(r.Context(), req.Caller, id, req.Value); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) repayLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	var req ValueRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.RepayLoan(r.Context(), id, req.Value); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	var req CallerRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	if err := s.engine.Liquidate(r.Context(), req.Caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unlistLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	var req CallerRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	if err := s.engine.UnlistLoan(r.Context(), req.Caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	amount, err := s.engine.Withdraw(r.Context(), req.Caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": amount})
}

func (s *Server) claimable(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	amount, err := s.engine.Claimable(r.Context(), account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": amount})
}

func (s *Server) getFee(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"fee_bp": s.engine.MarketFee()})
}

func (s *Server) setFee(w http.ResponseWriter, r *http.Request) {
	var req SetFeeRequest
	if !decode(w, r, &req) || !requireCaller(w, req.Caller) {
		return
	}
	if err := s.engine.SetMarketFee(req.Caller, req.FeeBP); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// decode parses the JSON body into req.
func decode[T any](w http.ResponseWriter, r *http.Request, req *T) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// requireCaller rejects requests with a missing caller account.
func requireCaller(w http.ResponseWriter, caller string) bool {
	if caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func observeSettlement(mode string, receipt *market.TradeReceipt) {
	gross, _ := receipt.Settlement.Gross.Float64()
	metrics.SettlementValue.WithLabelValues(mode).Observe(gross)
}

// writeEngineError maps engine sentinel errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrBadParameter), errors.Is(err, market.ErrBadValue):
		status = http.StatusBadRequest
	case errors.Is(err, market.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, market.ErrAlreadyExists),
		errors.Is(err, market.ErrWrongState),
		errors.Is(err, market.ErrAlreadyFunded),
		errors.Is(err, market.ErrNoBalance),
		errors.Is(err, market.ErrInsufficientBalance),
		errors.Is(err, market.ErrDeadlineNotReached),
		errors.Is(err, market.ErrDeadlineExceeded):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
