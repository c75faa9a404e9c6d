// Package api exposes the exchange over REST and WebSocket for the browser
// client: token and balance reads, order history, the event log, and the
// mutating operations (deposit, withdraw, make/cancel/fill, fee changes).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/sbhlabs/tokendex/pkg/exchange"
	"github.com/sbhlabs/tokendex/pkg/token"
)

// EventSource replays the persisted event log. Implemented by storage.Store.
type EventSource interface {
	Events(after uint64, limit int) ([]exchange.Event, error)
}

// Server handles REST and WebSocket connections.
type Server struct {
	x        *exchange.Exchange
	registry *token.Registry
	events   EventSource
	router   *mux.Router
	hub      *Hub
	log      *zap.SugaredLogger
}

// NewServer wires the routes. events may be nil when the node runs without
// persistence; the /events endpoint then reports 503.
func NewServer(x *exchange.Exchange, registry *token.Registry, events EventSource, log *zap.SugaredLogger) *Server {
	s := &Server{
		x:        x,
		registry: registry,
		events:   events,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub so the node can wire it into the exchange
// feed.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Token registry
	api.HandleFunc("/tokens", s.handleListTokens).Methods("GET")
	api.HandleFunc("/tokens/{token}/balances/{account}", s.handleTokenBalance).Methods("GET")
	api.HandleFunc("/tokens/{token}/transfer", s.handleTokenTransfer).Methods("POST")
	api.HandleFunc("/tokens/{token}/approve", s.handleTokenApprove).Methods("POST")

	// Ledger
	api.HandleFunc("/balances/{token}/{account}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	// Orders
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	// Fee configuration
	api.HandleFunc("/fee", s.handleGetFee).Methods("GET")
	api.HandleFunc("/fee", s.handleChangeFee).Methods("POST")

	// Event log replay
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// WebSocket event stream
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the full handler with CORS applied. Useful for tests.
func (s *Server) Handler(corsOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves HTTP on addr. Blocks.
func (s *Server) Start(addr string, corsOrigins []string) error {
	go s.hub.Run()
	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, s.Handler(corsOrigins))
}

// ==============================
// REST handlers
// ==============================

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.registry.List()
	response := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		response[i] = TokenInfo{
			Address:     t.Address.Hex(),
			Name:        t.Name,
			Symbol:      t.Symbol,
			Decimals:    t.Decimals,
			TotalSupply: t.TotalSupply(),
		}
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	t, found := s.registry.Get(tokenAddr)
	if !found {
		respondError(w, http.StatusNotFound, "unknown token", tokenAddr.Hex())
		return
	}
	respondJSON(w, http.StatusOK, BalanceInfo{
		Token:   tokenAddr.Hex(),
		Account: account.Hex(),
		Amount:  t.BalanceOf(account),
	})
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request) {
	tokenAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, ok := bodyAddress(w, req.From, "from")
	if !ok {
		return
	}
	to, ok := bodyAddress(w, req.To, "to")
	if !ok {
		return
	}

	t, found := s.registry.Get(tokenAddr)
	if !found {
		respondError(w, http.StatusNotFound, "unknown token", tokenAddr.Hex())
		return
	}
	if err := t.Transfer(from, to, req.Amount); err != nil {
		s.respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, BalanceInfo{
		Token:   tokenAddr.Hex(),
		Account: from.Hex(),
		Amount:  t.BalanceOf(from),
	})
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request) {
	tokenAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	var req ApproveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, ok := bodyAddress(w, req.Owner, "owner")
	if !ok {
		return
	}

	t, found := s.registry.Get(tokenAddr)
	if !found {
		respondError(w, http.StatusNotFound, "unknown token", tokenAddr.Hex())
		return
	}
	if err := t.Approve(owner, s.registry.Custodian(), req.Amount); err != nil {
		s.respondCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, BalanceInfo{
		Token:   tokenAddr.Hex(),
		Account: account.Hex(),
		Amount:  s.x.BalanceOf(tokenAddr, account),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req BalanceMoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tokenAddr, ok := bodyAddress(w, req.Token, "token")
	if !ok {
		return
	}
	account, ok := bodyAddress(w, req.Account, "account")
	if !ok {
		return
	}
	if err := s.x.Deposit(tokenAddr, account, req.Amount); err != nil {
		s.respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, BalanceInfo{
		Token:   tokenAddr.Hex(),
		Account: account.Hex(),
		Amount:  s.x.BalanceOf(tokenAddr, account),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req BalanceMoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tokenAddr, ok := bodyAddress(w, req.Token, "token")
	if !ok {
		return
	}
	account, ok := bodyAddress(w, req.Account, "account")
	if !ok {
		return
	}
	if err := s.x.Withdraw(tokenAddr, account, req.Amount); err != nil {
		s.respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, BalanceInfo{
		Token:   tokenAddr.Hex(),
		Account: account.Hex(),
		Amount:  s.x.BalanceOf(tokenAddr, account),
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var status exchange.OrderStatus
	switch q := r.URL.Query().Get("status"); q {
	case "":
	case "open", "filled", "cancelled":
		status = exchange.OrderStatus(q)
	default:
		respondError(w, http.StatusBadRequest, "invalid status filter", q)
		return
	}

	orders := s.x.Orders(status)
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = s.orderInfo(o)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	creator, ok := bodyAddress(w, req.Creator, "creator")
	if !ok {
		return
	}
	tokenGet, ok := bodyAddress(w, req.TokenGet, "tokenGet")
	if !ok {
		return
	}
	tokenGive, ok := bodyAddress(w, req.TokenGive, "tokenGive")
	if !ok {
		return
	}

	o, err := s.x.MakeOrder(creator, tokenGet, req.AmountGet, tokenGive, req.AmountGive)
	if err != nil {
		s.respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s.orderInfo(o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(w, r)
	if !ok {
		return
	}
	o, err := s.x.OrderByID(id)
	if err != nil {
		s.respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := bodyAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	if err := s.x.CancelOrder(caller, id); err != nil {
		s.respondCoreError(w, err)
		return
	}
	o, _ := s.x.OrderByID(id)
	respondJSON(w, http.StatusOK, s.orderInfo(o))
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := bodyAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	if err := s.x.FillOrder(caller, id); err != nil {
		s.respondCoreError(w, err)
		return
	}
	o, _ := s.x.OrderByID(id)
	respondJSON(w, http.StatusOK, s.orderInfo(o))
}

func (s *Server) handleGetFee(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, FeeInfo{
		FeeAccount: s.x.FeeAccount().Hex(),
		FeePercent: s.x.FeePercent(),
	})
}

func (s *Server) handleChangeFee(w http.ResponseWriter, r *http.Request) {
	var req FeeChangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, ok := bodyAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	if err := s.x.ChangeFeePercent(caller, req.FeePercent); err != nil {
		s.respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, FeeInfo{
		FeeAccount: s.x.FeeAccount().Hex(),
		FeePercent: s.x.FeePercent(),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusServiceUnavailable, "event log unavailable", "node is running without persistence")
		return
	}

	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid after parameter", v)
			return
		}
		after = parsed
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit parameter", v)
			return
		}
		limit = parsed
	}

	events, err := s.events.Events(after, limit)
	if err != nil {
		s.log.Errorw("event_log_read_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "event log read failed", "")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func (s *Server) orderInfo(o exchange.Order) OrderInfo {
	status, err := s.x.StatusOf(o.ID)
	if err != nil {
		status = exchange.StatusOpen
	}
	return OrderInfo{
		ID:         o.ID,
		Creator:    o.Creator.Hex(),
		TokenGet:   o.TokenGet.Hex(),
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive.Hex(),
		AmountGive: o.AmountGive,
		Timestamp:  o.Timestamp,
		Status:     string(status),
	}
}

// respondCoreError maps ledger and token errors onto HTTP status codes.
func (s *Server) respondCoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrNotOrderOwner),
		errors.Is(err, exchange.ErrNotAdministrator):
		status = http.StatusForbidden
	case errors.Is(err, exchange.ErrOrderCancelled),
		errors.Is(err, exchange.ErrOrderAlreadyFilled),
		errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, exchange.ErrTransferFailed),
		errors.Is(err, token.ErrInsufficientTokens),
		errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrInvalidFeePercent),
		errors.Is(err, token.ErrNegativeAmount),
		errors.Is(err, token.ErrZeroAddress):
		status = http.StatusBadRequest
	case errors.Is(err, token.ErrUnknownToken):
		status = http.StatusNotFound
	default:
		s.log.Errorw("internal_error", "err", err)
	}
	respondError(w, status, err.Error(), "")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return false
	}
	return true
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := mux.Vars(r)[name]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func bodyAddress(w http.ResponseWriter, raw, name string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid "+name+" address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func pathOrderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		respondError(w, http.StatusBadRequest, "invalid order id", raw)
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, detail string) {
	respondJSON(w, status, ErrorResponse{Error: message, Message: detail})
}
