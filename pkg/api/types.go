package api

// REST request/response types and WebSocket message types.

// TokenInfo describes a registered token.
type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply int64  `json:"totalSupply"`
}

// BalanceInfo is a single (token, account) balance.
type BalanceInfo struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// OrderInfo is an order plus its derived status.
type OrderInfo struct {
	ID         uint64 `json:"id"`
	Creator    string `json:"creator"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  int64  `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive int64  `json:"amountGive"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
	Status     string `json:"status"`    // "open" | "filled" | "cancelled"
}

// FeeInfo is the current fee configuration.
type FeeInfo struct {
	FeeAccount string `json:"feeAccount"`
	FeePercent int64  `json:"feePercent"`
}

// TransferRequest is the payload for POST /tokens/{token}/transfer.
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// ApproveRequest is the payload for POST /tokens/{token}/approve. The spender
// is always the exchange custodian.
type ApproveRequest struct {
	Owner  string `json:"owner"`
	Amount int64  `json:"amount"`
}

// BalanceMoveRequest is the payload for POST /deposits and /withdrawals.
type BalanceMoveRequest struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// MakeOrderRequest is the payload for POST /orders.
type MakeOrderRequest struct {
	Creator    string `json:"creator"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  int64  `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive int64  `json:"amountGive"`
}

// CallerRequest is the payload for POST /orders/{id}/cancel and /fill.
type CallerRequest struct {
	Caller string `json:"caller"`
}

// FeeChangeRequest is the payload for POST /fee.
type FeeChangeRequest struct {
	Caller     string `json:"caller"`
	FeePercent int64  `json:"feePercent"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSMessage wraps an event for the WebSocket stream.
type WSMessage struct {
	Type string `json:"type"` // event type: "deposit", "withdraw", "order", "cancel", "trade"
	Data any    `json:"data"`
}

// WSSubscribeRequest is sent by a client to manage channel subscriptions.
// Channels: "events" (everything), "trades", "orders" (order + cancel).
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
