// Package exchange implements the ledger and order book at the heart of
// tokendex: per-user per-token custody balances, the make/cancel/fill order
// lifecycle, and fee-charging trade execution.
//
// The exchange is a single-writer state machine. Every mutating operation
// takes the one mutex, validates all preconditions before touching anything,
// and applies its state changes all-or-nothing. Reads observe a fully applied
// prior state.
package exchange

import (
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sbhlabs/tokendex/pkg/util"
)

// Custody moves real tokens between user accounts and the exchange's custody
// account. The exchange never assumes a movement succeeded; it checks the
// result before mutating its own ledger.
type Custody interface {
	// TransferIn pulls amount of token from the user into custody. Requires
	// the user to have pre-authorized the movement upstream.
	TransferIn(token, from common.Address, amount int64) error

	// TransferOut pushes amount of token from custody back to the user.
	TransferOut(token, to common.Address, amount int64) error
}

// Batch collects the writes of one mutation and commits them atomically.
// Implemented by pkg/storage on top of a Pebble batch.
type Batch interface {
	SetBalance(token, account common.Address, amount int64)
	PutOrder(o Order)
	MarkCancelled(id uint64)
	MarkFilled(id uint64)
	SetOrdersCount(n uint64)
	SetFeePercent(p int64)
	AppendEvent(e Event)
	Commit() error
}

// Store persists exchange state. Each mutation commits exactly one batch; a
// batch that fails to commit leaves the in-memory state untouched.
type Store interface {
	Batch() Batch
}

// Snapshot is the persisted exchange state handed back on restart.
type Snapshot struct {
	Balances    map[common.Address]map[common.Address]int64 // token -> account -> amount
	Orders      map[uint64]Order
	Cancelled   map[uint64]bool
	Filled      map[uint64]bool
	OrdersCount uint64
	FeePercent  int64
	EventSeq    uint64
}

// Config carries the deployment-time parameters of the exchange.
type Config struct {
	Admin      common.Address // may change the fee percent
	FeeAccount common.Address // receives the fee on every trade
	FeePercent int64          // whole percent of amountGet, e.g. 10
}

// Exchange is the ledger and order book. Construct with New, then optionally
// set Feed, Store and Logger before first use.
type Exchange struct {
	Feed   Feed
	Store  Store
	Clock  util.Clock
	Logger *zap.SugaredLogger

	mu      sync.RWMutex
	cfg     Config
	custody Custody

	feePercent  int64
	balances    map[common.Address]map[common.Address]int64 // token -> account -> amount
	orders      map[uint64]Order
	cancelled   map[uint64]bool
	filled      map[uint64]bool
	ordersCount uint64 // id of the most recent order; next id is ordersCount+1
	eventSeq    uint64
}

// New creates an exchange with empty state. Feed defaults to a no-op and
// Store to none (memory only); both can be assigned before the exchange is
// put into service.
func New(cfg Config, custody Custody) (*Exchange, error) {
	if cfg.FeePercent < 0 || cfg.FeePercent > 100 {
		return nil, ErrInvalidFeePercent
	}
	if custody == nil {
		return nil, fmt.Errorf("custody is required")
	}
	return &Exchange{
		Feed:       NopFeed{},
		Clock:      util.RealClock{},
		cfg:        cfg,
		custody:    custody,
		feePercent: cfg.FeePercent,
		balances:   make(map[common.Address]map[common.Address]int64),
		orders:     make(map[uint64]Order),
		cancelled:  make(map[uint64]bool),
		filled:     make(map[uint64]bool),
	}, nil
}

// Restore replaces the exchange state with a persisted snapshot. Call before
// serving any requests.
func (x *Exchange) Restore(snap *Snapshot) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if snap.Balances != nil {
		x.balances = snap.Balances
	}
	if snap.Orders != nil {
		x.orders = snap.Orders
	}
	if snap.Cancelled != nil {
		x.cancelled = snap.Cancelled
	}
	if snap.Filled != nil {
		x.filled = snap.Filled
	}
	x.ordersCount = snap.OrdersCount
	x.eventSeq = snap.EventSeq
	x.feePercent = snap.FeePercent
}

// Admin returns the administrator account.
func (x *Exchange) Admin() common.Address { return x.cfg.Admin }

// FeeAccount returns the account credited with trade fees.
func (x *Exchange) FeeAccount() common.Address { return x.cfg.FeeAccount }

// FeePercent returns the current fee percent.
func (x *Exchange) FeePercent() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.feePercent
}

// BalanceOf returns the exchange-custodied balance of account in token.
// Accounts that never deposited read as zero.
func (x *Exchange) BalanceOf(token, account common.Address) int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.balances[token][account]
}

// OrdersCount returns the id of the most recently created order (0 if none).
func (x *Exchange) OrdersCount() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ordersCount
}

// OrderByID returns the order with the given id.
func (x *Exchange) OrderByID(id uint64) (Order, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	o, ok := x.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

// IsCancelled reports whether the order id is in the cancelled set.
func (x *Exchange) IsCancelled(id uint64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.cancelled[id]
}

// IsFilled reports whether the order id is in the filled set.
func (x *Exchange) IsFilled(id uint64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.filled[id]
}

// StatusOf returns the derived lifecycle status for an order id.
func (x *Exchange) StatusOf(id uint64) (OrderStatus, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if _, ok := x.orders[id]; !ok {
		return "", ErrOrderNotFound
	}
	switch {
	case x.cancelled[id]:
		return StatusCancelled, nil
	case x.filled[id]:
		return StatusFilled, nil
	default:
		return StatusOpen, nil
	}
}

// Orders returns all orders in id order, optionally filtered by status
// (empty string means all).
func (x *Exchange) Orders(status OrderStatus) []Order {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Order, 0, len(x.orders))
	for id := uint64(1); id <= x.ordersCount; id++ {
		o, ok := x.orders[id]
		if !ok {
			continue
		}
		switch status {
		case StatusCancelled:
			if !x.cancelled[id] {
				continue
			}
		case StatusFilled:
			if !x.filled[id] {
				continue
			}
		case StatusOpen:
			if x.cancelled[id] || x.filled[id] {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

// Deposit pulls amount of token from account into custody and credits the
// account's exchange balance. The upstream movement must have been
// pre-authorized; if it fails, no balance changes.
func (x *Exchange) Deposit(token, account common.Address, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.custody.TransferIn(token, account, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	newBalance := x.balances[token][account] + amount
	ev := Event{
		Seq:     x.eventSeq + 1,
		Type:    EventDeposit,
		Token:   token,
		User:    account,
		Amount:  amount,
		Balance: newBalance,
	}

	if err := x.persist(func(b Batch) {
		b.SetBalance(token, account, newBalance)
		b.AppendEvent(ev)
	}); err != nil {
		// The tokens already moved into custody; push them back so the
		// failed deposit leaves no external state behind.
		if cerr := x.custody.TransferOut(token, account, amount); cerr != nil && x.Logger != nil {
			x.Logger.Errorw("deposit_compensation_failed",
				"token", token.Hex(), "account", account.Hex(), "amount", amount, "err", cerr)
		}
		return err
	}

	x.setBalance(token, account, newBalance)
	x.emit(ev)
	return nil
}

// Withdraw debits the account's exchange balance and pushes amount of token
// back out of custody.
func (x *Exchange) Withdraw(token, account common.Address, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	balance := x.balances[token][account]
	if balance < amount {
		return ErrInsufficientBalance
	}

	if err := x.custody.TransferOut(token, account, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	newBalance := balance - amount
	ev := Event{
		Seq:     x.eventSeq + 1,
		Type:    EventWithdraw,
		Token:   token,
		User:    account,
		Amount:  amount,
		Balance: newBalance,
	}

	if err := x.persist(func(b Batch) {
		b.SetBalance(token, account, newBalance)
		b.AppendEvent(ev)
	}); err != nil {
		// The tokens already left custody; pull them back so the failed
		// withdrawal cannot be replayed against an undebited balance.
		if cerr := x.custody.TransferIn(token, account, amount); cerr != nil && x.Logger != nil {
			x.Logger.Errorw("withdraw_compensation_failed",
				"token", token.Hex(), "account", account.Hex(), "amount", amount, "err", cerr)
		}
		return err
	}

	x.setBalance(token, account, newBalance)
	x.emit(ev)
	return nil
}

// maxOrderAmount caps order amounts so that amountGet plus the fee (at most
// amountGet again, at 100%) always fits in int64 at fill time.
const maxOrderAmount = math.MaxInt64 / 2

// MakeOrder records a new order and returns it. Ids start at 1 and strictly
// increase. Balance sufficiency is checked at fill time, not here.
func (x *Exchange) MakeOrder(creator, tokenGet common.Address, amountGet int64, tokenGive common.Address, amountGive int64) (Order, error) {
	if amountGet <= 0 || amountGive <= 0 || amountGet > maxOrderAmount || amountGive > maxOrderAmount {
		return Order{}, ErrInvalidAmount
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	o := Order{
		ID:         x.ordersCount + 1,
		Creator:    creator,
		TokenGet:   tokenGet,
		AmountGet:  amountGet,
		TokenGive:  tokenGive,
		AmountGive: amountGive,
		Timestamp:  x.Clock.Now().UnixMilli(),
	}
	ev := Event{
		Seq:        x.eventSeq + 1,
		Type:       EventOrder,
		OrderID:    o.ID,
		User:       o.Creator,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Timestamp:  o.Timestamp,
	}

	if err := x.persist(func(b Batch) {
		b.PutOrder(o)
		b.SetOrdersCount(o.ID)
		b.AppendEvent(ev)
	}); err != nil {
		return Order{}, err
	}

	x.orders[o.ID] = o
	x.ordersCount = o.ID
	x.emit(ev)
	return o, nil
}

// CancelOrder moves an open order into the cancelled set. Only the creator
// may cancel, and a terminal order stays terminal.
func (x *Exchange) CancelOrder(caller common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Creator != caller {
		return ErrNotOrderOwner
	}
	if x.cancelled[id] {
		return ErrOrderCancelled
	}
	if x.filled[id] {
		return ErrOrderAlreadyFilled
	}

	// Cancel re-emits the order's creation timestamp, not the cancel time.
	ev := Event{
		Seq:        x.eventSeq + 1,
		Type:       EventCancel,
		OrderID:    o.ID,
		User:       o.Creator,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Timestamp:  o.Timestamp,
	}

	if err := x.persist(func(b Batch) {
		b.MarkCancelled(id)
		b.AppendEvent(ev)
	}); err != nil {
		return err
	}

	x.cancelled[id] = true
	x.emit(ev)
	return nil
}

// FillOrder executes an open order on behalf of caller: caller pays
// amountGet plus the fee in tokenGet, the creator pays amountGive in
// tokenGive, and the fee account collects the fee. The four balance moves
// apply atomically or not at all, and the order lands in the filled set
// exactly once.
func (x *Exchange) FillOrder(caller common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if x.cancelled[id] {
		return ErrOrderCancelled
	}
	if x.filled[id] {
		return ErrOrderAlreadyFilled
	}

	// Fee is charged on the get side, truncating integer division.
	fee := tradeFee(o.AmountGet, x.feePercent)

	if x.balances[o.TokenGet][caller] < o.AmountGet+fee {
		return ErrInsufficientBalance
	}
	// The creator's give-side balance is checked here rather than assumed:
	// nothing re-validated it since the order was made.
	if x.balances[o.TokenGive][o.Creator] < o.AmountGive {
		return ErrInsufficientBalance
	}

	// The moves are applied as sequential deltas into one final value per
	// (token, account) slot. When slots alias (self-fill, tokenGet equal to
	// tokenGive, fee account trading) the deltas accumulate instead of the
	// last write clobbering the earlier ones.
	type slot struct {
		token, account common.Address
	}
	moves := []struct {
		token, account common.Address
		delta          int64
	}{
		{o.TokenGet, caller, -(o.AmountGet + fee)},
		{o.TokenGet, o.Creator, o.AmountGet},
		{o.TokenGet, x.cfg.FeeAccount, fee},
		{o.TokenGive, o.Creator, -o.AmountGive},
		{o.TokenGive, caller, o.AmountGive},
	}
	final := make(map[slot]int64, len(moves))
	for _, m := range moves {
		s := slot{m.token, m.account}
		cur, seen := final[s]
		if !seen {
			cur = x.balances[m.token][m.account]
		}
		final[s] = cur + m.delta
	}

	ev := Event{
		Seq:        x.eventSeq + 1,
		Type:       EventTrade,
		OrderID:    o.ID,
		User:       caller,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Creator:    o.Creator,
		Timestamp:  x.Clock.Now().UnixMilli(),
	}

	if err := x.persist(func(b Batch) {
		for s, amount := range final {
			b.SetBalance(s.token, s.account, amount)
		}
		b.MarkFilled(id)
		b.AppendEvent(ev)
	}); err != nil {
		return err
	}

	for s, amount := range final {
		x.setBalance(s.token, s.account, amount)
	}
	x.filled[id] = true
	x.emit(ev)

	if x.Logger != nil {
		x.Logger.Infow("trade_executed",
			"order_id", o.ID,
			"filler", caller.Hex(),
			"creator", o.Creator.Hex(),
			"amount_get", o.AmountGet,
			"amount_give", o.AmountGive,
			"fee", fee)
	}
	return nil
}

// ChangeFeePercent replaces the fee percent for all subsequent trades.
// Admin only; already-executed trades are unaffected.
func (x *Exchange) ChangeFeePercent(caller common.Address, percent int64) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidFeePercent
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if caller != x.cfg.Admin {
		return ErrNotAdministrator
	}

	if err := x.persist(func(b Batch) {
		b.SetFeePercent(percent)
	}); err != nil {
		return err
	}

	x.feePercent = percent
	return nil
}

// tradeFee is floor(amountGet * feePercent / 100) computed without the
// intermediate product, which wraps int64 for large amounts. Splitting
// amountGet into 100q+r gives q*feePercent + r*feePercent/100, which is the
// same floor with every term in range.
func tradeFee(amountGet, feePercent int64) int64 {
	q, r := amountGet/100, amountGet%100
	return q*feePercent + r*feePercent/100
}

// persist commits one mutation's writes through the store, if any. Called
// with the mutex held, before the in-memory state is touched.
func (x *Exchange) persist(fill func(Batch)) error {
	if x.Store == nil {
		return nil
	}
	b := x.Store.Batch()
	fill(b)
	if err := b.Commit(); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func (x *Exchange) setBalance(token, account common.Address, amount int64) {
	accounts, ok := x.balances[token]
	if !ok {
		accounts = make(map[common.Address]int64)
		x.balances[token] = accounts
	}
	accounts[account] = amount
}

// emit assigns the next sequence number and hands the event to the feed.
// Called with the mutex held so the feed sees the same order the state
// machine applied.
func (x *Exchange) emit(e Event) {
	x.eventSeq = e.Seq
	x.Feed.Publish(e)
}
