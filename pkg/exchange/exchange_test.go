package exchange_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sbhlabs/tokendex/pkg/exchange"
	"github.com/sbhlabs/tokendex/pkg/util"
)

var (
	admin      = common.HexToAddress("0xAD00000000000000000000000000000000000000")
	feeAccount = common.HexToAddress("0xFE00000000000000000000000000000000000000")
	alice      = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob        = common.HexToAddress("0xBB00000000000000000000000000000000000000")

	tokenX = common.HexToAddress("0x1100000000000000000000000000000000000000")
	tokenY = common.HexToAddress("0x2200000000000000000000000000000000000000")
)

// stubCustody accepts every movement unless told to fail. The exchange only
// cares about success or failure; token bookkeeping is covered in pkg/token.
type stubCustody struct {
	failIn  bool
	failOut bool
	ins     int
	outs    int
}

func (c *stubCustody) TransferIn(token, from common.Address, amount int64) error {
	if c.failIn {
		return errors.New("allowance exceeded")
	}
	c.ins++
	return nil
}

func (c *stubCustody) TransferOut(token, to common.Address, amount int64) error {
	if c.failOut {
		return errors.New("custody drained")
	}
	c.outs++
	return nil
}

// recordFeed captures published events in order.
type recordFeed struct {
	events []exchange.Event
}

func (f *recordFeed) Publish(e exchange.Event) {
	f.events = append(f.events, e)
}

func (f *recordFeed) last(t *testing.T) exchange.Event {
	t.Helper()
	if len(f.events) == 0 {
		t.Fatal("no events published")
	}
	return f.events[len(f.events)-1]
}

func newTestExchange(t *testing.T) (*exchange.Exchange, *stubCustody, *recordFeed, *util.ManualClock) {
	t.Helper()
	custody := &stubCustody{}
	feed := &recordFeed{}
	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))

	x, err := exchange.New(exchange.Config{
		Admin:      admin,
		FeeAccount: feeAccount,
		FeePercent: 10,
	}, custody)
	if err != nil {
		t.Fatalf("failed to create exchange: %v", err)
	}
	x.Feed = feed
	x.Clock = clock
	return x, custody, feed, clock
}

func TestDepositCreditsBalance(t *testing.T) {
	x, custody, feed, _ := newTestExchange(t)

	if err := x.Deposit(tokenX, alice, 1000); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if got := x.BalanceOf(tokenX, alice); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}
	if custody.ins != 1 {
		t.Errorf("transfer-in count = %d, want 1", custody.ins)
	}

	ev := feed.last(t)
	if ev.Type != exchange.EventDeposit {
		t.Errorf("event type = %s, want deposit", ev.Type)
	}
	if ev.Token != tokenX || ev.User != alice || ev.Amount != 1000 || ev.Balance != 1000 {
		t.Errorf("unexpected deposit event: %+v", ev)
	}

	// Deposits accumulate.
	if err := x.Deposit(tokenX, alice, 250); err != nil {
		t.Fatalf("second deposit failed: %v", err)
	}
	if got := x.BalanceOf(tokenX, alice); got != 1250 {
		t.Errorf("balance = %d, want 1250", got)
	}
	if ev := feed.last(t); ev.Balance != 1250 {
		t.Errorf("event balance = %d, want 1250", ev.Balance)
	}
}

func TestDepositTransferInFailure(t *testing.T) {
	x, custody, feed, _ := newTestExchange(t)
	custody.failIn = true

	err := x.Deposit(tokenX, alice, 1000)
	if !errors.Is(err, exchange.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := x.BalanceOf(tokenX, alice); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if len(feed.events) != 0 {
		t.Errorf("expected no events, got %d", len(feed.events))
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	x, _, _, _ := newTestExchange(t)

	for _, amount := range []int64{0, -5} {
		if err := x.Deposit(tokenX, alice, amount); !errors.Is(err, exchange.ErrInvalidAmount) {
			t.Errorf("Deposit(%d) err = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestWithdraw(t *testing.T) {
	x, custody, feed, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)

	if err := x.Withdraw(tokenX, alice, 400); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if got := x.BalanceOf(tokenX, alice); got != 600 {
		t.Errorf("balance = %d, want 600", got)
	}
	if custody.outs != 1 {
		t.Errorf("transfer-out count = %d, want 1", custody.outs)
	}

	ev := feed.last(t)
	if ev.Type != exchange.EventWithdraw || ev.Amount != 400 || ev.Balance != 600 {
		t.Errorf("unexpected withdraw event: %+v", ev)
	}

	// Overdraw rejected, balance untouched.
	if err := x.Withdraw(tokenX, alice, 601); !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := x.BalanceOf(tokenX, alice); got != 600 {
		t.Errorf("balance after rejected withdraw = %d, want 600", got)
	}

	// Accounts that never deposited read as zero and cannot withdraw.
	if got := x.BalanceOf(tokenX, bob); got != 0 {
		t.Errorf("untouched balance = %d, want 0", got)
	}
	if err := x.Withdraw(tokenX, bob, 1); !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestWithdrawTransferOutFailure(t *testing.T) {
	x, custody, _, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)
	custody.failOut = true

	err := x.Withdraw(tokenX, alice, 400)
	if !errors.Is(err, exchange.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := x.BalanceOf(tokenX, alice); got != 1000 {
		t.Errorf("balance = %d, want 1000 after failed transfer-out", got)
	}
}

// failStore returns batches that always fail to commit.
type failStore struct{}

func (failStore) Batch() exchange.Batch { return failBatch{} }

type failBatch struct{}

func (failBatch) SetBalance(token, account common.Address, amount int64) {}
func (failBatch) PutOrder(o exchange.Order)                              {}
func (failBatch) MarkCancelled(id uint64)                                {}
func (failBatch) MarkFilled(id uint64)                                   {}
func (failBatch) SetOrdersCount(n uint64)                                {}
func (failBatch) SetFeePercent(p int64)                                  {}
func (failBatch) AppendEvent(e exchange.Event)                           {}
func (failBatch) Commit() error                                          { return errors.New("disk full") }

func TestDepositCompensatesOnCommitFailure(t *testing.T) {
	x, custody, feed, _ := newTestExchange(t)
	x.Store = failStore{}

	if err := x.Deposit(tokenX, alice, 1000); err == nil {
		t.Fatal("deposit should fail when the commit fails")
	}
	// The transfer-in happened, then got pushed back out.
	if custody.ins != 1 || custody.outs != 1 {
		t.Errorf("custody moves = %d in / %d out, want 1/1", custody.ins, custody.outs)
	}
	if got := x.BalanceOf(tokenX, alice); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if len(feed.events) != 0 {
		t.Errorf("expected no events, got %d", len(feed.events))
	}
}

func TestWithdrawCompensatesOnCommitFailure(t *testing.T) {
	x, custody, feed, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)
	x.Store = failStore{}

	if err := x.Withdraw(tokenX, alice, 400); err == nil {
		t.Fatal("withdraw should fail when the commit fails")
	}
	// The transfer-out happened, then got pulled back in, so the unchanged
	// ledger balance is not a double spend.
	if custody.outs != 1 {
		t.Errorf("transfer-out count = %d, want 1", custody.outs)
	}
	if custody.ins != 2 {
		t.Errorf("transfer-in count = %d, want 2 (deposit + compensation)", custody.ins)
	}
	if got := x.BalanceOf(tokenX, alice); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}
	if len(feed.events) != 1 {
		t.Errorf("expected only the deposit event, got %d", len(feed.events))
	}
}

func TestBalanceEqualsDepositsMinusWithdrawals(t *testing.T) {
	x, _, _, _ := newTestExchange(t)

	moves := []struct {
		deposit bool
		amount  int64
		wantErr bool
	}{
		{true, 300, false},
		{false, 100, false},
		{false, 250, true}, // would go negative
		{true, 50, false},
		{false, 250, false},
		{false, 1, true}, // exactly empty now
	}

	var want int64
	for i, m := range moves {
		var err error
		if m.deposit {
			err = x.Deposit(tokenX, alice, m.amount)
		} else {
			err = x.Withdraw(tokenX, alice, m.amount)
		}
		if m.wantErr {
			if err == nil {
				t.Fatalf("move %d: expected error", i)
			}
			continue
		}
		if err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
		if m.deposit {
			want += m.amount
		} else {
			want -= m.amount
		}
		got := x.BalanceOf(tokenX, alice)
		if got != want {
			t.Fatalf("move %d: balance = %d, want %d", i, got, want)
		}
		if got < 0 {
			t.Fatalf("move %d: balance went negative", i)
		}
	}
}

func TestMakeOrderAssignsIncreasingIDs(t *testing.T) {
	x, _, feed, clock := newTestExchange(t)

	o1, err := x.MakeOrder(alice, tokenY, 500, tokenX, 500)
	if err != nil {
		t.Fatalf("make order failed: %v", err)
	}
	if o1.ID != 1 {
		t.Errorf("first order id = %d, want 1", o1.ID)
	}
	if o1.Timestamp != clock.Now().UnixMilli() {
		t.Errorf("timestamp = %d, want %d", o1.Timestamp, clock.Now().UnixMilli())
	}

	clock.Advance(time.Minute)
	o2, _ := x.MakeOrder(bob, tokenX, 10, tokenY, 20)
	if o2.ID != 2 {
		t.Errorf("second order id = %d, want 2", o2.ID)
	}
	if x.OrdersCount() != 2 {
		t.Errorf("orders count = %d, want 2", x.OrdersCount())
	}

	ev := feed.last(t)
	if ev.Type != exchange.EventOrder || ev.OrderID != 2 || ev.User != bob {
		t.Errorf("unexpected order event: %+v", ev)
	}
	if ev.TokenGet != tokenX || ev.AmountGet != 10 || ev.TokenGive != tokenY || ev.AmountGive != 20 {
		t.Errorf("order event fields: %+v", ev)
	}

	// Stored order round-trips through the query surface.
	got, err := x.OrderByID(1)
	if err != nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if got != o1 {
		t.Errorf("OrderByID(1) = %+v, want %+v", got, o1)
	}

	// No balance requirement at creation time.
	if _, err := x.MakeOrder(alice, tokenY, 1_000_000, tokenX, 1_000_000); err != nil {
		t.Errorf("make order without funds should succeed, got %v", err)
	}
}

func TestMakeOrderRejectsNonPositiveAmounts(t *testing.T) {
	x, _, _, _ := newTestExchange(t)

	if _, err := x.MakeOrder(alice, tokenY, 0, tokenX, 500); !errors.Is(err, exchange.ErrInvalidAmount) {
		t.Errorf("zero amountGet: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := x.MakeOrder(alice, tokenY, 500, tokenX, -1); !errors.Is(err, exchange.ErrInvalidAmount) {
		t.Errorf("negative amountGive: err = %v, want ErrInvalidAmount", err)
	}
	if x.OrdersCount() != 0 {
		t.Errorf("rejected orders must not consume ids")
	}
}

func TestCancelOrder(t *testing.T) {
	x, _, feed, clock := newTestExchange(t)

	o, _ := x.MakeOrder(alice, tokenY, 500, tokenX, 500)
	clock.Advance(time.Hour)

	if err := x.CancelOrder(alice, o.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !x.IsCancelled(o.ID) {
		t.Error("order should report cancelled")
	}
	if x.IsFilled(o.ID) {
		t.Error("cancelled order must not report filled")
	}
	if status, _ := x.StatusOf(o.ID); status != exchange.StatusCancelled {
		t.Errorf("status = %s, want cancelled", status)
	}

	// Cancel re-emits the original creation timestamp, not the cancel time.
	ev := feed.last(t)
	if ev.Type != exchange.EventCancel {
		t.Fatalf("event type = %s, want cancel", ev.Type)
	}
	if ev.Timestamp != o.Timestamp {
		t.Errorf("cancel timestamp = %d, want original %d", ev.Timestamp, o.Timestamp)
	}

	// Terminal state is permanent.
	if err := x.CancelOrder(alice, o.ID); !errors.Is(err, exchange.ErrOrderCancelled) {
		t.Errorf("double cancel err = %v, want ErrOrderCancelled", err)
	}
}

func TestCancelOrderRejections(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	o, _ := x.MakeOrder(alice, tokenY, 500, tokenX, 500)

	if err := x.CancelOrder(alice, 42); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Errorf("unknown id err = %v, want ErrOrderNotFound", err)
	}
	if err := x.CancelOrder(bob, o.ID); !errors.Is(err, exchange.ErrNotOrderOwner) {
		t.Errorf("foreign cancel err = %v, want ErrNotOrderOwner", err)
	}
	if x.IsCancelled(o.ID) {
		t.Error("rejected cancel must not mark the order")
	}
}

// fundedOrder sets up the reference scenario: alice deposits 1000 X and
// offers 500 X for 500 Y; bob deposits 1000 Y to fill with.
func fundedOrder(t *testing.T, x *exchange.Exchange) exchange.Order {
	t.Helper()
	if err := x.Deposit(tokenX, alice, 1000); err != nil {
		t.Fatalf("alice deposit: %v", err)
	}
	if err := x.Deposit(tokenY, bob, 1000); err != nil {
		t.Fatalf("bob deposit: %v", err)
	}
	o, err := x.MakeOrder(alice, tokenY, 500, tokenX, 500)
	if err != nil {
		t.Fatalf("make order: %v", err)
	}
	return o
}

func TestFillOrderExecutesTradeAndChargesFee(t *testing.T) {
	x, _, feed, clock := newTestExchange(t)
	o := fundedOrder(t, x)
	clock.Advance(time.Minute)

	if err := x.FillOrder(bob, o.ID); err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	// fee = 500 * 10 / 100 = 50, charged to the filler in tokenY.
	checks := []struct {
		token   common.Address
		account common.Address
		want    int64
	}{
		{tokenX, alice, 500},
		{tokenY, alice, 500},
		{tokenX, bob, 500},
		{tokenY, bob, 450},
		{tokenY, feeAccount, 50},
		{tokenX, feeAccount, 0},
	}
	for _, c := range checks {
		if got := x.BalanceOf(c.token, c.account); got != c.want {
			t.Errorf("balance(%s, %s) = %d, want %d", c.token.Hex(), c.account.Hex(), got, c.want)
		}
	}

	if !x.IsFilled(o.ID) {
		t.Error("order should report filled")
	}
	if x.IsCancelled(o.ID) {
		t.Error("filled order must not report cancelled")
	}

	ev := feed.last(t)
	if ev.Type != exchange.EventTrade {
		t.Fatalf("event type = %s, want trade", ev.Type)
	}
	if ev.User != bob || ev.Creator != alice || ev.OrderID != o.ID {
		t.Errorf("trade parties: %+v", ev)
	}
	if ev.Timestamp != clock.Now().UnixMilli() {
		t.Errorf("trade timestamp = %d, want execution time %d", ev.Timestamp, clock.Now().UnixMilli())
	}
	if ev.Timestamp == o.Timestamp {
		t.Error("trade timestamp should be fresh, not the order's creation time")
	}
}

func TestFillOrderIsAllOrNothing(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)
	// bob is short by exactly 1: needs 550 = 500 + 50 fee.
	x.Deposit(tokenY, bob, 549)
	o, _ := x.MakeOrder(alice, tokenY, 500, tokenX, 500)

	if err := x.FillOrder(bob, o.ID); !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// Nothing in the system moved.
	if got := x.BalanceOf(tokenX, alice); got != 1000 {
		t.Errorf("alice X = %d, want 1000", got)
	}
	if got := x.BalanceOf(tokenY, bob); got != 549 {
		t.Errorf("bob Y = %d, want 549", got)
	}
	if got := x.BalanceOf(tokenY, feeAccount); got != 0 {
		t.Errorf("fee account Y = %d, want 0", got)
	}
	if x.IsFilled(o.ID) {
		t.Error("failed fill must not mark the order filled")
	}
}

func TestFillOrderChecksCreatorGiveBalance(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	o := fundedOrder(t, x)

	// Alice pulls her give-side funds out after making the order.
	if err := x.Withdraw(tokenX, alice, 600); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if err := x.FillOrder(bob, o.ID); !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := x.BalanceOf(tokenY, bob); got != 1000 {
		t.Errorf("bob Y = %d, want 1000 (untouched)", got)
	}
	if x.IsFilled(o.ID) {
		t.Error("order must stay open")
	}
}

func TestFilledOrderIsTerminal(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	o := fundedOrder(t, x)

	if err := x.FillOrder(bob, o.ID); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := x.FillOrder(bob, o.ID); !errors.Is(err, exchange.ErrOrderAlreadyFilled) {
		t.Errorf("refill err = %v, want ErrOrderAlreadyFilled", err)
	}
	if err := x.CancelOrder(alice, o.ID); !errors.Is(err, exchange.ErrOrderAlreadyFilled) {
		t.Errorf("cancel-after-fill err = %v, want ErrOrderAlreadyFilled", err)
	}
}

func TestFillOrderRejections(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	o := fundedOrder(t, x)

	if err := x.FillOrder(bob, 42); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Errorf("unknown id err = %v, want ErrOrderNotFound", err)
	}

	if err := x.CancelOrder(alice, o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := x.FillOrder(bob, o.ID); !errors.Is(err, exchange.ErrOrderCancelled) {
		t.Errorf("fill-after-cancel err = %v, want ErrOrderCancelled", err)
	}
}

func TestFeeTruncatesTowardZero(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)
	x.Deposit(tokenY, bob, 1000)

	// fee = 99 * 10 / 100 = 9 (9.9 truncated).
	o, _ := x.MakeOrder(alice, tokenY, 99, tokenX, 100)
	if err := x.FillOrder(bob, o.ID); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if got := x.BalanceOf(tokenY, bob); got != 1000-99-9 {
		t.Errorf("bob Y = %d, want %d", got, 1000-99-9)
	}
	if got := x.BalanceOf(tokenY, feeAccount); got != 9 {
		t.Errorf("fee account Y = %d, want 9", got)
	}
}

func TestSelfFillConservesBalances(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)
	x.Deposit(tokenY, alice, 1000)

	o, _ := x.MakeOrder(alice, tokenY, 500, tokenX, 500)
	if err := x.FillOrder(alice, o.ID); err != nil {
		t.Fatalf("self-fill failed: %v", err)
	}

	// The give and get legs cancel out; only the fee actually moves.
	if got := x.BalanceOf(tokenX, alice); got != 1000 {
		t.Errorf("alice X = %d, want 1000", got)
	}
	if got := x.BalanceOf(tokenY, alice); got != 950 {
		t.Errorf("alice Y = %d, want 950", got)
	}
	if got := x.BalanceOf(tokenY, feeAccount); got != 50 {
		t.Errorf("fee account Y = %d, want 50", got)
	}
	// Nothing minted: per-token totals still equal the deposits.
	if total := x.BalanceOf(tokenY, alice) + x.BalanceOf(tokenY, feeAccount); total != 1000 {
		t.Errorf("tokenY total = %d, want 1000", total)
	}
	if got := x.BalanceOf(tokenX, feeAccount); got != 0 {
		t.Errorf("fee account X = %d, want 0", got)
	}
}

func TestFillSameTokenBothSides(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)
	x.Deposit(tokenX, bob, 1000)

	// Both legs in tokenX: alice wants 100 for 40.
	o, _ := x.MakeOrder(alice, tokenX, 100, tokenX, 40)
	if err := x.FillOrder(bob, o.ID); err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	if got := x.BalanceOf(tokenX, bob); got != 1000-100-10+40 {
		t.Errorf("bob X = %d, want %d", got, 1000-100-10+40)
	}
	if got := x.BalanceOf(tokenX, alice); got != 1000+100-40 {
		t.Errorf("alice X = %d, want %d", got, 1000+100-40)
	}
	if got := x.BalanceOf(tokenX, feeAccount); got != 10 {
		t.Errorf("fee account X = %d, want 10", got)
	}
	total := x.BalanceOf(tokenX, alice) + x.BalanceOf(tokenX, bob) + x.BalanceOf(tokenX, feeAccount)
	if total != 2000 {
		t.Errorf("tokenX total = %d, want 2000", total)
	}
}

func TestFeeAccountAsFiller(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)
	x.Deposit(tokenY, feeAccount, 1000)

	o, _ := x.MakeOrder(alice, tokenY, 500, tokenX, 500)
	if err := x.FillOrder(feeAccount, o.ID); err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	// The fee account pays the fee to itself, so it nets out.
	if got := x.BalanceOf(tokenY, feeAccount); got != 500 {
		t.Errorf("fee account Y = %d, want 500", got)
	}
	if got := x.BalanceOf(tokenX, feeAccount); got != 500 {
		t.Errorf("fee account X = %d, want 500", got)
	}
	if got := x.BalanceOf(tokenY, alice); got != 500 {
		t.Errorf("alice Y = %d, want 500", got)
	}
}

func TestFeeOnLargeAmountsDoesNotWrap(t *testing.T) {
	x, _, _, _ := newTestExchange(t)

	// amountGet * feePercent overflows int64; fee must still come out exact.
	const amountGet = int64(4_000_000_000_000_000_000)
	const amountGive = int64(1000)
	x.Deposit(tokenX, alice, amountGive)
	x.Deposit(tokenY, bob, amountGet+amountGet/10)

	o, err := x.MakeOrder(alice, tokenY, amountGet, tokenX, amountGive)
	if err != nil {
		t.Fatalf("make order: %v", err)
	}
	if err := x.FillOrder(bob, o.ID); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if got := x.BalanceOf(tokenY, feeAccount); got != amountGet/10 {
		t.Errorf("fee account Y = %d, want %d", got, amountGet/10)
	}
	if got := x.BalanceOf(tokenY, bob); got != 0 {
		t.Errorf("bob Y = %d, want 0", got)
	}
}

func TestUnderfundedFillOfLargeOrderRejected(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	if err := x.ChangeFeePercent(admin, 100); err != nil {
		t.Fatalf("fee change: %v", err)
	}

	// At 100% the filler owes double amountGet; a wrapped fee once let a
	// nearly empty account through here.
	const amountGet = int64(93_000_000_000_000_000)
	x.Deposit(tokenX, alice, 1000)
	x.Deposit(tokenY, bob, 2_000_000_000_000_000)
	o, err := x.MakeOrder(alice, tokenY, amountGet, tokenX, 1000)
	if err != nil {
		t.Fatalf("make order: %v", err)
	}

	if err := x.FillOrder(bob, o.ID); !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := x.BalanceOf(tokenY, feeAccount); got != 0 {
		t.Errorf("fee account Y = %d, want 0", got)
	}
	if got := x.BalanceOf(tokenY, bob); got != 2_000_000_000_000_000 {
		t.Errorf("bob Y = %d, want untouched", got)
	}
	if x.IsFilled(o.ID) {
		t.Error("order must stay open")
	}
}

func TestMakeOrderRejectsOversizedAmounts(t *testing.T) {
	x, _, _, _ := newTestExchange(t)

	over := int64(math.MaxInt64/2) + 1
	if _, err := x.MakeOrder(alice, tokenY, over, tokenX, 500); !errors.Is(err, exchange.ErrInvalidAmount) {
		t.Errorf("oversized amountGet: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := x.MakeOrder(alice, tokenY, 500, tokenX, over); !errors.Is(err, exchange.ErrInvalidAmount) {
		t.Errorf("oversized amountGive: err = %v, want ErrInvalidAmount", err)
	}
	if x.OrdersCount() != 0 {
		t.Errorf("rejected orders must not consume ids")
	}
}

func TestChangeFeePercent(t *testing.T) {
	x, _, _, _ := newTestExchange(t)

	if err := x.ChangeFeePercent(admin, 20); err != nil {
		t.Fatalf("admin fee change failed: %v", err)
	}
	if got := x.FeePercent(); got != 20 {
		t.Errorf("fee percent = %d, want 20", got)
	}

	// New percent applies to subsequent trades.
	x.Deposit(tokenX, alice, 1000)
	x.Deposit(tokenY, bob, 1000)
	o, _ := x.MakeOrder(alice, tokenY, 500, tokenX, 500)
	if err := x.FillOrder(bob, o.ID); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if got := x.BalanceOf(tokenY, feeAccount); got != 100 {
		t.Errorf("fee account Y = %d, want 100 at 20%%", got)
	}
}

func TestChangeFeePercentRejections(t *testing.T) {
	x, _, _, _ := newTestExchange(t)

	if err := x.ChangeFeePercent(bob, 20); !errors.Is(err, exchange.ErrNotAdministrator) {
		t.Errorf("err = %v, want ErrNotAdministrator", err)
	}
	if got := x.FeePercent(); got != 10 {
		t.Errorf("fee percent = %d, want unchanged 10", got)
	}

	if err := x.ChangeFeePercent(admin, 101); !errors.Is(err, exchange.ErrInvalidFeePercent) {
		t.Errorf("err = %v, want ErrInvalidFeePercent", err)
	}
	if err := x.ChangeFeePercent(admin, -1); !errors.Is(err, exchange.ErrInvalidFeePercent) {
		t.Errorf("err = %v, want ErrInvalidFeePercent", err)
	}
}

func TestOrdersFilterByStatus(t *testing.T) {
	x, _, _, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)
	x.Deposit(tokenY, bob, 1000)

	open, _ := x.MakeOrder(alice, tokenY, 100, tokenX, 100)
	cancelled, _ := x.MakeOrder(alice, tokenY, 100, tokenX, 100)
	filled, _ := x.MakeOrder(alice, tokenY, 100, tokenX, 100)
	x.CancelOrder(alice, cancelled.ID)
	x.FillOrder(bob, filled.ID)

	if got := x.Orders(""); len(got) != 3 {
		t.Errorf("all orders = %d, want 3", len(got))
	}
	for _, c := range []struct {
		status exchange.OrderStatus
		wantID uint64
	}{
		{exchange.StatusOpen, open.ID},
		{exchange.StatusCancelled, cancelled.ID},
		{exchange.StatusFilled, filled.ID},
	} {
		got := x.Orders(c.status)
		if len(got) != 1 || got[0].ID != c.wantID {
			t.Errorf("Orders(%s) = %+v, want single order %d", c.status, got, c.wantID)
		}
	}
}

// TestEventReplayRebuildsDerivedState mirrors how the web client works: it
// never queries the order book directly, it replays the feed.
func TestEventReplayRebuildsDerivedState(t *testing.T) {
	x, _, feed, _ := newTestExchange(t)
	x.Deposit(tokenX, alice, 1000)
	x.Deposit(tokenY, bob, 1000)

	o1, _ := x.MakeOrder(alice, tokenY, 100, tokenX, 100)
	o2, _ := x.MakeOrder(alice, tokenY, 200, tokenX, 200)
	o3, _ := x.MakeOrder(alice, tokenY, 300, tokenX, 300)
	x.CancelOrder(alice, o2.ID)
	x.FillOrder(bob, o1.ID)

	// Feed order matches apply order and sequence numbers are gapless.
	for i, ev := range feed.events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}

	seen := make(map[uint64]exchange.OrderStatus)
	for _, ev := range feed.events {
		switch ev.Type {
		case exchange.EventOrder:
			seen[ev.OrderID] = exchange.StatusOpen
		case exchange.EventCancel:
			seen[ev.OrderID] = exchange.StatusCancelled
		case exchange.EventTrade:
			seen[ev.OrderID] = exchange.StatusFilled
		}
	}

	for id, want := range map[uint64]exchange.OrderStatus{
		o1.ID: exchange.StatusFilled,
		o2.ID: exchange.StatusCancelled,
		o3.ID: exchange.StatusOpen,
	} {
		if seen[id] != want {
			t.Errorf("replayed status of order %d = %s, want %s", id, seen[id], want)
		}
		if got, _ := x.StatusOf(id); got != want {
			t.Errorf("queried status of order %d = %s, want %s", id, got, want)
		}
	}
}
