// Command seed replays the demo scenario against a running node: distributes
// the dev tokens, funds the exchange, then leaves behind one cancelled order,
// three filled orders, and ten open orders per user so the web client has a
// populated history to render.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sbhlabs/tokendex/pkg/crypto"
	"github.com/sbhlabs/tokendex/pkg/util"
)

// Hardhat's well-known dev private keys. Addresses match params' dev
// addresses; deriving them here keeps the two in lockstep.
const (
	adminKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	feeKey   = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	user1Key = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
	user2Key = "0x7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6"
)

const seedAmount = 10000

type client struct {
	base string
	http *http.Client
}

func main() {
	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	base := os.Getenv("NODE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}

	admin := mustAddress(adminKey)
	user1 := mustAddress(user1Key)
	user2 := mustAddress(user2Key)

	tokens, err := c.tokenAddresses()
	if err != nil {
		sugar.Fatalw("token_listing_failed", "err", err)
	}
	quy, sbh, wibu := tokens["QUY"], tokens["SBH"], tokens["WIBU"]
	if quy == (common.Address{}) || sbh == (common.Address{}) || wibu == (common.Address{}) {
		sugar.Fatalw("dev_tokens_missing", "tokens", tokens)
	}

	// Distribute QUY from the deployer to both users.
	for _, user := range []common.Address{user1, user2} {
		if err := c.transfer(quy, admin, user, seedAmount); err != nil {
			sugar.Fatalw("transfer_failed", "err", err)
		}
		sugar.Infow("transferred", "token", "QUY", "to", user.Hex(), "amount", seedAmount)
	}

	// Fund the exchange: user1 deposits QUY, user2 deposits WIBU.
	for _, d := range []struct {
		token common.Address
		user  common.Address
		name  string
	}{
		{quy, user1, "QUY"},
		{wibu, user2, "WIBU"},
	} {
		if err := c.approve(d.token, d.user, seedAmount); err != nil {
			sugar.Fatalw("approve_failed", "token", d.name, "err", err)
		}
		if err := c.deposit(d.token, d.user, seedAmount); err != nil {
			sugar.Fatalw("deposit_failed", "token", d.name, "err", err)
		}
		sugar.Infow("deposited", "token", d.name, "user", d.user.Hex(), "amount", seedAmount)
	}

	// A made-and-cancelled order.
	id, err := c.makeOrder(user1, wibu, 100, quy, 10)
	if err != nil {
		sugar.Fatalw("make_order_failed", "err", err)
	}
	if err := c.cancelOrder(user1, id); err != nil {
		sugar.Fatalw("cancel_order_failed", "id", id, "err", err)
	}
	sugar.Infow("order_cancelled", "id", id)

	// Three filled orders.
	for _, o := range []struct{ get, give int64 }{
		{100, 10},
		{50, 2},
		{200, 25},
	} {
		id, err := c.makeOrder(user1, wibu, o.get, quy, o.give)
		if err != nil {
			sugar.Fatalw("make_order_failed", "err", err)
		}
		if err := c.fillOrder(user2, id); err != nil {
			sugar.Fatalw("fill_order_failed", "id", id, "err", err)
		}
		sugar.Infow("order_filled", "id", id, "amount_get", o.get, "amount_give", o.give)
		time.Sleep(time.Second)
	}

	// Ten open orders on each side of the book.
	for i := int64(1); i <= 10; i++ {
		id, err := c.makeOrder(user1, wibu, 10*i, quy, 10)
		if err != nil {
			sugar.Fatalw("make_order_failed", "err", err)
		}
		sugar.Infow("order_made", "id", id, "creator", "user1")
		time.Sleep(time.Second)
	}
	for i := int64(1); i <= 10; i++ {
		id, err := c.makeOrder(user2, quy, 10, wibu, 10*i)
		if err != nil {
			sugar.Fatalw("make_order_failed", "err", err)
		}
		sugar.Infow("order_made", "id", id, "creator", "user2")
		time.Sleep(time.Second)
	}

	sugar.Info("seed_complete")
}

func mustAddress(hexKey string) common.Address {
	signer, err := crypto.FromPrivateKeyHex(hexKey)
	if err != nil {
		log.Fatalf("bad dev key: %v", err)
	}
	return signer.Address()
}

func (c *client) tokenAddresses() (map[string]common.Address, error) {
	resp, err := c.http.Get(c.base + "/api/v1/tokens")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /tokens: %s", resp.Status)
	}

	var tokens []struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, err
	}
	out := make(map[string]common.Address, len(tokens))
	for _, t := range tokens {
		out[t.Symbol] = common.HexToAddress(t.Address)
	}
	return out, nil
}

func (c *client) transfer(token, from, to common.Address, amount int64) error {
	return c.post(fmt.Sprintf("/api/v1/tokens/%s/transfer", token.Hex()), map[string]any{
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": amount,
	}, nil)
}

func (c *client) approve(token, owner common.Address, amount int64) error {
	return c.post(fmt.Sprintf("/api/v1/tokens/%s/approve", token.Hex()), map[string]any{
		"owner":  owner.Hex(),
		"amount": amount,
	}, nil)
}

func (c *client) deposit(token, account common.Address, amount int64) error {
	return c.post("/api/v1/deposits", map[string]any{
		"token":   token.Hex(),
		"account": account.Hex(),
		"amount":  amount,
	}, nil)
}

func (c *client) makeOrder(creator, tokenGet common.Address, amountGet int64, tokenGive common.Address, amountGive int64) (uint64, error) {
	var out struct {
		ID uint64 `json:"id"`
	}
	err := c.post("/api/v1/orders", map[string]any{
		"creator":    creator.Hex(),
		"tokenGet":   tokenGet.Hex(),
		"amountGet":  amountGet,
		"tokenGive":  tokenGive.Hex(),
		"amountGive": amountGive,
	}, &out)
	return out.ID, err
}

func (c *client) cancelOrder(caller common.Address, id uint64) error {
	return c.post(fmt.Sprintf("/api/v1/orders/%d/cancel", id), map[string]any{"caller": caller.Hex()}, nil)
}

func (c *client) fillOrder(caller common.Address, id uint64) error {
	return c.post(fmt.Sprintf("/api/v1/orders/%d/fill", id), map[string]any{"caller": caller.Hex()}, nil)
}

func (c *client) post(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: %s: %s", path, resp.Status, detail)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
