package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sbhlabs/tokendex/pkg/crypto"
)

var ErrUnknownToken = errors.New("unknown token")

// Registry maps token addresses to the in-process assets behind them and
// adapts them to the exchange's custody capability: deposits pull tokens in
// via approve/transferFrom, withdrawals push them back out via transfer. The
// registry's custodian address plays the role the exchange contract address
// plays on chain.
type Registry struct {
	custodian common.Address

	mu     sync.RWMutex
	tokens map[common.Address]*Token
}

// NewRegistry creates an empty registry custodying under custodian.
func NewRegistry(custodian common.Address) *Registry {
	return &Registry{
		custodian: custodian,
		tokens:    make(map[common.Address]*Token),
	}
}

// Custodian returns the address tokens are held under while deposited.
func (r *Registry) Custodian() common.Address {
	return r.custodian
}

// Deploy creates a token with the full supply minted to deployer and
// registers it under its deterministic address.
func (r *Registry) Deploy(name, symbol string, decimals uint8, supply int64, deployer common.Address) (*Token, error) {
	addr := crypto.TokenAddress(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[addr]; exists {
		return nil, fmt.Errorf("token %s already deployed at %s", symbol, addr.Hex())
	}
	t := NewToken(addr, name, symbol, decimals, supply, deployer)
	r.tokens[addr] = t
	return t, nil
}

// Get returns the token at addr.
func (r *Registry) Get(addr common.Address) (*Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	return t, ok
}

// List returns all registered tokens.
func (r *Registry) List() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}

// TransferIn pulls amount of token from the user into custody. The user must
// have approved the custodian beforehand, as with any ERC-20 deposit.
func (r *Registry) TransferIn(tokenAddr, from common.Address, amount int64) error {
	t, ok := r.Get(tokenAddr)
	if !ok {
		return ErrUnknownToken
	}
	return t.TransferFrom(r.custodian, from, r.custodian, amount)
}

// TransferOut pushes amount of token from custody back to the user.
func (r *Registry) TransferOut(tokenAddr, to common.Address, amount int64) error {
	t, ok := r.Get(tokenAddr)
	if !ok {
		return ErrUnknownToken
	}
	return t.Transfer(r.custodian, to, amount)
}
