// Package token provides in-process ERC-20-style assets and the registry the
// exchange uses to move them in and out of custody.
package token

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientTokens    = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrNegativeAmount        = errors.New("amount must be positive")
)

// Token is an in-process asset with ERC-20 transfer and allowance semantics:
// a fixed total supply minted to the deployer, direct transfers, and
// approve/transferFrom for delegated custody movements.
type Token struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8

	mu          sync.RWMutex
	totalSupply int64
	balances    map[common.Address]int64
	allowances  map[common.Address]map[common.Address]int64 // owner -> spender -> amount
}

// NewToken mints supply (smallest units) to the deployer.
func NewToken(addr common.Address, name, symbol string, decimals uint8, supply int64, deployer common.Address) *Token {
	t := &Token{
		Address:     addr,
		Name:        name,
		Symbol:      symbol,
		Decimals:    decimals,
		totalSupply: supply,
		balances:    make(map[common.Address]int64),
		allowances:  make(map[common.Address]map[common.Address]int64),
	}
	t.balances[deployer] = supply
	return t
}

// TotalSupply returns the fixed supply.
func (t *Token) TotalSupply() int64 {
	return t.totalSupply
}

// BalanceOf returns the holder's balance (0 if never credited).
func (t *Token) BalanceOf(holder common.Address) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[holder]
}

// Allowance returns how much spender may still move on owner's behalf.
func (t *Token) Allowance(owner, spender common.Address) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[owner][spender]
}

// Transfer moves amount from from to to.
func (t *Token) Transfer(from, to common.Address, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfer(from, to, amount)
}

// Approve lets spender move up to amount of owner's tokens. Replaces any
// previous allowance.
func (t *Token) Approve(owner, spender common.Address, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	spenders, ok := t.allowances[owner]
	if !ok {
		spenders = make(map[common.Address]int64)
		t.allowances[owner] = spenders
	}
	spenders[spender] = amount
	return nil
}

// TransferFrom moves amount from from to to, spending spender's allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount int64) error {
	if amount <= 0 {
		return ErrNegativeAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowances[from][spender]
	if allowed < amount {
		return ErrInsufficientAllowance
	}
	if err := t.transfer(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = allowed - amount
	return nil
}

// transfer assumes the lock is held.
func (t *Token) transfer(from, to common.Address, amount int64) error {
	if amount <= 0 {
		return ErrNegativeAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if t.balances[from] < amount {
		return ErrInsufficientTokens
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}
