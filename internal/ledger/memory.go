package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryLedger implements Gateway with in-memory maps. Used for testing and
// development. Royalty configuration is per (contract, token) in basis points
// of 10000, mirroring EIP-2981.
type MemoryLedger struct {
	mu        sync.RWMutex
	operator  string // the engine's custody account; moves units freely
	balances  map[string]uint64            // owner|contract|token → units
	approvals map[string]map[string]bool   // owner → operator → granted
	royalties map[string]royaltyConfig     // contract|token → config
	royalty   map[string]bool              // contract → supports royalty
}

type royaltyConfig struct {
	receiver string
	bp       int64
}

// NewMemoryLedger creates an in-memory SFT ledger. operator is the account
// allowed to move third-party balances once approved (the engine's custody
// account).
func NewMemoryLedger(operator string) *MemoryLedger {
	return &MemoryLedger{
		operator:  operator,
		balances:  make(map[string]uint64),
		approvals: make(map[string]map[string]bool),
		royalties: make(map[string]royaltyConfig),
		royalty:   make(map[string]bool),
	}
}

func balanceKey(owner, contract string, tokenID uint64) string {
	return fmt.Sprintf("%s|%s|%d", owner, contract, tokenID)
}

func tokenKey(contract string, tokenID uint64) string {
	return fmt.Sprintf("%s|%d", contract, tokenID)
}

// Mint credits units to owner. Test/dev seeding only.
func (l *MemoryLedger) Mint(owner, contract string, tokenID uint64, units uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey(owner, contract, tokenID)] += units
}

// SetApprovalForAll records an operator grant from owner.
func (l *MemoryLedger) SetApprovalForAll(owner, operator string, approved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	grants, ok := l.approvals[owner]
	if !ok {
		grants = make(map[string]bool)
		l.approvals[owner] = grants
	}
	grants[operator] = approved
}

// SetRoyalty configures royalty for one token: receiver gets bp/10000 of the
// gross on every settlement. Marks the contract as royalty-capable.
func (l *MemoryLedger) SetRoyalty(contract string, tokenID uint64, receiver string, bp int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.royalty[contract] = true
	l.royalties[tokenKey(contract, tokenID)] = royaltyConfig{receiver: receiver, bp: bp}
}

func (l *MemoryLedger) BalanceOf(_ context.Context, owner, contract string, tokenID uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey(owner, contract, tokenID)], nil
}

func (l *MemoryLedger) IsApprovedForAll(_ context.Context, owner, operator string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.approvals[owner][operator], nil
}

func (l *MemoryLedger) TransferFrom(_ context.Context, from, to, contract string, tokenID uint64, units uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Outbound custody moves are initiated by the operator itself; anything
	// else needs an operator grant from the source account.
	if from != l.operator && !l.approvals[from][l.operator] {
		return fmt.Errorf("transfer from %s: operator %s not approved", from, l.operator)
	}

	key := balanceKey(from, contract, tokenID)
	if l.balances[key] < units {
		return fmt.Errorf("transfer from %s: balance %d < %d", from, l.balances[key], units)
	}
	l.balances[key] -= units
	l.balances[balanceKey(to, contract, tokenID)] += units
	return nil
}

func (l *MemoryLedger) SupportsRoyalty(_ context.Context, contract string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.royalty[contract], nil
}

func (l *MemoryLedger) RoyaltyInfo(_ context.Context, contract string, tokenID uint64, gross decimal.Decimal) (string, decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cfg, ok := l.royalties[tokenKey(contract, tokenID)]
	if !ok {
		return "", decimal.Zero, nil
	}
	amount := gross.Mul(decimal.NewFromInt(cfg.bp)).Div(decimal.NewFromInt(10000))
	return cfg.receiver, amount, nil
}

// MemoryBank implements Payer with an in-memory account table. Recipients can
// be marked as rejecting, and an OnTransfer hook lets tests simulate hostile
// recipients that call back into the engine mid-payout.
type MemoryBank struct {
	mu        sync.RWMutex
	balances  map[string]decimal.Decimal
	rejecting map[string]bool

	// OnTransfer, if set, runs before the credit is applied. Set by tests
	// to exercise reentrancy paths.
	OnTransfer func(to string, amount decimal.Decimal)
}

// NewMemoryBank creates an in-memory payment rail.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances:  make(map[string]decimal.Decimal),
		rejecting: make(map[string]bool),
	}
}

// Reject makes every transfer to account fail, simulating a recipient whose
// receive path reverts.
func (b *MemoryBank) Reject(account string, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejecting[account] = reject
}

// Balance returns the accrued balance of account.
func (b *MemoryBank) Balance(account string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[account]
}

func (b *MemoryBank) Transfer(_ context.Context, to string, amount decimal.Decimal) error {
	b.mu.RLock()
	rejected := b.rejecting[to]
	hook := b.OnTransfer
	b.mu.RUnlock()

	if rejected {
		return fmt.Errorf("transfer to %s rejected", to)
	}
	if hook != nil {
		hook(to, amount)
	}

	b.mu.Lock()
	b.balances[to] = b.balances[to].Add(amount)
	b.mu.Unlock()
	return nil
}
