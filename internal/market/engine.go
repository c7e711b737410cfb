// Package market implements the multi-modal SFT marketplace engine: the item
// registry, the position store, the settlement pipeline, and the four trade
// mode state machines (sale, auction, raffle, loan).
//
// Public operations are serialized under one mutex. Every operation mutates
// engine state to its final shape before any outbound transfer of currency or
// units runs, so a hostile recipient that re-enters the engine from a payout
// callback only ever observes completed state. Failed payouts never abort a
// settlement; the amount accrues as a claimable balance for the recipient.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/ledger"
	"github.com/sfthub/marketplace-engine/internal/model"
	"github.com/sfthub/marketplace-engine/internal/store"
)

const (
	// feeCapBP is the maximum platform fee, in basis points of 10000.
	feeCapBP = 1000

	// softCloseWindow is the minimum time an auction keeps accepting bids
	// after any accepted bid.
	softCloseWindow = 10 * time.Minute

	minAuctionMinutes = 60      // 1 hour
	maxAuctionMinutes = 44640   // 31 days
	minLoanMinutes    = 1       // 1 minute
	maxLoanMinutes    = 2628000 // ~5 years
)

// EventSink receives engine events. Publish must not block; the WebSocket hub
// drops on a full buffer rather than stalling trade execution.
type EventSink interface {
	Publish(ev model.Event)
}

// Config wires the engine's collaborators.
type Config struct {
	Store  store.Store
	Ledger ledger.Gateway
	Bank   ledger.Payer

	// Owner is the platform owner account: fee recipient and fee admin.
	Owner string

	// Custody is the engine's account on the SFT ledger. Units committed
	// to a trade mode are held here until the trade completes.
	Custody string

	// FeeBP is the initial market fee in basis points of 10000 (max 1000).
	FeeBP int64

	// Events receives engine events; nil disables broadcasting.
	Events EventSink

	// Clock overrides time.Now, for deadline tests.
	Clock func() time.Time

	// Rand is the raffle winner draw source; nil uses a time-seeded PCG.
	Rand RandSource
}

// Engine is the marketplace engine handle. All state lives in the configured
// store; the engine itself carries only wiring and the current fee rate.
type Engine struct {
	mu      sync.Mutex
	store   store.Store
	ledger  ledger.Gateway
	bank    ledger.Payer
	owner   string
	custody string
	feeBP   int64 // guarded by mu
	events  EventSink
	now     func() time.Time
	rand    RandSource
}

// New creates an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Ledger == nil || cfg.Bank == nil {
		return nil, fmt.Errorf("market: store, ledger, and bank are required")
	}
	if cfg.Owner == "" || cfg.Custody == "" {
		return nil, fmt.Errorf("market: owner and custody accounts are required")
	}
	if cfg.FeeBP < 0 || cfg.FeeBP > feeCapBP {
		return nil, fmt.Errorf("market: fee %dbp outside [0, %d]: %w", cfg.FeeBP, feeCapBP, ErrBadParameter)
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = NewSeededRand(uint64(time.Now().UnixNano()))
	}

	return &Engine{
		store:   cfg.Store,
		ledger:  cfg.Ledger,
		bank:    cfg.Bank,
		owner:   cfg.Owner,
		custody: cfg.Custody,
		feeBP:   cfg.FeeBP,
		events:  cfg.Events,
		now:     now,
		rand:    rnd,
	}, nil
}

// --- Outbound plan ---
//
// Operations build a plan under the engine mutex while mutating state, then
// run it after unlocking. Payout failures credit the claimable store.

type payout struct {
	kind   string // "royalty", "fee", "seller", "refund", "funding", "repayment"
	to     string
	amount decimal.Decimal
}

type unitTransfer struct {
	to          string
	nftContract string
	tokenID     uint64
	units       uint64
}

type mergeTarget struct {
	itemID uint64
	owner  string
}

type plan struct {
	payouts []payout
	units   []unitTransfer
	merges  []mergeTarget
	events  []model.Event
}

func (p *plan) pay(kind, to string, amount decimal.Decimal) {
	p.payouts = append(p.payouts, payout{kind: kind, to: to, amount: amount})
}

func (p *plan) sendUnits(to string, item *model.Item, units uint64) {
	p.units = append(p.units, unitTransfer{to: to, nftContract: item.NFTContract, tokenID: item.TokenID, units: units})
}

func (p *plan) merge(itemID uint64, owner string) {
	p.merges = append(p.merges, mergeTarget{itemID: itemID, owner: owner})
}

func (p *plan) emit(ev model.Event) {
	p.events = append(p.events, ev)
}

// execute runs a plan: payouts (failure-tolerant), unit transfers out of
// custody, available-position re-synchronization, then event broadcast.
// Called with the engine mutex released.
func (e *Engine) execute(ctx context.Context, pl *plan) {
	for _, po := range pl.payouts {
		if !po.amount.IsPositive() {
			continue
		}
		if err := e.bank.Transfer(ctx, po.to, po.amount); err != nil {
			slog.Warn("payout failed, crediting claimable balance",
				"kind", po.kind, "to", po.to, "amount", po.amount.String(), "err", err)
			if cerr := e.store.CreditClaimable(ctx, po.to, po.amount); cerr != nil {
				slog.Error("claimable credit failed", "to", po.to, "amount", po.amount.String(), "err", cerr)
			}
		}
	}

	for _, ut := range pl.units {
		if err := e.ledger.TransferFrom(ctx, e.custody, ut.to, ut.nftContract, ut.tokenID, ut.units); err != nil {
			// Custody must always cover committed positions; a failure
			// here means the invariant was broken upstream.
			slog.Error("custody transfer out failed",
				"to", ut.to, "contract", ut.nftContract, "token", ut.tokenID, "units", ut.units, "err", err)
		}
	}

	e.mu.Lock()
	for _, m := range pl.merges {
		evs, err := e.mergeOrCreateAvailable(ctx, m.itemID, m.owner)
		if err != nil {
			slog.Error("available position resync failed", "item", m.itemID, "owner", m.owner, "err", err)
			continue
		}
		pl.events = append(pl.events, evs...)
	}
	e.mu.Unlock()

	if e.events != nil {
		for _, ev := range pl.events {
			e.events.Publish(ev)
		}
	}
}

// mergeOrCreateAvailable re-synchronizes the unique available position for
// (itemID, owner) against the authoritative ledger balance: updates it,
// creates it, or deletes it when the balance is zero. Caller holds e.mu.
func (e *Engine) mergeOrCreateAvailable(ctx context.Context, itemID uint64, owner string) ([]model.Event, error) {
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	balance, err := e.ledger.BalanceOf(ctx, owner, item.NFTContract, item.TokenID)
	if err != nil {
		return nil, err
	}

	pos, err := e.store.FindAvailable(ctx, itemID, owner)
	switch {
	case err == nil && balance == 0:
		if err := e.store.DeletePosition(ctx, pos.ID); err != nil {
			return nil, err
		}
		if err := e.store.AdjustPositionCount(ctx, itemID, -1); err != nil {
			return nil, err
		}
		return []model.Event{model.PositionDelete{PositionID: pos.ID}}, nil

	case err == nil:
		pos.Amount = balance
		if err := e.store.UpdatePosition(ctx, pos); err != nil {
			return nil, err
		}
		return []model.Event{positionUpdate(pos)}, nil

	case errorsIsNotFound(err) && balance > 0:
		pos = &model.Position{
			ItemID:    itemID,
			Owner:     owner,
			Amount:    balance,
			Price:     decimal.Zero,
			FeeBP:     e.feeBP,
			State:     model.StateAvailable,
			CreatedAt: e.now(),
		}
		if err := e.store.CreatePosition(ctx, pos); err != nil {
			return nil, err
		}
		if err := e.store.AdjustPositionCount(ctx, itemID, 1); err != nil {
			return nil, err
		}
		return []model.Event{positionUpdate(pos)}, nil

	case errorsIsNotFound(err):
		return nil, nil
	}
	return nil, err
}

// --- Shared position helpers (callers hold e.mu) ---

// positionInState loads a position and checks it is in the required state.
func (e *Engine) positionInState(ctx context.Context, id uint64, want model.PositionState) (*model.Position, error) {
	pos, err := e.store.GetPosition(ctx, id)
	if errorsIsNotFound(err) {
		return nil, fmt.Errorf("position %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if pos.State != want {
		return nil, fmt.Errorf("position %d is %s, need %s: %w", id, pos.State, want, ErrWrongState)
	}
	return pos, nil
}

// ingest moves units from the caller into engine custody. The only transfer
// whose failure aborts an operation: the engine must hold what it claims.
func (e *Engine) ingest(ctx context.Context, caller string, item *model.Item, units uint64) error {
	approved, err := e.ledger.IsApprovedForAll(ctx, caller, e.custody)
	if err != nil {
		return err
	}
	if !approved {
		return fmt.Errorf("account %s has not granted operator rights to %s: %w", caller, e.custody, ErrUnauthorized)
	}

	balance, err := e.ledger.BalanceOf(ctx, caller, item.NFTContract, item.TokenID)
	if err != nil {
		return err
	}
	if balance < units {
		return fmt.Errorf("account %s holds %d of %d units: %w", caller, balance, units, ErrInsufficientBalance)
	}

	return e.ledger.TransferFrom(ctx, caller, e.custody, item.NFTContract, item.TokenID, units)
}

// createTradePosition opens a new position in a trade mode, bumping the
// item's position count, and re-syncs the caller's available position whose
// units just moved into custody.
func (e *Engine) createTradePosition(ctx context.Context, item *model.Item, owner string, units uint64, price decimal.Decimal, state model.PositionState, pl *plan) (*model.Position, error) {
	pos := &model.Position{
		ItemID:    item.ID,
		Owner:     owner,
		Amount:    units,
		Price:     price,
		FeeBP:     e.feeBP,
		State:     state,
		CreatedAt: e.now(),
	}
	if err := e.store.CreatePosition(ctx, pos); err != nil {
		return nil, err
	}
	if err := e.store.AdjustPositionCount(ctx, item.ID, 1); err != nil {
		return nil, err
	}
	pl.emit(positionUpdate(pos))
	pl.merge(item.ID, owner)
	return pos, nil
}

// removePosition deletes a position, its sidecar row, and decrements the
// item's position count.
func (e *Engine) removePosition(ctx context.Context, pos *model.Position, pl *plan) error {
	if err := e.store.DeletePosition(ctx, pos.ID); err != nil {
		return err
	}
	switch pos.State {
	case model.StateAuction:
		if err := e.store.DeleteAuction(ctx, pos.ID); err != nil {
			return err
		}
	case model.StateRaffle:
		if err := e.store.DeleteRaffle(ctx, pos.ID); err != nil {
			return err
		}
	case model.StateLoan:
		if err := e.store.DeleteLoan(ctx, pos.ID); err != nil {
			return err
		}
	}
	if err := e.store.AdjustPositionCount(ctx, pos.ItemID, -1); err != nil {
		return err
	}
	pl.emit(model.PositionDelete{PositionID: pos.ID})
	return nil
}

// --- Claimable balances ---

// Withdraw pays out the caller's accrued claimable balance. The balance is
// zeroed before the transfer; a failed transfer restores it.
func (e *Engine) Withdraw(ctx context.Context, caller string) (decimal.Decimal, error) {
	amount, err := e.store.TakeClaimable(ctx, caller)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("account %s has no claimable balance: %w", caller, ErrNoBalance)
	}

	if err := e.bank.Transfer(ctx, caller, amount); err != nil {
		if cerr := e.store.CreditClaimable(ctx, caller, amount); cerr != nil {
			slog.Error("claimable restore failed", "account", caller, "amount", amount.String(), "err", cerr)
		}
		return decimal.Zero, fmt.Errorf("withdraw transfer to %s: %w", caller, err)
	}

	slog.Info("claimable balance withdrawn", "account", caller, "amount", amount.String())
	return amount, nil
}

// Claimable returns the caller's accrued claimable balance.
func (e *Engine) Claimable(ctx context.Context, account string) (decimal.Decimal, error) {
	return e.store.GetClaimable(ctx, account)
}

// --- Fee admin ---

// MarketFee returns the current market fee in basis points.
func (e *Engine) MarketFee() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeBP
}

// SetMarketFee changes the market fee rate. Platform owner only; capped at
// 1000bp. Open positions keep their snapshot.
func (e *Engine) SetMarketFee(caller string, bp int64) error {
	if caller != e.owner {
		return fmt.Errorf("fee admin requires platform owner: %w", ErrUnauthorized)
	}
	if bp < 0 || bp > feeCapBP {
		return fmt.Errorf("fee %dbp outside [0, %d]: %w", bp, feeCapBP, ErrBadParameter)
	}

	e.mu.Lock()
	prev := e.feeBP
	e.feeBP = bp
	e.mu.Unlock()

	slog.Info("market fee changed", "prev_bp", prev, "new_bp", bp)
	if e.events != nil {
		e.events.Publish(model.MarketFeeChanged{Prev: prev, New: bp})
	}
	return nil
}

// --- small shared helpers ---

func positionUpdate(p *model.Position) model.PositionUpdate {
	return model.PositionUpdate{
		PositionID: p.ID,
		ItemID:     p.ItemID,
		Owner:      p.Owner,
		Amount:     p.Amount,
		Price:      p.Price,
		FeeBP:      p.FeeBP,
		State:      p.State,
	}
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
