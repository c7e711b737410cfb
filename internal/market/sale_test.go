package market_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/market"
	"github.com/sfthub/marketplace-engine/internal/model"
)

func TestPutOnSale_UnlistRoundTrip(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 6, d(2))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}

	// Six units in custody, four left with the seller.
	if got := env.tokenBalance(t, custodyAcct); got != 6 {
		t.Errorf("custody balance = %d, want 6", got)
	}
	if got := env.tokenBalance(t, "alice"); got != 4 {
		t.Errorf("seller balance = %d, want 4", got)
	}

	view, err := env.engine.FetchPosition(ctx, posID)
	if err != nil {
		t.Fatalf("fetch position: %v", err)
	}
	if view.Position.State != model.StateSale || view.Position.Amount != 6 {
		t.Errorf("position = %s/%d units, want SALE/6", view.Position.State, view.Position.Amount)
	}

	if err := env.engine.Unlist(ctx, "alice", posID); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	if got := env.tokenBalance(t, "alice"); got != 10 {
		t.Errorf("seller balance after unlist = %d, want 10", got)
	}
	if _, err := env.engine.FetchPosition(ctx, posID); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("expected position gone, got %v", err)
	}
}

func TestPutOnSale_Validation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	if _, err := env.engine.PutOnSale(ctx, "alice", itemID, 6, decimal.Zero); !errors.Is(err, market.ErrBadParameter) {
		t.Errorf("zero price: expected ErrBadParameter, got %v", err)
	}
	if _, err := env.engine.PutOnSale(ctx, "alice", itemID, 0, d(1)); !errors.Is(err, market.ErrBadParameter) {
		t.Errorf("zero units: expected ErrBadParameter, got %v", err)
	}
	if _, err := env.engine.PutOnSale(ctx, "alice", itemID, 11, d(1)); !errors.Is(err, market.ErrInsufficientBalance) {
		t.Errorf("over balance: expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := env.engine.PutOnSale(ctx, "alice", 999, 6, d(1)); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("unknown item: expected ErrNotFound, got %v", err)
	}

	// No operator grant, no listing.
	env.ledger.Mint("carol", testContract, testTokenID, 5)
	if _, err := env.engine.PutOnSale(ctx, "carol", itemID, 5, d(1)); !errors.Is(err, market.ErrUnauthorized) {
		t.Errorf("unapproved seller: expected ErrUnauthorized, got %v", err)
	}
}

// A partial fill settles royalty on gross, then fee, then seller, shrinks the
// sale position, and materializes the buyer's available position.
func TestCreateSale_PartialFillWithRoyalty(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)
	env.ledger.SetRoyalty(testContract, testTokenID, "creator-fund", 1000)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 10, d(5))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}

	receipt, err := env.engine.CreateSale(ctx, "bob", posID, 3, d(15))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	wantDecimal(t, "gross", receipt.Settlement.Gross, d(15))
	wantDecimal(t, "royalty", receipt.Settlement.Royalty, d(1.5))
	wantDecimal(t, "fee", receipt.Settlement.Fee, decimal.Zero)
	wantDecimal(t, "net", receipt.Settlement.Net, d(13.5))
	if receipt.Settlement.RoyaltyReceiver != "creator-fund" {
		t.Errorf("royalty receiver = %s, want creator-fund", receipt.Settlement.RoyaltyReceiver)
	}

	wantDecimal(t, "creator-fund paid", env.bank.Balance("creator-fund"), d(1.5))
	wantDecimal(t, "seller paid", env.bank.Balance("alice"), d(13.5))

	// Position shrinks to 7; buyer holds 3 in a fresh available position.
	view, err := env.engine.FetchPosition(ctx, posID)
	if err != nil {
		t.Fatalf("fetch position: %v", err)
	}
	if view.Position.Amount != 7 {
		t.Errorf("remaining units = %d, want 7", view.Position.Amount)
	}
	avail := env.availablePositions(t, itemID, "bob")
	if len(avail) != 1 || avail[0].Amount != 3 {
		t.Fatalf("buyer available = %+v, want one position of 3 units", avail)
	}
	if got := env.tokenBalance(t, "bob"); got != 3 {
		t.Errorf("buyer ledger balance = %d, want 3", got)
	}
}

// Royalty owed to the seller collapses into the seller payout instead of a
// separate royalty transfer.
func TestCreateSale_RoyaltyToSellerCollapses(t *testing.T) {
	env := newTestEnv(t, 200)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)
	env.ledger.SetRoyalty(testContract, testTokenID, "alice", 1000)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 10, d(10))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}

	receipt, err := env.engine.CreateSale(ctx, "bob", posID, 10, d(100))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	wantDecimal(t, "royalty", receipt.Settlement.Royalty, decimal.Zero)
	wantDecimal(t, "fee", receipt.Settlement.Fee, d(2))
	wantDecimal(t, "net", receipt.Settlement.Net, d(98))
	wantDecimal(t, "seller paid", env.bank.Balance("alice"), d(98))
	wantDecimal(t, "platform paid", env.bank.Balance(platformAcct), d(2))
}

func TestCreateSale_ExactValueRequired(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 10, d(5))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}

	if _, err := env.engine.CreateSale(ctx, "bob", posID, 3, d(14)); !errors.Is(err, market.ErrBadValue) {
		t.Errorf("underpay: expected ErrBadValue, got %v", err)
	}
	if _, err := env.engine.CreateSale(ctx, "bob", posID, 3, d(16)); !errors.Is(err, market.ErrBadValue) {
		t.Errorf("overpay: expected ErrBadValue, got %v", err)
	}
	if _, err := env.engine.CreateSale(ctx, "bob", posID, 11, d(55)); !errors.Is(err, market.ErrInsufficientBalance) {
		t.Errorf("over position size: expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := env.engine.CreateSale(ctx, "bob", posID, 0, decimal.Zero); !errors.Is(err, market.ErrBadParameter) {
		t.Errorf("zero units: expected ErrBadParameter, got %v", err)
	}
}

// Buying out the whole position deletes it; the sale is recorded in the item
// history.
func TestCreateSale_FullFillDeletesPosition(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 10, d(1))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}
	if _, err := env.engine.CreateSale(ctx, "bob", posID, 10, d(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if _, err := env.engine.FetchPosition(ctx, posID); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("expected position gone, got %v", err)
	}
	view, err := env.engine.FetchItem(ctx, itemID)
	if err != nil {
		t.Fatalf("fetch item: %v", err)
	}
	if len(view.Sales) != 1 {
		t.Fatalf("expected one sale record, got %d", len(view.Sales))
	}
	if view.Sales[0].Seller != "alice" || view.Sales[0].Buyer != "bob" || view.Sales[0].Amount != 10 {
		t.Errorf("sale record = %+v", view.Sales[0])
	}
}

func TestUnlist_SellerOnly(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 10, d(1))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}
	if err := env.engine.Unlist(ctx, "bob", posID); !errors.Is(err, market.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

// A recipient that re-enters the engine from its payout callback observes
// only completed state: by payout time the sold-out position is already gone.
func TestCreateSale_ReentrantRecipientSeesFinalState(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 10, d(1))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}

	var reentrantErr error
	env.bank.OnTransfer = func(to string, _ decimal.Decimal) {
		if to != "alice" {
			return
		}
		// Try to buy out of the position mid-payout.
		_, reentrantErr = env.engine.CreateSale(ctx, "eve", posID, 1, d(1))
	}

	if _, err := env.engine.CreateSale(ctx, "bob", posID, 10, d(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !errors.Is(reentrantErr, market.ErrNotFound) {
		t.Errorf("reentrant buy: expected ErrNotFound, got %v", reentrantErr)
	}
	if got := env.tokenBalance(t, "bob"); got != 10 {
		t.Errorf("buyer units = %d, want 10", got)
	}
}

// A hostile seller whose receive path reverts gets a claimable balance
// instead of blocking the trade.
func TestCreateSale_HostileSellerGetsClaimable(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 10, d(1))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}

	env.bank.Reject("alice", true)
	receipt, err := env.engine.CreateSale(ctx, "bob", posID, 10, d(10))
	if err != nil {
		t.Fatalf("buy must succeed despite seller payout failure: %v", err)
	}
	wantDecimal(t, "net", receipt.Settlement.Net, d(10))

	claimable, err := env.engine.Claimable(ctx, "alice")
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	wantDecimal(t, "seller claimable", claimable, d(10))
	if got := env.tokenBalance(t, "bob"); got != 10 {
		t.Errorf("buyer still receives units, balance = %d, want 10", got)
	}
}
