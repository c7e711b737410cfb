package market_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/market"
)

// Settlement math across fee/royalty combinations. Royalty is taken on gross,
// the fee on the post-royalty base with floor division, and the rounding
// residue stays with the seller, so the splits always sum back to gross.
func TestSettlementMath(t *testing.T) {
	tests := []struct {
		name        string
		feeBP       int64
		royaltyBP   int64
		gross       float64
		wantRoyalty float64
		wantFee     float64
		wantNet     float64
	}{
		{"no fee no royalty", 0, 0, 100, 0, 0, 100},
		{"fee at cap", 1000, 0, 100, 0, 10, 90},
		{"fee after royalty", 250, 500, 100, 5, 2, 93},
		{"royalty then fee floors", 1000, 1000, 15, 1.5, 1, 12.5},
		{"fee floors to whole", 333, 0, 77, 0, 2, 75},
		{"royalty at half of gross", 0, 5000, 100, 50, 0, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.feeBP)
			ctx := context.Background()
			itemID := env.seedItem(t, "alice", 1)
			if tt.royaltyBP > 0 {
				env.ledger.SetRoyalty(testContract, testTokenID, "creator-fund", tt.royaltyBP)
			}

			posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 1, d(tt.gross))
			if err != nil {
				t.Fatalf("put on sale: %v", err)
			}
			receipt, err := env.engine.CreateSale(ctx, "bob", posID, 1, d(tt.gross))
			if err != nil {
				t.Fatalf("buy: %v", err)
			}

			st := receipt.Settlement
			wantDecimal(t, "royalty", st.Royalty, d(tt.wantRoyalty))
			wantDecimal(t, "fee", st.Fee, d(tt.wantFee))
			wantDecimal(t, "net", st.Net, d(tt.wantNet))

			total := st.Royalty.Add(st.Fee).Add(st.Net)
			wantDecimal(t, "royalty+fee+net", total, st.Gross)
		})
	}
}

// A royalty configuration claiming more than half of gross is rejected before
// any state changes.
func TestSettlement_ExcessiveRoyaltyRejected(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 1)
	env.ledger.SetRoyalty(testContract, testTokenID, "creator-fund", 6000)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 1, d(100))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}

	if _, err := env.engine.CreateSale(ctx, "bob", posID, 1, d(100)); !errors.Is(err, market.ErrBadParameter) {
		t.Fatalf("expected ErrBadParameter, got %v", err)
	}

	// The position must be untouched by the failed trade.
	view, err := env.engine.FetchPosition(ctx, posID)
	if err != nil {
		t.Fatalf("fetch position: %v", err)
	}
	if view.Position.Amount != 1 {
		t.Errorf("position amount = %d, want 1", view.Position.Amount)
	}
	wantDecimal(t, "creator-fund paid", env.bank.Balance("creator-fund"), decimal.Zero)
	wantDecimal(t, "seller paid", env.bank.Balance("alice"), decimal.Zero)
}
