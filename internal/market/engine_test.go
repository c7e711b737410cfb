package market_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/ledger"
	"github.com/sfthub/marketplace-engine/internal/market"
	"github.com/sfthub/marketplace-engine/internal/model"
	"github.com/sfthub/marketplace-engine/internal/store"
)

const (
	testContract = "0xc0ffee"
	testTokenID  = uint64(42)
	custodyAcct  = "marketplace-custody"
	platformAcct = "platform"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeClock is a controllable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(by time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(by)
}

// fixedRand returns queued rolls, reduced modulo n.
type fixedRand struct {
	rolls []uint64
}

func (r *fixedRand) Draw(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	if len(r.rolls) == 0 {
		return 0
	}
	roll := r.rolls[0]
	r.rolls = r.rolls[1:]
	return roll % n
}

type testEnv struct {
	engine *market.Engine
	store  *store.MemoryStore
	ledger *ledger.MemoryLedger
	bank   *ledger.MemoryBank
	clock  *fakeClock
	rand   *fixedRand
}

// newTestEnv builds an engine over in-memory collaborators with the given
// market fee.
func newTestEnv(t *testing.T, feeBP int64) *testEnv {
	t.Helper()

	env := &testEnv{
		store:  store.NewMemoryStore(),
		ledger: ledger.NewMemoryLedger(custodyAcct),
		bank:   ledger.NewMemoryBank(),
		clock:  &fakeClock{t: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)},
		rand:   &fixedRand{},
	}

	engine, err := market.New(market.Config{
		Store:   env.store,
		Ledger:  env.ledger,
		Bank:    env.bank,
		Owner:   platformAcct,
		Custody: custodyAcct,
		FeeBP:   feeBP,
		Clock:   env.clock.Now,
		Rand:    env.rand,
	})
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	env.engine = engine
	return env
}

// seedItem mints units of the test token to owner, grants operator rights,
// and registers the item.
func (env *testEnv) seedItem(t *testing.T, owner string, units uint64) uint64 {
	t.Helper()
	env.ledger.Mint(owner, testContract, testTokenID, units)
	env.ledger.SetApprovalForAll(owner, custodyAcct, true)
	itemID, err := env.engine.CreateItem(context.Background(), owner, testContract, testTokenID)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return itemID
}

func (env *testEnv) tokenBalance(t *testing.T, owner string) uint64 {
	t.Helper()
	balance, err := env.ledger.BalanceOf(context.Background(), owner, testContract, testTokenID)
	if err != nil {
		t.Fatalf("balance of %s: %v", owner, err)
	}
	return balance
}

// availablePositions returns owner's available positions for itemID.
func (env *testEnv) availablePositions(t *testing.T, itemID uint64, owner string) []model.Position {
	t.Helper()
	all, err := env.store.ListPositionsByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("list positions: %v", err)
	}
	var out []model.Position
	for _, p := range all {
		if p.ItemID == itemID && p.State == model.StateAvailable {
			out = append(out, p)
		}
	}
	return out
}

func wantDecimal(t *testing.T, name string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

// --- Item registry ---

func TestCreateItem(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	itemID := env.seedItem(t, "alice", 10)
	if itemID == 0 {
		t.Fatal("expected non-zero item id")
	}

	view, err := env.engine.FetchItem(ctx, itemID)
	if err != nil {
		t.Fatalf("fetch item: %v", err)
	}
	if view.Item.Creator != "alice" {
		t.Errorf("creator = %s, want alice", view.Item.Creator)
	}
	if view.Item.NFTContract != testContract || view.Item.TokenID != testTokenID {
		t.Errorf("token = (%s, %d), want (%s, %d)",
			view.Item.NFTContract, view.Item.TokenID, testContract, testTokenID)
	}
}

func TestCreateItem_Duplicate(t *testing.T) {
	env := newTestEnv(t, 0)
	env.seedItem(t, "alice", 10)

	env.ledger.Mint("bob", testContract, testTokenID, 5)
	_, err := env.engine.CreateItem(context.Background(), "bob", testContract, testTokenID)
	if !errors.Is(err, market.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateItem_NoBalance(t *testing.T) {
	env := newTestEnv(t, 0)
	_, err := env.engine.CreateItem(context.Background(), "alice", testContract, testTokenID)
	if !errors.Is(err, market.ErrNoBalance) {
		t.Fatalf("expected ErrNoBalance, got %v", err)
	}
}

// --- Fee admin ---

func TestSetMarketFee(t *testing.T) {
	env := newTestEnv(t, 250)

	if err := env.engine.SetMarketFee(platformAcct, 500); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if got := env.engine.MarketFee(); got != 500 {
		t.Errorf("fee = %d, want 500", got)
	}

	if err := env.engine.SetMarketFee("mallory", 100); !errors.Is(err, market.ErrUnauthorized) {
		t.Errorf("non-owner fee change: expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.SetMarketFee(platformAcct, 1001); !errors.Is(err, market.ErrBadParameter) {
		t.Errorf("fee above cap: expected ErrBadParameter, got %v", err)
	}
	if err := env.engine.SetMarketFee(platformAcct, 1000); err != nil {
		t.Errorf("fee at cap should be accepted: %v", err)
	}
}

// Open positions keep the fee rate that was current when they were listed.
func TestFeeSnapshot(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 10, d(10))
	if err != nil {
		t.Fatalf("put on sale: %v", err)
	}

	if err := env.engine.SetMarketFee(platformAcct, 1000); err != nil {
		t.Fatalf("set fee: %v", err)
	}

	receipt, err := env.engine.CreateSale(ctx, "bob", posID, 10, d(100))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	// 100bp of 100, not the 1000bp now current.
	wantDecimal(t, "fee", receipt.Settlement.Fee, d(1))
	wantDecimal(t, "net", receipt.Settlement.Net, d(99))
}

// --- Claimable balances ---

func TestWithdraw_NoBalance(t *testing.T) {
	env := newTestEnv(t, 0)
	_, err := env.engine.Withdraw(context.Background(), "alice")
	if !errors.Is(err, market.ErrNoBalance) {
		t.Fatalf("expected ErrNoBalance, got %v", err)
	}
}

func TestWithdraw_RestoresOnFailure(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	if err := env.store.CreditClaimable(ctx, "alice", d(25)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	env.bank.Reject("alice", true)
	if _, err := env.engine.Withdraw(ctx, "alice"); err == nil {
		t.Fatal("expected withdraw to fail while recipient rejects")
	}

	// Balance must survive the failed attempt.
	remaining, err := env.engine.Claimable(ctx, "alice")
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	wantDecimal(t, "claimable after failed withdraw", remaining, d(25))

	env.bank.Reject("alice", false)
	amount, err := env.engine.Withdraw(ctx, "alice")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	wantDecimal(t, "withdrawn", amount, d(25))
	wantDecimal(t, "bank balance", env.bank.Balance("alice"), d(25))

	if _, err := env.engine.Withdraw(ctx, "alice"); !errors.Is(err, market.ErrNoBalance) {
		t.Errorf("second withdraw: expected ErrNoBalance, got %v", err)
	}
}

// --- Available position uniqueness ---

// Repeated listings and returns must collapse into at most one available
// position per (item, owner), tracking the ledger balance.
func TestAvailablePositionUniqueness(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	for i := 0; i < 3; i++ {
		posID, err := env.engine.PutOnSale(ctx, "alice", itemID, 4, d(1))
		if err != nil {
			t.Fatalf("put on sale #%d: %v", i, err)
		}
		if err := env.engine.Unlist(ctx, "alice", posID); err != nil {
			t.Fatalf("unlist #%d: %v", i, err)
		}
	}

	avail := env.availablePositions(t, itemID, "alice")
	if len(avail) != 1 {
		t.Fatalf("expected exactly one available position, got %d", len(avail))
	}
	if avail[0].Amount != 10 {
		t.Errorf("available amount = %d, want 10", avail[0].Amount)
	}
	if got := env.tokenBalance(t, "alice"); got != 10 {
		t.Errorf("ledger balance = %d, want 10", got)
	}
}

// --- Custody/position consistency on failed listings ---

// flakyStore fails position creation on demand.
type flakyStore struct {
	*store.MemoryStore
	failCreatePosition bool
}

var errStoreDown = errors.New("store unavailable")

func (s *flakyStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if s.failCreatePosition {
		return errStoreDown
	}
	return s.MemoryStore.CreatePosition(ctx, p)
}

// A store failure while opening a listing must not move units into custody.
func TestPutOnSale_StoreFailureLeavesCustodyUntouched(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
	ml := ledger.NewMemoryLedger(custodyAcct)

	engine, err := market.New(market.Config{
		Store:   fs,
		Ledger:  ml,
		Bank:    ledger.NewMemoryBank(),
		Owner:   platformAcct,
		Custody: custodyAcct,
	})
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}

	ml.Mint("alice", testContract, testTokenID, 10)
	ml.SetApprovalForAll("alice", custodyAcct, true)
	itemID, err := engine.CreateItem(ctx, "alice", testContract, testTokenID)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	fs.failCreatePosition = true
	if _, err := engine.PutOnSale(ctx, "alice", itemID, 6, d(2)); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}

	custody, _ := ml.BalanceOf(ctx, custodyAcct, testContract, testTokenID)
	if custody != 0 {
		t.Errorf("custody balance = %d, want 0", custody)
	}
	seller, _ := ml.BalanceOf(ctx, "alice", testContract, testTokenID)
	if seller != 10 {
		t.Errorf("seller balance = %d, want 10", seller)
	}
}

// A failed custody ingestion rolls the freshly created position and sidecar
// back, leaving no record of the aborted listing.
func TestCreateAuction_IngestFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	// Carol holds units but never granted operator rights, so the custody
	// transfer is refused.
	env.ledger.Mint("carol", testContract, testTokenID, 5)
	if _, err := env.engine.CreateAuction(ctx, "carol", itemID, 5, 60, d(1)); !errors.Is(err, market.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	auctions, err := env.engine.FetchByState(ctx, model.StateAuction)
	if err != nil {
		t.Fatalf("fetch by state: %v", err)
	}
	if len(auctions) != 0 {
		t.Errorf("expected no auction positions, got %+v", auctions)
	}
	view, err := env.engine.FetchItem(ctx, itemID)
	if err != nil {
		t.Fatalf("fetch item: %v", err)
	}
	if len(view.Positions) != 0 || view.Item.PositionCount != 0 {
		t.Errorf("expected no positions, got %d (count %d)", len(view.Positions), view.Item.PositionCount)
	}
	if got := env.tokenBalance(t, custodyAcct); got != 0 {
		t.Errorf("custody balance = %d, want 0", got)
	}
	if got := env.tokenBalance(t, "carol"); got != 5 {
		t.Errorf("carol balance = %d, want 5", got)
	}
}

// --- Queries ---

func TestFetchByState_Invalid(t *testing.T) {
	env := newTestEnv(t, 0)
	_, err := env.engine.FetchByState(context.Background(), model.PositionState("BOGUS"))
	if !errors.Is(err, market.ErrBadParameter) {
		t.Fatalf("expected ErrBadParameter, got %v", err)
	}
}

func TestFetchPosition_SidecarData(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	itemID := env.seedItem(t, "alice", 10)

	posID, err := env.engine.CreateAuction(ctx, "alice", itemID, 10, 120, d(50))
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}

	view, err := env.engine.FetchPosition(ctx, posID)
	if err != nil {
		t.Fatalf("fetch position: %v", err)
	}
	if view.Position.State != model.StateAuction {
		t.Errorf("state = %s, want %s", view.Position.State, model.StateAuction)
	}
	if view.Auction == nil {
		t.Fatal("expected auction sidecar")
	}
	wantDecimal(t, "min bid", view.Auction.MinBid, d(50))
	if view.Raffle != nil || view.Loan != nil {
		t.Error("unexpected raffle/loan sidecar on an auction position")
	}
}

func TestFetchItemsByCreator(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	env.seedItem(t, "alice", 10)

	env.ledger.Mint("bob", "0xother", 1, 3)
	env.ledger.SetApprovalForAll("bob", custodyAcct, true)
	if _, err := env.engine.CreateItem(ctx, "bob", "0xother", 1); err != nil {
		t.Fatalf("create second item: %v", err)
	}

	items, err := env.engine.FetchItemsByCreator(ctx, "alice")
	if err != nil {
		t.Fatalf("fetch by creator: %v", err)
	}
	if len(items) != 1 || items[0].Creator != "alice" {
		t.Fatalf("expected exactly alice's item, got %+v", items)
	}
}
