package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	nextItem   uint64
	nextPos    uint64
	items      map[uint64]*model.Item
	positions  map[uint64]*model.Position
	auctions   map[uint64]*model.AuctionData
	raffles    map[uint64]*model.RaffleData
	loans      map[uint64]*model.LoanData
	sales      map[uint64][]model.ItemSale
	claimables map[string]decimal.Decimal
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:      make(map[uint64]*model.Item),
		positions:  make(map[uint64]*model.Position),
		auctions:   make(map[uint64]*model.AuctionData),
		raffles:    make(map[uint64]*model.RaffleData),
		loans:      make(map[uint64]*model.LoanData),
		sales:      make(map[uint64][]model.ItemSale),
		claimables: make(map[string]decimal.Decimal),
	}
}

// --- Items ---

func (s *MemoryStore) CreateItem(_ context.Context, item *model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextItem++
	item.ID = s.nextItem

	// Store a copy to avoid external mutation.
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, id uint64) (*model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) GetItemByToken(_ context.Context, contract string, tokenID uint64) (*model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, it := range s.items {
		if it.NFTContract == contract && it.TokenID == tokenID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListItemsByCreator(_ context.Context, creator string) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []model.Item
	for _, it := range s.items {
		if it.Creator == creator {
			items = append(items, *it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) AdjustPositionCount(_ context.Context, itemID uint64, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	it.PositionCount = uint64(int64(it.PositionCount) + delta)
	return nil
}

// --- Positions ---

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPos++
	p.ID = s.nextPos
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.positions[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id uint64) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[id]; !ok {
		return ErrNotFound
	}
	delete(s.positions, id)
	return nil
}

func (s *MemoryStore) listPositions(match func(*model.Position) bool) []model.Position {
	var out []model.Position
	for _, p := range s.positions {
		if match(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ListPositionsByItem(_ context.Context, itemID uint64) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPositions(func(p *model.Position) bool { return p.ItemID == itemID }), nil
}

func (s *MemoryStore) ListPositionsByState(_ context.Context, state model.PositionState) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPositions(func(p *model.Position) bool { return p.State == state }), nil
}

func (s *MemoryStore) ListPositionsByOwner(_ context.Context, owner string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPositions(func(p *model.Position) bool { return p.Owner == owner }), nil
}

func (s *MemoryStore) FindAvailable(_ context.Context, itemID uint64, owner string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.ItemID == itemID && p.Owner == owner && p.State == model.StateAvailable {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// --- Sidecars ---

func (s *MemoryStore) PutAuction(_ context.Context, a *model.AuctionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.auctions[a.PositionID] = &cp
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, positionID uint64) (*model.AuctionData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[positionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) DeleteAuction(_ context.Context, positionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.auctions, positionID)
	return nil
}

func (s *MemoryStore) PutRaffle(_ context.Context, r *model.RaffleData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.Entries = append([]model.RaffleEntry(nil), r.Entries...)
	s.raffles[r.PositionID] = &cp
	return nil
}

func (s *MemoryStore) GetRaffle(_ context.Context, positionID uint64) (*model.RaffleData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.raffles[positionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.Entries = append([]model.RaffleEntry(nil), r.Entries...)
	return &cp, nil
}

func (s *MemoryStore) DeleteRaffle(_ context.Context, positionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.raffles, positionID)
	return nil
}

func (s *MemoryStore) PutLoan(_ context.Context, l *model.LoanData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.loans[l.PositionID] = &cp
	return nil
}

func (s *MemoryStore) GetLoan(_ context.Context, positionID uint64) (*model.LoanData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[positionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) DeleteLoan(_ context.Context, positionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loans, positionID)
	return nil
}

// --- Sale history ---

func (s *MemoryStore) AppendSale(_ context.Context, sale *model.ItemSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales[sale.ItemID] = append(s.sales[sale.ItemID], *sale)
	return nil
}

func (s *MemoryStore) ListSalesByItem(_ context.Context, itemID uint64) ([]model.ItemSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ItemSale(nil), s.sales[itemID]...), nil
}

// --- Claimables ---

func (s *MemoryStore) CreditClaimable(_ context.Context, account string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimables[account] = s.claimables[account].Add(amount)
	return nil
}

func (s *MemoryStore) TakeClaimable(_ context.Context, account string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amt := s.claimables[account]
	delete(s.claimables, account)
	return amt, nil
}

func (s *MemoryStore) GetClaimable(_ context.Context, account string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimables[account], nil
}
