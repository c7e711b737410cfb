package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/sfthub/marketplace-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache for the hot single-record reads: items and positions.
// Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Items (read-through cache) ---

func (s *CachedStore) CreateItem(ctx context.Context, item *model.Item) error {
	if err := s.primary.CreateItem(ctx, item); err != nil {
		return err
	}
	s.cacheItem(ctx, item)
	return nil
}

func (s *CachedStore) GetItem(ctx context.Context, id uint64) (*model.Item, error) {
	data, err := s.rdb.Get(ctx, itemKey(id)).Bytes()
	if err == nil {
		var it model.Item
		if json.Unmarshal(data, &it) == nil {
			return &it, nil
		}
	}

	it, err := s.primary.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheItem(ctx, it)
	return it, nil
}

func (s *CachedStore) GetItemByToken(ctx context.Context, contract string, tokenID uint64) (*model.Item, error) {
	return s.primary.GetItemByToken(ctx, contract, tokenID)
}

func (s *CachedStore) ListItemsByCreator(ctx context.Context, creator string) ([]model.Item, error) {
	return s.primary.ListItemsByCreator(ctx, creator)
}

func (s *CachedStore) AdjustPositionCount(ctx context.Context, itemID uint64, delta int64) error {
	if err := s.primary.AdjustPositionCount(ctx, itemID, delta); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the fresh count.
	s.rdb.Del(ctx, itemKey(itemID))
	return nil
}

// --- Positions (read-through cache) ---

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.CreatePosition(ctx, p); err != nil {
		return err
	}
	s.cachePosition(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpdatePosition(ctx, p); err != nil {
		return err
	}
	s.cachePosition(ctx, p)
	return nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id uint64) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cachePosition(ctx, p)
	return p, nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, id uint64) error {
	if err := s.primary.DeletePosition(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(id))
	return nil
}

func (s *CachedStore) ListPositionsByItem(ctx context.Context, itemID uint64) ([]model.Position, error) {
	return s.primary.ListPositionsByItem(ctx, itemID)
}

func (s *CachedStore) ListPositionsByState(ctx context.Context, state model.PositionState) ([]model.Position, error) {
	return s.primary.ListPositionsByState(ctx, state)
}

func (s *CachedStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.Position, error) {
	return s.primary.ListPositionsByOwner(ctx, owner)
}

func (s *CachedStore) FindAvailable(ctx context.Context, itemID uint64, owner string) (*model.Position, error) {
	return s.primary.FindAvailable(ctx, itemID, owner)
}

// --- Sidecars (passthrough; read-modify-write cycles gain little from caching) ---

func (s *CachedStore) PutAuction(ctx context.Context, a *model.AuctionData) error {
	return s.primary.PutAuction(ctx, a)
}

func (s *CachedStore) GetAuction(ctx context.Context, positionID uint64) (*model.AuctionData, error) {
	return s.primary.GetAuction(ctx, positionID)
}

func (s *CachedStore) DeleteAuction(ctx context.Context, positionID uint64) error {
	return s.primary.DeleteAuction(ctx, positionID)
}

func (s *CachedStore) PutRaffle(ctx context.Context, r *model.RaffleData) error {
	return s.primary.PutRaffle(ctx, r)
}

func (s *CachedStore) GetRaffle(ctx context.Context, positionID uint64) (*model.RaffleData, error) {
	return s.primary.GetRaffle(ctx, positionID)
}

func (s *CachedStore) DeleteRaffle(ctx context.Context, positionID uint64) error {
	return s.primary.DeleteRaffle(ctx, positionID)
}

func (s *CachedStore) PutLoan(ctx context.Context, l *model.LoanData) error {
	return s.primary.PutLoan(ctx, l)
}

func (s *CachedStore) GetLoan(ctx context.Context, positionID uint64) (*model.LoanData, error) {
	return s.primary.GetLoan(ctx, positionID)
}

func (s *CachedStore) DeleteLoan(ctx context.Context, positionID uint64) error {
	return s.primary.DeleteLoan(ctx, positionID)
}

// --- Sale history / claimables (passthrough) ---

func (s *CachedStore) AppendSale(ctx context.Context, sale *model.ItemSale) error {
	return s.primary.AppendSale(ctx, sale)
}

func (s *CachedStore) ListSalesByItem(ctx context.Context, itemID uint64) ([]model.ItemSale, error) {
	return s.primary.ListSalesByItem(ctx, itemID)
}

func (s *CachedStore) CreditClaimable(ctx context.Context, account string, amount decimal.Decimal) error {
	return s.primary.CreditClaimable(ctx, account, amount)
}

func (s *CachedStore) TakeClaimable(ctx context.Context, account string) (decimal.Decimal, error) {
	return s.primary.TakeClaimable(ctx, account)
}

func (s *CachedStore) GetClaimable(ctx context.Context, account string) (decimal.Decimal, error) {
	return s.primary.GetClaimable(ctx, account)
}

// --- Cache helpers ---

func (s *CachedStore) cacheItem(ctx context.Context, it *model.Item) {
	if data, err := json.Marshal(it); err == nil {
		s.rdb.Set(ctx, itemKey(it.ID), data, s.ttl)
	}
}

func (s *CachedStore) cachePosition(ctx context.Context, p *model.Position) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(p.ID), data, s.ttl)
	}
}

func itemKey(id uint64) string     { return fmt.Sprintf("item:%d", id) }
func positionKey(id uint64) string { return fmt.Sprintf("position:%d", id) }
