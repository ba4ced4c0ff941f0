package dbbadger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

type tradeRepositoryImpl struct {
	db *repoManager
}

func newTradeRepositoryImpl(db *repoManager) domain.TradeRepository {
	return tradeRepositoryImpl{db: db}
}

func (t tradeRepositoryImpl) AddTrade(
	_ context.Context, trade *domain.Trade,
) error {
	if err := t.db.store.Insert(trade.Id, trade); err != nil {
		if !errors.Is(err, badgerhold.ErrKeyExists) {
			return err
		}
	}
	return nil
}

// GetTrade looks the trade up among the live ones first, then falls back to
// the retired collections so message handlers can still resolve a trade
// that finished while its peer was offline.
func (t tradeRepositoryImpl) GetTrade(
	_ context.Context, tradeId string,
) (*domain.Trade, error) {
	var trade domain.Trade
	for _, store := range []*badgerhold.Store{
		t.db.store, t.db.closedStore, t.db.failedStore,
	} {
		err := store.Get(tradeId, &trade)
		if err == nil {
			return &trade, nil
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrTradeNotFound
}

func (t tradeRepositoryImpl) GetOrCreateTrade(
	ctx context.Context, tradeId string, role domain.TradeRole,
) (*domain.Trade, error) {
	trade, err := t.GetTrade(ctx, tradeId)
	if err == nil {
		return trade, nil
	}
	if !errors.Is(err, domain.ErrTradeNotFound) {
		return nil, err
	}

	trade = domain.NewTrade(tradeId, role)
	if err := t.AddTrade(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

func (t tradeRepositoryImpl) GetAllTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	return findTrades(t.db.store, &badgerhold.Query{})
}

func (t tradeRepositoryImpl) GetTradesByState(
	_ context.Context, state domain.TradeState,
) ([]*domain.Trade, error) {
	return findTrades(t.db.store, badgerhold.Where("State").Eq(state))
}

func (t tradeRepositoryImpl) UpdateTrade(
	ctx context.Context, tradeId string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	var trade domain.Trade
	store := t.db.store
	err := store.Get(tradeId, &trade)
	if errors.Is(err, badgerhold.ErrNotFound) {
		store = t.db.closedStore
		err = store.Get(tradeId, &trade)
	}
	if errors.Is(err, badgerhold.ErrNotFound) {
		return domain.ErrTradeNotFound
	}
	if err != nil {
		return err
	}

	updatedTrade, err := updateFn(&trade)
	if err != nil {
		return err
	}
	return store.Update(tradeId, updatedTrade)
}

func (t tradeRepositoryImpl) MoveToClosed(
	ctx context.Context, tradeId string,
) error {
	return t.move(ctx, tradeId, t.db.closedStore)
}

func (t tradeRepositoryImpl) MoveToFailed(
	ctx context.Context, tradeId string,
) error {
	return t.move(ctx, tradeId, t.db.failedStore)
}

func (t tradeRepositoryImpl) GetClosedTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	return findTrades(t.db.closedStore, &badgerhold.Query{})
}

func (t tradeRepositoryImpl) move(
	_ context.Context, tradeId string, dest *badgerhold.Store,
) error {
	var trade domain.Trade
	if err := t.db.store.Get(tradeId, &trade); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.ErrTradeNotFound
		}
		return err
	}
	if err := dest.Upsert(tradeId, &trade); err != nil {
		return err
	}
	return t.db.store.Delete(tradeId, &domain.Trade{})
}

func findTrades(
	store *badgerhold.Store, query *badgerhold.Query,
) ([]*domain.Trade, error) {
	var found []domain.Trade
	if err := store.Find(&found, query); err != nil {
		return nil, err
	}
	trades := make([]*domain.Trade, 0, len(found))
	for i := range found {
		trades = append(trades, &found[i])
	}
	return trades, nil
}
