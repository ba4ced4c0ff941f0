package domain

import "context"

// TradeRepository is the persistence boundary for trades. Writes go through
// the closure-based update so state transitions are persisted atomically.
type TradeRepository interface {
	AddTrade(ctx context.Context, trade *Trade) error
	GetTrade(ctx context.Context, tradeId string) (*Trade, error)
	GetOrCreateTrade(ctx context.Context, tradeId string, role TradeRole) (*Trade, error)
	GetAllTrades(ctx context.Context) ([]*Trade, error)
	GetTradesByState(ctx context.Context, state TradeState) ([]*Trade, error)
	UpdateTrade(
		ctx context.Context, tradeId string,
		updateFn func(t *Trade) (*Trade, error),
	) error
	// MoveToClosed retires a terminal trade into the closed collection.
	MoveToClosed(ctx context.Context, tradeId string) error
	// MoveToFailed retires a broken trade into the failed collection.
	MoveToFailed(ctx context.Context, tradeId string) error
	GetClosedTrades(ctx context.Context) ([]*Trade, error)
}
