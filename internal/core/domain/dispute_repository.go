package domain

import "context"

// DisputeRepository is the persistence boundary for disputes.
type DisputeRepository interface {
	AddDispute(ctx context.Context, dispute *Dispute) error
	GetDispute(
		ctx context.Context, tradeId string, opener TradeRole,
	) (*Dispute, error)
	// GetDisputesByTradeId returns every dispute opened for a trade,
	// regardless of opener role.
	GetDisputesByTradeId(ctx context.Context, tradeId string) ([]*Dispute, error)
	// GetAllBySupportType loads the dispute list of one declared support
	// type; entries of a different type are filtered out.
	GetAllBySupportType(ctx context.Context, supportType SupportType) (*DisputeList, error)
	UpdateDispute(
		ctx context.Context, tradeId string, opener TradeRole,
		updateFn func(d *Dispute) (*Dispute, error),
	) error
}
