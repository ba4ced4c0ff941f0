package dbbadger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

type disputeRepositoryImpl struct {
	db *repoManager
}

func newDisputeRepositoryImpl(db *repoManager) domain.DisputeRepository {
	return disputeRepositoryImpl{db: db}
}

// disputes are keyed by trade id plus opener role: both sides of a trade may
// open their own ticket.
func disputeKey(tradeId string, opener domain.TradeRole) string {
	return tradeId + "/" + opener.String()
}

func (d disputeRepositoryImpl) AddDispute(
	_ context.Context, dispute *domain.Dispute,
) error {
	key := disputeKey(dispute.TradeId, dispute.OpenerRole)
	if err := d.db.store.Insert(key, dispute); err != nil {
		if !errors.Is(err, badgerhold.ErrKeyExists) {
			return err
		}
	}
	return nil
}

func (d disputeRepositoryImpl) GetDispute(
	_ context.Context, tradeId string, opener domain.TradeRole,
) (*domain.Dispute, error) {
	var dispute domain.Dispute
	err := d.db.store.Get(disputeKey(tradeId, opener), &dispute)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, domain.ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (d disputeRepositoryImpl) GetDisputesByTradeId(
	_ context.Context, tradeId string,
) ([]*domain.Dispute, error) {
	return d.findDisputes(badgerhold.Where("TradeId").Eq(tradeId))
}

func (d disputeRepositoryImpl) GetAllBySupportType(
	_ context.Context, supportType domain.SupportType,
) (*domain.DisputeList, error) {
	entries, err := d.findDisputes(badgerhold.Where("SupportType").Eq(supportType))
	if err != nil {
		return nil, err
	}
	return domain.NewDisputeList(supportType, entries), nil
}

func (d disputeRepositoryImpl) UpdateDispute(
	ctx context.Context, tradeId string, opener domain.TradeRole,
	updateFn func(d *domain.Dispute) (*domain.Dispute, error),
) error {
	dispute, err := d.GetDispute(ctx, tradeId, opener)
	if err != nil {
		return err
	}
	updated, err := updateFn(dispute)
	if err != nil {
		return err
	}
	return d.db.store.Update(disputeKey(tradeId, opener), updated)
}

func (d disputeRepositoryImpl) findDisputes(
	query *badgerhold.Query,
) ([]*domain.Dispute, error) {
	var found []domain.Dispute
	if err := d.db.store.Find(&found, query); err != nil {
		return nil, err
	}
	disputes := make([]*domain.Dispute, 0, len(found))
	for i := range found {
		disputes = append(disputes, &found[i])
	}
	return disputes, nil
}
