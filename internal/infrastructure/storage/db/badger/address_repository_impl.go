package dbbadger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

type addressRepositoryImpl struct {
	db *repoManager
}

func newAddressRepositoryImpl(db *repoManager) domain.AddressRepository {
	return addressRepositoryImpl{db: db}
}

func (a addressRepositoryImpl) AddEntry(
	_ context.Context, entry *domain.AddressEntry,
) error {
	if err := a.db.store.Insert(entry.Address, entry); err != nil {
		if !errors.Is(err, badgerhold.ErrKeyExists) {
			return err
		}
	}
	return nil
}

func (a addressRepositoryImpl) GetByAddress(
	_ context.Context, address string,
) (*domain.AddressEntry, error) {
	var entry domain.AddressEntry
	err := a.db.store.Get(address, &entry)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, domain.ErrAddressEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (a addressRepositoryImpl) GetByOfferAndContext(
	_ context.Context, offerId string, context domain.AddressContext,
) (*domain.AddressEntry, error) {
	entries, err := a.findEntries(
		badgerhold.Where("OfferId").Eq(offerId).And("Context").Eq(context),
	)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrAddressEntryNotFound
	}
	return entries[0], nil
}

func (a addressRepositoryImpl) GetByOffer(
	_ context.Context, offerId string,
) ([]*domain.AddressEntry, error) {
	return a.findEntries(badgerhold.Where("OfferId").Eq(offerId))
}

func (a addressRepositoryImpl) GetByContext(
	_ context.Context, context domain.AddressContext,
) ([]*domain.AddressEntry, error) {
	return a.findEntries(badgerhold.Where("Context").Eq(context))
}

func (a addressRepositoryImpl) GetAll(
	_ context.Context,
) ([]*domain.AddressEntry, error) {
	return a.findEntries(&badgerhold.Query{})
}

func (a addressRepositoryImpl) UpdateEntry(
	ctx context.Context, address string,
	updateFn func(e *domain.AddressEntry) (*domain.AddressEntry, error),
) error {
	entry, err := a.GetByAddress(ctx, address)
	if err != nil {
		return err
	}
	updated, err := updateFn(entry)
	if err != nil {
		return err
	}
	return a.db.store.Update(address, updated)
}

func (a addressRepositoryImpl) findEntries(
	query *badgerhold.Query,
) ([]*domain.AddressEntry, error) {
	var found []domain.AddressEntry
	if err := a.db.store.Find(&found, query); err != nil {
		return nil, err
	}
	entries := make([]*domain.AddressEntry, 0, len(found))
	for i := range found {
		entries = append(entries, &found[i])
	}
	return entries, nil
}
