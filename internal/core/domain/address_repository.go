package domain

import "context"

// AddressRepository is the persistence boundary for subaddress entries.
type AddressRepository interface {
	AddEntry(ctx context.Context, entry *AddressEntry) error
	GetByAddress(ctx context.Context, address string) (*AddressEntry, error)
	GetByOfferAndContext(
		ctx context.Context, offerId string, context AddressContext,
	) (*AddressEntry, error)
	GetByOffer(ctx context.Context, offerId string) ([]*AddressEntry, error)
	GetByContext(ctx context.Context, context AddressContext) ([]*AddressEntry, error)
	GetAll(ctx context.Context) ([]*AddressEntry, error)
	UpdateEntry(
		ctx context.Context, address string,
		updateFn func(e *AddressEntry) (*AddressEntry, error),
	) error
}
