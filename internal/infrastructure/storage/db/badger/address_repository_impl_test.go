package dbbadger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

func TestAddressRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	manager := newTestRepoManager(t)
	repo := manager.AddressRepository()
	ctx := context.Background()

	entry := &domain.AddressEntry{
		SubaddressIndex: 1,
		Address:         "addr1",
		Context:         domain.ContextTradeReserved,
		OfferId:         "offer1",
	}
	require.NoError(t, repo.AddEntry(ctx, entry))

	got, err := repo.GetByAddress(ctx, "addr1")
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.SubaddressIndex)

	_, err = repo.GetByAddress(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrAddressEntryNotFound)
}

func TestAddressRepositoryQueries(t *testing.T) {
	t.Parallel()

	manager := newTestRepoManager(t)
	repo := manager.AddressRepository()
	ctx := context.Background()

	entries := []*domain.AddressEntry{
		{SubaddressIndex: 1, Address: "addr1", Context: domain.ContextTradeReserved, OfferId: "offer1"},
		{SubaddressIndex: 2, Address: "addr2", Context: domain.ContextMultisig, OfferId: "offer1"},
		{SubaddressIndex: 3, Address: "addr3", Context: domain.ContextAvailable},
	}
	for _, e := range entries {
		require.NoError(t, repo.AddEntry(ctx, e))
	}

	byOffer, err := repo.GetByOffer(ctx, "offer1")
	require.NoError(t, err)
	require.Len(t, byOffer, 2)

	reserved, err := repo.GetByOfferAndContext(ctx, "offer1", domain.ContextTradeReserved)
	require.NoError(t, err)
	require.Equal(t, "addr1", reserved.Address)

	available, err := repo.GetByContext(ctx, domain.ContextAvailable)
	require.NoError(t, err)
	require.Len(t, available, 1)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestAddressRepositoryUpdateEntry(t *testing.T) {
	t.Parallel()

	manager := newTestRepoManager(t)
	repo := manager.AddressRepository()
	ctx := context.Background()

	require.NoError(t, repo.AddEntry(ctx, &domain.AddressEntry{
		SubaddressIndex: 1,
		Address:         "addr1",
		Context:         domain.ContextTradeReserved,
		OfferId:         "offer1",
	}))

	require.NoError(t, repo.UpdateEntry(
		ctx, "addr1",
		func(e *domain.AddressEntry) (*domain.AddressEntry, error) {
			e.SwapToAvailable()
			return e, nil
		},
	))

	got, err := repo.GetByAddress(ctx, "addr1")
	require.NoError(t, err)
	require.True(t, got.IsAvailable())
	require.Empty(t, got.OfferId)
}
