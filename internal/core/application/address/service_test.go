package address_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrowd/internal/core/application/address"
	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

func TestGetOrCreateForOfferIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, _, wallet := newTestService(t)
	ctx := context.Background()

	entry, err := svc.GetOrCreateForOffer(ctx, "offer1", domain.ContextOfferFunding)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, domain.ContextOfferFunding, entry.Context)

	again, err := svc.GetOrCreateForOffer(ctx, "offer1", domain.ContextOfferFunding)
	require.NoError(t, err)
	require.Equal(t, entry.Address, again.Address)
	require.Equal(t, 1, wallet.created)
}

func TestGetOrCreateForOfferRejectsAvailableContext(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	_, err := svc.GetOrCreateForOffer(
		context.Background(), "offer1", domain.ContextAvailable,
	)
	require.Error(t, err)
}

func TestGetOrCreateForOfferRecyclesZeroBalanceSubaddress(t *testing.T) {
	t.Parallel()

	svc, repo, wallet := newTestService(t)
	ctx := context.Background()

	wallet.addSubaddress(3, 0)
	require.NoError(t, repo.AddEntry(ctx, &domain.AddressEntry{
		SubaddressIndex: 3, Address: "addr3", Context: domain.ContextAvailable,
	}))

	entry, err := svc.GetOrCreateForOffer(ctx, "offer1", domain.ContextTradeReserved)
	require.NoError(t, err)
	require.Equal(t, uint32(3), entry.SubaddressIndex)
	require.Equal(t, domain.ContextTradeReserved, entry.Context)
	require.Equal(t, "offer1", entry.OfferId)
	require.Zero(t, wallet.created)

	stored, err := repo.GetByAddress(ctx, "addr3")
	require.NoError(t, err)
	require.Equal(t, domain.ContextTradeReserved, stored.Context)
}

func TestGetOrCreateForOfferSkipsPrimaryAndFundedSubaddresses(t *testing.T) {
	t.Parallel()

	svc, repo, wallet := newTestService(t)
	ctx := context.Background()

	// primary address must never be handed out
	wallet.addSubaddress(0, 0)
	require.NoError(t, repo.AddEntry(ctx, &domain.AddressEntry{
		SubaddressIndex: 0, Address: "primary", Context: domain.ContextAvailable,
	}))
	// unconfirmed funds count as funds
	wallet.addSubaddress(1, 5000)
	require.NoError(t, repo.AddEntry(ctx, &domain.AddressEntry{
		SubaddressIndex: 1, Address: "addr1", Context: domain.ContextAvailable,
	}))

	entry, err := svc.GetOrCreateForOffer(ctx, "offer1", domain.ContextOfferFunding)
	require.NoError(t, err)
	require.Equal(t, 1, wallet.created)
	require.NotEqual(t, "primary", entry.Address)
	require.NotEqual(t, "addr1", entry.Address)
}

func TestConcurrentGetOrCreateForOfferNeverMintsTwice(t *testing.T) {
	t.Parallel()

	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	const callers = 10
	results := make([]*domain.AddressEntry, callers)
	wg := sync.WaitGroup{}
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := svc.GetOrCreateForOffer(ctx, "offer1", domain.ContextMultisig)
			require.NoError(t, err)
			results[i] = entry
		}()
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		require.Equal(t, results[0].Address, results[i].Address)
	}
	entries, err := repo.GetByOffer(ctx, "offer1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestResetForFailedTradeReleasesEveryReservedEntry(t *testing.T) {
	t.Parallel()

	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	for _, addrContext := range []domain.AddressContext{
		domain.ContextTradeReserved, domain.ContextMultisig, domain.ContextTradePayout,
	} {
		_, err := svc.GetOrCreateForOffer(ctx, "trade1", addrContext)
		require.NoError(t, err)
	}
	other, err := svc.GetOrCreateForOffer(ctx, "trade2", domain.ContextTradeReserved)
	require.NoError(t, err)

	require.NoError(t, svc.ResetForFailedTrade(ctx, "trade1"))

	available, err := svc.GetByContext(ctx, domain.ContextAvailable)
	require.NoError(t, err)
	require.Len(t, available, 3)
	for _, entry := range available {
		require.Empty(t, entry.OfferId)
	}

	stored, err := repo.GetByAddress(ctx, other.Address)
	require.NoError(t, err)
	require.Equal(t, domain.ContextTradeReserved, stored.Context)
}

func newTestService(t *testing.T) (*address.Service, *fakeAddressRepo, *fakeWallet) {
	t.Helper()
	repo := newFakeAddressRepo()
	wallet := &fakeWallet{infos: make(map[uint32]uint64)}
	svc, err := address.NewService(&fakeRepoManager{addresses: repo}, wallet)
	require.NoError(t, err)
	return svc, repo, wallet
}

type fakeRepoManager struct {
	addresses *fakeAddressRepo
}

func (m *fakeRepoManager) TradeRepository() domain.TradeRepository     { return nil }
func (m *fakeRepoManager) DisputeRepository() domain.DisputeRepository { return nil }
func (m *fakeRepoManager) AddressRepository() domain.AddressRepository { return m.addresses }
func (m *fakeRepoManager) Close()                                      {}

type fakeAddressRepo struct {
	mtx     sync.Mutex
	entries map[string]*domain.AddressEntry
}

func newFakeAddressRepo() *fakeAddressRepo {
	return &fakeAddressRepo{entries: make(map[string]*domain.AddressEntry)}
}

func (r *fakeAddressRepo) AddEntry(_ context.Context, entry *domain.AddressEntry) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.entries[entry.Address]; ok {
		return domain.ErrAddressIndexInUse
	}
	cp := *entry
	r.entries[entry.Address] = &cp
	return nil
}

func (r *fakeAddressRepo) GetByAddress(
	_ context.Context, addr string,
) (*domain.AddressEntry, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	entry, ok := r.entries[addr]
	if !ok {
		return nil, domain.ErrAddressEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

func (r *fakeAddressRepo) GetByOfferAndContext(
	_ context.Context, offerId string, addrContext domain.AddressContext,
) (*domain.AddressEntry, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, entry := range r.entries {
		if entry.OfferId == offerId && entry.Context == addrContext {
			cp := *entry
			return &cp, nil
		}
	}
	return nil, domain.ErrAddressEntryNotFound
}

func (r *fakeAddressRepo) GetByOffer(
	_ context.Context, offerId string,
) ([]*domain.AddressEntry, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	list := make([]*domain.AddressEntry, 0)
	for _, entry := range r.entries {
		if entry.OfferId == offerId {
			cp := *entry
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (r *fakeAddressRepo) GetByContext(
	_ context.Context, addrContext domain.AddressContext,
) ([]*domain.AddressEntry, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	list := make([]*domain.AddressEntry, 0)
	for _, entry := range r.entries {
		if entry.Context == addrContext {
			cp := *entry
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (r *fakeAddressRepo) GetAll(_ context.Context) ([]*domain.AddressEntry, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	list := make([]*domain.AddressEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		cp := *entry
		list = append(list, &cp)
	}
	return list, nil
}

func (r *fakeAddressRepo) UpdateEntry(
	_ context.Context, addr string,
	updateFn func(e *domain.AddressEntry) (*domain.AddressEntry, error),
) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	entry, ok := r.entries[addr]
	if !ok {
		return domain.ErrAddressEntryNotFound
	}
	cp := *entry
	updated, err := updateFn(&cp)
	if err != nil {
		return err
	}
	r.entries[addr] = updated
	return nil
}

type fakeWallet struct {
	mtx       sync.Mutex
	nextIndex uint32
	created   int
	infos     map[uint32]uint64
}

func (w *fakeWallet) addSubaddress(index uint32, balance uint64) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.infos[index] = balance
	if index >= w.nextIndex {
		w.nextIndex = index + 1
	}
}

func (w *fakeWallet) CreateSubaddress(
	context.Context, uint32,
) (ports.SubaddressInfo, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.nextIndex == 0 {
		w.nextIndex = 1 // index 0 is the primary address
	}
	index := w.nextIndex
	w.nextIndex++
	w.created++
	w.infos[index] = 0
	return ports.SubaddressInfo{
		Index:   index,
		Address: fmt.Sprintf("subaddr_%d", index),
	}, nil
}

func (w *fakeWallet) GetSubaddresses(
	context.Context, uint32,
) ([]ports.SubaddressInfo, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	list := make([]ports.SubaddressInfo, 0, len(w.infos))
	for index, balance := range w.infos {
		list = append(list, ports.SubaddressInfo{
			Index:   index,
			Address: fmt.Sprintf("subaddr_%d", index),
			Balance: balance,
		})
	}
	return list, nil
}
