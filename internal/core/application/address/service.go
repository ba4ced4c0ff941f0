package address

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

// SubaddressWallet is the slice of the wallet surface the ledger needs to
// mint and inspect subaddresses of the main account.
type SubaddressWallet interface {
	CreateSubaddress(ctx context.Context, accountIndex uint32) (ports.SubaddressInfo, error)
	GetSubaddresses(ctx context.Context, accountIndex uint32) ([]ports.SubaddressInfo, error)
}

// reservedContexts are the usages that tie a subaddress to an offer or trade
// and are released when that offer or trade ends.
var reservedContexts = []domain.AddressContext{
	domain.ContextOfferFunding,
	domain.ContextTradeReserved,
	domain.ContextMultisig,
	domain.ContextTradePayout,
}

// Service is the per-offer subaddress ledger. Allocation serializes behind a
// mutex so two concurrent requests for the same (offerId, context) pair
// cannot mint two entries.
type Service struct {
	repoManager ports.RepoManager
	wallet      SubaddressWallet

	mtx sync.Mutex
}

func NewService(repoManager ports.RepoManager, wallet SubaddressWallet) (*Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if wallet == nil {
		return nil, fmt.Errorf("missing wallet")
	}
	return &Service{repoManager: repoManager, wallet: wallet}, nil
}

// GetOrCreateForOffer returns the entry already bound to (offerId, context)
// if one exists. Otherwise it recycles an available zero-balance subaddress,
// falling back to minting a brand-new one.
func (s *Service) GetOrCreateForOffer(
	ctx context.Context, offerId string, addrContext domain.AddressContext,
) (*domain.AddressEntry, error) {
	if addrContext == domain.ContextAvailable {
		return nil, fmt.Errorf("cannot reserve an address with the available context")
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	repo := s.repoManager.AddressRepository()
	entry, err := repo.GetByOfferAndContext(ctx, offerId, addrContext)
	if err != nil && !errors.Is(err, domain.ErrAddressEntryNotFound) {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}

	recycled, err := s.recycleAvailable(ctx, offerId, addrContext)
	if err != nil {
		return nil, err
	}
	if recycled != nil {
		return recycled, nil
	}

	info, err := s.wallet.CreateSubaddress(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("creating subaddress: %w", err)
	}
	entry = &domain.AddressEntry{
		SubaddressIndex: info.Index,
		Address:         info.Address,
		Context:         addrContext,
		OfferId:         offerId,
	}
	if err := repo.AddEntry(ctx, entry); err != nil {
		return nil, err
	}
	log.Debugf(
		"bound new subaddress %d to offer %s as %s",
		entry.SubaddressIndex, offerId, addrContext,
	)
	return entry, nil
}

// SwapToAvailable releases the entry bound to the given address so its
// subaddress can be reused.
func (s *Service) SwapToAvailable(ctx context.Context, address string) error {
	return s.repoManager.AddressRepository().UpdateEntry(
		ctx, address,
		func(e *domain.AddressEntry) (*domain.AddressEntry, error) {
			e.SwapToAvailable()
			return e, nil
		},
	)
}

// ResetForFailedTrade releases every subaddress reserved by a trade that
// moved to the failed collection.
func (s *Service) ResetForFailedTrade(ctx context.Context, tradeId string) error {
	return s.resetAll(ctx, tradeId)
}

// ResetForCompletedTrade releases every subaddress reserved by a trade that
// reached its final state.
func (s *Service) ResetForCompletedTrade(ctx context.Context, tradeId string) error {
	return s.resetAll(ctx, tradeId)
}

// ResetForClosedOffer releases every subaddress reserved by a closed or
// cancelled offer.
func (s *Service) ResetForClosedOffer(ctx context.Context, offerId string) error {
	return s.resetAll(ctx, offerId)
}

// GetByContext lists the entries currently bound to a usage context.
func (s *Service) GetByContext(
	ctx context.Context, addrContext domain.AddressContext,
) ([]*domain.AddressEntry, error) {
	return s.repoManager.AddressRepository().GetByContext(ctx, addrContext)
}

func (s *Service) resetAll(ctx context.Context, offerId string) error {
	repo := s.repoManager.AddressRepository()
	entries, err := repo.GetByOffer(ctx, offerId)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !isReservedContext(entry.Context) {
			continue
		}
		if err := repo.UpdateEntry(
			ctx, entry.Address,
			func(e *domain.AddressEntry) (*domain.AddressEntry, error) {
				e.SwapToAvailable()
				return e, nil
			},
		); err != nil {
			return err
		}
	}
	return nil
}

// recycleAvailable swaps an available, zero-balance, non-primary subaddress
// to the requested usage. The balance check includes unconfirmed incoming
// funds so a just-funded address is never handed out as free.
func (s *Service) recycleAvailable(
	ctx context.Context, offerId string, addrContext domain.AddressContext,
) (*domain.AddressEntry, error) {
	repo := s.repoManager.AddressRepository()
	available, err := repo.GetByContext(ctx, domain.ContextAvailable)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, nil
	}

	infos, err := s.wallet.GetSubaddresses(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("listing subaddresses: %w", err)
	}
	balanceByIndex := make(map[uint32]uint64, len(infos))
	for _, info := range infos {
		balanceByIndex[info.Index] = info.Balance
	}

	for _, entry := range available {
		if entry.SubaddressIndex == 0 {
			continue
		}
		if balanceByIndex[entry.SubaddressIndex] != 0 {
			continue
		}
		if err := repo.UpdateEntry(
			ctx, entry.Address,
			func(e *domain.AddressEntry) (*domain.AddressEntry, error) {
				e.SwapTo(addrContext, offerId)
				return e, nil
			},
		); err != nil {
			return nil, err
		}
		entry.SwapTo(addrContext, offerId)
		log.Debugf(
			"recycled subaddress %d for offer %s as %s",
			entry.SubaddressIndex, offerId, addrContext,
		)
		return entry, nil
	}
	return nil, nil
}

func isReservedContext(c domain.AddressContext) bool {
	for _, rc := range reservedContexts {
		if c == rc {
			return true
		}
	}
	return false
}
