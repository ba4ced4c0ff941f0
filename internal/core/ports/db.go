package ports

import "github.com/escrow-network/escrowd/internal/core/domain"

// RepoManager aggregates the repositories backing the trade core. Writes are
// asynchronous, coalesced and at-least-once from the caller's perspective:
// readers must tolerate replaying from the last durable snapshot.
type RepoManager interface {
	TradeRepository() domain.TradeRepository
	DisputeRepository() domain.DisputeRepository
	AddressRepository() domain.AddressRepository

	Close()
}
