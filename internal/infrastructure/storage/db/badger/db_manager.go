package dbbadger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

// repoManager holds all the badgerhold stores in a single data structure.
// Live trades, retired trades and the rest of the records live in separate
// badger directories so retiring a trade is a move between stores, not a
// flag flip a query could miss.
type repoManager struct {
	store       *badgerhold.Store
	closedStore *badgerhold.Store
	failedStore *badgerhold.Store

	tradeRepository   domain.TradeRepository
	disputeRepository domain.DisputeRepository
	addressRepository domain.AddressRepository
}

// NewRepoManager opens (or creates if missing) the badger stores under the
// given base data dir, one subdirectory per store.
func NewRepoManager(baseDbDir string, logger badger.Logger) (ports.RepoManager, error) {
	store, err := createDb(filepath.Join(baseDbDir, "main"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening main db: %w", err)
	}
	closedStore, err := createDb(filepath.Join(baseDbDir, "closed"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening closed db: %w", err)
	}
	failedStore, err := createDb(filepath.Join(baseDbDir, "failed"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening failed db: %w", err)
	}

	manager := &repoManager{
		store:       store,
		closedStore: closedStore,
		failedStore: failedStore,
	}
	manager.tradeRepository = newTradeRepositoryImpl(manager)
	manager.disputeRepository = newDisputeRepositoryImpl(manager)
	manager.addressRepository = newAddressRepositoryImpl(manager)
	return manager, nil
}

func (d *repoManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepository
}

func (d *repoManager) DisputeRepository() domain.DisputeRepository {
	return d.disputeRepository
}

func (d *repoManager) AddressRepository() domain.AddressRepository {
	return d.addressRepository
}

func (d *repoManager) Close() {
	d.store.Close()
	d.closedStore.Close()
	d.failedStore.Close()
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	en := json.NewEncoder(&buff)

	err := en.Encode(value)
	if err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	var buff bytes.Buffer
	de := json.NewDecoder(&buff)

	_, err := buff.Write(data)
	if err != nil {
		return err
	}

	return de.Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (db *badgerhold.Store, err error) {
	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	db, err = badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})

	return
}
