package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/escrow-network/escrowd/internal/core/ports"
)

const (
	// MainWalletName is the wallet file of the general-purpose wallet.
	MainWalletName = "main"
	// EscrowWalletPrefix prefixes the deterministic per-trade wallet file.
	EscrowWalletPrefix = "multisig_"

	maxPoolSize      = 10
	rpcStartAttempts = 2
)

// CloseAllTimeout bounds the concurrent shutdown; wallets still open after
// it are force-terminated.
var CloseAllTimeout = 60 * time.Second

var (
	// ErrPortAlreadyBound is returned when a fixed port allocation would
	// double-bind a port already registered to another wallet.
	ErrPortAlreadyBound = errors.New("rpc port already bound to a wallet")
	// ErrMainWalletNotOpen ...
	ErrMainWalletNotOpen = errors.New("main wallet is not open")
)

type inflightCreate struct {
	done   chan struct{}
	client ports.WalletClient
	err    error
}

// Service coordinates the lifecycle of the main wallet and of one escrow
// wallet per trade: creation, opening, background sync, password rotation
// and concurrent shutdown. It is the only owner of wallet handles; nothing
// here is process-global.
type Service struct {
	factory   ports.WalletFactory
	walletDir string

	mtx          sync.Mutex
	password     string
	startPort    int
	nextPort     int
	usedPorts    map[int]string
	main         ports.WalletClient
	mainInflight *inflightCreate
	escrow       map[string]ports.WalletClient
	inflight  map[string]*inflightCreate
}

// NewService returns a coordinator storing wallet files under walletDir.
// A startPort of 0 makes every wallet-rpc process bind an ephemeral
// OS-assigned port; otherwise ports are assigned consecutively from
// startPort.
func NewService(
	factory ports.WalletFactory, walletDir, password string, startPort int,
) (*Service, error) {
	if factory == nil {
		return nil, fmt.Errorf("missing wallet factory")
	}
	if walletDir == "" {
		return nil, fmt.Errorf("missing wallet directory")
	}
	if err := os.MkdirAll(walletDir, 0700); err != nil {
		return nil, fmt.Errorf("creating wallet directory: %w", err)
	}
	return &Service{
		factory:   factory,
		walletDir: walletDir,
		password:  password,
		startPort: startPort,
		nextPort:  startPort,
		usedPorts: make(map[int]string),
		escrow:    make(map[string]ports.WalletClient),
		inflight:  make(map[string]*inflightCreate),
	}, nil
}

// EscrowWalletName returns the deterministic wallet file name for a trade.
func EscrowWalletName(tradeId string) string {
	return EscrowWalletPrefix + tradeId
}

// OpenMainWallet starts the general-purpose wallet, creating its file on
// first use. Concurrent calls observe the same handle backed by exactly one
// wallet-rpc process.
func (s *Service) OpenMainWallet(ctx context.Context) (ports.WalletClient, error) {
	s.mtx.Lock()
	if s.main != nil {
		main := s.main
		s.mtx.Unlock()
		return main, nil
	}
	if fl := s.mainInflight; fl != nil {
		s.mtx.Unlock()
		<-fl.done
		return fl.client, fl.err
	}
	fl := &inflightCreate{done: make(chan struct{})}
	s.mainInflight = fl
	s.mtx.Unlock()

	client, err := s.setupMainWallet(ctx)

	s.mtx.Lock()
	s.mainInflight = nil
	if err == nil {
		s.main = client
	}
	s.mtx.Unlock()

	fl.client, fl.err = client, err
	close(fl.done)
	return client, err
}

func (s *Service) setupMainWallet(ctx context.Context) (ports.WalletClient, error) {
	client, err := s.startProcess(ctx, MainWalletName)
	if err != nil {
		return nil, err
	}
	if s.walletFileExists(MainWalletName) {
		err = client.OpenWallet(ctx, MainWalletName, s.currentPassword())
	} else {
		err = client.CreateWallet(ctx, MainWalletName, s.currentPassword())
	}
	if err != nil {
		s.releaseProcess(client)
		return nil, fmt.Errorf("opening main wallet: %w", err)
	}
	go s.syncInBackground(MainWalletName, client)
	return client, nil
}

// MainWallet returns the general-purpose wallet handle.
func (s *Service) MainWallet() (ports.WalletClient, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.main == nil {
		return nil, ErrMainWalletNotOpen
	}
	return s.main, nil
}

// CreateEscrowWallet creates (or returns the already registered) escrow
// wallet for a trade. Two concurrent calls for the same trade id observe the
// same handle backed by exactly one wallet file.
func (s *Service) CreateEscrowWallet(
	ctx context.Context, tradeId string,
) (ports.WalletClient, error) {
	return s.acquireEscrowWallet(ctx, tradeId, true)
}

// OpenEscrowWallet opens the existing escrow wallet of a trade. It returns
// found=false, not an error, when no wallet file exists.
func (s *Service) OpenEscrowWallet(
	ctx context.Context, tradeId string,
) (ports.WalletClient, bool, error) {
	s.mtx.Lock()
	if client, ok := s.escrow[tradeId]; ok {
		s.mtx.Unlock()
		return client, true, nil
	}
	s.mtx.Unlock()

	if !s.walletFileExists(EscrowWalletName(tradeId)) {
		return nil, false, nil
	}
	client, err := s.acquireEscrowWallet(ctx, tradeId, false)
	if err != nil {
		return nil, false, err
	}
	return client, true, nil
}

// GetEscrowWallet returns the in-process handle for a trade, if registered.
func (s *Service) GetEscrowWallet(tradeId string) (ports.WalletClient, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	client, ok := s.escrow[tradeId]
	return client, ok
}

// DeleteEscrowWallet closes the wallet best-effort and removes its three
// on-disk artifacts. It returns false, without error, if the wallet never
// existed.
func (s *Service) DeleteEscrowWallet(tradeId string) (bool, error) {
	s.mtx.Lock()
	client, registered := s.escrow[tradeId]
	delete(s.escrow, tradeId)
	s.mtx.Unlock()

	name := EscrowWalletName(tradeId)
	existsOnDisk := s.walletFileExists(name)
	if !registered && !existsOnDisk {
		return false, nil
	}

	if registered {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := client.CloseWallet(ctx); err != nil {
			// already closed is fine here
			log.WithError(err).Debugf("closing escrow wallet for trade %s", tradeId)
		}
		cancel()
		s.releaseProcess(client)
	}

	for _, artifact := range walletArtifacts(s.walletDir, name) {
		if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
			return true, fmt.Errorf("removing wallet artifact %s: %w", artifact, err)
		}
	}
	return true, nil
}

// CloseAll closes every open wallet concurrently through a bounded pool.
// Wallets still open after the join timeout are force-terminated. The
// in-process registry is cleared unconditionally so a partially failed
// shutdown cannot leave dangling handles.
func (s *Service) CloseAll() {
	s.mtx.Lock()
	clients := make(map[string]ports.WalletClient, len(s.escrow)+1)
	for tradeId, client := range s.escrow {
		clients[EscrowWalletName(tradeId)] = client
	}
	if s.main != nil {
		clients[MainWalletName] = s.main
	}
	s.mtx.Unlock()

	defer func() {
		s.mtx.Lock()
		s.escrow = make(map[string]ports.WalletClient)
		s.main = nil
		s.usedPorts = make(map[int]string)
		s.nextPort = s.startPort
		s.mtx.Unlock()
	}()

	if len(clients) == 0 {
		return
	}

	var closed sync.Map
	g := &errgroup.Group{}
	g.SetLimit(poolSize(len(clients)))
	for name, client := range clients {
		name, client := name, client
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), CloseAllTimeout)
			defer cancel()
			if err := client.CloseWallet(ctx); err != nil {
				log.WithError(err).Debugf("closing wallet %s", name)
			}
			if err := client.Stop(); err != nil {
				log.WithError(err).Warnf("stopping wallet process %s", name)
			}
			closed.Store(name, struct{}{})
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(CloseAllTimeout):
		for name, client := range clients {
			if _, ok := closed.Load(name); !ok {
				log.Warnf("force terminating hung wallet %s", name)
				client.Kill()
			}
		}
	}
}

func (s *Service) acquireEscrowWallet(
	ctx context.Context, tradeId string, create bool,
) (ports.WalletClient, error) {
	s.mtx.Lock()
	if client, ok := s.escrow[tradeId]; ok {
		s.mtx.Unlock()
		return client, nil
	}
	if fl, ok := s.inflight[tradeId]; ok {
		s.mtx.Unlock()
		<-fl.done
		return fl.client, fl.err
	}
	fl := &inflightCreate{done: make(chan struct{})}
	s.inflight[tradeId] = fl
	s.mtx.Unlock()

	client, err := s.setupEscrowWallet(ctx, tradeId, create)

	s.mtx.Lock()
	delete(s.inflight, tradeId)
	if err == nil {
		s.escrow[tradeId] = client
	}
	s.mtx.Unlock()

	fl.client, fl.err = client, err
	close(fl.done)
	return client, err
}

func (s *Service) setupEscrowWallet(
	ctx context.Context, tradeId string, create bool,
) (ports.WalletClient, error) {
	name := EscrowWalletName(tradeId)
	client, err := s.startProcess(ctx, name)
	if err != nil {
		return nil, err
	}

	if create && !s.walletFileExists(name) {
		err = client.CreateWallet(ctx, name, s.currentPassword())
	} else {
		err = client.OpenWallet(ctx, name, s.currentPassword())
	}
	if err != nil {
		s.releaseProcess(client)
		return nil, fmt.Errorf("setting up escrow wallet for trade %s: %w", tradeId, err)
	}

	go s.syncInBackground(name, client)
	return client, nil
}

// startProcess launches a wallet-rpc process, retrying the bounded number of
// times since transient bind races are possible.
func (s *Service) startProcess(
	ctx context.Context, name string,
) (ports.WalletClient, error) {
	port, err := s.allocPort(name)
	if err != nil {
		return nil, err
	}

	var client ports.WalletClient
	for attempt := 1; attempt <= rpcStartAttempts; attempt++ {
		client, err = s.factory.Start(ctx, port)
		if err == nil {
			break
		}
		log.WithError(err).Warnf(
			"wallet-rpc start attempt %d/%d failed for %s",
			attempt, rpcStartAttempts, name,
		)
	}
	if err != nil {
		s.freePort(port)
		return nil, fmt.Errorf("starting wallet-rpc for %s: %w", name, err)
	}

	if port == 0 {
		// register the ephemeral port the OS actually assigned
		s.mtx.Lock()
		s.usedPorts[client.Port()] = name
		s.mtx.Unlock()
	}
	return client, nil
}

func (s *Service) releaseProcess(client ports.WalletClient) {
	if err := client.Stop(); err != nil {
		client.Kill()
	}
	s.freePort(client.Port())
}

func (s *Service) allocPort(name string) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.startPort == 0 {
		return 0, nil
	}
	port := s.nextPort
	if owner, used := s.usedPorts[port]; used {
		return 0, fmt.Errorf("%w: port %d owned by %s", ErrPortAlreadyBound, port, owner)
	}
	s.usedPorts[port] = name
	s.nextPort = port + 1
	return port, nil
}

func (s *Service) freePort(port int) {
	if port == 0 {
		return
	}
	s.mtx.Lock()
	delete(s.usedPorts, port)
	s.mtx.Unlock()
}

func (s *Service) currentPassword() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.password
}

func (s *Service) walletFileExists(name string) bool {
	keysFile := filepath.Join(s.walletDir, name+".keys")
	_, err := os.Stat(keysFile)
	return err == nil
}

func (s *Service) syncInBackground(name string, client ports.WalletClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	blocks, err := client.Refresh(ctx)
	if err != nil {
		log.WithError(err).Warnf("background sync of wallet %s failed", name)
		return
	}
	log.Debugf("wallet %s synced, %d blocks fetched", name, blocks)
}

func walletArtifacts(dir, name string) []string {
	return []string{
		filepath.Join(dir, name),
		filepath.Join(dir, name+".keys"),
		filepath.Join(dir, name+".address.txt"),
	}
}

func poolSize(workCount int) int {
	if workCount < maxPoolSize {
		return workCount
	}
	return maxPoolSize
}
