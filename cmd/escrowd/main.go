package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/config"
	"github.com/escrow-network/escrowd/internal/core/application/address"
	"github.com/escrow-network/escrowd/internal/core/application/dispute"
	"github.com/escrow-network/escrowd/internal/core/application/pubsub"
	"github.com/escrow-network/escrowd/internal/core/application/trade"
	"github.com/escrow-network/escrowd/internal/core/application/wallet"
	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
	"github.com/escrow-network/escrowd/internal/infrastructure/monero"
	dbbadger "github.com/escrow-network/escrowd/internal/infrastructure/storage/db/badger"
	"github.com/escrow-network/escrowd/internal/infrastructure/transport/inmemory"
	"github.com/escrow-network/escrowd/pkg/keyimage"
)

func main() {
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	if err := config.InitDatadir(); err != nil {
		log.WithError(err).Panic("error while creating datadir")
	}

	repoManager, err := dbbadger.NewRepoManager(config.GetDbDir(), nil)
	if err != nil {
		log.WithError(err).Panic("error while opening db")
	}
	defer repoManager.Close()

	factory, err := monero.NewWalletFactory(monero.WalletFactoryConfig{
		CliToolsDir:   config.GetString(config.CliToolsDirKey),
		WalletDir:     config.GetWalletsDir(),
		DaemonAddress: config.GetString(config.MonerodAddressKey),
		Stagenet:      config.IsStagenet(),
		TrustedDaemon: config.GetBool(config.TrustedDaemonKey),
	})
	if err != nil {
		log.WithError(err).Panic("error while locating monero cli tools")
	}

	walletPassword := config.GetString(config.WalletPasswordKey)
	walletSvc, err := wallet.NewService(
		factory, config.GetWalletsDir(), walletPassword,
		config.GetInt(config.WalletRpcStartPortKey),
	)
	if err != nil {
		log.WithError(err).Panic("error while creating wallet coordinator")
	}
	defer walletSvc.CloseAll()

	ctx := context.Background()
	mainWallet, err := walletSvc.OpenMainWallet(ctx)
	if err != nil {
		log.WithError(err).Panic("error while opening main wallet")
	}

	addressSvc, err := address.NewService(repoManager, mainWallet)
	if err != nil {
		log.WithError(err).Panic("error while creating address ledger")
	}

	pubsubSvc := pubsub.NewService()
	pubsubSvc.Subscribe(func(ev ports.Event) {
		if ev.Type != ports.EventTradeStateChanged {
			return
		}
		state, ok := ev.Payload.(domain.TradeState)
		if !ok || state != domain.TradeStateCompleted {
			return
		}
		if err := addressSvc.ResetForCompletedTrade(ctx, ev.TradeId); err != nil {
			log.WithError(err).Warnf(
				"failed to release subaddresses of trade %s", ev.TradeId,
			)
		}
	})

	daemonClient := monero.NewDaemonClient(config.GetString(config.MonerodAddressKey))
	watcher := keyimage.NewWatcher(keyimage.Opts{
		Daemon: daemonClient,
		IntervalInMilliseconds: int(
			config.GetDuration(config.KeyImagePollIntervalKey) / time.Millisecond,
		),
	})
	watcher.AddListener(&spentStatusForwarder{pubsub: pubsubSvc})
	defer watcher.Stop()

	nodeAddress := config.GetString(config.NodeAddressKey)
	if nodeAddress == "" {
		log.Panic("node address must be set")
	}
	transport := inmemory.NewNetwork().Join(nodeAddress)

	keyRing, err := loadOrCreateKeyRing()
	if err != nil {
		log.WithError(err).Panic("error while loading signing key")
	}

	tradeSvc, err := trade.NewService(
		repoManager, walletSvc, transport, pubsubSvc, keyRing, walletPassword,
		uint32(config.GetInt(config.SecurityDepositPctKey)),
	)
	if err != nil {
		log.WithError(err).Panic("error while creating trade engine")
	}

	mediationSvc, err := dispute.NewService(
		dispute.MediationSupport(), repoManager, walletSvc, transport, pubsubSvc,
	)
	if err != nil {
		log.WithError(err).Panic("error while creating mediation overlay")
	}
	defer mediationSvc.Stop()
	arbitrationSvc, err := dispute.NewService(
		dispute.ArbitrationSupport(), repoManager, walletSvc, transport, pubsubSvc,
	)
	if err != nil {
		log.WithError(err).Panic("error while creating arbitration overlay")
	}
	defer arbitrationSvc.Stop()

	tradeSvc.SetDisputeHandler(dispute.NewRouter(mediationSvc, arbitrationSvc))
	tradeSvc.Start()
	defer tradeSvc.Stop()

	log.Debug("starting daemon")

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	go depositLoop(loopCtx, tradeSvc)
	go sweepLoop(loopCtx, mediationSvc, arbitrationSvc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Debug("exiting")
}

func depositLoop(ctx context.Context, tradeSvc *trade.Service) {
	ticker := time.NewTicker(config.GetDuration(config.DepositPollIntervalKey))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tradeSvc.ProcessDepositConfirmations(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func sweepLoop(ctx context.Context, overlays ...*dispute.Service) {
	ticker := time.NewTicker(config.GetDuration(config.DisputeSweepIntervalKey))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, overlay := range overlays {
				overlay.Sweep(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// loadOrCreateKeyRing restores the node signing key from the datadir, or
// generates and persists a fresh one on first start.
func loadOrCreateKeyRing() (*domain.KeyRing, error) {
	keyPath := filepath.Join(
		config.GetDatadir(), config.GetString(config.NetworkKey), "signing.key",
	)
	if buf, err := os.ReadFile(keyPath); err == nil {
		return domain.KeyRingFromBytes(buf), nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	keyRing, err := domain.NewKeyRing()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, keyRing.Serialize(), 0600); err != nil {
		return nil, err
	}
	return keyRing, nil
}

// spentStatusForwarder bridges key image watcher deltas onto the event bus.
type spentStatusForwarder struct {
	pubsub *pubsub.Service
}

func (f *spentStatusForwarder) OnSpentStatusChanged(changes []keyimage.StatusChange) {
	for _, change := range changes {
		f.pubsub.Publish(ports.Event{
			Type:    ports.EventKeyImageSpentStatusChanged,
			Payload: change,
		})
	}
}
