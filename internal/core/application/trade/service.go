package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

// multisigThreshold is the signature threshold of the 2-of-2 escrow wallet
// shared by maker and taker. The arbitrator holds no key: disputed payouts
// are settled by the traders signing the agent's proposed payout tx.
const multisigThreshold = 2

// defaultSecurityDepositPct applies when no deposit percentage was
// configured or recorded on the contract.
const defaultSecurityDepositPct = 15

var (
	// ErrUnknownPeerAddress is returned when a reply cannot be routed because
	// the counterparty address was never recorded on the trade.
	ErrUnknownPeerAddress = errors.New("peer address unknown for trade")
	// ErrEscrowWalletUnavailable wraps failures to obtain the per-trade
	// multisig wallet handle.
	ErrEscrowWalletUnavailable = errors.New("escrow wallet unavailable")
)

// ResultHandler is the success continuation of a protocol entry operation.
type ResultHandler func(trade *domain.Trade)

// ErrorHandler is the failure continuation of a protocol entry operation.
type ErrorHandler func(err error)

// EscrowWallets is the slice of the wallet coordinator the engine drives.
type EscrowWallets interface {
	CreateEscrowWallet(ctx context.Context, tradeId string) (ports.WalletClient, error)
	OpenEscrowWallet(ctx context.Context, tradeId string) (ports.WalletClient, bool, error)
	GetEscrowWallet(tradeId string) (ports.WalletClient, bool)
	DeleteEscrowWallet(tradeId string) (bool, error)
	MainWallet() (ports.WalletClient, error)
}

// DisputeHandler receives the dispute overlay messages the engine routes off
// the shared per-trade queue.
type DisputeHandler interface {
	OnDisputeOpened(from string, msg domain.DisputeOpenedMessage)
	OnDisputeClosed(from string, msg domain.DisputeClosedMessage)
	OnMediatedPayoutTxSignature(from string, msg domain.MediatedPayoutTxSignatureMessage)
}

// InitTradeParams are the terms a taker sends when taking an offer.
type InitTradeParams struct {
	TradeId          string
	MakerAddress     string
	Amount           uint64
	Price            uint64
	Fee              uint64
	PaymentMethodId  string
	PaymentAccountId string
	ReserveTxProof   string
	BuyerIsMaker     bool
}

// Service is the per-trade protocol state machine. Inbound messages and
// local actions of one trade are serialized on a per-id queue; different
// trades progress fully in parallel.
type Service struct {
	repoManager        ports.RepoManager
	wallets            EscrowWallets
	transport          ports.Transport
	pubsub             ports.EventPublisher
	keyRing            *domain.KeyRing
	walletPassword     string
	securityDepositPct uint32

	dispatcher     *dispatcher
	disputeHandler DisputeHandler
}

// NewService returns the engine. A securityDepositPct of 0 falls back to the
// default percentage.
func NewService(
	repoManager ports.RepoManager,
	wallets EscrowWallets,
	transport ports.Transport,
	pubsub ports.EventPublisher,
	keyRing *domain.KeyRing,
	walletPassword string,
	securityDepositPct uint32,
) (*Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if wallets == nil {
		return nil, fmt.Errorf("missing wallet coordinator")
	}
	if transport == nil {
		return nil, fmt.Errorf("missing transport")
	}
	if pubsub == nil {
		return nil, fmt.Errorf("missing event publisher")
	}
	if keyRing == nil {
		return nil, fmt.Errorf("missing key ring")
	}
	if securityDepositPct == 0 {
		securityDepositPct = defaultSecurityDepositPct
	}
	if securityDepositPct > 100 {
		return nil, fmt.Errorf("security deposit percentage out of range")
	}
	return &Service{
		repoManager:        repoManager,
		wallets:            wallets,
		transport:          transport,
		pubsub:             pubsub,
		keyRing:            keyRing,
		walletPassword:     walletPassword,
		securityDepositPct: securityDepositPct,
		dispatcher:         newDispatcher(),
	}, nil
}

// SetDisputeHandler wires the dispute overlay engine. Must be called before
// Start.
func (s *Service) SetDisputeHandler(h DisputeHandler) {
	s.disputeHandler = h
}

// Start registers the engine on the transport.
func (s *Service) Start() {
	s.transport.OnMessage(s.HandleMessage)
}

// Stop waits for the in-flight per-trade queues to drain.
func (s *Service) Stop() {
	s.dispatcher.Wait()
}

// HandleMessage routes an inbound protocol message onto the queue of its
// trade id.
func (s *Service) HandleMessage(from string, msg domain.TradeMessage) {
	tradeId := msg.GetTradeId()
	if tradeId == "" {
		log.Warnf("dropping %s without trade id from %s", msg.Type(), from)
		return
	}
	s.dispatcher.Dispatch(tradeId, func() {
		s.processMessage(context.Background(), from, msg)
	})
}

// InitTrade is the taker's entry point: it creates the local trade, prepares
// the multisig and sends the opening request to the maker.
func (s *Service) InitTrade(
	ctx context.Context, params InitTradeParams,
	onResult ResultHandler, onError ErrorHandler,
) {
	tradeId := params.TradeId
	if tradeId == "" {
		tradeId = uuid.New().String()
	}
	s.dispatcher.Dispatch(tradeId, func() {
		trade, err := s.initTrade(ctx, tradeId, params)
		s.continueWith(trade, err, onResult, onError)
	})
}

// DepositFunds publishes the local deposit transaction into the escrow and
// announces it to the peer. Only makers and takers fund the escrow.
func (s *Service) DepositFunds(
	ctx context.Context, tradeId string,
	onResult ResultHandler, onError ErrorHandler,
) {
	s.dispatcher.Dispatch(tradeId, func() {
		trade, err := s.depositFunds(ctx, tradeId)
		s.continueWith(trade, err, onResult, onError)
	})
}

// PaymentSentParams is what the buyer supplies when confirming the
// counter-currency payment: the payout address plus the optional payment
// reference of the used payment method.
type PaymentSentParams struct {
	PayoutAddress       string
	CounterCurrencyTxId string
	PaymentProof        string
}

// ConfirmPaymentSent is the buyer confirming in the UI that the
// counter-currency payment was started. A failed send steps the trade back
// so the send can be retried.
func (s *Service) ConfirmPaymentSent(
	ctx context.Context, tradeId string, params PaymentSentParams,
	onResult ResultHandler, onError ErrorHandler,
) {
	s.dispatcher.Dispatch(tradeId, func() {
		trade, err := s.confirmPaymentSent(ctx, tradeId, params)
		s.continueWith(trade, err, onResult, onError)
	})
}

// ConfirmPaymentReceived is the seller confirming in the UI that the
// payment arrived; it creates and half-signs the payout transaction.
func (s *Service) ConfirmPaymentReceived(
	ctx context.Context, tradeId string,
	onResult ResultHandler, onError ErrorHandler,
) {
	s.dispatcher.Dispatch(tradeId, func() {
		trade, err := s.confirmPaymentReceived(ctx, tradeId)
		s.continueWith(trade, err, onResult, onError)
	})
}

// WithdrawFunds sweeps the remaining escrow balance of a completed trade to
// the given address and retires the escrow wallet.
func (s *Service) WithdrawFunds(
	ctx context.Context, tradeId, address string,
	onResult ResultHandler, onError ErrorHandler,
) {
	s.dispatcher.Dispatch(tradeId, func() {
		trade, err := s.withdrawFunds(ctx, tradeId, address)
		s.continueWith(trade, err, onResult, onError)
	})
}

// ProcessDepositConfirmations polls the escrow wallets of trades waiting on
// deposit confirmation and advances those whose deposits confirmed or
// unlocked. Called periodically by the daemon loop.
func (s *Service) ProcessDepositConfirmations(ctx context.Context) {
	for _, state := range []domain.TradeState{
		domain.TradeStateDepositTxsSeenInNetwork,
		domain.TradeStateDepositTxsConfirmed,
	} {
		trades, err := s.repoManager.TradeRepository().GetTradesByState(ctx, state)
		if err != nil {
			log.WithError(err).Warn("listing trades waiting on deposits")
			return
		}
		for _, t := range trades {
			tradeId := t.Id
			s.dispatcher.Dispatch(tradeId, func() {
				if err := s.checkDeposits(ctx, tradeId); err != nil {
					log.WithError(err).Warnf(
						"checking deposits of trade %s", tradeId,
					)
				}
			})
		}
	}
}

func (s *Service) initTrade(
	ctx context.Context, tradeId string, params InitTradeParams,
) (*domain.Trade, error) {
	trade, err := s.repoManager.TradeRepository().GetOrCreateTrade(
		ctx, tradeId, domain.RoleTaker,
	)
	if err != nil {
		return nil, err
	}
	if trade.State >= domain.TradeStateMultisigPrepared {
		return trade, nil
	}

	wc, err := s.wallets.CreateEscrowWallet(ctx, tradeId)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEscrowWalletUnavailable, err)
	}
	preparedHex, err := wc.PrepareMultisig(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing multisig: %w", err)
	}

	contract := domain.Contract{
		TradeId:          tradeId,
		Amount:           params.Amount,
		Price:            params.Price,
		PaymentMethodId:  params.PaymentMethodId,
		PaymentAccountId: params.PaymentAccountId,
		TakerFee:         params.Fee,
		MakerDepositPct:  s.securityDepositPct,
		TakerDepositPct:  s.securityDepositPct,
		BuyerIsMaker:     params.BuyerIsMaker,
		TakerPubKey:      s.keyRing.PubKeyHex(),
	}
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.PrepareMultisig(preparedHex); err != nil {
				return nil, err
			}
			t.MakerAddress = params.MakerAddress
			t.Contract = &contract
			return t, nil
		},
	); err != nil {
		return nil, err
	}

	req := domain.InitTradeRequest{
		MessageInfo:        domain.MessageInfo{TradeId: tradeId, Uid: uuid.New().String()},
		Amount:             params.Amount,
		Price:              params.Price,
		Fee:                params.Fee,
		PaymentAccountId:   params.PaymentAccountId,
		PaymentMethodId:    params.PaymentMethodId,
		ReserveTxProof:     params.ReserveTxProof,
		BuyerIsMaker:       params.BuyerIsMaker,
		SecurityDepositPct: s.securityDepositPct,
		TakerAddress:       s.transport.LocalAddress(),
		TakerPubKeyRing: domain.PubKeyRing{
			SignaturePubKey: s.keyRing.PubKeyHex(),
		},
	}
	if _, err := s.transport.Deliver(ctx, params.MakerAddress, req); err != nil {
		return nil, fmt.Errorf("sending init trade request: %w", err)
	}
	return s.reloadAndPublish(ctx, tradeId)
}

func (s *Service) depositFunds(
	ctx context.Context, tradeId string,
) (*domain.Trade, error) {
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if trade.Role == domain.RoleArbitrator {
		return nil, domain.ErrActionNotAllowedForRole
	}
	if trade.State != domain.TradeStateContractSigned {
		return nil, domain.ErrIllegalStateTransition
	}
	if trade.MultisigAddress == "" {
		return nil, fmt.Errorf("no multisig address recorded for trade %s", tradeId)
	}

	// deposits are funded from the general-purpose wallet
	main, err := s.wallets.MainWallet()
	if err != nil {
		return nil, err
	}
	amount := depositAmount(trade)
	res, err := main.Transfer(ctx, trade.MultisigAddress, amount)
	if err != nil {
		return nil, fmt.Errorf("publishing deposit tx: %w", err)
	}

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.PublishDeposit(res.TxId); err != nil {
				return nil, err
			}
			return t, nil
		},
	); err != nil {
		return nil, err
	}

	sig := s.keyRing.SignContract(trade.ContractAsJson)
	msg := domain.DepositTxMessage{
		MessageInfo:       domain.MessageInfo{TradeId: tradeId, Uid: uuid.New().String()},
		Role:              trade.Role,
		DepositTxId:       res.TxId,
		DepositTxHex:      res.TxHex,
		DepositTxKey:      res.TxKey,
		ContractSignature: sig,
	}
	if err := s.deliverToPeer(ctx, trade, msg); err != nil {
		return nil, err
	}
	return s.reloadAndPublish(ctx, tradeId)
}

func (s *Service) confirmPaymentSent(
	ctx context.Context, tradeId string, params PaymentSentParams,
) (*domain.Trade, error) {
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if !trade.IsBuyer() {
		return nil, domain.ErrActionNotAllowedForRole
	}
	if trade.State != domain.TradeStateDepositTxsUnlocked &&
		trade.State != domain.TradeStatePaymentSentMsgSendFailed {
		return nil, domain.ErrIllegalStateTransition
	}

	wc, err := s.escrowWallet(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	multisigInfo, err := wc.ExportMultisigInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporting multisig info: %w", err)
	}

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.ConfirmPaymentSent(); err != nil {
				return nil, err
			}
			t.BuyerPayoutAddress = params.PayoutAddress
			t.CounterCurrencyTxId = params.CounterCurrencyTxId
			t.PaymentProof = params.PaymentProof
			return t, nil
		},
	); err != nil {
		return nil, err
	}

	msg := domain.PaymentSentMessage{
		MessageInfo:         domain.MessageInfo{TradeId: tradeId, Uid: uuid.New().String()},
		CounterCurrencyTxId: params.CounterCurrencyTxId,
		PaymentProof:        params.PaymentProof,
		UpdatedMultisigHex:  multisigInfo,
		PayoutAddress:       params.PayoutAddress,
		BuyerSignature:      s.keyRing.SignContract(trade.ContractAsJson),
	}
	sendRes, err := s.deliverToPeerWithResult(ctx, trade, msg)
	msgState := paymentSentStateForResult(sendRes, err)

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.SetPaymentSentMsgState(msgState); err != nil {
				return nil, err
			}
			return t, nil
		},
	); err != nil {
		return nil, err
	}
	return s.reloadAndPublish(ctx, tradeId)
}

func (s *Service) confirmPaymentReceived(
	ctx context.Context, tradeId string,
) (*domain.Trade, error) {
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if !trade.IsSeller() {
		return nil, domain.ErrActionNotAllowedForRole
	}
	if trade.State != domain.TradeStatePaymentSentMsgReceived &&
		trade.State != domain.TradeStatePaymentReceivedMsgSendFailed {
		return nil, domain.ErrIllegalStateTransition
	}
	if trade.BuyerPayoutAddress == "" {
		return nil, fmt.Errorf("no payout address known for trade %s", tradeId)
	}

	wc, err := s.escrowWallet(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	payout, err := wc.Transfer(ctx, trade.BuyerPayoutAddress, payoutAmount(trade))
	if err != nil {
		return nil, fmt.Errorf("creating payout tx: %w", err)
	}
	signedHex, _, err := wc.SignMultisigTx(ctx, payout.TxHex)
	if err != nil {
		return nil, fmt.Errorf("signing payout tx: %w", err)
	}

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.ConfirmPaymentReceived(); err != nil {
				return nil, err
			}
			t.PayoutTxHex = signedHex
			t.PayoutState = domain.PayoutStateSigned
			return t, nil
		},
	); err != nil {
		return nil, err
	}

	msg := domain.PaymentReceivedMessage{
		MessageInfo:       domain.MessageInfo{TradeId: tradeId, Uid: uuid.New().String()},
		SignedPayoutTxHex: signedHex,
		SellerSignature:   s.keyRing.SignContract(trade.ContractAsJson),
	}
	sendRes, err := s.deliverToPeerWithResult(ctx, trade, msg)
	msgState := paymentReceivedStateForResult(sendRes, err)

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.SetPaymentReceivedMsgState(msgState); err != nil {
				return nil, err
			}
			return t, nil
		},
	); err != nil {
		return nil, err
	}
	return s.reloadAndPublish(ctx, tradeId)
}

func (s *Service) withdrawFunds(
	ctx context.Context, tradeId, address string,
) (*domain.Trade, error) {
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if trade.Role == domain.RoleArbitrator {
		return nil, domain.ErrActionNotAllowedForRole
	}
	if !trade.IsCompleted() {
		return nil, domain.ErrIllegalStateTransition
	}

	wc, err := s.escrowWallet(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	_, unlocked, err := wc.GetBalance(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("reading escrow balance: %w", err)
	}
	if unlocked > 0 {
		if _, err := wc.Transfer(ctx, address, unlocked); err != nil {
			return nil, fmt.Errorf("sweeping escrow balance: %w", err)
		}
		s.pubsub.Publish(ports.Event{
			Type:    ports.EventBalanceChanged,
			TradeId: tradeId,
		})
	}
	if _, err := s.wallets.DeleteEscrowWallet(tradeId); err != nil {
		log.WithError(err).Warnf("deleting escrow wallet of trade %s", tradeId)
	}
	return trade, nil
}

// checkDeposits advances the deposit phase from the escrow wallet balance:
// total balance covers both deposits when they confirmed, unlocked balance
// when they unlocked.
func (s *Service) checkDeposits(ctx context.Context, tradeId string) error {
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
	if err != nil {
		return err
	}
	wc, err := s.escrowWallet(ctx, tradeId)
	if err != nil {
		return err
	}
	if _, err := wc.Refresh(ctx); err != nil {
		return fmt.Errorf("refreshing escrow wallet: %w", err)
	}
	total, unlocked, err := wc.GetBalance(ctx, 0)
	if err != nil {
		return fmt.Errorf("reading escrow balance: %w", err)
	}
	expected := expectedEscrowBalance(trade)

	switch trade.State {
	case domain.TradeStateDepositTxsSeenInNetwork:
		if total < expected {
			return nil
		}
		multisigInfo, err := wc.ExportMultisigInfo(ctx)
		if err != nil {
			return fmt.Errorf("exporting multisig info: %w", err)
		}
		if err := s.repoManager.TradeRepository().UpdateTrade(
			ctx, tradeId,
			func(t *domain.Trade) (*domain.Trade, error) {
				if _, err := t.ConfirmDeposits(""); err != nil {
					return nil, err
				}
				return t, nil
			},
		); err != nil {
			return err
		}
		msg := domain.DepositsConfirmedMessage{
			MessageInfo:        domain.MessageInfo{TradeId: tradeId, Uid: uuid.New().String()},
			UpdatedMultisigHex: multisigInfo,
		}
		if err := s.deliverToPeer(ctx, trade, msg); err != nil {
			return err
		}
	case domain.TradeStateDepositTxsConfirmed:
		if unlocked < expected {
			return nil
		}
		if err := s.repoManager.TradeRepository().UpdateTrade(
			ctx, tradeId,
			func(t *domain.Trade) (*domain.Trade, error) {
				if _, err := t.UnlockDeposits(); err != nil {
					return nil, err
				}
				return t, nil
			},
		); err != nil {
			return err
		}
	default:
		return nil
	}

	_, err = s.reloadAndPublish(ctx, tradeId)
	return err
}

func (s *Service) continueWith(
	trade *domain.Trade, err error, onResult ResultHandler, onError ErrorHandler,
) {
	if err != nil {
		log.WithError(err).Warn("trade operation failed")
		if onError != nil {
			onError(err)
		}
		return
	}
	if onResult != nil {
		onResult(trade)
	}
}

func (s *Service) escrowWallet(
	ctx context.Context, tradeId string,
) (ports.WalletClient, error) {
	if wc, ok := s.wallets.GetEscrowWallet(tradeId); ok {
		return wc, nil
	}
	wc, found, err := s.wallets.OpenEscrowWallet(ctx, tradeId)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEscrowWalletUnavailable, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: no wallet file for trade %s",
			ErrEscrowWalletUnavailable, tradeId)
	}
	return wc, nil
}

func (s *Service) deliverToPeer(
	ctx context.Context, trade *domain.Trade, msg domain.TradeMessage,
) error {
	_, err := s.deliverToPeerWithResult(ctx, trade, msg)
	return err
}

func (s *Service) deliverToPeerWithResult(
	ctx context.Context, trade *domain.Trade, msg domain.TradeMessage,
) (ports.SendResult, error) {
	peer := peerAddress(trade)
	if peer == "" {
		return ports.SendFailed, fmt.Errorf("%w: %s", ErrUnknownPeerAddress, trade.Id)
	}
	return s.transport.Deliver(ctx, peer, msg)
}

func (s *Service) reloadAndPublish(
	ctx context.Context, tradeId string,
) (*domain.Trade, error) {
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	s.pubsub.Publish(ports.Event{
		Type:    ports.EventTradeStateChanged,
		TradeId: tradeId,
		Payload: trade.State,
	})
	return trade, nil
}

func peerAddress(t *domain.Trade) string {
	if t.Role == domain.RoleMaker {
		return t.TakerAddress
	}
	return t.MakerAddress
}

// depositAmount is what the local party locks into the escrow: the seller
// deposits the trade amount plus its security deposit, the buyer only the
// security deposit.
func depositAmount(t *domain.Trade) uint64 {
	if t.Contract == nil {
		return 0
	}
	security := securityDeposit(t)
	if t.IsSeller() {
		return t.Contract.Amount + security
	}
	return security
}

// expectedEscrowBalance is the sum both parties must have locked before the
// deposits count as complete.
func expectedEscrowBalance(t *domain.Trade) uint64 {
	if t.Contract == nil {
		return 0
	}
	return t.Contract.Amount + 2*securityDeposit(t)
}

// payoutAmount is the buyer's share of the escrow on the happy path: the
// trade amount plus the buyer's security deposit back.
func payoutAmount(t *domain.Trade) uint64 {
	if t.Contract == nil {
		return 0
	}
	return t.Contract.Amount + securityDeposit(t)
}

func securityDeposit(t *domain.Trade) uint64 {
	pct := t.Contract.MakerDepositPct
	if pct == 0 {
		pct = defaultSecurityDepositPct
	}
	return t.Contract.Amount * uint64(pct) / 100
}

func paymentSentStateForResult(res ports.SendResult, err error) domain.TradeState {
	if err != nil {
		return domain.TradeStatePaymentSentMsgSendFailed
	}
	switch res {
	case ports.SendArrived:
		return domain.TradeStatePaymentSentMsgSent
	case ports.SendStoredInMailbox:
		return domain.TradeStatePaymentSentMsgInMailbox
	}
	return domain.TradeStatePaymentSentMsgSendFailed
}

func paymentReceivedStateForResult(res ports.SendResult, err error) domain.TradeState {
	if err != nil {
		return domain.TradeStatePaymentReceivedMsgSendFailed
	}
	switch res {
	case ports.SendArrived:
		return domain.TradeStatePaymentReceivedMsgSent
	case ports.SendStoredInMailbox:
		return domain.TradeStatePaymentReceivedMsgInMailbox
	}
	return domain.TradeStatePaymentReceivedMsgSendFailed
}
