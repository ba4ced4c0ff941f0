package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

// ErrNoDisputeResult is returned when accepting or rejecting a result that
// was never received.
var ErrNoDisputeResult = errors.New("no dispute result to act on")

// SupportInfo parameterizes one overlay instance. Mediation and arbitration
// share the engine; only the states and the track identity differ.
type SupportInfo struct {
	Type               domain.SupportType
	RequestedState     domain.DisputeState
	StartedByPeerState domain.DisputeState
	ClosedState        domain.DisputeState
}

// MediationSupport is the capability set of the mediation overlay.
func MediationSupport() SupportInfo {
	return SupportInfo{
		Type:               domain.SupportTypeMediation,
		RequestedState:     domain.DisputeStateMediationRequested,
		StartedByPeerState: domain.DisputeStateMediationStartedByPeer,
		ClosedState:        domain.DisputeStateMediationClosed,
	}
}

// ArbitrationSupport is the capability set of the arbitration overlay.
func ArbitrationSupport() SupportInfo {
	return SupportInfo{
		Type:               domain.SupportTypeArbitration,
		RequestedState:     domain.DisputeStateArbitrationRequested,
		StartedByPeerState: domain.DisputeStateArbitrationStartedByPeer,
		ClosedState:        domain.DisputeStateArbitrationClosed,
	}
}

// EscrowWallets is the slice of the wallet coordinator the overlay needs to
// sign and broadcast dispute payouts.
type EscrowWallets interface {
	GetEscrowWallet(tradeId string) (ports.WalletClient, bool)
	OpenEscrowWallet(ctx context.Context, tradeId string) (ports.WalletClient, bool, error)
}

// Service is one dispute overlay track. It can interrupt a trade into
// mediation or arbitration and later rejoin it to a payout or a forced
// closure.
type Service struct {
	info        SupportInfo
	repoManager ports.RepoManager
	wallets     EscrowWallets
	transport   ports.Transport
	pubsub      ports.EventPublisher
	retries     *retryTable
}

func NewService(
	info SupportInfo,
	repoManager ports.RepoManager,
	wallets EscrowWallets,
	transport ports.Transport,
	pubsub ports.EventPublisher,
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
	return &Service{
		info:        info,
		repoManager: repoManager,
		wallets:     wallets,
		transport:   transport,
		pubsub:      pubsub,
		retries:     newRetryTable(),
	}, nil
}

// Stop cancels any pending delayed retries.
func (s *Service) Stop() {
	s.retries.stop()
}

// OpenDispute interrupts the trade into this overlay track. The opener must
// have a deposit transaction recorded; overlays are strictly sequenced, so
// opening while another overlay is unresolved fails unless arbitration is
// superseding an open mediation.
func (s *Service) OpenDispute(
	ctx context.Context, tradeId string, isSupportTicket bool,
) (*domain.Dispute, error) {
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if err := s.checkSequencing(ctx, trade); err != nil {
		return nil, err
	}

	dispute, err := domain.NewDispute(trade, trade.Role, s.info.Type, isSupportTicket)
	if err != nil {
		return nil, err
	}
	if err := s.repoManager.DisputeRepository().AddDispute(ctx, dispute); err != nil {
		return nil, err
	}
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			t.DisputeState = s.info.RequestedState
			return t, nil
		},
	); err != nil {
		return nil, err
	}

	msg := domain.DisputeOpenedMessage{
		MessageInfo: domain.MessageInfo{TradeId: tradeId, Uid: uuid.New().String()},
		Dispute:     *dispute,
	}
	if _, err := s.transport.Deliver(ctx, agentAddress(trade), msg); err != nil {
		log.WithError(err).Warnf("sending dispute opened message for trade %s", tradeId)
	}
	s.publishDisputeState(tradeId, s.info.RequestedState)
	return dispute, nil
}

// OnDisputeOpened is the counterparty or agent observing a dispute opened
// elsewhere. Unlike closed messages, an opened message for an unknown trade
// is a protocol error and dropped.
func (s *Service) OnDisputeOpened(from string, msg domain.DisputeOpenedMessage) {
	ctx := context.Background()
	if msg.Dispute.SupportType != s.info.Type {
		log.Warnf(
			"dropping dispute opened of track %s on the %s overlay",
			msg.Dispute.SupportType, s.info.Type,
		)
		return
	}
	if _, err := s.repoManager.TradeRepository().GetTrade(ctx, msg.TradeId); err != nil {
		log.WithError(err).Warnf("dropping dispute opened for trade %s", msg.TradeId)
		return
	}

	repo := s.repoManager.DisputeRepository()
	_, err := repo.GetDispute(ctx, msg.TradeId, msg.Dispute.OpenerRole)
	if errors.Is(err, domain.ErrDisputeNotFound) {
		dispute := msg.Dispute
		err = repo.AddDispute(ctx, &dispute)
	}
	if err != nil {
		log.WithError(err).Warnf("recording peer dispute for trade %s", msg.TradeId)
		return
	}

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, msg.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if !t.DisputeState.IsOpen() {
				t.DisputeState = s.info.StartedByPeerState
			}
			return t, nil
		},
	); err != nil {
		log.WithError(err).Warnf("marking dispute started for trade %s", msg.TradeId)
		return
	}
	s.ack(ctx, from, msg.TradeId, msg.Uid, msg.Type())
	s.publishDisputeState(msg.TradeId, s.info.StartedByPeerState)
}

// OnDisputeClosed applies the agent's result. The dispute may not exist
// locally yet (the opening message can still be in flight), which is not an
// error: the message re-applies itself after a fixed delay, keyed by its uid
// so redelivery cannot pile up duplicate timers.
func (s *Service) OnDisputeClosed(from string, msg domain.DisputeClosedMessage) {
	err := s.applyDisputeClosed(context.Background(), from, msg)
	if err == nil {
		s.retries.cancel(msg.Uid)
		return
	}
	if errors.Is(err, domain.ErrDisputeNotFound) || errors.Is(err, domain.ErrTradeNotFound) {
		log.Debugf(
			"dispute closed for trade %s arrived early, scheduling retry", msg.TradeId,
		)
		s.retries.schedule(msg.Uid, func() { s.OnDisputeClosed(from, msg) })
		return
	}
	log.WithError(err).Warnf("dropping dispute closed for trade %s", msg.TradeId)
}

// AcceptDisputeResult signs the payout proposed by the dispute result. If
// the peer's partial signature is already known the payout is finalized and
// broadcast; otherwise the local signature is forwarded to the peer. This is
// the only path by which a disputed trade reaches completion.
func (s *Service) AcceptDisputeResult(ctx context.Context, tradeId string) error {
	trade, result, err := s.loadResult(ctx, tradeId)
	if err != nil {
		return err
	}
	wc, err := s.escrowWallet(ctx, tradeId)
	if err != nil {
		return err
	}

	if trade.PayoutState == domain.PayoutStateSigned && trade.PayoutTxHex != "" {
		return s.finalizePayout(ctx, trade, *result, wc, trade.PayoutTxHex)
	}

	if result.PayoutTxHex == "" {
		return fmt.Errorf("%w: result carries no payout tx", ErrNoDisputeResult)
	}
	signedHex, _, err := wc.SignMultisigTx(ctx, result.PayoutTxHex)
	if err != nil {
		return fmt.Errorf("signing dispute payout: %w", err)
	}
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			t.PayoutTxHex = signedHex
			t.PayoutState = domain.PayoutStateSigned
			return t, nil
		},
	); err != nil {
		return err
	}

	msg := domain.MediatedPayoutTxSignatureMessage{
		MessageInfo:       domain.MessageInfo{TradeId: tradeId, Uid: uuid.New().String()},
		PayoutTxSignature: signedHex,
		SupportType:       s.info.Type,
	}
	if _, err := s.transport.Deliver(ctx, peerAddress(trade), msg); err != nil {
		return fmt.Errorf("sending payout signature: %w", err)
	}
	return nil
}

// RejectDisputeResult declines the proposed split. The overlay closes
// without a payout; a rejected mediation is expected to be followed by
// arbitration.
func (s *Service) RejectDisputeResult(ctx context.Context, tradeId string) error {
	_, _, err := s.loadResult(ctx, tradeId)
	if err != nil {
		return err
	}
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			t.DisputeState = s.info.ClosedState
			return t, nil
		},
	); err != nil {
		return err
	}
	s.publishDisputeState(tradeId, s.info.ClosedState)
	return nil
}

// OnMediatedPayoutTxSignature is the peer's partial payout signature. If the
// local party already accepted, the payout finalizes and broadcasts.
func (s *Service) OnMediatedPayoutTxSignature(
	from string, msg domain.MediatedPayoutTxSignatureMessage,
) {
	ctx := context.Background()
	trade, result, err := s.loadResult(ctx, msg.TradeId)
	if err != nil {
		log.WithError(err).Warnf("dropping payout signature for trade %s", msg.TradeId)
		return
	}
	wc, err := s.escrowWallet(ctx, msg.TradeId)
	if err != nil {
		log.WithError(err).Warnf("dropping payout signature for trade %s", msg.TradeId)
		return
	}

	if trade.PayoutState == domain.PayoutStateSigned {
		if err := s.finalizePayout(
			ctx, trade, *result, wc, msg.PayoutTxSignature,
		); err != nil {
			log.WithError(err).Warnf("finalizing dispute payout of trade %s", msg.TradeId)
			return
		}
	} else {
		if err := s.repoManager.TradeRepository().UpdateTrade(
			ctx, msg.TradeId,
			func(t *domain.Trade) (*domain.Trade, error) {
				t.PayoutTxHex = msg.PayoutTxSignature
				t.PayoutState = domain.PayoutStateSigned
				return t, nil
			},
		); err != nil {
			log.WithError(err).Warnf("recording payout signature of trade %s", msg.TradeId)
			return
		}
	}
	s.ack(ctx, from, msg.TradeId, msg.Uid, msg.Type())
}

// Sweep closes any trade whose dispute is resolved and whose payout
// transaction is already present, independent of whether the owning session
// is still live. Called periodically by the daemon loop.
func (s *Service) Sweep(ctx context.Context) {
	list, err := s.repoManager.DisputeRepository().GetAllBySupportType(ctx, s.info.Type)
	if err != nil {
		log.WithError(err).Warn("listing disputes for sweep")
		return
	}
	for _, d := range list.Disputes {
		if !d.IsClosed || d.Result == nil || d.Result.PayoutTxId == "" {
			continue
		}
		trade, err := s.repoManager.TradeRepository().GetTrade(ctx, d.TradeId)
		if err != nil || trade.IsCompleted() {
			continue
		}
		if trade.DisputeState == s.info.ClosedState && trade.PayoutTxId != "" {
			continue
		}
		result := *d.Result
		if err := s.repoManager.TradeRepository().UpdateTrade(
			ctx, d.TradeId,
			func(t *domain.Trade) (*domain.Trade, error) {
				t.CloseByDispute(s.info.ClosedState, result)
				return t, nil
			},
		); err != nil {
			log.WithError(err).Warnf("sweeping resolved dispute of trade %s", d.TradeId)
			continue
		}
		if err := s.repoManager.TradeRepository().MoveToClosed(ctx, d.TradeId); err != nil {
			log.WithError(err).Warnf("retiring swept trade %s", d.TradeId)
		}
		s.publishDisputeState(d.TradeId, s.info.ClosedState)
	}
}

// RetryCount reports how many delayed re-applications are pending.
func (s *Service) RetryCount() int {
	return s.retries.pendingCount()
}

func (s *Service) applyDisputeClosed(
	ctx context.Context, from string, msg domain.DisputeClosedMessage,
) error {
	dispute, err := s.findDispute(ctx, msg.TradeId)
	if err != nil {
		return err
	}

	if err := s.repoManager.DisputeRepository().UpdateDispute(
		ctx, dispute.TradeId, dispute.OpenerRole,
		func(d *domain.Dispute) (*domain.Dispute, error) {
			if msg.ChatMessage != nil {
				d.AddChatMessage(*msg.ChatMessage)
			}
			if _, err := d.Close(msg.Result); err != nil {
				return nil, err
			}
			return d, nil
		},
	); err != nil {
		return err
	}

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, msg.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			t.CloseByDispute(s.info.ClosedState, msg.Result)
			return t, nil
		},
	); err != nil {
		return err
	}

	s.ack(ctx, from, msg.TradeId, msg.Uid, msg.Type())
	s.publishDisputeState(msg.TradeId, s.info.ClosedState)
	return nil
}

// checkSequencing enforces strict overlay ordering: at most one overlay open
// at a time, and arbitration supersedes an open mediation by closing it.
func (s *Service) checkSequencing(ctx context.Context, trade *domain.Trade) error {
	if !trade.DisputeState.IsOpen() {
		return nil
	}
	mediationOpen := trade.DisputeState == domain.DisputeStateMediationRequested ||
		trade.DisputeState == domain.DisputeStateMediationStartedByPeer
	if s.info.Type == domain.SupportTypeArbitration && mediationOpen {
		return s.repoManager.TradeRepository().UpdateTrade(
			ctx, trade.Id,
			func(t *domain.Trade) (*domain.Trade, error) {
				t.DisputeState = domain.DisputeStateMediationClosed
				return t, nil
			},
		)
	}
	return domain.ErrDisputeAlreadyOpen
}

func (s *Service) findDispute(
	ctx context.Context, tradeId string,
) (*domain.Dispute, error) {
	disputes, err := s.repoManager.DisputeRepository().GetDisputesByTradeId(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	for _, d := range disputes {
		if d.SupportType == s.info.Type {
			return d, nil
		}
	}
	return nil, domain.ErrDisputeNotFound
}

func (s *Service) loadResult(
	ctx context.Context, tradeId string,
) (*domain.Trade, *domain.DisputeResult, error) {
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
	if err != nil {
		return nil, nil, err
	}
	dispute, err := s.findDispute(ctx, tradeId)
	if err != nil {
		return nil, nil, err
	}
	if dispute.Result == nil {
		return nil, nil, ErrNoDisputeResult
	}
	return trade, dispute.Result, nil
}

func (s *Service) finalizePayout(
	ctx context.Context, trade *domain.Trade, result domain.DisputeResult,
	wc ports.WalletClient, partialHex string,
) error {
	signedHex, _, err := wc.SignMultisigTx(ctx, partialHex)
	if err != nil {
		return fmt.Errorf("signing dispute payout: %w", err)
	}
	txIds, err := wc.SubmitMultisigTx(ctx, signedHex)
	if err != nil {
		return fmt.Errorf("broadcasting dispute payout: %w", err)
	}
	if len(txIds) > 0 {
		result.PayoutTxId = txIds[0]
	}
	result.PayoutTxHex = signedHex

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, trade.Id,
		func(t *domain.Trade) (*domain.Trade, error) {
			t.CloseByDispute(s.info.ClosedState, result)
			t.PayoutTxHex = signedHex
			return t, nil
		},
	); err != nil {
		return err
	}
	if err := s.repoManager.DisputeRepository().UpdateDispute(
		ctx, trade.Id, s.openerRoleOf(ctx, trade.Id),
		func(d *domain.Dispute) (*domain.Dispute, error) {
			d.Result = &result
			d.PayoutTxId = result.PayoutTxId
			return d, nil
		},
	); err != nil {
		log.WithError(err).Warnf("recording payout on dispute of trade %s", trade.Id)
	}
	if err := s.repoManager.TradeRepository().MoveToClosed(ctx, trade.Id); err != nil {
		log.WithError(err).Warnf("retiring disputed trade %s", trade.Id)
	}

	msg := domain.PayoutTxFinalizedMessage{
		MessageInfo: domain.MessageInfo{TradeId: trade.Id, Uid: uuid.New().String()},
		PayoutTxHex: signedHex,
		PayoutTxId:  result.PayoutTxId,
	}
	if _, err := s.transport.Deliver(ctx, peerAddress(trade), msg); err != nil {
		log.WithError(err).Warnf("sending finalized dispute payout of trade %s", trade.Id)
	}
	s.publishDisputeState(trade.Id, s.info.ClosedState)
	return nil
}

func (s *Service) openerRoleOf(ctx context.Context, tradeId string) domain.TradeRole {
	if d, err := s.findDispute(ctx, tradeId); err == nil {
		return d.OpenerRole
	}
	return domain.RoleMaker
}

func (s *Service) escrowWallet(
	ctx context.Context, tradeId string,
) (ports.WalletClient, error) {
	if wc, ok := s.wallets.GetEscrowWallet(tradeId); ok {
		return wc, nil
	}
	wc, found, err := s.wallets.OpenEscrowWallet(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no escrow wallet for trade %s", tradeId)
	}
	return wc, nil
}

func (s *Service) ack(
	ctx context.Context, to, tradeId, ackedUid string, ackedType domain.MessageType,
) {
	msg := domain.AckMessage{
		MessageInfo: domain.MessageInfo{TradeId: tradeId, Uid: uuid.New().String()},
		AckedUid:    ackedUid,
		AckedType:   ackedType,
		Success:     true,
	}
	if _, err := s.transport.Deliver(ctx, to, msg); err != nil {
		log.WithError(err).Debugf("acking %s for trade %s", ackedType, tradeId)
	}
}

func (s *Service) publishDisputeState(tradeId string, state domain.DisputeState) {
	s.pubsub.Publish(ports.Event{
		Type:    ports.EventDisputeStateChanged,
		TradeId: tradeId,
		Payload: state,
	})
}

func agentAddress(t *domain.Trade) string {
	if t.ArbitratorAddress != "" {
		return t.ArbitratorAddress
	}
	return peerAddress(t)
}

func peerAddress(t *domain.Trade) string {
	if t.Role == domain.RoleMaker {
		return t.TakerAddress
	}
	return t.MakerAddress
}
