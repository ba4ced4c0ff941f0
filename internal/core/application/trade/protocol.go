package trade

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

// processMessage runs on the per-trade queue. Protocol errors (unknown
// trade, duplicate uid, message illegal for the current state) are logged
// and dropped, never fatal.
func (s *Service) processMessage(
	ctx context.Context, from string, msg domain.TradeMessage,
) {
	var err error
	switch m := msg.(type) {
	case domain.InitTradeRequest:
		err = s.onInitTradeRequest(ctx, from, m)
	case domain.InitMultisigRequest:
		err = s.onInitMultisigRequest(ctx, from, m)
	case domain.SignContractRequest:
		err = s.onSignContractRequest(ctx, from, m)
	case domain.SignContractResponse:
		err = s.onSignContractResponse(ctx, from, m)
	case domain.DepositTxMessage:
		err = s.onDepositTxMessage(ctx, from, m)
	case domain.DepositsConfirmedMessage:
		err = s.onDepositsConfirmedMessage(ctx, from, m)
	case domain.PaymentSentMessage:
		err = s.onPaymentSentMessage(ctx, from, m)
	case domain.PaymentReceivedMessage:
		err = s.onPaymentReceivedMessage(ctx, from, m)
	case domain.PayoutTxFinalizedMessage:
		err = s.onPayoutTxFinalizedMessage(ctx, from, m)
	case domain.AckMessage:
		err = s.onAckMessage(ctx, m)
	case domain.DisputeOpenedMessage:
		if s.disputeHandler != nil {
			s.disputeHandler.OnDisputeOpened(from, m)
		}
	case domain.DisputeClosedMessage:
		if s.disputeHandler != nil {
			s.disputeHandler.OnDisputeClosed(from, m)
		}
	case domain.MediatedPayoutTxSignatureMessage:
		if s.disputeHandler != nil {
			s.disputeHandler.OnMediatedPayoutTxSignature(from, m)
		}
	default:
		log.Warnf("dropping unhandled message type %s from %s", msg.Type(), from)
	}

	if err != nil {
		log.WithError(err).Warnf(
			"dropping %s for trade %s from %s",
			msg.Type(), msg.GetTradeId(), from,
		)
	}
}

// dedupOrLoad loads the trade and rejects already processed uids.
func (s *Service) dedupOrLoad(
	ctx context.Context, tradeId, uid string,
) (*domain.Trade, error) {
	trade, err := s.repoManager.TradeRepository().GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if trade.HasProcessedMessage(uid) {
		return nil, domain.ErrMessageAlreadyProcessed
	}
	return trade, nil
}

// onInitTradeRequest is the maker accepting a taker's opening request: it
// creates the trade, prepares the multisig and replies with the first key
// exchange round.
func (s *Service) onInitTradeRequest(
	ctx context.Context, from string, m domain.InitTradeRequest,
) error {
	repo := s.repoManager.TradeRepository()
	trade, err := repo.GetOrCreateTrade(ctx, m.TradeId, domain.RoleMaker)
	if err != nil {
		return err
	}
	if trade.HasProcessedMessage(m.Uid) {
		return domain.ErrMessageAlreadyProcessed
	}
	if trade.State != domain.TradeStatePreparation {
		return domain.ErrIllegalMessageForState
	}

	wc, err := s.wallets.CreateEscrowWallet(ctx, m.TradeId)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEscrowWalletUnavailable, err)
	}
	preparedHex, err := wc.PrepareMultisig(ctx)
	if err != nil {
		return fmt.Errorf("preparing multisig: %w", err)
	}

	takerAddress := m.TakerAddress
	if takerAddress == "" {
		takerAddress = from
	}
	// the contract must be built from the taker's terms verbatim, direction
	// and deposit pct included, or the contract hashes diverge at signing
	contract := domain.Contract{
		TradeId:          m.TradeId,
		Amount:           m.Amount,
		Price:            m.Price,
		PaymentMethodId:  m.PaymentMethodId,
		PaymentAccountId: m.PaymentAccountId,
		TakerFee:         m.Fee,
		MakerDepositPct:  m.SecurityDepositPct,
		TakerDepositPct:  m.SecurityDepositPct,
		BuyerIsMaker:     m.BuyerIsMaker,
		MakerPubKey:      s.keyRing.PubKeyHex(),
		TakerPubKey:      m.TakerPubKeyRing.SignaturePubKey,
	}
	if err := repo.UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.PrepareMultisig(preparedHex); err != nil {
				return nil, err
			}
			t.TakerAddress = takerAddress
			t.TakerPubKeyRing = m.TakerPubKeyRing
			t.Contract = &contract
			t.MarkMessageProcessed(m.Uid)
			return t, nil
		},
	); err != nil {
		return err
	}

	reply := domain.InitMultisigRequest{
		MessageInfo:         domain.MessageInfo{TradeId: m.TradeId, Uid: uuid.New().String()},
		PreparedMultisigHex: preparedHex,
	}
	if _, err := s.transport.Deliver(ctx, takerAddress, reply); err != nil {
		return fmt.Errorf("sending multisig round: %w", err)
	}
	_, err = s.reloadAndPublish(ctx, m.TradeId)
	return err
}

// onInitMultisigRequest advances the 2-of-3 key exchange as far as the
// received artifacts allow. Message fields are cumulative: a later round
// still carries the earlier blobs, so a party that fell behind can catch up
// from a single message.
func (s *Service) onInitMultisigRequest(
	ctx context.Context, from string, m domain.InitMultisigRequest,
) error {
	trade, err := s.dedupOrLoad(ctx, m.TradeId, m.Uid)
	if err != nil {
		return err
	}
	wc, err := s.escrowWallet(ctx, m.TradeId)
	if err != nil {
		return err
	}

	var (
		madeHex, exchangedHex, multisigAddress string
		completed                              bool
		state                                  = trade.State
	)
	if state == domain.TradeStateMultisigPrepared && m.PreparedMultisigHex != "" {
		madeHex, _, err = wc.MakeMultisig(
			ctx, []string{m.PreparedMultisigHex}, multisigThreshold, s.walletPassword,
		)
		if err != nil {
			return fmt.Errorf("making multisig: %w", err)
		}
		state = domain.TradeStateMultisigMade
	}
	if state == domain.TradeStateMultisigMade && m.MadeMultisigHex != "" {
		exchangedHex, _, err = wc.ExchangeMultisigKeys(
			ctx, []string{m.MadeMultisigHex}, s.walletPassword,
		)
		if err != nil {
			return fmt.Errorf("exchanging multisig keys: %w", err)
		}
		state = domain.TradeStateMultisigExchanged
	}
	if state == domain.TradeStateMultisigExchanged && m.ExchangedMultisigHex != "" {
		_, multisigAddress, err = wc.ExchangeMultisigKeys(
			ctx, []string{m.ExchangedMultisigHex}, s.walletPassword,
		)
		if err != nil {
			return fmt.Errorf("finalizing multisig: %w", err)
		}
		completed = true
	}
	if madeHex == "" && exchangedHex == "" && !completed {
		return domain.ErrIllegalMessageForState
	}

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if madeHex != "" {
				if _, err := t.MakeMultisig(m.PreparedMultisigHex, madeHex); err != nil {
					return nil, err
				}
			}
			if exchangedHex != "" {
				if _, err := t.ExchangeMultisig(exchangedHex); err != nil {
					return nil, err
				}
			}
			if completed {
				if _, err := t.CompleteMultisig(multisigAddress); err != nil {
					return nil, err
				}
			}
			t.MarkMessageProcessed(m.Uid)
			return t, nil
		},
	); err != nil {
		return err
	}
	trade, err = s.repoManager.TradeRepository().GetTrade(ctx, m.TradeId)
	if err != nil {
		return err
	}

	if madeHex != "" || exchangedHex != "" {
		// hand the peer our newest artifacts so it can advance its rounds
		reply := domain.InitMultisigRequest{
			MessageInfo: domain.MessageInfo{
				TradeId: m.TradeId, Uid: uuid.New().String(),
			},
			PreparedMultisigHex:  trade.PreparedMultisigHex,
			MadeMultisigHex:      trade.MadeMultisigHex,
			ExchangedMultisigHex: trade.ExchangedMultisigHex,
		}
		if err := s.deliverToPeer(ctx, trade, reply); err != nil {
			return err
		}
	} else if completed {
		// the last party to converge kicks off the signing phase
		if err := s.sendSignContractRequest(ctx, trade); err != nil {
			return err
		}
	}
	_, err = s.reloadAndPublish(ctx, m.TradeId)
	return err
}

func (s *Service) sendSignContractRequest(
	ctx context.Context, trade *domain.Trade,
) error {
	if trade.Contract == nil {
		return fmt.Errorf("no contract terms recorded for trade %s", trade.Id)
	}
	contract := *trade.Contract
	contractAsJson, err := contract.Json()
	if err != nil {
		return err
	}
	sig := s.keyRing.SignContract(string(contractAsJson))

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, trade.Id,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.RequestContractSignature(contract); err != nil {
				return nil, err
			}
			t.SetOwnSignature(t.Role, sig)
			return t, nil
		},
	); err != nil {
		return err
	}

	msg := domain.SignContractRequest{
		MessageInfo:       domain.MessageInfo{TradeId: trade.Id, Uid: uuid.New().String()},
		ContractAsJson:    string(contractAsJson),
		ContractSignature: sig,
	}
	return s.deliverToPeer(ctx, trade, msg)
}

// onSignContractRequest verifies the peer's contract signature, signs
// locally and returns the signature.
func (s *Service) onSignContractRequest(
	ctx context.Context, from string, m domain.SignContractRequest,
) error {
	trade, err := s.dedupOrLoad(ctx, m.TradeId, m.Uid)
	if err != nil {
		return err
	}
	if trade.State != domain.TradeStateMultisigCompleted {
		return domain.ErrIllegalMessageForState
	}

	var contract domain.Contract
	if err := json.Unmarshal([]byte(m.ContractAsJson), &contract); err != nil {
		return fmt.Errorf("decoding contract: %w", err)
	}
	peerPubKey := contractPubKeyForRole(contract, peerRole(trade.Role))
	if peerPubKey != "" {
		valid, err := domain.VerifyContractSignature(
			m.ContractAsJson, m.ContractSignature, peerPubKey,
		)
		if err != nil {
			return fmt.Errorf("verifying peer contract signature: %w", err)
		}
		if !valid {
			return fmt.Errorf("invalid peer contract signature for trade %s", m.TradeId)
		}
	}

	localSig := s.keyRing.SignContract(m.ContractAsJson)
	makerSig, takerSig := orderSignatures(trade.Role, localSig, m.ContractSignature)
	var hash string
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.RequestContractSignature(contract); err != nil {
				return nil, err
			}
			if _, err := t.SignContract(makerSig, takerSig); err != nil {
				return nil, err
			}
			hash = t.ContractHash
			t.MarkMessageProcessed(m.Uid)
			return t, nil
		},
	); err != nil {
		return err
	}

	reply := domain.SignContractResponse{
		MessageInfo:       domain.MessageInfo{TradeId: m.TradeId, Uid: uuid.New().String()},
		ContractHash:      hash,
		ContractSignature: localSig,
	}
	if _, err := s.transport.Deliver(ctx, from, reply); err != nil {
		return fmt.Errorf("sending contract signature: %w", err)
	}
	_, err = s.reloadAndPublish(ctx, m.TradeId)
	return err
}

// onSignContractResponse completes the signing phase on the requesting side.
func (s *Service) onSignContractResponse(
	ctx context.Context, _ string, m domain.SignContractResponse,
) error {
	trade, err := s.dedupOrLoad(ctx, m.TradeId, m.Uid)
	if err != nil {
		return err
	}
	if trade.State != domain.TradeStateContractSignatureRequested {
		return domain.ErrIllegalMessageForState
	}
	if m.ContractHash != trade.ContractHash {
		return fmt.Errorf("contract hash mismatch for trade %s", m.TradeId)
	}
	localSig := ownSignature(trade)
	makerSig, takerSig := orderSignatures(trade.Role, localSig, m.ContractSignature)

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.SignContract(makerSig, takerSig); err != nil {
				return nil, err
			}
			t.MarkMessageProcessed(m.Uid)
			return t, nil
		},
	); err != nil {
		return err
	}
	_, err = s.reloadAndPublish(ctx, m.TradeId)
	return err
}

// onDepositTxMessage records the peer's published deposit transaction.
func (s *Service) onDepositTxMessage(
	ctx context.Context, _ string, m domain.DepositTxMessage,
) error {
	if _, err := s.dedupOrLoad(ctx, m.TradeId, m.Uid); err != nil {
		return err
	}
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.SeeDeposits(m.Role, m.DepositTxId); err != nil {
				return nil, err
			}
			t.MarkMessageProcessed(m.Uid)
			return t, nil
		},
	); err != nil {
		return err
	}
	_, err := s.reloadAndPublish(ctx, m.TradeId)
	return err
}

// onDepositsConfirmedMessage imports the peer's post-confirmation multisig
// refresh and acknowledges the mailbox delivery.
func (s *Service) onDepositsConfirmedMessage(
	ctx context.Context, from string, m domain.DepositsConfirmedMessage,
) error {
	if _, err := s.dedupOrLoad(ctx, m.TradeId, m.Uid); err != nil {
		return err
	}
	if m.UpdatedMultisigHex != "" {
		wc, err := s.escrowWallet(ctx, m.TradeId)
		if err != nil {
			return err
		}
		if err := wc.ImportMultisigInfo(ctx, []string{m.UpdatedMultisigHex}); err != nil {
			return fmt.Errorf("importing multisig info: %w", err)
		}
	}
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.ConfirmDeposits(m.UpdatedMultisigHex); err != nil {
				return nil, err
			}
			t.MarkMessageProcessed(m.Uid)
			return t, nil
		},
	); err != nil {
		return err
	}
	s.ack(ctx, from, m.TradeId, m.Uid, m.Type())
	_, err := s.reloadAndPublish(ctx, m.TradeId)
	return err
}

// onPaymentSentMessage is the seller observing the buyer's payment notice.
func (s *Service) onPaymentSentMessage(
	ctx context.Context, from string, m domain.PaymentSentMessage,
) error {
	trade, err := s.dedupOrLoad(ctx, m.TradeId, m.Uid)
	if err != nil {
		return err
	}
	if !trade.IsSeller() {
		return domain.ErrIllegalMessageForState
	}
	if m.UpdatedMultisigHex != "" {
		wc, err := s.escrowWallet(ctx, m.TradeId)
		if err != nil {
			return err
		}
		if err := wc.ImportMultisigInfo(ctx, []string{m.UpdatedMultisigHex}); err != nil {
			return fmt.Errorf("importing multisig info: %w", err)
		}
	}
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.ReceivePaymentSentMsg(
				m.UpdatedMultisigHex, m.PayoutAddress,
			); err != nil {
				return nil, err
			}
			t.CounterCurrencyTxId = m.CounterCurrencyTxId
			t.PaymentProof = m.PaymentProof
			t.MarkMessageProcessed(m.Uid)
			return t, nil
		},
	); err != nil {
		return err
	}
	s.ack(ctx, from, m.TradeId, m.Uid, m.Type())
	_, err = s.reloadAndPublish(ctx, m.TradeId)
	return err
}

// onPaymentReceivedMessage is the buyer receiving the half-signed payout:
// it adds the second signature, broadcasts, completes the trade and returns
// the finalized payout to the seller.
func (s *Service) onPaymentReceivedMessage(
	ctx context.Context, _ string, m domain.PaymentReceivedMessage,
) error {
	trade, err := s.dedupOrLoad(ctx, m.TradeId, m.Uid)
	if err != nil {
		return err
	}
	if !trade.IsBuyer() {
		return domain.ErrIllegalMessageForState
	}
	wc, err := s.escrowWallet(ctx, m.TradeId)
	if err != nil {
		return err
	}
	signedHex, _, err := wc.SignMultisigTx(ctx, m.SignedPayoutTxHex)
	if err != nil {
		return fmt.Errorf("signing payout tx: %w", err)
	}
	txIds, err := wc.SubmitMultisigTx(ctx, signedHex)
	if err != nil {
		return fmt.Errorf("submitting payout tx: %w", err)
	}
	var payoutTxId string
	if len(txIds) > 0 {
		payoutTxId = txIds[0]
	}

	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.ReceivePaymentReceivedMsg(signedHex); err != nil {
				return nil, err
			}
			if _, err := t.Complete(payoutTxId); err != nil {
				return nil, err
			}
			t.MarkMessageProcessed(m.Uid)
			return t, nil
		},
	); err != nil {
		return err
	}
	if err := s.repoManager.TradeRepository().MoveToClosed(ctx, m.TradeId); err != nil {
		log.WithError(err).Warnf("retiring completed trade %s", m.TradeId)
	}

	reply := domain.PayoutTxFinalizedMessage{
		MessageInfo: domain.MessageInfo{TradeId: m.TradeId, Uid: uuid.New().String()},
		PayoutTxHex: signedHex,
		PayoutTxId:  payoutTxId,
	}
	if err := s.deliverToPeer(ctx, trade, reply); err != nil {
		return err
	}
	_, err = s.reloadAndPublish(ctx, m.TradeId)
	return err
}

// onPayoutTxFinalizedMessage completes the trade on the seller side.
func (s *Service) onPayoutTxFinalizedMessage(
	ctx context.Context, from string, m domain.PayoutTxFinalizedMessage,
) error {
	if _, err := s.dedupOrLoad(ctx, m.TradeId, m.Uid); err != nil {
		return err
	}
	if err := s.repoManager.TradeRepository().UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if _, err := t.Complete(m.PayoutTxId); err != nil {
				return nil, err
			}
			if m.PayoutTxHex != "" {
				t.PayoutTxHex = m.PayoutTxHex
			}
			t.MarkMessageProcessed(m.Uid)
			return t, nil
		},
	); err != nil {
		return err
	}
	if err := s.repoManager.TradeRepository().MoveToClosed(ctx, m.TradeId); err != nil {
		log.WithError(err).Warnf("retiring completed trade %s", m.TradeId)
	}
	s.ack(ctx, from, m.TradeId, m.Uid, m.Type())
	_, err := s.reloadAndPublish(ctx, m.TradeId)
	return err
}

// onAckMessage records mailbox delivery acknowledgments and promotes the
// corresponding in-mailbox send states.
func (s *Service) onAckMessage(ctx context.Context, m domain.AckMessage) error {
	if !m.Success {
		log.Warnf(
			"peer reported failure handling %s of trade %s: %s",
			m.AckedType, m.TradeId, m.ErrorMsg,
		)
		return nil
	}
	return s.repoManager.TradeRepository().UpdateTrade(
		ctx, m.TradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			switch m.AckedType {
			case domain.MsgTypePaymentSent:
				t.Process.PaymentSentAcked = true
				if t.State == domain.TradeStatePaymentSentMsgInMailbox {
					if _, err := t.SetPaymentSentMsgState(
						domain.TradeStatePaymentSentMsgSent,
					); err != nil {
						return nil, err
					}
				}
			case domain.MsgTypePaymentReceived:
				t.Process.PaymentRcvdAcked = true
				if t.State == domain.TradeStatePaymentReceivedMsgInMailbox {
					if _, err := t.SetPaymentReceivedMsgState(
						domain.TradeStatePaymentReceivedMsgSent,
					); err != nil {
						return nil, err
					}
				}
			}
			return t, nil
		},
	)
}

// ack acknowledges a mailbox message back to its sender. Best effort: a
// failed ack only means the sender redelivers.
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

func peerRole(role domain.TradeRole) domain.TradeRole {
	if role == domain.RoleMaker {
		return domain.RoleTaker
	}
	return domain.RoleMaker
}

func contractPubKeyForRole(c domain.Contract, role domain.TradeRole) string {
	switch role {
	case domain.RoleMaker:
		return c.MakerPubKey
	case domain.RoleTaker:
		return c.TakerPubKey
	}
	return c.ArbitratorPubKey
}

func ownSignature(t *domain.Trade) string {
	if t.Role == domain.RoleMaker {
		return t.MakerSignature
	}
	return t.TakerSignature
}

// orderSignatures maps (local, peer) signatures onto (maker, taker) order.
func orderSignatures(role domain.TradeRole, localSig, peerSig string) (string, string) {
	if role == domain.RoleMaker {
		return localSig, peerSig
	}
	return peerSig, localSig
}
