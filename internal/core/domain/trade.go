package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Contract holds the terms negotiated between maker and taker. Its canonical
// JSON serialization is what both parties sign.
type Contract struct {
	TradeId          string `json:"trade_id"`
	Amount           uint64 `json:"amount"`
	Price            uint64 `json:"price"`
	PaymentMethodId  string `json:"payment_method_id"`
	PaymentAccountId string `json:"payment_account_id"`
	MakerFee         uint64 `json:"maker_fee"`
	TakerFee         uint64 `json:"taker_fee"`
	MakerDepositPct  uint32 `json:"maker_deposit_pct"`
	TakerDepositPct  uint32 `json:"taker_deposit_pct"`
	BuyerIsMaker     bool   `json:"buyer_is_maker"`
	MakerPubKey      string `json:"maker_pub_key"`
	TakerPubKey      string `json:"taker_pub_key"`
	ArbitratorPubKey string `json:"arbitrator_pub_key"`
}

// Json returns the canonical serialization of the contract.
func (c Contract) Json() ([]byte, error) {
	return json.Marshal(c)
}

// Hash returns the hex-encoded sha256 of the canonical serialization.
func (c Contract) Hash() (string, error) {
	buf, err := c.Json()
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(buf)
	return hex.EncodeToString(h[:]), nil
}

// PubKeyRing collects the network-level public keys of one party.
type PubKeyRing struct {
	SignaturePubKey  string
	EncryptionPubKey string
}

// ProcessState collects the mutable bookkeeping that does not belong to the
// protocol phase itself: payout split amounts decided by a dispute result and
// acknowledgements of mailbox messages.
type ProcessState struct {
	BuyerPayoutAmount  decimal.Decimal
	SellerPayoutAmount decimal.Decimal
	PaymentSentAcked   bool
	PaymentRcvdAcked   bool
}

// Trade is the aggregate driven by the trade protocol engine and, out of
// band, by the dispute overlay engine.
type Trade struct {
	Id           string
	Role         TradeRole
	State        TradeState
	DisputeState DisputeState
	PayoutState  PayoutState

	MakerAddress      string
	TakerAddress      string
	ArbitratorAddress string
	MakerPubKeyRing   PubKeyRing
	TakerPubKeyRing   PubKeyRing

	Contract       *Contract
	ContractAsJson string
	ContractHash   string
	MakerSignature string
	TakerSignature string

	PreparedMultisigHex  string
	PeerPreparedHex      string
	MadeMultisigHex      string
	ExchangedMultisigHex string
	MultisigAddress      string

	MakerDepositTxId string
	TakerDepositTxId string

	// BuyerPayoutAddress is where the escrow pays the buyer out; announced
	// by the buyer together with the payment-sent notice.
	BuyerPayoutAddress string
	// CounterCurrencyTxId and PaymentProof reference the buyer's
	// counter-currency payment, when the payment method produces one.
	CounterCurrencyTxId string
	PaymentProof        string
	PayoutTxId          string
	PayoutTxHex         string
	PayoutTxKey         string

	Process ProcessState

	ProcessedMsgUids []string

	OpenedAt int64
	ClosedAt int64
}

// NewTrade returns a trade in Preparation state for the given id and role.
func NewTrade(id string, role TradeRole) *Trade {
	return &Trade{
		Id:       id,
		Role:     role,
		State:    TradeStatePreparation,
		OpenedAt: time.Now().Unix(),
	}
}

// HasProcessedMessage reports whether a message uid was already applied.
func (t *Trade) HasProcessedMessage(uid string) bool {
	for _, u := range t.ProcessedMsgUids {
		if u == uid {
			return true
		}
	}
	return false
}

// MarkMessageProcessed records a message uid as applied. Recording the same
// uid twice is a no-op.
func (t *Trade) MarkMessageProcessed(uid string) {
	if t.HasProcessedMessage(uid) {
		return
	}
	t.ProcessedMsgUids = append(t.ProcessedMsgUids, uid)
}

// advance moves the trade to the target state, honoring the forward-only
// ordering and the documented retry edges. Moving to the current state is
// treated as already done.
func (t *Trade) advance(to TradeState) (bool, error) {
	if t.State == to {
		return true, nil
	}
	if !t.State.CanAdvanceTo(to) {
		return false, ErrIllegalStateTransition
	}
	t.State = to
	return true, nil
}

// PrepareMultisig records the local prepared multisig blob.
func (t *Trade) PrepareMultisig(preparedHex string) (bool, error) {
	if t.State >= TradeStateMultisigPrepared {
		return true, nil
	}
	t.PreparedMultisigHex = preparedHex
	return t.advance(TradeStateMultisigPrepared)
}

// MakeMultisig records the made multisig blob produced from the peers'
// prepared blobs.
func (t *Trade) MakeMultisig(peerPreparedHex, madeHex string) (bool, error) {
	if t.State >= TradeStateMultisigMade {
		return true, nil
	}
	if t.State != TradeStateMultisigPrepared {
		return false, ErrIllegalStateTransition
	}
	t.PeerPreparedHex = peerPreparedHex
	t.MadeMultisigHex = madeHex
	return t.advance(TradeStateMultisigMade)
}

// ExchangeMultisig records the exchanged multisig blob of the final key
// round.
func (t *Trade) ExchangeMultisig(exchangedHex string) (bool, error) {
	if t.State >= TradeStateMultisigExchanged {
		return true, nil
	}
	if t.State != TradeStateMultisigMade {
		return false, ErrIllegalStateTransition
	}
	t.ExchangedMultisigHex = exchangedHex
	return t.advance(TradeStateMultisigExchanged)
}

// CompleteMultisig records the final escrow address once the key exchange
// rounds converged.
func (t *Trade) CompleteMultisig(multisigAddress string) (bool, error) {
	if t.State >= TradeStateMultisigCompleted {
		return true, nil
	}
	if t.State != TradeStateMultisigExchanged {
		return false, ErrIllegalStateTransition
	}
	t.MultisigAddress = multisigAddress
	return t.advance(TradeStateMultisigCompleted)
}

// RequestContractSignature attaches the negotiated contract and moves the
// trade to the signing phase.
func (t *Trade) RequestContractSignature(contract Contract) (bool, error) {
	if t.State >= TradeStateContractSignatureRequested {
		return true, nil
	}
	if t.State != TradeStateMultisigCompleted {
		return false, ErrIllegalStateTransition
	}
	buf, err := contract.Json()
	if err != nil {
		return false, err
	}
	hash, err := contract.Hash()
	if err != nil {
		return false, err
	}
	t.Contract = &contract
	t.ContractAsJson = string(buf)
	t.ContractHash = hash
	return t.advance(TradeStateContractSignatureRequested)
}

// SignContract records both parties' signatures over the contract hash.
func (t *Trade) SignContract(makerSig, takerSig string) (bool, error) {
	if t.State >= TradeStateContractSigned {
		return true, nil
	}
	if t.State != TradeStateContractSignatureRequested {
		return false, ErrIllegalStateTransition
	}
	t.MakerSignature = makerSig
	t.TakerSignature = takerSig
	return t.advance(TradeStateContractSigned)
}

// SetOwnSignature records the local party's contract signature before the
// peer's is known.
func (t *Trade) SetOwnSignature(role TradeRole, sig string) {
	if role == RoleMaker {
		t.MakerSignature = sig
		return
	}
	t.TakerSignature = sig
}

// PublishDeposit records that the local deposit transaction was handed to
// the wallet for publishing.
func (t *Trade) PublishDeposit(txId string) (bool, error) {
	if t.State >= TradeStateDepositTxPublishRequested {
		return true, nil
	}
	if t.State != TradeStateContractSigned {
		return false, ErrIllegalStateTransition
	}
	t.setDepositTxId(t.Role, txId)
	if ok, err := t.advance(TradeStateDepositTxPublishRequested); !ok {
		return ok, err
	}
	if t.MakerDepositTxId != "" && t.TakerDepositTxId != "" {
		return t.advance(TradeStateDepositTxsSeenInNetwork)
	}
	return true, nil
}

// SeeDeposits records the peer deposit transaction id. Both deposits count
// as seen in the network once both txids are known; the peer's announcement
// may arrive before the local deposit was published.
func (t *Trade) SeeDeposits(peerRole TradeRole, peerTxId string) (bool, error) {
	if t.State >= TradeStateDepositTxsSeenInNetwork {
		return true, nil
	}
	if t.State < TradeStateContractSigned {
		return false, ErrIllegalStateTransition
	}
	t.setDepositTxId(peerRole, peerTxId)
	if t.MakerDepositTxId != "" && t.TakerDepositTxId != "" &&
		t.State == TradeStateDepositTxPublishRequested {
		return t.advance(TradeStateDepositTxsSeenInNetwork)
	}
	return true, nil
}

// ConfirmDeposits marks both deposit transactions confirmed and refreshes
// the multisig state exported after confirmation.
func (t *Trade) ConfirmDeposits(updatedMultisigHex string) (bool, error) {
	if t.State >= TradeStateDepositTxsConfirmed {
		return true, nil
	}
	if t.State != TradeStateDepositTxsSeenInNetwork {
		return false, ErrIllegalStateTransition
	}
	if updatedMultisigHex != "" {
		t.ExchangedMultisigHex = updatedMultisigHex
	}
	return t.advance(TradeStateDepositTxsConfirmed)
}

// UnlockDeposits marks both deposit outputs spendable.
func (t *Trade) UnlockDeposits() (bool, error) {
	if t.State >= TradeStateDepositTxsUnlocked {
		return true, nil
	}
	if t.State != TradeStateDepositTxsConfirmed {
		return false, ErrIllegalStateTransition
	}
	return t.advance(TradeStateDepositTxsUnlocked)
}

// ConfirmPaymentSent is the buyer acknowledging in the UI that the
// counter-currency payment was started.
func (t *Trade) ConfirmPaymentSent() (bool, error) {
	if t.State >= TradeStatePaymentSentConfirmedInUI {
		return true, nil
	}
	if t.State != TradeStateDepositTxsUnlocked {
		return false, ErrIllegalStateTransition
	}
	return t.advance(TradeStatePaymentSentConfirmedInUI)
}

// SetPaymentSentMsgState records the outcome of sending the payment-sent
// message: sent, stored in the peer mailbox, or failed (retry edge).
func (t *Trade) SetPaymentSentMsgState(to TradeState) (bool, error) {
	switch to {
	case TradeStatePaymentSentMsgSent, TradeStatePaymentSentMsgInMailbox,
		TradeStatePaymentSentMsgSendFailed:
		return t.advance(to)
	}
	return false, ErrIllegalStateTransition
}

// ReceivePaymentSentMsg is the seller observing the buyer's payment-sent
// message.
func (t *Trade) ReceivePaymentSentMsg(updatedMultisigHex, payoutAddress string) (bool, error) {
	if t.State >= TradeStatePaymentSentMsgReceived {
		return true, nil
	}
	if t.State < TradeStateDepositTxsUnlocked {
		return false, ErrIllegalStateTransition
	}
	if updatedMultisigHex != "" {
		t.ExchangedMultisigHex = updatedMultisigHex
	}
	if payoutAddress != "" {
		t.BuyerPayoutAddress = payoutAddress
	}
	return t.advance(TradeStatePaymentSentMsgReceived)
}

// ConfirmPaymentReceived is the seller acknowledging in the UI that the
// counter-currency payment arrived.
func (t *Trade) ConfirmPaymentReceived() (bool, error) {
	if t.State >= TradeStatePaymentReceivedConfirmedInUI {
		return true, nil
	}
	if t.State != TradeStatePaymentSentMsgReceived {
		return false, ErrIllegalStateTransition
	}
	return t.advance(TradeStatePaymentReceivedConfirmedInUI)
}

// SetPaymentReceivedMsgState records the outcome of sending the
// payment-received message.
func (t *Trade) SetPaymentReceivedMsgState(to TradeState) (bool, error) {
	switch to {
	case TradeStatePaymentReceivedMsgSent, TradeStatePaymentReceivedMsgInMailbox,
		TradeStatePaymentReceivedMsgSendFailed:
		return t.advance(to)
	}
	return false, ErrIllegalStateTransition
}

// ReceivePaymentReceivedMsg is the buyer observing the seller's
// payment-received message carrying the partially signed payout.
func (t *Trade) ReceivePaymentReceivedMsg(signedPayoutHex string) (bool, error) {
	if t.State >= TradeStatePaymentReceivedMsgReceived {
		return true, nil
	}
	if t.State < TradeStatePaymentSentConfirmedInUI {
		return false, ErrIllegalStateTransition
	}
	t.PayoutTxHex = signedPayoutHex
	t.PayoutState = PayoutStateSigned
	return t.advance(TradeStatePaymentReceivedMsgReceived)
}

// Complete marks the trade finished once the payout transaction is
// published. Completing while a dispute overlay is unresolved is illegal.
func (t *Trade) Complete(payoutTxId string) (bool, error) {
	if t.State == TradeStateCompleted {
		return true, nil
	}
	if t.DisputeState.IsOpen() {
		return false, ErrPayoutWhileDisputeOpen
	}
	t.PayoutTxId = payoutTxId
	t.PayoutState = PayoutStatePublished
	t.ClosedAt = time.Now().Unix()
	return t.advance(TradeStateCompleted)
}

// CloseByDispute forces the trade into the closed payout path decided by a
// dispute result, bypassing the normal forward ordering.
func (t *Trade) CloseByDispute(closedState DisputeState, result DisputeResult) {
	t.DisputeState = closedState
	t.Process.BuyerPayoutAmount = result.BuyerPayoutAmount
	t.Process.SellerPayoutAmount = result.SellerPayoutAmount
	if result.PayoutTxId != "" {
		t.PayoutTxId = result.PayoutTxId
		t.PayoutState = PayoutStatePublished
	}
}

// DepositTxIdForRole returns the deposit transaction id recorded for the
// given role, empty for the arbitrator.
func (t *Trade) DepositTxIdForRole(role TradeRole) string {
	switch role {
	case RoleMaker:
		return t.MakerDepositTxId
	case RoleTaker:
		return t.TakerDepositTxId
	}
	return ""
}

func (t *Trade) setDepositTxId(role TradeRole, txId string) {
	switch role {
	case RoleMaker:
		t.MakerDepositTxId = txId
	case RoleTaker:
		t.TakerDepositTxId = txId
	}
}

// IsBuyer reports whether the local role is the fiat buyer.
func (t *Trade) IsBuyer() bool {
	if t.Contract == nil {
		return false
	}
	if t.Contract.BuyerIsMaker {
		return t.Role == RoleMaker
	}
	return t.Role == RoleTaker
}

// IsSeller reports whether the local role is the fiat seller.
func (t *Trade) IsSeller() bool {
	if t.Contract == nil {
		return false
	}
	return !t.IsBuyer() && t.Role != RoleArbitrator
}

// IsCompleted returns whether the trade reached its terminal state.
func (t *Trade) IsCompleted() bool {
	return t.State == TradeStateCompleted
}

// IsDepositConfirmed returns whether both deposits confirmed on chain.
func (t *Trade) IsDepositConfirmed() bool {
	return t.State >= TradeStateDepositTxsConfirmed
}
