package domain

import "time"

// MailboxMessageTTL is how long a mailbox message is retained for an offline
// recipient before being dropped by the transport.
const MailboxMessageTTL = 15 * 24 * time.Hour

// MessageType tags the closed set of protocol message variants.
type MessageType int

const (
	MsgTypeInitTradeRequest MessageType = iota
	MsgTypeInitMultisigRequest
	MsgTypeSignContractRequest
	MsgTypeSignContractResponse
	MsgTypeDepositTx
	MsgTypeDepositsConfirmed
	MsgTypePaymentSent
	MsgTypePaymentReceived
	MsgTypePayoutTxFinalized
	MsgTypeMediatedPayoutTxSignature
	MsgTypeDisputeOpened
	MsgTypeDisputeClosed
	MsgTypeAck
)

var messageTypeNames = map[MessageType]string{
	MsgTypeInitTradeRequest:          "InitTradeRequest",
	MsgTypeInitMultisigRequest:       "InitMultisigRequest",
	MsgTypeSignContractRequest:       "SignContractRequest",
	MsgTypeSignContractResponse:      "SignContractResponse",
	MsgTypeDepositTx:                 "DepositTxMessage",
	MsgTypeDepositsConfirmed:         "DepositsConfirmedMessage",
	MsgTypePaymentSent:               "PaymentSentMessage",
	MsgTypePaymentReceived:           "PaymentReceivedMessage",
	MsgTypePayoutTxFinalized:         "PayoutTxFinalizedMessage",
	MsgTypeMediatedPayoutTxSignature: "MediatedPayoutTxSignatureMessage",
	MsgTypeDisputeOpened:             "DisputeOpenedMessage",
	MsgTypeDisputeClosed:             "DisputeClosedMessage",
	MsgTypeAck:                       "AckMessage",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// TradeMessage is the interface shared by every protocol message variant.
// Uid is the idempotency key: redelivery of the same uid must not re-apply
// effects.
type TradeMessage interface {
	GetTradeId() string
	GetUid() string
	Type() MessageType
	// IsMailbox reports whether the message must be retained for an offline
	// recipient (MailboxMessageTTL) instead of best-effort direct delivery.
	IsMailbox() bool
}

// MessageInfo carries the fields common to all variants.
type MessageInfo struct {
	TradeId string
	Uid     string
}

func (m MessageInfo) GetTradeId() string { return m.TradeId }
func (m MessageInfo) GetUid() string     { return m.Uid }

// InitTradeRequest is the taker's opening message carrying the terms to be
// accepted by the maker.
type InitTradeRequest struct {
	MessageInfo
	Amount           uint64
	Price            uint64
	Fee              uint64
	PaymentAccountId string
	PaymentMethodId  string
	ReserveTxProof   string
	// BuyerIsMaker fixes the trade direction; both parties must build their
	// contract from the same value or the contract hashes diverge.
	BuyerIsMaker       bool
	SecurityDepositPct uint32
	TakerPubKeyRing    PubKeyRing
	TakerAddress       string
}

func (InitTradeRequest) Type() MessageType { return MsgTypeInitTradeRequest }
func (InitTradeRequest) IsMailbox() bool   { return false }

// InitMultisigRequest carries one round of the multisig key exchange. Fields
// are filled progressively: prepared first, then made, then exchanged.
type InitMultisigRequest struct {
	MessageInfo
	PreparedMultisigHex  string
	MadeMultisigHex      string
	ExchangedMultisigHex string
}

func (InitMultisigRequest) Type() MessageType { return MsgTypeInitMultisigRequest }
func (InitMultisigRequest) IsMailbox() bool   { return false }

// SignContractRequest asks the peer to sign the negotiated contract.
type SignContractRequest struct {
	MessageInfo
	ContractAsJson    string
	ContractSignature string
}

func (SignContractRequest) Type() MessageType { return MsgTypeSignContractRequest }
func (SignContractRequest) IsMailbox() bool   { return false }

// SignContractResponse returns the peer's signature over the contract hash.
type SignContractResponse struct {
	MessageInfo
	ContractHash      string
	ContractSignature string
}

func (SignContractResponse) Type() MessageType { return MsgTypeSignContractResponse }
func (SignContractResponse) IsMailbox() bool   { return false }

// DepositTxMessage announces a party's published deposit transaction.
type DepositTxMessage struct {
	MessageInfo
	Role              TradeRole
	DepositTxId       string
	DepositTxHex      string
	DepositTxKey      string
	ContractSignature string
}

func (DepositTxMessage) Type() MessageType { return MsgTypeDepositTx }
func (DepositTxMessage) IsMailbox() bool   { return false }

// DepositsConfirmedMessage is exchanged after both deposits confirm and
// carries the post-confirmation multisig hex refresh.
type DepositsConfirmedMessage struct {
	MessageInfo
	UpdatedMultisigHex string
}

func (DepositsConfirmedMessage) Type() MessageType { return MsgTypeDepositsConfirmed }
func (DepositsConfirmedMessage) IsMailbox() bool   { return true }

// PaymentSentMessage is the buyer notifying the seller that the
// counter-currency payment was started.
type PaymentSentMessage struct {
	MessageInfo
	CounterCurrencyTxId string
	PaymentProof        string
	UpdatedMultisigHex  string
	PayoutAddress       string
	BuyerSignature      string
}

func (PaymentSentMessage) Type() MessageType { return MsgTypePaymentSent }
func (PaymentSentMessage) IsMailbox() bool   { return true }

// PaymentReceivedMessage is the seller acknowledging the payment and
// returning the partially signed payout transaction.
type PaymentReceivedMessage struct {
	MessageInfo
	SignedPayoutTxHex  string
	UpdatedMultisigHex string
	SellerSignature    string
}

func (PaymentReceivedMessage) Type() MessageType { return MsgTypePaymentReceived }
func (PaymentReceivedMessage) IsMailbox() bool   { return true }

// PayoutTxFinalizedMessage carries the fully signed payout transaction that
// closes the trade.
type PayoutTxFinalizedMessage struct {
	MessageInfo
	PayoutTxHex string
	PayoutTxId  string
}

func (PayoutTxFinalizedMessage) Type() MessageType { return MsgTypePayoutTxFinalized }
func (PayoutTxFinalizedMessage) IsMailbox() bool   { return true }

// MediatedPayoutTxSignatureMessage carries one party's signature over the
// payout proposed by a dispute result.
type MediatedPayoutTxSignatureMessage struct {
	MessageInfo
	PayoutTxSignature string
	SupportType       SupportType
}

func (MediatedPayoutTxSignatureMessage) Type() MessageType {
	return MsgTypeMediatedPayoutTxSignature
}
func (MediatedPayoutTxSignatureMessage) IsMailbox() bool { return true }

// DisputeOpenedMessage notifies the counterparty and the agent that a
// dispute overlay was opened.
type DisputeOpenedMessage struct {
	MessageInfo
	Dispute Dispute
}

func (DisputeOpenedMessage) Type() MessageType { return MsgTypeDisputeOpened }
func (DisputeOpenedMessage) IsMailbox() bool   { return true }

// DisputeClosedMessage carries the dispute result decided by the agent.
type DisputeClosedMessage struct {
	MessageInfo
	Result      DisputeResult
	ChatMessage *ChatMessage
}

func (DisputeClosedMessage) Type() MessageType { return MsgTypeDisputeClosed }
func (DisputeClosedMessage) IsMailbox() bool   { return true }

// AckMessage acknowledges delivery of a mailbox message.
type AckMessage struct {
	MessageInfo
	AckedUid  string
	AckedType MessageType
	Success   bool
	ErrorMsg  string
}

func (AckMessage) Type() MessageType { return MsgTypeAck }
func (AckMessage) IsMailbox() bool   { return false }
