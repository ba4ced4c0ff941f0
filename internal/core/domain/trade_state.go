package domain

// TradeState enumerates the phases of the trade protocol. States only ever
// advance forward in this ordering, with the documented exception of the
// send-failed retry edges.
type TradeState int

const (
	TradeStatePreparation TradeState = iota
	TradeStateMultisigPrepared
	TradeStateMultisigMade
	TradeStateMultisigExchanged
	TradeStateMultisigCompleted
	TradeStateContractSignatureRequested
	TradeStateContractSigned
	TradeStateDepositTxPublishRequested
	TradeStateDepositTxsSeenInNetwork
	TradeStateDepositTxsConfirmed
	TradeStateDepositTxsUnlocked
	TradeStatePaymentSentConfirmedInUI
	TradeStatePaymentSentMsgSendFailed
	TradeStatePaymentSentMsgInMailbox
	TradeStatePaymentSentMsgSent
	TradeStatePaymentSentMsgReceived
	TradeStatePaymentReceivedConfirmedInUI
	TradeStatePaymentReceivedMsgSendFailed
	TradeStatePaymentReceivedMsgInMailbox
	TradeStatePaymentReceivedMsgSent
	TradeStatePaymentReceivedMsgReceived
	TradeStateCompleted
)

var tradeStateNames = map[TradeState]string{
	TradeStatePreparation:                  "PREPARATION",
	TradeStateMultisigPrepared:             "MULTISIG_PREPARED",
	TradeStateMultisigMade:                 "MULTISIG_MADE",
	TradeStateMultisigExchanged:            "MULTISIG_EXCHANGED",
	TradeStateMultisigCompleted:            "MULTISIG_COMPLETED",
	TradeStateContractSignatureRequested:   "CONTRACT_SIGNATURE_REQUESTED",
	TradeStateContractSigned:               "CONTRACT_SIGNED",
	TradeStateDepositTxPublishRequested:    "DEPOSIT_TX_PUBLISH_REQUESTED",
	TradeStateDepositTxsSeenInNetwork:      "DEPOSIT_TXS_SEEN_IN_NETWORK",
	TradeStateDepositTxsConfirmed:          "DEPOSIT_TXS_CONFIRMED",
	TradeStateDepositTxsUnlocked:           "DEPOSIT_TXS_UNLOCKED",
	TradeStatePaymentSentConfirmedInUI:     "PAYMENT_SENT_CONFIRMED_IN_UI",
	TradeStatePaymentSentMsgSendFailed:     "PAYMENT_SENT_MSG_SEND_FAILED",
	TradeStatePaymentSentMsgInMailbox:      "PAYMENT_SENT_MSG_IN_MAILBOX",
	TradeStatePaymentSentMsgSent:           "PAYMENT_SENT_MSG_SENT",
	TradeStatePaymentSentMsgReceived:       "PAYMENT_SENT_MSG_RECEIVED",
	TradeStatePaymentReceivedConfirmedInUI: "PAYMENT_RECEIVED_CONFIRMED_IN_UI",
	TradeStatePaymentReceivedMsgSendFailed: "PAYMENT_RECEIVED_MSG_SEND_FAILED",
	TradeStatePaymentReceivedMsgInMailbox:  "PAYMENT_RECEIVED_MSG_IN_MAILBOX",
	TradeStatePaymentReceivedMsgSent:       "PAYMENT_RECEIVED_MSG_SENT",
	TradeStatePaymentReceivedMsgReceived:   "PAYMENT_RECEIVED_MSG_RECEIVED",
	TradeStateCompleted:                    "TRADE_COMPLETED",
}

func (s TradeState) String() string {
	if name, ok := tradeStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// retryEdges are the only permitted backward transitions: a party whose
// message send failed steps back so the send can be retried.
var retryEdges = map[TradeState]TradeState{
	TradeStatePaymentSentMsgSendFailed:     TradeStatePaymentSentConfirmedInUI,
	TradeStatePaymentReceivedMsgSendFailed: TradeStatePaymentReceivedConfirmedInUI,
}

// CanAdvanceTo reports whether a trade in state s may move to state to.
func (s TradeState) CanAdvanceTo(to TradeState) bool {
	if to > s {
		return true
	}
	back, ok := retryEdges[s]
	return ok && to == back
}

// DisputeState is the dispute overlay axis, orthogonal to TradeState.
type DisputeState int

const (
	DisputeStateNone DisputeState = iota
	DisputeStateMediationRequested
	DisputeStateMediationStartedByPeer
	DisputeStateMediationClosed
	DisputeStateArbitrationRequested
	DisputeStateArbitrationStartedByPeer
	DisputeStateArbitrationClosed
)

var disputeStateNames = map[DisputeState]string{
	DisputeStateNone:                     "NO_DISPUTE",
	DisputeStateMediationRequested:       "MEDIATION_REQUESTED",
	DisputeStateMediationStartedByPeer:   "MEDIATION_STARTED_BY_PEER",
	DisputeStateMediationClosed:          "MEDIATION_CLOSED",
	DisputeStateArbitrationRequested:     "ARBITRATION_REQUESTED",
	DisputeStateArbitrationStartedByPeer: "ARBITRATION_STARTED_BY_PEER",
	DisputeStateArbitrationClosed:        "ARBITRATION_CLOSED",
}

func (s DisputeState) String() string {
	if name, ok := disputeStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsOpen returns whether a dispute overlay is currently unresolved.
func (s DisputeState) IsOpen() bool {
	return s == DisputeStateMediationRequested ||
		s == DisputeStateMediationStartedByPeer ||
		s == DisputeStateArbitrationRequested ||
		s == DisputeStateArbitrationStartedByPeer
}

// PayoutState tracks the escrow payout transaction lifecycle.
type PayoutState int

const (
	PayoutStateNone PayoutState = iota
	PayoutStateSigned
	PayoutStatePublished
	PayoutStateConfirmed
	PayoutStateUnlocked
)

// TradeRole identifies the local party's role in a trade.
type TradeRole int

const (
	RoleMaker TradeRole = iota
	RoleTaker
	RoleArbitrator
)

func (r TradeRole) String() string {
	switch r {
	case RoleMaker:
		return "maker"
	case RoleTaker:
		return "taker"
	case RoleArbitrator:
		return "arbitrator"
	}
	return "unknown"
}
