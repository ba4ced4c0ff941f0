package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SupportType classifies the dispute-resolution track.
type SupportType int

const (
	SupportTypeMediation SupportType = iota
	SupportTypeArbitration
)

func (t SupportType) String() string {
	if t == SupportTypeArbitration {
		return "arbitration"
	}
	return "mediation"
}

// ChatMessage is a single message of the dispute conversation, deduplicated
// by uid.
type ChatMessage struct {
	Uid       string
	TradeId   string
	Sender    TradeRole
	Text      string
	Timestamp int64
}

// DisputeResult is the payout decision of the mediator or arbitrator.
type DisputeResult struct {
	TradeId            string
	SupportType        SupportType
	Winner             TradeRole
	Reason             string
	BuyerPayoutAmount  decimal.Decimal
	SellerPayoutAmount decimal.Decimal
	PayoutTxId         string
	PayoutTxHex        string
	AgentSignature     string
}

// Dispute is identified by trade id plus opener role: both sides of a trade
// may open their own ticket.
type Dispute struct {
	TradeId            string
	OpenerRole         TradeRole
	SupportType        SupportType
	IsSupportTicket    bool
	OpenedAt           int64
	ContractAsJson     string
	ContractHash       string
	DepositTxId        string
	PayoutTxId         string
	MakerPubKeyRing    PubKeyRing
	TakerPubKeyRing    PubKeyRing
	PaymentAccounts    map[TradeRole][]byte
	ChatMessages       []ChatMessage
	IsClosed           bool
	Result             *DisputeResult
}

// NewDispute opens a dispute for the given trade. The opener's deposit
// transaction id is a hard precondition.
func NewDispute(
	trade *Trade, opener TradeRole, supportType SupportType, isSupportTicket bool,
) (*Dispute, error) {
	depositTxId := trade.DepositTxIdForRole(opener)
	if depositTxId == "" {
		return nil, ErrMissingDepositTx
	}
	return &Dispute{
		TradeId:         trade.Id,
		OpenerRole:      opener,
		SupportType:     supportType,
		IsSupportTicket: isSupportTicket,
		OpenedAt:        time.Now().Unix(),
		ContractAsJson:  trade.ContractAsJson,
		ContractHash:    trade.ContractHash,
		DepositTxId:     depositTxId,
		MakerPubKeyRing: trade.MakerPubKeyRing,
		TakerPubKeyRing: trade.TakerPubKeyRing,
	}, nil
}

// AddChatMessage appends a chat message unless its uid was already recorded.
// It returns whether the message was added.
func (d *Dispute) AddChatMessage(msg ChatMessage) bool {
	for _, m := range d.ChatMessages {
		if m.Uid == msg.Uid {
			return false
		}
	}
	d.ChatMessages = append(d.ChatMessages, msg)
	return true
}

// Close marks the dispute resolved with the given result.
func (d *Dispute) Close(result DisputeResult) (bool, error) {
	if d.IsClosed {
		return true, nil
	}
	d.IsClosed = true
	d.Result = &result
	return true, nil
}

// DisputeList is a collection of disputes of a single declared support type.
// Filtering on load is mandatory: entries of a different support type are
// dropped, never surfaced.
type DisputeList struct {
	SupportType SupportType
	Disputes    []*Dispute
}

// NewDisputeList builds a list of the declared type from raw entries,
// discarding any whose support type differs.
func NewDisputeList(supportType SupportType, entries []*Dispute) *DisputeList {
	list := &DisputeList{SupportType: supportType}
	for _, d := range entries {
		if d.SupportType != supportType {
			continue
		}
		list.Disputes = append(list.Disputes, d)
	}
	return list
}

// Add appends a dispute, rejecting entries of a different support type.
func (l *DisputeList) Add(d *Dispute) error {
	if d.SupportType != l.SupportType {
		return ErrDisputeSupportTypeMismatch
	}
	l.Disputes = append(l.Disputes, d)
	return nil
}
