package ports

import (
	"context"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

// SendResult classifies the outcome of a delivery attempt.
type SendResult int

const (
	// SendArrived means the peer acknowledged the message.
	SendArrived SendResult = iota
	// SendStoredInMailbox means the peer was offline and the message was
	// queued with the mailbox TTL.
	SendStoredInMailbox
	// SendFailed means the message could not be delivered nor queued.
	SendFailed
)

// MessageHandler consumes an inbound protocol message from a peer.
type MessageHandler func(from string, msg domain.TradeMessage)

// Transport is the consumed P2P messaging boundary. Direct messages carry no
// retention guarantee; mailbox messages (msg.IsMailbox()) are retained for
// domain.MailboxMessageTTL and redelivered on peer reconnect.
type Transport interface {
	Deliver(ctx context.Context, to string, msg domain.TradeMessage) (SendResult, error)
	OnMessage(handler MessageHandler)
	// LocalAddress is the network address peers reach this node at.
	LocalAddress() string
}
