// Package inmemory provides a process-local Transport implementation. Nodes
// register on a shared Network by address; direct messages reach online peers
// synchronously, mailbox messages are retained for offline peers and
// redelivered when they reconnect.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

// Network is the shared medium connecting in-process nodes. It stands in for
// the P2P layer in tests and single-process deployments.
type Network struct {
	mtx       sync.Mutex
	nodes     map[string]*node
	mailboxes map[string][]mailboxEntry
}

type node struct {
	network *Network
	address string

	mtx     sync.Mutex
	handler ports.MessageHandler
	online  bool
}

type mailboxEntry struct {
	from     string
	msg      domain.TradeMessage
	storedAt time.Time
}

func NewNetwork() *Network {
	return &Network{
		nodes:     make(map[string]*node),
		mailboxes: make(map[string][]mailboxEntry),
	}
}

// Join registers a node under the given address and brings it online. Any
// mailbox messages stored for the address are redelivered once a handler is
// installed.
func (n *Network) Join(address string) ports.Transport {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	nd, ok := n.nodes[address]
	if !ok {
		nd = &node{network: n, address: address}
		n.nodes[address] = nd
	}
	nd.mtx.Lock()
	nd.online = true
	nd.mtx.Unlock()
	return nd
}

// Disconnect takes a node offline. Mailbox messages sent to it are retained;
// direct messages fail.
func (n *Network) Disconnect(address string) {
	n.mtx.Lock()
	nd, ok := n.nodes[address]
	n.mtx.Unlock()
	if !ok {
		return
	}
	nd.mtx.Lock()
	nd.online = false
	nd.mtx.Unlock()
}

// Reconnect brings a node back online and flushes its mailbox.
func (n *Network) Reconnect(address string) {
	n.mtx.Lock()
	nd, ok := n.nodes[address]
	n.mtx.Unlock()
	if !ok {
		return
	}
	nd.mtx.Lock()
	nd.online = true
	nd.mtx.Unlock()
	n.flushMailbox(nd)
}

func (n *Network) deliver(
	from, to string, msg domain.TradeMessage,
) (ports.SendResult, error) {
	n.mtx.Lock()
	nd, ok := n.nodes[to]
	n.mtx.Unlock()

	if ok {
		nd.mtx.Lock()
		handler := nd.handler
		online := nd.online
		nd.mtx.Unlock()
		if online && handler != nil {
			handler(from, msg)
			return ports.SendArrived, nil
		}
	}

	if !msg.IsMailbox() {
		return ports.SendFailed, fmt.Errorf("peer %s is not reachable", to)
	}

	n.mtx.Lock()
	n.mailboxes[to] = append(n.mailboxes[to], mailboxEntry{
		from:     from,
		msg:      msg,
		storedAt: time.Now(),
	})
	n.mtx.Unlock()
	return ports.SendStoredInMailbox, nil
}

// flushMailbox redelivers retained messages to a node that came online.
// Entries older than the mailbox TTL are dropped.
func (n *Network) flushMailbox(nd *node) {
	nd.mtx.Lock()
	handler := nd.handler
	online := nd.online
	nd.mtx.Unlock()
	if !online || handler == nil {
		return
	}

	n.mtx.Lock()
	entries := n.mailboxes[nd.address]
	delete(n.mailboxes, nd.address)
	n.mtx.Unlock()

	for _, entry := range entries {
		if time.Since(entry.storedAt) > domain.MailboxMessageTTL {
			log.Debugf(
				"dropping expired mailbox message %s for %s",
				entry.msg.Type(), nd.address,
			)
			continue
		}
		handler(entry.from, entry.msg)
	}
}

func (nd *node) Deliver(
	_ context.Context, to string, msg domain.TradeMessage,
) (ports.SendResult, error) {
	return nd.network.deliver(nd.address, to, msg)
}

func (nd *node) OnMessage(handler ports.MessageHandler) {
	nd.mtx.Lock()
	nd.handler = handler
	nd.mtx.Unlock()
	nd.network.flushMailbox(nd)
}

func (nd *node) LocalAddress() string { return nd.address }
