package dispute

import (
	"context"
	"sync"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

type fakeRepoManager struct {
	trades   *fakeTradeRepo
	disputes *fakeDisputeRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		trades: &fakeTradeRepo{
			trades: make(map[string]*domain.Trade),
			closed: make(map[string]*domain.Trade),
		},
		disputes: &fakeDisputeRepo{disputes: make(map[string]*domain.Dispute)},
	}
}

func (m *fakeRepoManager) TradeRepository() domain.TradeRepository     { return m.trades }
func (m *fakeRepoManager) DisputeRepository() domain.DisputeRepository { return m.disputes }
func (m *fakeRepoManager) AddressRepository() domain.AddressRepository { return nil }
func (m *fakeRepoManager) Close()                                      {}

type fakeTradeRepo struct {
	mtx    sync.Mutex
	trades map[string]*domain.Trade
	closed map[string]*domain.Trade
}

func (r *fakeTradeRepo) AddTrade(_ context.Context, trade *domain.Trade) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	cp := *trade
	r.trades[trade.Id] = &cp
	return nil
}

func (r *fakeTradeRepo) GetTrade(
	_ context.Context, tradeId string,
) (*domain.Trade, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if t, ok := r.trades[tradeId]; ok {
		cp := *t
		return &cp, nil
	}
	if t, ok := r.closed[tradeId]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, domain.ErrTradeNotFound
}

func (r *fakeTradeRepo) GetOrCreateTrade(
	ctx context.Context, tradeId string, role domain.TradeRole,
) (*domain.Trade, error) {
	if t, err := r.GetTrade(ctx, tradeId); err == nil {
		return t, nil
	}
	t := domain.NewTrade(tradeId, role)
	if err := r.AddTrade(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *fakeTradeRepo) GetAllTrades(_ context.Context) ([]*domain.Trade, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	list := make([]*domain.Trade, 0, len(r.trades))
	for _, t := range r.trades {
		cp := *t
		list = append(list, &cp)
	}
	return list, nil
}

func (r *fakeTradeRepo) GetTradesByState(
	ctx context.Context, state domain.TradeState,
) ([]*domain.Trade, error) {
	all, _ := r.GetAllTrades(ctx)
	list := make([]*domain.Trade, 0)
	for _, t := range all {
		if t.State == state {
			list = append(list, t)
		}
	}
	return list, nil
}

func (r *fakeTradeRepo) UpdateTrade(
	_ context.Context, tradeId string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	t, ok := r.trades[tradeId]
	if !ok {
		if t, ok = r.closed[tradeId]; !ok {
			return domain.ErrTradeNotFound
		}
	}
	cp := *t
	updated, err := updateFn(&cp)
	if err != nil {
		return err
	}
	if _, open := r.trades[tradeId]; open {
		r.trades[tradeId] = updated
	} else {
		r.closed[tradeId] = updated
	}
	return nil
}

func (r *fakeTradeRepo) MoveToClosed(_ context.Context, tradeId string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	t, ok := r.trades[tradeId]
	if !ok {
		return domain.ErrTradeNotFound
	}
	delete(r.trades, tradeId)
	r.closed[tradeId] = t
	return nil
}

func (r *fakeTradeRepo) MoveToFailed(_ context.Context, tradeId string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	delete(r.trades, tradeId)
	return nil
}

func (r *fakeTradeRepo) GetClosedTrades(_ context.Context) ([]*domain.Trade, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	list := make([]*domain.Trade, 0, len(r.closed))
	for _, t := range r.closed {
		cp := *t
		list = append(list, &cp)
	}
	return list, nil
}

type fakeDisputeRepo struct {
	mtx      sync.Mutex
	disputes map[string]*domain.Dispute
}

func disputeKey(tradeId string, opener domain.TradeRole) string {
	return tradeId + "/" + opener.String()
}

func (r *fakeDisputeRepo) AddDispute(_ context.Context, dispute *domain.Dispute) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	cp := *dispute
	r.disputes[disputeKey(dispute.TradeId, dispute.OpenerRole)] = &cp
	return nil
}

func (r *fakeDisputeRepo) GetDispute(
	_ context.Context, tradeId string, opener domain.TradeRole,
) (*domain.Dispute, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if d, ok := r.disputes[disputeKey(tradeId, opener)]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, domain.ErrDisputeNotFound
}

func (r *fakeDisputeRepo) GetDisputesByTradeId(
	_ context.Context, tradeId string,
) ([]*domain.Dispute, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	list := make([]*domain.Dispute, 0)
	for _, d := range r.disputes {
		if d.TradeId == tradeId {
			cp := *d
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (r *fakeDisputeRepo) GetAllBySupportType(
	_ context.Context, supportType domain.SupportType,
) (*domain.DisputeList, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	entries := make([]*domain.Dispute, 0, len(r.disputes))
	for _, d := range r.disputes {
		cp := *d
		entries = append(entries, &cp)
	}
	return domain.NewDisputeList(supportType, entries), nil
}

func (r *fakeDisputeRepo) UpdateDispute(
	_ context.Context, tradeId string, opener domain.TradeRole,
	updateFn func(d *domain.Dispute) (*domain.Dispute, error),
) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	d, ok := r.disputes[disputeKey(tradeId, opener)]
	if !ok {
		return domain.ErrDisputeNotFound
	}
	cp := *d
	updated, err := updateFn(&cp)
	if err != nil {
		return err
	}
	r.disputes[disputeKey(tradeId, opener)] = updated
	return nil
}

type sentMessage struct {
	to  string
	msg domain.TradeMessage
}

type recordingTransport struct {
	mtx  sync.Mutex
	sent []sentMessage
}

func (t *recordingTransport) Deliver(
	_ context.Context, to string, msg domain.TradeMessage,
) (ports.SendResult, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.sent = append(t.sent, sentMessage{to: to, msg: msg})
	return ports.SendArrived, nil
}

func (t *recordingTransport) OnMessage(ports.MessageHandler) {}
func (t *recordingTransport) LocalAddress() string           { return "local" }

func (t *recordingTransport) sentOfType(msgType domain.MessageType) []sentMessage {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	list := make([]sentMessage, 0)
	for _, m := range t.sent {
		if m.msg.Type() == msgType {
			list = append(list, m)
		}
	}
	return list
}

type fakePubsub struct {
	mtx    sync.Mutex
	events []ports.Event
}

func (p *fakePubsub) Publish(event ports.Event) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePubsub) Subscribe(fn func(ports.Event)) int { return 0 }
func (p *fakePubsub) Unsubscribe(id int) error           { return nil }

type fakeWallets struct {
	mtx    sync.Mutex
	escrow map[string]*fakeWalletClient
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{escrow: make(map[string]*fakeWalletClient)}
}

func (w *fakeWallets) GetEscrowWallet(tradeId string) (ports.WalletClient, bool) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	wc, ok := w.escrow[tradeId]
	if !ok {
		return nil, false
	}
	return wc, true
}

func (w *fakeWallets) OpenEscrowWallet(
	_ context.Context, tradeId string,
) (ports.WalletClient, bool, error) {
	return nil, false, nil
}

func (w *fakeWallets) addEscrow(tradeId string) *fakeWalletClient {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	wc := &fakeWalletClient{}
	w.escrow[tradeId] = wc
	return wc
}

// fakeWalletClient implements only the multisig payout surface; calls to any
// other WalletClient method panic through the nil embedded interface.
type fakeWalletClient struct {
	ports.WalletClient

	mtx       sync.Mutex
	signed    []string
	submitted []string
}

func (c *fakeWalletClient) SignMultisigTx(
	_ context.Context, txHex string,
) (string, []string, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.signed = append(c.signed, txHex)
	return txHex + "_signed", nil, nil
}

func (c *fakeWalletClient) SubmitMultisigTx(
	_ context.Context, signedHex string,
) ([]string, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.submitted = append(c.submitted, signedHex)
	return []string{"payout_" + signedHex}, nil
}
