package trade

import (
	"context"
	"fmt"
	"sync"

	"github.com/escrow-network/escrowd/internal/core/domain"
	"github.com/escrow-network/escrowd/internal/core/ports"
)

type fakeRepoManager struct {
	trades *fakeTradeRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{trades: newFakeTradeRepo()}
}

func (m *fakeRepoManager) TradeRepository() domain.TradeRepository     { return m.trades }
func (m *fakeRepoManager) DisputeRepository() domain.DisputeRepository { return nil }
func (m *fakeRepoManager) AddressRepository() domain.AddressRepository { return nil }
func (m *fakeRepoManager) Close()                                      {}

type fakeTradeRepo struct {
	mtx    sync.Mutex
	trades map[string]*domain.Trade
	closed map[string]*domain.Trade
	failed map[string]*domain.Trade
}

func newFakeTradeRepo() *fakeTradeRepo {
	return &fakeTradeRepo{
		trades: make(map[string]*domain.Trade),
		closed: make(map[string]*domain.Trade),
		failed: make(map[string]*domain.Trade),
	}
}

func (r *fakeTradeRepo) AddTrade(_ context.Context, trade *domain.Trade) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.trades[trade.Id]; ok {
		return fmt.Errorf("trade %s already exists", trade.Id)
	}
	cp := *trade
	r.trades[trade.Id] = &cp
	return nil
}

func (r *fakeTradeRepo) GetTrade(_ context.Context, tradeId string) (*domain.Trade, error) {
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
	_ context.Context, tradeId string, role domain.TradeRole,
) (*domain.Trade, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if t, ok := r.trades[tradeId]; ok {
		cp := *t
		return &cp, nil
	}
	t := domain.NewTrade(tradeId, role)
	r.trades[tradeId] = t
	cp := *t
	return &cp, nil
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
	_ context.Context, state domain.TradeState,
) ([]*domain.Trade, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	list := make([]*domain.Trade, 0)
	for _, t := range r.trades {
		if t.State == state {
			cp := *t
			list = append(list, &cp)
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
		return domain.ErrTradeNotFound
	}
	cp := *t
	updated, err := updateFn(&cp)
	if err != nil {
		return err
	}
	r.trades[tradeId] = updated
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
	t, ok := r.trades[tradeId]
	if !ok {
		return domain.ErrTradeNotFound
	}
	delete(r.trades, tradeId)
	r.failed[tradeId] = t
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

// recordingTransport captures outbound messages and answers with a settable
// send result.
type recordingTransport struct {
	mtx     sync.Mutex
	sent    []sentMessage
	result  ports.SendResult
	handler ports.MessageHandler
}

type sentMessage struct {
	to  string
	msg domain.TradeMessage
}

func (t *recordingTransport) Deliver(
	_ context.Context, to string, msg domain.TradeMessage,
) (ports.SendResult, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.sent = append(t.sent, sentMessage{to: to, msg: msg})
	return t.result, nil
}

func (t *recordingTransport) OnMessage(h ports.MessageHandler) { t.handler = h }
func (t *recordingTransport) LocalAddress() string             { return "local" }

func (t *recordingTransport) setResult(res ports.SendResult) {
	t.mtx.Lock()
	t.result = res
	t.mtx.Unlock()
}

func (t *recordingTransport) sentMessages() []sentMessage {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	out := make([]sentMessage, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *recordingTransport) sentOfType(mt domain.MessageType) []domain.TradeMessage {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	out := make([]domain.TradeMessage, 0)
	for _, s := range t.sent {
		if s.msg.Type() == mt {
			out = append(out, s.msg)
		}
	}
	return out
}

// network wires several engines together for end-to-end flows. Delivery is
// synchronous handler invocation; the receiving engine only enqueues.
type network struct {
	mtx      sync.Mutex
	handlers map[string]ports.MessageHandler
}

func newNetwork() *network {
	return &network{handlers: make(map[string]ports.MessageHandler)}
}

func (n *network) endpoint(addr string) *networkTransport {
	return &networkTransport{net: n, addr: addr}
}

type networkTransport struct {
	net  *network
	addr string
}

func (t *networkTransport) Deliver(
	_ context.Context, to string, msg domain.TradeMessage,
) (ports.SendResult, error) {
	t.net.mtx.Lock()
	h := t.net.handlers[to]
	t.net.mtx.Unlock()
	if h == nil {
		return ports.SendFailed, fmt.Errorf("no peer at %s", to)
	}
	h(t.addr, msg)
	return ports.SendArrived, nil
}

func (t *networkTransport) OnMessage(h ports.MessageHandler) {
	t.net.mtx.Lock()
	t.net.handlers[t.addr] = h
	t.net.mtx.Unlock()
}

func (t *networkTransport) LocalAddress() string { return t.addr }

type fakePubsub struct {
	mtx    sync.Mutex
	events []ports.Event
}

func (p *fakePubsub) Subscribe(func(ports.Event)) int { return 0 }
func (p *fakePubsub) Unsubscribe(int) error           { return nil }

func (p *fakePubsub) Publish(event ports.Event) {
	p.mtx.Lock()
	p.events = append(p.events, event)
	p.mtx.Unlock()
}

type fakeWallets struct {
	mtx    sync.Mutex
	tag    string
	main   *fakeWalletClient
	escrow map[string]*fakeWalletClient
}

func newFakeWallets(tag string) *fakeWallets {
	return &fakeWallets{
		tag:    tag,
		main:   newFakeWalletClient(tag + "_main"),
		escrow: make(map[string]*fakeWalletClient),
	}
}

func (w *fakeWallets) CreateEscrowWallet(
	_ context.Context, tradeId string,
) (ports.WalletClient, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if c, ok := w.escrow[tradeId]; ok {
		return c, nil
	}
	c := newFakeWalletClient(w.tag + "_" + tradeId)
	w.escrow[tradeId] = c
	return c, nil
}

func (w *fakeWallets) OpenEscrowWallet(
	_ context.Context, tradeId string,
) (ports.WalletClient, bool, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	c, ok := w.escrow[tradeId]
	if !ok {
		return nil, false, nil
	}
	return c, true, nil
}

func (w *fakeWallets) GetEscrowWallet(tradeId string) (ports.WalletClient, bool) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	c, ok := w.escrow[tradeId]
	return c, ok
}

func (w *fakeWallets) DeleteEscrowWallet(tradeId string) (bool, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	_, ok := w.escrow[tradeId]
	delete(w.escrow, tradeId)
	return ok, nil
}

func (w *fakeWallets) MainWallet() (ports.WalletClient, error) {
	return w.main, nil
}

func (w *fakeWallets) escrowClient(tradeId string) *fakeWalletClient {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.escrow[tradeId]
}

type fakeWalletClient struct {
	mtx      sync.Mutex
	tag      string
	total    uint64
	unlocked uint64
	txSeq    int
}

func newFakeWalletClient(tag string) *fakeWalletClient {
	return &fakeWalletClient{tag: tag}
}

func (c *fakeWalletClient) setBalance(total, unlocked uint64) {
	c.mtx.Lock()
	c.total, c.unlocked = total, unlocked
	c.mtx.Unlock()
}

func (c *fakeWalletClient) CreateWallet(context.Context, string, string) error { return nil }
func (c *fakeWalletClient) OpenWallet(context.Context, string, string) error   { return nil }
func (c *fakeWalletClient) CloseWallet(context.Context) error                  { return nil }
func (c *fakeWalletClient) ChangePassword(context.Context, string, string) error {
	return nil
}
func (c *fakeWalletClient) Save(context.Context) error                { return nil }
func (c *fakeWalletClient) Refresh(context.Context) (uint64, error)   { return 0, nil }
func (c *fakeWalletClient) GetHeight(context.Context) (uint64, error) { return 100, nil }

func (c *fakeWalletClient) GetBalance(context.Context, uint32) (uint64, uint64, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.total, c.unlocked, nil
}

func (c *fakeWalletClient) CreateSubaddress(context.Context, uint32) (ports.SubaddressInfo, error) {
	return ports.SubaddressInfo{}, nil
}

func (c *fakeWalletClient) GetSubaddresses(context.Context, uint32) ([]ports.SubaddressInfo, error) {
	return nil, nil
}

func (c *fakeWalletClient) PrepareMultisig(context.Context) (string, error) {
	return "prepared_" + c.tag, nil
}

func (c *fakeWalletClient) MakeMultisig(
	context.Context, []string, uint32, string,
) (string, string, error) {
	return "made_" + c.tag, "", nil
}

func (c *fakeWalletClient) ExchangeMultisigKeys(
	context.Context, []string, string,
) (string, string, error) {
	return "exchanged_" + c.tag, "msig_addr", nil
}

func (c *fakeWalletClient) ExportMultisigInfo(context.Context) (string, error) {
	return "msinfo_" + c.tag, nil
}

func (c *fakeWalletClient) ImportMultisigInfo(context.Context, []string) error { return nil }

func (c *fakeWalletClient) Transfer(
	_ context.Context, _ string, amount uint64,
) (ports.TransferResult, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.txSeq++
	return ports.TransferResult{
		TxId:   fmt.Sprintf("tx_%s_%d", c.tag, c.txSeq),
		TxHex:  fmt.Sprintf("hex_%s_%d", c.tag, c.txSeq),
		TxKey:  fmt.Sprintf("key_%s_%d", c.tag, c.txSeq),
		Amount: amount,
	}, nil
}

func (c *fakeWalletClient) SignMultisigTx(
	_ context.Context, txHex string,
) (string, []string, error) {
	return txHex + "_signed", []string{"payout_" + c.tag}, nil
}

func (c *fakeWalletClient) SubmitMultisigTx(context.Context, string) ([]string, error) {
	return []string{"payout_" + c.tag}, nil
}

func (c *fakeWalletClient) Port() int   { return 0 }
func (c *fakeWalletClient) Stop() error { return nil }
func (c *fakeWalletClient) Kill()       {}
