package dispute

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrowd/internal/core/domain"
)

type testEnv struct {
	repoManager *fakeRepoManager
	wallets     *fakeWallets
	transport   *recordingTransport
	pubsub      *fakePubsub
	mediation   *Service
	arbitration *Service
	router      *Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repoManager: newFakeRepoManager(),
		wallets:     newFakeWallets(),
		transport:   &recordingTransport{},
		pubsub:      &fakePubsub{},
	}
	var err error
	env.mediation, err = NewService(
		MediationSupport(), env.repoManager, env.wallets, env.transport, env.pubsub,
	)
	require.NoError(t, err)
	env.arbitration, err = NewService(
		ArbitrationSupport(), env.repoManager, env.wallets, env.transport, env.pubsub,
	)
	require.NoError(t, err)
	env.router = NewRouter(env.mediation, env.arbitration)
	t.Cleanup(env.mediation.Stop)
	t.Cleanup(env.arbitration.Stop)
	return env
}

func (e *testEnv) addTrade(t *testing.T, tradeId string) *domain.Trade {
	t.Helper()

	trade := domain.NewTrade(tradeId, domain.RoleMaker)
	trade.MakerAddress = "maker_addr"
	trade.TakerAddress = "taker_addr"
	trade.MakerDepositTxId = "deposit_" + tradeId
	require.NoError(
		t, e.repoManager.trades.AddTrade(context.Background(), trade),
	)
	return trade
}

func (e *testEnv) getTrade(t *testing.T, tradeId string) *domain.Trade {
	t.Helper()

	trade, err := e.repoManager.trades.GetTrade(context.Background(), tradeId)
	require.NoError(t, err)
	return trade
}

func closedMsg(tradeId, uid string, supportType domain.SupportType) domain.DisputeClosedMessage {
	return domain.DisputeClosedMessage{
		MessageInfo: domain.MessageInfo{TradeId: tradeId, Uid: uid},
		Result: domain.DisputeResult{
			TradeId:            tradeId,
			SupportType:        supportType,
			Winner:             domain.RoleMaker,
			BuyerPayoutAmount:  decimal.NewFromInt(115000),
			SellerPayoutAmount: decimal.NewFromInt(15000),
			PayoutTxHex:        "payout_unsigned",
		},
		ChatMessage: &domain.ChatMessage{
			Uid:     "chat_" + uid,
			TradeId: tradeId,
			Text:    "closing summary",
		},
	}
}

func TestDisputeClosedBeforeDisputeExistsIsRetried(t *testing.T) {
	t.Parallel()

	restore := RetryDelay
	RetryDelay = 20 * time.Millisecond
	t.Cleanup(func() { RetryDelay = restore })

	env := newTestEnv(t)
	ctx := context.Background()
	trade := env.addTrade(t, "T2")

	msg := closedMsg("T2", "uid_closed_1", domain.SupportTypeMediation)
	env.router.OnDisputeClosed("agent_addr", msg)

	// no dispute yet, the message must wait instead of being dropped
	require.Equal(t, 1, env.mediation.RetryCount())
	require.Equal(t, domain.DisputeStateNone, env.getTrade(t, "T2").DisputeState)

	dispute, err := domain.NewDispute(
		trade, trade.Role, domain.SupportTypeMediation, false,
	)
	require.NoError(t, err)
	require.NoError(t, env.repoManager.disputes.AddDispute(ctx, dispute))

	require.Eventually(t, func() bool {
		return env.getTrade(t, "T2").DisputeState == domain.DisputeStateMediationClosed
	}, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, env.mediation.RetryCount())

	stored, err := env.repoManager.disputes.GetDispute(ctx, "T2", domain.RoleMaker)
	require.NoError(t, err)
	require.True(t, stored.IsClosed)
	require.NotNil(t, stored.Result)
	require.Len(t, stored.ChatMessages, 1)

	// redelivery of the same message must not duplicate the chat entry
	env.router.OnDisputeClosed("agent_addr", msg)
	stored, err = env.repoManager.disputes.GetDispute(ctx, "T2", domain.RoleMaker)
	require.NoError(t, err)
	require.Len(t, stored.ChatMessages, 1)

	acks := env.transport.sentOfType(domain.MsgTypeAck)
	require.NotEmpty(t, acks)
	require.Equal(t, "agent_addr", acks[0].to)
}

func TestDuplicateEarlyDisputeClosedKeepsOneTimer(t *testing.T) {
	t.Parallel()

	restore := RetryDelay
	RetryDelay = time.Hour
	t.Cleanup(func() { RetryDelay = restore })

	env := newTestEnv(t)
	env.addTrade(t, "T3")

	msg := closedMsg("T3", "uid_closed_dup", domain.SupportTypeMediation)
	env.mediation.OnDisputeClosed("agent_addr", msg)
	env.mediation.OnDisputeClosed("agent_addr", msg)

	require.Equal(t, 1, env.mediation.RetryCount())
}

func TestOpenDisputeRequiresDepositTx(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	trade := domain.NewTrade("T4", domain.RoleMaker)
	require.NoError(t, env.repoManager.trades.AddTrade(context.Background(), trade))

	_, err := env.mediation.OpenDispute(context.Background(), "T4", false)
	require.ErrorIs(t, err, domain.ErrMissingDepositTx)
}

func TestSecondOverlayIsRejectedWhileFirstIsOpen(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.addTrade(t, "T5")

	_, err := env.mediation.OpenDispute(ctx, "T5", false)
	require.NoError(t, err)
	require.Equal(
		t, domain.DisputeStateMediationRequested, env.getTrade(t, "T5").DisputeState,
	)

	_, err = env.mediation.OpenDispute(ctx, "T5", false)
	require.ErrorIs(t, err, domain.ErrDisputeAlreadyOpen)
}

func TestArbitrationSupersedesOpenMediation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.addTrade(t, "T6")

	_, err := env.mediation.OpenDispute(ctx, "T6", false)
	require.NoError(t, err)

	_, err = env.arbitration.OpenDispute(ctx, "T6", false)
	require.NoError(t, err)
	require.Equal(
		t, domain.DisputeStateArbitrationRequested, env.getTrade(t, "T6").DisputeState,
	)
}

func TestAcceptDisputeResultForwardsOwnSignatureFirst(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.addTrade(t, "T7")
	env.wallets.addEscrow("T7")

	_, err := env.mediation.OpenDispute(ctx, "T7", false)
	require.NoError(t, err)
	env.mediation.OnDisputeClosed(
		"agent_addr", closedMsg("T7", "uid_closed_7", domain.SupportTypeMediation),
	)

	require.NoError(t, env.mediation.AcceptDisputeResult(ctx, "T7"))

	trade := env.getTrade(t, "T7")
	require.Equal(t, "payout_unsigned_signed", trade.PayoutTxHex)
	require.Equal(t, domain.PayoutStateSigned, trade.PayoutState)

	sigs := env.transport.sentOfType(domain.MsgTypeMediatedPayoutTxSignature)
	require.Len(t, sigs, 1)
	require.Equal(t, "taker_addr", sigs[0].to)
	sig := sigs[0].msg.(domain.MediatedPayoutTxSignatureMessage)
	require.Equal(t, "payout_unsigned_signed", sig.PayoutTxSignature)
	require.Equal(t, domain.SupportTypeMediation, sig.SupportType)
}

func TestPeerSignatureAfterAcceptFinalizesPayout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.addTrade(t, "T8")
	wc := env.wallets.addEscrow("T8")

	_, err := env.mediation.OpenDispute(ctx, "T8", false)
	require.NoError(t, err)
	env.mediation.OnDisputeClosed(
		"agent_addr", closedMsg("T8", "uid_closed_8", domain.SupportTypeMediation),
	)
	require.NoError(t, env.mediation.AcceptDisputeResult(ctx, "T8"))

	env.router.OnMediatedPayoutTxSignature(
		"taker_addr", domain.MediatedPayoutTxSignatureMessage{
			MessageInfo:       domain.MessageInfo{TradeId: "T8", Uid: "uid_sig_8"},
			PayoutTxSignature: "peer_partial",
			SupportType:       domain.SupportTypeMediation,
		},
	)

	require.Len(t, wc.submitted, 1)
	require.Equal(t, "peer_partial_signed", wc.submitted[0])

	trade := env.getTrade(t, "T8")
	require.Equal(t, "payout_peer_partial_signed", trade.PayoutTxId)
	require.Equal(t, domain.PayoutStatePublished, trade.PayoutState)
	closed, err := env.repoManager.trades.GetClosedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)

	finalized := env.transport.sentOfType(domain.MsgTypePayoutTxFinalized)
	require.Len(t, finalized, 1)
	require.Equal(t, "taker_addr", finalized[0].to)
}

func TestSweepRetiresResolvedTradesWithPayout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	trade := env.addTrade(t, "T9")

	dispute, err := domain.NewDispute(
		trade, trade.Role, domain.SupportTypeMediation, false,
	)
	require.NoError(t, err)
	_, err = dispute.Close(domain.DisputeResult{
		TradeId:     "T9",
		SupportType: domain.SupportTypeMediation,
		PayoutTxId:  "payout_tx_9",
	})
	require.NoError(t, err)
	require.NoError(t, env.repoManager.disputes.AddDispute(ctx, dispute))

	env.mediation.Sweep(ctx)

	closed, err := env.repoManager.trades.GetClosedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.Equal(t, "payout_tx_9", closed[0].PayoutTxId)
	require.Equal(t, domain.DisputeStateMediationClosed, closed[0].DisputeState)

	// a second pass finds nothing left to do
	env.mediation.Sweep(ctx)
	closed, err = env.repoManager.trades.GetClosedTrades(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
}

func TestRejectDisputeResultClosesOverlayWithoutPayout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.addTrade(t, "T10")

	_, err := env.mediation.OpenDispute(ctx, "T10", false)
	require.NoError(t, err)
	env.mediation.OnDisputeClosed(
		"agent_addr", closedMsg("T10", "uid_closed_10", domain.SupportTypeMediation),
	)

	require.NoError(t, env.mediation.RejectDisputeResult(ctx, "T10"))
	trade := env.getTrade(t, "T10")
	require.Equal(t, domain.DisputeStateMediationClosed, trade.DisputeState)
	require.Empty(t, trade.PayoutTxId)

	// the closed mediation no longer blocks escalation
	_, err = env.arbitration.OpenDispute(ctx, "T10", false)
	require.NoError(t, err)
}
