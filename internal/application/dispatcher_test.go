package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, h *harness, opts ...DispatcherOption) (*Dispatcher, *recordingStore, *recordingEvents) {
	t.Helper()
	store := &recordingStore{}
	events := &recordingEvents{}
	opts = append([]DispatcherOption{WithRewardStore(store), WithEventPublisher(events)}, opts...)
	d, err := NewDispatcher(h.registry, DefaultStrategies(h.sender), opts...)
	require.NoError(t, err)
	return d, store, events
}

func fuseRequest() domain.RewardRequest {
	return domain.RewardRequest{Recipient: testRecipient, Amount: "1000", Network: domain.NetworkFuse}
}

func TestDistributeRewardFuseDualAsset(t *testing.T) {
	h := newHarness(t)
	h.fundFuse()
	d, store, events := newTestDispatcher(t, h)

	result, err := d.DistributeReward(context.Background(), fuseRequest())
	require.NoError(t, err)

	require.Len(t, result.Transactions, 2)
	assert.Equal(t, "DWAT", result.Transactions[0].Symbol)
	assert.Equal(t, "1000", result.Transactions[0].Amount)
	assert.Equal(t, "FUSE", result.Transactions[1].Symbol)
	assert.Equal(t, "0.005", result.Transactions[1].Amount)
	for _, tx := range result.Transactions {
		assert.NotEmpty(t, tx.TxHash)
		assert.Equal(t, domain.NetworkFuse, tx.Network)
	}
	assert.NotEqual(t, result.Transactions[0].TxHash, result.Transactions[1].TxHash)
	assert.Equal(t, 2, h.fuse.sentCount())

	require.Len(t, store.records, 2)
	assert.Equal(t, strings.ToLower(testRecipient), store.records[0].Address)
	assert.NotEmpty(t, store.records[0].ID)
	require.Len(t, events.rewards, 1)
}

func TestDistributeRewardFuseTokenLegTargetsDistributor(t *testing.T) {
	h := newHarness(t)
	h.fundFuse()
	d, _, _ := newTestDispatcher(t, h)

	_, err := d.DistributeReward(context.Background(), fuseRequest())
	require.NoError(t, err)

	var sawDistributor, sawNative bool
	for _, tx := range h.fuse.sent {
		switch {
		case strings.EqualFold(tx.To().Hex(), testDistributor):
			sawDistributor = true
			assert.Equal(t, distributorGasLimit, tx.Gas())
			assert.Zero(t, tx.Value().Sign())
		case strings.EqualFold(tx.To().Hex(), testRecipient):
			sawNative = true
			assert.Equal(t, nativeGasLimit, tx.Gas())
			assert.Equal(t, "5000000000000000", tx.Value().String())
		}
	}
	assert.True(t, sawDistributor)
	assert.True(t, sawNative)
}

func TestDistributeRewardEthereumSingleToken(t *testing.T) {
	h := newHarness(t)
	h.fundEthereum()
	d, _, _ := newTestDispatcher(t, h)

	result, err := d.DistributeReward(context.Background(), domain.RewardRequest{
		Recipient: testRecipient,
		Amount:    "250.5",
		Network:   domain.NetworkEthereum,
	})
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "WDWAT", result.Transactions[0].Symbol)
	assert.Equal(t, "250.5", result.Transactions[0].Amount)

	require.Len(t, h.ethereum.sent, 1)
	tx := h.ethereum.sent[0]
	assert.True(t, strings.EqualFold(tx.To().Hex(), testWDWAT))
	assert.Equal(t, tokenGasLimit, tx.Gas())
}

func TestDistributeRewardPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.fundFuse()
	h.fuse.sendErr[h.keys.address(h.keys.native)] = fmt.Errorf("%w: nonce too low", domain.ErrBroadcastRejected)
	d, store, _ := newTestDispatcher(t, h)

	result, err := d.DistributeReward(context.Background(), fuseRequest())
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, domain.OutcomeConfirmed, result.Outcomes[0].Status)
	assert.Equal(t, domain.OutcomeFailed, result.Outcomes[1].Status)
	assert.ErrorIs(t, result.Outcomes[1].Err, domain.ErrNetworkUnavailable)

	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "DWAT", result.Transactions[0].Symbol)
	assert.Len(t, store.records, 1)
}

func TestDistributeRewardTimeoutLeg(t *testing.T) {
	h := newHarness(t)
	h.fundFuse()
	h.fuse.hangFrom[h.keys.address(h.keys.token)] = true
	d, _, _ := newTestDispatcher(t, h)

	result, err := d.DistributeReward(context.Background(), fuseRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeTimeout, result.Outcomes[0].Status)
	assert.NotEmpty(t, result.Outcomes[0].TxHash)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "FUSE", result.Transactions[0].Symbol)
}

func TestDistributeRewardRecordsAfterCallerLeaves(t *testing.T) {
	h := newHarness(t)
	h.fundEthereum()
	d, store, events := newTestDispatcher(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.ethereum.onSend = cancel

	result, err := d.DistributeReward(ctx, domain.RewardRequest{Recipient: testRecipient, Amount: "5", Network: domain.NetworkEthereum})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	require.Len(t, result.Transactions, 1)

	require.Len(t, store.records, 1)
	assert.Equal(t, result.Transactions[0].TxHash, store.records[0].TxHash)
	assert.Len(t, events.rewards, 1)
}

func TestDistributeRewardInsufficientFundsSendsNothing(t *testing.T) {
	cases := map[string]func(h *harness){
		"treasury short": func(h *harness) {
			h.fundFuse()
			h.fuse.setTokenBalance(testDWAT, common.HexToAddress(testDistributor), mustUnits("999.9", 18))
		},
		"native signer short": func(h *harness) {
			h.fundFuse()
			h.fuse.balances[h.keys.address(h.keys.native)] = mustUnits("0.004", 18)
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			setup(h)
			d, store, events := newTestDispatcher(t, h)

			_, err := d.DistributeReward(context.Background(), fuseRequest())
			require.ErrorIs(t, err, domain.ErrInsufficientFunds)
			assert.Zero(t, h.fuse.sentCount())
			assert.Empty(t, store.records)
			assert.Empty(t, events.rewards)
		})
	}
}

func TestDistributeRewardRejectsBadRequests(t *testing.T) {
	cases := map[string]struct {
		req  domain.RewardRequest
		want error
	}{
		"bad recipient": {
			req:  domain.RewardRequest{Recipient: "0x123", Amount: "1", Network: domain.NetworkFuse},
			want: domain.ErrInvalidRequest,
		},
		"zero amount": {
			req:  domain.RewardRequest{Recipient: testRecipient, Amount: "0", Network: domain.NetworkFuse},
			want: domain.ErrInvalidRequest,
		},
		"negative amount": {
			req:  domain.RewardRequest{Recipient: testRecipient, Amount: "-5", Network: domain.NetworkFuse},
			want: domain.ErrInvalidRequest,
		},
		"unknown network": {
			req:  domain.RewardRequest{Recipient: testRecipient, Amount: "1", Network: "solana"},
			want: domain.ErrUnsupportedNetwork,
		},
		"network without strategy": {
			req:  domain.RewardRequest{Recipient: testRecipient, Amount: "1", Network: domain.NetworkPolygon},
			want: domain.ErrUnsupportedNetwork,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			d, _, _ := newTestDispatcher(t, h)

			_, err := d.DistributeReward(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
			assert.Zero(t, h.dialer.dials)
		})
	}
}

func TestDispatcherNetworks(t *testing.T) {
	h := newHarness(t)
	d, _, _ := newTestDispatcher(t, h)

	assert.Equal(t, []domain.NetworkID{domain.NetworkEthereum, domain.NetworkFuse}, d.Networks())
}

type bonusRecorder struct {
	mu       sync.Mutex
	failures []BonusFailure
}

func (r *bonusRecorder) sink(failure BonusFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure)
}

func (r *bonusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

func TestDispatchWelcomeBonusRunsOnce(t *testing.T) {
	h := newHarness(t)
	h.fundFuse()
	bonus := &bonusRecorder{}
	d, store, _ := newTestDispatcher(t, h,
		WithWelcomeBonus(WelcomeBonusConfig{Amount: "1000", Timeout: time.Second}),
		WithBonusSink(bonus.sink),
	)

	ctx, cancel := context.WithCancel(context.Background())
	req := domain.RewardRequest{Recipient: testRecipient, Network: domain.NetworkFuse}
	started, err := d.DispatchWelcomeBonus(ctx, req)
	require.NoError(t, err)
	assert.True(t, started)
	cancel()
	started, err = d.DispatchWelcomeBonus(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, started)
	d.Wait()

	assert.Zero(t, bonus.count())
	assert.Len(t, store.records, 2)
	assert.Equal(t, 2, h.fuse.sentCount())
}

func TestDispatchWelcomeBonusFailureReleasesClaim(t *testing.T) {
	h := newHarness(t)
	bonus := &bonusRecorder{}
	d, _, _ := newTestDispatcher(t, h,
		WithWelcomeBonus(WelcomeBonusConfig{Amount: "1000", Timeout: time.Second}),
		WithBonusSink(bonus.sink),
	)

	req := domain.RewardRequest{Recipient: testRecipient, Network: domain.NetworkFuse}
	require.True(t, mustDispatch(t, d, req))
	d.Wait()

	require.Equal(t, 1, bonus.count())
	assert.ErrorIs(t, bonus.failures[0].Err, domain.ErrInsufficientFunds)
	assert.Equal(t, "1000", bonus.failures[0].Request.Amount)

	h.fundFuse()
	require.True(t, mustDispatch(t, d, req))
	d.Wait()
	assert.Equal(t, 1, bonus.count())
}

func TestDispatchWelcomeBonusKeepsClaimAfterBroadcast(t *testing.T) {
	h := newHarness(t)
	h.fundFuse()
	h.fuse.revertFrom[h.keys.address(h.keys.native)] = true
	bonus := &bonusRecorder{}
	d, _, _ := newTestDispatcher(t, h,
		WithWelcomeBonus(WelcomeBonusConfig{Amount: "1000", Timeout: time.Second}),
		WithBonusSink(bonus.sink),
	)

	req := domain.RewardRequest{Recipient: testRecipient, Network: domain.NetworkFuse}
	require.True(t, mustDispatch(t, d, req))
	d.Wait()

	require.Equal(t, 1, bonus.count())
	assert.NoError(t, bonus.failures[0].Err)
	require.Len(t, bonus.failures[0].Outcomes, 2)
	assert.Equal(t, domain.OutcomeFailed, bonus.failures[0].Outcomes[1].Status)
	assert.False(t, mustDispatch(t, d, req))
}

func TestDispatchWelcomeBonusKeepsClaimWhenBroadcastUnacknowledged(t *testing.T) {
	h := newHarness(t)
	h.fundEthereum()
	h.ethereum.dropAckFrom[h.keys.address(h.keys.eth)] = true
	bonus := &bonusRecorder{}
	d, _, _ := newTestDispatcher(t, h,
		WithWelcomeBonus(WelcomeBonusConfig{Amount: "10", Timeout: time.Second}),
		WithBonusSink(bonus.sink),
	)

	req := domain.RewardRequest{Recipient: testRecipient, Network: domain.NetworkEthereum}
	require.True(t, mustDispatch(t, d, req))
	d.Wait()

	require.Equal(t, 1, bonus.count())
	require.Len(t, bonus.failures[0].Outcomes, 1)
	outcome := bonus.failures[0].Outcomes[0]
	assert.Equal(t, domain.OutcomeTimeout, outcome.Status)
	assert.NotEmpty(t, outcome.TxHash)

	assert.False(t, mustDispatch(t, d, req))
	d.Wait()
	assert.Equal(t, 1, h.ethereum.sentCount())
}

type failingClaims struct{}

func (failingClaims) Claim(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingClaims) Release(context.Context, string) error { return nil }

func TestDispatchWelcomeBonusClaimErrorFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.fundFuse()
	bonus := &bonusRecorder{}
	d, _, _ := newTestDispatcher(t, h, WithClaimGuard(failingClaims{}), WithBonusSink(bonus.sink))

	started, err := d.DispatchWelcomeBonus(context.Background(), fuseRequest())
	require.Error(t, err)
	assert.False(t, started)
	d.Wait()
	assert.Zero(t, bonus.count())
	assert.Zero(t, h.dialer.dials)
}

func TestDispatchWelcomeBonusValidatesBeforeClaiming(t *testing.T) {
	h := newHarness(t)
	claims := NewMemoryClaimGuard()
	d, _, _ := newTestDispatcher(t, h,
		WithClaimGuard(claims),
		WithWelcomeBonus(WelcomeBonusConfig{Amount: "1000"}),
	)

	_, err := d.DispatchWelcomeBonus(context.Background(), domain.RewardRequest{Recipient: "nope", Network: domain.NetworkFuse})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = d.DispatchWelcomeBonus(context.Background(), domain.RewardRequest{Recipient: testRecipient, Network: domain.NetworkPolygon})
	require.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
	assert.Empty(t, claims.claimed)
}

func TestDispatchWelcomeBonusRequiresAmount(t *testing.T) {
	h := newHarness(t)
	d, _, _ := newTestDispatcher(t, h)

	_, err := d.DispatchWelcomeBonus(context.Background(), domain.RewardRequest{Recipient: testRecipient, Network: domain.NetworkFuse})
	require.ErrorIs(t, err, domain.ErrConfigurationError)
}

func TestDispatchWelcomeBonusAfterShutdownReleasesClaim(t *testing.T) {
	h := newHarness(t)
	h.fundFuse()
	claims := NewMemoryClaimGuard()
	d, _, _ := newTestDispatcher(t, h,
		WithClaimGuard(claims),
		WithWelcomeBonus(WelcomeBonusConfig{Amount: "1000", Timeout: time.Second}),
	)
	d.Shutdown()

	started, err := d.DispatchWelcomeBonus(context.Background(), fuseRequest())
	require.ErrorIs(t, err, ErrShuttingDown)
	assert.False(t, started)
	assert.Empty(t, claims.claimed)
	assert.Zero(t, h.fuse.sentCount())
}

func mustDispatch(t *testing.T, d *Dispatcher, req domain.RewardRequest) bool {
	t.Helper()
	started, err := d.DispatchWelcomeBonus(context.Background(), req)
	require.NoError(t, err)
	return started
}
