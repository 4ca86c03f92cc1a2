package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BonusFailure is delivered to the welcome-bonus sink when a detached
// dispatch does not fully confirm.
type BonusFailure struct {
	Request  domain.RewardRequest
	Outcomes []domain.RewardOutcome
	Err      error
}

const recordTimeout = 10 * time.Second

// ErrShuttingDown rejects welcome bonuses requested after Shutdown.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

type WelcomeBonusConfig struct {
	Amount  string
	Timeout time.Duration
}

type Dispatcher struct {
	registry   *Registry
	strategies map[domain.NetworkID]RewardStrategy
	store      RewardStore
	events     EventPublisher
	claims     ClaimGuard
	bonus      WelcomeBonusConfig
	bonusSink  func(BonusFailure)
	now        func() time.Time

	mu         sync.Mutex
	closing    bool
	background sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithRewardStore(store RewardStore) DispatcherOption {
	return func(d *Dispatcher) { d.store = store }
}

func WithEventPublisher(events EventPublisher) DispatcherOption {
	return func(d *Dispatcher) { d.events = events }
}

func WithClaimGuard(claims ClaimGuard) DispatcherOption {
	return func(d *Dispatcher) { d.claims = claims }
}

func WithWelcomeBonus(cfg WelcomeBonusConfig) DispatcherOption {
	return func(d *Dispatcher) { d.bonus = cfg }
}

func WithBonusSink(sink func(BonusFailure)) DispatcherOption {
	return func(d *Dispatcher) { d.bonusSink = sink }
}

func NewDispatcher(registry *Registry, strategies map[domain.NetworkID]RewardStrategy, opts ...DispatcherOption) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if len(strategies) == 0 {
		return nil, errors.New("at least one reward strategy is required")
	}
	d := &Dispatcher{
		registry:   registry,
		strategies: strategies,
		claims:     NewMemoryClaimGuard(),
		bonus:      WelcomeBonusConfig{Timeout: 3 * time.Minute},
		bonusSink:  LogBonusFailure,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.bonus.Timeout <= 0 {
		d.bonus.Timeout = 3 * time.Minute
	}
	return d, nil
}

// Networks lists the networks that have a reward strategy.
func (d *Dispatcher) Networks() []domain.NetworkID {
	out := make([]domain.NetworkID, 0, len(d.strategies))
	for _, profile := range d.registry.Profiles() {
		if _, ok := d.strategies[profile.ID]; ok {
			out = append(out, profile.ID)
		}
	}
	return out
}

// DistributeReward validates the request, checks every treasury balance
// and then pays each asset of the network's strategy. Pre-flight failures
// are returned as errors; per-asset failures are reported in the result.
func (d *Dispatcher) DistributeReward(ctx context.Context, req domain.RewardRequest) (domain.RewardResult, error) {
	ctx, span := otel.Tracer("chainsettle/application").Start(ctx, "settlement.distribute_reward")
	defer span.End()
	span.SetAttributes(
		attribute.String("network", string(req.Network)),
		attribute.String("recipient", req.Recipient),
	)

	result, err := d.distribute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.RewardResult{}, err
	}
	span.SetAttributes(attribute.Int("confirmed", len(result.Transactions)))
	return result, nil
}

func (d *Dispatcher) distribute(ctx context.Context, req domain.RewardRequest) (domain.RewardResult, error) {
	if !common.IsHexAddress(strings.TrimSpace(req.Recipient)) {
		return domain.RewardResult{}, fmt.Errorf("%w: invalid recipient address %q", domain.ErrInvalidRequest, req.Recipient)
	}
	profile, err := d.registry.Resolve(req.Network)
	if err != nil {
		return domain.RewardResult{}, err
	}
	strategy, ok := d.strategies[req.Network]
	if !ok {
		return domain.RewardResult{}, fmt.Errorf("%w: no reward strategy for %s", domain.ErrUnsupportedNetwork, req.Network)
	}
	if profile.RewardToken == nil {
		return domain.RewardResult{}, fmt.Errorf("%w: %s has no reward token", domain.ErrConfigurationError, req.Network)
	}
	units, err := ParseUnits(req.Amount, profile.RewardToken.Decimals)
	if err != nil {
		return domain.RewardResult{}, err
	}
	order := RewardOrder{
		Recipient: common.HexToAddress(strings.TrimSpace(req.Recipient)),
		Amount:    strings.TrimSpace(req.Amount),
		Units:     units,
	}

	client, err := d.registry.CreateClient(ctx, req.Network)
	if err != nil {
		return domain.RewardResult{}, err
	}
	defer client.Close()

	if err := strategy.ValidatePrerequisites(ctx, client, order); err != nil {
		return domain.RewardResult{}, err
	}
	outcomes := strategy.Distribute(ctx, client, order)

	result := domain.RewardResult{
		Network:      req.Network,
		Transactions: make([]domain.RewardTransactionRecord, 0, len(outcomes)),
		Outcomes:     outcomes,
	}
	for _, outcome := range outcomes {
		if !outcome.Succeeded() {
			slog.Warn("reward leg not confirmed",
				"network", req.Network,
				"recipient", order.Recipient.Hex(),
				"symbol", outcome.Symbol,
				"status", outcome.Status,
				"tx", outcome.TxHash,
				"err", outcome.Err,
			)
			continue
		}
		result.Transactions = append(result.Transactions, domain.RewardTransactionRecord{
			TxHash:  outcome.TxHash,
			Symbol:  outcome.Symbol,
			Amount:  outcome.Amount,
			Network: req.Network,
		})
	}

	d.record(ctx, order.Recipient.Hex(), result)
	return result, nil
}

// record persists and publishes confirmed transfers. The transfers already
// happened, so the caller going away must not cancel this, and failures are
// logged rather than returned.
func (d *Dispatcher) record(ctx context.Context, recipient string, result domain.RewardResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if d.store != nil && len(result.Transactions) > 0 {
		records := make([]domain.RewardRecord, 0, len(result.Transactions))
		for _, tx := range result.Transactions {
			records = append(records, domain.RewardRecord{
				ID:        uuid.NewString(),
				CreatedAt: d.now().UTC(),
				Address:   strings.ToLower(recipient),
				Symbol:    tx.Symbol,
				Network:   tx.Network,
				Amount:    tx.Amount,
				TxHash:    tx.TxHash,
			})
		}
		if err := d.store.StoreRewardRecords(ctx, records); err != nil {
			slog.Error("store reward records failed", "network", result.Network, "recipient", recipient, "err", err)
		}
	}
	if d.events != nil {
		if err := d.events.PublishRewardResult(ctx, recipient, result); err != nil {
			slog.Error("publish reward result failed", "network", result.Network, "recipient", recipient, "err", err)
		}
	}
}

// DispatchWelcomeBonus starts a detached reward for a newly registered
// address and returns immediately. It reports false when the address was
// already claimed. Failures after the claim go to the bonus sink; nothing is
// retried.
func (d *Dispatcher) DispatchWelcomeBonus(ctx context.Context, req domain.RewardRequest) (bool, error) {
	if strings.TrimSpace(req.Amount) == "" {
		req.Amount = d.bonus.Amount
	}
	if !common.IsHexAddress(strings.TrimSpace(req.Recipient)) {
		return false, fmt.Errorf("%w: invalid recipient address %q", domain.ErrInvalidRequest, req.Recipient)
	}
	if _, ok := d.strategies[req.Network]; !ok {
		return false, fmt.Errorf("%w: no reward strategy for %q", domain.ErrUnsupportedNetwork, req.Network)
	}
	if strings.TrimSpace(req.Amount) == "" {
		return false, fmt.Errorf("%w: welcome bonus amount is not configured", domain.ErrConfigurationError)
	}

	key := welcomeClaimKey(req)
	claimed, err := d.claims.Claim(ctx, key)
	if err != nil {
		return false, fmt.Errorf("claim welcome bonus: %w", err)
	}
	if !claimed {
		slog.Info("welcome bonus already claimed", "network", req.Network, "recipient", req.Recipient)
		return false, nil
	}

	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := d.claims.Release(releaseCtx, key); err != nil {
			slog.Warn("release welcome bonus claim failed", "key", key, "err", err)
		}
		return false, ErrShuttingDown
	}
	d.background.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.background.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.bonus.Timeout)
		defer cancel()

		result, err := d.DistributeReward(bgCtx, req)
		if err == nil && len(result.Transactions) == len(result.Outcomes) {
			slog.Info("welcome bonus confirmed", "network", req.Network, "recipient", req.Recipient)
			return
		}
		if nothingBroadcast(result, err) {
			releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if releaseErr := d.claims.Release(releaseCtx, key); releaseErr != nil {
				slog.Warn("release welcome bonus claim failed", "key", key, "err", releaseErr)
			}
			releaseCancel()
		}
		d.bonusSink(BonusFailure{Request: req, Outcomes: result.Outcomes, Err: err})
	}()
	return true, nil
}

// Wait blocks until detached dispatches started so far have finished.
func (d *Dispatcher) Wait() {
	d.background.Wait()
}

// Shutdown stops accepting welcome bonuses and waits for the ones in flight.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
	d.background.Wait()
}

func welcomeClaimKey(req domain.RewardRequest) string {
	return "welcome:" + string(req.Network) + ":" + strings.ToLower(strings.TrimSpace(req.Recipient))
}

func nothingBroadcast(result domain.RewardResult, err error) bool {
	if err != nil {
		return true
	}
	for _, outcome := range result.Outcomes {
		if outcome.TxHash != "" {
			return false
		}
	}
	return true
}

// LogBonusFailure is the default welcome-bonus sink.
func LogBonusFailure(failure BonusFailure) {
	attrs := []any{
		"network", failure.Request.Network,
		"recipient", failure.Request.Recipient,
		"amount", failure.Request.Amount,
	}
	if failure.Err != nil {
		attrs = append(attrs, "err", failure.Err)
	}
	for _, outcome := range failure.Outcomes {
		if outcome.Succeeded() {
			continue
		}
		attrs = append(attrs, "leg_"+strings.ToLower(outcome.Symbol), outcome.Status)
	}
	slog.Error("welcome bonus failed", attrs...)
}

// MemoryClaimGuard is a process-local ClaimGuard.
type MemoryClaimGuard struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewMemoryClaimGuard() *MemoryClaimGuard {
	return &MemoryClaimGuard{claimed: make(map[string]struct{})}
}

func (g *MemoryClaimGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.claimed[key]; ok {
		return false, nil
	}
	g.claimed[key] = struct{}{}
	return true, nil
}

func (g *MemoryClaimGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, key)
	return nil
}
