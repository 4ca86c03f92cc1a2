package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"chainsettle/internal/contracts"
	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Verifier checks purchase claims against the chain. The chain check holds
// no mutable state; with a purchase store attached, only the first grant of
// a transaction hash succeeds.
type Verifier struct {
	registry *Registry
	prices   PriceSource
	grants   PurchaseStore
	events   EventPublisher
	observer Observer
	now      func() time.Time
}

type VerifierOption func(*Verifier)

func WithVerifierEvents(events EventPublisher) VerifierOption {
	return func(v *Verifier) { v.events = events }
}

// WithPurchaseStore records every grant before it is published and rejects
// transaction hashes that were granted before.
func WithPurchaseStore(grants PurchaseStore) VerifierOption {
	return func(v *Verifier) { v.grants = grants }
}

func WithVerifierObserver(observer Observer) VerifierOption {
	return func(v *Verifier) { v.observer = observer }
}

func NewVerifier(registry *Registry, prices PriceSource, opts ...VerifierOption) (*Verifier, error) {
	if registry == nil || prices == nil {
		return nil, errors.New("verifier dependencies must not be nil")
	}
	v := &Verifier{registry: registry, prices: prices, observer: nopObserver{}, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if v.observer == nil {
		v.observer = nopObserver{}
	}
	return v, nil
}

func (v *Verifier) Verify(ctx context.Context, claim domain.PurchaseClaim) (domain.PurchaseGrant, error) {
	ctx, span := otel.Tracer("chainsettle/application").Start(ctx, "settlement.verify_purchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("network", string(claim.Network)),
		attribute.String("asset", string(claim.Asset)),
		attribute.String("tx.hash", claim.TxHash),
	)

	start := time.Now()
	grant, err := v.verify(ctx, claim)
	if err == nil {
		err = v.recordGrant(ctx, grant)
	}
	outcome := verificationOutcome(err)
	v.observer.OnPurchaseVerification(claim.Network, claim.Asset, outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("purchase rejected",
			"network", claim.Network,
			"asset", claim.Asset,
			"tx", claim.TxHash,
			"outcome", outcome,
			"err", err,
		)
		return domain.PurchaseGrant{}, err
	}

	if v.events != nil {
		if err := v.events.PublishPurchaseGrant(ctx, grant); err != nil {
			slog.Error("publish purchase grant failed", "tx", grant.TxHash, "err", err)
		}
	}
	return grant, nil
}

func (v *Verifier) recordGrant(ctx context.Context, grant domain.PurchaseGrant) error {
	if v.grants == nil {
		return nil
	}
	err := v.grants.RecordPurchase(ctx, grant)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrDuplicatePurchase):
		return fmt.Errorf("%w: %s on %s", domain.ErrDuplicatePurchase, grant.TxHash, grant.Network)
	default:
		return fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}
}

func (v *Verifier) verify(ctx context.Context, claim domain.PurchaseClaim) (domain.PurchaseGrant, error) {
	profile, asset, err := v.validate(claim)
	if err != nil {
		return domain.PurchaseGrant{}, err
	}

	client, err := v.registry.ReadClient(ctx, profile.ID)
	if err != nil {
		return domain.PurchaseGrant{}, err
	}
	defer client.Close()

	tx, receipt, err := fetchTransaction(ctx, client.Chain, claim.TxHash)
	if err != nil {
		return domain.PurchaseGrant{}, err
	}
	if receipt.Failed() {
		return domain.PurchaseGrant{}, fmt.Errorf("%w: %s reverted", domain.ErrTransactionFailed, claim.TxHash)
	}

	var actual domain.DecodedTransfer
	if asset.Native {
		actual = domain.DecodedTransfer{From: tx.From, To: tx.To, Amount: tx.Value}
	} else {
		actual, err = findTransfer(receipt, asset.Contract, claim)
		if err != nil {
			return domain.PurchaseGrant{}, err
		}
	}

	price, err := v.prices.USDPrice(ctx, asset.PriceID)
	if err != nil {
		if !errors.Is(err, domain.ErrPriceFetchFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrPriceFetchFailed, err)
		}
		return domain.PurchaseGrant{}, err
	}
	expected, err := ConvertReference(claim.Amount, price, asset.Decimals)
	if err != nil {
		return domain.PurchaseGrant{}, err
	}

	if err := compareTransfer(actual, claim, expected, asset.Tolerance); err != nil {
		return domain.PurchaseGrant{}, err
	}

	return domain.PurchaseGrant{
		TxHash:         strings.ToLower(claim.TxHash),
		Network:        profile.ID,
		Asset:          asset.Type,
		From:           actual.From,
		To:             actual.To,
		OnChainAmount:  actual.Amount.String(),
		ExpectedAmount: expected.String(),
		VerifiedAt:     v.now().UTC(),
	}, nil
}

func (v *Verifier) validate(claim domain.PurchaseClaim) (domain.NetworkProfile, domain.AssetProfile, error) {
	profile, err := v.registry.Resolve(claim.Network)
	if err != nil {
		return domain.NetworkProfile{}, domain.AssetProfile{}, err
	}
	asset, err := profile.Asset(claim.Asset)
	if err != nil {
		return domain.NetworkProfile{}, domain.AssetProfile{}, err
	}
	switch {
	case !txHashPattern.MatchString(claim.TxHash):
		return profile, asset, fmt.Errorf("%w: invalid transaction hash", domain.ErrInvalidRequest)
	case !common.IsHexAddress(claim.From):
		return profile, asset, fmt.Errorf("%w: invalid sender address", domain.ErrInvalidRequest)
	case !common.IsHexAddress(claim.To):
		return profile, asset, fmt.Errorf("%w: invalid recipient address", domain.ErrInvalidRequest)
	case strings.TrimSpace(claim.Amount) == "":
		return profile, asset, fmt.Errorf("%w: amount is required", domain.ErrInvalidRequest)
	}
	if asset.Tolerance == nil {
		return profile, asset, fmt.Errorf("%w: %s/%s has no tolerance", domain.ErrConfigurationError, profile.ID, asset.Type)
	}
	return profile, asset, nil
}

// fetchTransaction reads the transaction and its receipt concurrently.
func fetchTransaction(ctx context.Context, chain ChainClient, hash string) (domain.Transaction, domain.Receipt, error) {
	var (
		tx      domain.Transaction
		receipt domain.Receipt
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tx, err = chain.TransactionByHash(gctx, hash)
		return err
	})
	g.Go(func() error {
		var err error
		receipt, err = chain.TransactionReceipt(gctx, hash)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return tx, receipt, err
		}
		if !errors.Is(err, domain.ErrNetworkUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrNetworkUnavailable, err)
		}
		return tx, receipt, err
	}
	return tx, receipt, nil
}

// findTransfer returns the Transfer log emitted by token. When the token
// logged several transfers, the one between the claimed parties wins.
func findTransfer(receipt domain.Receipt, token string, claim domain.PurchaseClaim) (domain.DecodedTransfer, error) {
	var first *domain.DecodedTransfer
	for _, entry := range receipt.Logs {
		if !contracts.IsTransferLog(entry, token) {
			continue
		}
		decoded, err := contracts.DecodeTransfer(entry)
		if err != nil {
			continue
		}
		if strings.EqualFold(decoded.From, claim.From) && strings.EqualFold(decoded.To, claim.To) {
			return decoded, nil
		}
		if first == nil {
			first = &decoded
		}
	}
	if first == nil {
		return domain.DecodedTransfer{}, &domain.MismatchError{Reason: "no transfer log from " + token}
	}
	return *first, nil
}

func compareTransfer(actual domain.DecodedTransfer, claim domain.PurchaseClaim, expected, tolerance *big.Int) error {
	if !strings.EqualFold(actual.From, claim.From) {
		return &domain.MismatchError{Reason: fmt.Sprintf("sender %s does not match claim", actual.From)}
	}
	if !strings.EqualFold(actual.To, claim.To) {
		return &domain.MismatchError{Reason: fmt.Sprintf("recipient %s does not match claim", actual.To)}
	}
	if actual.Amount == nil {
		return &domain.MismatchError{Reason: "transfer carries no amount"}
	}
	diff := new(big.Int).Sub(actual.Amount, expected)
	if diff.Abs(diff).Cmp(tolerance) > 0 {
		return &domain.MismatchError{Reason: fmt.Sprintf("amount %s deviates from expected %s by %s", actual.Amount, expected, diff)}
	}
	return nil
}

func verificationOutcome(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, domain.ErrDuplicatePurchase):
		return "duplicate"
	case errors.Is(err, domain.ErrTransferMismatch):
		return "mismatch"
	case errors.Is(err, domain.ErrTransactionFailed):
		return "failed"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrPriceFetchFailed):
		return "price_unavailable"
	case errors.Is(err, domain.ErrUnsupportedNetwork), errors.Is(err, domain.ErrUnsupportedAsset), errors.Is(err, domain.ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}
