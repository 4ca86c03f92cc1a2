package application

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Signer struct {
	Address common.Address
	key     *ecdsa.PrivateKey
}

// NetworkClient is a short-lived, configured connection to one network. It
// is built per call and closed afterwards.
type NetworkClient struct {
	Profile domain.NetworkProfile
	Chain   ChainClient
	chainID *big.Int
	signers map[domain.SignerRole]Signer
}

func (c *NetworkClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *NetworkClient) Signer(role domain.SignerRole) (Signer, error) {
	signer, ok := c.signers[role]
	if !ok {
		return Signer{}, fmt.Errorf("%w: %s has no %s signer", domain.ErrConfigurationError, c.Profile.ID, role)
	}
	return signer, nil
}

func (c *NetworkClient) Close() {
	if c.Chain != nil {
		c.Chain.Close()
	}
}

// Registry resolves network identifiers to profiles and builds clients. All
// configuration checks run before any endpoint is dialed.
type Registry struct {
	profiles map[domain.NetworkID]domain.NetworkProfile
	secrets  SecretSource
	dial     Dialer
}

func NewRegistry(profiles []domain.NetworkProfile, secrets SecretSource, dial Dialer) (*Registry, error) {
	if secrets == nil || dial == nil {
		return nil, errors.New("registry dependencies must not be nil")
	}
	indexed := make(map[domain.NetworkID]domain.NetworkProfile, len(profiles))
	for _, profile := range profiles {
		if _, err := domain.ParseNetworkID(string(profile.ID)); err != nil {
			return nil, err
		}
		if _, dup := indexed[profile.ID]; dup {
			return nil, fmt.Errorf("duplicate network profile %s", profile.ID)
		}
		indexed[profile.ID] = profile
	}
	return &Registry{profiles: indexed, secrets: secrets, dial: dial}, nil
}

func (r *Registry) Resolve(id domain.NetworkID) (domain.NetworkProfile, error) {
	profile, ok := r.profiles[id]
	if !ok {
		return domain.NetworkProfile{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedNetwork, id)
	}
	return profile, nil
}

// Profiles lists the configured networks ordered by identifier.
func (r *Registry) Profiles() []domain.NetworkProfile {
	out := make([]domain.NetworkProfile, 0, len(r.profiles))
	for _, profile := range r.profiles {
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateClient returns a client holding every signer the network requires.
func (r *Registry) CreateClient(ctx context.Context, id domain.NetworkID) (*NetworkClient, error) {
	profile, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	if err := checkEndpoint(profile); err != nil {
		return nil, err
	}
	if err := checkRewardContracts(profile); err != nil {
		return nil, err
	}
	signers := make(map[domain.SignerRole]Signer, len(profile.Signers))
	for role, ref := range profile.Signers {
		signer, err := r.loadSigner(profile.ID, role, ref)
		if err != nil {
			return nil, err
		}
		signers[role] = signer
	}
	return r.connect(ctx, profile, signers)
}

// ReadClient returns a client without signers, for verification reads.
func (r *Registry) ReadClient(ctx context.Context, id domain.NetworkID) (*NetworkClient, error) {
	profile, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	if err := checkEndpoint(profile); err != nil {
		return nil, err
	}
	return r.connect(ctx, profile, nil)
}

func (r *Registry) connect(ctx context.Context, profile domain.NetworkProfile, signers map[domain.SignerRole]Signer) (*NetworkClient, error) {
	chain, err := r.dial(ctx, profile.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrNetworkUnavailable, profile.ID, err)
	}
	chainID, err := chain.ChainID(ctx)
	if err != nil {
		chain.Close()
		return nil, fmt.Errorf("%w: read chain id of %s: %v", domain.ErrNetworkUnavailable, profile.ID, err)
	}
	if profile.ChainID != 0 && (!chainID.IsUint64() || chainID.Uint64() != profile.ChainID) {
		chain.Close()
		return nil, fmt.Errorf("%w: %s endpoint reports chain %s, want %d", domain.ErrConfigurationError, profile.ID, chainID, profile.ChainID)
	}
	return &NetworkClient{Profile: profile, Chain: chain, chainID: chainID, signers: signers}, nil
}

func (r *Registry) loadSigner(network domain.NetworkID, role domain.SignerRole, ref string) (Signer, error) {
	raw, ok := r.secrets.Lookup(ref)
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if !ok || raw == "" {
		return Signer{}, fmt.Errorf("%w: %s %s signer key %s is not set", domain.ErrConfigurationError, network, role, ref)
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return Signer{}, fmt.Errorf("%w: %s %s signer key %s is invalid", domain.ErrConfigurationError, network, role, ref)
	}
	return Signer{Address: crypto.PubkeyToAddress(key.PublicKey), key: key}, nil
}

func checkEndpoint(profile domain.NetworkProfile) error {
	if strings.TrimSpace(profile.RPCURL) == "" {
		return fmt.Errorf("%w: %s rpc url is not set", domain.ErrConfigurationError, profile.ID)
	}
	return nil
}

func checkRewardContracts(profile domain.NetworkProfile) error {
	token := profile.RewardToken
	if token == nil || len(profile.Signers) == 0 {
		return nil
	}
	if !common.IsHexAddress(token.Address) {
		return fmt.Errorf("%w: %s reward token address %q is invalid", domain.ErrConfigurationError, profile.ID, token.Address)
	}
	if token.Distributor != "" && !common.IsHexAddress(token.Distributor) {
		return fmt.Errorf("%w: %s reward distributor %q is invalid", domain.ErrConfigurationError, profile.ID, token.Distributor)
	}
	if profile.NativeReward != "" {
		if _, err := ParseUnits(profile.NativeReward, profile.NativeDecimals); err != nil {
			return fmt.Errorf("%w: %s native reward %q is invalid", domain.ErrConfigurationError, profile.ID, profile.NativeReward)
		}
	}
	return nil
}
