package domain

import (
	"fmt"
	"math/big"
	"strings"
)

type NetworkID string

const (
	NetworkFuse     NetworkID = "fuse"
	NetworkEthereum NetworkID = "ethereum"
	NetworkPolygon  NetworkID = "polygon"
	NetworkBinance  NetworkID = "binance"
	NetworkArbitrum NetworkID = "arbitrum"
)

// ParseNetworkID normalizes raw and rejects identifiers outside the fixed set.
func ParseNetworkID(raw string) (NetworkID, error) {
	id := NetworkID(strings.ToLower(strings.TrimSpace(raw)))
	switch id {
	case NetworkFuse, NetworkEthereum, NetworkPolygon, NetworkBinance, NetworkArbitrum:
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, raw)
}

// SignerRole names a signing identity a network profile may require.
type SignerRole string

const (
	SignerToken  SignerRole = "token"
	SignerNative SignerRole = "native"
)

type AssetType string

// ParseAssetType lowercases raw; whether the asset exists is decided per network.
func ParseAssetType(raw string) AssetType {
	return AssetType(strings.ToLower(strings.TrimSpace(raw)))
}

// TokenProfile describes the fungible reward token on a network.
type TokenProfile struct {
	Symbol   string
	Address  string
	Decimals uint8
	// Distributor is the reward contract holding the token treasury. Empty
	// means the token signer transfers from its own balance.
	Distributor string
}

// AssetProfile describes an asset accepted as purchase payment.
type AssetProfile struct {
	Type     AssetType
	Native   bool
	Contract string
	Decimals uint8
	PriceID  string
	// Tolerance is the absolute deviation allowed, in the asset's smallest unit.
	Tolerance *big.Int
}

// NetworkProfile is the immutable configuration of one supported network.
type NetworkProfile struct {
	ID             NetworkID
	ChainID        uint64
	RPCURL         string
	NativeSymbol   string
	NativeDecimals uint8
	// NativeReward is the fixed native quantum paid with each reward, as a
	// decimal string. Empty when the network pays no native reward.
	NativeReward string
	RewardToken  *TokenProfile
	// Signers maps each required role to the environment key holding its
	// private key.
	Signers        map[SignerRole]string
	PurchaseAssets map[AssetType]AssetProfile
}

func (p NetworkProfile) Asset(asset AssetType) (AssetProfile, error) {
	profile, ok := p.PurchaseAssets[asset]
	if !ok {
		return AssetProfile{}, fmt.Errorf("%w: %q on %s", ErrUnsupportedAsset, asset, p.ID)
	}
	return profile, nil
}
