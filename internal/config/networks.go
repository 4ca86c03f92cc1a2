package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"chainsettle/internal/domain"

	"gopkg.in/yaml.v3"
)

const defaultFuseRewardContract = "0xb2d1AbA1931E06D9EF9aF440e6b1a3E7499fbaFC"

// DefaultNetworks builds the built-in profiles, taking endpoints and
// contract addresses from source. A network whose endpoint cannot be derived
// keeps an empty RPCURL and is rejected when a client is requested.
func DefaultNetworks(source EnvSource) []domain.NetworkProfile {
	infuraID := lookupTrimmed(source, "INFURA_PROJECT_ID")
	infura := func(host string) string {
		if infuraID == "" {
			return ""
		}
		return "https://" + host + ".infura.io/v3/" + infuraID
	}
	envOr := func(key, fallback string) string {
		if raw := lookupTrimmed(source, key); raw != "" {
			return raw
		}
		return fallback
	}

	return []domain.NetworkProfile{
		{
			ID:             domain.NetworkFuse,
			ChainID:        122,
			RPCURL:         envOr("FUSE_RPC_URL", "https://rpc.fuse.io"),
			NativeSymbol:   "FUSE",
			NativeDecimals: 18,
			NativeReward:   envOr("FUSE_NATIVE_REWARD", "0.005"),
			RewardToken: &domain.TokenProfile{
				Symbol:      "DWAT",
				Address:     lookupTrimmed(source, "FUSE_DWAT_TOKEN_ADDRESS"),
				Decimals:    18,
				Distributor: envOr("FUSE_REWARD_CONTRACT_ADDRESS", defaultFuseRewardContract),
			},
			Signers: map[domain.SignerRole]string{
				domain.SignerToken:  "FUSE_DWAT_SIGNER_KEY",
				domain.SignerNative: "FUSE_SIGNER_KEY",
			},
			PurchaseAssets: assets(
				stableAsset("usdt", "0xFaDbBF8Ce7D5b7041bE672561bbA99f79c532e10", 6, "tether"),
				stableAsset("usdc", "0x620fd5fa44BE6af63715Ef4E65DDFA0387aD13F5", 6, "usd-coin"),
				nativeAsset("fuse", "fuse-network-token"),
			),
		},
		{
			ID:             domain.NetworkEthereum,
			ChainID:        1,
			RPCURL:         envOr("ETHEREUM_RPC_URL", infura("mainnet")),
			NativeSymbol:   "ETH",
			NativeDecimals: 18,
			RewardToken: &domain.TokenProfile{
				Symbol:   "WDWAT",
				Address:  lookupTrimmed(source, "ETH_WDWAT_TOKEN_ADDRESS"),
				Decimals: 18,
			},
			Signers: map[domain.SignerRole]string{
				domain.SignerToken: "ETH_DWAT_SIGNER_KEY",
			},
			PurchaseAssets: assets(),
		},
		{
			ID:             domain.NetworkPolygon,
			ChainID:        137,
			RPCURL:         envOr("POLYGON_RPC_URL", infura("polygon-mainnet")),
			NativeSymbol:   "POL",
			NativeDecimals: 18,
			PurchaseAssets: assets(
				stableAsset("usdt", "0xc2132d05d31c914a87c6611c10748aeb04b58e8f", 6, "tether"),
				stableAsset("usdc", "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", 6, "usd-coin"),
				nativeAsset("pol", "polygon-ecosystem-token"),
			),
		},
		{
			ID:             domain.NetworkBinance,
			ChainID:        56,
			RPCURL:         envOr("BINANCE_RPC_URL", "https://bsc-dataseed.binance.org/"),
			NativeSymbol:   "BNB",
			NativeDecimals: 18,
			PurchaseAssets: assets(
				stableAsset("usdt", "0x55d398326f99059fF775485246999027B3197955", 18, "tether"),
				stableAsset("usdc", "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", 18, "usd-coin"),
				nativeAsset("bnb", "binancecoin"),
			),
		},
		{
			ID:             domain.NetworkArbitrum,
			ChainID:        42161,
			RPCURL:         envOr("ARBITRUM_RPC_URL", infura("arbitrum-mainnet")),
			NativeSymbol:   "ETH",
			NativeDecimals: 18,
			PurchaseAssets: assets(
				stableAsset("usdt", "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9", 6, "tether"),
				stableAsset("usdc", "0xaf88d065e77c8cc2239327c5edb3a432268e5831", 6, "usd-coin"),
				volatileAsset("arb", "0x912CE59144191C1204E64559FE8253a0e49E6548", 18, "arbitrum"),
				nativeAsset("eth", "ethereum"),
			),
		},
	}
}

func assets(list ...domain.AssetProfile) map[domain.AssetType]domain.AssetProfile {
	out := make(map[domain.AssetType]domain.AssetProfile, len(list))
	for _, asset := range list {
		out[asset.Type] = asset
	}
	return out
}

// Stablecoins tolerate a hundredth of a unit; volatile assets a ten-thousandth.
func stableAsset(symbol, contract string, decimals uint8, priceID string) domain.AssetProfile {
	return domain.AssetProfile{
		Type:      domain.AssetType(symbol),
		Contract:  contract,
		Decimals:  decimals,
		PriceID:   priceID,
		Tolerance: pow10(int64(decimals) - 2),
	}
}

func volatileAsset(symbol, contract string, decimals uint8, priceID string) domain.AssetProfile {
	asset := stableAsset(symbol, contract, decimals, priceID)
	asset.Tolerance = pow10(int64(decimals) - 4)
	return asset
}

func nativeAsset(symbol, priceID string) domain.AssetProfile {
	return domain.AssetProfile{
		Type:      domain.AssetType(symbol),
		Native:    true,
		Decimals:  18,
		PriceID:   priceID,
		Tolerance: pow10(18 - 4),
	}
}

func pow10(exp int64) *big.Int {
	if exp < 0 {
		exp = 0
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
}

type networksFile struct {
	Networks []networkOverride `yaml:"networks"`
}

type networkOverride struct {
	ID             string            `yaml:"id"`
	ChainID        uint64            `yaml:"chainId"`
	RPCURL         string            `yaml:"rpcUrl"`
	NativeSymbol   string            `yaml:"nativeSymbol"`
	NativeReward   string            `yaml:"nativeReward"`
	RewardToken    *tokenOverride    `yaml:"rewardToken"`
	Signers        map[string]string `yaml:"signers"`
	PurchaseAssets []assetOverride   `yaml:"purchaseAssets"`
}

type tokenOverride struct {
	Symbol      string `yaml:"symbol"`
	Address     string `yaml:"address"`
	Decimals    uint8  `yaml:"decimals"`
	Distributor string `yaml:"distributor"`
}

type assetOverride struct {
	Type      string `yaml:"type"`
	Native    bool   `yaml:"native"`
	Contract  string `yaml:"contract"`
	Decimals  uint8  `yaml:"decimals"`
	PriceID   string `yaml:"priceId"`
	Tolerance string `yaml:"tolerance"`
}

// ApplyNetworksFile overlays the YAML file at path onto base.
func ApplyNetworksFile(base []domain.NetworkProfile, path string) ([]domain.NetworkProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network config: %w", err)
	}
	return ApplyNetworkOverrides(base, raw)
}

func ApplyNetworkOverrides(base []domain.NetworkProfile, raw []byte) ([]domain.NetworkProfile, error) {
	var file networksFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse network config: %w", err)
	}

	out := make([]domain.NetworkProfile, len(base))
	copy(out, base)
	index := make(map[domain.NetworkID]int, len(out))
	for i, profile := range out {
		index[profile.ID] = i
	}

	for _, override := range file.Networks {
		id, err := domain.ParseNetworkID(override.ID)
		if err != nil {
			return nil, fmt.Errorf("network config: %w", err)
		}
		pos, ok := index[id]
		if !ok {
			out = append(out, domain.NetworkProfile{ID: id, NativeDecimals: 18})
			pos = len(out) - 1
			index[id] = pos
		}
		profile, err := override.apply(out[pos])
		if err != nil {
			return nil, fmt.Errorf("network config %s: %w", id, err)
		}
		out[pos] = profile
	}
	return out, nil
}

func (o networkOverride) apply(profile domain.NetworkProfile) (domain.NetworkProfile, error) {
	if o.ChainID != 0 {
		profile.ChainID = o.ChainID
	}
	if strings.TrimSpace(o.RPCURL) != "" {
		profile.RPCURL = strings.TrimSpace(o.RPCURL)
	}
	if o.NativeSymbol != "" {
		profile.NativeSymbol = o.NativeSymbol
	}
	if o.NativeReward != "" {
		profile.NativeReward = o.NativeReward
	}
	if o.RewardToken != nil {
		token := domain.TokenProfile{}
		if profile.RewardToken != nil {
			token = *profile.RewardToken
		}
		if o.RewardToken.Symbol != "" {
			token.Symbol = o.RewardToken.Symbol
		}
		if o.RewardToken.Address != "" {
			token.Address = o.RewardToken.Address
		}
		if o.RewardToken.Decimals != 0 {
			token.Decimals = o.RewardToken.Decimals
		}
		if o.RewardToken.Distributor != "" {
			token.Distributor = o.RewardToken.Distributor
		}
		profile.RewardToken = &token
	}
	if len(o.Signers) > 0 {
		signers := make(map[domain.SignerRole]string, len(profile.Signers)+len(o.Signers))
		for role, key := range profile.Signers {
			signers[role] = key
		}
		for role, key := range o.Signers {
			switch r := domain.SignerRole(strings.ToLower(role)); r {
			case domain.SignerToken, domain.SignerNative:
				signers[r] = key
			default:
				return profile, fmt.Errorf("unknown signer role %q", role)
			}
		}
		profile.Signers = signers
	}
	if len(o.PurchaseAssets) > 0 {
		merged := make(map[domain.AssetType]domain.AssetProfile, len(profile.PurchaseAssets)+len(o.PurchaseAssets))
		for key, asset := range profile.PurchaseAssets {
			merged[key] = asset
		}
		for _, raw := range o.PurchaseAssets {
			asset, err := raw.profile()
			if err != nil {
				return profile, err
			}
			merged[asset.Type] = asset
		}
		profile.PurchaseAssets = merged
	}
	return profile, nil
}

func (a assetOverride) profile() (domain.AssetProfile, error) {
	assetType := domain.ParseAssetType(a.Type)
	if assetType == "" {
		return domain.AssetProfile{}, fmt.Errorf("purchase asset type is required")
	}
	if !a.Native && strings.TrimSpace(a.Contract) == "" {
		return domain.AssetProfile{}, fmt.Errorf("asset %s: contract is required", assetType)
	}
	if a.PriceID == "" {
		return domain.AssetProfile{}, fmt.Errorf("asset %s: priceId is required", assetType)
	}
	decimals := a.Decimals
	if decimals == 0 {
		decimals = 18
	}
	tolerance, ok := new(big.Int).SetString(strings.TrimSpace(a.Tolerance), 10)
	if !ok || tolerance.Sign() < 0 {
		return domain.AssetProfile{}, fmt.Errorf("asset %s: invalid tolerance %q", assetType, a.Tolerance)
	}
	return domain.AssetProfile{
		Type:      assetType,
		Native:    a.Native,
		Contract:  strings.TrimSpace(a.Contract),
		Decimals:  decimals,
		PriceID:   a.PriceID,
		Tolerance: tolerance,
	}, nil
}
