package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"chainsettle/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findNetwork(t *testing.T, networks []domain.NetworkProfile, id domain.NetworkID) domain.NetworkProfile {
	t.Helper()
	for _, profile := range networks {
		if profile.ID == id {
			return profile
		}
	}
	t.Fatalf("network %s not found", id)
	return domain.NetworkProfile{}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(EnvMap{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, GasConfig{MinGwei: 5, MaxGwei: 50, BaseIncreasePercent: 10}, cfg.Gas)
	assert.Equal(t, 60*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, time.Second, cfg.ReceiptPoll)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "", cfg.DBDriver)
	assert.Len(t, cfg.Networks, 5)

	fuse := findNetwork(t, cfg.Networks, domain.NetworkFuse)
	assert.Equal(t, "https://rpc.fuse.io", fuse.RPCURL)
	assert.Equal(t, "0.005", fuse.NativeReward)
	assert.Equal(t, defaultFuseRewardContract, fuse.RewardToken.Distributor)
	assert.Equal(t, "FUSE_DWAT_SIGNER_KEY", fuse.Signers[domain.SignerToken])
	assert.Equal(t, "FUSE_SIGNER_KEY", fuse.Signers[domain.SignerNative])

	ethereum := findNetwork(t, cfg.Networks, domain.NetworkEthereum)
	assert.Empty(t, ethereum.RPCURL)
	assert.Empty(t, ethereum.PurchaseAssets)
}

func TestLoadInfuraEndpoints(t *testing.T) {
	cfg, err := Load(EnvMap{"INFURA_PROJECT_ID": "abc123", "POLYGON_RPC_URL": "https://polygon.example"})
	require.NoError(t, err)

	assert.Equal(t, "https://mainnet.infura.io/v3/abc123", findNetwork(t, cfg.Networks, domain.NetworkEthereum).RPCURL)
	assert.Equal(t, "https://arbitrum-mainnet.infura.io/v3/abc123", findNetwork(t, cfg.Networks, domain.NetworkArbitrum).RPCURL)
	assert.Equal(t, "https://polygon.example", findNetwork(t, cfg.Networks, domain.NetworkPolygon).RPCURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]EnvMap{
		"min above max":   {"GAS_MIN_GWEI": "60", "GAS_MAX_GWEI": "50"},
		"bad gas":         {"GAS_MAX_GWEI": "many"},
		"bad duration":    {"CONFIRM_TIMEOUT": "soon"},
		"zero duration":   {"RECEIPT_POLL_INTERVAL": "0s"},
		"bad driver":      {"DB_DRIVER": "postgres", "DB_DSN": "x"},
		"driver no dsn":   {"DB_DRIVER": "mysql"},
		"missing overlay": {"NETWORK_CONFIG_FILE": filepath.Join(t.TempDir(), "missing.yaml")},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(env)
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresSource(t *testing.T) {
	_, err := Load(nil)
	assert.Error(t, err)
}

func TestApplyNetworksFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
networks:
  - id: polygon
    rpcUrl: https://polygon-rpc.example
    purchaseAssets:
      - type: DAI
        contract: "0x8f3cf7ad23cd3cadbd9735aff958023239c6a063"
        decimals: 18
        priceId: dai
        tolerance: "10000000000000000"
  - id: ethereum
    rewardToken:
      address: "0x00000000000000000000000000000000000000ee"
    signers:
      token: CUSTOM_ETH_KEY
`), 0o600))

	cfg, err := Load(EnvMap{"NETWORK_CONFIG_FILE": path})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.NetworksFile)

	polygon := findNetwork(t, cfg.Networks, domain.NetworkPolygon)
	assert.Equal(t, "https://polygon-rpc.example", polygon.RPCURL)
	dai, err := polygon.Asset("dai")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", dai.Tolerance.String())
	_, err = polygon.Asset("usdt")
	assert.NoError(t, err)

	ethereum := findNetwork(t, cfg.Networks, domain.NetworkEthereum)
	assert.Equal(t, "WDWAT", ethereum.RewardToken.Symbol)
	assert.Equal(t, "0x00000000000000000000000000000000000000ee", ethereum.RewardToken.Address)
	assert.Equal(t, "CUSTOM_ETH_KEY", ethereum.Signers[domain.SignerToken])
}

func TestApplyNetworkOverridesRejectsUnknownNetwork(t *testing.T) {
	_, err := ApplyNetworkOverrides(nil, []byte("networks:\n  - id: avalanche\n"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
}

func TestApplyNetworkOverridesRejectsAssetWithoutTolerance(t *testing.T) {
	_, err := ApplyNetworkOverrides(DefaultNetworks(EnvMap{}), []byte(`
networks:
  - id: binance
    purchaseAssets:
      - type: busd
        contract: "0xe9e7cea3dedca5984780bafc599bd69add087d56"
        priceId: binance-usd
`))
	assert.Error(t, err)
}
