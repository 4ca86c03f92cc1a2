package application

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"chainsettle/internal/config"
	"chainsettle/internal/contracts"
	"chainsettle/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

const (
	testDWAT        = "0x00000000000000000000000000000000000d0a70"
	testDistributor = "0xb2d1AbA1931E06D9EF9aF440e6b1a3E7499fbaFC"
	testWDWAT       = "0x00000000000000000000000000000000000e0a70"
	testPolygonUSDT = "0xc2132d05d31c914a87c6611c10748aeb04b58e8f"
	testRecipient   = "0xAAA0000000000000000000000000000000000001"
)

type fakeChain struct {
	mu            sync.Mutex
	chainID       *big.Int
	gasPrice      *big.Int
	nonces        map[common.Address]uint64
	balances      map[common.Address]*big.Int
	tokenBalances map[common.Address]map[common.Address]*big.Int
	sendErr       map[common.Address]error
	revertFrom    map[common.Address]bool
	hangFrom      map[common.Address]bool
	// dropAckFrom accepts the transaction but fails the send call, as a
	// transport error after the node took it would.
	dropAckFrom   map[common.Address]bool
	// pooled makes accepted transactions visible to TransactionByHash.
	pooled        bool
	onSend        func()
	sent          []*types.Transaction
	senders       map[string]common.Address
	txs           map[string]domain.Transaction
	receipts      map[string]domain.Receipt
	closed        int
}

func newFakeChain(chainID uint64) *fakeChain {
	return &fakeChain{
		chainID:       new(big.Int).SetUint64(chainID),
		gasPrice:      gwei(10),
		nonces:        make(map[common.Address]uint64),
		balances:      make(map[common.Address]*big.Int),
		tokenBalances: make(map[common.Address]map[common.Address]*big.Int),
		sendErr:       make(map[common.Address]error),
		revertFrom:    make(map[common.Address]bool),
		hangFrom:      make(map[common.Address]bool),
		dropAckFrom:   make(map[common.Address]bool),
		senders:       make(map[string]common.Address),
		txs:           make(map[string]domain.Transaction),
		receipts:      make(map[string]domain.Receipt),
	}
}

func (f *fakeChain) setTokenBalance(token string, owner common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tokenAddr := common.HexToAddress(token)
	if f.tokenBalances[tokenAddr] == nil {
		f.tokenBalances[tokenAddr] = make(map[common.Address]*big.Int)
	}
	f.tokenBalances[tokenAddr][owner] = amount
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeChain) GasPrice(context.Context) (*big.Int, error) {
	if f.gasPrice == nil {
		return nil, errors.New("gas price unavailable")
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) PendingNonce(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *fakeChain) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if balance, ok := f.balances[account]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) CallContract(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	if len(data) != 36 || !bytes.Equal(data[:4], balanceOfSelector) {
		return nil, errors.New("unexpected call")
	}
	owner := common.BytesToAddress(data[4:36])
	f.mu.Lock()
	defer f.mu.Unlock()
	balance := new(big.Int)
	if holders, ok := f.tokenBalances[to]; ok && holders[owner] != nil {
		balance = holders[owner]
	}
	return common.LeftPadBytes(balance.Bytes(), 32), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.NewEIP155Signer(f.chainID), tx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[from]; err != nil {
		return err
	}
	f.sent = append(f.sent, tx)
	f.senders[tx.Hash().Hex()] = from
	f.nonces[from]++
	if f.onSend != nil {
		f.onSend()
	}
	if f.dropAckFrom[from] {
		return errors.New("write tcp 10.0.0.2:51234->10.0.0.9:8545: i/o timeout")
	}
	return nil
}

func (f *fakeChain) TransactionByHash(_ context.Context, hash string) (domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[strings.ToLower(hash)]
	if ok {
		return tx, nil
	}
	if from, sent := f.senders[hash]; sent && f.pooled {
		return domain.Transaction{TxHash: hash, From: strings.ToLower(from.Hex())}, nil
	}
	return domain.Transaction{}, domain.ErrTransactionNotFound
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash string) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if receipt, ok := f.receipts[strings.ToLower(hash)]; ok {
		return receipt, nil
	}
	from, ok := f.senders[hash]
	if !ok || f.hangFrom[from] {
		return domain.Receipt{}, domain.ErrTransactionNotFound
	}
	status := domain.ReceiptStatusSuccessful
	if f.revertFrom[from] {
		status = domain.ReceiptStatusFailed
	}
	return domain.Receipt{TxHash: hash, BlockNumber: 100, Status: status}, nil
}

func (f *fakeChain) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

type fakeDialer struct {
	mu     sync.Mutex
	chains map[string]*fakeChain
	dials  int
}

func (d *fakeDialer) dial(_ context.Context, url string) (ChainClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	chain, ok := d.chains[url]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return chain, nil
}

type testKeys struct {
	token  *ecdsa.PrivateKey
	native *ecdsa.PrivateKey
	eth    *ecdsa.PrivateKey
}

func (k testKeys) address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func newTestKeys(t *testing.T) testKeys {
	t.Helper()
	generate := func() *ecdsa.PrivateKey {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		return key
	}
	return testKeys{token: generate(), native: generate(), eth: generate()}
}

func (k testKeys) env() config.EnvMap {
	encode := func(key *ecdsa.PrivateKey) string {
		return "0x" + hex.EncodeToString(crypto.FromECDSA(key))
	}
	return config.EnvMap{
		"FUSE_DWAT_SIGNER_KEY": encode(k.token),
		"FUSE_SIGNER_KEY":      encode(k.native),
		"ETH_DWAT_SIGNER_KEY":  encode(k.eth),
	}
}

func testProfiles() []domain.NetworkProfile {
	return []domain.NetworkProfile{
		{
			ID:             domain.NetworkFuse,
			ChainID:        122,
			RPCURL:         "http://fuse.test",
			NativeSymbol:   "FUSE",
			NativeDecimals: 18,
			NativeReward:   "0.005",
			RewardToken: &domain.TokenProfile{
				Symbol:      "DWAT",
				Address:     testDWAT,
				Decimals:    18,
				Distributor: testDistributor,
			},
			Signers: map[domain.SignerRole]string{
				domain.SignerToken:  "FUSE_DWAT_SIGNER_KEY",
				domain.SignerNative: "FUSE_SIGNER_KEY",
			},
		},
		{
			ID:             domain.NetworkEthereum,
			ChainID:        1,
			RPCURL:         "http://ethereum.test",
			NativeSymbol:   "ETH",
			NativeDecimals: 18,
			RewardToken:    &domain.TokenProfile{Symbol: "WDWAT", Address: testWDWAT, Decimals: 18},
			Signers:        map[domain.SignerRole]string{domain.SignerToken: "ETH_DWAT_SIGNER_KEY"},
		},
		{
			ID:             domain.NetworkPolygon,
			ChainID:        137,
			RPCURL:         "http://polygon.test",
			NativeSymbol:   "POL",
			NativeDecimals: 18,
			PurchaseAssets: map[domain.AssetType]domain.AssetProfile{
				"usdt": {Type: "usdt", Contract: testPolygonUSDT, Decimals: 6, PriceID: "tether", Tolerance: big.NewInt(10_000)},
				"pol":  {Type: "pol", Native: true, Decimals: 18, PriceID: "polygon-ecosystem-token", Tolerance: big.NewInt(100_000_000_000_000)},
			},
		},
	}
}

type harness struct {
	keys     testKeys
	fuse     *fakeChain
	ethereum *fakeChain
	polygon  *fakeChain
	dialer   *fakeDialer
	registry *Registry
	sender   *TxSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		keys:     newTestKeys(t),
		fuse:     newFakeChain(122),
		ethereum: newFakeChain(1),
		polygon:  newFakeChain(137),
	}
	h.dialer = &fakeDialer{chains: map[string]*fakeChain{
		"http://fuse.test":     h.fuse,
		"http://ethereum.test": h.ethereum,
		"http://polygon.test":  h.polygon,
	}}
	registry, err := NewRegistry(testProfiles(), h.keys.env(), h.dialer.dial)
	require.NoError(t, err)
	h.registry = registry

	oracle, err := NewGasOracle(DefaultGasBidConfig())
	require.NoError(t, err)
	h.sender = NewTxSender(oracle, SenderConfig{ConfirmTimeout: 200 * time.Millisecond, PollInterval: 5 * time.Millisecond}, nil)
	return h
}

// fundFuse gives the distributor and the native signer enough to pay one
// reward of 1000 DWAT.
func (h *harness) fundFuse() {
	h.fuse.setTokenBalance(testDWAT, common.HexToAddress(testDistributor), mustUnits("5000", 18))
	h.fuse.balances[h.keys.address(h.keys.native)] = mustUnits("1", 18)
}

func (h *harness) fundEthereum() {
	h.ethereum.setTokenBalance(testWDWAT, h.keys.address(h.keys.eth), mustUnits("5000", 18))
}

func mustUnits(amount string, decimals uint8) *big.Int {
	units, err := ParseUnits(amount, decimals)
	if err != nil {
		panic(err)
	}
	return units
}

func transferLog(token string, from, to string, amount *big.Int) domain.LogEntry {
	return domain.LogEntry{
		Address: strings.ToLower(token),
		Topics: []string{
			contracts.TransferTopic.Hex(),
			common.BytesToHash(common.HexToAddress(from).Bytes()).Hex(),
			common.BytesToHash(common.HexToAddress(to).Bytes()).Hex(),
		},
		Data: "0x" + hex.EncodeToString(common.LeftPadBytes(amount.Bytes(), 32)),
	}
}

type recordingStore struct {
	mu      sync.Mutex
	records []domain.RewardRecord
}

func (s *recordingStore) StoreRewardRecords(ctx context.Context, records []domain.RewardRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

type recordingEvents struct {
	mu      sync.Mutex
	rewards []domain.RewardResult
	grants  []domain.PurchaseGrant
}

func (e *recordingEvents) PublishRewardResult(ctx context.Context, _ string, result domain.RewardResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rewards = append(e.rewards, result)
	return nil
}

func (e *recordingEvents) PublishPurchaseGrant(_ context.Context, grant domain.PurchaseGrant) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.grants = append(e.grants, grant)
	return nil
}

type fakePrices struct {
	prices map[string]*big.Rat
	err    error
	calls  int
}

func (p *fakePrices) USDPrice(_ context.Context, id string) (*big.Rat, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	price, ok := p.prices[id]
	if !ok {
		return nil, domain.ErrPriceFetchFailed
	}
	return price, nil
}
