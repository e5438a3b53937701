package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"vaultkey-controlplane/pkg/config"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var registryAddress = common.HexToAddress("0x00000000000000000000000000000000000b10c5")

// fakeChain backs the oracle with canned node responses. Methods it does not
// override panic through the nil embedded interface.
type fakeChain struct {
	bind.ContractBackend

	mu         sync.Mutex
	nonceCalls int
	sent       []*types.Transaction
	sendErrs   []error
	callOut    []byte
	callErr    error
	receipt    *types.Receipt
	receiptErr error
}

func (c *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonceCalls++
	return 7, nil
}

func (c *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		return err
	}
	return nil
}

func (c *fakeChain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return c.callOut, c.callErr
}

func (c *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) { return 99, nil }

func (c *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return c.receipt, c.receiptErr
}

func newTestOracle(t *testing.T, chain *fakeChain, signer bool) *EthereumOracle {
	t.Helper()

	var auth *bind.TransactOpts
	if signer {
		key, err := parsePrivateKey(testPrivateKey)
		require.NoError(t, err)
		auth, err = bind.NewKeyedTransactorWithChainID(key, big.NewInt(1337))
		require.NoError(t, err)
		auth.GasPrice = big.NewInt(1_000_000_000)
		auth.GasLimit = 200_000
	}

	o, err := NewEthereumOracle(chain, chain, registryAddress, auth, config.LedgerSettings{
		Timeout:       time.Second,
		RetryCount:    2,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return o
}

func registryABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(KeyRegistryABI))
	require.NoError(t, err)
	return parsed
}

func TestEthereumRegisterKeySignsOnceAcrossRetries(t *testing.T) {
	chain := &fakeChain{sendErrs: []error{
		errors.New("i/o timeout"),
		errors.New("already known"),
	}}
	o := newTestOracle(t, chain, true)

	sub, err := o.RegisterKey(context.Background(), RegisterRequest{
		KeyHash:   testHash,
		OwnerID:   42,
		ExpiresAt: time.Now().Add(time.Hour),
		MaxUses:   90,
		KeyKind:   "VIDEO_DECRYPTION",
	})
	require.NoError(t, err)

	require.Equal(t, 1, chain.nonceCalls)
	require.Len(t, chain.sent, 2)
	require.Equal(t, chain.sent[0].Hash(), chain.sent[1].Hash())
	require.Equal(t, chain.sent[0].Hash().Hex(), sub.TxHash)
	require.Equal(t, uint64(7), chain.sent[0].Nonce())
	require.Equal(t, registryABI(t).Methods["registerKey"].ID, chain.sent[0].Data()[:4])

	require.Equal(t, registryAddress.Hex(), sub.To)
	require.Equal(t, "1000000000", sub.GasPrice)
	require.Nil(t, sub.Mined)
}

func TestEthereumSendFailureIsReported(t *testing.T) {
	refused := errors.New("connection refused")
	chain := &fakeChain{sendErrs: []error{refused, refused, refused}}
	o := newTestOracle(t, chain, true)

	_, err := o.RevokeKey(context.Background(), testHash, 42)
	require.ErrorIs(t, err, refused)
	require.Equal(t, 1, chain.nonceCalls)
	require.Len(t, chain.sent, 3)
	require.Equal(t, registryABI(t).Methods["revokeKey"].ID, chain.sent[0].Data()[:4])
}

func TestEthereumWritesNeedTransactor(t *testing.T) {
	chain := &fakeChain{}
	o := newTestOracle(t, chain, false)

	_, err := o.RevokeKey(context.Background(), testHash, 42)
	require.ErrorIs(t, err, ErrNoTransactor)
	require.Empty(t, chain.sent)

	_, err = o.RegisterKey(context.Background(), RegisterRequest{KeyHash: "0x12"})
	require.ErrorIs(t, err, ErrInvalidKeyHash)
}

func TestEthereumCallBool(t *testing.T) {
	out, err := registryABI(t).Methods["isKeyValid"].Outputs.Pack(true)
	require.NoError(t, err)

	chain := &fakeChain{callOut: out}
	o := newTestOracle(t, chain, false)

	ok, err := o.IsKeyValid(context.Background(), testHash)
	require.NoError(t, err)
	require.True(t, ok)

	out, err = registryABI(t).Methods["isKeyRevoked"].Outputs.Pack(false)
	require.NoError(t, err)
	chain.callOut = out
	revoked, err := o.IsKeyRevoked(context.Background(), testHash)
	require.NoError(t, err)
	require.False(t, revoked)

	chain.callErr = errors.New("execution reverted")
	_, err = o.IsKeyRegistered(context.Background(), testHash)
	require.Error(t, err)

	_, err = o.IsKeyValid(context.Background(), "not-a-hash")
	require.ErrorIs(t, err, ErrInvalidKeyHash)
}

func TestEthereumReceiptMapping(t *testing.T) {
	cases := []struct {
		name    string
		receipt *types.Receipt
		want    Receipt
	}{
		{
			name: "confirmed",
			receipt: &types.Receipt{
				Status:            types.ReceiptStatusSuccessful,
				BlockNumber:       big.NewInt(12),
				GasUsed:           48_000,
				EffectiveGasPrice: big.NewInt(5),
			},
			want: Receipt{Status: ReceiptConfirmed, BlockNumber: 12, GasUsed: 48_000, GasPrice: "5"},
		},
		{
			name: "reverted without gas price",
			receipt: &types.Receipt{
				Status:      types.ReceiptStatusFailed,
				BlockNumber: big.NewInt(13),
				GasUsed:     21_000,
			},
			want: Receipt{Status: ReceiptFailed, BlockNumber: 13, GasUsed: 21_000, GasPrice: "0"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newTestOracle(t, &fakeChain{receipt: tc.receipt}, false)
			got, err := o.Receipt(context.Background(), "0xabc")
			require.NoError(t, err)
			tc.want.TxHash = "0xabc"
			require.Equal(t, tc.want, *got)
		})
	}
}

func TestEthereumReceiptNotMined(t *testing.T) {
	o := newTestOracle(t, &fakeChain{receiptErr: ethereum.NotFound}, false)
	_, err := o.Receipt(context.Background(), "0xabc")
	require.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestEthereumHealth(t *testing.T) {
	o := newTestOracle(t, &fakeChain{}, true)
	h, err := o.Health(context.Background())
	require.NoError(t, err)
	require.True(t, h.Connected)
	require.EqualValues(t, 1337, h.ChainID)
	require.EqualValues(t, 99, h.LatestBlock)
	require.Equal(t, registryAddress.Hex(), h.Contract)
	require.NotEmpty(t, h.From)
}
