package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"vaultkey-controlplane/pkg/config"
)

// ErrNoTransactor is returned when a write is attempted without a signing key.
var ErrNoTransactor = errors.New("ledger: no authorized transactor available")

// errAlreadyKnown is the txpool rejection for a transaction it already holds.
const errAlreadyKnown = "already known"

// KeyRegistryABI is the subset of the on-chain key registry used by the oracle.
const KeyRegistryABI = `[
 {"type":"function","name":"registerKey","stateMutability":"nonpayable","inputs":[
  {"name":"keyHash","type":"bytes32"},{"name":"ownerId","type":"uint256"},
  {"name":"expiresAt","type":"uint256"},{"name":"maxUses","type":"uint256"},
  {"name":"keyKind","type":"string"}],"outputs":[]},
 {"type":"function","name":"revokeKey","stateMutability":"nonpayable","inputs":[
  {"name":"keyHash","type":"bytes32"},{"name":"ownerId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"isKeyValid","stateMutability":"view","inputs":[
  {"name":"keyHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"isKeyRegistered","stateMutability":"view","inputs":[
  {"name":"keyHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"isKeyRevoked","stateMutability":"view","inputs":[
  {"name":"keyHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

// ChainReader is the part of ethclient.Client used for health and receipts.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthereumOracle talks to the key registry contract over JSON-RPC.
type EthereumOracle struct {
	contract *bind.BoundContract
	backend  bind.ContractBackend
	reader   ChainReader
	address  common.Address
	auth     *bind.TransactOpts
	policy   callPolicy

	// serializes writes so pending nonces are not reused
	txMu sync.Mutex
}

var _ Oracle = (*EthereumOracle)(nil)

// DialEthereum connects to settings.RPCURL and binds the registry contract.
func DialEthereum(ctx context.Context, s config.LedgerSettings) (*EthereumOracle, *ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, s.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ledger rpc: %w", err)
	}

	chainID := big.NewInt(s.ChainID)
	if s.ChainID == 0 {
		if chainID, err = client.ChainID(dialCtx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("read chain id: %w", err)
		}
	}

	key, err := parsePrivateKey(s.PrivateKey)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("create transactor: %w", err)
	}

	oracle, err := NewEthereumOracle(client, client, common.HexToAddress(s.ContractAddress), auth, s)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return oracle, client, nil
}

// NewEthereumOracle binds the registry at address. auth may be nil for a read-only oracle.
func NewEthereumOracle(backend bind.ContractBackend, reader ChainReader, address common.Address, auth *bind.TransactOpts, s config.LedgerSettings) (*EthereumOracle, error) {
	parsed, err := abi.JSON(strings.NewReader(KeyRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	return &EthereumOracle{
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend:  backend,
		reader:   reader,
		address:  address,
		auth:     auth,
		policy: callPolicy{
			timeout:  s.Timeout,
			retries:  s.RetryCount,
			interval: s.RetryInterval,
		},
	}, nil
}

func (o *EthereumOracle) Kind() string { return KindEthereum }

func (o *EthereumOracle) RegisterKey(ctx context.Context, req RegisterRequest) (*Submission, error) {
	hash, err := keyHashBytes(req.KeyHash)
	if err != nil {
		return nil, err
	}
	return o.transact(ctx, "registerKey",
		hash,
		big.NewInt(req.OwnerID),
		big.NewInt(req.ExpiresAt.Unix()),
		big.NewInt(int64(req.MaxUses)),
		req.KeyKind,
	)
}

func (o *EthereumOracle) RevokeKey(ctx context.Context, keyHash string, ownerID int64) (*Submission, error) {
	hash, err := keyHashBytes(keyHash)
	if err != nil {
		return nil, err
	}
	return o.transact(ctx, "revokeKey", hash, big.NewInt(ownerID))
}

func (o *EthereumOracle) IsKeyValid(ctx context.Context, keyHash string) (bool, error) {
	return o.callBool(ctx, "isKeyValid", keyHash)
}

func (o *EthereumOracle) IsKeyRegistered(ctx context.Context, keyHash string) (bool, error) {
	return o.callBool(ctx, "isKeyRegistered", keyHash)
}

func (o *EthereumOracle) IsKeyRevoked(ctx context.Context, keyHash string) (bool, error) {
	return o.callBool(ctx, "isKeyRevoked", keyHash)
}

func (o *EthereumOracle) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt *types.Receipt
	err := o.policy.do(ctx, "receipt", func(ctx context.Context) error {
		r, err := o.reader.TransactionReceipt(ctx, common.HexToHash(txHash))
		if errors.Is(err, ethereum.NotFound) {
			return ErrReceiptNotFound
		}
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &Receipt{
		TxHash:   txHash,
		Status:   ReceiptFailed,
		GasUsed:  receipt.GasUsed,
		GasPrice: "0",
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		out.Status = ReceiptConfirmed
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.EffectiveGasPrice != nil {
		out.GasPrice = receipt.EffectiveGasPrice.String()
	}
	return out, nil
}

func (o *EthereumOracle) Health(ctx context.Context) (*Health, error) {
	h := &Health{Kind: KindEthereum, Contract: o.address.Hex()}
	if o.auth != nil {
		h.From = o.auth.From.Hex()
	}

	ctx, cancel := context.WithTimeout(ctx, o.policy.timeout)
	defer cancel()

	chainID, err := o.reader.ChainID(ctx)
	if err != nil {
		return h, fmt.Errorf("read chain id: %w", err)
	}
	block, err := o.reader.BlockNumber(ctx)
	if err != nil {
		return h, fmt.Errorf("read block number: %w", err)
	}

	h.Connected = true
	h.ChainID = chainID.Int64()
	h.LatestBlock = block
	return h, nil
}

// transact signs the call once and retries only the broadcast of that signed
// transaction, so retries never spend a second nonce.
func (o *EthereumOracle) transact(ctx context.Context, method string, params ...interface{}) (*Submission, error) {
	if o.auth == nil {
		return nil, ErrNoTransactor
	}

	o.txMu.Lock()
	defer o.txMu.Unlock()

	var tx *types.Transaction
	err := o.policy.do(ctx, method+".sign", func(ctx context.Context) error {
		opts := *o.auth
		opts.Context = ctx
		opts.NoSend = true
		var err error
		tx, err = o.contract.Transact(&opts, method, params...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	err = o.policy.do(ctx, method, func(ctx context.Context) error {
		err := o.backend.SendTransaction(ctx, tx)
		if err != nil && strings.Contains(err.Error(), errAlreadyKnown) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: send %s: %w", method, tx.Hash().Hex(), err)
	}

	sub := &Submission{
		TxHash:      tx.Hash().Hex(),
		From:        o.auth.From.Hex(),
		To:          o.address.Hex(),
		GasPrice:    "0",
		SubmittedAt: time.Now().UTC(),
	}
	if gp := tx.GasPrice(); gp != nil {
		sub.GasPrice = gp.String()
	}
	return sub, nil
}

func (o *EthereumOracle) callBool(ctx context.Context, method, keyHash string) (bool, error) {
	hash, err := keyHashBytes(keyHash)
	if err != nil {
		return false, err
	}

	var out []interface{}
	err = o.policy.do(ctx, method, func(ctx context.Context) error {
		out = nil
		return o.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, hash)
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("%s: unexpected result count %d", method, len(out))
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger private key: %w", err)
	}
	return key, nil
}
