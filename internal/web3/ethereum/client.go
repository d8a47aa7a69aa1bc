package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"Ethernaut-Agent/internal/web3"
)

// 交易 gas 估算失败时的保底上限。攻击合约的构造器可能消耗可观
// 的 gas，因此取值偏宽。
const fallbackGasLimit = 3_000_000

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	// PrivateKeyHex is the player's signing key for transactions and
	// deployments. Read-only usage works without it.
	PrivateKeyHex string
	Notes         string
}

// chainBackend 抽象链上交互所需的最小能力。ethclient.Client 与
// go-ethereum 的模拟后端都满足它。
type chainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	backend   chainBackend

	key  *ecdsa.PrivateKey
	from common.Address

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	client := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}

	if keyHex := strings.TrimSpace(cfg.PrivateKeyHex); keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("解析签名私钥失败: %w", err)
		}
		client.key = key
		client.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return client, nil
}

// NewSimulatedClient 将 go-ethereum 的模拟后端包装成链客户端，签名
// 密钥与链 ID 由调用方给定，供测试使用。
func NewSimulatedClient(name string, chainID *big.Int, key *ecdsa.PrivateKey, backend *backends.SimulatedBackend) *Client {
	client := &Client{
		name:    name,
		notes:   "simulated backend",
		backend: backend,
		chainID: chainID,
	}
	if key != nil {
		client.key = key
		client.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return client
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.backend = nil
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// PlayerAddress returns the address derived from the signing key.
func (c *Client) PlayerAddress() common.Address {
	return c.from
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	chainID, err := c.ensureChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}

	// 模拟后端没有 BlockNumber，退化为读最新区块头。
	var blockNumber uint64
	if reader, ok := c.backend.(interface {
		BlockNumber(ctx context.Context) (uint64, error)
	}); ok {
		blockNumber, err = reader.BlockNumber(ctx)
		if err != nil {
			return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
		}
	} else {
		head, err := c.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块头失败: %w", err)
		}
		blockNumber = head.Number.Uint64()
	}

	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// QueryState serves the query-state tool: balance, nonce, code and
// storage reads against the latest block.
func (c *Client) QueryState(ctx context.Context, query web3.StateQuery) (string, error) {
	if c == nil || c.backend == nil {
		return "", errors.New("未初始化的以太坊客户端")
	}
	addrHex := strings.TrimSpace(query.Address)
	if addrHex == "" {
		return "", errors.New("查询链上状态需要提供地址")
	}
	addr := common.HexToAddress(addrHex)

	switch strings.ToLower(strings.TrimSpace(query.Kind)) {
	case "", "balance":
		balance, err := c.backend.BalanceAt(ctx, addr, nil)
		if err != nil {
			return "", fmt.Errorf("查询余额失败: %w", err)
		}
		return toHexBig(balance), nil
	case "nonce":
		nonce, err := c.backend.PendingNonceAt(ctx, addr)
		if err != nil {
			return "", fmt.Errorf("查询交易计数失败: %w", err)
		}
		return fmt.Sprintf("0x%x", nonce), nil
	case "code":
		code, err := c.backend.CodeAt(ctx, addr, nil)
		if err != nil {
			return "", fmt.Errorf("查询合约代码失败: %w", err)
		}
		return hexutil.Encode(code), nil
	case "storage":
		slot := strings.TrimSpace(query.Slot)
		if slot == "" {
			return "", errors.New("storage 查询需要提供槽位")
		}
		value, err := c.backend.StorageAt(ctx, addr, common.HexToHash(slot), nil)
		if err != nil {
			return "", fmt.Errorf("查询存储槽失败: %w", err)
		}
		return hexutil.Encode(value), nil
	default:
		return "", fmt.Errorf("暂不支持的状态查询类型: %s", query.Kind)
	}
}

// CallContract serves the call-contract tool. Without Send it performs an
// eth_call; with Send it signs and broadcasts a transaction, then waits
// for the receipt so the caller observes the real outcome.
func (c *Client) CallContract(ctx context.Context, call web3.ContractCall) (web3.CallResult, error) {
	if c == nil || c.backend == nil {
		return web3.CallResult{}, errors.New("未初始化的以太坊客户端")
	}
	addrHex := strings.TrimSpace(call.Address)
	if addrHex == "" {
		return web3.CallResult{}, errors.New("合约调用需要提供目标地址")
	}
	to := common.HexToAddress(addrHex)

	data, err := decodeHexData(call.Data)
	if err != nil {
		return web3.CallResult{}, err
	}
	value, err := parseWei(call.Value)
	if err != nil {
		return web3.CallResult{}, err
	}

	if !call.Send {
		output, err := c.backend.CallContract(ctx, gethcore.CallMsg{
			From:  c.from,
			To:    &to,
			Data:  data,
			Value: value,
		}, nil)
		if err != nil {
			return web3.CallResult{}, fmt.Errorf("eth_call 失败: %w", err)
		}
		return web3.CallResult{Output: hexutil.Encode(output)}, nil
	}

	receipt, txHash, err := c.sendTransaction(ctx, &to, data, value)
	if err != nil {
		return web3.CallResult{}, err
	}
	return web3.CallResult{
		TxHash:   txHash,
		Reverted: receipt.Status == coretypes.ReceiptStatusFailed,
		GasUsed:  receipt.GasUsed,
	}, nil
}

// DeployContract serves the deploy-contract tool by broadcasting a raw
// contract-creation transaction. Constructor arguments are expected to be
// appended to the bytecode the way compilers emit them.
func (c *Client) DeployContract(ctx context.Context, bytecode []byte, value *big.Int) (web3.DeploymentResult, error) {
	if c == nil || c.backend == nil {
		return web3.DeploymentResult{}, errors.New("未初始化的以太坊客户端")
	}
	if len(bytecode) == 0 {
		return web3.DeploymentResult{}, errors.New("合约字节码不能为空")
	}

	receipt, txHash, err := c.sendTransaction(ctx, nil, bytecode, value)
	if err != nil {
		return web3.DeploymentResult{}, err
	}
	if receipt.Status == coretypes.ReceiptStatusFailed {
		return web3.DeploymentResult{}, fmt.Errorf("部署交易 %s 回滚", txHash.Hex())
	}
	return web3.DeploymentResult{
		ContractAddress: receipt.ContractAddress,
		TxHash:          txHash,
		GasUsed:         receipt.GasUsed,
	}, nil
}

// sendTransaction 构造、签名并广播一笔交易，等待其被打包。
func (c *Client) sendTransaction(ctx context.Context, to *common.Address, data []byte, value *big.Int) (*coretypes.Receipt, common.Hash, error) {
	if c.key == nil {
		return nil, common.Hash{}, errors.New("未配置签名私钥，无法发送交易")
	}
	chainID, err := c.ensureChainID(ctx)
	if err != nil {
		return nil, common.Hash{}, err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("获取 nonce 失败: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("获取 gas 价格失败: %w", err)
	}

	gasLimit, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:  c.from,
		To:    to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, common.Hash{}, fmt.Errorf("发送交易失败: %w", err)
	}
	// 模拟后端不会自动出块，需要手动提交。
	if miner, ok := c.backend.(interface{ Commit() common.Hash }); ok {
		miner.Commit()
	}

	receipt, err := bind.WaitMined(ctx, c.backend, signed)
	if err != nil {
		return nil, signed.Hash(), fmt.Errorf("等待交易 %s 打包失败: %w", signed.Hash().Hex(), err)
	}
	return receipt, signed.Hash(), nil
}

func (c *Client) ensureChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	reader, ok := c.backend.(interface {
		ChainID(ctx context.Context) (*big.Int, error)
	})
	if !ok {
		return nil, errors.New("后端不支持查询链 ID")
	}
	chainID, err := reader.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = chainID
	return chainID, nil
}

func toHexBig(value *big.Int) string {
	if value == nil {
		return "0x0"
	}
	return "0x" + value.Text(16)
}

func decodeHexData(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 calldata 失败: %w", err)
	}
	return data, nil
}

// parseWei 接受十进制或 0x 前缀的十六进制金额。
func parseWei(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return big.NewInt(0), nil
	}
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		base = 16
		raw = raw[2:]
	}
	value, ok := new(big.Int).SetString(raw, base)
	if !ok {
		return nil, fmt.Errorf("无法解析金额: %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("金额不能为负: %q", raw)
	}
	return value, nil
}

var _ web3.Client = (*Client)(nil)
