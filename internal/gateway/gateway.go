// Package gateway 是求解器与外部世界之间唯一的执行通道。推理适配器
// 产出的每个动作都由网关校验、路由到对应后端并转换为观察结果。
// 后端失败不会中断求解循环：失败同样是一条有价值的观察。
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "Ethernaut-Agent/internal/errors"
	"Ethernaut-Agent/internal/observability/metrics"
	"Ethernaut-Agent/internal/sandbox"
	"Ethernaut-Agent/internal/solver"
	"Ethernaut-Agent/internal/web3"
	"Ethernaut-Agent/pkg/logger"
)

// 网关只认识下列工具，其他名字一律拒绝且不触达任何后端。
const (
	ToolExecuteCode    = "execute-code"
	ToolDeployContract = "deploy-contract"
	ToolQueryState     = "query-state"
	ToolCallContract   = "call-contract"
)

// Tools 返回网关支持的工具名称，用于提示词与能力声明。
func Tools() []string {
	return []string{ToolExecuteCode, ToolDeployContract, ToolQueryState, ToolCallContract}
}

// ChainProvider 按名字解析链客户端。provider.Registry 实现了该接口。
type ChainProvider interface {
	DefaultClient() (web3.Client, error)
	Client(name string) (web3.Client, bool)
}

// Gateway 将动作路由到代码执行后端或链上客户端。
type Gateway struct {
	runner sandbox.Runner
	chains ChainProvider
	log    *slog.Logger
}

// NewGateway 组装工具网关。runner 与 chains 均可为空，对应的工具
// 在调用时会返回后端不可用的观察结果。
func NewGateway(runner sandbox.Runner, chains ChainProvider) *Gateway {
	return &Gateway{
		runner: runner,
		chains: chains,
		log:    logger.Named("gateway"),
	}
}

// Invoke 执行一次工具调用。本方法从不返回 error：所有失败都编码进
// 观察结果，由求解循环反馈给推理适配器。
func (g *Gateway) Invoke(ctx context.Context, tool string, arguments json.RawMessage) solver.Observation {
	obs := g.dispatch(ctx, tool, arguments)
	metrics.ObserveToolInvocation(tool, obs.Success)
	return obs
}

func (g *Gateway) dispatch(ctx context.Context, tool string, arguments json.RawMessage) solver.Observation {
	switch tool {
	case ToolExecuteCode:
		return g.executeCode(ctx, arguments)
	case ToolDeployContract:
		return g.deployContract(ctx, arguments)
	case ToolQueryState:
		return g.queryState(ctx, arguments)
	case ToolCallContract:
		return g.callContract(ctx, arguments)
	default:
		g.log.Warn("拒绝未知工具", "tool", tool)
		return failure(xerrors.CodeUnknownTool, fmt.Sprintf("未知工具 %q，可用工具: %s", tool, strings.Join(Tools(), ", ")))
	}
}

func (g *Gateway) executeCode(ctx context.Context, arguments json.RawMessage) solver.Observation {
	var args struct {
		Code string `json:"code"`
	}
	if err := decodeArguments(arguments, &args); err != nil {
		return failure(xerrors.CodeInvalidArgument, err.Error())
	}
	if strings.TrimSpace(args.Code) == "" {
		return failure(xerrors.CodeInvalidArgument, "execute-code 需要非空的 code 参数")
	}
	if g.runner == nil {
		return failure(xerrors.CodeBackendFailure, "代码执行后端未配置")
	}

	result, err := g.runner.Run(ctx, args.Code)
	if err != nil {
		g.log.Warn("代码执行后端失败", "error", err)
		return failure(xerrors.CodeBackendFailure, err.Error())
	}
	// 脚本抛异常仍算执行成功，异常文本是观察结果的一部分。
	return success(result)
}

func (g *Gateway) deployContract(ctx context.Context, arguments json.RawMessage) solver.Observation {
	var args struct {
		Bytecode string `json:"bytecode"`
		Value    string `json:"value"`
		Chain    string `json:"chain"`
	}
	if err := decodeArguments(arguments, &args); err != nil {
		return failure(xerrors.CodeInvalidArgument, err.Error())
	}
	bytecode, err := decodeBytecode(args.Bytecode)
	if err != nil {
		return failure(xerrors.CodeInvalidArgument, err.Error())
	}

	client, obs := g.resolveChain(args.Chain)
	if obs != nil {
		return *obs
	}

	value, err := parseValue(args.Value)
	if err != nil {
		return failure(xerrors.CodeInvalidArgument, err.Error())
	}

	deployed, err := client.DeployContract(ctx, bytecode, value)
	if err != nil {
		g.log.Warn("合约部署失败", "error", err)
		return failure(xerrors.CodeBackendFailure, err.Error())
	}
	return success(map[string]any{
		"contract_address": deployed.ContractAddress.Hex(),
		"tx_hash":          deployed.TxHash.Hex(),
		"gas_used":         deployed.GasUsed,
	})
}

func (g *Gateway) queryState(ctx context.Context, arguments json.RawMessage) solver.Observation {
	var args struct {
		Address string `json:"address"`
		Kind    string `json:"kind"`
		Slot    string `json:"slot"`
		Chain   string `json:"chain"`
	}
	if err := decodeArguments(arguments, &args); err != nil {
		return failure(xerrors.CodeInvalidArgument, err.Error())
	}

	client, obs := g.resolveChain(args.Chain)
	if obs != nil {
		return *obs
	}

	// kind=chain 返回网络快照，不针对具体地址。
	if strings.EqualFold(strings.TrimSpace(args.Kind), "chain") {
		snapshot, err := client.FetchChainSnapshot(ctx)
		if err != nil {
			g.log.Warn("链信息查询失败", "error", err)
			return failure(xerrors.CodeBackendFailure, err.Error())
		}
		return success(map[string]any{
			"kind":         "chain",
			"chain_id":     snapshot.ChainID,
			"block_number": snapshot.BlockNumber,
			"notes":        snapshot.Notes,
		})
	}

	value, err := client.QueryState(ctx, web3.StateQuery{
		Address: args.Address,
		Kind:    args.Kind,
		Slot:    args.Slot,
	})
	if err != nil {
		g.log.Warn("链上状态查询失败", "error", err)
		return failure(xerrors.CodeBackendFailure, err.Error())
	}
	return success(map[string]any{
		"address": args.Address,
		"kind":    args.Kind,
		"value":   value,
	})
}

func (g *Gateway) callContract(ctx context.Context, arguments json.RawMessage) solver.Observation {
	var args struct {
		Address string `json:"address"`
		Data    string `json:"data"`
		Value   string `json:"value"`
		Send    bool   `json:"send"`
		Chain   string `json:"chain"`
	}
	if err := decodeArguments(arguments, &args); err != nil {
		return failure(xerrors.CodeInvalidArgument, err.Error())
	}

	client, obs := g.resolveChain(args.Chain)
	if obs != nil {
		return *obs
	}

	result, err := client.CallContract(ctx, web3.ContractCall{
		Address: args.Address,
		Data:    args.Data,
		Value:   args.Value,
		Send:    args.Send,
	})
	if err != nil {
		g.log.Warn("合约调用失败", "error", err, "send", args.Send)
		return failure(xerrors.CodeBackendFailure, err.Error())
	}

	payload := map[string]any{"output": result.Output}
	if args.Send {
		payload["tx_hash"] = result.TxHash.Hex()
		payload["reverted"] = result.Reverted
		payload["gas_used"] = result.GasUsed
	}
	return success(payload)
}

// resolveChain 解析目标链客户端，失败时直接给出观察结果。
func (g *Gateway) resolveChain(name string) (web3.Client, *solver.Observation) {
	if g.chains == nil {
		obs := failure(xerrors.CodeBackendFailure, "链上客户端未配置")
		return nil, &obs
	}
	if name = strings.TrimSpace(name); name != "" {
		client, ok := g.chains.Client(name)
		if !ok {
			obs := failure(xerrors.CodeInvalidArgument, fmt.Sprintf("未配置名为 %s 的链", name))
			return nil, &obs
		}
		return client, nil
	}
	client, err := g.chains.DefaultClient()
	if err != nil {
		obs := failure(xerrors.CodeBackendFailure, err.Error())
		return nil, &obs
	}
	return client, nil
}

func decodeArguments(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return fmt.Errorf("工具参数不能为空")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("解析工具参数失败: %v", err)
	}
	return nil
}

func decodeBytecode(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("deploy-contract 需要非空的 bytecode 参数")
	}
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	bytecode, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("解析合约字节码失败: %v", err)
	}
	return bytecode, nil
}

func success(payload any) solver.Observation {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return failure(xerrors.CodeBackendFailure, fmt.Sprintf("序列化观察结果失败: %v", err))
	}
	return solver.Observation{Success: true, Payload: string(encoded)}
}

// parseValue 接受十进制或 0x 前缀的十六进制 wei 金额。
func parseValue(raw string) (*big.Int, error) {
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
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("无法解析金额: %q", raw)
	}
	return value, nil
}

func failure(category xerrors.Code, message string) solver.Observation {
	return solver.Observation{Success: false, Error: message, Category: category}
}

var _ solver.Gateway = (*Gateway)(nil)
