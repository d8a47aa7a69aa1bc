// Package sandbox 封装了远程代码执行后端。execute-code 工具把求解器
// 生成的脚本提交给该后端，在隔离环境中运行并取回输出。
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 90 * time.Second

// Config 描述代码执行后端的接入方式。
type Config struct {
	// Endpoint 是后端的执行接口地址，例如 http://sandbox:8194/run。
	Endpoint string
	// Token 为可选的 Bearer 认证令牌。
	Token   string
	Timeout time.Duration
}

// Result 是一次脚本执行的完整输出。脚本抛出异常不算执行失败，
// 异常信息原样返回给调用方作为观察结果。
type Result struct {
	Output    string `json:"output"`
	Exception string `json:"exception,omitempty"`
}

// Runner 抽象了代码执行后端，便于在测试中替换。
type Runner interface {
	Run(ctx context.Context, code string) (Result, error)
}

// Client 通过 HTTP 调用远程代码执行后端。
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient 根据配置创建代码执行客户端。
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("未配置代码执行后端地址")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		endpoint: endpoint,
		token:    strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Run 提交脚本并等待执行结束。
func (c *Client) Run(ctx context.Context, code string) (Result, error) {
	if strings.TrimSpace(code) == "" {
		return Result{}, errors.New("待执行的脚本不能为空")
	}

	payload, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return Result{}, fmt.Errorf("序列化执行请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("构建执行请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("请求代码执行后端失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Result{}, fmt.Errorf("代码执行后端返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("解析执行结果失败: %w", err)
	}
	return result, nil
}

var _ Runner = (*Client)(nil)
