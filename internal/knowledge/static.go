package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义漏洞模式知识库检索的通用接口。
type Provider interface {
	Query(goal string) []Snippet
}

// Snippet 描述一条可供推理层引用的漏洞模式卡片。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过内存中的条目提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 4
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 根据挑战描述做关键词匹配，没有关键词的条目视为通用知识。
func (p *StaticProvider) Query(goal string) []Snippet {
	if p == nil {
		return nil
	}

	goal = strings.ToLower(strings.TrimSpace(goal))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, goal) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, goal string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(goal, normalized) {
			return true
		}
	}
	for _, tag := range snippet.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if strings.Contains(goal, normalized) {
			return true
		}
	}
	return false
}

// DefaultPatterns 返回内置的常见合约漏洞模式，作为无外部知识库
// 配置时的兜底。
func DefaultPatterns() []Snippet {
	return []Snippet{
		{
			Title:    "重入攻击",
			Content:  "合约先转账后记账时，接收方的 fallback/receive 可以在余额更新前递归回调提现函数。部署一个在 receive 中再次调用提现的攻击合约即可反复取款。",
			Keywords: []string{"reentrancy", "withdraw", "re-entrancy", "重入"},
			Tags:     []string{"fallback"},
		},
		{
			Title:    "tx.origin 鉴权",
			Content:  "使用 tx.origin 做身份校验的合约可以被钓鱼：诱导所有者调用攻击合约，攻击合约转而调用目标，此时 tx.origin 仍是所有者。",
			Keywords: []string{"tx.origin", "origin", "phishing"},
		},
		{
			Title:    "delegatecall 劫持",
			Content:  "delegatecall 在调用方的存储上执行被调合约代码。若可控制被调地址或参数，就能覆写调用方的关键存储槽，例如 owner。注意槽位布局必须与目标一致。",
			Keywords: []string{"delegatecall", "proxy", "library", "委托"},
		},
		{
			Title:    "整数回绕",
			Content:  "Solidity 0.8 之前的算术运算溢出不报错。余额扣减 unchecked 下溢会得到极大值。查看编译器版本与 unchecked 块。",
			Keywords: []string{"overflow", "underflow", "溢出", "unchecked"},
		},
		{
			Title:    "selfdestruct 强制转账",
			Content:  "selfdestruct 可以把余额强制发送到任意地址，绕过目标合约的 receive 限制。依赖 address(this).balance 精确值的不变量都能被打破。",
			Keywords: []string{"selfdestruct", "balance", "force"},
		},
		{
			Title:    "链上伪随机",
			Content:  "基于 blockhash、block.timestamp 或 blob 数据的随机数可以在同一笔交易内重新计算。部署攻击合约在同一区块内预测结果再调用目标。",
			Keywords: []string{"random", "coin", "blockhash", "guess", "随机"},
		},
		{
			Title:    "存储槽直读",
			Content:  "private 只是 Solidity 的可见性修饰，链上所有存储都可通过 eth_getStorageAt 读取。密码、密钥等敏感字段直接按槽位布局读出即可。",
			Keywords: []string{"private", "password", "secret", "storage", "vault"},
		},
		{
			Title:    "未保护的初始化与回退函数",
			Content:  "检查 constructor 拼写错误、可重复调用的 init 函数、以及 payable fallback 里夺取所有权的路径。先用小额转账触发 fallback 再调用提现是常见组合。",
			Keywords: []string{"fallback", "constructor", "init", "owner", "ownership"},
		},
	}
}

var _ Provider = (*StaticProvider)(nil)
