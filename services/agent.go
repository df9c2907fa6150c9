package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/qianlnk/llm-werewolf/config"
)

var (
	ErrMissingAPIKey = errors.New("未设置大模型密钥")
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 500
	maxHistoryEntries  = 40 // 对话历史上限,超出后丢弃最早的一问一答
)

// Responder 应答能力,游戏引擎对玩家的唯一要求
type Responder interface {
	// Respond 根据提示词给出回应,返回错误视为该玩家掉线,对局终止
	Respond(ctx context.Context, prompt string) (string, error)
	// Name 玩家显示名
	Name() string
	// Reset 清空会话记忆,开新对局前调用
	Reset()
}

// NewResponder 根据配置创建应答者
// model 为 human 时读终端输入,为 demo 时使用内置应答,其他值视为大模型
func NewResponder(cfg config.PlayerConfig) (Responder, error) {
	switch cfg.Model {
	case "human":
		return NewHumanAgent(cfg.Name), nil
	case "demo":
		return NewDemoAgent(cfg.Name, rand.Int63()), nil
	default:
		return NewLLMAgent(cfg)
	}
}

// seatPattern 从提示词里提取可选目标的座位号
var seatPattern = regexp.MustCompile(`player_\d+`)

// DemoAgent 内置应答者,不依赖网络
// 提示词里有可选目标时随机选一个,否则返回固定台词
type DemoAgent struct {
	name string
	rnd  *rand.Rand
	mu   sync.Mutex
	idx  int
}

// demoLines 固定发言台词
var demoLines = []string{
	"我是好人,昨晚没有发现异常。",
	"我觉得刚才那位发言有问题,逻辑站不住脚。",
	"我暂时保留意见,先听听其他人怎么说。",
	"我建议重点关注跳身份的玩家。",
	"我的票会投给发言最可疑的人。",
}

func NewDemoAgent(name string, seed int64) *DemoAgent {
	return &DemoAgent{
		name: name,
		rnd:  rand.New(rand.NewSource(seed)),
	}
}

func (a *DemoAgent) Respond(_ context.Context, prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 只在明确列出可选目标时才选人,避免把历史发言里的座位号当成目标
	if idx := strings.LastIndex(prompt, "可选目标"); idx >= 0 {
		if seats := seatPattern.FindAllString(prompt[idx:], -1); len(seats) > 0 {
			return seats[a.rnd.Intn(len(seats))], nil
		}
	}

	line := demoLines[a.idx%len(demoLines)]
	a.idx++
	return line, nil
}

func (a *DemoAgent) Name() string { return a.name }

func (a *DemoAgent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.idx = 0
}

// HumanAgent 真人应答者,从终端读取输入
type HumanAgent struct {
	name   string
	reader *bufio.Reader
}

func NewHumanAgent(name string) *HumanAgent {
	return &HumanAgent{
		name:   name,
		reader: bufio.NewReader(os.Stdin),
	}
}

func (a *HumanAgent) Respond(ctx context.Context, prompt string) (string, error) {
	fmt.Printf("\n%s\n[%s] 请输入> ", prompt, a.name)

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := a.reader.ReadString('\n')
		ch <- result{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("读取输入失败: %w", r.err)
		}
		return r.text, nil
	}
}

func (a *HumanAgent) Name() string { return a.name }

func (a *HumanAgent) Reset() {}

// LLMAgent 大模型应答者,自带会话记忆
type LLMAgent struct {
	name        string
	model       string
	temperature float64
	maxTokens   int
	client      openai.Client

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
}

// NewLLMAgent 创建大模型应答者,密钥从 api_key_env 指定的环境变量读取
func NewLLMAgent(cfg config.PlayerConfig) (*LLMAgent, error) {
	if cfg.APIKeyEnv == "" {
		return nil, fmt.Errorf("%w: 玩家 %s 未配置 api_key_env", ErrMissingAPIKey, cfg.Name)
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: 环境变量 %s 为空", ErrMissingAPIKey, cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return &LLMAgent{
		name:        cfg.Name,
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      openai.NewClient(opts...),
	}, nil
}

func (a *LLMAgent) Respond(ctx context.Context, prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, openai.UserMessage(prompt))

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(a.model),
		Messages:    a.history,
		Temperature: openai.Float(a.temperature),
		MaxTokens:   openai.Int(int64(a.maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("请求大模型失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("大模型返回为空: %s", a.model)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	a.history = append(a.history, openai.AssistantMessage(text))
	a.trimHistory()
	return text, nil
}

// trimHistory 控制历史长度,丢弃最早的消息
func (a *LLMAgent) trimHistory() {
	if len(a.history) > maxHistoryEntries {
		a.history = a.history[len(a.history)-maxHistoryEntries:]
	}
}

func (a *LLMAgent) Name() string { return a.name }

func (a *LLMAgent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}
