package vlllm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"miaotu-batch-go/src/configs"
	"miaotu-batch-go/src/core/image"
	"miaotu-batch-go/src/core/utils"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrMissingModel ollama类型必须有模型名称，在任何HTTP调用之前报告
	ErrMissingModel = errors.New("缺少模型名称")
	// ErrRequestFailed 网络传输失败
	ErrRequestFailed = errors.New("请求发送失败")
	// ErrServerStatus 服务端返回非成功状态码
	ErrServerStatus = errors.New("服务端返回错误")
	// ErrBadResponse 响应体不符合预期结构
	ErrBadResponse = errors.New("响应解析失败")
)

// Config VLLLM配置结构
type Config struct {
	Type      string // openai 或 ollama
	ModelName string
	BaseURL   string
	APIKey    string
	Timeout   int // 单次请求超时时间（秒），0使用默认120秒
}

// Provider VLLLM提供者，按协议类型分发到对应的多模态API
type Provider struct {
	config *Config
	logger *utils.Logger

	// 直接的API客户端
	openaiClient *openai.Client // 用于openai类型
	httpClient   *http.Client   // 用于ollama类型
}

// OllamaRequest Ollama API请求结构
type OllamaRequest struct {
	Model    string                 `json:"model"`
	Messages []OllamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// OllamaMessage Ollama消息结构
type OllamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64编码的图片，不带data URL前缀
}

// OllamaResponse Ollama API响应结构
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// ResponseValue 模型回复内容
// 能解析为JSON时保留解析后的结构，否则保留原始字符串，使用方必须按类型分支处理
type ResponseValue struct {
	raw    string
	parsed json.RawMessage
}

// normalizeResponse 尝试把模型回复解析为JSON，失败则按原始字符串保留
func normalizeResponse(content string) ResponseValue {
	var probe interface{}
	if err := json.Unmarshal([]byte(content), &probe); err == nil {
		return ResponseValue{raw: content, parsed: json.RawMessage(content)}
	}
	return ResponseValue{raw: content}
}

// IsJSON 回复是否被解析为JSON结构
func (r ResponseValue) IsJSON() bool {
	return r.parsed != nil
}

// Raw 原始回复文本
func (r ResponseValue) Raw() string {
	return r.raw
}

// MarshalJSON JSON结构原样输出，普通文本按JSON字符串输出
func (r ResponseValue) MarshalJSON() ([]byte, error) {
	if r.parsed != nil {
		return r.parsed, nil
	}
	return json.Marshal(r.raw)
}

// NewProvider 创建新的VLLLM提供者
func NewProvider(config *Config, logger *utils.Logger) (*Provider, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &Provider{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}, nil
}

// Initialize 初始化Provider
// 配置错误在这里全部暴露，不会等到第一次请求才发现
func (p *Provider) Initialize() error {
	switch strings.ToLower(p.config.Type) {
	case "openai":
		baseURL := strings.TrimSuffix(p.config.BaseURL, "/")
		if baseURL == "" {
			baseURL = "http://localhost:8080" // 默认llama.cpp server地址
		}
		// 确保URL以/v1结尾
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = baseURL + "/v1"
		}

		// llama.cpp兼容服务不校验API key，openai客户端允许空值
		clientConfig := openai.DefaultConfig(p.config.APIKey)
		clientConfig.BaseURL = baseURL
		clientConfig.HTTPClient = p.httpClient
		p.openaiClient = openai.NewClientWithConfig(clientConfig)

	case "ollama":
		if p.config.BaseURL == "" {
			p.config.BaseURL = "http://localhost:11434" // 默认Ollama地址
		}
		if p.config.ModelName == "" {
			return fmt.Errorf("%w: ollama类型需要通过命令行或提示词配置指定模型", ErrMissingModel)
		}

	default:
		return fmt.Errorf("不支持的VLLLM类型: %s", p.config.Type)
	}

	p.logger.Debug("VLLLM Provider初始化成功 %v", map[string]interface{}{
		"type":       p.config.Type,
		"model_name": p.config.ModelName,
		"base_url":   p.config.BaseURL,
	})

	return nil
}

// Cleanup 清理资源
func (p *Provider) Cleanup() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Describe 描述一张已验证的图片 - 核心方法
// 每张图片构建一个独立请求，同步等待完整回复
func (p *Provider) Describe(ctx context.Context, sessionID string, prompt *configs.PromptConfig, img image.ValidatedImage) (ResponseValue, error) {
	base64Image := base64.StdEncoding.EncodeToString(img.Data)

	p.logger.Debug("开始调用多模态API %v", map[string]interface{}{
		"session_id": sessionID,
		"type":       p.config.Type,
		"model_name": p.config.ModelName,
		"format":     img.Format,
		"image_size": len(base64Image),
	})

	switch strings.ToLower(p.config.Type) {
	case "openai":
		return p.describeWithOpenAI(ctx, prompt, base64Image, img.Format)
	case "ollama":
		return p.describeWithOllama(ctx, prompt, base64Image)
	default:
		return ResponseValue{}, fmt.Errorf("不支持的VLLLM类型: %s", p.config.Type)
	}
}

// describeWithOpenAI 使用OpenAI兼容的Vision API
// 用户消息内容为[图片, 文本]的有序列表，图片在前
func (p *Provider) describeWithOpenAI(ctx context.Context, prompt *configs.PromptConfig, base64Image string, format image.Format) (ResponseValue, error) {
	dataURL := fmt.Sprintf("data:image/%s;base64,%s", format, base64Image)

	messages := []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleSystem,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: prompt.System,
				},
			},
		},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: dataURL,
					},
				},
				{
					Type: openai.ChatMessagePartTypeText,
					Text: prompt.Prompt,
				},
			},
		},
	}

	// go-openai的Temperature带omitempty，0值会整个丢掉temperature字段，
	// 服务端会改用自己的默认温度。用最小非零浮点数代替0保住该字段。
	temperature := float32(prompt.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := p.openaiClient.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       p.config.ModelName,
			Messages:    messages,
			Temperature: temperature,
		},
	)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return ResponseValue{}, fmt.Errorf("%w: %d: %s", ErrServerStatus, apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return ResponseValue{}, fmt.Errorf("%w: %d: %v", ErrServerStatus, reqErr.HTTPStatusCode, reqErr.Err)
		}
		return ResponseValue{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	// 空的choices按空回复处理，不算错误
	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return normalizeResponse(content), nil
}

// describeWithOllama 使用Ollama原生的Vision API
// Ollama需要纯base64图片数组，不需要data URL前缀
func (p *Provider) describeWithOllama(ctx context.Context, prompt *configs.PromptConfig, base64Image string) (ResponseValue, error) {
	request := OllamaRequest{
		Model: p.config.ModelName,
		Messages: []OllamaMessage{
			{
				Role:    "system",
				Content: prompt.System,
			},
			{
				Role:    "user",
				Content: prompt.Prompt,
				Images:  []string{base64Image},
			},
		},
		Stream: false,
		Options: map[string]interface{}{
			"temperature": prompt.Temperature,
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return ResponseValue{}, fmt.Errorf("请求序列化失败: %v", err)
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimSuffix(p.config.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return ResponseValue{}, fmt.Errorf("创建请求失败: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ResponseValue{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return ResponseValue{}, fmt.Errorf("%w: %d: %s", ErrServerStatus, resp.StatusCode, string(body))
	}

	var ollamaResp OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return ResponseValue{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	return normalizeResponse(ollamaResp.Message.Content), nil
}

// GetConfig 获取配置信息
func (p *Provider) GetConfig() *Config {
	return p.config
}
