package ollama

import (
	"miaotu-batch-go/src/core/providers/vlllm"
	"miaotu-batch-go/src/core/utils"
)

// NewProvider 创建Ollama类型的VLLLM提供者实例
// 使用/api/chat原生协议，模型名称必须指定（如qwen2-vl:7b）
func NewProvider(config *vlllm.Config, logger *utils.Logger) (*vlllm.Provider, error) {
	provider, err := vlllm.NewProvider(config, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("Ollama VLLLM Provider创建成功 %v", map[string]interface{}{
		"model_name": config.ModelName,
		"base_url":   config.BaseURL,
	})

	return provider, nil
}

// init 注册Ollama VLLLM提供者
func init() {
	vlllm.Register("ollama", NewProvider)
}
