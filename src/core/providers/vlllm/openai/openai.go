package openai

import (
	"miaotu-batch-go/src/core/providers/vlllm"
	"miaotu-batch-go/src/core/utils"
)

// NewProvider 创建OpenAI兼容类型的VLLLM提供者实例
// 适用于llama.cpp server等暴露/v1/chat/completions的服务
func NewProvider(config *vlllm.Config, logger *utils.Logger) (*vlllm.Provider, error) {
	provider, err := vlllm.NewProvider(config, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("OpenAI VLLLM Provider创建成功 %v", map[string]interface{}{
		"model_name": config.ModelName,
		"base_url":   config.BaseURL,
	})

	return provider, nil
}

// init 注册OpenAI VLLLM提供者
func init() {
	vlllm.Register("openai", NewProvider)
}
