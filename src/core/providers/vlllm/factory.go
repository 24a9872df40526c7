package vlllm

import (
	"fmt"
	"sort"

	"miaotu-batch-go/src/configs"
	"miaotu-batch-go/src/core/utils"
)

// Factory VLLLM工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (*Provider, error)

var (
	factories = make(map[string]Factory)
)

// Register 注册VLLLM提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建VLLLM提供者实例
// 协议变体在启动时选定一次，之后不再切换
func Create(name string, vlllmConfig *configs.VLLMConfig, logger *utils.Logger) (*Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的VLLLM提供者: %s, 已注册: %v", name, GetRegisteredProviders())
	}

	config := &Config{
		Type:      vlllmConfig.Type,
		ModelName: vlllmConfig.ModelName,
		BaseURL:   vlllmConfig.BaseURL,
		APIKey:    vlllmConfig.APIKey,
		Timeout:   vlllmConfig.Timeout,
	}

	provider, err := factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建VLLLM提供者失败: %v", err)
	}

	if err := provider.Initialize(); err != nil {
		return nil, fmt.Errorf("初始化VLLLM提供者失败: %w", err)
	}

	logger.Debug("VLLLM提供者创建成功 %v", map[string]interface{}{
		"name":       name,
		"type":       config.Type,
		"model_name": config.ModelName,
	})

	return provider, nil
}

// GetRegisteredProviders 获取已注册的提供者列表，按名称排序
func GetRegisteredProviders() []string {
	var providers []string
	for name := range factories {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}
