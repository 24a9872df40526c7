package configs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrPromptInvalid 提示词文件不是合法JSON或缺少必需字段
	ErrPromptInvalid = errors.New("提示词配置无效")
	// ErrTemperatureRange 温度超出[0.0, 2.0]范围
	ErrTemperatureRange = errors.New("温度参数超出范围")
)

// PromptConfig 提示词配置，加载后不再修改
type PromptConfig struct {
	System      string  // 系统提示词
	Prompt      string  // 用户提示词
	Temperature float64 // 温度参数，范围[0.0, 2.0]
	Model       string  // 模型名称，可选，命令行参数优先
}

// LoadPromptConfig 从JSON文件加载提示词配置
// 在处理任何图片之前完成全部校验，校验失败时整个运行终止
func LoadPromptConfig(path string) (*PromptConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取提示词文件失败 '%s': %w", path, err)
	}

	var raw struct {
		System      *string  `json:"system"`
		Prompt      *string  `json:"prompt"`
		Temperature *float64 `json:"temperature"`
		Model       string   `json:"model"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: 解析提示词文件失败 '%s': %v", ErrPromptInvalid, path, err)
	}

	if raw.System == nil {
		return nil, fmt.Errorf("%w: 缺少system字段", ErrPromptInvalid)
	}
	if raw.Prompt == nil {
		return nil, fmt.Errorf("%w: 缺少prompt字段", ErrPromptInvalid)
	}
	if raw.Temperature == nil {
		return nil, fmt.Errorf("%w: 缺少temperature字段", ErrPromptInvalid)
	}
	if *raw.Temperature < 0.0 || *raw.Temperature > 2.0 {
		return nil, fmt.Errorf("%w: 温度必须在0.0到2.0之间，实际为%g", ErrTemperatureRange, *raw.Temperature)
	}

	return &PromptConfig{
		System:      *raw.System,
		Prompt:      *raw.Prompt,
		Temperature: *raw.Temperature,
		Model:       raw.Model,
	}, nil
}
