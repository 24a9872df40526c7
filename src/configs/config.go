package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Log struct {
		LogLevel string `yaml:"log_level"`
		LogDir   string `yaml:"log_dir"`
		LogFile  string `yaml:"log_file"`
	} `yaml:"log"`

	// VLLLM 视觉语言大模型默认配置，命令行参数优先
	VLLLM VLLMConfig `yaml:"vlllm"`

	Web struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
		Auth    struct {
			Enabled bool   `yaml:"enabled"`
			Token   string `yaml:"token"`
		} `yaml:"auth"`
	} `yaml:"web"`
}

// SecurityConfig 图片安全配置结构
type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`    // 最大文件大小（字节），0表示不限制
	MaxPixels      int64    `yaml:"max_pixels"`       // 最大像素数量，0表示不限制
	MaxWidth       int      `yaml:"max_width"`        // 最大宽度，0表示不限制
	MaxHeight      int      `yaml:"max_height"`       // 最大高度，0表示不限制
	EnableDeepScan bool     `yaml:"enable_deep_scan"` // 启用深度解码验证
	AllowedFormats []string `yaml:"allowed_formats"`  // 允许的图片格式，空表示全部支持的格式
}

// VLLMConfig VLLLM配置结构（视觉语言大模型）
type VLLMConfig struct {
	Type      string         `yaml:"type"`       // API类型：openai 或 ollama
	ModelName string         `yaml:"model_name"` // 模型名称
	BaseURL   string         `yaml:"url"`        // API地址
	APIKey    string         `yaml:"api_key"`    // API密钥
	Timeout   int            `yaml:"timeout"`    // 单次请求超时时间（秒）
	Security  SecurityConfig `yaml:"security"`   // 图片安全配置
}

// DefaultConfig 返回默认配置，配置文件缺失时使用
func DefaultConfig() *Config {
	config := &Config{}
	config.Log.LogLevel = "INFO"
	config.Log.LogDir = "logs"
	config.VLLLM.Type = "openai"
	config.VLLLM.Timeout = 120
	config.Web.Port = 8989
	return config
}

// LoadConfig 从文件加载配置
// 未显式指定路径且默认位置没有配置文件时，使用默认配置
func LoadConfig(path string) (*Config, string, error) {
	explicit := path != ""
	if !explicit {
		path = ".config.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = "config.yaml"
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, path, err
		}
		return DefaultConfig(), "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}

	return config, path, nil
}
