package configs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// 未指定路径且默认位置没有文件时使用默认配置
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(t.TempDir())

	config, path, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() 失败: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want 空", path)
	}
	if config.VLLLM.Type != "openai" {
		t.Errorf("默认类型 = %s, want openai", config.VLLLM.Type)
	}
	if config.VLLLM.Timeout != 120 {
		t.Errorf("默认超时 = %d, want 120", config.VLLLM.Timeout)
	}
}

func TestLoadConfig_ExplicitMissing(t *testing.T) {
	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "没有的.yaml"))
	if err == nil {
		t.Fatal("显式指定的配置文件不存在时应报错")
	}
}

func TestLoadConfig_Parse(t *testing.T) {
	content := `
log:
  log_level: DEBUG
vlllm:
  type: ollama
  url: http://localhost:11434
  model_name: qwen2-vl:7b
  timeout: 60
  security:
    max_file_size: 5242880
    enable_deep_scan: true
web:
  enabled: true
  port: 9000
  auth:
    enabled: true
    token: secret
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	config, gotPath, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() 失败: %v", err)
	}
	if gotPath != path {
		t.Errorf("path = %q, want %q", gotPath, path)
	}
	if config.VLLLM.Type != "ollama" || config.VLLLM.ModelName != "qwen2-vl:7b" {
		t.Errorf("VLLLM配置解析错误: %+v", config.VLLLM)
	}
	if config.VLLLM.Timeout != 60 {
		t.Errorf("timeout = %d, want 60", config.VLLLM.Timeout)
	}
	if !config.VLLLM.Security.EnableDeepScan || config.VLLLM.Security.MaxFileSize != 5242880 {
		t.Errorf("安全配置解析错误: %+v", config.VLLLM.Security)
	}
	if !config.Web.Auth.Enabled || config.Web.Auth.Token != "secret" {
		t.Errorf("认证配置解析错误: %+v", config.Web.Auth)
	}
}
