package batch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"miaotu-batch-go/src/configs"
	"miaotu-batch-go/src/core/image"
	"miaotu-batch-go/src/core/providers/vlllm"
	"miaotu-batch-go/src/core/utils"
)

// 1x1透明PNG
const tinyPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	logger, err := utils.NewLogger(configs.DefaultConfig())
	if err != nil {
		t.Fatalf("创建日志记录器失败: %v", err)
	}
	return logger
}

func testPrompt() *configs.PromptConfig {
	return &configs.PromptConfig{
		System:      "你是图片描述助手",
		Prompt:      "描述这张图片",
		Temperature: 0.7,
	}
}

func writeTinyPNG(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(tinyPNGBase64)
	if err != nil {
		t.Fatalf("解码测试图片失败: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}
	return path
}

func newTestValidator(t *testing.T) *image.Validator {
	t.Helper()
	return image.NewValidator(&configs.SecurityConfig{}, testLogger(t))
}

func newStubProvider(t *testing.T, handler http.HandlerFunc) (*vlllm.Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := vlllm.NewProvider(&vlllm.Config{
		Type:      "ollama",
		ModelName: "qwen2-vl:7b",
		BaseURL:   server.URL,
	}, testLogger(t))
	if err != nil {
		t.Fatalf("创建Provider失败: %v", err)
	}
	if err := provider.Initialize(); err != nil {
		t.Fatalf("初始化Provider失败: %v", err)
	}
	return provider, server
}

func TestRun_DryRun(t *testing.T) {
	// dry-run只做验证：两个坏路径记为失败，零条输出，与网络无关
	dir := t.TempDir()
	writeTinyPNG(t, dir, "red.png")
	if err := os.WriteFile(filepath.Join(dir, "not-an-image.txt"), []byte("plain text, not an image"), 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	input := strings.Join([]string{
		filepath.Join(dir, "red.png"),
		filepath.Join(dir, "missing.png"),
		filepath.Join(dir, "not-an-image.txt"),
	}, "\n")

	var out bytes.Buffer
	driver := NewDriver(testPrompt(), newTestValidator(t), nil, testLogger(t), &out, true)
	outcome := driver.Run(context.Background(), strings.NewReader(input))

	if outcome.Failed != 2 {
		t.Errorf("Failed = %d, want 2", outcome.Failed)
	}
	if outcome.Processed != 0 {
		t.Errorf("Processed = %d, want 0", outcome.Processed)
	}
	if !outcome.HadErrors {
		t.Error("HadErrors应为true")
	}
	if out.Len() != 0 {
		t.Errorf("dry-run不应有任何输出, got %q", out.String())
	}
	if outcome.ExitCode() != 1 {
		t.Errorf("ExitCode() = %d, want 1", outcome.ExitCode())
	}
}

func TestRun_JSONResponse(t *testing.T) {
	dir := t.TempDir()
	path := writeTinyPNG(t, dir, "red.png")

	provider, _ := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"{\"ok\":true}"},"done":true}`))
	})

	var out bytes.Buffer
	driver := NewDriver(testPrompt(), newTestValidator(t), provider, testLogger(t), &out, false)
	outcome := driver.Run(context.Background(), strings.NewReader(path+"\n"))

	if outcome.HadErrors || outcome.Processed != 1 {
		t.Fatalf("outcome = %+v, want 1条成功", outcome)
	}

	var record struct {
		File     string          `json:"file"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("输出不是合法JSON行: %v", err)
	}
	if record.File != path {
		t.Errorf("file = %q, want %q", record.File, path)
	}

	// response是解析后的JSON对象，不是字符串字面量
	var parsed map[string]interface{}
	if err := json.Unmarshal(record.Response, &parsed); err != nil {
		t.Fatalf("response不是JSON对象: %s", record.Response)
	}
	if parsed["ok"] != true {
		t.Errorf("response = %s, want {\"ok\":true}", record.Response)
	}
}

func TestRun_StringResponse(t *testing.T) {
	dir := t.TempDir()
	path := writeTinyPNG(t, dir, "red.png")

	provider, _ := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"a red circle"},"done":true}`))
	})

	var out bytes.Buffer
	driver := NewDriver(testPrompt(), newTestValidator(t), provider, testLogger(t), &out, false)
	outcome := driver.Run(context.Background(), strings.NewReader(path+"\n"))

	if outcome.HadErrors || outcome.Processed != 1 {
		t.Fatalf("outcome = %+v, want 1条成功", outcome)
	}

	var record struct {
		File     string      `json:"file"`
		Response interface{} `json:"response"`
	}
	if err := json.Unmarshal(out.Bytes(), &record); err != nil {
		t.Fatalf("输出不是合法JSON行: %v", err)
	}
	text, ok := record.Response.(string)
	if !ok || text != "a red circle" {
		t.Errorf("response = %v, want 字符串\"a red circle\"", record.Response)
	}
}

func TestRun_ServerErrorDoesNotAbort(t *testing.T) {
	// 第二个请求失败，第三个继续处理
	dir := t.TempDir()
	paths := []string{
		writeTinyPNG(t, dir, "one.png"),
		writeTinyPNG(t, dir, "two.png"),
		writeTinyPNG(t, dir, "three.png"),
	}

	var calls int64
	provider, _ := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
			return
		}
		w.Write([]byte(`{"message":{"content":"ok"},"done":true}`))
	})

	var out bytes.Buffer
	driver := NewDriver(testPrompt(), newTestValidator(t), provider, testLogger(t), &out, false)
	outcome := driver.Run(context.Background(), strings.NewReader(strings.Join(paths, "\n")))

	if outcome.Processed != 2 {
		t.Errorf("Processed = %d, want 2", outcome.Processed)
	}
	if outcome.Failed != 1 {
		t.Errorf("Failed = %d, want 1", outcome.Failed)
	}
	if !outcome.HadErrors {
		t.Error("HadErrors应为true")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("输出行数 = %d, want 2", len(lines))
	}
	for _, line := range lines {
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Errorf("输出行不是合法JSON: %q", line)
		}
	}
}

func TestRun_BlankLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writeTinyPNG(t, dir, "red.png")

	provider, _ := newStubProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"ok"},"done":true}`))
	})

	input := "\n  \n\t" + path + "  \n\n"
	var out bytes.Buffer
	driver := NewDriver(testPrompt(), newTestValidator(t), provider, testLogger(t), &out, false)
	outcome := driver.Run(context.Background(), strings.NewReader(input))

	if outcome.HadErrors {
		t.Errorf("空行和首尾空白不应造成失败: %+v", outcome)
	}
	if outcome.Processed != 1 {
		t.Errorf("Processed = %d, want 1", outcome.Processed)
	}
	if outcome.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", outcome.ExitCode())
	}
}

func TestRun_EmptyInput(t *testing.T) {
	var out bytes.Buffer
	driver := NewDriver(testPrompt(), newTestValidator(t), nil, testLogger(t), &out, false)
	outcome := driver.Run(context.Background(), strings.NewReader(""))

	if outcome.HadErrors || outcome.Processed != 0 {
		t.Errorf("空输入应直接成功结束: %+v", outcome)
	}
	if outcome.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", outcome.ExitCode())
	}
}
