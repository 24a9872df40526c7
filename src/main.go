package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"miaotu-batch-go/src/batch"
	"miaotu-batch-go/src/configs"
	"miaotu-batch-go/src/core/image"
	"miaotu-batch-go/src/core/providers/vlllm"
	"miaotu-batch-go/src/core/utils"
	"miaotu-batch-go/src/vision"

	// 导入所有providers以确保init函数被调用
	_ "miaotu-batch-go/src/core/providers/vlllm/ollama"
	_ "miaotu-batch-go/src/core/providers/vlllm/openai"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// 命令行参数
type cliArgs struct {
	promptPath string
	configPath string
	baseURL    string
	backend    string
	model      string
	dryRun     bool
	serve      bool
}

func parseArgs() *cliArgs {
	args := &cliArgs{}
	flag.StringVar(&args.promptPath, "prompt", "", "提示词配置JSON文件路径（必填）")
	flag.StringVar(&args.configPath, "config", "", "应用配置YAML文件路径（默认.config.yaml或config.yaml）")
	flag.StringVar(&args.baseURL, "url", "", "推理服务地址（如 http://localhost:8080）")
	flag.StringVar(&args.backend, "backend", "", "后端协议类型：openai 或 ollama（默认取配置文件）")
	flag.StringVar(&args.model, "model", "", "模型名称，优先于提示词配置中的model字段")
	flag.BoolVar(&args.dryRun, "dry-run", false, "只验证输入图片，不调用模型")
	flag.BoolVar(&args.serve, "serve", false, "以HTTP服务方式运行")
	flag.Parse()
	return args
}

func LoadConfigAndLogger(args *cliArgs) (*configs.Config, *utils.Logger, error) {
	config, configPath, err := configs.LoadConfig(args.configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := utils.NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	if configPath != "" {
		logger.Debug(fmt.Sprintf("日志系统初始化成功, 配置文件路径: %s", configPath))
	}

	return config, logger, nil
}

// buildVLLMConfig 合并配置来源：命令行参数 > 提示词配置 > 应用配置
func buildVLLMConfig(config *configs.Config, prompt *configs.PromptConfig, args *cliArgs) *configs.VLLMConfig {
	vlllmConfig := config.VLLLM

	if args.backend != "" {
		vlllmConfig.Type = args.backend
	}
	if args.baseURL != "" {
		vlllmConfig.BaseURL = args.baseURL
	}

	// 模型名称解析：命令行优先，其次提示词配置，最后应用配置
	if args.model != "" {
		vlllmConfig.ModelName = args.model
	} else if prompt.Model != "" {
		vlllmConfig.ModelName = prompt.Model
	}

	if key := os.Getenv("VLLLM_API_KEY"); key != "" && vlllmConfig.APIKey == "" {
		vlllmConfig.APIKey = key
	}

	return &vlllmConfig
}

// StartHttpServer 启动HTTP服务（支持优雅关机）
func StartHttpServer(config *configs.Config, service *vision.DefaultVisionService, logger *utils.Logger, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	if config.Log.LogLevel == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// API路由全部挂载到/api前缀下
	apiGroup := router.Group("/api")
	if err := service.Start(groupCtx, router, apiGroup); err != nil {
		logger.Error(fmt.Sprintf("Vision 服务启动失败: %v", err))
		return nil, err
	}

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Web.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("HTTP 服务已启动，访问地址: http://0.0.0.0:%d/api/vision", config.Web.Port))

		// 在单独的goroutine中监听关闭信号
		go func() {
			<-groupCtx.Done()
			logger.Info("收到关闭信号，开始关闭HTTP服务...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error(fmt.Sprintf("HTTP服务关闭失败: %v", err))
			} else {
				logger.Info("HTTP服务已优雅关闭")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf("HTTP 服务启动失败: %v", err))
			return err
		}
		return nil
	})

	return httpServer, nil
}

// GracefulShutdown 等待系统信号并优雅退出
func GracefulShutdown(cancel context.CancelFunc, logger *utils.Logger, g *errgroup.Group) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	logger.Info(fmt.Sprintf("接收到系统信号: %v，开始优雅关闭服务", sig))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error(fmt.Sprintf("服务关闭过程中出现错误: %v", err))
			os.Exit(1)
		}
		logger.Info("所有服务已优雅关闭")
	case <-time.After(15 * time.Second):
		logger.Error("服务关闭超时，强制退出")
		os.Exit(1)
	}
}

func main() {
	args := parseArgs()

	config, logger, err := LoadConfigAndLogger(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置或初始化日志系统失败:", err)
		os.Exit(1)
	}
	defer logger.Close()

	// 加载.env文件，不存在时使用系统环境变量
	if err := godotenv.Load(); err != nil {
		logger.Debug("未找到.env文件，使用系统环境变量")
	}

	if args.promptPath == "" {
		logger.Error("缺少-prompt参数，请指定提示词配置文件")
		os.Exit(1)
	}

	// 提示词配置在处理任何输入之前完成校验
	prompt, err := configs.LoadPromptConfig(args.promptPath)
	if err != nil {
		logger.Error(fmt.Sprintf("加载提示词配置失败: %v", err))
		os.Exit(1)
	}

	vlllmConfig := buildVLLMConfig(config, prompt, args)
	validator := image.NewValidator(&vlllmConfig.Security, logger)

	provider, err := vlllm.Create(vlllmConfig.Type, vlllmConfig, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("创建VLLLM提供者失败: %v", err))
		os.Exit(1)
	}
	defer provider.Cleanup()

	if args.serve {
		runServer(config, prompt, validator, provider, logger)
		return
	}

	driver := batch.NewDriver(prompt, validator, provider, logger, os.Stdout, args.dryRun)
	outcome := driver.Run(context.Background(), os.Stdin)

	// os.Exit不执行defer，文件日志和连接在退出前显式关闭
	provider.Cleanup()
	logger.Close()
	os.Exit(outcome.ExitCode())
}

// runServer HTTP服务模式
func runServer(config *configs.Config, prompt *configs.PromptConfig, validator *image.Validator, provider *vlllm.Provider, logger *utils.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, groupCtx := errgroup.WithContext(ctx)

	service := vision.NewDefaultVisionService(config, prompt, validator, provider, logger)
	if _, err := StartHttpServer(config, service, logger, g, groupCtx); err != nil {
		logger.Error(fmt.Sprintf("启动服务失败: %v", err))
		cancel()
		os.Exit(1)
	}

	GracefulShutdown(cancel, logger, g)

	logger.Info("程序已成功退出")
}
