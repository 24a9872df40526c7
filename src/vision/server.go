package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"miaotu-batch-go/src/configs"
	"miaotu-batch-go/src/core/auth"
	"miaotu-batch-go/src/core/image"
	"miaotu-batch-go/src/core/providers/vlllm"
	"miaotu-batch-go/src/core/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// 最大上传文件大小为5MB
	MAX_FILE_SIZE = 5 * 1024 * 1024
)

// DefaultVisionService 把批处理管线暴露为HTTP接口
// 同一个验证器和Provider，单张图片走multipart上传
type DefaultVisionService struct {
	logger    *utils.TaggedLogger
	config    *configs.Config
	prompt    *configs.PromptConfig
	validator *image.Validator
	provider  *vlllm.Provider
	authToken *auth.AuthToken
}

// NewDefaultVisionService 构造函数
func NewDefaultVisionService(config *configs.Config, prompt *configs.PromptConfig, validator *image.Validator, provider *vlllm.Provider, logger *utils.Logger) *DefaultVisionService {
	service := &DefaultVisionService{
		logger:    logger.WithTag("Vision"),
		config:    config,
		prompt:    prompt,
		validator: validator,
		provider:  provider,
	}

	if config.Web.Auth.Enabled {
		service.authToken = auth.NewAuthToken(config.Web.Auth.Token)
	}

	return service
}

// Start 注册所有Vision相关路由
func (s *DefaultVisionService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.GET("/vision", s.handleGet)
	apiGroup.POST("/vision", s.handlePost)
	apiGroup.OPTIONS("/vision", s.handleOptions)

	s.logger.Info("Vision HTTP服务路由注册完成")
	return nil
}

// handleOptions 处理OPTIONS请求（CORS）
func (s *DefaultVisionService) handleOptions(c *gin.Context) {
	s.addCORSHeaders(c)
	c.Status(http.StatusOK)
}

// handleGet 处理GET请求（状态检查）
func (s *DefaultVisionService) handleGet(c *gin.Context) {
	s.addCORSHeaders(c)

	config := s.provider.GetConfig()
	message := fmt.Sprintf("Vision接口运行正常，后端类型: %s", config.Type)
	c.String(http.StatusOK, message)
}

// handlePost 处理POST请求（图片分析）
func (s *DefaultVisionService) handlePost(c *gin.Context) {
	s.addCORSHeaders(c)

	if err := s.verifyAuth(c); err != nil {
		s.respondError(c, http.StatusUnauthorized, err.Error())
		s.logger.Warn(fmt.Sprintf("Vision认证失败: %v", err))
		return
	}

	req, err := s.parseMultipartRequest(c)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, err.Error())
		s.logger.Warn(fmt.Sprintf("Vision请求解析失败: %v", err))
		return
	}

	s.logger.Debug("收到Vision分析请求 %v", map[string]interface{}{
		"client_id":  req.ClientID,
		"question":   req.Question,
		"image_size": len(req.Image),
	})

	result, err := s.processVisionRequest(c.Request.Context(), req)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Vision请求处理失败: %v", err))
		c.JSON(http.StatusOK, VisionResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, VisionResponse{
		Success: true,
		Result:  result,
	})
}

// processVisionRequest 验证图片并调用多模态API
func (s *DefaultVisionService) processVisionRequest(ctx context.Context, req *VisionRequest) (string, error) {
	img, err := s.validator.ValidateBytes(req.Image)
	if err != nil {
		return "", fmt.Errorf("图片验证失败: %w", err)
	}

	// 表单里的问题优先于提示词配置
	prompt := *s.prompt
	if req.Question != "" {
		prompt.Prompt = req.Question
	}

	value, err := s.provider.Describe(ctx, uuid.New().String(), &prompt, img)
	if err != nil {
		return "", err
	}

	return value.Raw(), nil
}

// verifyAuth 验证Authorization头的bearer token，认证未启用时直接放行
func (s *DefaultVisionService) verifyAuth(c *gin.Context) error {
	if s.authToken == nil {
		return nil
	}

	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("无效的认证token")
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	isValid, _, err := s.authToken.VerifyToken(token)
	if err != nil || !isValid {
		return fmt.Errorf("无效的认证token或token已过期")
	}

	return nil
}

// parseMultipartRequest 解析multipart表单请求
func (s *DefaultVisionService) parseMultipartRequest(c *gin.Context) (*VisionRequest, error) {
	if err := c.Request.ParseMultipartForm(MAX_FILE_SIZE); err != nil {
		return nil, fmt.Errorf("解析multipart表单失败: %v", err)
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("缺少image文件字段: %v", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MAX_FILE_SIZE))
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %v", err)
	}

	return &VisionRequest{
		Question: c.Request.FormValue("question"),
		Image:    data,
		ClientID: c.GetHeader("Client-Id"),
	}, nil
}

// addCORSHeaders 添加CORS响应头
func (s *DefaultVisionService) addCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Client-Id")
}

// respondError 返回错误响应
func (s *DefaultVisionService) respondError(c *gin.Context, status int, message string) {
	c.JSON(status, VisionResponse{
		Success: false,
		Message: message,
	})
}
