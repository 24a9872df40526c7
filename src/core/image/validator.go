package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"miaotu-batch-go/src/configs"
	"miaotu-batch-go/src/core/utils"

	_ "image/gif"  // 注册GIF解码器
	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

var (
	// ErrFileNotFound 文件不存在
	ErrFileNotFound = errors.New("文件不存在")
	// ErrFileRead 文件存在但无法读取
	ErrFileRead = errors.New("文件无法读取")
	// ErrUnrecognizedFormat 文件头不匹配任何受支持的图片格式
	ErrUnrecognizedFormat = errors.New("无法识别的图片格式")
	// ErrSecurityLimit 图片超出安全限制
	ErrSecurityLimit = errors.New("图片超出安全限制")
)

// Validator 图片验证器
type Validator struct {
	config  *configs.SecurityConfig
	logger  *utils.Logger
	metrics metricsCounter
}

// NewValidator 创建新的图片验证器
func NewValidator(config *configs.SecurityConfig, logger *utils.Logger) *Validator {
	return &Validator{
		config: config,
		logger: logger,
	}
}

// Validate 验证路径指向的图片文件
// 三种基本失败各自独立：文件不存在、无法读取、格式无法识别
func (v *Validator) Validate(path string) (ValidatedImage, error) {
	v.metrics.addTotal()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		v.metrics.addFailed()
		return ValidatedImage{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		v.metrics.addFailed()
		return ValidatedImage{}, fmt.Errorf("%w '%s': %v", ErrFileRead, path, err)
	}

	img, err := v.validateBytes(data)
	if err != nil {
		v.metrics.addFailed()
		return ValidatedImage{}, fmt.Errorf("%w: %s", err, path)
	}

	return img, nil
}

// ValidateBytes 验证内存中的图片数据，HTTP上传等场景复用
func (v *Validator) ValidateBytes(data []byte) (ValidatedImage, error) {
	v.metrics.addTotal()

	img, err := v.validateBytes(data)
	if err != nil {
		v.metrics.addFailed()
		return ValidatedImage{}, err
	}

	return img, nil
}

func (v *Validator) validateBytes(data []byte) (ValidatedImage, error) {
	format, ok := DetectFormat(data)
	if !ok {
		return ValidatedImage{}, fmt.Errorf("%w（支持JPEG、PNG、WebP、GIF）", ErrUnrecognizedFormat)
	}

	if !v.isFormatAllowed(format) {
		return ValidatedImage{}, fmt.Errorf("%w: 配置不允许的格式 %s", ErrSecurityLimit, format)
	}

	if v.config.MaxFileSize > 0 && int64(len(data)) > v.config.MaxFileSize {
		return ValidatedImage{}, fmt.Errorf("%w: 文件大小%d字节，最大允许%d字节",
			ErrSecurityLimit, len(data), v.config.MaxFileSize)
	}

	if v.config.EnableDeepScan {
		if err := v.deepScan(data); err != nil {
			return ValidatedImage{}, err
		}
	}

	return ValidatedImage{Data: data, Format: format}, nil
}

// deepScan 解码图片头获取尺寸信息，这是最可靠的验证方式
func (v *Validator) deepScan(data []byte) error {
	config, actualFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: 图片解码失败: %v", ErrUnrecognizedFormat, err)
	}

	if v.config.MaxWidth > 0 && config.Width > v.config.MaxWidth ||
		v.config.MaxHeight > 0 && config.Height > v.config.MaxHeight {
		return fmt.Errorf("%w: 图片尺寸%dx%d，最大允许%dx%d",
			ErrSecurityLimit, config.Width, config.Height, v.config.MaxWidth, v.config.MaxHeight)
	}

	totalPixels := int64(config.Width) * int64(config.Height)
	if v.config.MaxPixels > 0 && totalPixels > v.config.MaxPixels {
		return fmt.Errorf("%w: 像素总数%d，最大允许%d", ErrSecurityLimit, totalPixels, v.config.MaxPixels)
	}

	v.logger.Debug("图片深度验证成功 %v", map[string]interface{}{
		"format": actualFormat,
		"width":  config.Width,
		"height": config.Height,
	})

	return nil
}

// isFormatAllowed 检查格式是否被配置允许，配置为空时全部放行
func (v *Validator) isFormatAllowed(format Format) bool {
	if len(v.config.AllowedFormats) == 0 {
		return true
	}
	for _, allowed := range v.config.AllowedFormats {
		if strings.EqualFold(allowed, string(format)) {
			return true
		}
	}
	return false
}

// GetMetrics 获取验证统计信息
func (v *Validator) GetMetrics() Metrics {
	return v.metrics.snapshot()
}
