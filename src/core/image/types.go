package image

import "sync/atomic"

// Format 图片格式，由魔数嗅探得出
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
)

// ValidatedImage 验证通过的图片：原始字节与已确认的格式成对出现
// 格式检测只在验证时做一次，后续使用者直接信任Format
type ValidatedImage struct {
	Data   []byte // 原始图片字节
	Format Format // 已确认的图片格式
}

// Metrics 图片验证统计信息
type Metrics struct {
	TotalValidated    int64 // 总验证数量
	FailedValidations int64 // 验证失败次数
}

// 原子计数器，验证器内部使用
type metricsCounter struct {
	totalValidated    int64
	failedValidations int64
}

func (m *metricsCounter) addTotal()  { atomic.AddInt64(&m.totalValidated, 1) }
func (m *metricsCounter) addFailed() { atomic.AddInt64(&m.failedValidations, 1) }

func (m *metricsCounter) snapshot() Metrics {
	return Metrics{
		TotalValidated:    atomic.LoadInt64(&m.totalValidated),
		FailedValidations: atomic.LoadInt64(&m.failedValidations),
	}
}
