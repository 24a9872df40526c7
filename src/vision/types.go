package vision

// VisionRequest 图片分析请求结构（从multipart表单解析）
type VisionRequest struct {
	Question string // 问题文本（从表单字段获取），为空时使用提示词配置
	Image    []byte // 图片数据（从文件字段获取）
	ClientID string // 客户端ID（从请求头获取）
}

// VisionResponse 图片分析标准响应结构
type VisionResponse struct {
	Success bool   `json:"success"`           // 是否成功
	Result  string `json:"result,omitempty"`  // 分析结果（成功时）
	Message string `json:"message,omitempty"` // 错误信息（失败时）
}
