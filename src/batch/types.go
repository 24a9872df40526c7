package batch

import "miaotu-batch-go/src/core/providers/vlllm"

// OutputRecord 每张成功处理的图片输出一条记录
// 独立序列化为一行JSON，立即写出，不做批量缓冲
type OutputRecord struct {
	File     string              `json:"file"`     // 输入中给出的原始路径
	Response vlllm.ResponseValue `json:"response"` // 模型回复，JSON结构或字符串
}

// Outcome 一次批处理运行的结果
type Outcome struct {
	Processed int  // 成功输出的记录数
	Failed    int  // 验证或调用失败的条目数
	HadErrors bool // 是否发生过任何失败
}

// ExitCode 映射为进程退出码
// 策略：只要有条目失败就返回1，dry-run模式同样适用
func (o Outcome) ExitCode() int {
	if o.HadErrors {
		return 1
	}
	return 0
}
