package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"miaotu-batch-go/src/configs"
	"miaotu-batch-go/src/core/image"
	"miaotu-batch-go/src/core/providers/vlllm"
	"miaotu-batch-go/src/core/utils"

	"github.com/google/uuid"
)

// Describer 图片描述能力，由VLLLM Provider实现
type Describer interface {
	Describe(ctx context.Context, sessionID string, prompt *configs.PromptConfig, img image.ValidatedImage) (vlllm.ResponseValue, error)
}

// Driver 批处理驱动
// 逐条消费路径输入：验证 -> 调用 -> 输出，单条失败不中断整批
type Driver struct {
	prompt    *configs.PromptConfig
	validator *image.Validator
	describer Describer
	logger    *utils.Logger
	out       io.Writer
	dryRun    bool
}

// NewDriver 创建批处理驱动
// dryRun为true时只做本地验证，不发起任何网络调用
func NewDriver(prompt *configs.PromptConfig, validator *image.Validator, describer Describer, logger *utils.Logger, out io.Writer, dryRun bool) *Driver {
	return &Driver{
		prompt:    prompt,
		validator: validator,
		describer: describer,
		logger:    logger,
		out:       out,
		dryRun:    dryRun,
	}
}

// Run 消费输入流中的路径，每行一个，空行跳过
// 串行处理：同一时刻只有一个在途请求，输出顺序与输入顺序一致
func (d *Driver) Run(ctx context.Context, input io.Reader) Outcome {
	outcome := Outcome{}
	sessionID := uuid.New().String()
	encoder := json.NewEncoder(d.out)

	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		path := strings.TrimSpace(scanner.Text())
		if path == "" {
			continue
		}

		img, err := d.validator.Validate(path)
		if err != nil {
			d.logger.Error(fmt.Sprintf("图片验证失败: %v", err))
			outcome.Failed++
			outcome.HadErrors = true
			continue
		}

		// dry-run模式下验证通过即为处理完成
		if d.dryRun {
			continue
		}

		value, err := d.describer.Describe(ctx, sessionID, d.prompt, img)
		if err != nil {
			d.logger.Error(fmt.Sprintf("处理'%s'失败: %v", path, err))
			outcome.Failed++
			outcome.HadErrors = true
			continue
		}

		// 一条记录一行JSON，处理下一张之前立即写出
		if err := encoder.Encode(OutputRecord{File: path, Response: value}); err != nil {
			d.logger.Error(fmt.Sprintf("写出结果'%s'失败: %v", path, err))
			outcome.Failed++
			outcome.HadErrors = true
			continue
		}
		outcome.Processed++
	}

	if err := scanner.Err(); err != nil {
		d.logger.Error(fmt.Sprintf("读取输入失败: %v", err))
		outcome.HadErrors = true
	}

	d.logger.Info(fmt.Sprintf("批处理完成: 成功%d条, 失败%d条", outcome.Processed, outcome.Failed), map[string]interface{}{
		"session_id": sessionID,
		"dry_run":    d.dryRun,
	})

	return outcome
}
