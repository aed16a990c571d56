package scoring

import (
	"context"
	"strings"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

// TrainingRow 是一条原始训练记录：某次运行中采纳的规划及用户反馈。
type TrainingRow struct {
	Prompt     string
	Completion string
	Feedback   string
}

// TrainingSource 提供训练数据，由运行归档仓库实现。
type TrainingSource interface {
	TrainingRows(ctx context.Context) ([]TrainingRow, error)
}

// 反馈极性关键词。负面词优先判断，避免 "not good" 被误判为正面。
var (
	negativeKeywords = []string{"neg", "bad", "wrong", "worse", "-1", "reject", "not good"}
	positiveKeywords = []string{"pos", "good", "great", "+1", "accept", "helpful", "correct"}
)

// LabelFeedback 根据关键词极性把自由文本反馈转换为标签。
// 无法判断极性时返回 ok=false，该条记录被丢弃。
func LabelFeedback(feedback string) (label float64, ok bool) {
	normalized := strings.ToLower(strings.TrimSpace(feedback))
	if normalized == "" {
		return 0, false
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(normalized, kw) {
			return 0, true
		}
	}
	for _, kw := range positiveKeywords {
		if strings.Contains(normalized, kw) {
			return 1, true
		}
	}
	return 0, false
}

// Trainer 从运行归档中拉取带反馈的规划记录并训练偏好模型。
type Trainer struct {
	source TrainingSource
	opts   TrainOptions
}

// NewTrainer 创建训练器。
func NewTrainer(source TrainingSource, opts TrainOptions) *Trainer {
	return &Trainer{source: source, opts: opts}
}

// Train 执行一轮完整训练并返回更新后的模型。
// 没有可标注的样本时返回未训练的模型。
func (t *Trainer) Train(ctx context.Context) (*Model, error) {
	if t.source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "training source is not configured")
	}

	rows, err := t.source.TrainingRows(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load training rows")
	}

	examples := make([]Example, 0, len(rows))
	for _, row := range rows {
		label, ok := LabelFeedback(row.Feedback)
		if !ok {
			continue
		}
		examples = append(examples, Example{
			Prompt:     row.Prompt,
			Completion: row.Completion,
			Label:      label,
		})
	}

	model := NewModel()
	if len(examples) == 0 {
		logger.Named("scoring").Info("no labeled feedback, model left untrained", "rows", len(rows))
		return model, nil
	}

	model.Train(examples, t.opts)
	logger.Named("scoring").Info("preference model trained",
		"rows", len(rows),
		"examples", len(examples),
	)
	return model, nil
}
