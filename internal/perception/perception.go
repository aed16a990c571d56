package perception

import (
	"context"
	"image"
	"time"
)

// Op 是感知层支持的操作类别。
type Op string

const (
	OpClick Op = "click"
	OpType  Op = "type"
	OpRead  Op = "read"
	OpFind  Op = "find"
)

// Request 描述一次感知请求。不同层只关心自己需要的字段。
type Request struct {
	// Target 是要定位的文本、控件标识或窗口标题。
	Target string
	// Text 是输入类操作要写入的内容。
	Text string
	// Template 是模板匹配层使用的参考图像。
	Template image.Image
	// Region 限定屏幕上的检索区域，为空表示整屏。
	Region *image.Rectangle
	// Context 携带应用相关的提示，交给应用专用层判断。
	Context map[string]any
}

// Attempt 记录对单个感知层的一次尝试。
type Attempt struct {
	Layer   string        `json:"layer"`
	Outcome string        `json:"outcome"`
	Elapsed time.Duration `json:"elapsed"`
}

// Result 是编排器的聚合结果。Attempts 按尝试顺序排列。
type Result struct {
	Success  bool
	Method   string
	Attempts []Attempt
	Message  string
	Payload  map[string]any
}

// Map 把结果转换为统一的线格式。
func (r *Result) Map() map[string]any {
	attempts := make([]map[string]any, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		attempts = append(attempts, map[string]any{
			"layer":   a.Layer,
			"outcome": a.Outcome,
		})
	}
	out := map[string]any{
		"success":  r.Success,
		"attempts": attempts,
		"message":  r.Message,
	}
	if r.Method != "" {
		out["method"] = r.Method
	} else {
		out["method"] = nil
	}
	for k, v := range r.Payload {
		if _, reserved := out[k]; !reserved {
			out[k] = v
		}
	}
	return out
}

// Layer 是一种屏幕交互策略。实现永远不向外抛 panic，
// 失败一律通过 error 返回，由编排器转换为结构化结果。
type Layer interface {
	// ID 返回层的稳定标识，用于结果与审计。
	ID() string
	// Supports 判断该层能否处理这次请求：既检查操作类别，
	// 也检查请求是否带齐了该层需要的输入（如模板图像）。
	Supports(op Op, req Request) bool
	// Available 判断该层在当前主机上是否可用。
	Available() bool
	// Perform 执行请求。上下文超时必须得到尊重。
	Perform(ctx context.Context, op Op, req Request) (map[string]any, error)
}
