package perception

import (
	"context"
	"fmt"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

// Backend 是无障碍后端的调用契约。进程内实现与隔离工作进程的
// 代理实现共用同一接口，调用方无需关心后端跑在哪个进程里。
type Backend interface {
	Invoke(ctx context.Context, method string, kwargs map[string]any) (map[string]any, error)
	Available() bool
}

// accessibilityOps 把操作类别映射到后端方法名。
var accessibilityOps = map[Op]string{
	OpClick: "click_element",
	OpType:  "set_element_text",
	OpRead:  "read_element",
	OpFind:  "find_element",
}

// AccessibilityLayer 通过系统无障碍树定位窗口与控件。
// 支持全部四类操作，是默认的第一优先层。
type AccessibilityLayer struct {
	backend Backend
}

// NewAccessibilityLayer 创建无障碍层。
func NewAccessibilityLayer(backend Backend) *AccessibilityLayer {
	return &AccessibilityLayer{backend: backend}
}

// ID 实现 Layer。
func (l *AccessibilityLayer) ID() string { return "accessibility" }

// Supports 实现 Layer。
func (l *AccessibilityLayer) Supports(op Op, req Request) bool {
	_, ok := accessibilityOps[op]
	return ok && req.Target != ""
}

// Available 实现 Layer。
func (l *AccessibilityLayer) Available() bool {
	return l.backend != nil && l.backend.Available()
}

// Perform 实现 Layer。
func (l *AccessibilityLayer) Perform(ctx context.Context, op Op, req Request) (map[string]any, error) {
	method, ok := accessibilityOps[op]
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("unsupported op %s", op))
	}

	kwargs := map[string]any{"target": req.Target}
	if req.Text != "" {
		kwargs["text"] = req.Text
	}
	if len(req.Context) > 0 {
		if window, ok := req.Context["window"]; ok {
			kwargs["window"] = window
		}
	}

	result, err := l.backend.Invoke(ctx, method, kwargs)
	if err != nil {
		return nil, err
	}
	if failed(result) {
		return nil, xerrors.New(xerrors.CodeNotFound, failureMessage(result))
	}
	return result, nil
}

// ListWindows 枚举顶层窗口，诊断用。
func (l *AccessibilityLayer) ListWindows(ctx context.Context) (map[string]any, error) {
	if !l.Available() {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "accessibility backend unavailable")
	}
	return l.backend.Invoke(ctx, "list_windows", map[string]any{})
}

// DumpTree 导出指定窗口的完整控件树，诊断用。
func (l *AccessibilityLayer) DumpTree(ctx context.Context, window string) (map[string]any, error) {
	if !l.Available() {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "accessibility backend unavailable")
	}
	return l.backend.Invoke(ctx, "dump_tree", map[string]any{"window": window})
}

// failed 判断后端结果是否表示失败。
func failed(result map[string]any) bool {
	if result == nil {
		return true
	}
	if success, ok := result["success"].(bool); ok {
		return !success
	}
	if _, hasErr := result["error"]; hasErr {
		return true
	}
	return false
}

func failureMessage(result map[string]any) string {
	if result == nil {
		return "empty backend result"
	}
	if msg, ok := result["error"].(string); ok && msg != "" {
		return msg
	}
	if msg, ok := result["message"].(string); ok && msg != "" {
		return msg
	}
	return "target not found"
}
