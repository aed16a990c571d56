package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/internal/safety"
	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

// Handler 是工具后端的统一签名：字符串键参数进，可 JSON 序列化的 map 出。
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Operation 将处理函数与其必填参数表绑定在一起。
// 注册时声明参数需求，路由器在分发前统一校验，后端无需重复判空。
type Operation struct {
	Handler  Handler
	Required []string
}

// Router 按工具名分发动作，并串联安全门禁、参数校验、单次修复重试与
// panic 恢复。所有后端错误都会被转换为结构化的结果 map，不会向上传播。
type Router struct {
	mu     sync.RWMutex
	ops    map[string]Operation
	policy *safety.Policy
}

// NewRouter 创建路由器。policy 为空时所有动作直接放行。
func NewRouter(policy *safety.Policy) *Router {
	return &Router{
		ops:    make(map[string]Operation),
		policy: policy,
	}
}

// Register 注册一个工具操作。重复注册会覆盖旧的定义。
func (r *Router) Register(tool string, op Operation) {
	if tool == "" || op.Handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[tool] = op
}

// RegisterFunc 注册一个无必填参数的工具操作。
func (r *Router) RegisterFunc(tool string, handler Handler) {
	r.Register(tool, Operation{Handler: handler})
}

// Tools 返回已注册的工具名，按字典序排列。
func (r *Router) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch 执行一个动作并返回结构化结果。goal 是本轮运行的原始目标文本，
// 用于从中修复缺失的参数（例如 URL）。Dispatch 永远不会返回 nil。
func (r *Router) Dispatch(ctx context.Context, act Descriptor, goal string) map[string]any {
	act = act.Clone()

	r.mu.RLock()
	op, known := r.ops[act.Tool]
	r.mu.RUnlock()
	if !known {
		logger.Audit().Warn("action rejected", "tool", act.Tool, "reason", "unknown tool")
		return map[string]any{
			"error": fmt.Sprintf("Unknown tool: %s", act.Tool),
			"args":  act.Args,
		}
	}

	// 安全门禁：高危动作需要用户确认或替换为更安全的形式。
	if r.policy != nil {
		decision := r.policy.Evaluate(act.Tool, act.Args, confirmed(act.Args))
		switch decision.Verdict {
		case safety.VerdictDeny:
			if decision.Alternative != nil {
				substitute := Descriptor{
					Tool: decision.Alternative.Tool,
					Args: decision.Alternative.Args,
				}
				logger.Audit().Info("action substituted",
					"tool", act.Tool,
					"substitute", substitute.Tool,
					"reason", decision.Reason,
				)
				result := r.Dispatch(ctx, substitute, goal)
				result["substituted_for"] = act.Tool
				result["safety_reason"] = decision.Reason
				return result
			}
			logger.Audit().Warn("action denied", "tool", act.Tool, "reason", decision.Reason)
			return deniedResult(act, decision.Reason, false, decision.Alternative)
		case safety.VerdictConfirm:
			logger.Audit().Warn("action needs confirmation", "tool", act.Tool, "reason", decision.Reason)
			return deniedResult(act, decision.Reason, true, decision.Alternative)
		}
	}

	result, err := r.execute(ctx, op, act)
	if err != nil {
		// 可识别的失败只修复并重试一次。
		if repaired, ok := repair(act, goal); ok {
			logger.Audit().Info("action repaired",
				"tool", act.Tool,
				"args", fmt.Sprintf("%v", repaired.Args),
			)
			result, err = r.execute(ctx, op, repaired)
		}
	}
	if err != nil {
		logger.Audit().Warn("action failed", "tool", act.Tool, "error", err.Error())
		return map[string]any{
			"success": false,
			"error":   err.Error(),
		}
	}
	if result == nil {
		result = map[string]any{"success": true}
	}
	logger.Audit().Info("action executed", "tool", act.Tool)
	return result
}

// execute 校验参数并调用后端，同时把 panic 兜回结构化错误。
func (r *Router) execute(ctx context.Context, op Operation, act Descriptor) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("tool %s panicked: %v", act.Tool, rec))
		}
	}()

	for _, key := range op.Required {
		if missingArg(act.Args, key) {
			return nil, xerrors.New(
				xerrors.CodeValidation,
				fmt.Sprintf("missing required argument %q for %s", key, act.Tool),
			)
		}
	}
	return op.Handler(ctx, act.Args)
}

// confirmed 判断参数中是否带有用户确认标记。
func confirmed(args map[string]any) bool {
	v, ok := args["confirm"]
	if !ok {
		return false
	}
	flag, ok := v.(bool)
	return ok && flag
}

// missingArg 判断必填参数是否缺失或为空字符串。
func missingArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok || v == nil {
		return true
	}
	if s, isStr := v.(string); isStr && s == "" {
		return true
	}
	return false
}

func deniedResult(act Descriptor, reason string, needsConfirmation bool, alt *safety.Alternative) map[string]any {
	result := map[string]any{
		"success":               false,
		"denied":                true,
		"error":                 reason,
		"tool":                  act.Tool,
		"requires_confirmation": needsConfirmation,
	}
	// 替代方案必须随判定一起上浮，供调用方改走安全路径。
	if alt != nil {
		result["alternative"] = map[string]any{
			"tool": alt.Tool,
			"args": alt.Args,
		}
	}
	return result
}
