package safety

import (
	"fmt"
	"strings"
)

// Verdict 表示安全策略给出的判定结果。
type Verdict string

const (
	// VerdictAllow 表示动作可以直接执行。
	VerdictAllow Verdict = "allow"
	// VerdictDeny 表示动作被拒绝执行。
	VerdictDeny Verdict = "deny"
	// VerdictConfirm 表示动作需要用户确认后才能执行。
	VerdictConfirm Verdict = "confirm"
)

// Decision 描述针对一次工具调用的安全判定。
type Decision struct {
	Verdict     Verdict
	Reason      string
	Alternative *Alternative
}

// Alternative 是被拒绝动作的更安全替代方案。
type Alternative struct {
	Tool string
	Args map[string]any
}

// Allowed 判断动作是否可以直接执行。
func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAllow
}

// DeleteMode 控制删除类动作的默认处理方式。
type DeleteMode string

const (
	// DeleteModeArchive 将删除动作替换为归档。
	DeleteModeArchive DeleteMode = "archive"
	// DeleteModeAsk 要求用户确认删除动作。
	DeleteModeAsk DeleteMode = "ask"
)

// riskRule 描述一个高危工具前缀及其处理方式。
// alternative 无论何种模式都会给出，verdict 决定替代是自动生效还是先行确认。
type riskRule struct {
	reason      string
	alternative func(p *Policy, args map[string]any) *Alternative
	verdict     func(p *Policy) Verdict
}

// Policy 是纯函数式的安全策略：相同输入永远得到相同判定。
type Policy struct {
	deleteMode DeleteMode
	rules      map[string]riskRule
}

// Option 定义可选的策略配置。
type Option func(*Policy)

// WithDeleteMode 设置删除类动作的默认处理方式。
func WithDeleteMode(mode DeleteMode) Option {
	return func(p *Policy) {
		if mode == DeleteModeArchive || mode == DeleteModeAsk {
			p.deleteMode = mode
		}
	}
}

// NewPolicy 创建安全策略实例。
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{deleteMode: DeleteModeArchive}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.rules = map[string]riskRule{
		"filesystem.delete_file": {
			reason: "deleting a file is destructive and cannot be undone",
			alternative: func(_ *Policy, args map[string]any) *Alternative {
				// 归档替代方案只继承安全的参数子集。
				alt := &Alternative{Tool: "filesystem.archive_file", Args: map[string]any{}}
				if filename, ok := args["filename"]; ok {
					alt.Args["filename"] = filename
				}
				return alt
			},
			verdict: func(p *Policy) Verdict {
				if p.deleteMode == DeleteModeArchive {
					return VerdictDeny
				}
				return VerdictConfirm
			},
		},
		"email.send": {
			reason: "sending email has external effects",
		},
	}
	return p
}

// Evaluate 对一次工具调用给出确定性的安全判定。confirmed 表示用户已确认。
func (p *Policy) Evaluate(tool string, args map[string]any, confirmed bool) Decision {
	rule, risky := p.lookup(tool)
	if !risky {
		return Decision{Verdict: VerdictAllow}
	}
	if confirmed {
		return Decision{Verdict: VerdictAllow}
	}

	decision := Decision{
		Verdict: VerdictConfirm,
		Reason:  fmt.Sprintf("%s: %s", tool, rule.reason),
	}
	if rule.alternative != nil {
		decision.Alternative = rule.alternative(p, args)
	}
	if rule.verdict != nil {
		decision.Verdict = rule.verdict(p)
	}
	return decision
}

// lookup 按精确名或前缀查找风险规则。
func (p *Policy) lookup(tool string) (riskRule, bool) {
	if rule, ok := p.rules[tool]; ok {
		return rule, true
	}
	for prefix, rule := range p.rules {
		if strings.HasPrefix(tool, prefix+".") {
			return rule, true
		}
	}
	return riskRule{}, false
}
