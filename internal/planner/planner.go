package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kayas881/kayas-Assistant/internal/action"
	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/internal/knowledge"
	"github.com/kayas881/kayas-Assistant/internal/llm"
	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

// Plan 是一次结构化规划的产物。
type Plan struct {
	// Source 标记动作的来源：匹配器名、"model" 或 "legacy"。
	Source  string
	Thought string
	Actions []action.Descriptor
}

// Planner 将自然语言目标转换为候选动作。它只负责提出，不执行任何副作用。
type Planner struct {
	client   llm.Client
	matchers []Matcher
	hints    knowledge.Provider
	tools    []string
}

// Option 定义可选的规划器配置。
type Option func(*Planner)

// WithMatchers 覆盖默认的启发式匹配器列表。
func WithMatchers(matchers []Matcher) Option {
	return func(p *Planner) {
		p.matchers = matchers
	}
}

// WithHints 配置反馈提示知识库，用于在提示词中附带历史经验。
func WithHints(provider knowledge.Provider) Option {
	return func(p *Planner) {
		p.hints = provider
	}
}

// WithTools 告知规划器可用的工具名列表。
func WithTools(tools []string) Option {
	return func(p *Planner) {
		p.tools = tools
	}
}

// New 创建规划器。client 为空时只有启发式匹配器可用。
func New(client llm.Client, opts ...Option) *Planner {
	p := &Planner{
		client:   client,
		matchers: DefaultMatchers("notes.txt", "google"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Plan 执行一次结构化规划：先尝试启发式匹配器，未命中再调用大模型，
// 模型输出无法解析时退回传统的分步规划。
func (p *Planner) Plan(ctx context.Context, goal string) (*Plan, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "planning goal is empty")
	}

	for _, matcher := range p.matchers {
		if actions, ok := matcher.Match(goal); ok {
			logger.Named("planner").Debug("heuristic matched", "matcher", matcher.Name(), "goal", goal)
			return &Plan{
				Source:  matcher.Name(),
				Thought: fmt.Sprintf("matched by %s heuristic", matcher.Name()),
				Actions: actions,
			}, nil
		}
	}

	if p.client == nil {
		return nil, xerrors.New(xerrors.CodePlannerFailure, "no heuristic matched and no model configured")
	}

	resp, err := p.client.Generate(ctx, llm.Request{
		System:      structuredSystemPrompt,
		Prompt:      p.buildStructuredPrompt(goal),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlannerFailure, err, "structured planning request failed")
	}

	if actions, err := action.ParseActions(extractJSON(resp.Text)); err == nil {
		return &Plan{Source: "model", Actions: actions}, nil
	}

	// 模型没有给出合法的动作 JSON，退回分步规划。
	return p.legacyPlan(ctx, goal)
}

const structuredSystemPrompt = "" +
	"You are a desktop automation planner. " +
	"Respond ONLY with JSON: either a single {\"tool\": string, \"args\": object} " +
	"or an array of such objects. No prose, no markdown fences."

func (p *Planner) buildStructuredPrompt(goal string) string {
	var b strings.Builder
	b.WriteString("Goal: ")
	b.WriteString(goal)
	b.WriteString("\n")

	if len(p.tools) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, tool := range p.tools {
			b.WriteString("- ")
			b.WriteString(tool)
			b.WriteString("\n")
		}
	}

	if p.hints != nil {
		if snippets := p.hints.Query(goal); len(snippets) > 0 {
			b.WriteString("\nLessons from past runs:\n")
			for _, s := range snippets {
				b.WriteString("- ")
				b.WriteString(s.Content)
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\nPlan the minimal action sequence that accomplishes the goal.")
	return b.String()
}

// legacyPlan 让模型给出编号步骤，再用启发式匹配器逐步转换为动作。
// 一个步骤都转换不出来时，返回模型文本作为最终回答。
func (p *Planner) legacyPlan(ctx context.Context, goal string) (*Plan, error) {
	resp, err := p.client.Generate(ctx, llm.Request{
		System:      "You break a goal into short numbered steps, one action per line.",
		Prompt:      fmt.Sprintf("Goal: %s\n\nList the steps.", goal),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlannerFailure, err, "legacy planning request failed")
	}

	steps := parseSteps(resp.Text)
	actions := make([]action.Descriptor, 0, len(steps))
	for _, step := range steps {
		for _, matcher := range p.matchers {
			if matched, ok := matcher.Match(step); ok {
				actions = append(actions, matched...)
				break
			}
		}
	}

	plan := &Plan{Source: "legacy", Thought: strings.TrimSpace(resp.Text), Actions: actions}
	if len(actions) == 0 {
		logger.Named("planner").Debug("legacy plan produced no actions", "goal", goal)
	}
	return plan, nil
}

var stepPrefix = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

const maxLegacySteps = 8

// parseSteps 解析编号或项目符号开头的步骤行，去重并截断。
func parseSteps(text string) []string {
	seen := make(map[string]struct{})
	steps := make([]string, 0, maxLegacySteps)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || !stepPrefix.MatchString(trimmed) {
			continue
		}
		step := strings.TrimSpace(stepPrefix.ReplaceAllString(trimmed, ""))
		if step == "" {
			continue
		}
		key := strings.ToLower(step)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		steps = append(steps, step)
		if len(steps) >= maxLegacySteps {
			break
		}
	}
	return steps
}

// extractJSON 剥掉模型输出外层可能存在的 markdown 代码栅栏。
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
