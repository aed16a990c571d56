package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kayas881/kayas-Assistant/internal/action"
	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/internal/llm"
)

// HistoryEntry 记录一轮推理的想法与对应的观察结果。
type HistoryEntry struct {
	Thought     string
	Observation string
}

// Turn 是 ReAct 模式下单轮规划的产物：要么给出动作，要么宣告完成。
type Turn struct {
	Thought string
	Actions []action.Descriptor
	Finish  string
	Done    bool
}

const reactSystemPrompt = "" +
	"You are a desktop automation agent working step by step. " +
	"Each turn respond ONLY with JSON, one of:\n" +
	"  {\"thought\": string, \"actions\": [{\"tool\": string, \"args\": object}]}\n" +
	"  {\"finish\": string}\n" +
	"Use \"finish\" with the final answer once the goal is done. " +
	"No prose outside the JSON."

// NextTurn 请求模型给出下一轮动作。history 按时间顺序排列，
// 最近的观察在最后。
func (p *Planner) NextTurn(ctx context.Context, goal string, history []HistoryEntry) (*Turn, error) {
	if p.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "react mode requires a model client")
	}

	resp, err := p.client.Generate(ctx, llm.Request{
		System:      reactSystemPrompt,
		Prompt:      p.buildTurnPrompt(goal, history),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlannerFailure, err, "react turn request failed")
	}

	return parseTurn(resp.Text)
}

func (p *Planner) buildTurnPrompt(goal string, history []HistoryEntry) string {
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

	if len(history) > 0 {
		b.WriteString("\nHistory:\n")
		for i, entry := range history {
			b.WriteString(fmt.Sprintf("[%d] thought: %s\n", i+1, entry.Thought))
			b.WriteString(fmt.Sprintf("    observation: %s\n", entry.Observation))
		}
	}

	b.WriteString("\nDecide the next step.")
	return b.String()
}

// parseTurn 解析单轮输出。finish 键一旦出现即宣告完成，哪怕内容为空。
func parseTurn(text string) (*Turn, error) {
	payload := extractJSON(text)

	var decoded struct {
		Thought string              `json:"thought"`
		Actions []action.Descriptor `json:"actions"`
		Finish  *string             `json:"finish"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePlannerFailure, err, "unparsable react turn")
	}

	if decoded.Finish != nil {
		return &Turn{Finish: strings.TrimSpace(*decoded.Finish), Done: true}, nil
	}

	turn := &Turn{Thought: strings.TrimSpace(decoded.Thought)}
	for _, act := range decoded.Actions {
		act.Tool = strings.TrimSpace(act.Tool)
		if act.Tool == "" {
			continue
		}
		if act.Args == nil {
			act.Args = map[string]any{}
		}
		turn.Actions = append(turn.Actions, act)
	}
	if len(turn.Actions) == 0 {
		return nil, xerrors.New(xerrors.CodePlannerFailure, "react turn carries neither actions nor finish")
	}
	return turn, nil
}
