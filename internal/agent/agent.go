package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kayas881/kayas-Assistant/internal/action"
	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/internal/planner"
	"github.com/kayas881/kayas-Assistant/internal/scoring"
	"github.com/kayas881/kayas-Assistant/internal/storage/mysql"
	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

// Mode 决定智能体的规划方式。
type Mode string

const (
	// ModeStructured 一次性规划出完整动作序列并顺序执行。
	ModeStructured Mode = "structured"
	// ModeReact 逐轮推理，每轮根据上一轮的观察决定下一步。
	ModeReact Mode = "react"
)

// RunRequest 描述一次待执行的目标。
type RunRequest struct {
	ID        string         `json:"id,omitempty"`
	Goal      string         `json:"goal"`
	MaxSteps  int            `json:"max_steps,omitempty"`
	BeamWidth int            `json:"beam_width,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ActionRecord 记录一次已执行动作及其结果。
type ActionRecord struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result map[string]any `json:"result"`
}

// RunResult 汇总一次目标执行的全部产出。
type RunResult struct {
	RunID        string         `json:"run_id"`
	Goal         string         `json:"goal"`
	FinalText    string         `json:"final_text"`
	ActionsTaken []ActionRecord `json:"actions_taken"`
	Traces       []string       `json:"traces,omitempty"`
	CreatedAt    int64          `json:"created_at"`
}

// stepLimitText 是步数耗尽时的收尾回复。
const stepLimitText = "Reached step limit."

// Agent 协调规划器、打分器与动作路由，是系统的业务核心。
type Agent struct {
	planner    *planner.Planner
	router     *action.Router
	scorer     *scoring.Model
	runStorage mysql.RunRepository
	mode       Mode
	maxSteps   int
	beamWidth  int
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

const (
	defaultMaxSteps  = 6
	defaultBeamWidth = 3
)

// WithMode 设置规划模式。
func WithMode(mode Mode) Option {
	return func(a *Agent) {
		if mode == ModeStructured || mode == ModeReact {
			a.mode = mode
		}
	}
}

// WithMaxSteps 设置 ReAct 模式下的最大推理轮数。
func WithMaxSteps(steps int) Option {
	return func(a *Agent) {
		if steps > 0 {
			a.maxSteps = steps
		}
	}
}

// WithBeamWidth 设置每轮最多执行的候选动作数量。
func WithBeamWidth(width int) Option {
	return func(a *Agent) {
		if width > 0 {
			a.beamWidth = width
		}
	}
}

// WithScorer 配置偏好打分模型，用于候选动作排序。
func WithScorer(model *scoring.Model) Option {
	return func(a *Agent) {
		a.scorer = model
	}
}

// WithRunRepository 配置执行归档仓库。
func WithRunRepository(repo mysql.RunRepository) Option {
	return func(a *Agent) {
		a.runStorage = repo
	}
}

// New 创建一个 Agent。
func New(p *planner.Planner, router *action.Router, opts ...Option) *Agent {
	ag := &Agent{
		planner:   p,
		router:    router,
		mode:      ModeReact,
		maxSteps:  defaultMaxSteps,
		beamWidth: defaultBeamWidth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Execute 驱动一次完整的目标执行：规划、打分、执行、归档。
func (a *Agent) Execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	if a.planner == nil || a.router == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "智能体未初始化")
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "任务目标不能为空")
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = a.maxSteps
	}
	beamWidth := req.BeamWidth
	if beamWidth <= 0 {
		beamWidth = a.beamWidth
	}

	result := &RunResult{
		RunID:     uuid.NewString(),
		Goal:      goal,
		CreatedAt: time.Now().Unix(),
	}

	var err error
	switch a.mode {
	case ModeStructured:
		err = a.runStructured(ctx, goal, result)
	default:
		err = a.runReact(ctx, goal, maxSteps, beamWidth, result)
	}
	if err != nil {
		return nil, err
	}

	if err := a.archive(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// runStructured 规划一次完整序列并顺序执行全部动作。
func (a *Agent) runStructured(ctx context.Context, goal string, result *RunResult) error {
	plan, err := a.planner.Plan(ctx, goal)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePlannerFailure, err, "规划失败")
	}
	result.Traces = append(result.Traces, fmt.Sprintf("plan source: %s", plan.Source))

	for _, act := range a.rankCandidates(goal, plan.Thought, plan.Actions, len(plan.Actions)) {
		record := a.dispatch(ctx, act, goal)
		result.ActionsTaken = append(result.ActionsTaken, record)
	}

	result.FinalText = plan.Thought
	if strings.TrimSpace(result.FinalText) == "" {
		result.FinalText = summarizeActions(result.ActionsTaken)
	}
	return nil
}

// runReact 逐轮推理，直到模型宣告完成或步数耗尽。
func (a *Agent) runReact(ctx context.Context, goal string, maxSteps, beamWidth int, result *RunResult) error {
	var history []planner.HistoryEntry

	for step := 0; step < maxSteps; step++ {
		turn, err := a.planner.NextTurn(ctx, goal, history)
		if err != nil {
			if stdErrors.Is(err, context.DeadlineExceeded) {
				return xerrors.Wrap(xerrors.CodeTimeout, err, "推理超时")
			}
			return xerrors.Wrap(xerrors.CodePlannerFailure, err, "推理失败")
		}

		if turn.Done {
			result.FinalText = turn.Finish
			if strings.TrimSpace(result.FinalText) == "" {
				result.FinalText = summarizeActions(result.ActionsTaken)
			}
			result.Traces = append(result.Traces, fmt.Sprintf("step %d: finish", step+1))
			return nil
		}

		observation := ""
		for _, act := range a.rankCandidates(goal, turn.Thought, turn.Actions, beamWidth) {
			record := a.dispatch(ctx, act, goal)
			result.ActionsTaken = append(result.ActionsTaken, record)
			// 最后一个执行结果作为下一轮的观察。
			observation = compactResult(record.Result)
		}
		result.Traces = append(result.Traces, fmt.Sprintf("step %d: %s", step+1, turn.Thought))

		history = append(history, planner.HistoryEntry{
			Thought:     turn.Thought,
			Observation: observation,
		})
	}

	result.FinalText = stepLimitText
	result.Traces = append(result.Traces, "step limit reached")
	return nil
}

// rankCandidates 用偏好模型对候选动作排序，并截断到执行宽度。
// 打分相同时保持规划器给出的顺序。
func (a *Agent) rankCandidates(goal, thought string, candidates []action.Descriptor, width int) []action.Descriptor {
	if len(candidates) == 0 {
		return nil
	}
	if width <= 0 {
		width = 1
	}

	type scored struct {
		act   action.Descriptor
		score float64
		order int
	}
	ranked := make([]scored, 0, len(candidates))
	prompt := goal
	if strings.TrimSpace(thought) != "" {
		prompt = goal + "\n" + thought
	}
	for i, act := range candidates {
		score := 0.5
		if a.scorer != nil {
			score = a.scorer.Score(prompt, describeAction(act))
		}
		ranked = append(ranked, scored{act: act, score: score, order: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].order < ranked[j].order
		}
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > width {
		ranked = ranked[:width]
	}
	selected := make([]action.Descriptor, 0, len(ranked))
	for _, item := range ranked {
		selected = append(selected, item.act)
	}
	return selected
}

func (a *Agent) dispatch(ctx context.Context, act action.Descriptor, goal string) ActionRecord {
	outcome := a.router.Dispatch(ctx, act, goal)
	return ActionRecord{
		Tool:   act.Tool,
		Args:   act.Args,
		Result: outcome,
	}
}

// archive 将执行结果写入归档仓库（如已配置）。
func (a *Agent) archive(ctx context.Context, result *RunResult) error {
	if a.runStorage == nil {
		return nil
	}
	actions := "[]"
	if encoded, err := json.Marshal(result.ActionsTaken); err == nil {
		actions = string(encoded)
	}
	record := mysql.RunRecord{
		ID:         result.RunID,
		Goal:       result.Goal,
		FinalText:  result.FinalText,
		Actions:    actions,
		Prompt:     result.Goal,
		Completion: result.FinalText + "\n" + actions,
		CreatedAt:  result.CreatedAt,
	}
	if err := a.runStorage.SaveRun(ctx, record); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存执行记录失败")
	}
	logger.Named("agent").Debug("run archived", "run_id", result.RunID, "actions", len(result.ActionsTaken))
	return nil
}

// ListHistory 获取最近的执行记录。
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]RunResult, error) {
	if a.runStorage == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置执行归档仓库")
	}

	records, err := a.runStorage.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录失败")
	}

	results := make([]RunResult, 0, len(records))
	for _, record := range records {
		var actions []ActionRecord
		if record.Actions != "" {
			_ = json.Unmarshal([]byte(record.Actions), &actions)
		}
		results = append(results, RunResult{
			RunID:        record.ID,
			Goal:         record.Goal,
			FinalText:    record.FinalText,
			ActionsTaken: actions,
			CreatedAt:    record.CreatedAt,
		})
	}
	return results, nil
}

// describeAction 把候选动作转成打分器可读的文本。
func describeAction(act action.Descriptor) string {
	args, err := json.Marshal(act.Args)
	if err != nil {
		return act.Tool
	}
	return act.Tool + " " + string(args)
}

// compactResult 把动作结果压缩成单行观察文本。
func compactResult(result map[string]any) string {
	if len(result) == 0 {
		return "no result"
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	const maxObservation = 512
	text := string(encoded)
	if len(text) > maxObservation {
		text = text[:maxObservation] + "..."
	}
	return text
}

func summarizeActions(records []ActionRecord) string {
	if len(records) == 0 {
		return "No actions were taken."
	}
	tools := make([]string, 0, len(records))
	for _, record := range records {
		tools = append(tools, record.Tool)
	}
	return "Executed: " + strings.Join(tools, ", ")
}
