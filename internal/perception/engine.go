package perception

import (
	"context"
	"fmt"
	"time"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

const (
	defaultLayerTimeout   = 3 * time.Second
	defaultOverallTimeout = 10 * time.Second
)

// Engine 按固定顺序尝试各感知层，第一个成功者胜出。
// 层顺序在构造时确定，运行期间不会重排。
type Engine struct {
	layers         []Layer
	layerTimeout   time.Duration
	overallTimeout time.Duration
}

// Option 定义可选的编排器配置。
type Option func(*Engine)

// WithLayerTimeout 设置单层尝试的超时时间。
func WithLayerTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.layerTimeout = d
		}
	}
}

// WithOverallTimeout 设置整次请求的总超时时间。
func WithOverallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.overallTimeout = d
		}
	}
}

// NewEngine 创建编排器。layers 的顺序就是尝试顺序。
func NewEngine(layers []Layer, opts ...Option) *Engine {
	e := &Engine{
		layers:         layers,
		layerTimeout:   defaultLayerTimeout,
		overallTimeout: defaultOverallTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// SmartClick 定位目标并点击。
func (e *Engine) SmartClick(ctx context.Context, req Request) *Result {
	return e.perform(ctx, OpClick, req)
}

// SmartType 定位目标并输入文本。
func (e *Engine) SmartType(ctx context.Context, req Request) *Result {
	return e.perform(ctx, OpType, req)
}

// SmartRead 读取目标或区域内的文本。
func (e *Engine) SmartRead(ctx context.Context, req Request) *Result {
	return e.perform(ctx, OpRead, req)
}

// FindElement 只定位目标，不执行交互。
func (e *Engine) FindElement(ctx context.Context, req Request) *Result {
	return e.perform(ctx, OpFind, req)
}

// Capabilities 汇报每层声明支持的操作，供诊断工具使用。
func (e *Engine) Capabilities() map[string][]string {
	probe := Request{Target: "probe", Text: "probe"}
	out := make(map[string][]string, len(e.layers))
	for _, layer := range e.layers {
		ops := make([]string, 0, 4)
		for _, op := range []Op{OpClick, OpType, OpRead, OpFind} {
			if layer.Supports(op, probe) {
				ops = append(ops, string(op))
			}
		}
		out[layer.ID()] = ops
	}
	return out
}

func (e *Engine) perform(parent context.Context, op Op, req Request) *Result {
	ctx, cancel := context.WithTimeout(parent, e.overallTimeout)
	defer cancel()

	result := &Result{Attempts: make([]Attempt, 0, len(e.layers))}
	log := logger.Named("perception")

	for _, layer := range e.layers {
		// 能力不匹配时静默跳过，不记录尝试。
		if !layer.Supports(op, req) {
			continue
		}
		if !layer.Available() {
			continue
		}
		if ctx.Err() != nil {
			result.Message = fmt.Sprintf("overall timeout before trying %s", layer.ID())
			return result
		}

		started := time.Now()
		payload, err := e.attempt(ctx, layer, op, req)
		elapsed := time.Since(started)

		if err == nil {
			result.Attempts = append(result.Attempts, Attempt{
				Layer:   layer.ID(),
				Outcome: "success",
				Elapsed: elapsed,
			})
			result.Success = true
			result.Method = layer.ID()
			result.Payload = payload
			result.Message = fmt.Sprintf("%s via %s", op, layer.ID())
			log.Debug("perception succeeded", "op", string(op), "layer", layer.ID())
			return result
		}

		result.Attempts = append(result.Attempts, Attempt{
			Layer:   layer.ID(),
			Outcome: err.Error(),
			Elapsed: elapsed,
		})
		log.Debug("perception layer failed",
			"op", string(op),
			"layer", layer.ID(),
			"error", err.Error(),
		)
	}

	if result.Message == "" {
		result.Message = fmt.Sprintf("all layers failed for %s %q", op, req.Target)
	}
	return result
}

// attempt 在单层超时内执行一次尝试，并把 panic 兜成错误。
func (e *Engine) attempt(ctx context.Context, layer Layer, op Op, req Request) (payload map[string]any, err error) {
	layerCtx, cancel := context.WithTimeout(ctx, e.layerTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			payload = nil
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("layer %s panicked: %v", layer.ID(), rec))
		}
	}()
	return layer.Perform(layerCtx, op, req)
}
