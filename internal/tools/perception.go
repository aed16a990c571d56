package tools

import (
	"context"
	"time"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/internal/perception"
)

// Perception 把感知编排器暴露为 perception.* 工具族。
type Perception struct {
	engine *perception.Engine
	ocr    *perception.OCRLayer
}

// NewPerception 创建感知工具后端。ocr 可以为空，此时等待类操作不可用。
func NewPerception(engine *perception.Engine, ocr *perception.OCRLayer) *Perception {
	return &Perception{engine: engine, ocr: ocr}
}

func perceptionRequest(args map[string]any) perception.Request {
	req := perception.Request{}
	if target, ok := args["target"].(string); ok {
		req.Target = target
	}
	if text, ok := args["text"].(string); ok {
		req.Text = text
	}
	if hints, ok := args["context"].(map[string]any); ok {
		req.Context = hints
	}
	return req
}

// SmartClick 定位并点击目标。
func (p *Perception) SmartClick(ctx context.Context, args map[string]any) (map[string]any, error) {
	return p.engine.SmartClick(ctx, perceptionRequest(args)).Map(), nil
}

// SmartType 定位目标并输入文本。
func (p *Perception) SmartType(ctx context.Context, args map[string]any) (map[string]any, error) {
	return p.engine.SmartType(ctx, perceptionRequest(args)).Map(), nil
}

// SmartRead 读取目标或区域内的文本。
func (p *Perception) SmartRead(ctx context.Context, args map[string]any) (map[string]any, error) {
	return p.engine.SmartRead(ctx, perceptionRequest(args)).Map(), nil
}

// FindElement 定位目标但不交互。
func (p *Perception) FindElement(ctx context.Context, args map[string]any) (map[string]any, error) {
	return p.engine.FindElement(ctx, perceptionRequest(args)).Map(), nil
}

// GetCapabilities 汇报各感知层支持的操作。
func (p *Perception) GetCapabilities(ctx context.Context, args map[string]any) (map[string]any, error) {
	caps := p.engine.Capabilities()
	out := make(map[string]any, len(caps))
	for layer, ops := range caps {
		out[layer] = ops
	}
	return map[string]any{"success": true, "capabilities": out}, nil
}

// WaitForText 轮询屏幕直到文本出现。
func (p *Perception) WaitForText(ctx context.Context, args map[string]any) (map[string]any, error) {
	if p.ocr == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ocr layer is not configured")
	}
	target, _ := args["target"].(string)
	if target == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "target is empty")
	}
	maxWait := time.Duration(0)
	if seconds, ok := args["max_wait_seconds"].(float64); ok && seconds > 0 {
		maxWait = time.Duration(seconds * float64(time.Second))
	}
	return p.ocr.WaitForText(ctx, target, nil, maxWait)
}

// TextNear 返回锚点文本附近的片段。
func (p *Perception) TextNear(ctx context.Context, args map[string]any) (map[string]any, error) {
	if p.ocr == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ocr layer is not configured")
	}
	anchor, _ := args["anchor"].(string)
	if anchor == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "anchor is empty")
	}
	distance := 0
	if d, ok := args["max_distance"].(float64); ok {
		distance = int(d)
	}
	return p.ocr.TextNear(ctx, anchor, nil, distance)
}
