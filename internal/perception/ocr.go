package perception

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

// Token 是 OCR 识别出的一个文本片段。
type Token struct {
	Text       string
	Bounds     image.Rectangle
	Confidence float64
}

// Recognizer 把图像转换为带坐标与置信度的文本片段。
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]Token, error)
	Available() bool
}

const (
	defaultConfidenceFloor = 60.0
	defaultPollInterval    = 500 * time.Millisecond
	defaultMaxWait         = 10 * time.Second
)

// OCRLayer 通过屏幕文字识别定位目标。支持点击、读取与定位，
// 不支持输入。低于置信度下限的片段在匹配前就被丢弃。
type OCRLayer struct {
	capturer        ScreenCapturer
	recognizer      Recognizer
	pointer         Pointer
	confidenceFloor float64
	pollInterval    time.Duration
}

// OCROption 定义可选配置。
type OCROption func(*OCRLayer)

// WithConfidenceFloor 设置片段置信度下限。
func WithConfidenceFloor(floor float64) OCROption {
	return func(l *OCRLayer) {
		if floor > 0 {
			l.confidenceFloor = floor
		}
	}
}

// WithPollInterval 设置 WaitForText 的轮询间隔。
func WithPollInterval(d time.Duration) OCROption {
	return func(l *OCRLayer) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// NewOCRLayer 创建 OCR 层。
func NewOCRLayer(capturer ScreenCapturer, recognizer Recognizer, pointer Pointer, opts ...OCROption) *OCRLayer {
	l := &OCRLayer{
		capturer:        capturer,
		recognizer:      recognizer,
		pointer:         pointer,
		confidenceFloor: defaultConfidenceFloor,
		pollInterval:    defaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// ID 实现 Layer。
func (l *OCRLayer) ID() string { return "ocr" }

// Supports 实现 Layer。
func (l *OCRLayer) Supports(op Op, req Request) bool {
	switch op {
	case OpClick, OpFind:
		return req.Target != ""
	case OpRead:
		return true
	default:
		return false
	}
}

// Available 实现 Layer。
func (l *OCRLayer) Available() bool {
	return l.capturer != nil && l.capturer.Available() &&
		l.recognizer != nil && l.recognizer.Available()
}

// Perform 实现 Layer。
func (l *OCRLayer) Perform(ctx context.Context, op Op, req Request) (map[string]any, error) {
	tokens, err := l.scan(ctx, req.Region)
	if err != nil {
		return nil, err
	}

	if op == OpRead {
		return l.readAll(tokens, req)
	}

	token, ok := findText(tokens, req.Target)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("text %q not found on screen", req.Target))
	}

	center := tokenCenter(token, req.Region)
	result := map[string]any{
		"success":    true,
		"text":       token.Text,
		"x":          center.X,
		"y":          center.Y,
		"confidence": token.Confidence,
	}
	if op == OpClick {
		if l.pointer == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "no pointer device configured")
		}
		if err := l.pointer.Click(ctx, center.X, center.Y); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTransientBackend, err, "pointer click failed")
		}
		result["clicked"] = true
	}
	return result, nil
}

// WaitForText 以固定间隔轮询屏幕，直到目标文本出现或超出最长等待。
func (l *OCRLayer) WaitForText(ctx context.Context, target string, region *image.Rectangle, maxWait time.Duration) (map[string]any, error) {
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	deadline := time.Now().Add(maxWait)

	for {
		tokens, err := l.scan(ctx, region)
		if err == nil {
			if token, ok := findText(tokens, target); ok {
				center := tokenCenter(token, region)
				return map[string]any{
					"success":    true,
					"text":       token.Text,
					"x":          center.X,
					"y":          center.Y,
					"confidence": token.Confidence,
				}, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, xerrors.New(xerrors.CodeTimeout, fmt.Sprintf("text %q did not appear within %s", target, maxWait))
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "wait for text cancelled")
		case <-time.After(l.pollInterval):
		}
	}
}

// TextNear 返回锚点文本附近（同一行优先）的其他片段。
func (l *OCRLayer) TextNear(ctx context.Context, anchor string, region *image.Rectangle, maxDistance int) (map[string]any, error) {
	tokens, err := l.scan(ctx, region)
	if err != nil {
		return nil, err
	}
	anchorToken, ok := findText(tokens, anchor)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("anchor %q not found", anchor))
	}
	if maxDistance <= 0 {
		maxDistance = 200
	}

	anchorCenter := tokenCenter(anchorToken, nil)
	near := make([]string, 0)
	for _, tok := range tokens {
		if tok == anchorToken {
			continue
		}
		c := tokenCenter(tok, nil)
		dx, dy := c.X-anchorCenter.X, c.Y-anchorCenter.Y
		if dx*dx+dy*dy <= maxDistance*maxDistance {
			near = append(near, tok.Text)
		}
	}
	return map[string]any{
		"success": true,
		"anchor":  anchorToken.Text,
		"nearby":  near,
	}, nil
}

// scan 抓屏、识别并过滤低置信度片段。
func (l *OCRLayer) scan(ctx context.Context, region *image.Rectangle) ([]Token, error) {
	img, err := l.capturer.Capture(ctx, region)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientBackend, err, "screen capture failed")
	}
	tokens, err := l.recognizer.Recognize(ctx, img)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientBackend, err, "text recognition failed")
	}

	kept := tokens[:0]
	for _, tok := range tokens {
		if tok.Confidence >= l.confidenceFloor && strings.TrimSpace(tok.Text) != "" {
			kept = append(kept, tok)
		}
	}
	return kept, nil
}

func (l *OCRLayer) readAll(tokens []Token, req Request) (map[string]any, error) {
	if len(tokens) == 0 {
		return nil, xerrors.New(xerrors.CodeNotFound, "no readable text in region")
	}
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, tok.Text)
	}
	return map[string]any{
		"success": true,
		"text":    strings.Join(parts, " "),
		"tokens":  len(tokens),
	}, nil
}

// findText 先找精确匹配，再退回子串匹配，都不区分大小写。
func findText(tokens []Token, target string) (Token, bool) {
	normalized := strings.ToLower(strings.TrimSpace(target))
	for _, tok := range tokens {
		if strings.ToLower(strings.TrimSpace(tok.Text)) == normalized {
			return tok, true
		}
	}
	for _, tok := range tokens {
		if strings.Contains(strings.ToLower(tok.Text), normalized) {
			return tok, true
		}
	}
	return Token{}, false
}

func tokenCenter(tok Token, region *image.Rectangle) image.Point {
	center := image.Point{
		X: tok.Bounds.Min.X + tok.Bounds.Dx()/2,
		Y: tok.Bounds.Min.Y + tok.Bounds.Dy()/2,
	}
	if region != nil {
		center = center.Add(region.Min)
	}
	return center
}
