package perception

import (
	"context"
	"image"
	"math"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

// ScreenCapturer 抓取屏幕或其中一个区域。
type ScreenCapturer interface {
	Capture(ctx context.Context, region *image.Rectangle) (image.Image, error)
	Available() bool
}

// Pointer 合成鼠标事件。
type Pointer interface {
	Click(ctx context.Context, x, y int) error
}

// TemplateMatch 是一次模板匹配命中。
type TemplateMatch struct {
	Bounds image.Rectangle
	Score  float64
}

// Center 返回命中区域的中心点，点击事件落在这里。
func (m TemplateMatch) Center() image.Point {
	return image.Point{
		X: m.Bounds.Min.X + m.Bounds.Dx()/2,
		Y: m.Bounds.Min.Y + m.Bounds.Dy()/2,
	}
}

// VisionLayer 在屏幕截图中按归一化互相关搜索参考图像。
// 支持点击与定位；没有参考模板的请求视为能力不匹配。
type VisionLayer struct {
	capturer  ScreenCapturer
	pointer   Pointer
	threshold float64
}

// NewVisionLayer 创建模板匹配层。threshold 是判定命中的最低相关系数。
func NewVisionLayer(capturer ScreenCapturer, pointer Pointer, threshold float64) *VisionLayer {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &VisionLayer{capturer: capturer, pointer: pointer, threshold: threshold}
}

// ID 实现 Layer。
func (l *VisionLayer) ID() string { return "vision" }

// Supports 实现 Layer。模板缺失时该层不参与尝试。
func (l *VisionLayer) Supports(op Op, req Request) bool {
	if op != OpClick && op != OpFind {
		return false
	}
	return req.Template != nil
}

// Available 实现 Layer。
func (l *VisionLayer) Available() bool {
	return l.capturer != nil && l.capturer.Available()
}

// Perform 实现 Layer。
func (l *VisionLayer) Perform(ctx context.Context, op Op, req Request) (map[string]any, error) {
	screen, err := l.capturer.Capture(ctx, req.Region)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientBackend, err, "screen capture failed")
	}

	match, ok := FindTemplate(screen, req.Template, l.threshold)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "template not found on screen")
	}

	center := match.Center()
	if req.Region != nil {
		center = center.Add(req.Region.Min)
	}

	result := map[string]any{
		"success":    true,
		"x":          center.X,
		"y":          center.Y,
		"confidence": match.Score,
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

// FindTemplate 返回得分最高且超过阈值的命中。
func FindTemplate(screen, template image.Image, threshold float64) (TemplateMatch, bool) {
	matches := FindTemplateAll(screen, template, threshold, 1)
	if len(matches) == 0 {
		return TemplateMatch{}, false
	}
	return matches[0], true
}

// FindTemplateAll 返回所有得分超过阈值的命中，按得分降序，
// 最多 limit 个；limit <= 0 表示不限。重叠命中会被抑制。
func FindTemplateAll(screen, template image.Image, threshold float64, limit int) []TemplateMatch {
	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	tw, th := template.Bounds().Dx(), template.Bounds().Dy()
	if tw == 0 || th == 0 || tw > sw || th > sh {
		return nil
	}

	screenGray := toGray(screen)
	tmplGray := toGray(template)
	tmplMean, tmplNorm := meanAndNorm(tmplGray, tw, th)
	if tmplNorm == 0 {
		return nil
	}

	var matches []TemplateMatch
	for y := 0; y <= sh-th; y++ {
		for x := 0; x <= sw-tw; x++ {
			score := correlate(screenGray, sw, x, y, tmplGray, tw, th, tmplMean, tmplNorm)
			if score >= threshold {
				matches = append(matches, TemplateMatch{
					Bounds: image.Rect(x, y, x+tw, y+th),
					Score:  score,
				})
			}
		}
	}

	sortMatches(matches)
	matches = suppressOverlaps(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// toGray 把图像展开为行主序的灰度浮点切片。
func toGray(img image.Image) []float64 {
	b := img.Bounds()
	out := make([]float64, b.Dx()*b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out[i] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
			i++
		}
	}
	return out
}

func meanAndNorm(pix []float64, w, h int) (mean, norm float64) {
	n := float64(w * h)
	for _, v := range pix {
		mean += v
	}
	mean /= n
	for _, v := range pix {
		d := v - mean
		norm += d * d
	}
	return mean, math.Sqrt(norm)
}

// correlate 计算模板与屏幕窗口的归一化互相关系数。
func correlate(screen []float64, sw, ox, oy int, tmpl []float64, tw, th int, tmplMean, tmplNorm float64) float64 {
	n := float64(tw * th)

	var winMean float64
	for y := 0; y < th; y++ {
		row := (oy+y)*sw + ox
		for x := 0; x < tw; x++ {
			winMean += screen[row+x]
		}
	}
	winMean /= n

	var dot, winNorm float64
	for y := 0; y < th; y++ {
		row := (oy+y)*sw + ox
		trow := y * tw
		for x := 0; x < tw; x++ {
			ds := screen[row+x] - winMean
			dt := tmpl[trow+x] - tmplMean
			dot += ds * dt
			winNorm += ds * ds
		}
	}
	if winNorm == 0 {
		return 0
	}
	return dot / (math.Sqrt(winNorm) * tmplNorm)
}

func sortMatches(matches []TemplateMatch) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

// suppressOverlaps 去掉与更高分命中重叠的候选。
func suppressOverlaps(matches []TemplateMatch) []TemplateMatch {
	kept := matches[:0]
	for _, m := range matches {
		overlaps := false
		for _, k := range kept {
			if m.Bounds.Overlaps(k.Bounds) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}
	return kept
}
