package perception

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLayer 是可编排的测试层。
type fakeLayer struct {
	id        string
	ops       map[Op]bool
	available bool
	result    map[string]any
	err       error
	calls     int
	delay     time.Duration
}

func (f *fakeLayer) ID() string { return f.id }

func (f *fakeLayer) Supports(op Op, req Request) bool { return f.ops[op] }

func (f *fakeLayer) Available() bool { return f.available }

func (f *fakeLayer) Perform(ctx context.Context, op Op, req Request) (map[string]any, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func allOps() map[Op]bool {
	return map[Op]bool{OpClick: true, OpType: true, OpRead: true, OpFind: true}
}

func TestFirstSuccessWins(t *testing.T) {
	first := &fakeLayer{id: "accessibility", ops: allOps(), available: true,
		result: map[string]any{"success": true}}
	second := &fakeLayer{id: "ocr", ops: allOps(), available: true,
		result: map[string]any{"success": true}}

	engine := NewEngine([]Layer{first, second})
	result := engine.SmartClick(context.Background(), Request{Target: "Save"})

	require.True(t, result.Success)
	assert.Equal(t, "accessibility", result.Method)
	assert.Len(t, result.Attempts, 1)
	assert.Equal(t, 0, second.calls, "第一层成功后不应再尝试后续层")
}

func TestThirdLayerSucceedsAfterTwoFailures(t *testing.T) {
	first := &fakeLayer{id: "accessibility", ops: allOps(), available: true,
		err: errors.New("target not found")}
	second := &fakeLayer{id: "app", ops: allOps(), available: true,
		err: errors.New("session detached")}
	third := &fakeLayer{id: "ocr", ops: allOps(), available: true,
		result: map[string]any{"success": true, "x": 10, "y": 20}}

	engine := NewEngine([]Layer{first, second, third})
	result := engine.SmartClick(context.Background(), Request{Target: "Save"})

	require.True(t, result.Success)
	assert.Equal(t, "ocr", result.Method)
	require.Len(t, result.Attempts, 3)
	assert.Equal(t, "accessibility", result.Attempts[0].Layer)
	assert.Equal(t, "target not found", result.Attempts[0].Outcome)
	assert.Equal(t, "app", result.Attempts[1].Layer)
	assert.Equal(t, "success", result.Attempts[2].Outcome)
}

func TestCapabilityMismatchContributesZeroAttempts(t *testing.T) {
	capable := &fakeLayer{id: "accessibility", ops: allOps(), available: true,
		err: errors.New("not found")}
	// vision 只支持 click/find，read 请求对它是能力不匹配。
	mismatched := &fakeLayer{id: "vision", ops: map[Op]bool{OpClick: true, OpFind: true}, available: true}

	engine := NewEngine([]Layer{capable, mismatched})
	result := engine.SmartRead(context.Background(), Request{Target: "status"})

	require.False(t, result.Success)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, "accessibility", result.Attempts[0].Layer)
	assert.Equal(t, 0, mismatched.calls)
}

func TestNoCapableLayer(t *testing.T) {
	typing := &fakeLayer{id: "vision", ops: map[Op]bool{OpClick: true}, available: true}
	engine := NewEngine([]Layer{typing})

	result := engine.SmartType(context.Background(), Request{Target: "field", Text: "hello"})
	require.False(t, result.Success)
	assert.Empty(t, result.Attempts)
	assert.NotEmpty(t, result.Message)
}

func TestUnavailableLayerSkipped(t *testing.T) {
	offline := &fakeLayer{id: "accessibility", ops: allOps(), available: false}
	online := &fakeLayer{id: "ocr", ops: allOps(), available: true,
		result: map[string]any{"success": true}}

	engine := NewEngine([]Layer{offline, online})
	result := engine.FindElement(context.Background(), Request{Target: "OK"})

	require.True(t, result.Success)
	assert.Equal(t, "ocr", result.Method)
	assert.Equal(t, 0, offline.calls)
}

func TestSmartClickScenario(t *testing.T) {
	// 无障碍层报告未找到，vision 因缺少模板被静默跳过，ocr 命中。
	accessibility := &fakeLayer{id: "accessibility", ops: allOps(), available: true,
		err: errors.New("control Save not found")}
	vision := NewVisionLayer(nil, nil, 0.8)
	ocrLike := &fakeLayer{id: "ocr", ops: allOps(), available: true,
		result: map[string]any{"success": true, "clicked": true}}

	engine := NewEngine([]Layer{accessibility, vision, ocrLike})
	result := engine.SmartClick(context.Background(), Request{Target: "Save"})

	require.True(t, result.Success)
	assert.Equal(t, "ocr", result.Method)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "accessibility", result.Attempts[0].Layer)
	assert.Equal(t, "ocr", result.Attempts[1].Layer)

	wire := result.Map()
	assert.Equal(t, true, wire["success"])
	assert.Equal(t, "ocr", wire["method"])
}

func TestLayerTimeout(t *testing.T) {
	slow := &fakeLayer{id: "accessibility", ops: allOps(), available: true,
		delay: 200 * time.Millisecond, result: map[string]any{"success": true}}
	fast := &fakeLayer{id: "ocr", ops: allOps(), available: true,
		result: map[string]any{"success": true}}

	engine := NewEngine([]Layer{slow, fast}, WithLayerTimeout(20*time.Millisecond))
	result := engine.SmartClick(context.Background(), Request{Target: "Save"})

	require.True(t, result.Success)
	assert.Equal(t, "ocr", result.Method)
	require.Len(t, result.Attempts, 2)
	assert.NotEqual(t, "success", result.Attempts[0].Outcome)
}

func TestPanickingLayerBecomesFailedAttempt(t *testing.T) {
	angry := &panicLayer{}
	backup := &fakeLayer{id: "ocr", ops: allOps(), available: true,
		result: map[string]any{"success": true}}

	engine := NewEngine([]Layer{angry, backup})
	result := engine.SmartClick(context.Background(), Request{Target: "Save"})

	require.True(t, result.Success)
	require.Len(t, result.Attempts, 2)
	assert.Contains(t, result.Attempts[0].Outcome, "panicked")
}

type panicLayer struct{}

func (panicLayer) ID() string                       { return "angry" }
func (panicLayer) Supports(op Op, req Request) bool { return true }
func (panicLayer) Available() bool                  { return true }
func (panicLayer) Perform(ctx context.Context, op Op, req Request) (map[string]any, error) {
	panic("native handle corrupted")
}

func TestResultMapWireShape(t *testing.T) {
	r := &Result{
		Success: false,
		Attempts: []Attempt{
			{Layer: "accessibility", Outcome: "not found"},
		},
		Message: "all layers failed",
	}
	wire := r.Map()
	assert.Equal(t, false, wire["success"])
	assert.Nil(t, wire["method"])
	attempts, ok := wire["attempts"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, attempts, 1)
	assert.Equal(t, "accessibility", attempts[0]["layer"])
}
