package perception

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	batches [][]Token
	calls   int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img image.Image) ([]Token, error) {
	f.calls++
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	if len(f.batches) > 1 {
		f.batches = f.batches[1:]
	}
	return batch, nil
}

func (f *fakeRecognizer) Available() bool { return true }

func tokensOnScreen() []Token {
	return []Token{
		{Text: "File", Bounds: image.Rect(10, 10, 40, 25), Confidence: 95},
		{Text: "Save", Bounds: image.Rect(50, 10, 90, 25), Confidence: 88},
		{Text: "smudge", Bounds: image.Rect(100, 10, 130, 25), Confidence: 20},
	}
}

func newTestOCRLayer(rec *fakeRecognizer, pointer *fakePointer) *OCRLayer {
	screen := image.NewGray(image.Rect(0, 0, 200, 100))
	return NewOCRLayer(fakeCapturer{img: screen}, rec, pointer,
		WithPollInterval(5*time.Millisecond))
}

func TestOCRClickFindsTextCenter(t *testing.T) {
	pointer := &fakePointer{}
	layer := newTestOCRLayer(&fakeRecognizer{batches: [][]Token{tokensOnScreen()}}, pointer)

	result, err := layer.Perform(context.Background(), OpClick, Request{Target: "Save"})
	require.NoError(t, err)
	assert.Equal(t, true, result["clicked"])
	require.Len(t, pointer.clicks, 1)
	assert.Equal(t, image.Pt(70, 17), pointer.clicks[0])
}

func TestOCRConfidenceFloorFiltersTokens(t *testing.T) {
	layer := newTestOCRLayer(&fakeRecognizer{batches: [][]Token{tokensOnScreen()}}, nil)

	// "smudge" 置信度 20，低于下限，应当不可见。
	_, err := layer.Perform(context.Background(), OpFind, Request{Target: "smudge"})
	require.Error(t, err)
}

func TestOCRSubstringMatch(t *testing.T) {
	layer := newTestOCRLayer(&fakeRecognizer{batches: [][]Token{{
		{Text: "Save As...", Bounds: image.Rect(0, 0, 60, 20), Confidence: 90},
	}}}, nil)

	result, err := layer.Perform(context.Background(), OpFind, Request{Target: "save"})
	require.NoError(t, err)
	assert.Equal(t, "Save As...", result["text"])
}

func TestOCRReadAllText(t *testing.T) {
	layer := newTestOCRLayer(&fakeRecognizer{batches: [][]Token{tokensOnScreen()}}, nil)

	result, err := layer.Perform(context.Background(), OpRead, Request{})
	require.NoError(t, err)
	assert.Equal(t, "File Save", result["text"])
	assert.Equal(t, 2, result["tokens"])
}

func TestOCRWaitForTextEventuallyAppears(t *testing.T) {
	rec := &fakeRecognizer{batches: [][]Token{
		{},
		{},
		{{Text: "Done", Bounds: image.Rect(0, 0, 40, 20), Confidence: 92}},
	}}
	layer := newTestOCRLayer(rec, nil)

	result, err := layer.WaitForText(context.Background(), "Done", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Done", result["text"])
	assert.GreaterOrEqual(t, rec.calls, 3)
}

func TestOCRWaitForTextTimesOut(t *testing.T) {
	layer := newTestOCRLayer(&fakeRecognizer{batches: [][]Token{{}}}, nil)

	_, err := layer.WaitForText(context.Background(), "Never", nil, 30*time.Millisecond)
	require.Error(t, err)
}

func TestOCRTextNear(t *testing.T) {
	layer := newTestOCRLayer(&fakeRecognizer{batches: [][]Token{{
		{Text: "Total:", Bounds: image.Rect(10, 10, 50, 25), Confidence: 95},
		{Text: "42.50", Bounds: image.Rect(60, 10, 100, 25), Confidence: 93},
		{Text: "Footer", Bounds: image.Rect(10, 400, 60, 420), Confidence: 95},
	}}}, nil)

	result, err := layer.TextNear(context.Background(), "Total:", nil, 100)
	require.NoError(t, err)
	nearby, ok := result["nearby"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"42.50"}, nearby)
}

func TestOCRSupports(t *testing.T) {
	layer := newTestOCRLayer(&fakeRecognizer{}, nil)
	assert.True(t, layer.Supports(OpClick, Request{Target: "Save"}))
	assert.True(t, layer.Supports(OpRead, Request{}))
	assert.False(t, layer.Supports(OpType, Request{Target: "field"}))
	assert.False(t, layer.Supports(OpClick, Request{}))
}
