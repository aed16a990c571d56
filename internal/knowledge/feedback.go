package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

// FeedbackNote 是一条历史运行的用户反馈。
type FeedbackNote struct {
	Goal     string
	Feedback string
}

// FeedbackSource 提供历史反馈，由运行归档仓库实现。
type FeedbackSource interface {
	RecentFeedback(ctx context.Context, limit int) ([]FeedbackNote, error)
}

// FeedbackProvider 把历史反馈转换为规划提示：规划相似目标时，
// 把用户当时的评价附在提示词里。
type FeedbackProvider struct {
	source     FeedbackSource
	maxResults int

	mu    sync.RWMutex
	notes []FeedbackNote
}

// NewFeedbackProvider 创建反馈提示库。
func NewFeedbackProvider(source FeedbackSource, maxResults int) *FeedbackProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &FeedbackProvider{source: source, maxResults: maxResults}
}

// Refresh 从归档中重新拉取最近的反馈快照。
func (p *FeedbackProvider) Refresh(ctx context.Context) error {
	if p.source == nil {
		return nil
	}
	notes, err := p.source.RecentFeedback(ctx, 100)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.notes = notes
	p.mu.Unlock()
	logger.Named("knowledge").Debug("feedback hints refreshed", "count", len(notes))
	return nil
}

// Query 返回与目标有词汇重叠的反馈提示。
func (p *FeedbackProvider) Query(goal string) []Snippet {
	p.mu.RLock()
	notes := p.notes
	p.mu.RUnlock()
	if len(notes) == 0 {
		return nil
	}

	goalWords := wordSet(goal)
	results := make([]Snippet, 0, p.maxResults)
	for _, note := range notes {
		if !overlaps(goalWords, wordSet(note.Goal)) {
			continue
		}
		results = append(results, Snippet{
			Title:   note.Goal,
			Content: fmt.Sprintf("a similar goal (%q) got this feedback: %s", note.Goal, note.Feedback),
		})
		if len(results) >= p.maxResults {
			break
		}
	}
	return results
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(w) > 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	for w := range a {
		if _, ok := b[w]; ok {
			return true
		}
	}
	return false
}

var _ Provider = (*FeedbackProvider)(nil)
