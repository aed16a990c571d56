package knowledge

import (
	"context"
	"testing"
)

func TestStaticProviderKeywordMatch(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "downloads", Content: "downloads live under ~/Downloads", Keywords: []string{"download"}},
		{Title: "mail", Content: "use the work account", Keywords: []string{"email", "mail"}},
	}, 3)

	results := provider.Query("download the latest invoice")
	if len(results) != 1 || results[0].Title != "downloads" {
		t.Fatalf("检索结果不符: %+v", results)
	}

	if results := provider.Query("unrelated goal"); len(results) != 0 {
		t.Fatalf("不匹配的目标不应有结果: %+v", results)
	}
}

func TestStaticProviderMaxResults(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "a", Content: "1"},
		{Title: "b", Content: "2"},
		{Title: "c", Content: "3"},
	}, 2)

	if results := provider.Query("anything"); len(results) != 2 {
		t.Fatalf("应截断到 maxResults: %+v", results)
	}
}

type fakeFeedbackSource struct {
	notes []FeedbackNote
}

func (f fakeFeedbackSource) RecentFeedback(ctx context.Context, limit int) ([]FeedbackNote, error) {
	return f.notes, nil
}

func TestFeedbackProviderOverlap(t *testing.T) {
	provider := NewFeedbackProvider(fakeFeedbackSource{notes: []FeedbackNote{
		{Goal: "summarize weekly report", Feedback: "good, exactly right"},
		{Goal: "play some music", Feedback: "wrong player"},
	}}, 3)
	if err := provider.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := provider.Query("create the weekly report summary")
	if len(results) != 1 {
		t.Fatalf("应命中一条反馈: %+v", results)
	}

	if results := provider.Query("open calculator"); len(results) != 0 {
		t.Fatalf("无重叠词不应命中: %+v", results)
	}
}
