package mysql

import (
	"context"
	"testing"
	"time"
)

func newRun(id, goal string) RunRecord {
	return RunRecord{
		ID:         id,
		Goal:       goal,
		FinalText:  "done",
		Actions:    "[]",
		Prompt:     "goal: " + goal,
		Completion: "finished " + goal,
		CreatedAt:  time.Now().Unix(),
	}
}

func TestMemoryRunRepositorySaveAndList(t *testing.T) {
	repo, err := NewMemoryRunRepository(t.TempDir())
	if err != nil {
		t.Fatalf("创建仓库失败: %v", err)
	}
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.SaveRun(ctx, newRun(id, "goal "+id)); err != nil {
			t.Fatalf("保存失败: %v", err)
		}
	}

	records, err := repo.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("期望 2 条记录, 实际 %d", len(records))
	}
	if records[0].ID != "c" || records[1].ID != "b" {
		t.Fatalf("应按时间倒序: %+v", records)
	}
}

func TestMemoryRunRepositoryReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewMemoryRunRepository(dir)
	if err != nil {
		t.Fatalf("创建仓库失败: %v", err)
	}
	if err := repo.SaveRun(ctx, newRun("r1", "write notes")); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if err := repo.SaveFeedback(ctx, FeedbackRecord{RunID: "r1", Feedback: "good", CreatedAt: time.Now().Unix()}); err != nil {
		t.Fatalf("保存反馈失败: %v", err)
	}

	reloaded, err := NewMemoryRunRepository(dir)
	if err != nil {
		t.Fatalf("重新加载失败: %v", err)
	}

	records, err := reloaded.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(records) != 1 || records[0].ID != "r1" {
		t.Fatalf("重启后应恢复记录: %+v", records)
	}

	rows, err := reloaded.TrainingRows(ctx)
	if err != nil {
		t.Fatalf("查询训练样本失败: %v", err)
	}
	if len(rows) != 1 || rows[0].Feedback != "good" {
		t.Fatalf("重启后应恢复反馈: %+v", rows)
	}
}

func TestTrainingRowsJoinsByRunID(t *testing.T) {
	repo, err := NewMemoryRunRepository(t.TempDir())
	if err != nil {
		t.Fatalf("创建仓库失败: %v", err)
	}
	ctx := context.Background()

	if err := repo.SaveRun(ctx, newRun("r1", "send the report")); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if err := repo.SaveFeedback(ctx, FeedbackRecord{RunID: "r1", Feedback: "helpful", CreatedAt: 1}); err != nil {
		t.Fatalf("保存反馈失败: %v", err)
	}
	// 指向不存在执行的反馈应被忽略。
	if err := repo.SaveFeedback(ctx, FeedbackRecord{RunID: "ghost", Feedback: "bad", CreatedAt: 2}); err != nil {
		t.Fatalf("保存反馈失败: %v", err)
	}

	rows, err := repo.TrainingRows(ctx)
	if err != nil {
		t.Fatalf("查询训练样本失败: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("期望 1 条样本, 实际 %d", len(rows))
	}
	if rows[0].Prompt != "goal: send the report" || rows[0].Feedback != "helpful" {
		t.Fatalf("样本内容不符: %+v", rows[0])
	}
}

func TestRecentFeedbackReturnsGoals(t *testing.T) {
	repo, err := NewMemoryRunRepository(t.TempDir())
	if err != nil {
		t.Fatalf("创建仓库失败: %v", err)
	}
	ctx := context.Background()

	if err := repo.SaveRun(ctx, newRun("r1", "summarize the weekly report")); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if err := repo.SaveFeedback(ctx, FeedbackRecord{RunID: "r1", Feedback: "exactly right", CreatedAt: 1}); err != nil {
		t.Fatalf("保存反馈失败: %v", err)
	}

	notes, err := repo.RecentFeedback(ctx, 10)
	if err != nil {
		t.Fatalf("查询反馈失败: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("期望 1 条反馈, 实际 %d", len(notes))
	}
	if notes[0].Goal != "summarize the weekly report" || notes[0].Feedback != "exactly right" {
		t.Fatalf("反馈内容不符: %+v", notes[0])
	}
}

func TestSplitSQLStatements(t *testing.T) {
	statements := splitSQLStatements("CREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT);\n")
	if len(statements) != 2 {
		t.Fatalf("期望 2 条语句, 实际 %d: %v", len(statements), statements)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if v := parseMigrationVersion("0001_create_runs.sql"); v != "0001" {
		t.Fatalf("版本解析不符: %q", v)
	}
	if v := parseMigrationVersion("0002.sql"); v != "0002" {
		t.Fatalf("版本解析不符: %q", v)
	}
}
