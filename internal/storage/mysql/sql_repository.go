package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kayas881/kayas-Assistant/internal/knowledge"
	"github.com/kayas881/kayas-Assistant/internal/scoring"
)

// SQLRunRepository 使用真实的 MySQL 数据库存储执行归档。
type SQLRunRepository struct {
	db *sql.DB
}

// NewSQLRunRepository 创建连接池并执行待应用的迁移。
func NewSQLRunRepository(ctx context.Context, cfg Config) (*SQLRunRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo := &SQLRunRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// SaveRun 将执行记录写入 MySQL。
func (s *SQLRunRepository) SaveRun(ctx context.Context, record RunRecord) error {
	const stmt = `INSERT INTO runs
        (id, goal, final_text, actions, prompt, completion, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Goal,
		record.FinalText,
		record.Actions,
		record.Prompt,
		record.Completion,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入执行记录失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条执行记录。
func (s *SQLRunRepository) ListLatest(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, goal, final_text, actions, prompt, completion, created_at
        FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询执行记录失败: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		if err := rows.Scan(&record.ID, &record.Goal, &record.FinalText, &record.Actions, &record.Prompt, &record.Completion, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析执行记录失败: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历执行记录失败: %w", err)
	}

	return records, nil
}

// SaveFeedback 记录用户反馈。
func (s *SQLRunRepository) SaveFeedback(ctx context.Context, record FeedbackRecord) error {
	const stmt = `INSERT INTO run_feedback (run_id, feedback, created_at) VALUES (?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt, record.RunID, record.Feedback, record.CreatedAt); err != nil {
		return fmt.Errorf("写入反馈记录失败: %w", err)
	}
	return nil
}

// TrainingRows 把带反馈的执行记录拼接成偏好训练样本。
func (s *SQLRunRepository) TrainingRows(ctx context.Context) ([]scoring.TrainingRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.prompt, r.completion, f.feedback
        FROM run_feedback f JOIN runs r ON r.id = f.run_id
        ORDER BY f.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("查询训练样本失败: %w", err)
	}
	defer rows.Close()

	var result []scoring.TrainingRow
	for rows.Next() {
		var row scoring.TrainingRow
		if err := rows.Scan(&row.Prompt, &row.Completion, &row.Feedback); err != nil {
			return nil, fmt.Errorf("解析训练样本失败: %w", err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历训练样本失败: %w", err)
	}
	return result, nil
}

// RecentFeedback 返回最近的反馈及其对应目标。
func (s *SQLRunRepository) RecentFeedback(ctx context.Context, limit int) ([]knowledge.FeedbackNote, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT r.goal, f.feedback
        FROM run_feedback f JOIN runs r ON r.id = f.run_id
        ORDER BY f.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询反馈记录失败: %w", err)
	}
	defer rows.Close()

	var notes []knowledge.FeedbackNote
	for rows.Next() {
		var note knowledge.FeedbackNote
		if err := rows.Scan(&note.Goal, &note.Feedback); err != nil {
			return nil, fmt.Errorf("解析反馈记录失败: %w", err)
		}
		notes = append(notes, note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历反馈记录失败: %w", err)
	}
	return notes, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRunRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ RunRepository = (*SQLRunRepository)(nil)
