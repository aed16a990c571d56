package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kayas881/kayas-Assistant/internal/knowledge"
	"github.com/kayas881/kayas-Assistant/internal/scoring"
)

// maxCachedRecords 限制内存仓库常驻的记录数量。
const maxCachedRecords = 512

// RunRecord 表示一次智能体执行的落库结构。
type RunRecord struct {
	ID         string `json:"id"`
	Goal       string `json:"goal"`
	FinalText  string `json:"final_text"`
	Actions    string `json:"actions"`
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
	CreatedAt  int64  `json:"created_at"`
}

// FeedbackRecord 表示用户对某次执行的评价。
type FeedbackRecord struct {
	RunID     string `json:"run_id"`
	Feedback  string `json:"feedback"`
	CreatedAt int64  `json:"created_at"`
}

// RunRepository 抽象执行归档数据的持久化接口。
type RunRepository interface {
	SaveRun(ctx context.Context, record RunRecord) error
	ListLatest(ctx context.Context, limit int) ([]RunRecord, error)
	SaveFeedback(ctx context.Context, record FeedbackRecord) error
	TrainingRows(ctx context.Context) ([]scoring.TrainingRow, error)
	RecentFeedback(ctx context.Context, limit int) ([]knowledge.FeedbackNote, error)
}

// MemoryRunRepository 使用本地 JSON 文件模拟 MySQL 的效果，方便迭代开发。
type MemoryRunRepository struct {
	mu           sync.RWMutex
	runFile      string
	feedbackFile string
	runs         []RunRecord
	feedback     []FeedbackRecord
}

// NewMemoryRunRepository 创建一个内存执行仓库。
func NewMemoryRunRepository(dataDir string) (*MemoryRunRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryRunRepository{
		runFile:      filepath.Join(dataDir, "runs.log"),
		feedbackFile: filepath.Join(dataDir, "feedback.log"),
	}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// SaveRun 以追加写的方式记录执行结果。
func (m *MemoryRunRepository) SaveRun(_ context.Context, record RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := appendJSONLine(m.runFile, record); err != nil {
		return err
	}

	m.runs = append([]RunRecord{record}, m.runs...)
	if len(m.runs) > maxCachedRecords {
		m.runs = m.runs[:maxCachedRecords]
	}
	return nil
}

// ListLatest 返回最近的执行记录，按时间倒序排列。
func (m *MemoryRunRepository) ListLatest(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}

	results := make([]RunRecord, limit)
	copy(results, m.runs[:limit])
	return results, nil
}

// SaveFeedback 记录用户反馈。
func (m *MemoryRunRepository) SaveFeedback(_ context.Context, record FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := appendJSONLine(m.feedbackFile, record); err != nil {
		return err
	}

	m.feedback = append([]FeedbackRecord{record}, m.feedback...)
	if len(m.feedback) > maxCachedRecords {
		m.feedback = m.feedback[:maxCachedRecords]
	}
	return nil
}

// TrainingRows 把带反馈的执行记录拼接成偏好训练样本。
func (m *MemoryRunRepository) TrainingRows(_ context.Context) ([]scoring.TrainingRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byRun := make(map[string]RunRecord, len(m.runs))
	for _, run := range m.runs {
		byRun[run.ID] = run
	}

	var rows []scoring.TrainingRow
	for _, fb := range m.feedback {
		run, ok := byRun[fb.RunID]
		if !ok {
			continue
		}
		rows = append(rows, scoring.TrainingRow{
			Prompt:     run.Prompt,
			Completion: run.Completion,
			Feedback:   fb.Feedback,
		})
	}
	return rows, nil
}

// RecentFeedback 返回最近的反馈及其对应目标，用于规划提示。
func (m *MemoryRunRepository) RecentFeedback(_ context.Context, limit int) ([]knowledge.FeedbackNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.feedback) {
		limit = len(m.feedback)
	}

	byRun := make(map[string]RunRecord, len(m.runs))
	for _, run := range m.runs {
		byRun[run.ID] = run
	}

	notes := make([]knowledge.FeedbackNote, 0, limit)
	for _, fb := range m.feedback[:limit] {
		run, ok := byRun[fb.RunID]
		if !ok {
			continue
		}
		notes = append(notes, knowledge.FeedbackNote{
			Goal:     run.Goal,
			Feedback: fb.Feedback,
		})
	}
	return notes, nil
}

func (m *MemoryRunRepository) loadFromDisk() error {
	runs, err := readJSONLines[RunRecord](m.runFile)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		m.runs = runs
	}

	feedback, err := readJSONLines[FeedbackRecord](m.feedbackFile)
	if err != nil {
		return err
	}
	if len(feedback) > 0 {
		m.feedback = feedback
	}
	return nil
}

func appendJSONLine(path string, record any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开归档日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化归档记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入归档日志失败: %w", err)
	}
	return nil
}

func readJSONLines[T any](path string) ([]T, error) {
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("读取归档日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var restored []T
	for scanner.Scan() {
		var record T
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]T{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("解析归档日志失败: %w", err)
	}

	if len(restored) > maxCachedRecords {
		restored = restored[:maxCachedRecords]
	}
	return restored, nil
}

var _ RunRepository = (*MemoryRunRepository)(nil)
