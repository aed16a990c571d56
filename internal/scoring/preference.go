package scoring

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

// neutralScore 是模型未训练时的固定返回值。
const neutralScore = 0.5

var tokenPattern = regexp.MustCompile(`[a-z0-9_./:+-]+`)

// Model 是对候选动作打分的逻辑回归模型。
// 特征是频率裁剪后的词袋加上少量结构特征；打分时遇到
// 训练期未见过的特征直接忽略，永远不会报错。
type Model struct {
	mu      sync.RWMutex
	weights map[string]float64
	bias    float64
	trained bool
}

// NewModel 创建一个未训练的模型。未训练时 Score 恒为 0.5。
func NewModel() *Model {
	return &Model{weights: make(map[string]float64)}
}

// Score 对 (提示, 候选文本) 给出 [0,1] 区间的分数。
// 相同输入在不重新训练的前提下永远得到相同分数。
func (m *Model) Score(prompt, completion string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.trained {
		return neutralScore
	}

	feats := featurize(prompt, completion)
	// 固定求和顺序，保证浮点结果可复现。
	keys := make([]string, 0, len(feats))
	for k := range feats {
		if _, known := m.weights[k]; known {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	z := m.bias
	for _, k := range keys {
		z += m.weights[k] * feats[k]
	}
	return sigmoid(z)
}

// Trained 报告模型是否经过训练。
func (m *Model) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trained
}

// Example 是一条训练样本。Label 为 1 表示正反馈，0 表示负反馈。
type Example struct {
	Prompt     string
	Completion string
	Label      float64
}

// TrainOptions 控制一次训练。
type TrainOptions struct {
	Epochs    int
	LearnRate float64
	MaxVocab  int
}

func (o *TrainOptions) normalize() {
	if o.Epochs <= 0 {
		o.Epochs = 5
	}
	if o.LearnRate <= 0 {
		o.LearnRate = 0.1
	}
	if o.MaxVocab <= 0 {
		o.MaxVocab = 5000
	}
}

// Train 用随机梯度下降训练逻辑回归。词袋特征按出现频率裁剪到
// MaxVocab 个，结构特征始终保留。样本为空时不改变模型状态。
func (m *Model) Train(examples []Example, opts TrainOptions) {
	if len(examples) == 0 {
		return
	}
	opts.normalize()

	featureSets := make([]map[string]float64, len(examples))
	featureKeys := make([][]string, len(examples))
	counts := make(map[string]int)
	for i, ex := range examples {
		feats := featurize(ex.Prompt, ex.Completion)
		featureSets[i] = feats
		keys := make([]string, 0, len(feats))
		for k := range feats {
			keys = append(keys, k)
			if strings.HasPrefix(k, "tok:") {
				counts[k]++
			}
		}
		// 固定遍历顺序，保证重复训练得到相同权重。
		sort.Strings(keys)
		featureKeys[i] = keys
	}
	vocab := pruneVocab(counts, opts.MaxVocab)

	weights := make(map[string]float64)
	bias := 0.0
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for i, ex := range examples {
			z := bias
			for _, k := range featureKeys[i] {
				if !keepFeature(k, vocab) {
					continue
				}
				z += weights[k] * featureSets[i][k]
			}
			grad := sigmoid(z) - ex.Label
			bias -= opts.LearnRate * grad
			for _, k := range featureKeys[i] {
				if !keepFeature(k, vocab) {
					continue
				}
				weights[k] -= opts.LearnRate * grad * featureSets[i][k]
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights = weights
	m.bias = bias
	m.trained = true
}

// persistedModel 是模型的磁盘表示。
type persistedModel struct {
	Weights map[string]float64 `json:"weights"`
	Bias    float64            `json:"bias"`
	Vocab   []string           `json:"vocab"`
}

// Save 把模型以 JSON 形式写入磁盘。
func (m *Model) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.trained {
		return xerrors.New(xerrors.CodeValidation, "refusing to save an untrained model")
	}

	vocab := make([]string, 0, len(m.weights))
	for k := range m.weights {
		vocab = append(vocab, k)
	}
	sort.Strings(vocab)

	encoded, err := json.MarshalIndent(persistedModel{
		Weights: m.weights,
		Bias:    m.bias,
		Vocab:   vocab,
	}, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode preference model")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "create model directory")
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write preference model")
	}
	return nil
}

// Load 从磁盘恢复模型。文件不存在时返回未训练的模型，不算错误。
func Load(path string) (*Model, error) {
	model := NewModel()
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read preference model")
	}

	var persisted persistedModel
	if err := json.Unmarshal(content, &persisted); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode preference model")
	}

	model.weights = persisted.Weights
	if model.weights == nil {
		model.weights = make(map[string]float64)
	}
	model.bias = persisted.Bias
	model.trained = len(model.weights) > 0
	return model, nil
}

// featurize 提取词袋与结构特征。
func featurize(prompt, completion string) map[string]float64 {
	feats := make(map[string]float64)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(prompt), -1) {
		feats["tok:"+tok]++
	}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(completion), -1) {
		feats["tok:"+tok]++
	}

	feats["len_prompt"] = float64(len(prompt)) / 100.0
	feats["len_completion"] = float64(len(completion)) / 100.0
	feats["num_braces"] = float64(strings.Count(completion, "{") + strings.Count(completion, "}"))
	feats["num_brackets"] = float64(strings.Count(completion, "[") + strings.Count(completion, "]"))

	trimmed := strings.TrimSpace(completion)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		feats["is_json_like"] = 1
	}
	steps := 0
	for _, line := range strings.Split(completion, "\n") {
		if strings.TrimSpace(line) != "" {
			steps++
		}
	}
	feats["num_steps"] = float64(steps)
	return feats
}

// pruneVocab 保留出现频率最高的 max 个词袋特征。
func pruneVocab(counts map[string]int, max int) map[string]struct{} {
	type entry struct {
		key   string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, entry{k, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})
	if len(entries) > max {
		entries = entries[:max]
	}
	vocab := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		vocab[e.key] = struct{}{}
	}
	return vocab
}

// keepFeature 判断特征是否参与训练：结构特征始终保留，
// 词袋特征必须在裁剪后的词表内。
func keepFeature(key string, vocab map[string]struct{}) bool {
	if !strings.HasPrefix(key, "tok:") {
		return true
	}
	_, ok := vocab[key]
	return ok
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
