package scoring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntrainedModelReturnsNeutral(t *testing.T) {
	model := NewModel()
	assert.Equal(t, 0.5, model.Score("any prompt", "any completion"))
	assert.False(t, model.Trained())
}

func TestScoreIsDeterministic(t *testing.T) {
	model := NewModel()
	model.Train(trainingExamples(), TrainOptions{Epochs: 5, LearnRate: 0.1, MaxVocab: 100})

	prompt := "create file notes.txt with content X"
	completion := `[{"tool":"filesystem.create_file","args":{"filename":"notes.txt"}}]`

	first := model.Score(prompt, completion)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, model.Score(prompt, completion))
	}
}

func TestTrainSeparatesPolarities(t *testing.T) {
	model := NewModel()
	model.Train(trainingExamples(), TrainOptions{Epochs: 20, LearnRate: 0.5, MaxVocab: 100})

	good := model.Score("fetch the page", `{"tool":"web.fetch","args":{"url":"https://a.b"}}`)
	bad := model.Score("fetch the page", "sorry I cannot help with that request")
	assert.Greater(t, good, bad)
}

func TestUnseenFeaturesIgnored(t *testing.T) {
	model := NewModel()
	model.Train(trainingExamples(), TrainOptions{Epochs: 5, LearnRate: 0.1, MaxVocab: 100})

	// 全部由未见过的词组成的输入仍要给出合法分数。
	score := model.Score("zzzqqq unseen wörds", "完全陌生的输入")
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestVocabCap(t *testing.T) {
	counts := map[string]int{
		"tok:a": 10,
		"tok:b": 5,
		"tok:c": 1,
	}
	vocab := pruneVocab(counts, 2)
	require.Len(t, vocab, 2)
	assert.Contains(t, vocab, "tok:a")
	assert.Contains(t, vocab, "tok:b")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")

	model := NewModel()
	model.Train(trainingExamples(), TrainOptions{Epochs: 5, LearnRate: 0.1, MaxVocab: 100})
	require.NoError(t, model.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Trained())

	prompt, completion := "fetch the page", `{"tool":"web.fetch"}`
	assert.Equal(t, model.Score(prompt, completion), loaded.Score(prompt, completion))
}

func TestLoadMissingFileReturnsUntrained(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.False(t, loaded.Trained())
	assert.Equal(t, 0.5, loaded.Score("a", "b"))
}

func TestSaveUntrainedRefused(t *testing.T) {
	model := NewModel()
	assert.Error(t, model.Save(filepath.Join(t.TempDir(), "model.json")))
}

func TestLabelFeedback(t *testing.T) {
	cases := []struct {
		feedback string
		label    float64
		ok       bool
	}{
		{"great, exactly what I wanted", 1, true},
		{"this was wrong", 0, true},
		{"not good at all", 0, true}, // 负面词优先
		{"+1", 1, true},
		{"reject", 0, true},
		{"hmm interesting", 0, false},
		{"   ", 0, false},
	}
	for _, tc := range cases {
		label, ok := LabelFeedback(tc.feedback)
		assert.Equal(t, tc.ok, ok, "feedback=%q", tc.feedback)
		if ok {
			assert.Equal(t, tc.label, label, "feedback=%q", tc.feedback)
		}
	}
}

type staticSource struct {
	rows []TrainingRow
}

func (s staticSource) TrainingRows(ctx context.Context) ([]TrainingRow, error) {
	return s.rows, nil
}

func TestTrainerBuildsModelFromFeedback(t *testing.T) {
	source := staticSource{rows: []TrainingRow{
		{Prompt: "fetch the page", Completion: `{"tool":"web.fetch"}`, Feedback: "good"},
		{Prompt: "fetch the page", Completion: "no actions taken", Feedback: "bad"},
		{Prompt: "fetch the page", Completion: "whatever", Feedback: "no polarity here at all"},
	}}

	trainer := NewTrainer(source, TrainOptions{Epochs: 10, LearnRate: 0.5, MaxVocab: 100})
	model, err := trainer.Train(context.Background())
	require.NoError(t, err)
	assert.True(t, model.Trained())
}

func TestTrainerWithoutLabels(t *testing.T) {
	trainer := NewTrainer(staticSource{rows: []TrainingRow{
		{Prompt: "a", Completion: "b", Feedback: "no polarity"},
	}}, TrainOptions{})

	model, err := trainer.Train(context.Background())
	require.NoError(t, err)
	assert.False(t, model.Trained())
	assert.Equal(t, 0.5, model.Score("a", "b"))
}

func trainingExamples() []Example {
	return []Example{
		{Prompt: "fetch the page", Completion: `{"tool":"web.fetch","args":{"url":"https://a.b"}}`, Label: 1},
		{Prompt: "fetch the page", Completion: "sorry I cannot help with that request", Label: 0},
		{Prompt: "create file notes.txt", Completion: `[{"tool":"filesystem.create_file","args":{"filename":"notes.txt"}}]`, Label: 1},
		{Prompt: "create file notes.txt", Completion: "step 1 think\nstep 2 think more\nstep 3 give up", Label: 0},
		{Prompt: "delete report.pdf", Completion: `{"tool":"filesystem.archive_file","args":{"filename":"report.pdf"}}`, Label: 1},
		{Prompt: "delete report.pdf", Completion: "I deleted everything on the disk", Label: 0},
	}
}
