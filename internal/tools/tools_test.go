package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayas881/kayas-Assistant/internal/action"
	"github.com/kayas881/kayas-Assistant/internal/config"
	"github.com/kayas881/kayas-Assistant/internal/safety"
)

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello from the page"))
	}))
	defer srv.Close()

	web := NewWeb()
	result, err := web.Fetch(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, http.StatusOK, result["status"])
	assert.Equal(t, "hello from the page", result["content"])
}

func TestWebFetchRejectsBadURL(t *testing.T) {
	web := NewWeb()
	_, err := web.Fetch(context.Background(), map[string]any{"url": "ftp://example.com"})
	require.Error(t, err)

	_, err = web.Fetch(context.Background(), map[string]any{"url": "   "})
	require.Error(t, err)
}

func TestEmailSendBuildsMessage(t *testing.T) {
	var captured struct {
		addr string
		from string
		to   []string
		msg  string
	}

	email := NewEmail(config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		User: "bot@example.com",
		From: "assistant@example.com",
	})
	email.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.msg = string(msg)
		return nil
	}

	result, err := email.Send(context.Background(), map[string]any{
		"to":      "user@example.com",
		"subject": "weekly report",
		"body":    "all green",
	})
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "smtp.example.com:587", captured.addr)
	assert.Equal(t, []string{"user@example.com"}, captured.to)
	assert.Contains(t, captured.msg, "Subject: weekly report")
	assert.Contains(t, captured.msg, "all green")
}

func TestEmailSendValidation(t *testing.T) {
	email := NewEmail(config.SMTPConfig{Host: "smtp.example.com", Port: 587})

	_, err := email.Send(context.Background(), map[string]any{"to": "not-an-address", "body": "x"})
	require.Error(t, err)
}

func TestLocalSearchFindsByName(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "budget-2026.xlsx"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "Budget-draft.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "unrelated.txt"), []byte("x"), 0o644))

	search := NewLocalSearch(root)
	result, err := search.Search(context.Background(), map[string]any{"query": "budget"})
	require.NoError(t, err)
	assert.Equal(t, 2, result["count"])
}

func TestFileWatcherCollectsEvents(t *testing.T) {
	dir := t.TempDir()
	watcher := NewFileWatcher()
	defer watcher.Close()
	ctx := context.Background()

	_, err := watcher.Start(ctx, map[string]any{"path": dir})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))

	// 事件是异步送达的。
	deadline := time.Now().Add(2 * time.Second)
	for {
		result, err := watcher.Events(ctx, map[string]any{"path": dir})
		require.NoError(t, err)
		if result["count"].(int) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("没有收到任何文件事件")
		}
		time.Sleep(20 * time.Millisecond)
	}

	_, err = watcher.Stop(ctx, map[string]any{"path": dir})
	require.NoError(t, err)

	_, err = watcher.Events(ctx, map[string]any{"path": dir})
	require.Error(t, err, "停止后查询应报错")
}

func TestRegisterWiresCreateFileScenario(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ToolsConfig{
		ArtifactsDir: dir,
		ArchiveDir:   filepath.Join(dir, "archive"),
		SandboxMode:  string(SandboxStrict),
		SearchRoot:   dir,
	}
	backends := NewBackends(cfg, nil)
	defer backends.Close()

	router := action.NewRouter(safety.NewPolicy())
	backends.Register(router)

	result := router.Dispatch(context.Background(), action.Descriptor{
		Tool: "filesystem.create_file",
		Args: map[string]any{"filename": "notes.txt", "content": "X"},
	}, "create file notes.txt with content X")

	require.Equal(t, true, result["success"], "结果: %v", result)
	path, _ := result["path"].(string)
	assert.True(t, filepath.Base(path) == "notes.txt")
}

func TestRegisterDeleteGoesThroughArchive(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ToolsConfig{
		ArtifactsDir: dir,
		ArchiveDir:   filepath.Join(dir, "archive"),
		SandboxMode:  string(SandboxStrict),
		SearchRoot:   dir,
	}
	backends := NewBackends(cfg, nil)
	defer backends.Close()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("x"), 0o644))

	router := action.NewRouter(safety.NewPolicy(safety.WithDeleteMode(safety.DeleteModeArchive)))
	backends.Register(router)

	result := router.Dispatch(context.Background(), action.Descriptor{
		Tool: "filesystem.delete_file",
		Args: map[string]any{"filename": "report.pdf"},
	}, "delete report.pdf")

	require.Equal(t, true, result["success"], "结果: %v", result)
	assert.Equal(t, "filesystem.delete_file", result["substituted_for"])
	assert.Equal(t, true, result["archived"])

	// 原文件已不在原位，但仍保存在归档目录里。
	_, err := os.Stat(filepath.Join(dir, "report.pdf"))
	assert.True(t, os.IsNotExist(err))
}
