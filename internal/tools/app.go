package tools

import (
	"context"
	"os/exec"
	"strings"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

// App 提供 app.open 工具后端：启动本地程序并立即返回。
type App struct {
	// allowed 非空时充当白名单。
	allowed map[string]struct{}
}

// NewApp 创建程序启动后端。allowed 为空表示不限制。
func NewApp(allowed []string) *App {
	a := &App{}
	if len(allowed) > 0 {
		a.allowed = make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			a.allowed[strings.ToLower(name)] = struct{}{}
		}
	}
	return a
}

// Open 启动指定程序，不等待其退出。
func (a *App) Open(ctx context.Context, args map[string]any) (map[string]any, error) {
	name, _ := args["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "program name is empty")
	}
	// 程序名不允许携带参数或路径拼接。
	if strings.ContainsAny(name, "&|;$`<>") {
		return nil, xerrors.New(xerrors.CodeValidation, "program name contains shell metacharacters")
	}
	if a.allowed != nil {
		if _, ok := a.allowed[strings.ToLower(name)]; !ok {
			return nil, xerrors.New(xerrors.CodeSafetyDenied, "program is not in the allow list")
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, err, "program not found")
	}

	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientBackend, err, "start program")
	}
	pid := cmd.Process.Pid
	// 后台回收，避免僵尸进程。
	go func() { _ = cmd.Wait() }()

	logger.Named("app").Info("program started", "name", name, "pid", pid)
	return map[string]any{
		"success": true,
		"name":    name,
		"pid":     pid,
	}, nil
}
