package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

// SandboxMode 控制文件系统工具可以触达的范围。
type SandboxMode string

const (
	// SandboxStrict 把所有路径限制在工件目录内。
	SandboxStrict SandboxMode = "strict"
	// SandboxDisabled 允许绝对路径，相对路径仍解析到工件目录。
	SandboxDisabled SandboxMode = "disabled"
)

// Filesystem 提供 filesystem.* 工具后端。
type Filesystem struct {
	artifactsDir string
	archiveDir   string
	sandbox      SandboxMode
}

// NewFilesystem 创建文件系统后端。
func NewFilesystem(artifactsDir, archiveDir string, sandbox SandboxMode) *Filesystem {
	if sandbox != SandboxStrict && sandbox != SandboxDisabled {
		sandbox = SandboxStrict
	}
	return &Filesystem{
		artifactsDir: artifactsDir,
		archiveDir:   archiveDir,
		sandbox:      sandbox,
	}
}

// resolve 把用户提供的文件名解析为绝对路径，并做越权防护。
func (f *Filesystem) resolve(filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "", xerrors.New(xerrors.CodeValidation, "filename is empty")
	}

	if filepath.IsAbs(filename) {
		if f.sandbox == SandboxStrict {
			return "", xerrors.New(xerrors.CodeSafetyDenied, "absolute paths are not allowed in sandbox mode")
		}
		return filepath.Clean(filename), nil
	}

	resolved := filepath.Join(f.artifactsDir, filename)
	cleanRoot := filepath.Clean(f.artifactsDir) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(resolved)+string(filepath.Separator), cleanRoot) {
		return "", xerrors.New(xerrors.CodeSafetyDenied, fmt.Sprintf("path %q escapes the artifacts directory", filename))
	}
	return filepath.Clean(resolved), nil
}

// CreateFile 创建（或覆盖）文件。
func (f *Filesystem) CreateFile(ctx context.Context, args map[string]any) (map[string]any, error) {
	filename, _ := args["filename"].(string)
	content, _ := args["content"].(string)

	path, err := f.resolve(filename)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create parent directory")
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "write file")
	}
	return map[string]any{
		"success": true,
		"path":    path,
		"bytes":   len(content),
	}, nil
}

// AppendFile 向文件追加内容，文件不存在时创建。
func (f *Filesystem) AppendFile(ctx context.Context, args map[string]any) (map[string]any, error) {
	filename, _ := args["filename"].(string)
	content, _ := args["content"].(string)

	path, err := f.resolve(filename)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create parent directory")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open file for append")
	}
	defer file.Close()
	if _, err := file.WriteString(content); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "append to file")
	}
	return map[string]any{
		"success": true,
		"path":    path,
		"bytes":   len(content),
	}, nil
}

// DeleteFile 删除文件。正常流程下安全策略会把删除替换为归档，
// 只有带确认标记的调用才会走到这里。
func (f *Filesystem) DeleteFile(ctx context.Context, args map[string]any) (map[string]any, error) {
	filename, _ := args["filename"].(string)

	path, err := f.resolve(filename)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("file %q does not exist", filename))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "stat file")
	}
	if err := os.Remove(path); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete file")
	}
	return map[string]any{
		"success": true,
		"path":    path,
		"deleted": true,
	}, nil
}

// ArchiveFile 把文件移动到归档目录，文件名带时间戳避免覆盖。
func (f *Filesystem) ArchiveFile(ctx context.Context, args map[string]any) (map[string]any, error) {
	filename, _ := args["filename"].(string)

	path, err := f.resolve(filename)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("file %q does not exist", filename))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "stat file")
	}

	if err := os.MkdirAll(f.archiveDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create archive directory")
	}
	base := filepath.Base(path)
	stamped := fmt.Sprintf("%s.%s", base, time.Now().Format("20060102-150405"))
	target := filepath.Join(f.archiveDir, stamped)
	if err := os.Rename(path, target); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "move file to archive")
	}
	return map[string]any{
		"success":  true,
		"path":     target,
		"archived": true,
		"original": path,
	}, nil
}
