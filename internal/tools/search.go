package tools

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

const maxSearchResults = 50

// LocalSearch 提供 local.search 工具后端：在搜索根目录下按
// 文件名子串检索。
type LocalSearch struct {
	root string
}

// NewLocalSearch 创建本地检索后端。
func NewLocalSearch(root string) *LocalSearch {
	return &LocalSearch{root: root}
}

// Search 返回文件名包含查询串的文件列表，结果数量有上限。
func (s *LocalSearch) Search(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "query is empty")
	}

	matches := make([]string, 0, 8)
	truncated := false
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// 单个目录不可读不影响整体检索。
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), query) {
			matches = append(matches, path)
			if len(matches) >= maxSearchResults {
				truncated = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "walk search root")
	}

	return map[string]any{
		"success":   true,
		"query":     query,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}, nil
}
