package tools

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

const (
	fetchTimeout  = 30 * time.Second
	maxFetchBytes = 512 * 1024
	userAgent     = "kayas-assistant/1.0"
)

// Web 提供 web.fetch 工具后端。
type Web struct {
	client *http.Client
}

// NewWeb 创建网页抓取后端。
func NewWeb() *Web {
	return &Web{client: &http.Client{Timeout: fetchTimeout}}
}

// Fetch 抓取指定 URL 的内容，响应体被截断到固定上限。
func (w *Web) Fetch(ctx context.Context, args map[string]any) (map[string]any, error) {
	url, _ := args["url"].(string)
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "url is empty")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, xerrors.New(xerrors.CodeValidation, "url must start with http:// or https://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "build fetch request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientBackend, err, "fetch url")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientBackend, err, "read response body")
	}

	return map[string]any{
		"success":      resp.StatusCode < http.StatusBadRequest,
		"url":          url,
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"content":      string(body),
		"truncated":    int64(len(body)) >= maxFetchBytes,
	}, nil
}
