package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
	"github.com/kayas881/kayas-Assistant/pkg/logger"
)

const maxEventLog = 200

// watchEntry 是一个活动中的目录监听。
type watchEntry struct {
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.Mutex
	events []map[string]any
}

// FileWatcher 提供 filewatcher.* 工具后端：启动目录监听、
// 查询积累的事件、停止监听。
type FileWatcher struct {
	mu      sync.Mutex
	watches map[string]*watchEntry
}

// NewFileWatcher 创建文件监听后端。
func NewFileWatcher() *FileWatcher {
	return &FileWatcher{watches: make(map[string]*watchEntry)}
}

// Start 开始监听一个目录。同一路径重复启动是幂等的。
func (f *FileWatcher) Start(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "path is empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.watches[path]; exists {
		return map[string]any{"success": true, "path": path, "already_watching": true}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientBackend, err, "create watcher")
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, xerrors.Wrap(xerrors.CodeNotFound, err, "watch path")
	}

	entry := &watchEntry{watcher: watcher, done: make(chan struct{})}
	f.watches[path] = entry
	go entry.collect()

	logger.Named("filewatcher").Info("watching", "path", path)
	return map[string]any{"success": true, "path": path}, nil
}

// collect 把文件事件累积到内存日志中，超过上限丢弃最旧的。
func (e *watchEntry) collect() {
	for {
		select {
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			e.mu.Lock()
			e.events = append(e.events, map[string]any{
				"path": event.Name,
				"op":   event.Op.String(),
				"time": time.Now().Format(time.RFC3339),
			})
			if len(e.events) > maxEventLog {
				e.events = e.events[len(e.events)-maxEventLog:]
			}
			e.mu.Unlock()
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			logger.Named("filewatcher").Warn("watch error", "error", err.Error())
		case <-e.done:
			return
		}
	}
}

// Events 返回指定路径已积累的事件。
func (f *FileWatcher) Events(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "path is empty")
	}

	f.mu.Lock()
	entry, ok := f.watches[path]
	f.mu.Unlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("not watching %q", path))
	}

	entry.mu.Lock()
	events := make([]map[string]any, len(entry.events))
	copy(events, entry.events)
	entry.mu.Unlock()

	return map[string]any{
		"success": true,
		"path":    path,
		"events":  events,
		"count":   len(events),
	}, nil
}

// Stop 停止监听一个目录。
func (f *FileWatcher) Stop(ctx context.Context, args map[string]any) (map[string]any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "path is empty")
	}

	f.mu.Lock()
	entry, ok := f.watches[path]
	if ok {
		delete(f.watches, path)
	}
	f.mu.Unlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("not watching %q", path))
	}

	close(entry.done)
	_ = entry.watcher.Close()
	return map[string]any{"success": true, "path": path, "stopped": true}, nil
}

// Close 停止所有监听，进程退出前调用。
func (f *FileWatcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for path, entry := range f.watches {
		close(entry.done)
		_ = entry.watcher.Close()
		delete(f.watches, path)
	}
}
