package main

import (
	"fmt"
	"runtime"

	"github.com/kayas881/kayas-Assistant/internal/perception/worker"
)

// workerHost 是感知工作子进程内托管的无障碍后端。
// 缺省构建不链接任何平台自动化栈，定位类请求会明确报告不支持，
// 父进程的感知编排器据此降级到后续层。平台适配通过替换该实现接入。
type workerHost struct{}

func newWorkerHost() worker.Host {
	return &workerHost{}
}

// Name 实现 worker.Host。
func (h *workerHost) Name() string {
	return "headless-" + runtime.GOOS
}

// Init 实现 worker.Host。无平台栈时没有线程模型要求。
func (h *workerHost) Init() error {
	return nil
}

// Handle 实现 worker.Host。
func (h *workerHost) Handle(method string, _ map[string]any) (map[string]any, error) {
	switch method {
	case "ping":
		return map[string]any{"success": true, "backend": h.Name()}, nil
	case "list_windows":
		// 诊断请求给出结构化空结果而不是报错，调用方能看出后端在线但无窗口可枚举。
		return map[string]any{
			"success": true,
			"backend": h.Name(),
			"windows": []any{},
		}, nil
	case "dump_tree":
		return map[string]any{
			"success": true,
			"backend": h.Name(),
			"tree":    []any{},
		}, nil
	case "click_element", "set_element_text", "read_element", "find_element":
		return nil, fmt.Errorf("%s: no accessibility stack linked into this build", method)
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}
