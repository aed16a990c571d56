package main

import (
	"strings"
	"testing"
)

func TestWorkerHostPing(t *testing.T) {
	host := newWorkerHost()

	result, err := host.Handle("ping", nil)
	if err != nil {
		t.Fatalf("ping 不应失败: %v", err)
	}
	if result["success"] != true {
		t.Fatalf("ping 结果不符: %v", result)
	}
	backend, _ := result["backend"].(string)
	if !strings.HasPrefix(backend, "headless-") {
		t.Fatalf("后端标识不符: %q", backend)
	}
}

func TestWorkerHostDiagnostics(t *testing.T) {
	host := newWorkerHost()

	result, err := host.Handle("list_windows", nil)
	if err != nil {
		t.Fatalf("窗口枚举不应失败: %v", err)
	}
	windows, ok := result["windows"].([]any)
	if !ok || len(windows) != 0 {
		t.Fatalf("无平台栈时应返回空窗口列表: %v", result)
	}

	result, err = host.Handle("dump_tree", map[string]any{"window": "notepad"})
	if err != nil {
		t.Fatalf("控件树导出不应失败: %v", err)
	}
	tree, ok := result["tree"].([]any)
	if !ok || len(tree) != 0 {
		t.Fatalf("无平台栈时应返回空控件树: %v", result)
	}
}

func TestWorkerHostRejectsLocateRequests(t *testing.T) {
	host := newWorkerHost()

	for _, method := range []string{"click_element", "set_element_text", "read_element", "find_element"} {
		if _, err := host.Handle(method, map[string]any{"target": "Save"}); err == nil {
			t.Fatalf("%s 在无平台栈构建下应报错", method)
		}
	}

	if _, err := host.Handle("teleport", nil); err == nil {
		t.Fatalf("未知方法应报错")
	}
}
