package action

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kayas881/kayas-Assistant/internal/safety"
)

func newTestRouter() *Router {
	return NewRouter(safety.NewPolicy())
}

func TestDispatchUnknownTool(t *testing.T) {
	router := newTestRouter()

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "teleport.user",
		Args: map[string]any{"destination": "moon"},
	}, "")

	errMsg, _ := result["error"].(string)
	if errMsg != "Unknown tool: teleport.user" {
		t.Fatalf("未知工具的错误信息不符: %q", errMsg)
	}
	args, ok := result["args"].(map[string]any)
	if !ok || args["destination"] != "moon" {
		t.Fatalf("未知工具的结果应回带原始参数: %v", result["args"])
	}
}

func TestDispatchDeleteSubstitutesArchive(t *testing.T) {
	router := newTestRouter()

	var archived string
	router.Register("filesystem.archive_file", Operation{
		Required: []string{"filename"},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			archived, _ = args["filename"].(string)
			return map[string]any{"success": true, "archived": archived}, nil
		},
	})
	router.Register("filesystem.delete_file", Operation{
		Required: []string{"filename"},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			t.Fatalf("删除后端不应被调用")
			return nil, nil
		},
	})

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "filesystem.delete_file",
		Args: map[string]any{"filename": "notes.txt"},
	}, "")

	if archived != "notes.txt" {
		t.Fatalf("应改为归档 notes.txt，实际: %q", archived)
	}
	if result["substituted_for"] != "filesystem.delete_file" {
		t.Fatalf("结果应标记替代来源: %v", result)
	}
}

func TestDispatchAskModeSurfacesAlternative(t *testing.T) {
	router := NewRouter(safety.NewPolicy(safety.WithDeleteMode(safety.DeleteModeAsk)))

	router.Register("filesystem.delete_file", Operation{
		Required: []string{"filename"},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			t.Fatalf("未确认的删除不应执行")
			return nil, nil
		},
	})

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "filesystem.delete_file",
		Args: map[string]any{"filename": "report.pdf"},
	}, "")

	if result["denied"] != true || result["requires_confirmation"] != true {
		t.Fatalf("询问模式下删除应等待确认: %v", result)
	}
	alt, ok := result["alternative"].(map[string]any)
	if !ok {
		t.Fatalf("确认结果应携带归档替代方案: %v", result)
	}
	if alt["tool"] != "filesystem.archive_file" {
		t.Fatalf("替代工具错误: %v", alt)
	}
	altArgs, ok := alt["args"].(map[string]any)
	if !ok || altArgs["filename"] != "report.pdf" {
		t.Fatalf("替代方案应继承 filename 参数: %v", alt)
	}
}

func TestDispatchDeniedWithoutAlternative(t *testing.T) {
	router := newTestRouter()
	router.RegisterFunc("email.send", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		t.Fatalf("未确认的发信不应执行")
		return nil, nil
	})

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "email.send",
		Args: map[string]any{"to": "a@b.c", "body": "hi"},
	}, "")

	if result["denied"] != true {
		t.Fatalf("应记录拒绝结果: %v", result)
	}
	if result["requires_confirmation"] != true {
		t.Fatalf("应标记需要确认: %v", result)
	}
}

func TestDispatchConfirmedRiskyToolRuns(t *testing.T) {
	router := newTestRouter()

	sent := false
	router.RegisterFunc("email.send", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sent = true
		return map[string]any{"success": true}, nil
	})

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "email.send",
		Args: map[string]any{"to": "a@b.c", "confirm": true},
	}, "")

	if !sent {
		t.Fatalf("已确认的动作应执行")
	}
	if result["success"] != true {
		t.Fatalf("结果不符: %v", result)
	}
}

func TestDispatchMissingRequiredArgument(t *testing.T) {
	router := newTestRouter()
	router.Register("local.search", Operation{
		Required: []string{"query"},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"success": true}, nil
		},
	})

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "local.search",
		Args: map[string]any{},
	}, "")

	errMsg, _ := result["error"].(string)
	if !strings.Contains(errMsg, `missing required argument "query"`) {
		t.Fatalf("缺参错误信息不符: %q", errMsg)
	}
}

func TestDispatchRepairsFilenameOnce(t *testing.T) {
	router := newTestRouter()

	var calls int
	var seen []string
	router.Register("filesystem.create_file", Operation{
		Required: []string{"filename"},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			calls++
			name, _ := args["filename"].(string)
			seen = append(seen, name)
			if strings.ContainsAny(name, `<>:"/\|?*`) {
				return nil, errors.New("invalid filename")
			}
			return map[string]any{"success": true, "path": name}, nil
		},
	})

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "filesystem.create_file",
		Args: map[string]any{"filename": `my<notes>.txt`},
	}, "")

	if calls != 2 {
		t.Fatalf("应重试恰好一次，实际调用 %d 次", calls)
	}
	if seen[1] != "my_notes_.txt" {
		t.Fatalf("重试应使用净化后的文件名，实际: %q", seen[1])
	}
	if result["success"] != true {
		t.Fatalf("修复后应成功: %v", result)
	}
}

func TestDispatchRepairsURLFromGoal(t *testing.T) {
	router := newTestRouter()

	var fetched string
	var calls int
	router.Register("web.fetch", Operation{
		Required: []string{"url"},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			calls++
			fetched, _ = args["url"].(string)
			return map[string]any{"success": true}, nil
		},
	})

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "web.fetch",
		Args: map[string]any{},
	}, "please summarize https://example.com/news).")

	if calls != 1 {
		t.Fatalf("修复后应恰好调用一次后端，实际 %d 次", calls)
	}
	if fetched != "https://example.com/news" {
		t.Fatalf("修复出的 URL 不符: %q", fetched)
	}
	if result["success"] != true {
		t.Fatalf("修复后应成功: %v", result)
	}
}

func TestDispatchRetriesAtMostOnce(t *testing.T) {
	router := newTestRouter()

	var calls int
	router.Register("filesystem.create_file", Operation{
		Required: []string{"filename"},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			calls++
			return nil, errors.New("disk full")
		},
	})

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "filesystem.create_file",
		Args: map[string]any{"filename": `bad/name.txt`},
	}, "")

	if calls != 2 {
		t.Fatalf("第二次失败后不应继续重试，实际 %d 次", calls)
	}
	if result["success"] != false {
		t.Fatalf("应返回失败结果: %v", result)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	router := newTestRouter()
	router.RegisterFunc("local.search", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		panic("index corrupted")
	})

	result := router.Dispatch(context.Background(), Descriptor{
		Tool: "local.search",
		Args: map[string]any{"query": "report"},
	}, "")

	errMsg, _ := result["error"].(string)
	if !strings.Contains(errMsg, "panicked") || !strings.Contains(errMsg, "index corrupted") {
		t.Fatalf("panic 应被转换为结构化错误: %v", result)
	}
}

func TestParseActionsObjectAndArray(t *testing.T) {
	single, err := ParseActions(`{"tool": "web.fetch", "args": {"url": "https://a.b"}}`)
	if err != nil {
		t.Fatalf("解析单对象失败: %v", err)
	}
	if len(single) != 1 || single[0].Tool != "web.fetch" {
		t.Fatalf("单对象解析结果不符: %+v", single)
	}

	many, err := ParseActions(`[{"tool": "a.b"}, {"tool": "c.d", "args": {"x": 1}}]`)
	if err != nil {
		t.Fatalf("解析数组失败: %v", err)
	}
	if len(many) != 2 {
		t.Fatalf("数组解析结果不符: %+v", many)
	}
	if many[0].Args == nil {
		t.Fatalf("缺省参数表应被补全")
	}

	if _, err := ParseActions("not json"); err == nil {
		t.Fatalf("非法输入应报错")
	}
}
