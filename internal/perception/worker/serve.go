package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Host 是子进程内被托管的后端。Init 在服务循环开始前恰好调用一次，
// 受线程模型约束的初始化都放在这里。
type Host interface {
	Name() string
	Init() error
	Handle(method string, kwargs map[string]any) (map[string]any, error)
}

// Serve 运行子进程侧的服务循环：先发就绪握手，然后逐条处理请求，
// 收到 shutdown 控制消息或输入流关闭时返回。
func Serve(host Host, in io.Reader, out io.Writer) error {
	encoder := json.NewEncoder(out)

	if err := host.Init(); err != nil {
		_ = encoder.Encode(map[string]any{"ready": false, "error": err.Error()})
		return err
	}
	if err := encoder.Encode(map[string]any{"ready": true, "backend": host.Name()}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg struct {
			Cmd    string         `json:"cmd"`
			Method string         `json:"method"`
			Kwargs map[string]any `json:"kwargs"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			_ = encoder.Encode(map[string]any{"success": false, "error": "malformed request"})
			continue
		}
		if msg.Cmd == "shutdown" {
			return nil
		}

		result := handleRequest(host, msg.Method, msg.Kwargs)
		if err := encoder.Encode(result); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// handleRequest 调用后端并把结果整理成可跨进程传输的形式。
func handleRequest(host Host, method string, kwargs map[string]any) (result map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			result = map[string]any{"success": false, "error": fmt.Sprintf("backend panicked: %v", rec)}
		}
	}()

	if method == "" {
		return map[string]any{"success": false, "error": "missing method"}
	}
	raw, err := host.Handle(method, kwargs)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}
	}
	if raw == nil {
		return map[string]any{"success": true}
	}
	return sanitize(raw)
}

// sanitize 去掉无法 JSON 序列化的值（原生句柄之类），其余原样保留。
func sanitize(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if clean, ok := sanitizeValue(v); ok {
			out[k] = clean
		}
	}
	return out
}

func sanitizeValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return val, true
	case map[string]any:
		return sanitize(val), true
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if clean, ok := sanitizeValue(item); ok {
				out = append(out, clean)
			}
		}
		return out, true
	default:
		// 其余类型逐个试序列化，能过就保留。
		if _, err := json.Marshal(val); err == nil {
			return val, true
		}
		return nil, false
	}
}
