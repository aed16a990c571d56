package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoWorkerScript 模拟一个合作的工作进程：上报就绪后对每个请求
// 回一条成功响应，收到 shutdown 即退出。
const echoWorkerScript = `
echo '{"ready": true, "backend": "fake-uia"}'
while read line; do
  case "$line" in
    *shutdown*) exit 0 ;;
    *) echo '{"success": true, "echo": true}' ;;
  esac
done
`

func spawnFake(t *testing.T, script string, cfg Config) *Session {
	t.Helper()
	cfg.Command = "sh"
	cfg.Args = []string{"-c", script}
	session, err := Spawn(cfg)
	require.NoError(t, err)
	return session
}

func TestSpawnHandshakeAndInvoke(t *testing.T) {
	session := spawnFake(t, echoWorkerScript, Config{})
	defer session.Shutdown()

	assert.Equal(t, "fake-uia", session.Backend())
	assert.True(t, session.Available())

	result, err := session.Invoke(context.Background(), "find_element", map[string]any{"target": "Save"})
	require.NoError(t, err)
	assert.Equal(t, true, result["echo"])
}

func TestShutdownTerminatesChild(t *testing.T) {
	session := spawnFake(t, echoWorkerScript, Config{ShutdownTimeout: 2 * time.Second})

	require.NoError(t, session.Shutdown())
	assert.False(t, session.Available())

	// 进程必须确实退出。
	require.NotNil(t, session.cmd.ProcessState)
	assert.True(t, session.cmd.ProcessState.Exited() || session.cmd.ProcessState.Success())
}

func TestShutdownKillsStubbornChild(t *testing.T) {
	// 不理会 shutdown 的子进程在超时后被强制结束。
	script := `
echo '{"ready": true, "backend": "stubborn"}'
sleep 60
`
	session := spawnFake(t, script, Config{ShutdownTimeout: 100 * time.Millisecond})

	start := time.Now()
	require.NoError(t, session.Shutdown())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, session.Available())
}

func TestSpawnHandshakeFailure(t *testing.T) {
	_, err := Spawn(Config{
		Command: "sh",
		Args:    []string{"-c", `echo '{"ready": false, "error": "display server unavailable"}'`},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display server unavailable")
}

func TestSpawnHandshakeTimeout(t *testing.T) {
	_, err := Spawn(Config{
		Command:        "sh",
		Args:           []string{"-c", "sleep 60"},
		StartupTimeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestInvokeAfterDeath(t *testing.T) {
	session := spawnFake(t, echoWorkerScript, Config{})
	require.NoError(t, session.Shutdown())

	_, err := session.Invoke(context.Background(), "anything", nil)
	require.Error(t, err)
}

func TestInvokeTimeoutMarksSessionDead(t *testing.T) {
	// 子进程就绪后不再响应任何请求。
	script := `
echo '{"ready": true, "backend": "mute"}'
sleep 60
`
	session := spawnFake(t, script, Config{
		RequestTimeout:  100 * time.Millisecond,
		ShutdownTimeout: 100 * time.Millisecond,
	})
	defer session.Shutdown()

	_, err := session.Invoke(context.Background(), "find_element", nil)
	require.Error(t, err)
	assert.False(t, session.Available())
}

func TestReadLoopExitsAfterLateFlood(t *testing.T) {
	// 子进程在请求超时后一口气补发多条迟到响应。
	script := `
echo '{"ready": true, "backend": "chatty"}'
read line
sleep 1
for i in 1 2 3 4 5; do echo '{"success": true, "late": true}'; done
sleep 60
`
	session := spawnFake(t, script, Config{
		RequestTimeout:  100 * time.Millisecond,
		ShutdownTimeout: 100 * time.Millisecond,
	})

	_, err := session.Invoke(context.Background(), "find_element", nil)
	require.Error(t, err)
	assert.False(t, session.Available())

	// 等迟到的响应灌进管道。
	time.Sleep(1500 * time.Millisecond)

	require.NoError(t, session.Shutdown())
	select {
	case <-session.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("会话关闭后读取循环仍未退出")
	}
}

// fakeHost 是子进程侧服务循环的测试后端。
type fakeHost struct {
	name    string
	initErr error
	handle  func(method string, kwargs map[string]any) (map[string]any, error)
}

func (h *fakeHost) Name() string { return h.name }
func (h *fakeHost) Init() error  { return h.initErr }
func (h *fakeHost) Handle(method string, kwargs map[string]any) (map[string]any, error) {
	return h.handle(method, kwargs)
}

func TestServeHandshakeThenShutdown(t *testing.T) {
	in := strings.NewReader(`{"method": "ping", "kwargs": {}}` + "\n" + `{"cmd": "shutdown"}` + "\n")
	var out bytes.Buffer

	host := &fakeHost{
		name: "fake",
		handle: func(method string, kwargs map[string]any) (map[string]any, error) {
			return map[string]any{"success": true, "method": method}, nil
		},
	}
	require.NoError(t, Serve(host, in, &out))

	lines := nonEmptyLines(out.String())
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"ready":true`)
	assert.Contains(t, lines[1], `"method":"ping"`)
}

func TestServeInitFailure(t *testing.T) {
	var out bytes.Buffer
	host := &fakeHost{name: "fake", initErr: errors.New("COM init failed")}

	require.Error(t, Serve(host, strings.NewReader(""), &out))
	assert.Contains(t, out.String(), `"ready":false`)
	assert.Contains(t, out.String(), "COM init failed")
}

func TestServeSanitizesNonSerializableValues(t *testing.T) {
	in := strings.NewReader(`{"method": "dump", "kwargs": {}}` + "\n")
	var out bytes.Buffer

	host := &fakeHost{
		name: "fake",
		handle: func(method string, kwargs map[string]any) (map[string]any, error) {
			return map[string]any{
				"success": true,
				"title":   "Editor",
				"handle":  make(chan int), // 无法序列化，必须被剔除
				"child":   map[string]any{"ok": true, "conn": func() {}},
			}, nil
		},
	}
	require.NoError(t, Serve(host, in, &out))

	response := nonEmptyLines(out.String())[1]
	assert.Contains(t, response, `"title":"Editor"`)
	assert.NotContains(t, response, "handle")
	assert.Contains(t, response, `"ok":true`)
	assert.NotContains(t, response, "conn")
}

func TestServeRecoversBackendPanic(t *testing.T) {
	in := strings.NewReader(`{"method": "explode", "kwargs": {}}` + "\n")
	var out bytes.Buffer

	host := &fakeHost{
		name: "fake",
		handle: func(method string, kwargs map[string]any) (map[string]any, error) {
			panic("native pointer gone")
		},
	}
	require.NoError(t, Serve(host, in, &out))
	assert.Contains(t, out.String(), "backend panicked")
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
